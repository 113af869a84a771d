package httpserver

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/avatarctic/ratelimit-planes/configs"
	"github.com/avatarctic/ratelimit-planes/internal/core/ports"
	"github.com/avatarctic/ratelimit-planes/internal/infrastructure/auth"
	customMiddleware "github.com/avatarctic/ratelimit-planes/internal/infrastructure/httpserver/middleware"
	"github.com/avatarctic/ratelimit-planes/internal/infrastructure/metrics"
)

// Role selects which route table a Server exposes.
type Role string

const (
	RoleDataPlane    Role = "data-plane"
	RoleControlPlane Role = "control-plane"
)

// DataPlaneDeps are the collaborators of a data-plane server.
type DataPlaneDeps struct {
	Admission       ports.AdmissionService
	Syncer          ports.PolicySyncer
	ControlPlaneURL string
	Strategy        string
	Tokens          *auth.InternalTokens
	Metrics         *metrics.Recorder
	Gatherer        prometheus.Gatherer
	HealthCheckers  []ports.HealthChecker
}

// ControlPlaneDeps are the collaborators of a control-plane server.
type ControlPlaneDeps struct {
	PolicyService  ports.PolicyService
	AuditService   ports.AuditService
	Metrics        *metrics.Recorder
	Gatherer       prometheus.Gatherer
	HealthCheckers []ports.HealthChecker
}

type Server struct {
	echo   *echo.Echo
	role   Role
	config *configs.ServerConfig
	logger *logrus.Logger

	// data plane
	admission       ports.AdmissionService
	syncer          ports.PolicySyncer
	controlPlaneURL string
	strategy        string

	// control plane
	policySvc ports.PolicyService
	auditSvc  ports.AuditService

	gatherer       prometheus.Gatherer
	middleware     *customMiddleware.MiddlewareCollection
	healthCheckers []ports.HealthChecker
}

func NewDataPlaneServer(serverConfig *configs.ServerConfig, logger *logrus.Logger, deps DataPlaneDeps) *Server {
	s := newServer(RoleDataPlane, serverConfig, logger, deps.Tokens, deps.Metrics, deps.Gatherer, deps.HealthCheckers)
	s.admission = deps.Admission
	s.syncer = deps.Syncer
	s.controlPlaneURL = deps.ControlPlaneURL
	s.strategy = deps.Strategy

	s.setupMiddleware()
	s.setupDataPlaneRoutes()
	return s
}

func NewControlPlaneServer(serverConfig *configs.ServerConfig, logger *logrus.Logger, deps ControlPlaneDeps) *Server {
	s := newServer(RoleControlPlane, serverConfig, logger, nil, deps.Metrics, deps.Gatherer, deps.HealthCheckers)
	s.policySvc = deps.PolicyService
	s.auditSvc = deps.AuditService

	s.setupMiddleware()
	s.setupControlPlaneRoutes()
	return s
}

func newServer(role Role, serverConfig *configs.ServerConfig, logger *logrus.Logger, tokens *auth.InternalTokens, rec *metrics.Recorder, gatherer prometheus.Gatherer, checkers []ports.HealthChecker) *Server {
	if serverConfig == nil {
		serverConfig = &configs.ServerConfig{}
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	var requestsTotal *prometheus.CounterVec
	var requestDuration *prometheus.HistogramVec
	if rec != nil {
		requestsTotal = rec.RequestsTotal()
		requestDuration = rec.RequestDuration()
	}

	return &Server{
		echo:           e,
		role:           role,
		config:         serverConfig,
		logger:         logger,
		gatherer:       gatherer,
		healthCheckers: checkers,
		middleware:     customMiddleware.NewMiddlewareCollection(tokens, logger, requestsTotal, requestDuration),
	}
}
