package middleware

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/avatarctic/ratelimit-planes/internal/infrastructure/auth"
)

// MiddlewareCollection holds all middleware instances
type MiddlewareCollection struct {
	InternalAuth *InternalAuthMiddleware
	Logging      *LoggingMiddleware
	Metrics      *MetricsMiddleware
}

func NewMiddlewareCollection(
	tokens *auth.InternalTokens,
	logger *logrus.Logger,
	requestsTotal *prometheus.CounterVec,
	requestDuration *prometheus.HistogramVec,
) *MiddlewareCollection {
	return &MiddlewareCollection{
		InternalAuth: NewInternalAuthMiddleware(tokens, logger),
		Logging:      NewLoggingMiddleware(logger),
		Metrics:      NewMetricsMiddleware(requestsTotal, requestDuration),
	}
}
