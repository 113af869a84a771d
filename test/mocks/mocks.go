package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/avatarctic/ratelimit-planes/internal/core/domain/audit"
	"github.com/avatarctic/ratelimit-planes/internal/core/domain/policy"
	"github.com/avatarctic/ratelimit-planes/internal/core/ports"
)

// PolicySourceMock is a lightweight mock for PolicySource
type PolicySourceMock struct {
	FetchPoliciesFn func(ctx context.Context) ([]policy.Policy, error)
	EndpointValue   string

	mu    sync.Mutex
	calls int
}

func (m *PolicySourceMock) FetchPolicies(ctx context.Context) ([]policy.Policy, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.FetchPoliciesFn != nil {
		return m.FetchPoliciesFn(ctx)
	}
	return nil, nil
}
func (m *PolicySourceMock) Endpoint() string {
	if m.EndpointValue != "" {
		return m.EndpointValue
	}
	return "http://control-plane.test"
}

// Calls returns how many fetches were issued.
func (m *PolicySourceMock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// PolicyRepositoryMock is a lightweight mock for PolicyRepository
type PolicyRepositoryMock struct {
	CreateFn       func(ctx context.Context, p *policy.Policy) error
	SaveFn         func(ctx context.Context, p *policy.Policy) error
	GetByTenantFn  func(ctx context.Context, tenantID string) (*policy.Policy, error)
	GetVersionFn   func(ctx context.Context, tenantID string, version int64) (*policy.Policy, error)
	ListVersionsFn func(ctx context.Context, tenantID string) ([]*policy.Policy, error)
	ListFn         func(ctx context.Context) ([]*policy.Policy, error)
	CountFn        func(ctx context.Context) (int, error)
}

func (m *PolicyRepositoryMock) Create(ctx context.Context, p *policy.Policy) error {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, p)
	}
	return nil
}
func (m *PolicyRepositoryMock) Save(ctx context.Context, p *policy.Policy) error {
	if m.SaveFn != nil {
		return m.SaveFn(ctx, p)
	}
	return nil
}
func (m *PolicyRepositoryMock) GetByTenant(ctx context.Context, tenantID string) (*policy.Policy, error) {
	if m.GetByTenantFn != nil {
		return m.GetByTenantFn(ctx, tenantID)
	}
	return nil, fmt.Errorf("tenant %s: %w", tenantID, policy.ErrNotFound)
}
func (m *PolicyRepositoryMock) GetVersion(ctx context.Context, tenantID string, version int64) (*policy.Policy, error) {
	if m.GetVersionFn != nil {
		return m.GetVersionFn(ctx, tenantID, version)
	}
	return nil, fmt.Errorf("tenant %s version %d: %w", tenantID, version, policy.ErrVersionNotFound)
}
func (m *PolicyRepositoryMock) ListVersions(ctx context.Context, tenantID string) ([]*policy.Policy, error) {
	if m.ListVersionsFn != nil {
		return m.ListVersionsFn(ctx, tenantID)
	}
	return nil, nil
}
func (m *PolicyRepositoryMock) List(ctx context.Context) ([]*policy.Policy, error) {
	if m.ListFn != nil {
		return m.ListFn(ctx)
	}
	return nil, nil
}
func (m *PolicyRepositoryMock) Count(ctx context.Context) (int, error) {
	if m.CountFn != nil {
		return m.CountFn(ctx)
	}
	return 0, nil
}

// AuditServiceMock is a lightweight mock for AuditService
type AuditServiceMock struct {
	LogActionFn   func(ctx context.Context, req *audit.CreateAuditEntryRequest) error
	GetAuditLogFn func(ctx context.Context, filter *audit.AuditFilter) ([]*audit.AuditEntry, int, error)
}

func (m *AuditServiceMock) LogAction(ctx context.Context, req *audit.CreateAuditEntryRequest) error {
	if m.LogActionFn != nil {
		return m.LogActionFn(ctx, req)
	}
	return nil
}
func (m *AuditServiceMock) GetAuditLog(ctx context.Context, filter *audit.AuditFilter) ([]*audit.AuditEntry, int, error) {
	if m.GetAuditLogFn != nil {
		return m.GetAuditLogFn(ctx, filter)
	}
	return nil, 0, nil
}

// PolicyServiceMock is a lightweight mock for PolicyService
type PolicyServiceMock struct {
	CreatePolicyFn     func(ctx context.Context, req *policy.CreatePolicyRequest) (*policy.Policy, error)
	UpdatePolicyFn     func(ctx context.Context, tenantID string, req *policy.UpdatePolicyRequest) (*policy.Policy, error)
	RollbackPolicyFn   func(ctx context.Context, tenantID string, req *policy.RollbackPolicyRequest) (*policy.Policy, error)
	GetPolicyFn        func(ctx context.Context, tenantID string) (*policy.Policy, error)
	GetPolicyVersionFn func(ctx context.Context, tenantID string, version int64) (*policy.Policy, error)
	ListVersionsFn     func(ctx context.Context, tenantID string) ([]*policy.Policy, error)
	ListPoliciesFn     func(ctx context.Context) ([]*policy.Policy, error)
	CountPoliciesFn    func(ctx context.Context) (int, error)
}

func (m *PolicyServiceMock) CreatePolicy(ctx context.Context, req *policy.CreatePolicyRequest) (*policy.Policy, error) {
	if m.CreatePolicyFn != nil {
		return m.CreatePolicyFn(ctx, req)
	}
	return nil, fmt.Errorf("not implemented")
}
func (m *PolicyServiceMock) UpdatePolicy(ctx context.Context, tenantID string, req *policy.UpdatePolicyRequest) (*policy.Policy, error) {
	if m.UpdatePolicyFn != nil {
		return m.UpdatePolicyFn(ctx, tenantID, req)
	}
	return nil, fmt.Errorf("not implemented")
}
func (m *PolicyServiceMock) RollbackPolicy(ctx context.Context, tenantID string, req *policy.RollbackPolicyRequest) (*policy.Policy, error) {
	if m.RollbackPolicyFn != nil {
		return m.RollbackPolicyFn(ctx, tenantID, req)
	}
	return nil, fmt.Errorf("not implemented")
}
func (m *PolicyServiceMock) GetPolicy(ctx context.Context, tenantID string) (*policy.Policy, error) {
	if m.GetPolicyFn != nil {
		return m.GetPolicyFn(ctx, tenantID)
	}
	return nil, policy.ErrNotFound
}
func (m *PolicyServiceMock) GetPolicyVersion(ctx context.Context, tenantID string, version int64) (*policy.Policy, error) {
	if m.GetPolicyVersionFn != nil {
		return m.GetPolicyVersionFn(ctx, tenantID, version)
	}
	return nil, policy.ErrVersionNotFound
}
func (m *PolicyServiceMock) ListVersions(ctx context.Context, tenantID string) ([]*policy.Policy, error) {
	if m.ListVersionsFn != nil {
		return m.ListVersionsFn(ctx, tenantID)
	}
	return nil, policy.ErrNotFound
}
func (m *PolicyServiceMock) ListPolicies(ctx context.Context) ([]*policy.Policy, error) {
	if m.ListPoliciesFn != nil {
		return m.ListPoliciesFn(ctx)
	}
	return []*policy.Policy{}, nil
}
func (m *PolicyServiceMock) CountPolicies(ctx context.Context) (int, error) {
	if m.CountPoliciesFn != nil {
		return m.CountPoliciesFn(ctx)
	}
	return 0, nil
}

// PolicyPusherMock is a lightweight mock for PolicyPusher
type PolicyPusherMock struct {
	PushFn func(ctx context.Context, p *policy.Policy) error

	mu     sync.Mutex
	Pushed []policy.Policy
}

func (m *PolicyPusherMock) Push(ctx context.Context, p *policy.Policy) error {
	m.mu.Lock()
	m.Pushed = append(m.Pushed, *p)
	m.mu.Unlock()
	if m.PushFn != nil {
		return m.PushFn(ctx, p)
	}
	return nil
}

// PushedPolicies returns a copy of every policy handed to Push.
func (m *PolicyPusherMock) PushedPolicies() []policy.Policy {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]policy.Policy(nil), m.Pushed...)
}

// PolicyEventsMock records announced policy changes.
type PolicyEventsMock struct {
	mu     sync.Mutex
	Events []policy.ChangeEvent
}

func (m *PolicyEventsMock) PolicyChanged(evt policy.ChangeEvent) {
	m.mu.Lock()
	m.Events = append(m.Events, evt)
	m.mu.Unlock()
}

// Snapshot returns a copy of the recorded events.
func (m *PolicyEventsMock) Snapshot() []policy.ChangeEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]policy.ChangeEvent(nil), m.Events...)
}

// AdmissionServiceMock is a lightweight mock for AdmissionService
type AdmissionServiceMock struct {
	HandleFn       func(ctx context.Context, tenantID, requestID string) (*ports.AdmissionResult, error)
	UpdateConfigFn func(ctx context.Context, p policy.Policy, source string) error
	PolicyCountFn  func() int
	PoliciesFn     func() []policy.Policy
}

func (m *AdmissionServiceMock) Handle(ctx context.Context, tenantID, requestID string) (*ports.AdmissionResult, error) {
	if m.HandleFn != nil {
		return m.HandleFn(ctx, tenantID, requestID)
	}
	return &ports.AdmissionResult{TenantID: tenantID, RequestID: requestID, Allowed: true}, nil
}
func (m *AdmissionServiceMock) UpdateConfig(ctx context.Context, p policy.Policy, source string) error {
	if m.UpdateConfigFn != nil {
		return m.UpdateConfigFn(ctx, p, source)
	}
	return nil
}
func (m *AdmissionServiceMock) PolicyCount() int {
	if m.PolicyCountFn != nil {
		return m.PolicyCountFn()
	}
	return 0
}
func (m *AdmissionServiceMock) Policies() []policy.Policy {
	if m.PoliciesFn != nil {
		return m.PoliciesFn()
	}
	return nil
}

// PolicySyncerMock is a lightweight mock for PolicySyncer
type PolicySyncerMock struct {
	RunFn     func(ctx context.Context) error
	SyncNowFn func(ctx context.Context) (ports.SyncResult, error)
	StatusFn  func() ports.SyncStatus
}

func (m *PolicySyncerMock) Run(ctx context.Context) error {
	if m.RunFn != nil {
		return m.RunFn(ctx)
	}
	<-ctx.Done()
	return nil
}
func (m *PolicySyncerMock) SyncNow(ctx context.Context) (ports.SyncResult, error) {
	if m.SyncNowFn != nil {
		return m.SyncNowFn(ctx)
	}
	return ports.SyncResult{}, nil
}
func (m *PolicySyncerMock) Status() ports.SyncStatus {
	if m.StatusFn != nil {
		return m.StatusFn()
	}
	return ports.SyncStatus{State: "idle"}
}

// MetricsRecorderMock counts observations in memory.
type MetricsRecorderMock struct {
	mu        sync.Mutex
	Decisions map[bool]int
	Updates   map[string]int
	Syncs     map[string]int
	Pushes    map[string]int
}

func NewMetricsRecorderMock() *MetricsRecorderMock {
	return &MetricsRecorderMock{
		Decisions: map[bool]int{},
		Updates:   map[string]int{},
		Syncs:     map[string]int{},
		Pushes:    map[string]int{},
	}
}

func (m *MetricsRecorderMock) ObserveDecision(allowed bool) {
	m.mu.Lock()
	m.Decisions[allowed]++
	m.mu.Unlock()
}
func (m *MetricsRecorderMock) ObservePolicyUpdate(source string, applied bool) {
	m.mu.Lock()
	m.Updates[fmt.Sprintf("%s:%t", source, applied)]++
	m.mu.Unlock()
}
func (m *MetricsRecorderMock) ObserveSync(outcome string, _ time.Duration) {
	m.mu.Lock()
	m.Syncs[outcome]++
	m.mu.Unlock()
}
func (m *MetricsRecorderMock) ObservePush(outcome string) {
	m.mu.Lock()
	m.Pushes[outcome]++
	m.mu.Unlock()
}

// SyncCount returns the number of syncs observed with outcome.
func (m *MetricsRecorderMock) SyncCount(outcome string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Syncs[outcome]
}

// HealthCheckerMock is a lightweight mock for HealthChecker
type HealthCheckerMock struct {
	NameValue     string
	CheckFn       func(ctx context.Context) error
	OptionalValue bool
}

func (m *HealthCheckerMock) Name() string { return m.NameValue }
func (m *HealthCheckerMock) Check(ctx context.Context) error {
	if m.CheckFn != nil {
		return m.CheckFn(ctx)
	}
	return nil
}
func (m *HealthCheckerMock) Optional() bool { return m.OptionalValue }
