package ports

import "context"

// HealthChecker abstracts a dependency check used by /health.
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) error
}

// OptionalDependency is implemented by checkers whose failure degrades the report
// without turning the node unhealthy (e.g. the push channel on a data plane).
type OptionalDependency interface {
	Optional() bool
}
