package ports

import "time"

// MetricsRecorder receives domain events worth counting. A nil recorder is valid
// wherever one is accepted.
type MetricsRecorder interface {
	ObserveDecision(allowed bool)
	ObservePolicyUpdate(source string, applied bool)
	ObserveSync(outcome string, duration time.Duration)
	ObservePush(outcome string)
}
