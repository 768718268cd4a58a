package metrics

import "time"

// Metric names emitted by the verifier.
const (
	VerificationsTotal  = "verifications"
	VerificationLatency = "verify"
	RechecksTotal       = "rechecks"
)

// Recorder is implemented by every metrics backend. Labels other than network and outcome are ignored.
type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}
