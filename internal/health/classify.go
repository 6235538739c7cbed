package health

import "time"

// Classification is the overall system health verdict.
type Classification string

const (
	Normal   Classification = "normal"
	Degraded Classification = "degraded"
	Critical Classification = "critical"
)

// Default classification thresholds: failing-check counts at which the
// system is considered degraded or critical.
const (
	DefaultDegradedMin = 1
	DefaultCriticalMin = 3
)

// Snapshot is one observation of system health.
type Snapshot struct {
	Timestamp      time.Time      `json:"timestamp"`
	Checks         []CheckResult  `json:"checks"`
	Classification Classification `json:"classification"`
}

// Failing returns the names of checks reporting fail.
func (s *Snapshot) Failing() []string {
	var out []string
	for _, c := range s.Checks {
		if c.Status == StatusFail {
			out = append(out, c.Name)
		}
	}
	return out
}

// Classify maps a failing-check count to a classification. Non-positive
// thresholds select the defaults; classification is deterministic for a
// given set of results.
func Classify(results []CheckResult, degradedMin, criticalMin int) Classification {
	if degradedMin <= 0 {
		degradedMin = DefaultDegradedMin
	}
	if criticalMin <= 0 {
		criticalMin = DefaultCriticalMin
	}

	failing := 0
	for _, r := range results {
		if r.Status == StatusFail {
			failing++
		}
	}

	switch {
	case failing >= criticalMin:
		return Critical
	case failing >= degradedMin:
		return Degraded
	default:
		return Normal
	}
}
