package results

// EarlyExitPredicate is a disjunction over the configured early-exit axes
// (spec §4.5). Any axis firing trips the predicate; zero-value axes
// (nil/empty) never fire.
type EarlyExitPredicate struct {
	// ErrorRateThreshold fires when failed/(successful+failed) >= *ErrorRateThreshold
	// and at least one result has been recorded. nil disables this axis.
	ErrorRateThreshold *float64
	// ErrorCountThreshold fires when failed >= *ErrorCountThreshold. nil
	// disables this axis.
	ErrorCountThreshold *int64
	// ErrorStatusCodes fires when the status counter for any listed code is
	// >= 1. Empty disables this axis.
	ErrorStatusCodes map[int]struct{}
}

// Evaluate reports whether the predicate trips given the current global
// counters and status-code tally.
func (p *EarlyExitPredicate) Evaluate(successful, failed int64, statusCounters map[int]int64) bool {
	if p == nil {
		return false
	}

	if p.ErrorRateThreshold != nil {
		total := successful + failed
		if total >= 1 && float64(failed)/float64(total) >= *p.ErrorRateThreshold {
			return true
		}
	}

	if p.ErrorCountThreshold != nil && failed >= *p.ErrorCountThreshold {
		return true
	}

	for code := range p.ErrorStatusCodes {
		if statusCounters[code] >= 1 {
			return true
		}
	}

	return false
}

// Enabled reports whether any axis of the predicate is configured.
func (p *EarlyExitPredicate) Enabled() bool {
	if p == nil {
		return false
	}
	return p.ErrorRateThreshold != nil || p.ErrorCountThreshold != nil || len(p.ErrorStatusCodes) > 0
}
