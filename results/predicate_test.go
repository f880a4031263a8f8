package results

import "testing"

func f64(v float64) *float64 { return &v }
func i64(v int64) *int64     { return &v }

func TestEarlyExitPredicate_ErrorRate(t *testing.T) {
	p := &EarlyExitPredicate{ErrorRateThreshold: f64(0.5)}

	if p.Evaluate(8, 2, nil) {
		t.Error("20% failure rate should not trip a 50% threshold")
	}
	if !p.Evaluate(5, 5, nil) {
		t.Error("50% failure rate should trip a 50% threshold")
	}
	if p.Evaluate(0, 0, nil) {
		t.Error("no results yet should never trip")
	}
}

func TestEarlyExitPredicate_ErrorCount(t *testing.T) {
	p := &EarlyExitPredicate{ErrorCountThreshold: i64(3)}

	if p.Evaluate(100, 2, nil) {
		t.Error("2 failures should not trip a threshold of 3")
	}
	if !p.Evaluate(100, 3, nil) {
		t.Error("3 failures should trip a threshold of 3")
	}
}

func TestEarlyExitPredicate_StatusCodes(t *testing.T) {
	p := &EarlyExitPredicate{ErrorStatusCodes: map[int]struct{}{503: {}}}

	if p.Evaluate(10, 0, map[int]int64{200: 10}) {
		t.Error("no 503s seen should not trip")
	}
	if !p.Evaluate(10, 1, map[int]int64{200: 10, 503: 1}) {
		t.Error("a single 503 should trip")
	}
}

func TestEarlyExitPredicate_Disjunction(t *testing.T) {
	p := &EarlyExitPredicate{
		ErrorRateThreshold: f64(0.9), // not met
		ErrorCountThreshold: i64(1),  // met
	}
	if !p.Evaluate(100, 1, nil) {
		t.Error("predicate should trip if any axis fires")
	}
}

func TestEarlyExitPredicate_NilDisabled(t *testing.T) {
	var p *EarlyExitPredicate
	if p.Evaluate(0, 1000, map[int]int64{500: 1000}) {
		t.Error("nil predicate should never trip")
	}
	if p.Enabled() {
		t.Error("nil predicate should report disabled")
	}
}

func TestEarlyExitPredicate_EmptyEnabled(t *testing.T) {
	p := &EarlyExitPredicate{}
	if p.Enabled() {
		t.Error("predicate with no axes configured should report disabled")
	}
}
