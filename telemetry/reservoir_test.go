package telemetry

import (
	"testing"
	"time"
)

func TestReservoir_CurrentRPS(t *testing.T) {
	r := NewReservoir()
	now := time.Now()

	for i := 0; i < 3; i++ {
		r.Record(10, now.Add(-2*time.Second)) // outside the 1s window
	}
	for i := 0; i < 5; i++ {
		r.Record(10, now.Add(-500*time.Millisecond))
	}

	rps := r.CurrentRPS(now)
	if rps != 5 {
		t.Errorf("CurrentRPS = %v, want 5", rps)
	}
}

func TestReservoir_EmptyIsZero(t *testing.T) {
	r := NewReservoir()
	if rps := r.CurrentRPS(time.Now()); rps != 0 {
		t.Errorf("CurrentRPS on empty reservoir = %v, want 0", rps)
	}
}

func TestReservoir_WrapsAtCapacity(t *testing.T) {
	r := NewReservoir()
	now := time.Now()

	// Fill well past capacity with old entries, then a handful of recent ones.
	for i := 0; i < ringCapacity+10; i++ {
		r.Record(5, now.Add(-10*time.Second))
	}
	for i := 0; i < 4; i++ {
		r.Record(5, now)
	}

	rps := r.CurrentRPS(now)
	if rps != 4 {
		t.Errorf("CurrentRPS after wrap = %v, want 4", rps)
	}
}

func TestReservoir_EmbedsHistogram(t *testing.T) {
	r := NewReservoir()
	r.Record(42, time.Now())

	if r.Count() != 1 {
		t.Errorf("Count() = %d, want 1", r.Count())
	}
	if r.Mean() != 42 {
		t.Errorf("Mean() = %v, want 42", r.Mean())
	}
}
