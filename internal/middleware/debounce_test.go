package middleware

import (
	"testing"
	"time"
)

func TestDebouncer(t *testing.T) {
	d := NewDebouncer(300 * time.Millisecond)
	now := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	if !d.Allow("living") {
		t.Fatal("first press must fire")
	}

	now = now.Add(100 * time.Millisecond)
	if d.Allow("living") {
		t.Error("press inside the window must be dropped")
	}
	if !d.Allow("kitchen") {
		t.Error("keys are independent")
	}

	// The dropped press restarted the quiet period
	now = now.Add(250 * time.Millisecond)
	if d.Allow("living") {
		t.Error("burst still active")
	}

	now = now.Add(300 * time.Millisecond)
	if !d.Allow("living") {
		t.Error("press after a quiet window must fire")
	}

	now = now.Add(time.Millisecond)
	d.Forget("living")
	if !d.Allow("living") {
		t.Error("forgotten key fires again")
	}
}

func TestDebouncer_Disabled(t *testing.T) {
	var nilDebouncer *Debouncer
	if !nilDebouncer.Allow("x") {
		t.Error("nil debouncer lets everything through")
	}

	d := NewDebouncer(0)
	for i := 0; i < 3; i++ {
		if !d.Allow("x") {
			t.Fatalf("press %d dropped with zero window", i)
		}
	}
}
