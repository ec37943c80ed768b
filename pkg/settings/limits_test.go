package settings

import "testing"

func TestInInterval(t *testing.T) {
	limit := Limit{Min: 0, Max: 10}

	tests := []struct {
		name string
		val  float64
		typ  IntervalType
		want bool
	}{
		{name: "interior closed", val: 5, typ: IntervalClosed, want: true},
		{name: "min edge closed", val: 0, typ: IntervalClosed, want: true},
		{name: "max edge closed", val: 10, typ: IntervalClosed, want: true},
		{name: "min edge open", val: 0, typ: IntervalOpen, want: false},
		{name: "max edge open", val: 10, typ: IntervalOpen, want: false},
		{name: "min edge left open", val: 0, typ: IntervalLeftOpen, want: false},
		{name: "max edge left open", val: 10, typ: IntervalLeftOpen, want: true},
		{name: "min edge right open", val: 0, typ: IntervalRightOpen, want: true},
		{name: "max edge right open", val: 10, typ: IntervalRightOpen, want: false},
		{name: "below", val: -0.1, typ: IntervalClosed, want: false},
		{name: "above", val: 10.1, typ: IntervalClosed, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InInterval(tt.val, limit, tt.typ); got != tt.want {
				t.Errorf("InInterval(%v, %v, %v) = %v, want %v", tt.val, limit, tt.typ, got, tt.want)
			}
		})
	}
}

func TestWithinTolerance(t *testing.T) {
	tests := []struct {
		name     string
		setpoint float64
		live     float64
		tol      float64
		want     bool
	}{
		{name: "exact", setpoint: 30, live: 30, tol: 0.1, want: true},
		{name: "inside high", setpoint: 30, live: 30.05, tol: 0.1, want: true},
		{name: "inside low", setpoint: 30, live: 29.95, tol: 0.1, want: true},
		{name: "boundary", setpoint: 30, live: 30.1, tol: 0.1, want: true},
		{name: "outside high", setpoint: 30, live: 30.2, tol: 0.1, want: false},
		{name: "outside low", setpoint: 30, live: 29.8, tol: 0.1, want: false},
		{name: "zero tolerance exact", setpoint: 1, live: 1, tol: 0, want: true},
		{name: "zero tolerance miss", setpoint: 1, live: 1.0001, tol: 0, want: false},
		{name: "negative setpoint", setpoint: -5, live: -5.01, tol: 0.05, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WithinTolerance(tt.setpoint, tt.live, tt.tol); got != tt.want {
				t.Errorf("WithinTolerance(%v, %v, %v) = %v, want %v", tt.setpoint, tt.live, tt.tol, got, tt.want)
			}
		})
	}
}

// Widening the tolerance never turns an accepted readback into a rejected one.
func TestToleranceMonotonic(t *testing.T) {
	setpoint, live := 2.0, 2.3
	accepted := false
	for _, tol := range []float64{0.1, 0.2, 0.3, 0.4, 0.5} {
		got := WithinTolerance(setpoint, live, tol)
		if accepted && !got {
			t.Fatalf("tolerance %v rejected a readback accepted at a tighter tolerance", tol)
		}
		if got {
			accepted = true
		}
	}
	if !accepted {
		t.Fatal("expected at least one tolerance to accept")
	}
}
