package basestate

import (
	"errors"
	"testing"
)

func TestCanHandOff(t *testing.T) {
	cases := []struct {
		from, to State
		wantErr  bool
	}{
		{None, Faulty, false},
		{Faulty, FaultyStopped, false},
		{Faulty, None, false},
		{FaultyStopped, None, false},
		{FaultyStopped, Faulty, true},
		{None, None, false},
	}
	for _, c := range cases {
		err := CanHandOff(c.from, c.to)
		if c.wantErr && !errors.Is(err, ErrBackwardTransition) {
			t.Errorf("CanHandOff(%v, %v) = %v, want ErrBackwardTransition", c.from, c.to, err)
		}
		if !c.wantErr && err != nil {
			t.Errorf("CanHandOff(%v, %v) = %v, want nil", c.from, c.to, err)
		}
	}
}

func TestString(t *testing.T) {
	if None.String() != "NONE" || Faulty.String() != "FAULTY" || FaultyStopped.String() != "FAULTY_STOPPED" {
		t.Fatalf("unexpected State.String() output")
	}
}
