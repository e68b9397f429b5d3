package bitarray

import "testing"

func TestSetGetClear(t *testing.T) {
	b := New(100)
	if b.Capacity() != 100 {
		t.Fatalf("Capacity() = %d, want 100", b.Capacity())
	}
	if b.Get(42) {
		t.Fatalf("bit 42 should start clear")
	}
	b.Set(42)
	if !b.Get(42) {
		t.Fatalf("bit 42 should be set")
	}
	b.Clear(42)
	if b.Get(42) {
		t.Fatalf("bit 42 should be clear again")
	}
}

func TestSetRange(t *testing.T) {
	b := New(10)
	b.SetRange(2, 5)
	for i := uint64(0); i < 10; i++ {
		want := i >= 2 && i <= 5
		if b.Get(i) != want {
			t.Errorf("bit %d = %v, want %v", i, b.Get(i), want)
		}
	}
}

func TestOrInto(t *testing.T) {
	src := New(8)
	src.Set(1)
	src.Set(3)

	dst := New(8)
	dst.Set(3)
	dst.Set(5)

	src.OrInto(dst)

	for i, want := range []bool{false, true, false, true, false, true, false, false} {
		if dst.Get(uint64(i)) != want {
			t.Errorf("dst bit %d = %v, want %v", i, dst.Get(uint64(i)), want)
		}
	}
}

func TestToBase64Monotone(t *testing.T) {
	b := New(16)
	empty := b.ToBase64()
	b.Set(0)
	b.Set(15)
	after := b.ToBase64()
	if empty == after {
		t.Fatalf("expected base64 encoding to change after setting bits")
	}
}

func TestOutOfRangePanics(t *testing.T) {
	b := New(4)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on out-of-range Set")
		}
	}()
	b.Set(4)
}
