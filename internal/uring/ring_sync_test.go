//go:build !giouring
// +build !giouring

package uring

import (
	"os"
	"testing"
)

func TestSyncRingReadWriteRoundTrip(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "ring")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	defer f.Close()

	ring, err := NewRing(4)
	if err != nil {
		t.Fatalf("NewRing: %v", err)
	}
	defer ring.Close()

	out := []byte("hello world")
	if err := ring.PrepareWrite(int(f.Fd()), out, 0, 1); err != nil {
		t.Fatalf("PrepareWrite: %v", err)
	}
	if _, err := ring.Submit(); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	cqe, err := ring.WaitCQE()
	if err != nil {
		t.Fatalf("WaitCQE: %v", err)
	}
	if cqe.UserData != 1 || cqe.Res != int32(len(out)) {
		t.Fatalf("write CQE = %+v, want UserData=1 Res=%d", cqe, len(out))
	}

	in := make([]byte, len(out))
	if err := ring.PrepareRead(int(f.Fd()), in, 0, 2); err != nil {
		t.Fatalf("PrepareRead: %v", err)
	}
	if _, err := ring.Submit(); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	cqe, err = ring.WaitCQE()
	if err != nil {
		t.Fatalf("WaitCQE: %v", err)
	}
	if cqe.UserData != 2 || cqe.Res != int32(len(out)) {
		t.Fatalf("read CQE = %+v, want UserData=2 Res=%d", cqe, len(out))
	}
	if string(in) != string(out) {
		t.Fatalf("read back %q, want %q", in, out)
	}
}

func TestSyncRingWaitCQEWithNothingQueuedErrors(t *testing.T) {
	ring, _ := NewRing(1)
	defer ring.Close()
	if _, err := ring.WaitCQE(); err == nil {
		t.Fatalf("expected an error calling WaitCQE with nothing queued")
	}
}

func TestSyncRingFsync(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "ring")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	defer f.Close()

	ring, _ := NewRing(4)
	defer ring.Close()

	if err := ring.PrepareFsync(int(f.Fd()), 1); err != nil {
		t.Fatalf("PrepareFsync: %v", err)
	}
	cqe, err := ring.WaitCQE()
	if err != nil {
		t.Fatalf("WaitCQE: %v", err)
	}
	if cqe.Res < 0 {
		t.Fatalf("fsync CQE.Res = %d, want >= 0", cqe.Res)
	}
}
