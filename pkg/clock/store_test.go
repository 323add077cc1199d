package clock

import (
	"testing"
	"time"

	"github.com/sgielen/cosixgo/pkg/abi/cloudabi"
)

func TestSignalerFiresAtDeadline(t *testing.T) {
	s := NewStore(time.Millisecond, 0)
	sig, errno := s.Signaler(cloudabi.ClockMonotonic, 5*time.Millisecond)
	if !errno.Ok() {
		t.Fatalf("Signaler: %v", errno)
	}
	if sig.Fired() {
		t.Fatal("signaler fired before deadline")
	}

	s.Advance(3 * time.Millisecond)
	if sig.Fired() {
		t.Fatal("signaler fired early")
	}

	s.Advance(2 * time.Millisecond)
	if !sig.Fired() {
		t.Fatal("signaler did not fire at deadline")
	}
}

func TestDuplicateClockRegisterRejected(t *testing.T) {
	s := NewStore(time.Millisecond, 0)
	if errno := s.Register(cloudabi.ClockMonotonic, time.Millisecond); errno != cloudabi.EInval {
		t.Fatalf("expected EInval for duplicate register, got %v", errno)
	}
}

func TestSetRealtimePreservesMonotonicDeadline(t *testing.T) {
	s := NewStore(time.Millisecond, 0)
	sig, _ := s.Signaler(cloudabi.ClockRealtime, 10*time.Millisecond)

	// Jump the wall clock backward; per spec §4.2 the signaler keeps its
	// original monotonic fire time rather than recomputing against the new
	// wall-clock reading.
	if errno := s.SetRealtime(-1000 * time.Hour); !errno.Ok() {
		t.Fatalf("SetRealtime: %v", errno)
	}
	if sig.Fired() {
		t.Fatal("signaler should not fire merely from a clock jump")
	}

	s.Advance(10 * time.Millisecond)
	if !sig.Fired() {
		t.Fatal("signaler should fire once its original deadline interval elapses")
	}
}
