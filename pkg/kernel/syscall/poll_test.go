package syscall_test

import (
	"testing"
	"time"

	"github.com/sgielen/cosixgo/pkg/abi/cloudabi"
	"github.com/sgielen/cosixgo/pkg/clock"
	"github.com/sgielen/cosixgo/pkg/kernel/syscall"
	"github.com/sgielen/cosixgo/pkg/kernel/thread"
	"github.com/sgielen/cosixgo/pkg/vfs"
	"github.com/sgielen/cosixgo/pkg/waiter"
)

// fakeFD is a minimal vfs.FD stand-in exposing a fixed read-readiness
// signaler, enough to drive Poll without a real socket or file backing.
type fakeFD struct {
	vfs.BaseFD
	readSig  *waiter.Signaler
	writeSig *waiter.Signaler
}

func newFakeFD() *fakeFD {
	f := &fakeFD{readSig: waiter.NewSignaler(), writeSig: waiter.NewSignaler()}
	f.InitBaseFD(cloudabi.FiletypeSocketStream, "fake")
	return f
}

func (f *fakeFD) GetReadSignaler() *waiter.Signaler  { return f.readSig }
func (f *fakeFD) GetWriteSignaler() *waiter.Signaler { return f.writeSig }

func newClocks() *clock.Store {
	return clock.NewStore(time.Microsecond, 0)
}

func TestPollRejectsZeroSubscriptions(t *testing.T) {
	_, errno := syscall.Poll(newClocks(), thread.NewWaitTable(), thread.NewWaitTable(), nil)
	if errno != cloudabi.EInval {
		t.Fatalf("got errno %v, want EInval", errno)
	}
}

func TestPollWakesOnClockDeadline(t *testing.T) {
	clocks := newClocks()
	subs := []syscall.Subscription{
		{Kind: syscall.SubClockDeadline, ClockID: cloudabi.ClockMonotonic, Timeout: 10 * time.Millisecond},
	}

	done := make(chan []syscall.Event, 1)
	go func() {
		events, errno := syscall.Poll(clocks, thread.NewWaitTable(), thread.NewWaitTable(), subs)
		if errno != cloudabi.ESuccess {
			t.Errorf("unexpected errno %v", errno)
		}
		done <- events
	}()

	// The store only moves when ticked, so stand in for the tick source
	// until Poll returns.
	giveUp := time.After(time.Second)
	for {
		select {
		case events := <-done:
			if len(events) != 1 || events[0].Index != 0 {
				t.Fatalf("got events %+v, want one event at index 0", events)
			}
			return
		case <-giveUp:
			t.Fatal("poll did not wake on clock deadline")
		case <-time.After(time.Millisecond):
			clocks.Advance(time.Millisecond)
		}
	}
}

func TestPollWakesOnFDReadReady(t *testing.T) {
	fd := newFakeFD()
	subs := []syscall.Subscription{
		{Kind: syscall.SubFDReadReady, FD: fd},
		// A long deadline that must not fire before the FD does.
		{Kind: syscall.SubClockDeadline, ClockID: cloudabi.ClockMonotonic, Timeout: time.Hour},
	}

	done := make(chan []syscall.Event, 1)
	go func() {
		events, errno := syscall.Poll(newClocks(), thread.NewWaitTable(), thread.NewWaitTable(), subs)
		if errno != cloudabi.ESuccess {
			t.Errorf("unexpected errno %v", errno)
		}
		done <- events
	}()

	time.Sleep(10 * time.Millisecond)
	fd.readSig.Broadcast()

	select {
	case events := <-done:
		if len(events) != 1 || events[0].Index != 0 {
			t.Fatalf("got events %+v, want one event at index 0", events)
		}
	case <-time.After(time.Second):
		t.Fatal("poll did not wake on fd read-ready")
	}
}

func TestPollDedupsSharedSignaler(t *testing.T) {
	fd := newFakeFD()
	subs := []syscall.Subscription{
		{Kind: syscall.SubFDReadReady, FD: fd},
		{Kind: syscall.SubFDReadReady, FD: fd},
	}

	done := make(chan []syscall.Event, 1)
	go func() {
		events, errno := syscall.Poll(newClocks(), thread.NewWaitTable(), thread.NewWaitTable(), subs)
		if errno != cloudabi.ESuccess {
			t.Errorf("unexpected errno %v", errno)
		}
		done <- events
	}()

	time.Sleep(10 * time.Millisecond)
	fd.readSig.Broadcast()

	select {
	case events := <-done:
		if len(events) != 1 || events[0].Index != 0 {
			t.Fatalf("got events %+v, want exactly one deduped event at index 0", events)
		}
	case <-time.After(time.Second):
		t.Fatal("poll did not wake on shared signaler")
	}
}

func TestPollRejectsNilFDSubscription(t *testing.T) {
	subs := []syscall.Subscription{{Kind: syscall.SubFDReadReady, FD: nil}}
	_, errno := syscall.Poll(newClocks(), thread.NewWaitTable(), thread.NewWaitTable(), subs)
	if errno != cloudabi.EInval {
		t.Fatalf("got errno %v, want EInval", errno)
	}
}
