package memalloc

import "testing"

func TestAllocateFailsWhenExhausted(t *testing.T) {
	a := New([]Region{{Base: 0, Length: 16, Available: true}})
	b1 := a.Allocate(10)
	if !b1.Ok() {
		t.Fatal("expected first allocation to succeed")
	}
	b2 := a.Allocate(10)
	if b2.Ok() {
		t.Fatal("expected second allocation to fail (null Blk)")
	}
}

func TestReservedRegionExcluded(t *testing.T) {
	a := New([]Region{
		{Base: 0, Length: 4096, Available: false},
		{Base: 4096, Length: 4096, Available: true},
	})
	if got, want := a.Free(), uint64(4096); got != want {
		t.Fatalf("Free() = %d, want %d (reserved region must not be usable)", got, want)
	}
}

func TestDebugAllocatorGuardsSurviveRoundTrip(t *testing.T) {
	d := NewDebug(New([]Region{{Base: 0, Length: 1 << 20, Available: true}}))
	b := d.Allocate(64)
	if !b.Ok() {
		t.Fatal("allocate failed")
	}
	if corrupted := d.CheckGuards(); len(corrupted) != 0 {
		t.Fatalf("guards corrupted immediately after allocation: %d records", len(corrupted))
	}
	if d.LiveCount() != 1 {
		t.Fatalf("LiveCount() = %d, want 1", d.LiveCount())
	}
	d.Deallocate(b)
	if d.LiveCount() != 0 {
		t.Fatalf("LiveCount() after deallocate = %d, want 0", d.LiveCount())
	}
}
