package unixsock

import (
	"testing"

	"github.com/sgielen/cosixgo/pkg/abi/cloudabi"
	"github.com/sgielen/cosixgo/pkg/context"
	"github.com/sgielen/cosixgo/pkg/vfs"
)

func TestDatagramRoundtrip(t *testing.T) {
	ctx := context.Background()
	a, b := NewPair(NewStore(), false)

	if _, errno := a.SockSend(ctx, [][]byte{[]byte("foo")}, nil); errno != cloudabi.ESuccess {
		t.Fatalf("send: %v", errno)
	}
	buf := make([]byte, 10)
	res, errno := b.SockRecv(ctx, [][]byte{buf}, 0)
	if errno != cloudabi.ESuccess {
		t.Fatalf("recv: %v", errno)
	}
	if got := string(buf[:res.DataLen]); got != "foo" {
		t.Fatalf("recv = %q, want foo", got)
	}
}

func TestDatagramOrderingPreserved(t *testing.T) {
	ctx := context.Background()
	a, b := NewPair(NewStore(), false)
	a.SockSend(ctx, [][]byte{[]byte("foo")}, nil)
	a.SockSend(ctx, [][]byte{[]byte("bar")}, nil)

	buf := make([]byte, 10)
	res1, _ := b.SockRecv(ctx, [][]byte{buf}, 0)
	first := string(buf[:res1.DataLen])
	res2, _ := b.SockRecv(ctx, [][]byte{buf}, 0)
	second := string(buf[:res2.DataLen])
	if first != "foo" || second != "bar" {
		t.Fatalf("got %q, %q; want foo, bar", first, second)
	}
}

func TestDatagramTooLargeFailsMessageSize(t *testing.T) {
	ctx := context.Background()
	a, _ := NewPair(NewStore(), false)
	big := make([]byte, maxDatagramBytes+1)
	if _, errno := a.SockSend(ctx, [][]byte{big}, nil); errno != cloudabi.EMsgSize {
		t.Fatalf("send(too-large) = %v, want EMsgSize", errno)
	}
}

func TestShutdownWriteFailsSend(t *testing.T) {
	ctx := context.Background()
	a, _ := NewPair(NewStore(), false)
	if errno := a.SockShutdown(ctx, cloudabi.ShutWR); errno != cloudabi.ESuccess {
		t.Fatalf("shutdown: %v", errno)
	}
	if _, errno := a.SockSend(ctx, [][]byte{[]byte("x")}, nil); errno != cloudabi.EPipe {
		t.Fatalf("send after shutdown(write) = %v, want EPipe", errno)
	}
}

func TestShutdownWritePendingRecvDrainsThenEOF(t *testing.T) {
	ctx := context.Background()
	a, b := NewPair(NewStore(), false)
	if _, errno := a.SockSend(ctx, [][]byte{[]byte("last")}, nil); errno != cloudabi.ESuccess {
		t.Fatalf("send: %v", errno)
	}
	if errno := a.SockShutdown(ctx, cloudabi.ShutWR); errno != cloudabi.ESuccess {
		t.Fatalf("shutdown: %v", errno)
	}

	buf := make([]byte, 10)
	res, errno := b.SockRecv(ctx, [][]byte{buf}, 0)
	if errno != cloudabi.ESuccess || res.DataLen != 4 {
		t.Fatalf("recv of queued message after peer shutdown(write): n=%d errno=%v, want 4,success", res.DataLen, errno)
	}
	res2, errno := b.SockRecv(ctx, [][]byte{buf}, 0)
	if errno != cloudabi.ESuccess || res2.DataLen != 0 {
		t.Fatalf("recv after drain following peer shutdown(write): n=%d errno=%v, want 0,success", res2.DataLen, errno)
	}
}

func TestPeerDropCausesEOF(t *testing.T) {
	ctx := context.Background()
	a, b := NewPair(NewStore(), false)
	a.SockSend(ctx, [][]byte{[]byte("last")}, nil)
	a.DecRef() // drop a's only reference; b should observe EOF once drained

	buf := make([]byte, 10)
	res, errno := b.SockRecv(ctx, [][]byte{buf}, 0)
	if errno != cloudabi.ESuccess || res.DataLen != 4 {
		t.Fatalf("recv pending message: n=%d errno=%v", res.DataLen, errno)
	}
	res2, errno := b.SockRecv(ctx, [][]byte{buf}, 0)
	if errno != cloudabi.ESuccess || res2.DataLen != 0 {
		t.Fatalf("recv after peer drop: n=%d errno=%v, want 0,success", res2.DataLen, errno)
	}
}

func TestConnectWithoutListenerFailsConnectionRefused(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	c := New(store, true)
	if errno := c.SockConnect(ctx, 1, 1); errno != cloudabi.EConnRefused {
		t.Fatalf("connect(no listener) = %v, want EConnRefused", errno)
	}
}

func TestBindListenAcceptConnect(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	listener := New(store, true)
	if errno := listener.SockBind(ctx, 5, 42); errno != cloudabi.ESuccess {
		t.Fatalf("bind: %v", errno)
	}
	if errno := listener.SockListen(ctx, 4); errno != cloudabi.ESuccess {
		t.Fatalf("listen: %v", errno)
	}

	client := New(store, true)
	if errno := client.SockConnect(ctx, 5, 42); errno != cloudabi.ESuccess {
		t.Fatalf("connect: %v", errno)
	}

	accepted, errno := listener.SockAccept(ctx)
	if errno != cloudabi.ESuccess {
		t.Fatalf("accept: %v", errno)
	}

	client.SockSend(ctx, [][]byte{[]byte("Hello world!")}, nil)
	buf := make([]byte, 32)
	res, errno := accepted.(*Socket).SockRecv(ctx, [][]byte{buf}, 0)
	if errno != cloudabi.ESuccess || string(buf[:res.DataLen]) != "Hello world!" {
		t.Fatalf("recv = %q errno=%v", buf[:res.DataLen], errno)
	}
}

func TestAcceptOrderMatchesConnectOrder(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	listener := New(store, true)
	listener.SockBind(ctx, 1, 1)
	listener.SockListen(ctx, 8)

	for i := 0; i < 3; i++ {
		c := New(store, true)
		if errno := c.SockConnect(ctx, 1, 1); errno != cloudabi.ESuccess {
			t.Fatalf("connect %d: %v", i, errno)
		}
		c.SockSend(ctx, [][]byte{[]byte{byte('a' + i)}}, nil)
	}

	buf := make([]byte, 1)
	for i := 0; i < 3; i++ {
		peer, errno := listener.SockAccept(ctx)
		if errno != cloudabi.ESuccess {
			t.Fatalf("accept %d: %v", i, errno)
		}
		res, _ := peer.(*Socket).SockRecv(ctx, [][]byte{buf}, 0)
		if got, want := buf[:res.DataLen][0], byte('a'+i); got != want {
			t.Fatalf("accept order %d: got %q want %q", i, got, want)
		}
	}
}

func TestFDPassingTransfersMapping(t *testing.T) {
	ctx := context.Background()
	a, b := NewPair(NewStore(), true)
	passed := New(NewStore(), false)
	passed.SockBind(ctx, 9, 77)

	fds := []vfs.FDMapping{{FD: passed, RightsBase: cloudabi.RightFDRead, RightsInheriting: 0}}
	if _, errno := a.SockSend(ctx, [][]byte{[]byte("foobar")}, fds); errno != cloudabi.ESuccess {
		t.Fatalf("send with fds: %v", errno)
	}

	buf := make([]byte, 6)
	res, errno := b.SockRecv(ctx, [][]byte{buf}, 1)
	if errno != cloudabi.ESuccess {
		t.Fatalf("recv: %v", errno)
	}
	if len(res.FDs) != 1 {
		t.Fatalf("expected 1 passed FD, got %d", len(res.FDs))
	}
	if !res.FDs[0].RightsBase.Has(cloudabi.RightFDRead) {
		t.Fatal("passed FD lost its rights")
	}
}

func TestFDPassingTruncatesWhenTooManySlots(t *testing.T) {
	ctx := context.Background()
	a, b := NewPair(NewStore(), true)
	s1, s2 := New(NewStore(), false), New(NewStore(), false)
	fds := []vfs.FDMapping{{FD: s1}, {FD: s2}}
	a.SockSend(ctx, [][]byte{[]byte("x")}, fds)

	buf := make([]byte, 4)
	res, errno := b.SockRecv(ctx, [][]byte{buf}, 1)
	if errno != cloudabi.ESuccess {
		t.Fatalf("recv: %v", errno)
	}
	if len(res.FDs) != 1 {
		t.Fatalf("expected truncation to 1 fd, got %d", len(res.FDs))
	}
	if res.Truncated&cloudabi.RecvFDsTruncated == 0 {
		t.Fatal("expected fds-truncated flag set")
	}
}
