package blockdevstore_test

import (
	"testing"

	"github.com/sgielen/cosixgo/pkg/abi/cloudabi"
	"github.com/sgielen/cosixgo/pkg/blockdevstore"
	gocontext "github.com/sgielen/cosixgo/pkg/context"
	"github.com/sgielen/cosixgo/pkg/vfs/leaf"
)

func zeroDevice() *leaf.BlockDevice {
	return leaf.NewBlockDevice("zero", func(buf []byte, lba, sectorCount uint64) cloudabi.Errno {
		for i := range buf {
			buf[i] = 0
		}
		return cloudabi.ESuccess
	})
}

func TestRegisterFixedNameRejectsDuplicate(t *testing.T) {
	s := blockdevstore.NewStore()
	if err := s.RegisterFixedName(zeroDevice(), "sda"); err != nil {
		t.Fatalf("first RegisterFixedName: %v", err)
	}
	if err := s.RegisterFixedName(zeroDevice(), "sda"); err == nil {
		t.Fatal("registering a second device under the same name should fail")
	}
}

func TestRegisterAssignsSequentialSuffix(t *testing.T) {
	s := blockdevstore.NewStore()
	names := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		name, err := s.Register(zeroDevice(), "sd")
		if err != nil {
			t.Fatalf("Register: %v", err)
		}
		names = append(names, name)
	}
	want := []string{"sd0", "sd1", "sd2"}
	for i, w := range want {
		if names[i] != w {
			t.Fatalf("names[%d] = %q, want %q", i, names[i], w)
		}
	}
}

func TestRegisterTruncatesLongPrefix(t *testing.T) {
	s := blockdevstore.NewStore()
	name, err := s.Register(zeroDevice(), "averylongprefix")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if len(name) != 7 {
		t.Fatalf("got name %q of length %d, want a 6-byte prefix plus one digit", name, len(name))
	}
}

func TestNamesSortedAndLookupRoundTrips(t *testing.T) {
	s := blockdevstore.NewStore()
	dev := zeroDevice()
	if err := s.RegisterFixedName(dev, "zeta"); err != nil {
		t.Fatalf("RegisterFixedName: %v", err)
	}
	if err := s.RegisterFixedName(zeroDevice(), "alpha"); err != nil {
		t.Fatalf("RegisterFixedName: %v", err)
	}
	names := s.Names()
	if len(names) != 2 || names[0] != "alpha" || names[1] != "zeta" {
		t.Fatalf("Names() = %v, want [alpha zeta]", names)
	}
	got, ok := s.Get("zeta")
	if !ok || got != dev {
		t.Fatalf("Get(\"zeta\") = %v, %v; want the registered device", got, ok)
	}
	if _, ok := s.Get("missing"); ok {
		t.Fatal("Get of an unregistered name should report not-found")
	}
}

func TestCommandList(t *testing.T) {
	s := blockdevstore.NewStore()
	s.RegisterFixedName(zeroDevice(), "sda")
	s.RegisterFixedName(zeroDevice(), "sdb")

	handle := blockdevstore.Command(s)
	resp, fds := handle(gocontext.Background(), "LIST", "")
	if fds != nil {
		t.Fatalf("LIST returned FDs, want none: %v", fds)
	}
	if resp != "sda\nsdb\n" {
		t.Fatalf("LIST response = %q, want %q", resp, "sda\nsdb\n")
	}
}

func TestCommandFDOpensRegisteredDevice(t *testing.T) {
	s := blockdevstore.NewStore()
	s.RegisterFixedName(zeroDevice(), "sda")

	handle := blockdevstore.Command(s)
	resp, fds := handle(gocontext.Background(), "FD", "sda")
	if resp != "OK" {
		t.Fatalf("FD response = %q, want OK", resp)
	}
	if len(fds) != 1 {
		t.Fatalf("FD returned %d FDs, want 1", len(fds))
	}
	if fds[0].RightsBase == 0 {
		t.Fatal("FD response carried no rights")
	}
}

func TestCommandFDMissingDevice(t *testing.T) {
	s := blockdevstore.NewStore()
	handle := blockdevstore.Command(s)
	resp, fds := handle(gocontext.Background(), "FD", "missing")
	if resp != "NODEV" {
		t.Fatalf("FD of a missing device = %q, want NODEV", resp)
	}
	if fds != nil {
		t.Fatalf("FD of a missing device returned FDs: %v", fds)
	}
}

func TestCommandCopyReturnsWorkingSocket(t *testing.T) {
	s := blockdevstore.NewStore()
	s.RegisterFixedName(zeroDevice(), "sda")

	handle := blockdevstore.Command(s)
	resp, fds := handle(gocontext.Background(), "COPY", "")
	if resp != "OK" || len(fds) != 1 {
		t.Fatalf("COPY = %q, %d FDs; want OK and 1 FD", resp, len(fds))
	}
	sock, ok := fds[0].FD.(*leaf.CommandSocket)
	if !ok {
		t.Fatalf("COPY's FD is %T, want *leaf.CommandSocket", fds[0].FD)
	}

	ctx := gocontext.Background()
	n, errno := sock.SockSend(ctx, [][]byte{[]byte("LIST")}, nil)
	if errno != cloudabi.ESuccess || n != len("LIST") {
		t.Fatalf("SockSend(LIST) = %d, %v", n, errno)
	}
	buf := make([]byte, 64)
	res, errno := sock.SockRecv(ctx, [][]byte{buf}, 0)
	if errno != cloudabi.ESuccess {
		t.Fatalf("SockRecv: %v", errno)
	}
	if string(buf[:res.DataLen]) != "sda\n" {
		t.Fatalf("copied socket's LIST reply = %q, want %q", buf[:res.DataLen], "sda\n")
	}
}
