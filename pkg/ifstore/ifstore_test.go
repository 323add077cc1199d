package ifstore_test

import (
	"net"
	"testing"

	"github.com/sgielen/cosixgo/pkg/abi/cloudabi"
	gocontext "github.com/sgielen/cosixgo/pkg/context"
	"github.com/sgielen/cosixgo/pkg/ifstore"
	"github.com/sgielen/cosixgo/pkg/vfs/leaf"
	"github.com/sgielen/cosixgo/pkg/vfs/unixsock"
)

// fakeLister satisfies ifstore.Lister without touching any real network
// namespace, so the command protocol can be exercised hermetically.
type fakeLister struct {
	ifaces map[string]ifstore.Interface
}

func (f *fakeLister) List() ([]ifstore.Interface, error) {
	out := make([]ifstore.Interface, 0, len(f.ifaces))
	for _, i := range f.ifaces {
		out = append(out, i)
	}
	return out, nil
}

func (f *fakeLister) Get(name string) (ifstore.Interface, bool) {
	i, ok := f.ifaces[name]
	return i, ok
}

func newFakeLister() *fakeLister {
	mac, _ := net.ParseMAC("aa:bb:cc:dd:ee:ff")
	return &fakeLister{ifaces: map[string]ifstore.Interface{
		"lo":  {Name: "lo", HW: ifstore.HWLoopback, Index: 1},
		"eth0": {Name: "eth0", MAC: mac, HW: ifstore.HWEthernet, Index: 2},
	}}
}

func TestHWTypeString(t *testing.T) {
	cases := map[ifstore.HWType]string{
		ifstore.HWLoopback: "LOOPBACK",
		ifstore.HWEthernet: "ETHERNET",
		ifstore.HWUnknown:  "UNKNOWN",
	}
	for hw, want := range cases {
		if got := hw.String(); got != want {
			t.Fatalf("HWType(%d).String() = %q, want %q", hw, got, want)
		}
	}
}

func TestCommandList(t *testing.T) {
	handle := ifstore.Command(newFakeLister(), unixsock.NewStore())
	resp, fds := handle(gocontext.Background(), "LIST", "")
	if fds != nil {
		t.Fatalf("LIST returned FDs, want none: %v", fds)
	}
	if resp != "lo\neth0\n" && resp != "eth0\nlo\n" {
		t.Fatalf("LIST response = %q, want a newline-joined listing of lo and eth0", resp)
	}
}

func TestCommandMAC(t *testing.T) {
	handle := ifstore.Command(newFakeLister(), unixsock.NewStore())

	resp, _ := handle(gocontext.Background(), "MAC", "eth0")
	if resp != "aa:bb:cc:dd:ee:ff" {
		t.Fatalf("MAC eth0 = %q, want aa:bb:cc:dd:ee:ff", resp)
	}

	resp, _ = handle(gocontext.Background(), "MAC", "lo")
	if resp != "00:00:00:00:00:00" {
		t.Fatalf("MAC lo (no hardware address) = %q, want the zero MAC fallback", resp)
	}

	resp, fds := handle(gocontext.Background(), "MAC", "ppp0")
	if resp != "NOIFACE" || fds != nil {
		t.Fatalf("MAC of an unknown interface = %q, %v; want NOIFACE, nil", resp, fds)
	}
}

func TestCommandHWType(t *testing.T) {
	handle := ifstore.Command(newFakeLister(), unixsock.NewStore())
	resp, _ := handle(gocontext.Background(), "HWTYPE", "lo")
	if resp != "LOOPBACK" {
		t.Fatalf("HWTYPE lo = %q, want LOOPBACK", resp)
	}
	resp, _ = handle(gocontext.Background(), "HWTYPE", "eth0")
	if resp != "ETHERNET" {
		t.Fatalf("HWTYPE eth0 = %q, want ETHERNET", resp)
	}
}

func TestCommandEmptyArgIsError(t *testing.T) {
	handle := ifstore.Command(newFakeLister(), unixsock.NewStore())
	for _, cmd := range []string{"MAC", "HWTYPE", "RAWSOCK"} {
		resp, fds := handle(gocontext.Background(), cmd, "")
		if resp != "ERROR" || fds != nil {
			t.Fatalf("%s with an empty arg = %q, %v; want ERROR, nil", cmd, resp, fds)
		}
	}
}

func TestCommandPseudopair(t *testing.T) {
	handle := ifstore.Command(newFakeLister(), unixsock.NewStore())

	for _, arg := range []string{"", "DIRECTORY", "REGULAR_FILE", "SOCKET_STREAM", "SOCKET_DGRAM"} {
		resp, fds := handle(gocontext.Background(), "PSEUDOPAIR", arg)
		if resp != "OK" {
			t.Fatalf("PSEUDOPAIR %q = %q, want OK", arg, resp)
		}
		if len(fds) != 2 {
			t.Fatalf("PSEUDOPAIR %q returned %d FDs, want 2", arg, len(fds))
		}
		if fds[0].RightsBase == 0 || fds[1].RightsBase == 0 {
			t.Fatalf("PSEUDOPAIR %q returned an FD with no rights", arg)
		}
	}

	resp, fds := handle(gocontext.Background(), "PSEUDOPAIR", "NOT_A_FILETYPE")
	if resp != "ERROR" || fds != nil {
		t.Fatalf("PSEUDOPAIR with an invalid filetype = %q, %v; want ERROR, nil", resp, fds)
	}
}

func TestCommandCopyReturnsWorkingSocket(t *testing.T) {
	handle := ifstore.Command(newFakeLister(), unixsock.NewStore())
	resp, fds := handle(gocontext.Background(), "COPY", "")
	if resp != "OK" || len(fds) != 1 {
		t.Fatalf("COPY = %q, %d FDs; want OK and 1 FD", resp, len(fds))
	}
	sock, ok := fds[0].FD.(*leaf.CommandSocket)
	if !ok {
		t.Fatalf("COPY's FD is %T, want *leaf.CommandSocket", fds[0].FD)
	}

	ctx := gocontext.Background()
	if _, errno := sock.SockSend(ctx, [][]byte{[]byte("HWTYPE lo")}, nil); errno != cloudabi.ESuccess {
		t.Fatalf("SockSend on the copied socket: %v", errno)
	}
	buf := make([]byte, 32)
	res, errno := sock.SockRecv(ctx, [][]byte{buf}, 0)
	if errno != cloudabi.ESuccess {
		t.Fatalf("SockRecv on the copied socket: %v", errno)
	}
	if string(buf[:res.DataLen]) != "LOOPBACK" {
		t.Fatalf("copied socket's HWTYPE reply = %q, want LOOPBACK", buf[:res.DataLen])
	}
}
