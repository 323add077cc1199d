package ifstore

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/sgielen/cosixgo/pkg/abi/cloudabi"
	"github.com/sgielen/cosixgo/pkg/log"
	"github.com/sgielen/cosixgo/pkg/vfs/leaf"
)

// htons byte-swaps a uint16, the conversion every AF_PACKET protocol field
// needs since Linux expects it in network byte order (original: no
// equivalent, since the original kernel's rawsock talks to its own
// in-kernel interface driver rather than a host socket).
func htons(v uint16) uint16 {
	return v<<8 | v>>8
}

// linkLayer is a host AF_PACKET raw socket bound to one interface, the
// actual "raw-frame plumbing" spec §1's Non-goals keep in scope even though
// "networking stack implementation" is out of scope: frames pass through
// byte for byte, with no protocol parsing above the link layer.
type linkLayer struct {
	fd    int
	index int
}

func openLinkLayer(ifIndex int) (*linkLayer, error) {
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		return nil, fmt.Errorf("ifstore: opening AF_PACKET socket: %w", err)
	}
	addr := &unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  ifIndex,
	}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ifstore: binding AF_PACKET socket to ifindex %d: %w", ifIndex, err)
	}
	return &linkLayer{fd: fd, index: ifIndex}, nil
}

func (l *linkLayer) send(frame []byte) cloudabi.Errno {
	if _, err := unix.Write(l.fd, frame); err != nil {
		log.Warningf("ifstore: sending frame on ifindex %d: %v", l.index, err)
		return cloudabi.ENoDev
	}
	return cloudabi.ESuccess
}

// readLoop delivers every frame the host receives on this interface to sock
// until the socket is closed, mirroring the original's frame_received
// callback wired from the interface driver straight into rawsock.
func (l *linkLayer) readLoop(sock *leaf.RawSocket) {
	buf := make([]byte, 65536)
	for {
		n, err := unix.Read(l.fd, buf)
		if err != nil {
			return
		}
		if n > 0 {
			sock.DeliverFrame(buf[:n])
		}
	}
}

func (l *linkLayer) close() {
	unix.Close(l.fd)
}

// NewRawSocket opens a raw socket bound to iface and wires it to a
// leaf.RawSocket, starting the background read loop that feeds received
// frames to it (spec §6's RAWSOCK command).
func NewRawSocket(iface Interface) (*leaf.RawSocket, func(), error) {
	ll, err := openLinkLayer(iface.Index)
	if err != nil {
		return nil, nil, err
	}
	sock := leaf.NewRawSocket("rawsock to "+iface.Name, ll.send)
	go ll.readLoop(sock)
	return sock, ll.close, nil
}
