package leaf

import (
	"github.com/sgielen/cosixgo/pkg/abi/cloudabi"
	"github.com/sgielen/cosixgo/pkg/context"
	"github.com/sgielen/cosixgo/pkg/sync"
	"github.com/sgielen/cosixgo/pkg/vfs"
	"github.com/sgielen/cosixgo/pkg/waiter"
)

// maxFrameBytes bounds one rawsock send the same way the original's
// unexplained "1500 /* TODO: mtu */" constant does.
const maxFrameBytes = 1500

// FrameSender transmits one raw frame on whatever interface the raw socket
// is bound to (injected so this package doesn't need to know about netlink
// or the interface store — spec §9 design note: compose via a callback).
type FrameSender func(frame []byte) cloudabi.Errno

// RawSocket is a datagram socket carrying raw link-layer frames to and from
// one network interface (spec §6's RAWSOCK command). Grounded on
// original_source/fd/rawsock.cpp: frames arrive out of band (DeliverFrame,
// analogous to frame_received being called by the interface) and queue up
// for SockRecv; SockSend hands a frame straight to the injected sender.
type RawSocket struct {
	vfs.BaseFD

	send FrameSender

	mu       sync.Mutex
	messages [][]byte
	shutdown bool
	readGate *waiter.Gate
}

// NewRawSocket creates a raw socket that transmits via send. The caller
// (typically the interface store) must call DeliverFrame for every frame
// that arrives on the interface this socket is subscribed to.
func NewRawSocket(name string, send FrameSender) *RawSocket {
	s := &RawSocket{send: send, readGate: waiter.NewGate()}
	s.InitBaseFD(cloudabi.FiletypeSocketDgram, name)
	return s
}

// DeliverFrame enqueues a received frame (original: rawsock::frame_received).
func (s *RawSocket) DeliverFrame(frame []byte) {
	cp := append([]byte(nil), frame...)
	s.mu.Lock()
	s.messages = append(s.messages, cp)
	s.mu.Unlock()
	s.readGate.Fire()
}

func (s *RawSocket) SockShutdown(ctx context.Context, how cloudabi.SDFlags) cloudabi.Errno {
	if how&cloudabi.ShutWR != 0 {
		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
	}
	return cloudabi.ESuccess
}

func (s *RawSocket) SockSend(ctx context.Context, iov [][]byte, fds []vfs.FDMapping) (int, cloudabi.Errno) {
	s.mu.Lock()
	shutdown := s.shutdown
	s.mu.Unlock()
	if shutdown {
		return 0, cloudabi.EPipe
	}

	data := vfs.CopyIn(iov, 0)
	if len(data) > maxFrameBytes {
		return 0, cloudabi.EMsgSize
	}
	if errno := s.send(data); errno != cloudabi.ESuccess {
		return 0, errno
	}
	return len(data), cloudabi.ESuccess
}

func (s *RawSocket) SockRecv(ctx context.Context, iov [][]byte, maxFDs int) (vfs.RecvResult, cloudabi.Errno) {
	nonblocking := s.Flags()&cloudabi.FDFlagNonblock != 0
	for {
		s.mu.Lock()
		if len(s.messages) > 0 {
			break
		}
		s.mu.Unlock()
		if nonblocking {
			return vfs.RecvResult{}, cloudabi.EAgain
		}
		cond := waiter.NewCondition(nil)
		sig := s.readGate.Current()
		ch := sig.Attach(cond)
		s.mu.Lock()
		ready := len(s.messages) > 0
		s.mu.Unlock()
		if ready {
			sig.Detach(cond)
			continue
		}
		select {
		case <-ch:
		case <-ctx.Done():
			sig.Detach(cond)
			return vfs.RecvResult{}, cloudabi.EIntr
		}
	}

	frame := s.messages[0]
	s.messages = s.messages[1:]
	s.mu.Unlock()

	n, truncated := vfs.CopyOut(iov, frame)
	res := vfs.RecvResult{DataLen: n}
	if truncated {
		res.Truncated |= cloudabi.RecvDataTruncated
	}
	return res, cloudabi.ESuccess
}

func (s *RawSocket) GetReadSignaler() *waiter.Signaler { return s.readGate.Current() }
