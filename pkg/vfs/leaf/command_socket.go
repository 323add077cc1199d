// Package leaf implements the "simple state" leaf FD types of spec §3's FD
// hierarchy table: raw sockets, block devices and partitions, terminal FDs,
// and the shared userland-command-socket helper the interface store and
// block-device store (§6) are both built on.
//
// Grounded on original_source/fd/userlandsock.cpp, fd/rawsock.cpp,
// blockdev/blockdev.cpp, blockdev/partition.cpp, term/terminal.cpp and
// term/terminal_fd.cpp.
package leaf

import (
	"github.com/sgielen/cosixgo/pkg/abi/cloudabi"
	"github.com/sgielen/cosixgo/pkg/context"
	"github.com/sgielen/cosixgo/pkg/sync"
	"github.com/sgielen/cosixgo/pkg/vfs"
	"github.com/sgielen/cosixgo/pkg/waiter"
)

// Resource ceilings from spec §6: "Both accept an 80-byte request and reply
// with up to 160 bytes plus zero or more attached FDs."
const (
	maxCommandBytes  = 79 // leaves room for the C original's terminator byte
	maxResponseBytes = 160
)

// CommandHandler parses one command/argument pair and answers synchronously,
// mirroring userlandsock::handle_command's contract: exactly one response
// (plus zero or more attached FDs) per call.
type CommandHandler func(ctx context.Context, command, arg string) (response string, fds []vfs.FDMapping)

// CommandSocket is the shared transport behind the interface store and the
// block-device store (§6): a datagram-shaped socket where a "send" is a
// text command and the matching "recv" is the handler's text response,
// optionally carrying FDs (a newly opened block device, a copy of the
// store socket itself, ...). Composed via a callback rather than requiring
// store-specific subtypes (spec §9 design note).
type CommandSocket struct {
	vfs.BaseFD

	handle CommandHandler

	mu          sync.Mutex
	shutdown    bool
	hasMessage  bool
	response    []byte
	responseFDs []vfs.FDMapping

	readGate  *waiter.Gate
	writeGate *waiter.Gate
}

// NewCommandSocket wraps handle as a userland-facing command socket.
func NewCommandSocket(name string, handle CommandHandler) *CommandSocket {
	c := &CommandSocket{handle: handle, readGate: waiter.NewGate(), writeGate: waiter.NewGate()}
	c.InitBaseFD(cloudabi.FiletypeSocketDgram, name)
	return c
}

func (c *CommandSocket) SockShutdown(ctx context.Context, how cloudabi.SDFlags) cloudabi.Errno {
	if how&cloudabi.ShutWR != 0 {
		c.mu.Lock()
		c.shutdown = true
		c.mu.Unlock()
	}
	return cloudabi.ESuccess
}

// SockSend parses one command out of iov and dispatches it to handle,
// blocking (or failing EAgain on a non-blocking FD) while a previous
// response hasn't been picked up yet — a command socket serialises one
// outstanding request/response pair at a time, same as the original.
func (c *CommandSocket) SockSend(ctx context.Context, iov [][]byte, fds []vfs.FDMapping) (int, cloudabi.Errno) {
	data := vfs.CopyIn(iov, 0)
	if len(data) > maxCommandBytes {
		return 0, cloudabi.EMsgSize
	}

	nonblocking := c.Flags()&cloudabi.FDFlagNonblock != 0
	for {
		c.mu.Lock()
		if c.shutdown {
			c.mu.Unlock()
			return 0, cloudabi.EPipe
		}
		if !c.hasMessage {
			break
		}
		c.mu.Unlock()
		if nonblocking {
			return 0, cloudabi.EAgain
		}
		cond := waiter.NewCondition(nil)
		sig := c.writeGate.Current()
		ch := sig.Attach(cond)
		c.mu.Lock()
		stillBusy := c.hasMessage
		c.mu.Unlock()
		if !stillBusy {
			sig.Detach(cond)
			continue
		}
		select {
		case <-ch:
		case <-ctx.Done():
			sig.Detach(cond)
			return 0, cloudabi.EIntr
		}
	}
	defer c.mu.Unlock()

	command, arg := splitCommand(data)
	response, respFDs := c.handle(ctx, command, arg)
	if len(response) > maxResponseBytes {
		response = response[:maxResponseBytes]
	}
	c.response = []byte(response)
	c.responseFDs = respFDs
	c.hasMessage = true
	c.readGate.Fire()
	return len(data), cloudabi.ESuccess
}

func splitCommand(data []byte) (command, arg string) {
	for i, b := range data {
		if b == ' ' {
			return string(data[:i]), string(data[i+1:])
		}
	}
	return string(data), ""
}

// SockRecv blocks for the response to the most recent command and copies it
// (plus any attached FDs) to the caller, then clears the pending message so
// a subsequent SockSend can proceed.
func (c *CommandSocket) SockRecv(ctx context.Context, iov [][]byte, maxFDs int) (vfs.RecvResult, cloudabi.Errno) {
	nonblocking := c.Flags()&cloudabi.FDFlagNonblock != 0
	for {
		c.mu.Lock()
		if c.hasMessage {
			break
		}
		c.mu.Unlock()
		if nonblocking {
			return vfs.RecvResult{}, cloudabi.EAgain
		}
		cond := waiter.NewCondition(nil)
		sig := c.readGate.Current()
		ch := sig.Attach(cond)
		c.mu.Lock()
		ready := c.hasMessage
		c.mu.Unlock()
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

	n, truncated := vfs.CopyOut(iov, c.response)
	res := vfs.RecvResult{DataLen: n}
	if truncated {
		res.Truncated |= cloudabi.RecvDataTruncated
	}
	if len(c.responseFDs) > maxFDs {
		res.FDs = c.responseFDs[:maxFDs]
		res.Truncated |= cloudabi.RecvFDsTruncated
	} else {
		res.FDs = c.responseFDs
	}

	c.hasMessage = false
	c.response = nil
	c.responseFDs = nil
	c.mu.Unlock()
	c.writeGate.Fire()
	return res, cloudabi.ESuccess
}

func (c *CommandSocket) GetReadSignaler() *waiter.Signaler  { return c.readGate.Current() }
func (c *CommandSocket) GetWriteSignaler() *waiter.Signaler { return c.writeGate.Current() }
