package leaf

import (
	"github.com/sgielen/cosixgo/pkg/abi/cloudabi"
	"github.com/sgielen/cosixgo/pkg/context"
	"github.com/sgielen/cosixgo/pkg/sync"
	"github.com/sgielen/cosixgo/pkg/vfs"
	"github.com/sgielen/cosixgo/pkg/waiter"
)

// keystrokeBufferBytes/outputBufferBytes are spec §5's fixed kernel
// terminal buffer ceilings ("kernel keystroke/terminal buffers are fixed
// 64/128 bytes"). The keystroke buffer is bounded, not growable — excess
// bytes are silently clipped at the producer (WriteKeystrokes). Output is
// not buffered: WriteOutput hands each write straight to the sink, so
// outputBufferBytes bounds nothing.
const (
	outputBufferBytes    = 128
	keystrokeBufferBytes = 64
)

// OutputSink is where a TerminalImpl's output finally lands — a VGA
// console, a serial port, a telnet session. Those physical drivers are out
// of scope (spec §1 Non-goals); this package only owns the buffering and
// keystroke-echo contract, injected with a sink the way every other leaf
// type takes a callback instead of a base class (spec §9).
type OutputSink func(data []byte) cloudabi.Errno

// Terminal is the interface terminal_fd addresses (original:
// term/terminal.hpp's terminal base). TerminalImpl is the one concrete
// implementation this module needs; console/telnet-specific escape-code
// interpretation (original: console_terminal) stays out of scope.
type Terminal interface {
	Name() string
	WriteOutput(ctx context.Context, data []byte) cloudabi.Errno
	WriteKeystrokes(ctx context.Context, data []byte) cloudabi.Errno
	ReadKeystrokes(ctx context.Context, buf []byte) (int, cloudabi.Errno)
	GetReadSignaler() *waiter.Signaler
}

// TerminalImpl is the common buffering behavior every terminal shares
// (original: term/terminal.cpp's terminal_impl), minus the ANSI
// escape-code state machine a VGA/telnet console layers on top (out of
// scope here). Output is forwarded to sink with optional LF->CRLF
// translation; keystrokes queue in a fixed-size buffer and are optionally
// echoed back out.
type TerminalImpl struct {
	name string
	sink OutputSink

	mu        sync.Mutex
	keystroke []byte
	echoing   bool
	lfToCRLF  bool

	readGate *waiter.Gate
}

// NewTerminalImpl creates a terminal named name whose output is forwarded
// to sink. Echoing and LF->CRLF translation start enabled, matching the
// original's defaults.
func NewTerminalImpl(name string, sink OutputSink) *TerminalImpl {
	return &TerminalImpl{name: name, sink: sink, echoing: true, lfToCRLF: true, readGate: waiter.NewGate()}
}

func (t *TerminalImpl) Name() string { return t.name }

// WriteOutput forwards data to the sink, translating a bare '\n' to "\r\n"
// when lfToCRLF is set (original: write_output_token's CR-before-LF rule).
func (t *TerminalImpl) WriteOutput(ctx context.Context, data []byte) cloudabi.Errno {
	t.mu.Lock()
	crlf := t.lfToCRLF
	t.mu.Unlock()

	if !crlf {
		return t.sink(data)
	}
	out := make([]byte, 0, len(data)+8)
	for _, b := range data {
		if b == '\n' {
			out = append(out, '\r')
		}
		out = append(out, b)
	}
	return t.sink(out)
}

// WriteKeystrokes appends data to the fixed keystroke buffer (excess bytes
// beyond keystrokeBufferBytes are dropped, same clipping behavior as the
// original's memcpy-bounded copy_to_buffer) and, if echoing is on, also
// sends it through WriteOutput.
func (t *TerminalImpl) WriteKeystrokes(ctx context.Context, data []byte) cloudabi.Errno {
	t.mu.Lock()
	room := keystrokeBufferBytes - len(t.keystroke)
	if room < 0 {
		room = 0
	}
	n := len(data)
	if n > room {
		n = room
	}
	t.keystroke = append(t.keystroke, data[:n]...)
	echoing := t.echoing
	t.mu.Unlock()
	t.readGate.Fire()

	if echoing {
		return t.WriteOutput(ctx, data[:n])
	}
	return cloudabi.ESuccess
}

// ReadKeystrokes blocks until the keystroke buffer is non-empty, then
// drains up to len(buf) bytes from its front.
func (t *TerminalImpl) ReadKeystrokes(ctx context.Context, buf []byte) (int, cloudabi.Errno) {
	for {
		t.mu.Lock()
		if len(t.keystroke) > 0 {
			break
		}
		t.mu.Unlock()
		cond := waiter.NewCondition(nil)
		sig := t.readGate.Current()
		ch := sig.Attach(cond)
		t.mu.Lock()
		ready := len(t.keystroke) > 0
		t.mu.Unlock()
		if ready {
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
	n := copy(buf, t.keystroke)
	t.keystroke = t.keystroke[n:]
	t.mu.Unlock()
	return n, cloudabi.ESuccess
}

func (t *TerminalImpl) GetReadSignaler() *waiter.Signaler { return t.readGate.Current() }

// TerminalFD is the character-device FD that exposes a Terminal to a
// process (original: term/terminal_fd.cpp): read drains keystrokes, write
// sends output.
type TerminalFD struct {
	vfs.BaseFD
	term Terminal
}

// NewTerminalFD wraps term as a character-device FD.
func NewTerminalFD(term Terminal, fdflags cloudabi.FDFlags) *TerminalFD {
	f := &TerminalFD{term: term}
	f.InitBaseFD(cloudabi.FiletypeCharacterDevice, "terminal_fd to "+term.Name())
	f.SetFlags(fdflags)
	return f
}

func (f *TerminalFD) Read(ctx context.Context, iov [][]byte) (int, cloudabi.Errno) {
	total := 0
	for _, v := range iov {
		n, errno := f.term.ReadKeystrokes(ctx, v)
		total += n
		if errno != cloudabi.ESuccess {
			return total, errno
		}
		if n < len(v) {
			break
		}
	}
	return total, cloudabi.ESuccess
}

func (f *TerminalFD) Write(ctx context.Context, iov [][]byte) (int, cloudabi.Errno) {
	data := vfs.CopyIn(iov, 0)
	if errno := f.term.WriteOutput(ctx, data); errno != cloudabi.ESuccess {
		return 0, errno
	}
	return len(data), cloudabi.ESuccess
}

func (f *TerminalFD) GetReadSignaler() *waiter.Signaler { return f.term.GetReadSignaler() }
