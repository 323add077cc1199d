package pseudofd_test

import (
	"testing"
	"time"

	"github.com/sgielen/cosixgo/pkg/abi/cloudabi"
	"github.com/sgielen/cosixgo/pkg/context"
	"github.com/sgielen/cosixgo/pkg/vfs"
	"github.com/sgielen/cosixgo/pkg/vfs/pseudofd"
	"github.com/sgielen/cosixgo/pkg/vfs/unixsock"
)

type fakeHandler struct {
	pseudofd.BaseHandler
	data     []byte
	children map[string]*fakeHandler
	readable bool
}

func (h *fakeHandler) PRead(ctx context.Context, offset int64, length int) ([]byte, cloudabi.Errno) {
	if offset >= int64(len(h.data)) {
		return nil, cloudabi.ESuccess
	}
	end := offset + int64(length)
	if end > int64(len(h.data)) {
		end = int64(len(h.data))
	}
	return h.data[offset:end], cloudabi.ESuccess
}

func (h *fakeHandler) PWrite(ctx context.Context, offset int64, data []byte) (int, cloudabi.Errno) {
	end := offset + int64(len(data))
	if end > int64(len(h.data)) {
		grown := make([]byte, end)
		copy(grown, h.data)
		h.data = grown
	}
	copy(h.data[offset:], data)
	return len(data), cloudabi.ESuccess
}

func (h *fakeHandler) StatFGet(ctx context.Context) (vfs.Stat, cloudabi.Errno) {
	return vfs.Stat{Size: uint64(len(h.data)), FileType: cloudabi.FiletypeRegularFile}, cloudabi.ESuccess
}

func (h *fakeHandler) Open(ctx context.Context, path string, lookup cloudabi.LookupFlags, oflags cloudabi.OFlags, rb, ri cloudabi.Rights, fdflags cloudabi.FDFlags) (pseudofd.Handler, vfs.Stat, cloudabi.Errno) {
	child, ok := h.children[path]
	if !ok {
		return nil, vfs.Stat{}, cloudabi.ENoEnt
	}
	return child, vfs.Stat{FileType: cloudabi.FiletypeRegularFile, Size: uint64(len(child.data))}, cloudabi.ESuccess
}

func (h *fakeHandler) Readdir(ctx context.Context, cookie uint64, limit int) ([]vfs.DirEntry, cloudabi.Errno) {
	var entries []vfs.DirEntry
	var i uint64
	for name := range h.children {
		i++
		if i <= cookie {
			continue
		}
		entries = append(entries, vfs.DirEntry{Next: i, Name: name, FileType: cloudabi.FiletypeRegularFile})
		if len(entries) >= limit {
			break
		}
	}
	return entries, cloudabi.ESuccess
}

func (h *fakeHandler) IsReadable(ctx context.Context) (bool, cloudabi.Errno) {
	return h.readable, cloudabi.ESuccess
}

func newBridge(t *testing.T, handler pseudofd.Handler) *pseudofd.PseudoFD {
	t.Helper()
	store := unixsock.NewStore()
	pairs := func() (vfs.FD, vfs.FD) {
		return unixsock.NewPair(store, true)
	}
	serverEnd, clientEnd := pairs()
	pseudofd.Serve(serverEnd, handler, pairs)
	return pseudofd.New(clientEnd, cloudabi.FiletypeRegularFile, "bridge")
}

func TestPReadPWriteRoundtrip(t *testing.T) {
	ctx := context.Background()
	p := newBridge(t, &fakeHandler{})

	if n, errno := p.PWrite(ctx, [][]byte{[]byte("hello world")}, 0); errno != cloudabi.ESuccess || n != 11 {
		t.Fatalf("pwrite: n=%d errno=%v", n, errno)
	}
	buf := make([]byte, 5)
	n, errno := p.PRead(ctx, [][]byte{buf}, 6)
	if errno != cloudabi.ESuccess || string(buf[:n]) != "world" {
		t.Fatalf("pread: %q errno=%v", buf[:n], errno)
	}
}

func TestStatFGetReportsSize(t *testing.T) {
	ctx := context.Background()
	p := newBridge(t, &fakeHandler{data: []byte("abcdef")})
	st, errno := p.StatFGet(ctx)
	if errno != cloudabi.ESuccess || st.Size != 6 {
		t.Fatalf("statfget: size=%d errno=%v", st.Size, errno)
	}
}

func TestSeekEndUsesStatSize(t *testing.T) {
	ctx := context.Background()
	p := newBridge(t, &fakeHandler{data: []byte("abcdef")})
	off, errno := p.Seek(ctx, -2, cloudabi.WhenceEnd)
	if errno != cloudabi.ESuccess || off != 4 {
		t.Fatalf("seek: off=%d errno=%v", off, errno)
	}
}

func TestOpenAtDescendsIntoChild(t *testing.T) {
	ctx := context.Background()
	root := &fakeHandler{children: map[string]*fakeHandler{
		"child.txt": {data: []byte("payload")},
	}}
	p := newBridge(t, root)

	child, errno := p.OpenAt(ctx, "child.txt", 0, 0, cloudabi.RightFDRead, 0, 0)
	if errno != cloudabi.ESuccess {
		t.Fatalf("openat: %v", errno)
	}
	buf := make([]byte, 16)
	n, errno := child.Read(ctx, [][]byte{buf})
	if errno != cloudabi.ESuccess || string(buf[:n]) != "payload" {
		t.Fatalf("child read: %q errno=%v", buf[:n], errno)
	}
}

func TestOpenAtMissingChildFailsNoEnt(t *testing.T) {
	ctx := context.Background()
	p := newBridge(t, &fakeHandler{children: map[string]*fakeHandler{}})
	if _, errno := p.OpenAt(ctx, "missing", 0, 0, 0, 0, 0); errno != cloudabi.ENoEnt {
		t.Fatalf("openat(missing) = %v, want ENoEnt", errno)
	}
}

func TestReaddirListsChildren(t *testing.T) {
	ctx := context.Background()
	p := newBridge(t, &fakeHandler{children: map[string]*fakeHandler{"a": {}, "b": {}}})
	entries, errno := p.ReadDir(ctx, 0, 10)
	if errno != cloudabi.ESuccess || len(entries) != 2 {
		t.Fatalf("readdir: entries=%v errno=%v", entries, errno)
	}
}

func TestIsReadablePolling(t *testing.T) {
	ctx := context.Background()
	p := newBridge(t, &fakeHandler{readable: true})
	readable, errno := p.IsReadable(ctx)
	if errno != cloudabi.ESuccess || !readable {
		t.Fatalf("is_readable: %v errno=%v", readable, errno)
	}
}

func TestPeerCloseFailsSubsequentOpsNotConnected(t *testing.T) {
	ctx := context.Background()
	store := unixsock.NewStore()
	serverEnd, clientEnd := unixsock.NewPair(store, true)
	pairs := func() (vfs.FD, vfs.FD) { return unixsock.NewPair(store, true) }
	pseudofd.Serve(serverEnd, &fakeHandler{}, pairs)
	p := pseudofd.New(clientEnd, cloudabi.FiletypeRegularFile, "bridge")

	serverEnd.DecRef()

	// Give the background reader a chance to observe the peer drop; the
	// call itself also surfaces the failure synchronously once the
	// connection is marked broken.
	for i := 0; i < 200; i++ {
		if _, errno := p.StatFGet(ctx); errno == cloudabi.ENotConn || errno == cloudabi.EPipe {
			return
		}
		time.Sleep(100 * time.Microsecond)
	}
	t.Fatal("expected a not-connected/pipe error after peer close")
}
