package ifstore

import (
	"strings"

	"github.com/sgielen/cosixgo/pkg/abi/cloudabi"
	"github.com/sgielen/cosixgo/pkg/context"
	"github.com/sgielen/cosixgo/pkg/vfs"
	"github.com/sgielen/cosixgo/pkg/vfs/leaf"
	"github.com/sgielen/cosixgo/pkg/vfs/pseudofd"
	"github.com/sgielen/cosixgo/pkg/vfs/unixsock"
)

// allRights mirrors the original's cloudabi_rights_t all_rights = -1: a
// freshly minted FD handed back over a command socket carries every right,
// the same posture ifstoresock.cpp takes for every fd it mints (reverse
// sockets, pseudo FDs, raw sockets, copies of itself).
const allRights cloudabi.Rights = ^cloudabi.Rights(0)

// filetypeByName maps the PSEUDOPAIR argument's textual filetype name onto
// a cloudabi.FileType, the same small table ifstoresock.cpp's PSEUDOPAIR
// branch switches on.
func filetypeByName(name string) (cloudabi.FileType, bool) {
	switch name {
	case "", "DIRECTORY":
		return cloudabi.FiletypeDirectory, true
	case "REGULAR_FILE":
		return cloudabi.FiletypeRegularFile, true
	case "SOCKET_STREAM":
		return cloudabi.FiletypeSocketStream, true
	case "SOCKET_DGRAM":
		return cloudabi.FiletypeSocketDgram, true
	default:
		return 0, false
	}
}

// Lister is the lookup surface Command needs from an interface registry:
// exactly the read-only methods *Store exposes. Declared so tests can
// exercise the command protocol against a fake registry instead of the
// real netlink-backed Store, which depends on host network namespace
// access that isn't guaranteed to be available wherever this runs.
type Lister interface {
	List() ([]Interface, error)
	Get(name string) (Interface, bool)
}

// Command builds the leaf.CommandHandler implementing spec §6's interface
// store protocol (LIST/MAC/HWTYPE/RAWSOCK/PSEUDOPAIR/COPY), grounded
// directly on ifstoresock.cpp's handle_command. sockets is the kernel-wide
// unix-socket store new reverse-pair sockets are registered against.
func Command(store Lister, sockets *unixsock.Store) leaf.CommandHandler {
	var handle leaf.CommandHandler
	handle = func(ctx context.Context, command, arg string) (string, []vfs.FDMapping) {
		switch command {
		case "LIST":
			ifaces, err := store.List()
			if err != nil {
				return "ERROR", nil
			}
			var b strings.Builder
			for _, i := range ifaces {
				b.WriteString(i.Name)
				b.WriteByte('\n')
			}
			return b.String(), nil

		case "PSEUDOPAIR":
			ft, ok := filetypeByName(arg)
			if !ok {
				return "ERROR", nil
			}
			myReverse, theirReverse := unixsock.NewPair(sockets, true)
			pseudo := pseudofd.New(myReverse, ft, "pseudo")
			return "OK", []vfs.FDMapping{
				{FD: theirReverse, RightsBase: allRights, RightsInheriting: allRights},
				{FD: pseudo, RightsBase: allRights, RightsInheriting: allRights},
			}

		case "COPY":
			return "OK", []vfs.FDMapping{
				{FD: leaf.NewCommandSocket("ifstoresock", handle), RightsBase: allRights, RightsInheriting: allRights},
			}
		}

		if arg == "" {
			return "ERROR", nil
		}
		iface, ok := store.Get(arg)
		if !ok {
			return "NOIFACE", nil
		}

		switch command {
		case "MAC":
			if len(iface.MAC) == 0 {
				return "00:00:00:00:00:00", nil
			}
			return iface.MAC.String(), nil

		case "HWTYPE":
			return iface.HW.String(), nil

		case "RAWSOCK":
			sock, _, err := NewRawSocket(iface)
			if err != nil {
				return "ERROR", nil
			}
			return "OK", []vfs.FDMapping{{FD: sock, RightsBase: allRights, RightsInheriting: allRights}}
		}

		return "ERROR", nil
	}
	return handle
}

// NewCommandSocket wraps Command(store, sockets) as a ready-to-use command
// socket FD (spec §6: "the interface store is addressed through a
// dedicated command socket FD").
func NewCommandSocket(store *Store, sockets *unixsock.Store) *leaf.CommandSocket {
	return leaf.NewCommandSocket("ifstoresock", Command(store, sockets))
}
