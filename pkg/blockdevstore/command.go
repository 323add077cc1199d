package blockdevstore

import (
	"strings"

	"github.com/sgielen/cosixgo/pkg/abi/cloudabi"
	"github.com/sgielen/cosixgo/pkg/context"
	"github.com/sgielen/cosixgo/pkg/vfs"
	"github.com/sgielen/cosixgo/pkg/vfs/leaf"
)

// allRights mirrors the original's cloudabi_rights_t all_rights = -1, the
// same posture blockdevstoresock.cpp takes for every FD it hands back (a
// device it opens, or a copy of itself).
const allRights cloudabi.Rights = ^cloudabi.Rights(0)

// Command builds the leaf.CommandHandler implementing spec §6's
// block-device store protocol, grounded directly on
// blockdevstoresock.cpp's handle_command: LIST (newline-joined device
// names), FD (open a device by name), COPY (a fresh handle on this same
// store). Unlike the interface store, there is no MAC/HWTYPE/RAWSOCK or
// PSEUDOPAIR analogue — a block device only ever needs opening.
func Command(store *Store) leaf.CommandHandler {
	var handle leaf.CommandHandler
	handle = func(ctx context.Context, command, arg string) (string, []vfs.FDMapping) {
		switch command {
		case "LIST":
			var b strings.Builder
			for _, name := range store.Names() {
				b.WriteString(name)
				b.WriteByte('\n')
			}
			return b.String(), nil

		case "COPY":
			return "OK", []vfs.FDMapping{
				{FD: leaf.NewCommandSocket("blockdevstoresock", handle), RightsBase: allRights, RightsInheriting: allRights},
			}

		case "FD":
			if arg == "" {
				return "ERROR", nil
			}
			dev, ok := store.Get(arg)
			if !ok {
				return "NODEV", nil
			}
			return "OK", []vfs.FDMapping{{FD: dev, RightsBase: allRights, RightsInheriting: allRights}}
		}

		return "ERROR", nil
	}
	return handle
}

// NewCommandSocket wraps Command(store) as a ready-to-use command socket
// FD (spec §6: "the block-device store is addressed through a dedicated
// command socket FD").
func NewCommandSocket(store *Store) *leaf.CommandSocket {
	return leaf.NewCommandSocket("blockdevstoresock", Command(store))
}
