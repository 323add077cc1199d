// Package initrd implements the boot-time read-only filesystem of spec
// §4.11: a ustar tar image, handed to the kernel as a Multiboot module, is
// parsed once at boot into an in-memory index and exposed through the
// uniform vfs.FD contract.
//
// Grounded on spec §4.11 directly (no initrdfs.cpp body was retrieved in
// the pack, only its listing) and gVisor's fsutil/tmpfs read-only-file
// shape for the FD glue. Tar parsing uses the standard library's
// archive/tar: none of the example repos' dependency set (btree,
// subcommands, uuid, netlink, netns, x/sync, x/sys, protobuf) addresses tar
// decoding, and ustar is exactly the format archive/tar exists for, so this
// is the one place in the module that does not reach for a pack library
// (see DESIGN.md).
package initrd

import (
	"archive/tar"
	"bytes"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/sgielen/cosixgo/pkg/abi/cloudabi"
	"github.com/sgielen/cosixgo/pkg/vfs"
)

// node is one tar entry, indexed by its 1-based header ordinal (spec §4.11:
// "inode numbers are the 1-based ordinal position of the entry's header
// within the image").
type node struct {
	inode      uint64
	name       string // cleaned, no leading slash; "" is the root
	isDir      bool
	isSymlink  bool
	linkTarget string
	data       []byte
}

// FS is the parsed, immutable view of one tar image. Lookups are linear
// scans over the entry list rather than an index structure, mirroring the
// source's minimal boot-time filesystem (spec §4.11: lookup cost is not a
// concern for a handful of boot-time files).
type FS struct {
	nodes []*node
}

// Load parses a ustar image into an FS. The image's own root directory
// entry is optional; if absent, a synthetic empty root is assumed.
func Load(image []byte) (*FS, error) {
	tr := tar.NewReader(bytes.NewReader(image))
	fs := &FS{}
	haveRoot := false
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, err
		}
		name := cleanName(hdr.Name)
		n := &node{
			inode:      uint64(len(fs.nodes) + 1),
			name:       name,
			isDir:      hdr.Typeflag == tar.TypeDir,
			isSymlink:  hdr.Typeflag == tar.TypeSymlink,
			linkTarget: hdr.Linkname,
			data:       data,
		}
		fs.nodes = append(fs.nodes, n)
		if name == "" {
			haveRoot = true
		}
	}
	if !haveRoot {
		fs.nodes = append([]*node{{inode: 0, name: "", isDir: true}}, fs.nodes...)
	}
	return fs, nil
}

func cleanName(name string) string {
	return strings.Trim(path.Clean("/"+name), "/")
}

func (fs *FS) root() *node {
	for _, n := range fs.nodes {
		if n.name == "" {
			return n
		}
	}
	return &node{name: "", isDir: true}
}

func (fs *FS) lookup(dirName, component string) *node {
	full := component
	if dirName != "" {
		full = dirName + "/" + component
	}
	for _, n := range fs.nodes {
		if n.name == full {
			return n
		}
	}
	return nil
}

// children returns the direct children of dirName, sorted by name for
// stable readdir cookies (spec §4.11: "readdir filters entries whose name
// begins with the directory's path plus exactly one slash and no further
// slash").
func (fs *FS) children(dirName string) []*node {
	prefix := dirName + "/"
	if dirName == "" {
		prefix = ""
	}
	var out []*node
	for _, n := range fs.nodes {
		if n.name == dirName || n.name == "" {
			continue
		}
		if !strings.HasPrefix(n.name, prefix) {
			continue
		}
		rest := strings.TrimPrefix(n.name, prefix)
		if rest == "" || strings.Contains(rest, "/") {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// Root returns the FD for the filesystem's root directory.
func (fs *FS) Root() vfs.FD {
	return newFD(fs, fs.root())
}

func basename(name string) string {
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		return name[i+1:]
	}
	return name
}

func filetypeOf(n *node) cloudabi.FileType {
	switch {
	case n.isDir:
		return cloudabi.FiletypeDirectory
	case n.isSymlink:
		return cloudabi.FiletypeSymbolicLink
	default:
		return cloudabi.FiletypeRegularFile
	}
}
