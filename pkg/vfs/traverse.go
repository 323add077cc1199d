package vfs

import (
	"strings"

	"github.com/sgielen/cosixgo/pkg/abi/cloudabi"
	"github.com/sgielen/cosixgo/pkg/context"
)

// maxSymlinkFollows bounds recursive symlink resolution (spec §4.8:
// "following more than 32 symlinks in one resolution fails with ELOOP",
// matching the source's path walk loop guard).
const maxSymlinkFollows = 32

// Individual directory FD implementations only ever see one path component
// at a time through OpenAt/FileStatGet/etc: Traverse is what turns a
// syscall's full relative path into that sequence of single-component
// descents, confined to root the whole way (spec §4.8: "path resolution
// never leaves the FD it started from; there is no global root and no way
// to name an ancestor of the starting FD").
//
// Grounded on original_source/fd/vfs.hpp's traverse() contract and gVisor's
// vfs.ResolvingPath walk loop (component-at-a-time, symlink re-entry via a
// bounded counter rather than unbounded recursion).

// OpenAt resolves path against root (which must itself be a directory FD)
// and opens the final component, descending one component at a time and
// confining the walk to root: a ".." at the root boundary is rejected
// rather than escaping upward (spec §4.8, the capability confinement
// invariant), and symlinks encountered mid-path are followed up to
// maxSymlinkFollows times.
func OpenAt(ctx context.Context, root FD, path string, lookup cloudabi.LookupFlags, oflags cloudabi.OFlags, rightsBase, rightsInheriting cloudabi.Rights, fdflags cloudabi.FDFlags) (FD, cloudabi.Errno) {
	return openAt(ctx, root, path, lookup, oflags, rightsBase, rightsInheriting, fdflags, 0)
}

func openAt(ctx context.Context, root FD, path string, lookup cloudabi.LookupFlags, oflags cloudabi.OFlags, rightsBase, rightsInheriting cloudabi.Rights, fdflags cloudabi.FDFlags, follows int) (FD, cloudabi.Errno) {
	if path == "" {
		return nil, cloudabi.EInval
	}
	if strings.HasPrefix(path, "/") {
		// Capability model: there is no global root, and spec §4.8 is
		// explicit that absolute paths are never honoured — a leading
		// slash fails not-capable rather than being resolved relative
		// to root.
		return nil, cloudabi.ENotCapable
	}

	// cur is the traversal's own temporary strong reference to the
	// directory it is currently positioned at; released via the closure
	// below regardless of which return statement fires (a closure, not a
	// bound method value, so it reads cur's value at return time rather
	// than capturing it at defer time).
	cur := root
	cur.IncRef()
	defer func() { cur.DecRef() }()

	comps, trailingSlash := splitPath(path)
	for i, comp := range comps {
		last := i == len(comps)-1
		switch comp {
		case ".":
			continue
		case "..":
			// Root-confined: cannot walk above the FD traversal
			// started from.
			return nil, cloudabi.ENotCapable
		}

		if !last {
			next, errno := cur.OpenAt(ctx, comp, cloudabi.LookupSymlinkFollow, 0,
				cloudabi.RightFileReaddir|cloudabi.RightFileOpen, rightsInheriting, 0)
			if errno != cloudabi.ESuccess {
				return nil, errno
			}
			if next.FileType() == cloudabi.FiletypeSymbolicLink {
				if follows >= maxSymlinkFollows {
					next.DecRef()
					return nil, cloudabi.ELoop
				}
				target, rerr := next.FileReadlink(ctx, "")
				next.DecRef()
				if rerr != cloudabi.ESuccess {
					return nil, rerr
				}
				rest := target + "/" + strings.Join(comps[i+1:], "/")
				if trailingSlash {
					rest += "/"
				}
				return openAt(ctx, cur, rest, lookup, oflags, rightsBase, rightsInheriting, fdflags, follows+1)
			}
			cur.DecRef()
			cur = next
			continue
		}

		// Final component.
		leafOflags := oflags
		if trailingSlash {
			leafOflags |= cloudabi.ODirectory
		}
		leaf, errno := cur.OpenAt(ctx, comp, lookup, leafOflags, rightsBase, rightsInheriting, fdflags)
		if errno != cloudabi.ESuccess {
			return nil, errno
		}
		if leaf.FileType() == cloudabi.FiletypeSymbolicLink && lookup&cloudabi.LookupSymlinkFollow != 0 {
			if follows >= maxSymlinkFollows {
				leaf.DecRef()
				return nil, cloudabi.ELoop
			}
			target, rerr := leaf.FileReadlink(ctx, "")
			leaf.DecRef()
			if rerr != cloudabi.ESuccess {
				return nil, rerr
			}
			return openAt(ctx, cur, target, lookup, oflags, rightsBase, rightsInheriting, fdflags, follows+1)
		}
		return leaf, cloudabi.ESuccess
	}

	// Path was all "." components (or empty after trimming): return a new
	// reference to the starting directory itself.
	cur.IncRef()
	return cur, cloudabi.ESuccess
}

// StatAt resolves path to a Stat without leaving an FD open, for
// file_stat_get / path_stat-style syscalls.
func StatAt(ctx context.Context, root FD, path string, lookup cloudabi.LookupFlags) (cloudabiStat Stat, errno cloudabi.Errno) {
	comps, _ := splitPath(path)
	if len(comps) == 0 {
		return root.StatFGet(ctx)
	}
	parentPath := strings.Join(comps[:len(comps)-1], "/")
	leaf := comps[len(comps)-1]
	parent := root
	if parentPath != "" {
		var perrno cloudabi.Errno
		parent, perrno = OpenAt(ctx, root, parentPath, cloudabi.LookupSymlinkFollow, 0,
			cloudabi.RightFileReaddir, cloudabi.RightFileOpen, 0)
		if perrno != cloudabi.ESuccess {
			return Stat{}, perrno
		}
		defer parent.DecRef()
	}
	return parent.FileStatGet(ctx, leaf, lookup)
}

// splitPath breaks a relative path into its non-empty components and
// reports whether the original path ended in a slash (the cloudabi
// "must be a directory" marker).
func splitPath(path string) (comps []string, trailingSlash bool) {
	trailingSlash = strings.HasSuffix(path, "/")
	for _, c := range strings.Split(path, "/") {
		if c != "" {
			comps = append(comps, c)
		}
	}
	return comps, trailingSlash
}
