// Package ifstore implements the interface store of spec §6: a registry of
// host network interfaces, enumerated and addressed only for their names,
// MAC addresses, link type, and raw-frame plumbing (spec §1's Non-goal
// "networking stack implementation (raw-frame plumbing and interface
// registration only)" keeps anything above the link layer out of scope).
//
// Grounded on original_source/fd/ifstoresock.cpp's handle_command (the
// LIST/MAC/HWTYPE/RAWSOCK/PSEUDOPAIR/COPY command set) and
// net/interface_store.hpp's listing (get_interface/get_interfaces), backed
// by github.com/vishvananda/netlink and github.com/vishvananda/netns per
// SPEC_FULL.md §3's domain-stack row for them: real interface enumeration
// on the host the kernel binary runs on, rather than a synthetic interface
// list.
package ifstore

import (
	"fmt"
	"net"
	"sort"
	"sync"

	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
)

// HWType mirrors original_source's interface::hwtype_t enum.
type HWType int

const (
	HWUnknown HWType = iota
	HWLoopback
	HWEthernet
)

func (h HWType) String() string {
	switch h {
	case HWLoopback:
		return "LOOPBACK"
	case HWEthernet:
		return "ETHERNET"
	default:
		return "UNKNOWN"
	}
}

// Interface is one host network interface as this kernel is willing to
// describe it: a name, a MAC address and a coarse link type. Nothing above
// the link layer (addresses, routes, protocols) is modeled.
type Interface struct {
	Name  string
	MAC   net.HardwareAddr
	HW    HWType
	Index int
}

// Store enumerates host interfaces through one netlink handle bound to the
// network namespace captured at construction time (spec §9 design note:
// the store's view of "the network" is fixed for its lifetime, matching
// the original's static interface list built once at boot).
type Store struct {
	mu     sync.Mutex
	ns     netns.NsHandle
	handle *netlink.Handle
}

// NewStore captures the calling goroutine's current network namespace and
// opens a netlink handle scoped to it.
func NewStore() (*Store, error) {
	ns, err := netns.Get()
	if err != nil {
		return nil, fmt.Errorf("ifstore: capturing network namespace: %w", err)
	}
	handle, err := netlink.NewHandleAt(ns)
	if err != nil {
		ns.Close()
		return nil, fmt.Errorf("ifstore: opening netlink handle: %w", err)
	}
	return &Store{ns: ns, handle: handle}, nil
}

// Close releases the store's netlink handle and namespace reference.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handle.Delete()
	s.ns.Close()
}

// List returns every interface the store's namespace exposes, sorted by
// name (original: get_interfaces() is a singly-linked list in registration
// order; LIST sorts nothing, but a stable order makes this kernel's output
// deterministic, which the original's registration-order list happened to
// be for a fixed set of boot-time devices).
func (s *Store) List() ([]Interface, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	links, err := s.handle.LinkList()
	if err != nil {
		return nil, fmt.Errorf("ifstore: listing links: %w", err)
	}
	out := make([]Interface, 0, len(links))
	for _, l := range links {
		out = append(out, fromLink(l))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Get looks up one interface by name (original: get_interface(name)).
func (s *Store) Get(name string) (Interface, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, err := s.handle.LinkByName(name)
	if err != nil {
		return Interface{}, false
	}
	return fromLink(l), true
}

func fromLink(l netlink.Link) Interface {
	attrs := l.Attrs()
	return Interface{
		Name:  attrs.Name,
		MAC:   attrs.HardwareAddr,
		Index: attrs.Index,
		HW:    classify(attrs),
	}
}

// classify maps netlink's ARPHRD-derived EncapType string onto the
// original's two-case hwtype_t (loopback, ethernet), falling back to
// unknown exactly as interface::get_hwtype()'s default case did.
func classify(attrs *netlink.LinkAttrs) HWType {
	switch attrs.EncapType {
	case "loopback":
		return HWLoopback
	case "ether":
		return HWEthernet
	default:
		return HWUnknown
	}
}
