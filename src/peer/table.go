package peer

import (
	"net/netip"
	"sync"

	"github.com/zerotier/node-core/src/identity"
)

// WireSendFunc matches the host's wirePacketSend callback (spec.md §6);
// TryPeer invokes it synchronously when it is given a payload to send.
type WireSendFunc func(endpoint netip.AddrPort, data []byte) error

// PathCheckFunc is the optional host oracle consulted before accepting a
// new path for a peer (spec.md §4.6).
type PathCheckFunc func(address identity.Address, endpoint netip.AddrPort) bool

// PathLookupFunc is the optional host oracle used to suggest additional
// endpoints to try for a given peer (spec.md §4.6).
type PathLookupFunc func(address identity.Address) []netip.AddrPort

// LocalAddressSpaceFunc reports whether endpoint falls inside the local
// ZeroTier-assigned address space, which must always be refused as a path
// regardless of PathCheckFunc (spec.md §4.6).
type LocalAddressSpaceFunc func(endpoint netip.AddrPort) bool

// Table is the node's peer and path table (spec.md §3, §4.6). All methods
// are safe for concurrent use.
type Table struct {
	mu    sync.RWMutex
	byAddr map[identity.Address]*Peer
	roots  map[identity.Address]struct{}

	PathCheck   PathCheckFunc
	PathLookup  PathLookupFunc
	IsLocalAddr LocalAddressSpaceFunc
	WireSend    WireSendFunc
}

// NewTable creates an empty peer table.
func NewTable() *Table {
	return &Table{
		byAddr: make(map[identity.Address]*Peer),
		roots:  make(map[identity.Address]struct{}),
	}
}

// AddPeer idempotently inserts id into the table. It does not authorize
// the peer on any network (spec.md §4.6).
func (t *Table) AddPeer(id *identity.Identity) *Peer {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.byAddr[id.Address()]; ok {
		return p
	}
	p := newPeer(id)
	t.byAddr[id.Address()] = p
	return p
}

// Get returns the peer at address, if known.
func (t *Table) Get(address identity.Address) (*Peer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.byAddr[address]
	return p, ok
}

// GetByFingerprint returns the peer matching fp. A zero hash in fp means
// "match by address only" (spec.md §4.6).
func (t *Table) GetByFingerprint(fp identity.Fingerprint) (*Peer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.byAddr[fp.Address]
	if !ok {
		return nil, false
	}
	if !fp.IsZeroHash() && !p.Fingerprint().Equal(fp) {
		return nil, false
	}
	return p, true
}

// All returns a snapshot of every known peer.
func (t *Table) All() []*Peer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Peer, 0, len(t.byAddr))
	for _, p := range t.byAddr {
		out = append(out, p)
	}
	return out
}

// AddRoot flags id's peer entry as a root, adding it to the table first if
// necessary (spec.md §4.6).
func (t *Table) AddRoot(id *identity.Identity) *Peer {
	p := t.AddPeer(id)
	t.mu.Lock()
	t.roots[id.Address()] = struct{}{}
	t.mu.Unlock()
	p.mu.Lock()
	p.IsRoot = true
	p.mu.Unlock()
	return p
}

// RemoveRoot clears the root flag for address, if present.
func (t *Table) RemoveRoot(address identity.Address) {
	t.mu.Lock()
	delete(t.roots, address)
	p := t.byAddr[address]
	t.mu.Unlock()
	if p != nil {
		p.mu.Lock()
		p.IsRoot = false
		p.mu.Unlock()
	}
}

// Roots returns the table's current root peers.
func (t *Table) Roots() []*Peer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Peer, 0, len(t.roots))
	for addr := range t.roots {
		if p, ok := t.byAddr[addr]; ok {
			out = append(out, p)
		}
	}
	return out
}

// TryPeer schedules a contact attempt to endpoint for the peer identified
// by fp or, if fp carries a zero hash, by address alone. It consults the
// PathCheck oracle and unconditionally refuses any endpoint inside the
// local address space (spec.md §4.6). Returns false iff the target is not
// already in the table and no identity was supplied via knownIdentity to
// add it. now is the caller's clock (spec.md §5: the engine has no
// internal wall-clock source), stamped on the resulting send attempt.
func (t *Table) TryPeer(now int64, fp identity.Fingerprint, knownIdentity *identity.Identity, endpoint netip.AddrPort, payload []byte) bool {
	if t.IsLocalAddr != nil && t.IsLocalAddr(endpoint) {
		return false
	}

	p, ok := t.GetByFingerprint(fp)
	if !ok {
		if knownIdentity == nil {
			return false
		}
		p = t.AddPeer(knownIdentity)
	}

	if t.PathCheck != nil && !t.PathCheck(p.Address, endpoint) {
		return false
	}

	p.OnSend(endpoint, now)
	if t.WireSend != nil && payload != nil {
		_ = t.WireSend(endpoint, payload)
	}
	return true
}

// DiscoverPaths asks the PathLookup oracle (if any) for additional
// candidate endpoints for address and registers them as unconfirmed
// paths, to be confirmed by a future authenticated receive. now is the
// caller's clock (spec.md §5).
func (t *Table) DiscoverPaths(now int64, address identity.Address) {
	if t.PathLookup == nil {
		return
	}
	p, ok := t.Get(address)
	if !ok {
		return
	}
	for _, ep := range t.PathLookup(address) {
		if t.IsLocalAddr != nil && t.IsLocalAddr(ep) {
			continue
		}
		if t.PathCheck != nil && !t.PathCheck(address, ep) {
			continue
		}
		p.addOrTouchPath(ep, now)
	}
}

// AgeOut removes peers that are not flagged as roots and that either have
// no path or whose best path has had no authenticated receive within
// idleWindowMs. Background task
// machinery (spec.md §4.1) calls this periodically.
func (t *Table) AgeOut(nowMs, idleWindowMs int64) []identity.Address {
	t.mu.Lock()
	defer t.mu.Unlock()
	var removed []identity.Address
	for addr, p := range t.byAddr {
		if p.IsRoot {
			continue
		}
		best := p.BestPath(nowMs)
		if best == nil || nowMs-best.LastReceiveMs > idleWindowMs {
			delete(t.byAddr, addr)
			removed = append(removed, addr)
		}
	}
	return removed
}
