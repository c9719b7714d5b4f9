package peer

import (
	"net/netip"
	"sync"

	"github.com/zerotier/node-core/src/identity"
	"github.com/zerotier/node-core/src/locator"
)

// Peer is a known remote node (spec.md §3): its identity, reported
// version, measured latency, root flag, the networks it shares with us,
// and its candidate paths.
type Peer struct {
	mu sync.Mutex

	Address         identity.Address
	Identity         *identity.Identity
	ReportedVersion [3]uint16
	IsRoot          bool
	NetworkIDs      map[uint64]struct{}
	Locator         *locator.Locator

	paths []*Path
}

func newPeer(id *identity.Identity) *Peer {
	return &Peer{
		Address:    id.Address(),
		Identity:   id,
		NetworkIDs: make(map[uint64]struct{}),
	}
}

// Fingerprint returns the peer's strong identity.
func (p *Peer) Fingerprint() identity.Fingerprint {
	return p.Identity.Fingerprint()
}

// LatencyMs returns the smoothed RTT estimate of the currently preferred
// path, or 0 if no path has ever received a reply.
func (p *Peer) LatencyMs(nowMs int64) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	best := p.bestPathLocked(nowMs)
	if best == nil {
		return 0
	}
	return best.latencyMs
}

// Paths returns a snapshot of the peer's tracked paths.
func (p *Peer) Paths() []Path {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Path, len(p.paths))
	for i, pp := range p.paths {
		out[i] = *pp
	}
	return out
}

// BestPath returns the currently preferred path for sending traffic, or
// nil if the peer has no known path.
func (p *Peer) BestPath(nowMs int64) *Path {
	p.mu.Lock()
	defer p.mu.Unlock()
	best := p.bestPathLocked(nowMs)
	if best == nil {
		return nil
	}
	cp := *best
	return &cp
}

func (p *Peer) bestPathLocked(nowMs int64) *Path {
	var best *Path
	for _, pp := range p.paths {
		if best == nil || preferenceLess(pp, best, nowMs) {
			best = pp
		}
	}
	if best != nil {
		best.Preferred = true
		for _, pp := range p.paths {
			if pp != best {
				pp.Preferred = false
			}
		}
	}
	return best
}

// addOrTouchPath inserts endpoint as a candidate path if not already
// present, evicting the least-recently-received path under MaxPaths
// (spec.md §4.6: "Eviction: LRU on last_receive_ms when pathCount > 16").
func (p *Peer) addOrTouchPath(endpoint netip.AddrPort, nowMs int64) *Path {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pp := range p.paths {
		if pp.Endpoint == endpoint {
			return pp
		}
	}
	np := newPath(endpoint, nowMs)
	p.paths = append(p.paths, np)
	if len(p.paths) > MaxPaths {
		p.evictLRULocked()
	}
	return np
}

func (p *Peer) evictLRULocked() {
	lruIdx := 0
	for i, pp := range p.paths {
		if pp.LastReceiveMs < p.paths[lruIdx].LastReceiveMs {
			lruIdx = i
		}
	}
	p.paths = append(p.paths[:lruIdx], p.paths[lruIdx+1:]...)
}

// OnReceive records a successful authenticated receive from endpoint,
// updating that path's liveness and preference (spec.md §4.6).
func (p *Peer) OnReceive(endpoint netip.AddrPort, nowMs int64, rttMs float64) {
	path := p.addOrTouchPath(endpoint, nowMs)
	p.mu.Lock()
	path.touchReceive(nowMs, rttMs)
	p.bestPathLocked(nowMs)
	p.mu.Unlock()
}

// OnSend records an outbound send attempt to endpoint.
func (p *Peer) OnSend(endpoint netip.AddrPort, nowMs int64) {
	path := p.addOrTouchPath(endpoint, nowMs)
	p.mu.Lock()
	path.touchSend(nowMs)
	p.mu.Unlock()
}

// JoinNetwork / LeaveNetwork track which virtual networks this peer has
// been observed to share with the local node, used for multicast fan-out
// decisions in VL2.
func (p *Peer) JoinNetwork(nwid uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.NetworkIDs[nwid] = struct{}{}
}

func (p *Peer) LeaveNetwork(nwid uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.NetworkIDs, nwid)
}
