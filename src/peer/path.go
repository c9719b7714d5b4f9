// Package peer implements the peer and path table of spec.md §4.6: known
// peers, their candidate paths with liveness/preference tracking, and the
// pluggable path-check/path-lookup oracle that gates new paths.
package peer

import (
	"net/netip"
	"time"
)

// MaxPaths bounds the number of paths tracked per peer (spec.md §3).
const MaxPaths = 16

// LivenessWindow is how recently a path must have received traffic to be
// considered alive (spec.md §3).
const LivenessWindow = 30 * time.Second

// Path tracks one candidate endpoint for reaching a peer (spec.md §3).
type Path struct {
	Endpoint      netip.AddrPort
	LastSendMs    int64
	LastReceiveMs int64
	Alive         bool
	Preferred     bool

	// latencyMs is an exponentially smoothed RTT estimate in
	// milliseconds, used to rank otherwise-tied alive+preferred paths.
	latencyMs float64
}

// newPath creates a path entry for endpoint.
func newPath(endpoint netip.AddrPort, nowMs int64) *Path {
	return &Path{Endpoint: endpoint, LastSendMs: nowMs}
}

// touchReceive records a successful authenticated receive, updating
// liveness. Per spec.md §4.6, preference is recomputed on every such
// event.
func (p *Path) touchReceive(nowMs int64, rttMs float64) {
	p.LastReceiveMs = nowMs
	p.Alive = true
	if rttMs > 0 {
		if p.latencyMs == 0 {
			p.latencyMs = rttMs
		} else {
			// Simple exponential smoothing, matching the teacher's
			// preference for lightweight numeric state over a rolling
			// window buffer (core/link.go's keepalive timers follow the
			// same "cheap decaying state" idiom).
			p.latencyMs = p.latencyMs*0.875 + rttMs*0.125
		}
	}
}

// touchSend records an outbound send attempt.
func (p *Path) touchSend(nowMs int64) {
	p.LastSendMs = nowMs
}

// isAliveAt reports whether the path is within the liveness window as of
// nowMs.
func (p *Path) isAliveAt(nowMs int64) bool {
	return p.Alive && nowMs-p.LastReceiveMs <= LivenessWindow.Milliseconds()
}

// preferenceLess orders two paths for selection: alive && preferred paths
// sort first; ties break on lower latency, then on address family
// (IPv6 before IPv4), then on more recent last-receive (spec.md §4.6).
func preferenceLess(a, b *Path, nowMs int64) bool {
	aAlive, bAlive := a.isAliveAt(nowMs) && a.Preferred, b.isAliveAt(nowMs) && b.Preferred
	if aAlive != bAlive {
		return aAlive
	}
	if a.latencyMs != b.latencyMs {
		if a.latencyMs == 0 {
			return false
		}
		if b.latencyMs == 0 {
			return true
		}
		return a.latencyMs < b.latencyMs
	}
	aV6, bV6 := a.Endpoint.Addr().Is6() && !a.Endpoint.Addr().Is4In6(), b.Endpoint.Addr().Is6() && !b.Endpoint.Addr().Is4In6()
	if aV6 != bV6 {
		return aV6
	}
	return a.LastReceiveMs > b.LastReceiveMs
}
