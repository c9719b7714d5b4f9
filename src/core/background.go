package core

import (
	"time"

	"github.com/Arceliar/phony"

	"github.com/zerotier/node-core/src/vl2"
)

// peerIdleWindowMs is how long a non-root peer's best path may go without
// an authenticated receive before maintenance ages the peer out. Peer
// aging, trust-store pruning, and per-network config re-requests all run
// on the single backgroundTaskIntervalMs cadence (node.go) rather than
// their own independent timers, matching the teacher's single periodic
// tick idiom (src/core/core.go's doMaintenance).
const peerIdleWindowMs = int64(10 * time.Minute / time.Millisecond)

// ProcessBackgroundTasks runs periodic maintenance and returns the
// absolute millisecond timestamp at which the host should call it again
// (spec.md §4.1 "processBackgroundTasks"). It is safe to call early; the
// dispatcher simply does nothing and reports the same deadline back.
func (n *Node) ProcessBackgroundTasks(now int64) (nextDeadlineMs int64, code ResultCode) {
	if !n.enterDispatch() {
		return now + backgroundTaskIntervalMs, ResultBadParameter
	}
	defer n.exitDispatch()

	phony.Block(n, func() {
		if now < n.nextDeadlineMs {
			return
		}
		n.runMaintenanceLocked(now)
		n.nextDeadlineMs = now + backgroundTaskIntervalMs
	})
	return n.nextDeadlineMs, ResultOK
}

func (n *Node) runMaintenanceLocked(now int64) {
	removed := n.peers.AgeOut(now, peerIdleWindowMs)
	for _, addr := range removed {
		delete(n.sessions, addr)
	}

	n.trust.PruneExpired(msToTime(now))

	for _, net := range n.networks.All() {
		if net.Status == vl2.StatusRequestingConfig {
			n.onConfigRequestNeeded(now, net.NWID, vl2.ControllerAddress(net.NWID))
		}
	}
}
