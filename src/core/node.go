package core

import (
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/Arceliar/phony"
	"github.com/gologme/log"

	"github.com/zerotier/node-core/src/buffer"
	"github.com/zerotier/node-core/src/cert"
	"github.com/zerotier/node-core/src/identity"
	"github.com/zerotier/node-core/src/peer"
	"github.com/zerotier/node-core/src/statestore"
	"github.com/zerotier/node-core/src/vl1"
	"github.com/zerotier/node-core/src/vl2"
)

// Node is the engine's single logical object (spec.md §4.1). Its entry
// points do their work inside its phony.Inbox, matching the teacher's
// actor idiom (SPEC_FULL.md §5); NetworkConfig is the exception and reads
// the network table directly. The tables it owns (peer table, network
// table, trust store) each also guard themselves with their own mutex.
type Node struct {
	phony.Inbox

	cb  Callbacks
	log Logger

	self  *identity.Identity
	store *statestore.Store

	peers    *peer.Table
	networks *vl2.Manager
	trust    *cert.TrustStore
	bufs     *buffer.Pool
	dedup    *vl1.Dedup
	frag     *vl1.Fragmenter

	sessions map[identity.Address]*vl1.Session

	insideDispatch atomic.Bool

	upEmitted      bool
	nextDeadlineMs int64

	pendingHTTP map[int64]struct{}
	deleted     bool
}

// New creates a node core instance (spec.md §4.1 "new"): it attempts to
// load IDENTITY_SECRET via StateGet; if absent, it generates a new
// identity and persists both the secret and public halves, then emits
// EVENT_UP exactly once, synchronously, before returning.
func New(cb Callbacks, now int64, logger Logger) (*Node, error) {
	if err := cb.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New(nopWriter{}, "", 0)
	}
	store := statestore.New(cb.StatePut)

	n := &Node{
		cb:          cb,
		log:         logger,
		store:       store,
		peers:       peer.NewTable(),
		networks:    vl2.NewManager(),
		trust:       cert.NewTrustStore(),
		bufs:        buffer.New(),
		dedup:       vl1.NewDedup(),
		frag:        vl1.NewFragmenter(vl1.DefaultPhysicalMTU),
		sessions:    make(map[identity.Address]*vl1.Session),
		pendingHTTP: make(map[int64]struct{}),
	}

	self, err := n.loadOrGenerateIdentity()
	if err != nil {
		return nil, err
	}
	n.self = self

	n.peers.IsLocalAddr = n.isLocalAddressSpace
	n.peers.WireSend = func(endpoint netip.AddrPort, data []byte) error {
		return n.cb.WirePacketSend(0, endpoint, data)
	}
	n.networks.VirtualConfig = n.onVirtualNetworkConfig
	n.networks.ConfigRequest = n.onConfigRequestNeeded

	n.nextDeadlineMs = now + backgroundTaskIntervalMs
	n.emitUp()
	return n, nil
}

// loadOrGenerateIdentity implements spec.md §4.1 / §8 scenarios 1-2: an
// absent IDENTITY_SECRET triggers generation and persistence of both
// halves; a present one is parsed and reused without generation. A stored
// IDENTITY_SECRET that fails to parse, or a failed write of a newly
// generated one, is fatal-data-store-failed (spec.md §4.5).
func (n *Node) loadOrGenerateIdentity() (*identity.Identity, error) {
	secretBytes, ok := n.store.MustGetIdentitySecret()
	if ok {
		id, err := identity.FromString(string(secretBytes))
		if err != nil {
			return nil, &statestore.ErrDataStoreFailed{
				Object: statestore.ObjectID{Type: statestore.ObjectIdentitySecret},
				Cause:  err,
			}
		}
		return id, nil
	}

	id, err := identity.Generate(identity.TypeC25519)
	if err != nil {
		return nil, &Error{Code: ResultInternal}
	}
	if err := n.store.Put(statestore.ObjectID{Type: statestore.ObjectIdentitySecret}, []byte(id.String(true))); err != nil {
		return nil, err
	}
	if err := n.store.Put(statestore.ObjectID{Type: statestore.ObjectIdentityPublic}, []byte(id.String(false))); err != nil {
		n.log.Warnln("core: failed to persist IDENTITY_PUBLIC:", err)
	}
	return id, nil
}

// Address returns the node's own 40-bit address (spec.md §8 scenario 1-2).
func (n *Node) Address() identity.Address { return n.self.Address() }

// Identity returns the node's own identity (public half always present,
// private half present unless this process never held it).
func (n *Node) Identity() *identity.Identity { return n.self }

// Peers returns a snapshot of every peer in the table, for use by the
// admin and monitoring surfaces.
func (n *Node) Peers() []*peer.Peer {
	var out []*peer.Peer
	phony.Block(n, func() { out = n.peers.All() })
	return out
}

// Networks returns a snapshot of every joined network's configuration.
func (n *Node) Networks() []*vl2.Network {
	var out []*vl2.Network
	phony.Block(n, func() { out = n.networks.All() })
	return out
}

func (n *Node) emitUp() {
	if n.upEmitted {
		return
	}
	n.upEmitted = true
	n.cb.Event(Event{Type: EventUp})
}

// Delete releases all node-owned state and emits EVENT_DOWN (spec.md
// §4.1). The host must have quiesced other callers first; concurrent
// ingestion during Delete is undefined, matching spec.md §4.1 verbatim.
func (n *Node) Delete() {
	phony.Block(n, func() {
		if n.deleted {
			return
		}
		n.deleted = true
		n.cb.Event(Event{Type: EventDown})
	})
}

// enterDispatch / exitDispatch implement the reentrancy rule of spec.md
// §5 and §9: callbacks invoked synchronously from inside a process call
// must not turn around and call a mutating API on the same goroutine.
func (n *Node) enterDispatch() bool {
	return n.insideDispatch.CompareAndSwap(false, true)
}

func (n *Node) exitDispatch() {
	n.insideDispatch.Store(false)
}

func (n *Node) isLocalAddressSpace(netip.AddrPort) bool {
	// The node core has no TAP/TUN interface of its own in this
	// engine-only build (spec.md §1 Out of scope); there is therefore no
	// locally-assigned address space to refuse paths into. A host that
	// does bridge a virtual network onto a real interface is expected to
	// supply its own PathCheck that refuses that interface's addresses.
	return false
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

const backgroundTaskIntervalMs = int64(time.Second / time.Millisecond)

func msToTime(ms int64) time.Time {
	return time.UnixMilli(ms)
}
