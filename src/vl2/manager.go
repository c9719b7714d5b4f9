package vl2

import (
	"encoding/binary"
	"errors"
	"net/netip"
	"sync"

	"github.com/zerotier/node-core/src/identity"
	"github.com/zerotier/node-core/src/rule"
)

// ErrInvalidCredential is returned by ApplyConfig when a pinned
// controller fingerprint does not match the incoming config (spec.md
// §4.7).
var ErrInvalidCredential = errors.New("vl2: config controller fingerprint does not match pinned fingerprint")

// ConfigRequestFunc schedules a config request to the controller for
// nwid; Join invokes it when a network is first joined (spec.md §4.1,
// §4.7). now is the caller's clock (spec.md §5: the engine has no
// internal wall-clock source), threaded through from whatever entry point
// triggered the join.
type ConfigRequestFunc func(now int64, nwid uint64, controller identity.Address)

// VirtualNetworkConfigFunc matches the host callback of the same name
// (spec.md §6). The *Network handed to it is always a deep copy — per
// spec.md §9's note on pointer-aliased config lifetimes, the callback may
// retain it indefinitely. nwid is always supplied, even for OpDestroy
// where n is nil.
type VirtualNetworkConfigFunc func(nwid uint64, op Op, n *Network)

// Manager owns the set of joined virtual networks (spec.md §3, §4.7). All
// methods are safe for concurrent use; mutation happens under a single
// mutex matching the teacher's per-table locking idiom (src/peer.Table).
type Manager struct {
	mu       sync.Mutex
	networks map[uint64]*Network

	ConfigRequest  ConfigRequestFunc
	VirtualConfig  VirtualNetworkConfigFunc
}

// NewManager creates an empty virtual-network manager.
func NewManager() *Manager {
	return &Manager{networks: make(map[uint64]*Network)}
}

// Join adds nwid in REQUESTING_CONFIG and schedules a config request to
// its controller (spec.md §4.7). Idempotent: joining an already-joined
// network is a no-op that returns the existing network. now is the
// caller's clock (spec.md §5), passed through to ConfigRequest.
func (m *Manager) Join(now int64, nwid uint64, controllerFP *identity.Fingerprint) *Network {
	m.mu.Lock()
	if n, ok := m.networks[nwid]; ok {
		m.mu.Unlock()
		return n
	}
	n := newNetwork(nwid, controllerFP)
	m.networks[nwid] = n
	m.mu.Unlock()

	if m.ConfigRequest != nil {
		m.ConfigRequest(now, nwid, ControllerAddress(nwid))
	}
	if m.VirtualConfig != nil {
		m.VirtualConfig(nwid, OpUp, n.clone())
	}
	return n
}

// Leave removes nwid and emits DESTROY with a null config (spec.md §4.7).
// The Manager holds no persisted state; core's Node.Leave deletes the
// stored NETWORK_CONFIG object. After Leave returns, no further
// VirtualConfig or frame callbacks reference nwid (spec.md §8 invariant).
func (m *Manager) Leave(nwid uint64) {
	m.mu.Lock()
	_, ok := m.networks[nwid]
	delete(m.networks, nwid)
	m.mu.Unlock()
	if ok && m.VirtualConfig != nil {
		m.VirtualConfig(nwid, OpDestroy, nil)
	}
}

// Get returns the network at nwid, if joined.
func (m *Manager) Get(nwid uint64) (*Network, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.networks[nwid]
	return n, ok
}

// All returns a snapshot of every joined network.
func (m *Manager) All() []*Network {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Network, 0, len(m.networks))
	for _, n := range m.networks {
		out = append(out, n)
	}
	return out
}

// ApplyConfig installs a controller-issued config update. If the network
// pinned a controller fingerprint at Join time, a mismatched fromFP is
// rejected with ErrInvalidCredential (spec.md §4.7) and the network's
// status is left unchanged. NetconfRevision must increase monotonically
// per spec.md §5: once the network is OK, a non-increasing revision is
// ignored rather than erroring; before that, any revision is applied.
func (m *Manager) ApplyConfig(nwid uint64, fromFP identity.Fingerprint, update *Network) error {
	m.mu.Lock()
	n, ok := m.networks[nwid]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	if n.ControllerFingerprint != nil && !n.ControllerFingerprint.Equal(fromFP) {
		m.mu.Unlock()
		return ErrInvalidCredential
	}
	if update.NetconfRevision <= n.NetconfRevision && n.Status == StatusOK {
		m.mu.Unlock()
		return nil
	}
	wasRequesting := n.Status == StatusRequestingConfig
	update.NWID = nwid
	update.multicastGroups = n.multicastGroups
	if update.multicastGroups == nil {
		update.multicastGroups = make(map[groupKey]struct{})
	}
	update.Status = StatusOK
	m.networks[nwid] = update
	m.mu.Unlock()

	op := OpConfigUpdate
	if wasRequesting {
		op = OpUp
	}
	if m.VirtualConfig != nil {
		m.VirtualConfig(nwid, op, update.clone())
	}
	return nil
}

// Deny marks nwid ACCESS_DENIED or NOT_FOUND, e.g. after a controller
// error response (spec.md §3).
func (m *Manager) Deny(nwid uint64, status Status) {
	m.mu.Lock()
	n, ok := m.networks[nwid]
	if ok {
		n.Status = status
	}
	m.mu.Unlock()
	if ok && m.VirtualConfig != nil {
		m.VirtualConfig(nwid, OpConfigUpdate, n.clone())
	}
}

// MulticastSubscribe idempotently subscribes to (mac, adi). Per spec.md
// §4.7, for IPv4 ARP scalability hosts subscribe to the broadcast MAC
// with ADI set to each IPv4 address in host byte order; BroadcastADI
// below builds that ADI value.
func (m *Manager) MulticastSubscribe(nwid uint64, mac [6]byte, adi uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.networks[nwid]
	if !ok {
		return
	}
	n.multicastGroups[groupKey{mac: mac, adi: adi}] = struct{}{}
}

// MulticastUnsubscribe is idempotent; a zero mac clears every group for
// nwid (spec.md §4.7: "unsubscribe with group=0 clears all").
func (m *Manager) MulticastUnsubscribe(nwid uint64, mac [6]byte, adi uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.networks[nwid]
	if !ok {
		return
	}
	if mac == ([6]byte{}) {
		n.multicastGroups = make(map[groupKey]struct{})
		return
	}
	delete(n.multicastGroups, groupKey{mac: mac, adi: adi})
}

// MulticastGroups returns a snapshot of nwid's subscribed groups as
// (mac, adi) pairs.
func (m *Manager) MulticastGroups(nwid uint64) [][2]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.networks[nwid]
	if !ok {
		return nil
	}
	out := make([][2]uint64, 0, len(n.multicastGroups))
	for k := range n.multicastGroups {
		var macInt uint64
		for _, b := range k.mac {
			macInt = (macInt << 8) | uint64(b)
		}
		out = append(out, [2]uint64{macInt, uint64(k.adi)})
	}
	return out
}

// BroadcastADI packs an IPv4 address, in host byte order, into the ADI
// value used when subscribing to the broadcast MAC for ARP scalability
// (spec.md §4.7).
func BroadcastADI(ipv4 [4]byte) uint32 {
	return binary.LittleEndian.Uint32(ipv4[:])
}

func (n *Network) clone() *Network {
	cp := *n
	cp.AssignedAddresses = append([]netip.Prefix(nil), n.AssignedAddresses...)
	cp.Routes = append([]Route(nil), n.Routes...)
	cp.Rules = append(rule.Table(nil), n.Rules...)
	cp.COOs = append([]CertificateOfOwnership(nil), n.COOs...)
	cp.Capabilities = make(map[uint32]*Capability, len(n.Capabilities))
	for k, v := range n.Capabilities {
		capCopy := *v
		cp.Capabilities[k] = &capCopy
	}
	cp.Tags = make(map[uint32]uint64, len(n.Tags))
	for k, v := range n.Tags {
		cp.Tags[k] = v
	}
	cp.multicastGroups = nil
	return &cp
}
