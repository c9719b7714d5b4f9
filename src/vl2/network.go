// Package vl2 implements the virtual Ethernet layer built over VL1
// (spec.md §3 VirtualNetwork, §4.7, GLOSSARY "VL2"): per-network
// configuration, membership, assigned addresses, routes, multicast
// subscription, and the rule-engine-gated frame path.
package vl2

import (
	"net/netip"

	"github.com/zerotier/node-core/src/identity"
	"github.com/zerotier/node-core/src/rule"
)

// Status is a virtual network's configuration lifecycle state (spec.md
// §3).
type Status int

const (
	StatusRequestingConfig Status = iota
	StatusOK
	StatusAccessDenied
	StatusNotFound
)

func (s Status) String() string {
	switch s {
	case StatusRequestingConfig:
		return "REQUESTING_CONFIGURATION"
	case StatusOK:
		return "OK"
	case StatusAccessDenied:
		return "ACCESS_DENIED"
	case StatusNotFound:
		return "NOT_FOUND"
	default:
		return "UNKNOWN"
	}
}

// Type distinguishes a private (certificate-gated) network from a public
// one (spec.md §3).
type Type int

const (
	TypePrivate Type = iota
	TypePublic
)

// Op identifies the lifecycle operation a VirtualNetworkConfig callback
// reports (spec.md §4.7).
type Op int

const (
	OpUp Op = iota
	OpConfigUpdate
	OpDown
	OpDestroy
)

// Bounds from spec.md §3.
const (
	MinMTU              = 1280
	MaxMTU              = 10000
	MaxAssignedAddresses = 32
	MaxRoutes           = 64
)

// Route is one pushed route (spec.md §3).
type Route struct {
	Target netip.Prefix
	Via    netip.Addr // zero Addr means "on-link"
}

// Capability is a named, timestamped rule set a peer may present to
// unlock additional permissions (spec.md §3, §4.8).
type Capability struct {
	ID        uint32
	Timestamp int64
	Rules     rule.Table
}

// CertificateOfOwnership binds a MAC or IP address to an identity for use
// inside this network (spec.md §3, GLOSSARY "COO").
type CertificateOfOwnership struct {
	Address   netip.Addr
	MAC       [6]byte
	HasMAC    bool
	Owner     identity.Fingerprint
	Timestamp int64
}

// Network is one joined virtual network's state (spec.md §3).
type Network struct {
	NWID               uint64
	MAC                [6]byte
	Name               string
	Status             Status
	Type               Type
	MTU                int
	Bridge             bool
	BroadcastEnabled   bool
	NetconfRevision    uint64
	AssignedAddresses  []netip.Prefix
	Routes             []Route
	Rules              rule.Table
	Capabilities       map[uint32]*Capability
	Tags               map[uint32]uint64
	COOs               []CertificateOfOwnership

	ControllerFingerprint *identity.Fingerprint // pinned, if Join specified one

	multicastGroups map[groupKey]struct{}
}

// groupKey identifies one ADI-partitioned multicast group (spec.md §3,
// GLOSSARY "ADI").
type groupKey struct {
	mac [6]byte
	adi uint32
}

// ControllerAddress returns the 40-bit address embedded in the high bits
// of nwid, which designates the controller responsible for this network
// (spec.md §4.7, GLOSSARY "Controller").
func ControllerAddress(nwid uint64) identity.Address {
	return identity.Address(nwid >> 24)
}

func newNetwork(nwid uint64, controllerFP *identity.Fingerprint) *Network {
	return &Network{
		NWID:                   nwid,
		Status:                 StatusRequestingConfig,
		MTU:                    2800,
		ControllerFingerprint:  controllerFP,
		Capabilities:           make(map[uint32]*Capability),
		Tags:                   make(map[uint32]uint64),
		multicastGroups:        make(map[groupKey]struct{}),
	}
}
