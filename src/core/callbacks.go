package core

import (
	"net/netip"

	"github.com/zerotier/node-core/src/identity"
	"github.com/zerotier/node-core/src/statestore"
)

// Event is delivered via Callbacks.Event (spec.md §6). UserMessage is set
// only for EventUserMessage and is nil for every other event type.
type Event struct {
	Type    EventType
	Message string
	UserMessage *UserMessageEvent
}

// UserMessageEvent carries the payload of an inbound VERB_USER_MESSAGE
// (spec.md §8 scenario 6).
type UserMessageEvent struct {
	Origin  identity.Address
	TypeID  uint64
	Payload []byte
}

// Callbacks is the host-implemented surface the dispatcher calls into
// (spec.md §6). StatePut/StateGet/WirePacketSend/VirtualNetworkFrame/
// VirtualNetworkConfig/Event are required; New returns ResultBadParameter
// if any is nil. HTTPRequest/PathCheck/PathLookup are optional.
type Callbacks struct {
	StatePut statestore.Callbacks

	WirePacketSend func(localSocket int64, remote netip.AddrPort, data []byte) error

	VirtualNetworkFrame func(nwid uint64, sourceMAC, destMAC [6]byte, etherType uint16, vlanID uint16, frameData []byte)

	VirtualNetworkConfig func(nwid uint64, op int, configJSON []byte)

	Event func(ev Event)

	HTTPRequest func(requestID int64, url string) error

	PathCheck  func(address identity.Address, localSocket int64, remote netip.AddrPort) bool
	PathLookup func(address identity.Address, family int) (netip.AddrPort, bool)
}

// validate checks that every required callback field is set (spec.md
// §4.1: "Missing required -> fatal-bad-parameter").
func (cb *Callbacks) validate() error {
	if cb.StatePut.Put == nil || cb.StatePut.Get == nil {
		return &Error{Code: ResultBadParameter}
	}
	if cb.WirePacketSend == nil || cb.VirtualNetworkFrame == nil ||
		cb.VirtualNetworkConfig == nil || cb.Event == nil {
		return &Error{Code: ResultBadParameter}
	}
	return nil
}
