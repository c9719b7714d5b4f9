// Package rule implements the per-frame match/action bytecode evaluated
// by the virtual network layer (spec.md §3, §4.8): a compact rule table
// of MATCH entries closed by an ACTION, with capability- and
// tag-combining matches, characteristics matching, and an integer-range
// match over arbitrary payload offsets.
package rule

import (
	"encoding/binary"

	"github.com/mdlayher/ethernet"
)

// MaxRulesPerNetwork and MaxRulesPerCapability bound rule-table size
// (spec.md §3).
const (
	MaxRulesPerNetwork    = 1024
	MaxRulesPerCapability = 64
)

// Type selects the match or action a Rule entry performs. The low 6 bits
// of the packed wire byte (spec.md §9: "the on-wire form preserves the
// 8-bit NOT/OR/type packing for compatibility").
type Type uint8

const (
	// Matches
	MatchSourceMAC Type = iota
	MatchDestMAC
	MatchVLANID
	MatchVLANPCP
	MatchVLANDEI
	MatchEtherType
	MatchIntegerRange
	MatchCharacteristics
	MatchTagDifference
	MatchTagAnd
	MatchTagOr
	MatchTagXor
	MatchTagEqual
	MatchCapability

	// Actions (type values continue past the match set; wire type still
	// fits in 6 bits)
	ActionDrop
	ActionAccept
	ActionBreak
	ActionTee
	ActionWatch
	ActionRedirect
	ActionPriority
)

// Direction of a frame being evaluated, part of the characteristics value
// (spec.md §4.8).
type Direction uint8

const (
	DirectionInbound Direction = iota
	DirectionOutbound
)

// Characteristics bit flags (spec.md §4.8, mirroring the header's
// ZT_RULE_PACKET_CHARACTERISTICS_* constants).
const (
	CharInbound        uint64 = 1 << 0
	CharOutbound       uint64 = 1 << 1
	CharMulticast      uint64 = 1 << 2
	CharBroadcast      uint64 = 1 << 3
	CharSenderIPAuth   uint64 = 1 << 4
	CharSenderMACAuth  uint64 = 1 << 5
	CharTCPSYN         uint64 = 1 << 6
	CharTCPACK         uint64 = 1 << 7
	CharTCPPSH         uint64 = 1 << 8
	CharTCPURG         uint64 = 1 << 9
	CharTCPRST         uint64 = 1 << 10
	CharTCPFIN         uint64 = 1 << 11
	CharTCPReservedBit uint64 = 1 << 12
)

// IntegerRangeFormat decodes the packed (bitsMinus1, littleEndian) byte
// of an integer-range match (spec.md §4.8).
type IntegerRangeFormat uint8

func (f IntegerRangeFormat) bits() int          { return int(f&0x3f) + 1 }
func (f IntegerRangeFormat) littleEndian() bool { return f&0x40 != 0 }

// IntegerRangeValue carries the fields of a MATCH_INTEGER_RANGE entry.
type IntegerRangeValue struct {
	Start     uint64
	EndOffset uint64
	Index     uint16
	Format    IntegerRangeFormat
}

// TagCombineValue carries the fields of a tag-combining match
// (DIFFERENCE/AND/OR/XOR/EQUAL).
type TagCombineValue struct {
	TagID uint32
	Value uint64
}

// Rule is one entry of a rule table: a NOT/OR-qualified MATCH, or an
// ACTION that closes the current clause (spec.md §3, §4.8). The in-memory
// form is a tagged struct; MarshalBinary produces the spec's packed
// NOT|OR|type byte plus value union for the wire. This package has no
// decoder for that form.
type Rule struct {
	Not  bool
	Or   bool
	Type Type

	MAC       [6]byte
	VLANID    uint16
	VLANPCP   uint8
	VLANDEI   uint8
	EtherType uint16
	IntRange  IntegerRangeValue
	Chars     uint64
	TagCombine TagCombineValue
	CapabilityID uint32

	// Action payloads
	RedirectAddress uint64 // ZT address, for REDIRECT/TEE/WATCH
	Priority        uint8
}

// MarshalBinary packs a Rule into the spec's NOT|OR|type byte plus its
// value union.
func (r *Rule) MarshalBinary() ([]byte, error) {
	var tag byte
	if r.Not {
		tag |= 0x80
	}
	if r.Or {
		tag |= 0x40
	}
	tag |= byte(r.Type) & 0x3f
	buf := []byte{tag}
	switch r.Type {
	case MatchSourceMAC, MatchDestMAC:
		buf = append(buf, r.MAC[:]...)
	case MatchVLANID:
		buf = appendU16(buf, r.VLANID)
	case MatchVLANPCP:
		buf = append(buf, r.VLANPCP)
	case MatchVLANDEI:
		buf = append(buf, r.VLANDEI)
	case MatchEtherType:
		buf = appendU16(buf, r.EtherType)
	case MatchIntegerRange:
		buf = appendU64(buf, r.IntRange.Start)
		buf = appendU64(buf, r.IntRange.EndOffset)
		buf = appendU16(buf, r.IntRange.Index)
		buf = append(buf, byte(r.IntRange.Format))
	case MatchCharacteristics:
		buf = appendU64(buf, r.Chars)
	case MatchTagDifference, MatchTagAnd, MatchTagOr, MatchTagXor, MatchTagEqual:
		buf = appendU32(buf, r.TagCombine.TagID)
		buf = appendU64(buf, r.TagCombine.Value)
	case MatchCapability:
		buf = appendU32(buf, r.CapabilityID)
	case ActionTee, ActionWatch, ActionRedirect:
		buf = appendU64(buf, r.RedirectAddress)
	case ActionPriority:
		buf = append(buf, r.Priority)
	case ActionDrop, ActionAccept, ActionBreak:
		// no payload
	}
	return buf, nil
}

func appendU16(b []byte, v uint16) []byte {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return append(b, tmp[:]...)
}
func appendU32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}
func appendU64(b []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(b, tmp[:]...)
}

// IsAction reports whether this rule closes a clause rather than
// contributing to one.
func (r *Rule) IsAction() bool {
	return r.Type >= ActionDrop
}

// Frame is the subset of an Ethernet frame the rule engine matches
// against (spec.md §4.8). Callers parse the wire frame with
// github.com/mdlayher/ethernet and fill in the VLAN/characteristics
// fields the rule engine additionally needs.
type Frame struct {
	Direction     Direction
	Eth           *ethernet.Frame
	VLANID        uint16
	VLANPCP       uint8
	VLANDEI       uint8
	Multicast     bool
	Broadcast     bool
	SenderIPAuth  bool
	SenderMACAuth bool

	// MatchedCapabilityID/Timestamp are set by the caller when this frame
	// is being evaluated as part of a capability's attached rule set.
	MatchedCapabilityID        uint32
	MatchedCapabilityTimestamp int64

	SenderTags   map[uint32]uint64
	ReceiverTags map[uint32]uint64
}

// Characteristics computes the per-frame characteristics bitmask used by
// MATCH_CHARACTERISTICS (spec.md §4.8).
func (f *Frame) Characteristics() uint64 {
	var c uint64
	if f.Direction == DirectionInbound {
		c |= CharInbound
	} else {
		c |= CharOutbound
	}
	if f.Multicast {
		c |= CharMulticast
	}
	if f.Broadcast {
		c |= CharBroadcast
	}
	if f.SenderIPAuth {
		c |= CharSenderIPAuth
	}
	if f.SenderMACAuth {
		c |= CharSenderMACAuth
	}
	if f.Eth != nil && (f.Eth.EtherType == ethernet.EtherTypeIPv4 || f.Eth.EtherType == ethernet.EtherTypeIPv6) {
		c |= tcpFlagCharacteristics(f.Eth.Payload)
	}
	return c
}

// tcpFlagCharacteristics extracts the TCP flag bits from an IPv4/IPv6
// payload carrying a TCP segment, returning 0 if the payload is not TCP
// or is too short to contain a TCP header.
func tcpFlagCharacteristics(payload []byte) uint64 {
	ihl := 0
	proto := byte(0)
	var l4 []byte
	if len(payload) >= 1 && payload[0]>>4 == 4 {
		if len(payload) < 20 {
			return 0
		}
		ihl = int(payload[0]&0x0f) * 4
		proto = payload[9]
		if len(payload) < ihl+20 {
			return 0
		}
		l4 = payload[ihl:]
	} else if len(payload) >= 1 && payload[0]>>4 == 6 {
		if len(payload) < 40+20 {
			return 0
		}
		proto = payload[6]
		l4 = payload[40:]
	} else {
		return 0
	}
	const tcpProto = 6
	if proto != tcpProto || len(l4) < 14 {
		return 0
	}
	flags := l4[13]
	var c uint64
	if flags&0x02 != 0 {
		c |= CharTCPSYN
	}
	if flags&0x10 != 0 {
		c |= CharTCPACK
	}
	if flags&0x08 != 0 {
		c |= CharTCPPSH
	}
	if flags&0x20 != 0 {
		c |= CharTCPURG
	}
	if flags&0x04 != 0 {
		c |= CharTCPRST
	}
	if flags&0x01 != 0 {
		c |= CharTCPFIN
	}
	if flags&0xc0 != 0 {
		c |= CharTCPReservedBit
	}
	return c
}
