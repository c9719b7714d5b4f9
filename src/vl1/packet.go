// Package vl1 implements the node core's peer-to-peer transport layer
// (spec.md §4.9, GLOSSARY "VL1"): length-framed, per-peer-encrypted
// packets carrying a small verb set, including fragmentation for payloads
// over one physical datagram and the VERB_USER_MESSAGE extension point.
package vl1

import (
	"encoding/binary"
	"errors"

	"github.com/zerotier/node-core/src/crypto"
	"github.com/zerotier/node-core/src/identity"
)

// Verb identifies the payload carried by a decrypted Packet.
type Verb uint8

const (
	VerbNOP           Verb = 0x00
	VerbHello         Verb = 0x01
	VerbOK            Verb = 0x02
	VerbError         Verb = 0x03
	VerbWhois         Verb = 0x04
	VerbRendezvous    Verb = 0x05
	VerbFrame         Verb = 0x06 // carries a VL2 Ethernet frame
	VerbMulticastFrame Verb = 0x07
	VerbNetworkConfigRequest Verb = 0x08
	VerbNetworkConfig        Verb = 0x09
	VerbUserMessage   Verb = 0x14
)

// MaxUserMessageSize is a conservative cap on VERB_USER_MESSAGE payloads:
// one datagram at DefaultPhysicalMTU (1432) minus a conservative 48-byte
// VL1 header/AEAD-tag budget (spec.md §9 Open Questions: the header states no numeric limit,
// so this engine adopts and documents a fixed one; see DESIGN.md).
const MaxUserMessageSize = 1384

// MaxPacketSize is the maximum size of a single physical UDP datagram
// this engine will ever emit or accept, matching spec.md §6's "maximum
// 10100+224" ceiling exactly; fragmentation (see fragment.go) handles
// anything between MinPhysicalMTU and this size.
const MaxPacketSize = 10324

// MinPhysicalMTU and DefaultPhysicalMTU mirror spec.md §6.
const (
	MinPhysicalMTU     = 1400
	DefaultPhysicalMTU = 1432
)

// ErrTooShort / ErrMACFailed are returned by Open.
var (
	ErrTooShort  = errors.New("vl1: packet too short")
	ErrMACFailed = errors.New("vl1: MAC/decryption failed")
)

// headerSize is the length of the cleartext packet header: 8-byte packet
// ID, 5-byte destination address, 5-byte source address, 1 flags byte.
const headerSize = 19

// Packet is a decoded, decrypted VL1 packet.
type Packet struct {
	ID          uint64
	Destination identity.Address
	Source      identity.Address
	Verb        Verb
	Payload     []byte
}

// Session holds the derived per-peer encryption key used to seal and open
// packets exchanged with one remote identity (spec.md §4.9: "per-peer
// session key derived from the long-term identity keys").
type Session struct {
	shared *[crypto.SharedKeySize]byte
}

// NewSession derives the session key for communicating with remote,
// using the local agreement private key and the remote's agreement
// public key.
func NewSession(localAgreePriv *[crypto.AgreePrivateKeySize]byte, remoteAgreePub *[crypto.AgreePublicKeySize]byte) (*Session, error) {
	shared, err := crypto.SharedKey(localAgreePriv, remoteAgreePub)
	if err != nil {
		return nil, err
	}
	return &Session{shared: shared}, nil
}

// Seal encrypts p into a wire-ready byte slice: a cleartext header
// followed by the AEAD-sealed verb+payload.
func (s *Session) Seal(p *Packet) ([]byte, error) {
	var header [headerSize]byte
	binary.BigEndian.PutUint64(header[0:8], p.ID)
	putAddress(header[8:13], p.Destination)
	putAddress(header[13:18], p.Source)
	header[18] = 0

	inner := make([]byte, 1+len(p.Payload))
	inner[0] = byte(p.Verb)
	copy(inner[1:], p.Payload)

	sealed, err := crypto.Seal(s.shared, inner)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, headerSize+len(sealed))
	out = append(out, header[:]...)
	out = append(out, sealed...)
	return out, nil
}

// Open decrypts a wire packet produced by Seal. It never returns a Packet
// for input that fails authentication (spec.md §8: "processWirePacket
// never calls the virtual-frame callback for a packet that fails
// MAC/decryption").
func (s *Session) Open(data []byte) (*Packet, error) {
	if len(data) < headerSize+1 {
		return nil, ErrTooShort
	}
	p := &Packet{
		ID:          binary.BigEndian.Uint64(data[0:8]),
		Destination: getAddress(data[8:13]),
		Source:      getAddress(data[13:18]),
	}
	inner, err := crypto.Open(s.shared, data[headerSize:])
	if err != nil {
		return nil, ErrMACFailed
	}
	if len(inner) < 1 {
		return nil, ErrTooShort
	}
	p.Verb = Verb(inner[0])
	p.Payload = inner[1:]
	return p, nil
}

func putAddress(b []byte, a identity.Address) {
	v := uint64(a)
	for i := 4; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}

func getAddress(b []byte) identity.Address {
	var v uint64
	for _, c := range b {
		v = (v << 8) | uint64(c)
	}
	return identity.Address(v)
}
