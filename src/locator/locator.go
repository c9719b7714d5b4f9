// Package locator implements the signed endpoint list an Identity uses to
// advertise where it may be reached (spec.md §3, §4.3).
package locator

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/zerotier/node-core/src/identity"
)

// MaxEndpoints is the maximum number of endpoints a Locator may carry
// (spec.md §3).
const MaxEndpoints = 8

// EndpointType tags the variant carried by an Endpoint (spec.md §3).
type EndpointType uint8

const (
	EndpointNil EndpointType = iota
	EndpointZeroTier
	EndpointEthernet
	EndpointWifiDirect
	EndpointBluetooth
	EndpointIP
	EndpointIPUDP
	EndpointIPTCP
	EndpointIPHTTP
)

// Endpoint is a tagged endpoint address, matching the variant set in
// spec.md §3.
type Endpoint struct {
	Type        EndpointType
	MAC         [6]byte           // ETHERNET / WIFI_DIRECT / BLUETOOTH
	Addr        netip.AddrPort    // IP / IP_UDP / IP_TCP / IP_HTTP
	Fingerprint identity.Fingerprint // ZEROTIER
}

// IPUDP builds an IP_UDP endpoint from a net.UDPAddr.
func IPUDP(addr *net.UDPAddr) Endpoint {
	ap, _ := netip.AddrFromSlice(addr.IP)
	return Endpoint{Type: EndpointIPUDP, Addr: netip.AddrPortFrom(ap.Unmap(), uint16(addr.Port))}
}

func (e Endpoint) marshal(buf *bytes.Buffer) {
	buf.WriteByte(byte(e.Type))
	switch e.Type {
	case EndpointEthernet, EndpointWifiDirect, EndpointBluetooth:
		buf.Write(e.MAC[:])
	case EndpointIP, EndpointIPUDP, EndpointIPTCP, EndpointIPHTTP:
		ip16 := e.Addr.Addr().As16()
		buf.Write(ip16[:])
		var portBuf [2]byte
		binary.BigEndian.PutUint16(portBuf[:], e.Addr.Port())
		buf.Write(portBuf[:])
	case EndpointZeroTier:
		var addrBuf [5]byte
		a := uint64(e.Fingerprint.Address)
		for i := 4; i >= 0; i-- {
			addrBuf[i] = byte(a)
			a >>= 8
		}
		buf.Write(addrBuf[:])
		buf.Write(e.Fingerprint.Hash[:])
	case EndpointNil:
		// no payload
	}
}

func unmarshalEndpoint(r *bytes.Reader) (Endpoint, error) {
	var e Endpoint
	t, err := r.ReadByte()
	if err != nil {
		return e, err
	}
	e.Type = EndpointType(t)
	switch e.Type {
	case EndpointEthernet, EndpointWifiDirect, EndpointBluetooth:
		if _, err := r.Read(e.MAC[:]); err != nil {
			return e, err
		}
	case EndpointIP, EndpointIPUDP, EndpointIPTCP, EndpointIPHTTP:
		var ip16 [16]byte
		if _, err := r.Read(ip16[:]); err != nil {
			return e, err
		}
		var portBuf [2]byte
		if _, err := r.Read(portBuf[:]); err != nil {
			return e, err
		}
		addr := netip.AddrFrom16(ip16).Unmap()
		e.Addr = netip.AddrPortFrom(addr, binary.BigEndian.Uint16(portBuf[:]))
	case EndpointZeroTier:
		var addrBuf [5]byte
		if _, err := r.Read(addrBuf[:]); err != nil {
			return e, err
		}
		var a uint64
		for _, b := range addrBuf {
			a = (a << 8) | uint64(b)
		}
		e.Fingerprint.Address = identity.Address(a)
		if _, err := r.Read(e.Fingerprint.Hash[:]); err != nil {
			return e, err
		}
	case EndpointNil:
	default:
		return e, fmt.Errorf("locator: unknown endpoint type %d", e.Type)
	}
	return e, nil
}

// Locator is a signed, ordered list of endpoints, timestamped and bound to
// the fingerprint of the identity that signed it (spec.md §3, §4.3).
type Locator struct {
	TimestampMs      int64
	Endpoints        []Endpoint
	SignerFingerprint identity.Fingerprint
	Signature        []byte
}

// Create builds and signs a new Locator. signer must hold a private key.
func Create(timestampMs int64, endpoints []Endpoint, signer *identity.Identity) (*Locator, error) {
	if len(endpoints) > MaxEndpoints {
		return nil, errors.New("locator: too many endpoints")
	}
	if !signer.HasPrivate() {
		return nil, identity.ErrNoPrivateKey
	}
	l := &Locator{
		TimestampMs:       timestampMs,
		Endpoints:         append([]Endpoint(nil), endpoints...),
		SignerFingerprint: signer.Fingerprint(),
	}
	signable := l.canonicalBytes()
	sig, err := signer.Sign(signable)
	if err != nil {
		return nil, err
	}
	l.Signature = sig
	return l, nil
}

// canonicalBytes returns the bytes over which the signature is computed:
// everything except the signature itself.
func (l *Locator) canonicalBytes() []byte {
	var buf bytes.Buffer
	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(l.TimestampMs))
	buf.Write(tsBuf[:])
	buf.WriteByte(byte(len(l.Endpoints)))
	for _, e := range l.Endpoints {
		e.marshal(&buf)
	}
	var addrBuf [5]byte
	a := uint64(l.SignerFingerprint.Address)
	for i := 4; i >= 0; i-- {
		addrBuf[i] = byte(a)
		a >>= 8
	}
	buf.Write(addrBuf[:])
	buf.Write(l.SignerFingerprint.Hash[:])
	return buf.Bytes()
}

// Marshal serializes the locator, including its signature, to its
// canonical binary form. Marshal/Unmarshal round-trip exactly (spec.md
// §4.3).
func (l *Locator) Marshal() []byte {
	body := l.canonicalBytes()
	out := make([]byte, 0, len(body)+2+len(l.Signature))
	out = append(out, body...)
	out = append(out, byte(len(l.Signature)>>8), byte(len(l.Signature)))
	out = append(out, l.Signature...)
	return out
}

// Unmarshal parses the canonical binary form produced by Marshal.
func Unmarshal(data []byte) (*Locator, error) {
	r := bytes.NewReader(data)
	var tsBuf [8]byte
	if _, err := r.Read(tsBuf[:]); err != nil {
		return nil, err
	}
	l := &Locator{TimestampMs: int64(binary.BigEndian.Uint64(tsBuf[:]))}
	n, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if int(n) > MaxEndpoints {
		return nil, errors.New("locator: too many endpoints")
	}
	for i := 0; i < int(n); i++ {
		e, err := unmarshalEndpoint(r)
		if err != nil {
			return nil, err
		}
		l.Endpoints = append(l.Endpoints, e)
	}
	var addrBuf [5]byte
	if _, err := r.Read(addrBuf[:]); err != nil {
		return nil, err
	}
	var a uint64
	for _, b := range addrBuf {
		a = (a << 8) | uint64(b)
	}
	l.SignerFingerprint.Address = identity.Address(a)
	if _, err := r.Read(l.SignerFingerprint.Hash[:]); err != nil {
		return nil, err
	}
	var sigLenBuf [2]byte
	if _, err := r.Read(sigLenBuf[:]); err != nil {
		return nil, err
	}
	sigLen := int(sigLenBuf[0])<<8 | int(sigLenBuf[1])
	sig := make([]byte, sigLen)
	if _, err := r.Read(sig); err != nil {
		return nil, err
	}
	l.Signature = sig
	return l, nil
}

// ToString renders the locator as a base64url string.
func (l *Locator) ToString() string {
	return base64.RawURLEncoding.EncodeToString(l.Marshal())
}

// FromString parses the output of ToString.
func FromString(s string) (*Locator, error) {
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return Unmarshal(data)
}

// Verify checks the locator's signature against signer, per spec.md §4.3:
// it must hold that signer's fingerprint equals the locator's stored
// signer fingerprint, and the signature itself must verify.
func (l *Locator) Verify(signer *identity.Identity) bool {
	if !signer.Fingerprint().Equal(l.SignerFingerprint) {
		return false
	}
	return signer.Verify(l.canonicalBytes(), l.Signature)
}
