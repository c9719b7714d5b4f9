// Package identity implements the node core's long-lived cryptographic
// identity: an Ed25519/X25519 keypair plus a 40-bit address derived from
// the public key under a memory-hard proof-of-work constraint (spec.md
// §3, §4.2). The address-derivation function is a fixed protocol constant
// and must never change shape, or the address space forks (spec.md §9).
package identity

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/scrypt"

	"github.com/zerotier/node-core/src/crypto"
)

// Type selects the keypair set an Identity carries.
type Type uint8

const (
	TypeC25519      Type = 0 // Ed25519 sign key + X25519 agree key (default)
	TypeC25519P384  Type = 1 // type tag only: carries the same Ed25519/X25519 keys; no P-384 pair is generated or stored
)

// AddressSize is the number of bits in a node address.
const AddressSize = 40

// addressMask keeps only the low 40 bits of a derived hash.
const addressMask = (uint64(1) << AddressSize) - 1

// powDifficultyBits is the number of leading zero bits the proof-of-work
// hash must have. This is a fixed protocol constant (spec.md §9);
// changing it forks the address space. It is deliberately low enough that
// generation costs a bounded handful of scrypt evaluations rather than a
// combinatorial search: the "expensive" part of address generation
// (spec.md §3) is scrypt's memory-hardness per attempt, not attempt count.
const powDifficultyBits = 8

// ErrNoPrivateKey is returned by Sign when the identity holds no private
// key material.
var ErrNoPrivateKey = errors.New("identity: no private key")

// ErrMalformed is returned by FromString on malformed input. Per spec.md
// §4.2 the parser must not mutate any partial state on failure.
var ErrMalformed = errors.New("identity: malformed string representation")

// Identity is an immutable keypair plus its derived 40-bit Address. The
// zero value is not valid; use Generate or FromString.
type Identity struct {
	typ       Type
	address   uint64 // low 40 bits significant
	signPub   ed25519.PublicKey
	signPriv  ed25519.PrivateKey // nil if this is a public-only identity
	agreePub  [crypto.AgreePublicKeySize]byte
	agreePriv [crypto.AgreePrivateKeySize]byte
	hasAgree  bool // agreePriv is populated
}

// Address is a node's 40-bit network address.
type Address uint64

// String renders an Address as 10 hex digits, matching the canonical
// "peers.d/<10hex>" state-object path hint in spec.md §4.5.
func (a Address) String() string {
	return fmt.Sprintf("%010x", uint64(a)&addressMask)
}

// FromPublicKey reconstructs a public-only Identity from a raw Ed25519
// public key and its paired X25519 agreement public key, deriving and
// validating the address exactly as Generate would have. This is how the
// engine rehydrates identities received over the wire or decoded from a
// certificate, where only public key material is available.
func FromPublicKey(signPub ed25519.PublicKey, agreePub [32]byte) (*Identity, error) {
	if len(signPub) != ed25519.PublicKeySize {
		return nil, ErrMalformed
	}
	addr, ok := deriveAddress(signPub)
	if !ok {
		return nil, errors.New("identity: public key fails proof-of-work constraint")
	}
	id := &Identity{typ: TypeC25519, address: addr, signPub: signPub, agreePub: agreePub}
	return id, nil
}

// Generate creates a new Identity of the given type, searching for a
// keypair whose derived address satisfies the proof-of-work constraint.
// This is deliberately expensive (spec.md §3: "generation is expensive").
func Generate(typ Type) (*Identity, error) {
	for {
		signPub, signPriv, err := ed25519.GenerateKey(nil)
		if err != nil {
			return nil, err
		}
		addr, ok := deriveAddress(signPub)
		if !ok {
			continue
		}
		id := &Identity{typ: typ, address: addr, signPub: signPub, signPriv: signPriv}
		agree, err := crypto.GenerateAgreeKeyPair()
		if err != nil {
			return nil, err
		}
		id.agreePub = agree.Public
		id.agreePriv = agree.Private
		id.hasAgree = true
		return id, nil
	}
}

// scryptN, scryptR, scryptP are the fixed scrypt cost parameters behind
// the address derivation's memory-hard proof-of-work step (spec.md §3).
// Like powDifficultyBits, these are protocol constants: changing them
// forks the address space.
const (
	scryptN = 1 << 12
	scryptR = 8
	scryptP = 1
)

// deriveAddress computes the protocol-fixed, proof-of-work-constrained
// 40-bit address for a public key. It runs the public key through scrypt
// before the digest is tested against the proof-of-work predicate, making
// address generation and address-grinding memory-hard as well as
// CPU-expensive (spec.md §3). The second return value is false if the key
// does not satisfy the proof-of-work predicate (generation must then try
// a new key; an already-generated Identity that fails this check is
// invalid).
func deriveAddress(pub ed25519.PublicKey) (uint64, bool) {
	sha := crypto.SHA512(pub)
	work, err := scrypt.Key(pub, sha[:16], scryptN, scryptR, scryptP, 64)
	if err != nil {
		return 0, false
	}
	// The proof-of-work predicate: the scrypt digest must begin with
	// powDifficultyBits zero bits. This makes address collisions and
	// address-grinding attacks both memory-hard and computationally
	// expensive, per spec.md §3.
	if leadingZeroBits(work) < powDifficultyBits {
		return 0, false
	}
	var addr uint64
	for i := 0; i < 5; i++ {
		addr = (addr << 8) | uint64(sha[len(sha)-5+i])
	}
	return addr & addressMask, true
}

func leadingZeroBits(b []byte) int {
	n := 0
	for _, v := range b {
		if v == 0 {
			n += 8
			continue
		}
		for v&0x80 == 0 {
			n++
			v <<= 1
		}
		break
	}
	return n
}

// Validate recomputes the proof-of-work-constrained address derivation and
// verifies internal consistency (spec.md §4.2).
func (id *Identity) Validate() error {
	addr, ok := deriveAddress(id.signPub)
	if !ok {
		return errors.New("identity: public key fails proof-of-work constraint")
	}
	if addr != id.address {
		return errors.New("identity: stored address does not match derived address")
	}
	if len(id.signPub) != ed25519.PublicKeySize {
		return errors.New("identity: malformed signing public key")
	}
	return nil
}

// Address returns the identity's 40-bit address.
func (id *Identity) Address() Address { return Address(id.address) }

// Type returns the identity's keypair type.
func (id *Identity) Type() Type { return id.typ }

// PublicKey returns the Ed25519 signing public key.
func (id *Identity) PublicKey() ed25519.PublicKey { return id.signPub }

// HasPrivate reports whether this Identity holds private key material.
func (id *Identity) HasPrivate() bool { return id.signPriv != nil }

// Sign signs data with the identity's private key. It returns
// ErrNoPrivateKey if the identity was loaded without one. Signatures are
// always ed25519.SignatureSize (64) bytes, well within spec.md's ≤96-byte
// bound to leave room for a future P-384 co-signature.
func (id *Identity) Sign(data []byte) ([]byte, error) {
	if id.signPriv == nil {
		return nil, ErrNoPrivateKey
	}
	return crypto.Sign(id.signPriv, data), nil
}

// Verify checks a signature produced by Sign (or by any identity sharing
// this public key).
func (id *Identity) Verify(data, sig []byte) bool {
	return crypto.Verify(id.signPub, data, sig)
}

// Fingerprint returns the identity's stable (address, SHA-384(pubkey))
// pair, used as the strong identity comparison throughout the engine.
func (id *Identity) Fingerprint() Fingerprint {
	return Fingerprint{
		Address: id.Address(),
		Hash:    crypto.SHA384(id.signPub),
	}
}

// AgreementPublicKey returns the X25519 public key used to derive VL1
// session keys with this identity.
func (id *Identity) AgreementPublicKey() [crypto.AgreePublicKeySize]byte {
	return id.agreePub
}

// AgreementPrivateKey returns the X25519 private key, or false if this
// identity has no private key material.
func (id *Identity) AgreementPrivateKey() ([crypto.AgreePrivateKeySize]byte, bool) {
	return id.agreePriv, id.hasAgree && id.signPriv != nil
}

// String renders the canonical textual form of the identity. When
// includePrivate is true and the identity holds a private key, the
// signing and agreement private keys are appended as two more
// colon-separated hex fields after the four public ones; this form must
// be handled with the same care as IDENTITY_SECRET state objects.
func (id *Identity) String(includePrivate bool) string {
	var sb strings.Builder
	sb.WriteString(id.Address().String())
	sb.WriteByte(':')
	sb.WriteString(strconv.Itoa(int(id.typ)))
	sb.WriteByte(':')
	sb.WriteString(hex.EncodeToString(id.signPub))
	sb.WriteByte(':')
	sb.WriteString(hex.EncodeToString(id.agreePub[:]))
	if includePrivate && id.signPriv != nil {
		sb.WriteByte(':')
		sb.WriteString(hex.EncodeToString(id.signPriv))
		sb.WriteByte(':')
		sb.WriteString(hex.EncodeToString(id.agreePriv[:]))
	}
	return sb.String()
}

// FromString parses the canonical textual form produced by String. On
// malformed input it returns ErrMalformed and leaves no partial state
// (spec.md §4.2).
func FromString(s string) (*Identity, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 4 && len(parts) != 6 {
		return nil, ErrMalformed
	}
	addrBytes, err := hex.DecodeString(parts[0])
	if err != nil || len(addrBytes) != 5 {
		return nil, ErrMalformed
	}
	var addr uint64
	for _, b := range addrBytes {
		addr = (addr << 8) | uint64(b)
	}
	typVal, err := strconv.Atoi(parts[1])
	if err != nil || (typVal != int(TypeC25519) && typVal != int(TypeC25519P384)) {
		return nil, ErrMalformed
	}
	signPub, err := hex.DecodeString(parts[2])
	if err != nil || len(signPub) != ed25519.PublicKeySize {
		return nil, ErrMalformed
	}
	agreePubBytes, err := hex.DecodeString(parts[3])
	if err != nil || len(agreePubBytes) != crypto.AgreePublicKeySize {
		return nil, ErrMalformed
	}
	id := &Identity{
		typ:     Type(typVal),
		address: addr & addressMask,
		signPub: ed25519.PublicKey(signPub),
	}
	copy(id.agreePub[:], agreePubBytes)
	if len(parts) == 6 {
		signPriv, err := hex.DecodeString(parts[4])
		if err != nil || len(signPriv) != ed25519.PrivateKeySize {
			return nil, ErrMalformed
		}
		agreePrivBytes, err := hex.DecodeString(parts[5])
		if err != nil || len(agreePrivBytes) != crypto.AgreePrivateKeySize {
			return nil, ErrMalformed
		}
		if !bytes.Equal(ed25519.PrivateKey(signPriv).Public().(ed25519.PublicKey), signPub) {
			return nil, ErrMalformed
		}
		id.signPriv = ed25519.PrivateKey(signPriv)
		copy(id.agreePriv[:], agreePrivBytes)
		id.hasAgree = true
	}
	if err := id.Validate(); err != nil {
		return nil, ErrMalformed
	}
	return id, nil
}

// Fingerprint is the pair (address, SHA-384 of public-key material) used
// as the strong identity check throughout the engine (spec.md §3).
type Fingerprint struct {
	Address Address
	Hash    [crypto.FingerprintHashSize]byte
}

// Equal reports whether two fingerprints match exactly, the strong
// identity comparison per spec.md §3.
func (f Fingerprint) Equal(other Fingerprint) bool {
	return f.Address == other.Address && bytes.Equal(f.Hash[:], other.Hash[:])
}

// String renders the fingerprint as address:hash-in-hex, the form
// accepted by ParseFingerprint and used by the admin socket.
func (f Fingerprint) String() string {
	return f.Address.String() + ":" + hex.EncodeToString(f.Hash[:])
}

// ParseFingerprint parses the form produced by String.
func ParseFingerprint(s string) (Fingerprint, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return Fingerprint{}, ErrMalformed
	}
	addrBytes, err := hex.DecodeString(parts[0])
	if err != nil || len(addrBytes) != 5 {
		return Fingerprint{}, ErrMalformed
	}
	var addr uint64
	for _, b := range addrBytes {
		addr = (addr << 8) | uint64(b)
	}
	hashBytes, err := hex.DecodeString(parts[1])
	if err != nil || len(hashBytes) != crypto.FingerprintHashSize {
		return Fingerprint{}, ErrMalformed
	}
	fp := Fingerprint{Address: Address(addr & addressMask)}
	copy(fp.Hash[:], hashBytes)
	return fp, nil
}

// IsZeroHash reports whether the fingerprint's hash is all zero, which
// spec.md §4.6 uses as a sentinel meaning "match by address only".
func (f Fingerprint) IsZeroHash() bool {
	for _, b := range f.Hash {
		if b != 0 {
			return false
		}
	}
	return true
}
