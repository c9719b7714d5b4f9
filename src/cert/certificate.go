// Package cert implements signed certificates binding identities,
// networks, and names to an issuer, plus the trust store that parameterizes
// chain validation (spec.md §3, §4.4).
package cert

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"time"

	"github.com/zerotier/node-core/src/crypto"
	"github.com/zerotier/node-core/src/identity"
)

// SerialSize is the length, in bytes, of a certificate serial (spec.md
// §3: serial == SHA384(canonical bytes)).
const SerialSize = crypto.FingerprintHashSize

// Flags bitset on a Certificate.
type Flags uint32

const (
	FlagNone Flags = 0
)

// Subject carries the set of things a certificate attests to (spec.md
// §3).
type Subject struct {
	Identities            []*identity.Identity
	Networks              []NetworkAttestation
	SubordinateCertSerials [][SerialSize]byte
	UpdateURLs            []string
	Name                  Name
	UniqueID              []byte // P-384 public key, or nil
	UniqueIDProofSignature []byte
}

// NetworkAttestation binds a network ID to the fingerprint of the
// controller identity authorized to configure it.
type NetworkAttestation struct {
	NetworkID             uint64
	ControllerFingerprint identity.Fingerprint
}

// Name is the human-readable subject name (spec.md §3).
type Name struct {
	CommonName   string
	Country      string
	Organization string
}

// Certificate is a signed attestation over a Subject (spec.md §3, §4.4).
type Certificate struct {
	Serial       [SerialSize]byte
	Flags        Flags
	TimestampMs  int64
	NotBefore    time.Time
	NotAfter     time.Time
	Subject      Subject
	Issuer       *identity.Identity // public half is enough to verify
	IssuerName   Name
	MaxPathLength int
	Signature    []byte

	// issuerPubKeyBytes holds the raw issuer signing public key decoded
	// from the wire when Issuer could not be reconstructed locally (no
	// paired agreement key is carried in the certificate encoding).
	// Decode uses it to rebuild a verifiable Issuer before running the
	// signature checks.
	issuerPubKeyBytes []byte
}

// canonicalBytes returns the signable encoding of c, excluding the serial
// and the signature (spec.md §3 invariant).
func (c *Certificate) canonicalBytes() []byte {
	var buf bytes.Buffer
	var u64 [8]byte

	binary.BigEndian.PutUint32(u64[:4], uint32(c.Flags))
	buf.Write(u64[:4])
	binary.BigEndian.PutUint64(u64[:], uint64(c.TimestampMs))
	buf.Write(u64[:])
	binary.BigEndian.PutUint64(u64[:], uint64(c.NotBefore.UnixMilli()))
	buf.Write(u64[:])
	binary.BigEndian.PutUint64(u64[:], uint64(c.NotAfter.UnixMilli()))
	buf.Write(u64[:])

	buf.WriteByte(byte(len(c.Subject.Identities)))
	for _, id := range c.Subject.Identities {
		pub := id.PublicKey()
		buf.WriteByte(byte(len(pub)))
		buf.Write(pub)
	}

	buf.WriteByte(byte(len(c.Subject.Networks)))
	for _, n := range c.Subject.Networks {
		binary.BigEndian.PutUint64(u64[:], n.NetworkID)
		buf.Write(u64[:])
		buf.Write(n.ControllerFingerprint.Hash[:])
	}

	buf.WriteByte(byte(len(c.Subject.SubordinateCertSerials)))
	for _, s := range c.Subject.SubordinateCertSerials {
		buf.Write(s[:])
	}

	buf.WriteByte(byte(len(c.Subject.UpdateURLs)))
	for _, u := range c.Subject.UpdateURLs {
		buf.WriteByte(byte(len(u)))
		buf.WriteString(u)
	}

	writeName(&buf, c.Subject.Name)
	buf.WriteByte(byte(len(c.Subject.UniqueID)))
	buf.Write(c.Subject.UniqueID)
	buf.WriteByte(byte(len(c.Subject.UniqueIDProofSignature)))
	buf.Write(c.Subject.UniqueIDProofSignature)

	if c.Issuer != nil {
		pub := c.Issuer.PublicKey()
		buf.WriteByte(byte(len(pub)))
		buf.Write(pub)
	} else {
		buf.WriteByte(0)
	}
	writeName(&buf, c.IssuerName)

	binary.BigEndian.PutUint32(u64[:4], uint32(c.MaxPathLength))
	buf.Write(u64[:4])

	return buf.Bytes()
}

func writeName(buf *bytes.Buffer, n Name) {
	for _, s := range []string{n.CommonName, n.Country, n.Organization} {
		buf.WriteByte(byte(len(s)))
		buf.WriteString(s)
	}
}

// NewSubjectUniqueID generates a P-384 keypair whose public key becomes a
// subject's unique ID (spec.md §4.4).
func NewSubjectUniqueID() (pub []byte, priv *ecdsa.PrivateKey, err error) {
	priv, err = ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	pub = elliptic.MarshalCompressed(elliptic.P384(), priv.PublicKey.X, priv.PublicKey.Y)
	return pub, priv, nil
}

// NewCSR builds an unsigned Subject for submission to an issuer, optionally
// binding a subject-level unique ID. Per spec.md §4.4, if only one of
// (uniqueID, uniqueIDPrivate) is supplied the call is rejected.
func NewCSR(subject Subject, uniqueID []byte, uniqueIDPrivate *ecdsa.PrivateKey) (Subject, error) {
	if (uniqueID == nil) != (uniqueIDPrivate == nil) {
		return Subject{}, errors.New("cert: uniqueID and uniqueIDPrivate must both be provided or both be absent")
	}
	subject.UniqueID = nil
	subject.UniqueIDProofSignature = nil
	if uniqueID != nil {
		var buf bytes.Buffer
		writeName(&buf, subject.Name)
		for _, id := range subject.Identities {
			buf.Write(id.PublicKey())
		}
		sig, err := signECDSA(uniqueIDPrivate, buf.Bytes())
		if err != nil {
			return Subject{}, err
		}
		subject.UniqueID = uniqueID
		subject.UniqueIDProofSignature = sig
	}
	return subject, nil
}

func signECDSA(priv *ecdsa.PrivateKey, msg []byte) ([]byte, error) {
	digest := crypto.SHA384(msg)
	return ecdsa.SignASN1(rand.Reader, priv, digest[:])
}

func verifyECDSACompressed(pubCompressed []byte, msg, sig []byte) bool {
	x, y := elliptic.UnmarshalCompressed(elliptic.P384(), pubCompressed)
	if x == nil {
		return false
	}
	pub := &ecdsa.PublicKey{Curve: elliptic.P384(), X: x, Y: y}
	digest := crypto.SHA384(msg)
	return ecdsa.VerifyASN1(pub, digest[:], sig)
}

// Sign fills in c.Issuer, computes the canonical bytes (excluding serial
// and signature), signs them with signerIdentity, then sets
// c.Serial = SHA384(canonical || signature) (spec.md §4.4).
func Sign(c *Certificate, signerIdentity *identity.Identity) error {
	if !signerIdentity.HasPrivate() {
		return identity.ErrNoPrivateKey
	}
	c.Issuer = signerIdentity
	canonical := c.canonicalBytes()
	sig, err := signerIdentity.Sign(canonical)
	if err != nil {
		return err
	}
	c.Signature = sig
	c.Serial = crypto.SHA384(append(append([]byte{}, canonical...), sig...))
	return nil
}

// VerifyResult is the outcome of Decode with verification enabled.
// Positive values are informational, negative values are hard failures,
// and zero is success (spec.md §7).
type VerifyResult int

const (
	VerifyOK                     VerifyResult = 0
	VerifyHaveNewerCert          VerifyResult = 1
	VerifyInvalidFormat          VerifyResult = -1
	VerifyMissingRequiredFields  VerifyResult = -2
	VerifyInvalidIdentity        VerifyResult = -3
	VerifyInvalidPrimarySignature VerifyResult = -4
	VerifyInvalidComponentSignature VerifyResult = -5
	VerifyInvalidUniqueIDProof   VerifyResult = -6
	VerifyOutOfValidTimeWindow   VerifyResult = -7
	VerifyInvalidChain           VerifyResult = -8
)

func (r VerifyResult) String() string {
	switch r {
	case VerifyOK:
		return "ok"
	case VerifyHaveNewerCert:
		return "have newer certificate"
	case VerifyInvalidFormat:
		return "invalid format"
	case VerifyMissingRequiredFields:
		return "missing required fields"
	case VerifyInvalidIdentity:
		return "invalid identity"
	case VerifyInvalidPrimarySignature:
		return "invalid primary signature"
	case VerifyInvalidComponentSignature:
		return "invalid component signature"
	case VerifyInvalidUniqueIDProof:
		return "invalid unique-id proof"
	case VerifyOutOfValidTimeWindow:
		return "out of valid time window"
	case VerifyInvalidChain:
		return "invalid chain"
	default:
		return "unknown"
	}
}

// Decode parses buf into a Certificate. When verify is true, checks run in
// the order mandated by spec.md §4.4, stopping at the first failure.
func Decode(buf []byte, verify bool, now time.Time) (*Certificate, VerifyResult, error) {
	c, err := unmarshal(buf)
	if err != nil {
		return nil, VerifyInvalidFormat, err
	}
	if len(c.issuerPubKeyBytes) > 0 {
		issuer, err := identity.FromPublicKey(c.issuerPubKeyBytes, [32]byte{})
		if err == nil {
			c.Issuer = issuer
		}
	}
	if !verify {
		return c, VerifyOK, nil
	}
	if c.Issuer == nil || c.Signature == nil {
		return c, VerifyMissingRequiredFields, nil
	}
	for _, id := range c.Subject.Identities {
		if err := id.Validate(); err != nil {
			return c, VerifyInvalidIdentity, nil
		}
	}
	canonical := c.canonicalBytes()
	if !c.Issuer.Verify(canonical, c.Signature) {
		return c, VerifyInvalidPrimarySignature, nil
	}
	if len(c.Subject.UniqueID) > 0 {
		var nameBuf bytes.Buffer
		writeName(&nameBuf, c.Subject.Name)
		for _, id := range c.Subject.Identities {
			nameBuf.Write(id.PublicKey())
		}
		if !verifyECDSACompressed(c.Subject.UniqueID, nameBuf.Bytes(), c.Subject.UniqueIDProofSignature) {
			return c, VerifyInvalidUniqueIDProof, nil
		}
	}
	if now.Before(c.NotBefore) || now.After(c.NotAfter) {
		return c, VerifyOutOfValidTimeWindow, nil
	}
	return c, VerifyOK, nil
}

// IsValid reports whether a decoded subject is valid per spec.md §4.4: a
// subject is valid iff it has no unique ID, or its unique-ID proof
// verifies.
func (s *Subject) IsValid() bool {
	if len(s.UniqueID) == 0 {
		return true
	}
	var nameBuf bytes.Buffer
	writeName(&nameBuf, s.Name)
	for _, id := range s.Identities {
		nameBuf.Write(id.PublicKey())
	}
	return verifyECDSACompressed(s.UniqueID, nameBuf.Bytes(), s.UniqueIDProofSignature)
}

// marshal/unmarshal keep the wire encoding separate from canonicalBytes
// (which intentionally excludes the serial and signature).
func (c *Certificate) marshal() []byte {
	var buf bytes.Buffer
	buf.Write(c.canonicalBytes())
	buf.WriteByte(byte(len(c.Signature)))
	buf.Write(c.Signature)
	buf.Write(c.Serial[:])
	return buf.Bytes()
}

func unmarshal(data []byte) (*Certificate, error) {
	// This reconstructs the fixed-layout prefix that canonicalBytes
	// produces. Because canonicalBytes embeds variable-length fields
	// without a trailing length header at the top level, decoding walks
	// the same field order that Sign's canonicalBytes call writes.
	r := bytes.NewReader(data)
	c := &Certificate{}

	var u32 [4]byte
	var u64 [8]byte

	readU32 := func() (uint32, error) {
		if _, err := r.Read(u32[:]); err != nil {
			return 0, err
		}
		return binary.BigEndian.Uint32(u32[:]), nil
	}
	readU64 := func() (uint64, error) {
		if _, err := r.Read(u64[:]); err != nil {
			return 0, err
		}
		return binary.BigEndian.Uint64(u64[:]), nil
	}
	readByte := func() (byte, error) { return r.ReadByte() }
	readBytes := func(n int) ([]byte, error) {
		b := make([]byte, n)
		if n == 0 {
			return b, nil
		}
		if _, err := r.Read(b); err != nil {
			return nil, err
		}
		return b, nil
	}
	readString := func() (string, error) {
		n, err := readByte()
		if err != nil {
			return "", err
		}
		b, err := readBytes(int(n))
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	readName := func() (Name, error) {
		var n Name
		var err error
		if n.CommonName, err = readString(); err != nil {
			return n, err
		}
		if n.Country, err = readString(); err != nil {
			return n, err
		}
		if n.Organization, err = readString(); err != nil {
			return n, err
		}
		return n, nil
	}

	flags, err := readU32()
	if err != nil {
		return nil, errors.New("cert: truncated flags")
	}
	c.Flags = Flags(flags)
	ts, err := readU64()
	if err != nil {
		return nil, err
	}
	c.TimestampMs = int64(ts)
	nb, err := readU64()
	if err != nil {
		return nil, err
	}
	c.NotBefore = time.UnixMilli(int64(nb))
	na, err := readU64()
	if err != nil {
		return nil, err
	}
	c.NotAfter = time.UnixMilli(int64(na))

	nIdentities, err := readByte()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(nIdentities); i++ {
		n, err := readByte()
		if err != nil {
			return nil, err
		}
		pub, err := readBytes(int(n))
		if err != nil {
			return nil, err
		}
		id, err := identity.FromPublicKey(pub, [32]byte{})
		if err != nil {
			return nil, errors.New("cert: embedded identity fails proof-of-work constraint")
		}
		c.Subject.Identities = append(c.Subject.Identities, id)
	}

	nNetworks, err := readByte()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(nNetworks); i++ {
		nwid, err := readU64()
		if err != nil {
			return nil, err
		}
		hash, err := readBytes(SerialSize)
		if err != nil {
			return nil, err
		}
		var na NetworkAttestation
		na.NetworkID = nwid
		copy(na.ControllerFingerprint.Hash[:], hash)
		c.Subject.Networks = append(c.Subject.Networks, na)
	}

	nSerials, err := readByte()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(nSerials); i++ {
		s, err := readBytes(SerialSize)
		if err != nil {
			return nil, err
		}
		var sarr [SerialSize]byte
		copy(sarr[:], s)
		c.Subject.SubordinateCertSerials = append(c.Subject.SubordinateCertSerials, sarr)
	}

	nURLs, err := readByte()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(nURLs); i++ {
		u, err := readString()
		if err != nil {
			return nil, err
		}
		c.Subject.UpdateURLs = append(c.Subject.UpdateURLs, u)
	}

	if c.Subject.Name, err = readName(); err != nil {
		return nil, err
	}
	uidLen, err := readByte()
	if err != nil {
		return nil, err
	}
	if c.Subject.UniqueID, err = readBytes(int(uidLen)); err != nil {
		return nil, err
	}
	uidSigLen, err := readByte()
	if err != nil {
		return nil, err
	}
	if c.Subject.UniqueIDProofSignature, err = readBytes(int(uidSigLen)); err != nil {
		return nil, err
	}

	issuerPubLen, err := readByte()
	if err != nil {
		return nil, err
	}
	if issuerPubLen > 0 {
		issuerPub, err := readBytes(int(issuerPubLen))
		if err != nil {
			return nil, err
		}
		// Only the raw key bytes are kept here; Decode rebuilds c.Issuer
		// from them (with a zero agreement key) before any signature
		// check.
		c.issuerPubKeyBytes = issuerPub
	}
	if c.IssuerName, err = readName(); err != nil {
		return nil, err
	}
	mpl, err := readU32()
	if err != nil {
		return nil, err
	}
	c.MaxPathLength = int(mpl)

	sigLen, err := readByte()
	if err != nil {
		return nil, err
	}
	if c.Signature, err = readBytes(int(sigLen)); err != nil {
		return nil, err
	}
	serial, err := readBytes(SerialSize)
	if err != nil {
		return nil, err
	}
	copy(c.Serial[:], serial)
	return c, nil
}
