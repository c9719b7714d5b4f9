package cert

import (
	"testing"
	"time"

	"github.com/zerotier/node-core/src/crypto"
	"github.com/zerotier/node-core/src/identity"
)

func mustIdentity(t *testing.T) *identity.Identity {
	id, err := identity.Generate(identity.TypeC25519)
	if err != nil {
		t.Fatalf("identity.Generate: %v", err)
	}
	return id
}

func freshCert(t *testing.T, issuer *identity.Identity, notBefore, notAfter time.Time) *Certificate {
	c := &Certificate{
		TimestampMs: notBefore.UnixMilli(),
		NotBefore:   notBefore,
		NotAfter:    notAfter,
		Subject: Subject{
			Name: Name{CommonName: "test-subject"},
		},
		MaxPathLength: 1,
	}
	if err := Sign(c, issuer); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return c
}

func TestSignSetsSerialToHashOfCanonicalAndSignature(t *testing.T) {
	issuer := mustIdentity(t)
	now := time.Now()
	c := freshCert(t, issuer, now.Add(-time.Hour), now.Add(time.Hour))

	canonical := c.canonicalBytes()
	expected := crypto.SHA384(append(append([]byte{}, canonical...), c.Signature...))
	if expected != c.Serial {
		t.Fatal("serial does not equal SHA384(canonical || signature)")
	}
}

func TestDecodeVerifyOK(t *testing.T) {
	issuer := mustIdentity(t)
	now := time.Now()
	c := freshCert(t, issuer, now.Add(-time.Hour), now.Add(time.Hour))
	data := c.marshal()

	decoded, result, err := Decode(data, true, now)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if result != VerifyOK {
		t.Fatalf("expected VerifyOK, got %v", result)
	}
	if decoded.Serial != c.Serial {
		t.Fatal("serial mismatch after decode")
	}
}

func TestDecodeOutOfValidTimeWindow(t *testing.T) {
	issuer := mustIdentity(t)
	now := time.Now()
	c := freshCert(t, issuer, now.Add(-2*time.Hour), now.Add(-time.Hour))
	data := c.marshal()

	_, result, err := Decode(data, true, now)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if result != VerifyOutOfValidTimeWindow {
		t.Fatalf("expected VerifyOutOfValidTimeWindow, got %v", result)
	}

	// Decoding without verification should still succeed.
	_, result2, err := Decode(data, false, now)
	if err != nil {
		t.Fatalf("Decode without verify: %v", err)
	}
	if result2 != VerifyOK {
		t.Fatalf("expected VerifyOK when verify=false, got %v", result2)
	}
}

func TestDecodeTamperedSignatureFails(t *testing.T) {
	issuer := mustIdentity(t)
	now := time.Now()
	c := freshCert(t, issuer, now.Add(-time.Hour), now.Add(time.Hour))
	data := c.marshal()
	// Flip a bit inside the encoded signature bytes.
	data[len(data)-SerialSize-1] ^= 0xff

	_, result, err := Decode(data, true, now)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if result != VerifyInvalidPrimarySignature {
		t.Fatalf("expected VerifyInvalidPrimarySignature, got %v", result)
	}
}

func TestSubjectUniqueIDProof(t *testing.T) {
	issuer := mustIdentity(t)
	holder := mustIdentity(t)
	pub, priv, err := NewSubjectUniqueID()
	if err != nil {
		t.Fatalf("NewSubjectUniqueID: %v", err)
	}
	subject, err := NewCSR(Subject{
		Identities: []*identity.Identity{holder},
		Name:       Name{CommonName: "unique-id-holder"},
	}, pub, priv)
	if err != nil {
		t.Fatalf("NewCSR: %v", err)
	}
	if !subject.IsValid() {
		t.Fatal("subject with a valid unique-ID proof should be valid")
	}

	now := time.Now()
	c := &Certificate{
		TimestampMs: now.UnixMilli(),
		NotBefore:   now.Add(-time.Hour),
		NotAfter:    now.Add(time.Hour),
		Subject:     subject,
	}
	if err := Sign(c, issuer); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	_, result, err := Decode(c.marshal(), true, now)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if result != VerifyOK {
		t.Fatalf("expected VerifyOK, got %v", result)
	}
}

func TestNewCSRRejectsMismatchedUniqueIDInputs(t *testing.T) {
	pub, _, err := NewSubjectUniqueID()
	if err != nil {
		t.Fatalf("NewSubjectUniqueID: %v", err)
	}
	if _, err := NewCSR(Subject{}, pub, nil); err == nil {
		t.Fatal("expected error when only uniqueID is supplied")
	}
}

func TestTrustStoreSupersession(t *testing.T) {
	issuer := mustIdentity(t)
	now := time.Now()
	older := freshCert(t, issuer, now.Add(-2*time.Hour), now.Add(time.Hour))
	ts := NewTrustStore()
	if result, err := ts.Add(older, TrustRootCA); err != nil || result != VerifyOK {
		t.Fatalf("Add(older): result=%v err=%v", result, err)
	}

	newer := &Certificate{
		TimestampMs: now.UnixMilli(),
		NotBefore:   now.Add(-time.Hour),
		NotAfter:    now.Add(2 * time.Hour),
		Subject:     older.Subject,
	}
	if err := Sign(newer, issuer); err != nil {
		t.Fatalf("Sign(newer): %v", err)
	}
	if result, err := ts.Add(newer, TrustRootCA); err != nil || result != VerifyOK {
		t.Fatalf("Add(newer): result=%v err=%v", result, err)
	}

	// Re-adding the older certificate should now report HAVE_NEWER_CERT.
	if result, err := ts.Add(older, TrustRootCA); err != nil || result != VerifyHaveNewerCert {
		t.Fatalf("re-Add(older): result=%v err=%v", result, err)
	}
}

func TestTrustStoreRejectsNonRootIntoEmptyStore(t *testing.T) {
	issuer := mustIdentity(t)
	now := time.Now()
	leaf := freshCert(t, issuer, now.Add(-time.Hour), now.Add(time.Hour))

	ts := NewTrustStore()
	result, err := ts.Add(leaf, TrustNone)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if result != VerifyInvalidChain {
		t.Fatalf("expected VerifyInvalidChain for a non-root certificate into an empty trust store, got %v", result)
	}
	if _, _, ok := ts.Get(leaf.Serial); ok {
		t.Fatal("a certificate that failed chain validation must not be inserted")
	}
}
