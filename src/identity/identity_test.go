package identity

import (
	"bytes"
	"testing"
)

func TestGenerateValidates(t *testing.T) {
	id, err := Generate(TypeC25519)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if err := id.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !id.HasPrivate() {
		t.Fatal("generated identity should have a private key")
	}
}

func TestStringRoundTripPrivate(t *testing.T) {
	id, err := Generate(TypeC25519)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	s := id.String(true)
	parsed, err := FromString(s)
	if err != nil {
		t.Fatalf("FromString: %v", err)
	}
	if parsed.Address() != id.Address() {
		t.Fatalf("address mismatch: %v != %v", parsed.Address(), id.Address())
	}
	if !bytes.Equal(parsed.PublicKey(), id.PublicKey()) {
		t.Fatal("public key mismatch after round trip")
	}
	if !parsed.HasPrivate() {
		t.Fatal("round-tripped identity lost its private key")
	}
	if parsed.String(true) != s {
		t.Fatalf("round trip not byte-identical: %q != %q", parsed.String(true), s)
	}
}

func TestStringRoundTripPublicOnly(t *testing.T) {
	id, err := Generate(TypeC25519)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	pubStr := id.String(false)
	parsed, err := FromString(pubStr)
	if err != nil {
		t.Fatalf("FromString: %v", err)
	}
	if parsed.HasPrivate() {
		t.Fatal("public-only round trip should not carry a private key")
	}
	if parsed.String(false) != pubStr {
		t.Fatal("public round trip not byte-identical")
	}
}

func TestFromStringRejectsMalformed(t *testing.T) {
	cases := []string{
		"",
		"not-an-identity",
		"deadbeef00:0:aa:bb",
		"0000000000:9:" + string(make([]byte, 64)),
	}
	for _, c := range cases {
		if _, err := FromString(c); err == nil {
			t.Errorf("FromString(%q) should have failed", c)
		}
	}
}

func TestSignVerify(t *testing.T) {
	id, err := Generate(TypeC25519)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	msg := []byte("hello node core")
	sig, err := id.Sign(msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if len(sig) > 96 {
		t.Fatalf("signature exceeds 96-byte bound: %d", len(sig))
	}
	if !id.Verify(msg, sig) {
		t.Fatal("Verify failed on a valid signature")
	}
	if id.Verify([]byte("tampered"), sig) {
		t.Fatal("Verify succeeded on tampered message")
	}
}

func TestSignWithoutPrivateKeyFails(t *testing.T) {
	id, err := Generate(TypeC25519)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	pubOnly, err := FromString(id.String(false))
	if err != nil {
		t.Fatalf("FromString: %v", err)
	}
	if _, err := pubOnly.Sign([]byte("x")); err != ErrNoPrivateKey {
		t.Fatalf("expected ErrNoPrivateKey, got %v", err)
	}
}

func TestFingerprintEquality(t *testing.T) {
	id, err := Generate(TypeC25519)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	fp1 := id.Fingerprint()
	fp2 := id.Fingerprint()
	if !fp1.Equal(fp2) {
		t.Fatal("fingerprint of the same identity should be equal to itself")
	}
	other, err := Generate(TypeC25519)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if fp1.Equal(other.Fingerprint()) {
		t.Fatal("fingerprints of distinct identities should differ")
	}
}
