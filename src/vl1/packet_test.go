package vl1

import (
	"bytes"
	"testing"
	"time"

	"github.com/zerotier/node-core/src/crypto"
	"github.com/zerotier/node-core/src/identity"
)

func mustSession(t *testing.T) (*Session, *Session) {
	a, err := crypto.GenerateAgreeKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	b, err := crypto.GenerateAgreeKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	sa, err := NewSession(&a.Private, &b.Public)
	if err != nil {
		t.Fatal(err)
	}
	sb, err := NewSession(&b.Private, &a.Public)
	if err != nil {
		t.Fatal(err)
	}
	return sa, sb
}

func TestSealOpenRoundTrip(t *testing.T) {
	sa, sb := mustSession(t)
	p := &Packet{
		ID:          1234,
		Destination: identity.Address(0xAABBCCDDEE & 0xffffffffff),
		Source:      identity.Address(0x1122334455 & 0xffffffffff),
		Verb:        VerbUserMessage,
		Payload:     []byte("hi"),
	}
	sealed, err := sa.Seal(p)
	if err != nil {
		t.Fatal(err)
	}
	got, err := sb.Open(sealed)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if got.ID != p.ID || got.Destination != p.Destination || got.Source != p.Source || got.Verb != p.Verb {
		t.Fatalf("header mismatch: %+v vs %+v", got, p)
	}
	if !bytes.Equal(got.Payload, p.Payload) {
		t.Fatalf("payload mismatch: %q vs %q", got.Payload, p.Payload)
	}
}

func TestOpenFailsOnTamperedCiphertext(t *testing.T) {
	sa, sb := mustSession(t)
	p := &Packet{ID: 1, Verb: VerbNOP}
	sealed, err := sa.Seal(p)
	if err != nil {
		t.Fatal(err)
	}
	sealed[len(sealed)-1] ^= 0xff
	if _, err := sb.Open(sealed); err != ErrMACFailed {
		t.Fatalf("got %v, want ErrMACFailed", err)
	}
}

func TestFragmentRoundTrip(t *testing.T) {
	fr := NewFragmenter(MinPhysicalMTU)
	payload := make([]byte, 5000)
	for i := range payload {
		payload[i] = byte(i)
	}
	frags, err := fr.Split(99, payload)
	if err != nil {
		t.Fatal(err)
	}
	if len(frags) < 2 {
		t.Fatalf("expected multiple fragments, got %d", len(frags))
	}
	now := time.Now()
	var whole []byte
	var ok bool
	for _, f := range frags {
		whole, ok = fr.Reassemble(f, now)
	}
	if !ok {
		t.Fatal("expected reassembly to complete on last fragment")
	}
	if !bytes.Equal(whole, payload) {
		t.Fatal("reassembled payload mismatch")
	}
}

func TestUserMessageEncodeDecode(t *testing.T) {
	m := &UserMessage{TypeID: 0x42, Payload: []byte("hi")}
	enc, err := m.Encode()
	if err != nil {
		t.Fatal(err)
	}
	dec, err := DecodeUserMessage(enc)
	if err != nil {
		t.Fatal(err)
	}
	if dec.TypeID != m.TypeID || !bytes.Equal(dec.Payload, m.Payload) {
		t.Fatalf("round trip mismatch: %+v", dec)
	}
}

func TestDedupCatchesReplay(t *testing.T) {
	d := NewDedup()
	if d.Seen(7) {
		t.Fatal("first observation should not be a replay")
	}
	if !d.Seen(7) {
		t.Fatal("second observation should be a replay")
	}
}
