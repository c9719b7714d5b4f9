package locator

import (
	"net"
	"testing"

	"github.com/zerotier/node-core/src/identity"
)

func mustIdentity(t *testing.T) *identity.Identity {
	id, err := identity.Generate(identity.TypeC25519)
	if err != nil {
		t.Fatalf("identity.Generate: %v", err)
	}
	return id
}

func TestCreateAndVerify(t *testing.T) {
	signer := mustIdentity(t)
	ep := IPUDP(&net.UDPAddr{IP: net.ParseIP("203.0.113.5"), Port: 9993})
	l, err := Create(1700000000000, []Endpoint{ep}, signer)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !l.Verify(signer) {
		t.Fatal("Verify failed for the signer that created the locator")
	}
	other := mustIdentity(t)
	if l.Verify(other) {
		t.Fatal("Verify succeeded for an unrelated identity")
	}
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	signer := mustIdentity(t)
	ep := IPUDP(&net.UDPAddr{IP: net.ParseIP("198.51.100.9"), Port: 1234})
	l, err := Create(42, []Endpoint{ep}, signer)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	data := l.Marshal()
	parsed, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !parsed.Verify(signer) {
		t.Fatal("round-tripped locator failed to verify")
	}
	if string(parsed.Marshal()) != string(data) {
		t.Fatal("marshal/unmarshal did not round-trip exactly")
	}
}

func TestToStringFromStringRoundTrip(t *testing.T) {
	signer := mustIdentity(t)
	ep := IPUDP(&net.UDPAddr{IP: net.ParseIP("192.0.2.1"), Port: 9993})
	l, err := Create(1, []Endpoint{ep}, signer)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	s := l.ToString()
	parsed, err := FromString(s)
	if err != nil {
		t.Fatalf("FromString: %v", err)
	}
	if parsed.ToString() != s {
		t.Fatal("ToString/FromString did not round-trip exactly")
	}
}

func TestTooManyEndpointsRejected(t *testing.T) {
	signer := mustIdentity(t)
	eps := make([]Endpoint, MaxEndpoints+1)
	for i := range eps {
		eps[i] = IPUDP(&net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 9993})
	}
	if _, err := Create(1, eps, signer); err == nil {
		t.Fatal("expected error for too many endpoints")
	}
}
