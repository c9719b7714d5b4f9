package config

import "testing"

func TestGenerateConfig(t *testing.T) {
	cfg := GenerateConfig()
	if cfg.ListenPort != 9993 {
		t.Fatalf("expected default listen port 9993, got %d", cfg.ListenPort)
	}
	if cfg.StatePath == "" {
		t.Fatal("expected non-empty default state path")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cfg := GenerateConfig()
	cfg.ListenPort = 1234
	cfg.TrustedPeers = []TrustedPeer{{Identity: "abc", Endpoint: "1.2.3.4:9993"}}

	encoded, err := Encode(cfg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.ListenPort != 1234 {
		t.Fatalf("expected listen port 1234 after round trip, got %d", decoded.ListenPort)
	}
	if len(decoded.TrustedPeers) != 1 || decoded.TrustedPeers[0].Identity != "abc" {
		t.Fatalf("trusted peers did not round-trip: %+v", decoded.TrustedPeers)
	}
}

func TestNodeStateReplace(t *testing.T) {
	var s NodeState
	first := *GenerateConfig()
	first.ListenPort = 1
	s.Replace(first)

	second := *GenerateConfig()
	second.ListenPort = 2
	s.Replace(second)

	if s.GetCurrent().ListenPort != 2 {
		t.Fatalf("expected current listen port 2, got %d", s.GetCurrent().ListenPort)
	}
	if s.GetPrevious().ListenPort != 1 {
		t.Fatalf("expected previous listen port 1, got %d", s.GetPrevious().ListenPort)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode([]byte("not valid hjson {{{")); err == nil {
		t.Fatal("expected an error decoding malformed config")
	}
}
