// Package config holds the node core host's on-disk configuration: listen
// sockets, state store location, and trusted peers. This is host
// plumbing around the engine (spec.md §1 "Out of scope": the engine itself
// takes no config file), grounded on the teacher's src/config/config.go
// NodeState pattern and cmd/yggdrasilconf's hjson decode/encode idiom.
package config

import (
	"encoding/json"
	"sync"

	"github.com/hjson/hjson-go/v4"
)

// NodeState holds the active and previous configuration and protects both
// with a mutex, exactly as the teacher's NodeState does.
type NodeState struct {
	Current  NodeConfig
	Previous NodeConfig
	Mutex    sync.RWMutex
}

func (s *NodeState) GetCurrent() NodeConfig {
	s.Mutex.RLock()
	defer s.Mutex.RUnlock()
	return s.Current
}

func (s *NodeState) GetPrevious() NodeConfig {
	s.Mutex.RLock()
	defer s.Mutex.RUnlock()
	return s.Previous
}

func (s *NodeState) Replace(n NodeConfig) {
	s.Mutex.Lock()
	defer s.Mutex.Unlock()
	s.Previous = s.Current
	s.Current = n
}

// NodeConfig defines everything needed to run one zerotier-node process:
// where identity and peer state live, which UDP socket to bind, and the
// admin/monitoring surfaces to expose. The wire protocol and rule engine
// tunables (MaxPaths, LivenessWindow, etc.) are engine constants, not host
// config, per spec.md §1 Non-goals.
type NodeConfig struct {
	ListenPort       uint16        `json:"listenPort" comment:"UDP port to bind for VL1 traffic. Default is 9993, ZeroTier's\nregistered port. Use 0 to let the operating system pick a free port."`
	StatePath        string        `json:"statePath" comment:"Path to the sqlite3 database used as the state object store\n(IDENTITY_SECRET, peer records, network configs, trust certificates)."`
	AdminListen      string        `json:"adminListen" comment:"Listen address for the admin socket, e.g. unix:///var/run/zerotier-node.sock\nor tcp://127.0.0.1:9994. Use \"none\" to disable the admin socket."`
	MonitoringListen string        `json:"monitoringListen" comment:"Listen address for the Prometheus /metrics endpoint, e.g. tcp://127.0.0.1:9995.\nUse \"none\" to disable metrics."`
	PhysicalMTU      int           `json:"physicalMtu" comment:"Maximum size of a single UDP datagram. Not read by the engine, which\nfragments VL1 packets at its built-in 1432-byte default regardless."`
	TrustedPeers     []TrustedPeer `json:"trustedPeers" comment:"Peers to add via AddPeer/TryPeer at startup, identified by their\nfull identity string and, optionally, a known network endpoint."`
}

// TrustedPeer pins a peer's identity and last-known endpoint so the host
// can call Node.TryPeer at startup without waiting for discovery.
type TrustedPeer struct {
	Identity string `json:"identity"`
	Endpoint string `json:"endpoint,omitempty"`
}

// GenerateConfig returns the default configuration, used for -genconf and
// first-run autoconfiguration, mirroring the teacher's GenerateConfig.
func GenerateConfig() *NodeConfig {
	return &NodeConfig{
		ListenPort:       9993,
		StatePath:        "zerotier-node.db",
		AdminListen:      "unix:///var/run/zerotier-node.sock",
		MonitoringListen: "none",
		PhysicalMTU:      1400,
		TrustedPeers:     []TrustedPeer{},
	}
}

// Decode parses hjson or plain JSON config bytes into a NodeConfig. hjson
// is decoded into a generic map first and re-marshaled to JSON so that
// struct json tags, not hjson's own struct tags, govern field mapping -
// the same two-step the teacher's cmd/yggdrasilconf tool uses.
func Decode(data []byte) (*NodeConfig, error) {
	var generic map[string]interface{}
	if err := hjson.Unmarshal(data, &generic); err != nil {
		return nil, err
	}
	asJSON, err := json.Marshal(generic)
	if err != nil {
		return nil, err
	}
	cfg := GenerateConfig()
	if err := json.Unmarshal(asJSON, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Encode renders cfg as hjson, the format -genconf prints.
func Encode(cfg *NodeConfig) ([]byte, error) {
	return hjson.Marshal(cfg)
}
