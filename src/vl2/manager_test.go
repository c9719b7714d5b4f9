package vl2

import (
	"testing"

	"github.com/zerotier/node-core/src/identity"
)

func TestJoinThenConfigUpdate(t *testing.T) {
	var ops []Op
	m := NewManager()
	m.VirtualConfig = func(nwid uint64, op Op, n *Network) { ops = append(ops, op) }

	const nwid = 0x8056c2e21c000001
	n := m.Join(0, nwid, nil)
	if n.Status != StatusRequestingConfig {
		t.Fatalf("got status %v, want REQUESTING_CONFIG", n.Status)
	}
	if len(ops) != 1 || ops[0] != OpUp {
		t.Fatalf("got ops %v, want [UP]", ops)
	}

	update := newNetwork(nwid, nil)
	update.NetconfRevision = 1
	if err := m.ApplyConfig(nwid, identity.Fingerprint{}, update); err != nil {
		t.Fatal(err)
	}
	got, _ := m.Get(nwid)
	if got.Status != StatusOK || got.NetconfRevision != 1 {
		t.Fatalf("got %+v, want OK rev 1", got)
	}
	if len(ops) != 2 || ops[1] != OpUp {
		t.Fatalf("first config after REQUESTING_CONFIG should report UP, got %v", ops)
	}

	update2 := newNetwork(nwid, nil)
	update2.NetconfRevision = 2
	if err := m.ApplyConfig(nwid, identity.Fingerprint{}, update2); err != nil {
		t.Fatal(err)
	}
	if len(ops) != 3 || ops[2] != OpConfigUpdate {
		t.Fatalf("second config should report CONFIG_UPDATE, got %v", ops)
	}
}

func TestApplyConfigRejectsMismatchedPinnedFingerprint(t *testing.T) {
	m := NewManager()
	const nwid = 0x8056c2e21c000001
	pinned := identity.Fingerprint{Address: identity.Address(1)}
	m.Join(0, nwid, &pinned)

	update := newNetwork(nwid, nil)
	update.NetconfRevision = 1
	wrong := identity.Fingerprint{Address: identity.Address(2)}
	if err := m.ApplyConfig(nwid, wrong, update); err != ErrInvalidCredential {
		t.Fatalf("got %v, want ErrInvalidCredential", err)
	}
}

func TestLeaveStopsFurtherCallbacks(t *testing.T) {
	var ops []Op
	m := NewManager()
	m.VirtualConfig = func(nwid uint64, op Op, n *Network) { ops = append(ops, op) }
	const nwid = 1
	m.Join(0, nwid, nil)
	m.Leave(nwid)
	if _, ok := m.Get(nwid); ok {
		t.Fatal("network should be gone after Leave")
	}
	if ops[len(ops)-1] != OpDestroy {
		t.Fatalf("last op should be DESTROY, got %v", ops)
	}
	m.ApplyConfig(nwid, identity.Fingerprint{}, newNetwork(nwid, nil))
	if len(ops) != 2 {
		t.Fatalf("ApplyConfig after Leave must not fire a callback, got %v", ops)
	}
}

func TestMulticastSubscribeIdempotent(t *testing.T) {
	m := NewManager()
	const nwid = 1
	m.Join(0, nwid, nil)
	mac := [6]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	m.MulticastSubscribe(nwid, mac, 42)
	m.MulticastSubscribe(nwid, mac, 42)
	groups := m.MulticastGroups(nwid)
	if len(groups) != 1 {
		t.Fatalf("got %d groups, want 1 after idempotent subscribe", len(groups))
	}
	m.MulticastUnsubscribe(nwid, [6]byte{}, 0)
	if len(m.MulticastGroups(nwid)) != 0 {
		t.Fatal("unsubscribe with zero group should clear all")
	}
}

func TestControllerAddress(t *testing.T) {
	const nwid = 0x8056c2e21c000001
	if got := ControllerAddress(nwid); got != identity.Address(0x8056c2e21c) {
		t.Fatalf("got %x, want 0x8056c2e21c", uint64(got))
	}
}
