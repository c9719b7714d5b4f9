package core

import (
	"net/netip"
	"sync"
	"testing"

	"github.com/zerotier/node-core/src/identity"
	"github.com/zerotier/node-core/src/statestore"
)

type memStore struct {
	mu   sync.Mutex
	data map[statestore.ObjectID][]byte
}

func newMemStore() *memStore { return &memStore{data: make(map[statestore.ObjectID][]byte)} }

func (m *memStore) callbacks() statestore.Callbacks {
	return statestore.Callbacks{
		Put: func(id statestore.ObjectID, data []byte) error {
			m.mu.Lock()
			defer m.mu.Unlock()
			if data == nil {
				delete(m.data, id)
				return nil
			}
			m.data[id] = append([]byte(nil), data...)
			return nil
		},
		Get: func(id statestore.ObjectID) ([]byte, bool) {
			m.mu.Lock()
			defer m.mu.Unlock()
			d, ok := m.data[id]
			return d, ok
		},
	}
}

func testCallbacks(store *memStore, events *[]Event) Callbacks {
	return Callbacks{
		StatePut:             store.callbacks(),
		WirePacketSend:       func(int64, netip.AddrPort, []byte) error { return nil },
		VirtualNetworkFrame:  func(uint64, [6]byte, [6]byte, uint16, uint16, []byte) {},
		VirtualNetworkConfig: func(uint64, int, []byte) {},
		Event:                func(ev Event) { *events = append(*events, ev) },
	}
}

func TestNewColdStartGeneratesIdentityAndEmitsUp(t *testing.T) {
	store := newMemStore()
	var events []Event
	n, err := New(testCallbacks(store, &events), 1000, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Type != EventUp {
		t.Fatalf("got events %+v, want exactly one EVENT_UP", events)
	}
	if !n.Identity().HasPrivate() {
		t.Fatal("generated identity should hold private key material")
	}
	if _, ok := store.data[statestore.ObjectID{Type: statestore.ObjectIdentitySecret}]; !ok {
		t.Fatal("IDENTITY_SECRET should have been persisted")
	}
}

func TestNewReloadsExistingIdentity(t *testing.T) {
	store := newMemStore()
	var events []Event
	n1, err := New(testCallbacks(store, &events), 1000, nil)
	if err != nil {
		t.Fatal(err)
	}
	addr1 := n1.Address()

	events = nil
	n2, err := New(testCallbacks(store, &events), 2000, nil)
	if err != nil {
		t.Fatal(err)
	}
	if n2.Address() != addr1 {
		t.Fatalf("reloaded identity address %v != original %v", n2.Address(), addr1)
	}
	if len(events) != 1 || events[0].Type != EventUp {
		t.Fatalf("reload should still emit exactly one EVENT_UP, got %+v", events)
	}
}

func TestNewRejectsMissingCallbacks(t *testing.T) {
	store := newMemStore()
	cb := testCallbacks(store, &[]Event{})
	cb.Event = nil
	if _, err := New(cb, 0, nil); AsResultCode(err) != ResultBadParameter {
		t.Fatalf("got %v, want ResultBadParameter", err)
	}
}

func TestJoinThenLeaveNoFurtherCallbacks(t *testing.T) {
	store := newMemStore()
	var events []Event
	n, err := New(testCallbacks(store, &events), 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	const nwid = 0x8056c2e21c000001
	if code := n.Join(0, nwid, nil); code != ResultOK {
		t.Fatalf("Join: %v", code)
	}
	if _, ok := n.NetworkConfig(nwid); !ok {
		t.Fatal("network should be present after Join")
	}
	if code := n.Leave(nwid); code != ResultOK {
		t.Fatalf("Leave: %v", code)
	}
	if _, ok := n.NetworkConfig(nwid); ok {
		t.Fatal("network should be gone after Leave")
	}
}

func TestProcessBackgroundTasksAdvancesDeadline(t *testing.T) {
	store := newMemStore()
	var events []Event
	n, err := New(testCallbacks(store, &events), 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	firstDeadline, code := n.ProcessBackgroundTasks(0)
	if code != ResultOK {
		t.Fatalf("got %v", code)
	}
	nextDeadline, code := n.ProcessBackgroundTasks(firstDeadline)
	if code != ResultOK {
		t.Fatalf("got %v", code)
	}
	if nextDeadline <= firstDeadline {
		t.Fatalf("deadline should advance: %d -> %d", firstDeadline, nextDeadline)
	}
}

func TestDeleteEmitsDownExactlyOnce(t *testing.T) {
	store := newMemStore()
	var events []Event
	n, err := New(testCallbacks(store, &events), 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	n.Delete()
	n.Delete()
	downs := 0
	for _, ev := range events {
		if ev.Type == EventDown {
			downs++
		}
	}
	if downs != 1 {
		t.Fatalf("got %d EVENT_DOWN, want exactly 1", downs)
	}
}

func TestSendUserMessageToUnknownPeerIsNotFound(t *testing.T) {
	store := newMemStore()
	var events []Event
	n, err := New(testCallbacks(store, &events), 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	unknown, _ := identity.Generate(identity.TypeC25519)
	if code := n.SendUserMessage(0, unknown.Address(), 1, []byte("hi")); code != ResultNetworkNotFound {
		t.Fatalf("got %v, want ResultNetworkNotFound for a peer never added", code)
	}
}
