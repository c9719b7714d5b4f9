// Package statestore implements the typed state-object-store facade of
// spec.md §4.5: a content-addressed key/value interface through which the
// host persists and retrieves identity, peers, network configs, the
// locator, the trust store, and certificates.
package statestore

import "fmt"

// ObjectType identifies the kind of state object being stored or
// retrieved (spec.md §4.5).
type ObjectType int

const (
	ObjectIdentityPublic ObjectType = iota
	ObjectIdentitySecret
	ObjectLocator
	ObjectPeer
	ObjectNetworkConfig
	ObjectTrustStore
	ObjectCert
)

// idSize returns the number of u64 words that make up an ID for this
// object type (spec.md §4.5's "ID size" column).
func (t ObjectType) idSize() int {
	switch t {
	case ObjectPeer, ObjectNetworkConfig:
		return 1
	case ObjectCert:
		return 6
	default:
		return 0
	}
}

// String returns the canonical path hint for the object type (spec.md
// §4.5), used by file-backed implementations and for log messages.
func (t ObjectType) String() string {
	switch t {
	case ObjectIdentityPublic:
		return "identity.public"
	case ObjectIdentitySecret:
		return "identity.secret"
	case ObjectLocator:
		return "locator"
	case ObjectPeer:
		return "peers.d"
	case ObjectNetworkConfig:
		return "networks.d"
	case ObjectTrustStore:
		return "trust"
	case ObjectCert:
		return "certs.d"
	default:
		return "unknown"
	}
}

// ObjectID is a typed content-address: an array of up to 6 u64 words,
// whose meaningful length depends on Type (spec.md §4.5).
type ObjectID struct {
	Type ObjectType
	ID   [6]uint64
}

// PeerID builds the ID for a PEER object from a 40-bit address.
func PeerID(address uint64) ObjectID {
	return ObjectID{Type: ObjectPeer, ID: [6]uint64{address & 0xffffffffff}}
}

// NetworkConfigID builds the ID for a NETWORK_CONFIG object.
func NetworkConfigID(nwid uint64) ObjectID {
	return ObjectID{Type: ObjectNetworkConfig, ID: [6]uint64{nwid}}
}

// CertID builds the ID for a CERT object from a 384-bit serial, expressed
// as 6 big-endian u64 words.
func CertID(serial [48]byte) ObjectID {
	var id ObjectID
	id.Type = ObjectCert
	for i := 0; i < 6; i++ {
		var w uint64
		for j := 0; j < 8; j++ {
			w = (w << 8) | uint64(serial[i*8+j])
		}
		id.ID[i] = w
	}
	return id
}

// path renders a canonical path hint, matching spec.md §4.5's table.
func (id ObjectID) path() string {
	switch id.Type {
	case ObjectPeer:
		return fmt.Sprintf("%s/%010x", id.Type, id.ID[0])
	case ObjectNetworkConfig:
		return fmt.Sprintf("%s/%016x.conf", id.Type, id.ID[0])
	case ObjectCert:
		var b []byte
		for _, w := range id.ID {
			b = append(b, byte(w>>56), byte(w>>48), byte(w>>40), byte(w>>32), byte(w>>24), byte(w>>16), byte(w>>8), byte(w))
		}
		return fmt.Sprintf("%s/%x", id.Type, b)
	default:
		return id.Type.String()
	}
}

// Callbacks is the host-supplied state persistence surface (spec.md §4.5
// and §6). Put with a nil value means delete. Get returns (nil, false) for
// an absent object.
type Callbacks struct {
	Put func(id ObjectID, data []byte) error
	Get func(id ObjectID) (data []byte, ok bool)
}

// ErrDataStoreFailed is returned by Store methods when the host-supplied
// Put/Get callback fails for an object whose loss is fatal (spec.md §4.5:
// IDENTITY_SECRET loss is fatal-data-store-failed).
type ErrDataStoreFailed struct {
	Object ObjectID
	Cause  error
}

func (e *ErrDataStoreFailed) Error() string {
	return fmt.Sprintf("statestore: fatal data store failure for %s: %v", e.Object.path(), e.Cause)
}

func (e *ErrDataStoreFailed) Unwrap() error { return e.Cause }

// Store wraps the host Callbacks with the typed get/put semantics spec.md
// §4.5 requires, including tolerating partial/stale stores for everything
// except IDENTITY_SECRET.
type Store struct {
	cb Callbacks
}

// New wraps host callbacks in a Store.
func New(cb Callbacks) *Store {
	return &Store{cb: cb}
}

// Put writes data for id. Passing nil data deletes the object (spec.md
// §4.5: "Put with length -1 means delete").
func (s *Store) Put(id ObjectID, data []byte) error {
	if err := s.cb.Put(id, data); err != nil {
		if id.Type == ObjectIdentitySecret {
			return &ErrDataStoreFailed{Object: id, Cause: err}
		}
		// Non-fatal: the engine logs and continues with regenerated state.
		return err
	}
	return nil
}

// Delete removes the object at id.
func (s *Store) Delete(id ObjectID) error {
	return s.Put(id, nil)
}

// Get reads the object at id. ok is false if the host reports it absent;
// the bytes are returned as stored, without any validity check. For
// everything but IDENTITY_SECRET the caller is expected to regenerate
// state rather than treat a missing object as fatal.
func (s *Store) Get(id ObjectID) (data []byte, ok bool) {
	return s.cb.Get(id)
}

// MustGetIdentitySecret reads IDENTITY_SECRET. The dispatcher generates a
// new identity when it is absent and treats a stored secret that fails to
// parse as fatal (spec.md §4.1, §4.5).
func (s *Store) MustGetIdentitySecret() ([]byte, bool) {
	return s.cb.Get(ObjectID{Type: ObjectIdentitySecret})
}
