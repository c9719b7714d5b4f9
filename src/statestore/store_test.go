package statestore

import "testing"

func memCallbacks() (Callbacks, map[string][]byte) {
	data := map[string][]byte{}
	return Callbacks{
		Put: func(id ObjectID, d []byte) error {
			if d == nil {
				delete(data, id.path())
				return nil
			}
			data[id.path()] = append([]byte(nil), d...)
			return nil
		},
		Get: func(id ObjectID) ([]byte, bool) {
			d, ok := data[id.path()]
			return d, ok
		},
	}, data
}

func TestPutGetRoundTrip(t *testing.T) {
	cb, _ := memCallbacks()
	store := New(cb)
	id := PeerID(0x1234567890)
	if err := store.Put(id, []byte("hello")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok := store.Get(id)
	if !ok || string(got) != "hello" {
		t.Fatalf("Get returned (%q, %v)", got, ok)
	}
}

func TestDeleteViaNilPut(t *testing.T) {
	cb, raw := memCallbacks()
	store := New(cb)
	id := NetworkConfigID(0x8056c2e21c000001)
	_ = store.Put(id, []byte("config"))
	if err := store.Delete(id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := raw[id.path()]; ok {
		t.Fatal("object should have been removed")
	}
	if _, ok := store.Get(id); ok {
		t.Fatal("Get should report absent after Delete")
	}
}

func TestIdentitySecretFailureIsFatal(t *testing.T) {
	cb := Callbacks{
		Put: func(id ObjectID, d []byte) error { return errStoreBroken },
		Get: func(id ObjectID) ([]byte, bool) { return nil, false },
	}
	store := New(cb)
	err := store.Put(ObjectID{Type: ObjectIdentitySecret}, []byte("secret"))
	var fatal *ErrDataStoreFailed
	if err == nil {
		t.Fatal("expected an error")
	}
	if !asErrDataStoreFailed(err, &fatal) {
		t.Fatalf("expected *ErrDataStoreFailed, got %T: %v", err, err)
	}
}

func TestNonIdentityFailureIsNotWrapped(t *testing.T) {
	cb := Callbacks{
		Put: func(id ObjectID, d []byte) error { return errStoreBroken },
		Get: func(id ObjectID) ([]byte, bool) { return nil, false },
	}
	store := New(cb)
	err := store.Put(PeerID(1), []byte("x"))
	if err != errStoreBroken {
		t.Fatalf("expected the raw underlying error for a non-identity object, got %v", err)
	}
}

var errStoreBroken = errDummy("disk full")

type errDummy string

func (e errDummy) Error() string { return string(e) }

func asErrDataStoreFailed(err error, target **ErrDataStoreFailed) bool {
	e, ok := err.(*ErrDataStoreFailed)
	if ok {
		*target = e
	}
	return ok
}
