// Package crypto wraps the primitives used throughout the node core:
// Ed25519 for signing, X25519 ("box") for key agreement, NaCl box with a
// precomputed shared key for authenticated encryption of session traffic,
// and SHA-384/512 for
// fingerprints and certificate serials. Callers should use this package
// instead of importing golang.org/x/crypto or crypto/ed25519 directly, so
// that key sizes and nonce handling stay consistent across the engine.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"errors"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

// Sizes of the keys and signatures used by Identity, Locator, and Certificate.
const (
	SignPublicKeySize  = ed25519.PublicKeySize
	SignPrivateKeySize = ed25519.PrivateKeySize
	SignatureSize      = ed25519.SignatureSize

	AgreePublicKeySize  = 32
	AgreePrivateKeySize = 32
	SharedKeySize       = 32
	BoxNonceSize        = 24
	BoxOverhead         = box.Overhead

	// FingerprintHashSize is the length, in bytes, of the SHA-384 hash
	// stored in a Fingerprint.
	FingerprintHashSize = 48
)

// SignKeyPair is an Ed25519 signing keypair.
type SignKeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateSignKeyPair creates a new random Ed25519 keypair.
func GenerateSignKeyPair() (*SignKeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &SignKeyPair{Public: pub, Private: priv}, nil
}

// Sign signs msg with priv, returning a fixed SignatureSize signature.
func Sign(priv ed25519.PrivateKey, msg []byte) []byte {
	return ed25519.Sign(priv, msg)
}

// Verify reports whether sig is a valid signature of msg by pub.
func Verify(pub ed25519.PublicKey, msg, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}

// AgreeKeyPair is an X25519 key-agreement keypair, used to derive the
// shared session keys for VL1 packet encryption.
type AgreeKeyPair struct {
	Public  [AgreePublicKeySize]byte
	Private [AgreePrivateKeySize]byte
}

// GenerateAgreeKeyPair creates a new random X25519 keypair.
func GenerateAgreeKeyPair() (*AgreeKeyPair, error) {
	var kp AgreeKeyPair
	if _, err := rand.Read(kp.Private[:]); err != nil {
		return nil, err
	}
	pub, err := curve25519.X25519(kp.Private[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	copy(kp.Public[:], pub)
	return &kp, nil
}

// SharedKey returns the shared secret derived from a local private key and
// a remote public key, suitable for use with Seal/Open.
func SharedKey(myPrivate *[AgreePrivateKeySize]byte, theirPublic *[AgreePublicKeySize]byte) (*[SharedKeySize]byte, error) {
	shared, err := curve25519.X25519(myPrivate[:], theirPublic[:])
	if err != nil {
		return nil, err
	}
	var out [SharedKeySize]byte
	copy(out[:], shared)
	return &out, nil
}

// Seal encrypts and authenticates plaintext under the given shared key,
// generating a fresh random nonce and prepending it to the returned slice.
func Seal(shared *[SharedKeySize]byte, plaintext []byte) ([]byte, error) {
	var nonce [BoxNonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}
	sealed := box.SealAfterPrecomputation(nonce[:], plaintext, &nonce, shared)
	return sealed, nil
}

// Open decrypts and authenticates a ciphertext produced by Seal.
func Open(shared *[SharedKeySize]byte, sealed []byte) ([]byte, error) {
	if len(sealed) < BoxNonceSize {
		return nil, errors.New("crypto: sealed message too short")
	}
	var nonce [BoxNonceSize]byte
	copy(nonce[:], sealed[:BoxNonceSize])
	out, ok := box.OpenAfterPrecomputation(nil, sealed[BoxNonceSize:], &nonce, shared)
	if !ok {
		return nil, errors.New("crypto: message authentication failed")
	}
	return out, nil
}

// SHA384 returns the SHA-384 digest of data, used for Fingerprints and
// Certificate serials.
func SHA384(data []byte) [FingerprintHashSize]byte {
	return sha512.Sum384(data)
}

// SHA512 returns the SHA-512 digest of data.
func SHA512(data []byte) [sha512.Size]byte {
	return sha512.Sum512(data)
}
