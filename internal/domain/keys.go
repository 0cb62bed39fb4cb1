package domain

import "fmt"

const (
	// KeyTypeDJB prefixes every serialized Curve25519 public key.
	KeyTypeDJB byte = 0x05

	// KeySize is the size of a raw Curve25519 key.
	KeySize = 32

	// SerializedKeySize is the size of a public key on the wire (type byte + key).
	SerializedKeySize = KeySize + 1

	// SignatureSize is the size of an XEdDSA signature.
	SignatureSize = 64
)

// ------------- Curve25519 -------------

// PublicKey is a Curve25519 public key (Montgomery u-coordinate).
type PublicKey [KeySize]byte

// PrivateKey is a clamped Curve25519 scalar.
type PrivateKey [KeySize]byte

// Slice returns the key as a []byte.
func (k PublicKey) Slice() []byte { return k[:] }

// Slice returns the key as a []byte.
func (k PrivateKey) Slice() []byte { return k[:] }

// Serialize returns the public key prepended by the type byte, as used on
// the wire and as the message signed by a signed pre-key.
func (k PublicKey) Serialize() []byte {
	out := make([]byte, 0, SerializedKeySize)
	out = append(out, KeyTypeDJB)
	return append(out, k[:]...)
}

// IsZero reports whether k is the all-zero value.
func (k PublicKey) IsZero() bool { return k == PublicKey{} }

// String renders the key in hex; public keys only.
func (k PublicKey) String() string { return fmt.Sprintf("%x", k[:]) }

// KeyPair is a Curve25519 key pair. Identity key pairs use the same type:
// the private half serves X25519 agreement and XEdDSA signing.
type KeyPair struct {
	Private PrivateKey
	Public  PublicKey
}

// ------------- Identifiers -------------

// PeerID names a peer in the bundle directory and in the session cache.
type PeerID string

// String returns the string form of the peer id.
func (p PeerID) String() string { return string(p) }

// RegistrationID identifies a device's cryptographic identity to peers.
type RegistrationID uint32

const (
	// MinRegistrationID and MaxRegistrationID bound generated registration ids.
	MinRegistrationID RegistrationID = 1
	MaxRegistrationID RegistrationID = 16380
)

// DefaultDeviceID is used when a peer has a single device.
const DefaultDeviceID uint32 = 1

// Fingerprint is a short identifier for public keys presented to users.
type Fingerprint string

// String returns the string form of the fingerprint.
func (f Fingerprint) String() string { return string(f) }
