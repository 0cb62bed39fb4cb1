package domain

import (
	"bytes"
	"time"
)

// PreKeyRecord is a one-time pre-key held locally until a peer consumes it.
type PreKeyRecord struct {
	ID      uint32
	KeyPair KeyPair
}

// SignedPreKeyRecord is a medium-term pre-key whose public half is signed by
// the identity key.
type SignedPreKeyRecord struct {
	ID        uint32
	Timestamp time.Time
	KeyPair   KeyPair
	Signature []byte
}

// PreKeyBundle is the public snapshot a peer publishes so others can start a
// session with it while it is offline.
type PreKeyBundle struct {
	RegistrationID        RegistrationID
	DeviceID              uint32
	PreKeyID              uint32
	PreKey                PublicKey
	SignedPreKeyID        uint32
	SignedPreKey          PublicKey
	SignedPreKeySignature []byte
	IdentityKey           PublicKey
}

// HasPreKey reports whether the bundle carries a one-time pre-key.
func (b PreKeyBundle) HasPreKey() bool { return b.PreKeyID != 0 && !b.PreKey.IsZero() }

// Equal reports whether two bundles carry identical values, byte for byte.
func (b PreKeyBundle) Equal(o PreKeyBundle) bool {
	return b.RegistrationID == o.RegistrationID &&
		b.DeviceID == o.DeviceID &&
		b.PreKeyID == o.PreKeyID &&
		b.PreKey == o.PreKey &&
		b.SignedPreKeyID == o.SignedPreKeyID &&
		b.SignedPreKey == o.SignedPreKey &&
		bytes.Equal(b.SignedPreKeySignature, o.SignedPreKeySignature) &&
		b.IdentityKey == o.IdentityKey
}

// Fields is the flat document a bundle is stored as in the directory.
type Fields map[string]any
