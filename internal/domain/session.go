package domain

import "time"

// SessionInfo describes the current session with a peer without exposing
// any secret state.
type SessionInfo struct {
	Peer                 PeerID
	SessionID            string
	RemoteIdentity       PublicKey
	RemoteRegistrationID RegistrationID
	Initiator            bool
	// PendingPreKey is true while outgoing messages still carry the
	// handshake header, i.e. until the peer's first reply is decrypted.
	PendingPreKey bool
	CreatedAt     time.Time
}

// TrustMode selects how peer identity keys become trusted.
type TrustMode string

const (
	// TrustOnFirstUse pins the first identity seen for a peer and rejects
	// any different key afterwards.
	TrustOnFirstUse TrustMode = "tofu"
	// TrustAlways accepts and re-pins whatever identity a peer presents.
	TrustAlways TrustMode = "always"
	// TrustVerifiedOnly accepts only identities pinned beforehand through
	// an out-of-band verification step.
	TrustVerifiedOnly TrustMode = "verified"
)

// Valid reports whether m is a known mode.
func (m TrustMode) Valid() bool {
	switch m {
	case TrustOnFirstUse, TrustAlways, TrustVerifiedOnly:
		return true
	}
	return false
}
