package domain

import "context"

// DirectoryStore is the remote document store bundles are kept in, one
// document per peer id. Get reports ok=false when no document exists.
// Implementations return errors wrapping ErrDirectoryUnavailable for I/O
// failures and ErrUnauthorized when a write is refused.
type DirectoryStore interface {
	Get(ctx context.Context, peer PeerID) (fields Fields, ok bool, err error)
	Set(ctx context.Context, peer PeerID, fields Fields) error
	Delete(ctx context.Context, peer PeerID) error
}

// KeyStore is the local key material the session layer reads.
type KeyStore interface {
	IdentityKeyPair() (KeyPair, error)
	RegistrationID() (RegistrationID, error)

	SignedPreKey(id uint32) (SignedPreKeyRecord, bool)
	PreKey(id uint32) (PreKeyRecord, bool)
	// ConsumePreKey removes a one-time pre-key after its first use.
	ConsumePreKey(id uint32) bool
}

// TrustStore records which identity key is trusted for each peer.
type TrustStore interface {
	// ApproveIdentity applies the trust policy to key and pins it for peer
	// when accepted. Rejections wrap ErrUntrustedIdentity.
	ApproveIdentity(peer PeerID, key PublicKey) error
	// IsTrusted reports whether key is acceptable for peer without pinning.
	IsTrusted(peer PeerID, key PublicKey) bool
}
