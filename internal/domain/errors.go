package domain

import "errors"

// Error kinds reported across layers. Callers match them with errors.Is;
// lower layers wrap them with context using fmt.Errorf("%w: ...").
var (
	// ErrKeyGeneration indicates the cryptographic backend failed to produce
	// key material. Fatal, never retried.
	ErrKeyGeneration = errors.New("key generation failed")

	// ErrMalformedBundle indicates a published bundle is corrupt or uses an
	// incompatible encoding.
	ErrMalformedBundle = errors.New("malformed pre-key bundle")

	// ErrNotFound indicates the peer has not published a bundle.
	ErrNotFound = errors.New("bundle not found")

	// ErrSessionEstablishment indicates the handshake inputs were rejected.
	ErrSessionEstablishment = errors.New("cannot establish secure session")

	// ErrNoSession indicates encrypt/decrypt was called before a session
	// was established for the peer.
	ErrNoSession = errors.New("no session with peer")

	// ErrDecryption indicates a ciphertext failed authentication or could
	// not be matched to ratchet state.
	ErrDecryption = errors.New("message could not be decrypted")

	// ErrUntrustedIdentity indicates a peer presented an identity key the
	// trust policy does not accept. Reported wrapped in
	// ErrSessionEstablishment or ErrDecryption.
	ErrUntrustedIdentity = errors.New("untrusted identity key")

	// ErrDirectoryUnavailable indicates directory I/O failed (network,
	// store down). The only kind eligible for automatic retry.
	ErrDirectoryUnavailable = errors.New("directory unavailable")

	// ErrUnauthorized indicates the directory refused a write.
	ErrUnauthorized = errors.New("unauthorized")
)

// IsRetryable reports whether err may succeed if the operation is repeated.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrDirectoryUnavailable)
}
