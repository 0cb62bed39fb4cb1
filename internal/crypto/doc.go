// Package crypto exposes the minimal curve primitives used by sealedchat.
//
// Contents
//
//   - X25519 key generation, clamping and Diffie–Hellman (GenerateKeyPair,
//     PublicFromPrivate, DH)
//   - XEdDSA signing and verification with Curve25519 keys (Sign, Verify),
//     so a single identity key both agrees and signs
//   - Public-key wire codec: 0x05 type byte + 32-byte key (DecodePublicKey)
//   - Short public-key fingerprints and pairwise safety numbers
//     (Fingerprint, SafetyNumber)
//
// # Notes
//
// All functions use the fixed-size array types defined in internal/domain
// to avoid accidental reallocations. Callers should treat returned secrets
// as sensitive and wipe them with memzero.Zero when practical.
package crypto
