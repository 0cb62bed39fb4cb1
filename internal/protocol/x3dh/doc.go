// Package x3dh implements the X3DH key-agreement used to bootstrap a Double Ratchet
// session between two parties.
//
// # Overview
//
// X3DH lets an initiator derive a shared 32-byte root key with a responder who has
// published a pre-key bundle. The bundle contains:
//   - Identity key (Curve25519), which also verifies XEdDSA signatures
//   - Signed pre-key (Curve25519) and its signature over the serialized key
//   - Optional one-time pre-key (Curve25519)
//
// # Flows
//
// Initiator (Initiate):
//  1. Verify the signed pre-key signature.
//  2. Generate an ephemeral (base) key pair.
//  3. Compute DH values (IKa·SPKb, EKa·IKb, EKa·SPKb[, EKa·OPKb]).
//  4. HKDF over the concatenated DH transcript to produce the root key.
//  5. Return root key, the SPK/OPK identifiers used, and the base key pair.
//
// Responder (ResponderRootKey):
//  1. Receive the pre-key message (initiator IK, base key EK, SPK id[, OPK id]).
//  2. Look up SPK and optionally the OPK.
//  3. Compute the symmetric DH set (SPKb·IKa, IKb·EKa, SPKb·EKa[, OPKb·EKa]).
//  4. HKDF the same transcript to the identical root key.
//
// # Errors
//
// ErrBadSPK is returned when the SPK signature fails verification.
// ErrLowOrderKey is returned when a peer key produces an all-zero secret.
//
// # Security notes
//
// Only public material is sent over the wire. One-time pre-keys, when present,
// improve forward secrecy by ensuring the handshake mixes in a value that is
// deleted after first use.
package x3dh
