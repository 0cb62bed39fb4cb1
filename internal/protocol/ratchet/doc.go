// Package ratchet implements the Double Ratchet algorithm following Signal's design.
//
// The algorithm maintains a root key and two message chains (send and receive).
// Each message advances a KDF chain so that keys are forward secure. When a party
// changes its DH ratchet public key, both sides derive new chain keys from a new
// root derived via DH. The responder's signed pre-key acts as its first ratchet
// key, so the initiator can send before hearing back.
//
// Encrypt and Decrypt work on a copy of the state and commit it only on
// success: a forged, replayed or corrupted message never advances a chain.
//
// Concurrency: State is NOT safe for concurrent use. Callers must
// serialise access per conversation.
package ratchet
