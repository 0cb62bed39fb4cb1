// Package session establishes pairwise sessions and encrypts and decrypts
// messages bound to them.
//
// A Manager keeps at most one Cipher per peer. Each Cipher owns a record: the
// current ratchet state plus a bounded list of earlier states, so messages
// sent under a superseded session (for example when both sides start a
// session at once) still decrypt.
//
// The initiator side runs X3DH against a published bundle and keeps sending
// pre-key envelopes until the first reply arrives. The responder side is
// derived from the local pre-keys when such an envelope carries an unknown
// base key; the one-time pre-key is consumed only once the message
// authenticates.
//
// Operations for one peer are serialised; different peers proceed in
// parallel.
package session
