// Package identity holds the local device's long-term key material.
//
// A Store lazily creates the identity key pair and registration id on first
// use, mints pre-key bundles for publication, keeps the private halves of
// every pre-key it handed out until a peer consumes them, and records which
// identity key is trusted for each peer.
//
// Material lives in memory only. Reset wipes everything and re-arms the lazy
// initialisation.
package identity
