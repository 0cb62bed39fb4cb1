// Package directory publishes and fetches pre-key bundles.
//
// A bundle is stored as a flat document of scalar fields (see ToFields) under
// the owning peer's id in a domain.DirectoryStore. Client adds the
// operational behaviour on top of any store: per-call timeouts, retries with
// exponential backoff for transient failures, and translation of decoding
// problems into domain.ErrMalformedBundle.
//
// MemoryStore is the in-process store; network and database backed stores
// live in internal/relay, internal/rpc and internal/storage.
package directory
