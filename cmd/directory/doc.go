// Command directory serves the bundle directory over HTTP and gRPC.
//
// Bundles are kept in memory, in PostgreSQL (--backend postgres, schema
// migrated on start) or in Badger (--backend badger). When --jwt-key is set,
// writes must carry a bearer token issued for the peer being written, see
// "sealedchat token".
package main
