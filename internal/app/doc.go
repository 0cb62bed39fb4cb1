// Package app wires the sealedchat dependency graph.
//
// Config is loaded from YAML and adjusted by command-line flags; NewWire then
// opens the configured directory backend and builds the identity store,
// session manager, directory client and lifecycle controller from it.
package app
