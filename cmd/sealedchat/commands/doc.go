// Package commands defines the sealedchat CLI.
//
// Commands
//
//   - publish    Generate a bundle for --peer and publish it
//   - fetch      Fetch and verify a peer's bundle
//   - delete     Remove --peer's bundle from the directory
//   - token      Issue a directory write token for a peer
//   - handshake  Run a two-device hello/world exchange through the directory
//
// The root command loads the YAML config, applies flag overrides and builds
// the dependency graph before any subcommand runs. Key material lives only
// for the duration of one invocation.
package commands
