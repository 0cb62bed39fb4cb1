// Package lifecycle drives a device's bundle publication and session setup.
//
// The Controller publishes the device's own pre-key bundle under its peer id,
// and before the first message to a peer fetches that peer's bundle and has
// the session manager establish a session from it. Errors from the directory
// and session layers are returned unchanged so callers can match them with
// errors.Is.
package lifecycle
