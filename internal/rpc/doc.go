// Package rpc exposes the bundle directory as a gRPC service.
//
// The service sealedchat.directory.v1.Directory is described by hand with
// protobuf well-known types, so no generated code is needed:
//
//	Get(google.protobuf.StringValue) returns (google.protobuf.Struct)
//	Set(google.protobuf.Struct{peer, fields}) returns (google.protobuf.Empty)
//	Delete(google.protobuf.StringValue) returns (google.protobuf.Empty)
//
// Server adapts any domain.DirectoryStore to the service and Store is the
// matching client-side domain.DirectoryStore. Writes carry a bearer token
// in the "authorization" metadata key when the server checks them.
package rpc
