// Package relay carries bundle directory records over HTTP.
//
// Store is a domain.DirectoryStore backed by a remote directory service and
// Handler is that service's HTTP front end over any other DirectoryStore.
// Records travel as JSON objects holding the flat bundle field map:
//
//	GET    /bundles/{peer}   200 with the record, 404 when absent
//	PUT    /bundles/{peer}   204, replaces the record
//	DELETE /bundles/{peer}   204, idempotent
//
// When the handler is given an auth.Authority, PUT and DELETE require an
// "Authorization: Bearer <token>" header whose subject is {peer}. The client
// maps 404 to an absent record, 401 and 403 to domain.ErrUnauthorized, and
// network failures and 5xx answers to domain.ErrDirectoryUnavailable.
package relay
