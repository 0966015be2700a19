// Package client is the device side of the homesync sync service.
//
// GRPCClient manages one connection to the server, attaches the access
// token to every call through a unary interceptor and maps gRPC status
// codes back onto the sentinel errors of package common, so callers match
// NotFound or TenantMismatch with errors.Is the same way they do against a
// local store.
//
// Per-item failures inside Push and BulkDelete responses are returned as
// *ItemError values rather than failing the whole call.
package client
