// Package client contains the client side of the sessionkeeper transport.
//
// # Overview
//
// The package provides:
//  1. A transport-agnostic API contract (see the Client interface) to talk
//     to the auth server: Login, Refresh, Logout, CheckStatus and Ping.
//  2. A concrete gRPC implementation (see GRPCClient) that manages a
//     connection, injects the access token via an interceptor and maps gRPC
//     status codes to sentinel errors. Refresh errors are classified for
//     the refresh coordinator.
//  3. Local persistence bootstrap utilities (InitDatabase, RunMigrations)
//     wiring the SQLite database and applying embedded goose migrations.
//
// # Error Handling
//
// Common conditions are exposed as sentinel errors that callers can match with
// errors.Is: ErrUnavailable, ErrUnauthorized. Refresh returns
// *refresh.RefreshError wrapping them.
//
// See Also
//
//   - Interface:  Client
//   - gRPC impl:  GRPCClient
//   - DB helpers: InitDatabase, RunMigrations, NewRepositories
package client
