// Package cli provides the interactive sessionkeeper command-line client.
//
// It wires configuration, the local sqlite database, the gRPC client and
// the session components (credential store, refresh coordinator, activity
// monitor, escalation channel and session gate) behind a small REPL.
// Typical flow: the gate boots (cluster check, stored credential), the user
// logs in, the coordinator keeps the token fresh in the background and the
// monitor logs the user out after a period without commands.
//
// Commands:
//   - login / logout
//   - status, events
//   - refresh        refresh the token now
//   - continue       answer the inactivity warning
//   - retry / ok     act on a shown session error
//   - away / back    pause and resume inactivity tracking
//   - init           re-check cluster readiness
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
package cli
