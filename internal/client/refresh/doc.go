// Package refresh keeps the stored access credential fresh.
//
// A Coordinator exchanges the stored token for a new one on a fixed
// interval and on demand. Concurrent exchanges are coalesced so the server
// never sees two refreshes racing with the same token. Failures are
// classified as transient (retried on the next tick) or terminal (the
// credential is cleared and the user is sent through the escalation
// channel).
package refresh
