// Package server runs broadcast sessions: it owns the listening socket,
// accepts subscribers into a registry, and relays the loaded entries to
// every subscriber on a fixed interval.
//
// # Lifecycle
//
// A Controller moves through idle → starting → running → stopping → idle.
// Start validates the request (entries, host, port, interval), binds the
// listener and returns immediately; the session then runs on its own
// goroutines under a per-session supervisor:
//
//   - session.accept: accepts connections and registers them
//   - session.client: one per subscriber; retires it on shutdown or after a
//     failed write marked it broken
//   - session.broadcast: one pass per entry, then waits the interval
//   - session.watch: tears the session down when the Start context ends
//
// The session context is the single "keep running" signal. Stopping cancels
// it, closes the listener and closes every registered client. Stop is
// idempotent and a session that runs out of entries stops itself.
//
// # Wire format
//
// Each entry is written as its raw UTF-8 bytes with no delimiter or length
// prefix. Consecutive entries may coalesce in a subscriber's read buffer;
// consumers must agree on boundaries out of band.
package server
