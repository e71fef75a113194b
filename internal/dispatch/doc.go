// Package dispatch turns inbound chat events into replies.
//
// A Dispatcher parses each message with the command package, reads and writes
// the per-user session and subscriber stores, queries the ledger and sends the
// reply through a delivery.Sender. Events submitted for the same user are
// handled one at a time in arrival order; different users run concurrently.
package dispatch
