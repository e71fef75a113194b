// Package store holds the in-process chat state for ledgerbot.
//
// # Overview
//
// Two pieces of state survive between messages:
//
//   - SessionStore: the last address each user referenced, so a bare
//     "Balance" or "Transactions" can reuse it
//   - SubscriberStore: the users opted into new-block notifications
//
// Both are process-wide, created empty at startup and injected into the
// dispatcher and the notifier. Nothing is persisted; a restart forgets every
// session and subscription.
//
// # Concurrency
//
// Webhook events are dispatched on their own goroutines, so every store is
// guarded by its own sync.RWMutex. Snapshot copies the subscriber set under
// the read lock; the notifier iterates the copy, which means a user who
// unsubscribes mid fan-out may still receive that one event, and nobody
// receives it twice.
package store
