// ABOUTME: Store interfaces for per-user chat state held by ledgerbot
// ABOUTME: Defines the session (last address) and subscriber contracts used by dispatch and notify

package store

import "context"

// SessionStore remembers the last address each user referenced.
// There is no delete: an address stays until the same user supplies another.
type SessionStore interface {
	// GetAddress returns the remembered address and whether one is known.
	GetAddress(ctx context.Context, userID string) (string, bool)
	// SetAddress unconditionally overwrites the remembered address.
	SetAddress(ctx context.Context, userID, address string)
}

// SubscriberStore holds the set of users opted into block notifications.
// Subscribe and Unsubscribe are idempotent.
type SubscriberStore interface {
	Subscribe(ctx context.Context, userID string)
	Unsubscribe(ctx context.Context, userID string)
	IsSubscribed(ctx context.Context, userID string) bool
	// Snapshot returns a point-in-time copy of the subscriber set that is safe
	// to iterate while other goroutines subscribe or unsubscribe.
	Snapshot(ctx context.Context) []string
}
