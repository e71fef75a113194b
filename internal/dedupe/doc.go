// Package dedupe drops redelivered chat messages.
//
// Messenger retries webhook deliveries it thinks failed and a Matrix sync can
// replay events after a reconnect. Frontends key each inbound message with
// Key(frontend, messageID) and skip it when Cache.Seen reports true.
package dedupe
