// ABOUTME: Outbound reply delivery shared by every chat frontend
// ABOUTME: Mux routes a user id to the Sender that owns its frontend prefix

package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Delivery errors
var (
	// ErrDeliveryFailed means the chat platform rejected or never received the message
	ErrDeliveryFailed = errors.New("delivery failed")

	// ErrUnknownFrontend means the user id names a frontend with no registered Sender
	// and the mux has no default
	ErrUnknownFrontend = errors.New("unknown frontend")
)

// Sender delivers a text message to one chat user.
type Sender interface {
	Send(ctx context.Context, userID, text string) error
}

// SenderFunc adapts a plain function to the Sender interface.
type SenderFunc func(ctx context.Context, userID, text string) error

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, userID, text string) error {
	return f(ctx, userID, text)
}

// Mux routes user ids of the form "frontend:platformID" to the Sender
// registered for that frontend. Ids without a registered prefix go to the
// default Sender, which is how bare Messenger PSIDs are delivered.
type Mux struct {
	mu        sync.RWMutex
	frontends map[string]Sender
	fallback  Sender
}

// NewMux creates a Mux whose unprefixed ids go to fallback. fallback may be nil.
func NewMux(fallback Sender) *Mux {
	return &Mux{
		frontends: make(map[string]Sender),
		fallback:  fallback,
	}
}

// Handle registers s for user ids prefixed with frontend + ":".
func (m *Mux) Handle(frontend string, s Sender) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frontends[frontend] = s
}

// Route returns the Sender responsible for userID.
func (m *Mux) Route(userID string) (Sender, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if frontend, _, ok := strings.Cut(userID, ":"); ok {
		if s, found := m.frontends[frontend]; found {
			return s, nil
		}
	}
	if m.fallback == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrontend, userID)
	}
	return m.fallback, nil
}

// Send delivers text through the Sender that owns userID.
func (m *Mux) Send(ctx context.Context, userID, text string) error {
	s, err := m.Route(userID)
	if err != nil {
		return err
	}
	return s.Send(ctx, userID, text)
}

// Frontend returns the frontend name encoded in userID, or "" for a bare id.
func Frontend(userID string) string {
	frontend, _, ok := strings.Cut(userID, ":")
	if !ok {
		return ""
	}
	return frontend
}

// UserID builds the routed id for a platform-local id on frontend.
func UserID(frontend, platformID string) string {
	return frontend + ":" + platformID
}

// PlatformID strips the frontend prefix from userID.
func PlatformID(userID string) string {
	_, id, ok := strings.Cut(userID, ":")
	if !ok {
		return userID
	}
	return id
}
