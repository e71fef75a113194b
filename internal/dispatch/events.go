// ABOUTME: Typed inbound events produced by chat frontends for the dispatcher
// ABOUTME: Frontends validate raw platform payloads into these before dispatch sees them

package dispatch

// Event is an inbound chat event: MessageEvent or PostbackEvent.
type Event interface {
	// User returns the routed user id the event came from.
	User() string
	isEvent()
}

// MessageEvent is a text message sent by a user.
type MessageEvent struct {
	// Frontend names the platform, e.g. "messenger" or "matrix"
	Frontend string

	// MessageID is the platform message id, used to drop redeliveries.
	// Empty disables dedupe for the event.
	MessageID string

	// UserID is the routed user id replies are delivered to
	UserID string

	Text string
}

// PostbackEvent is a structured button press carrying a fixed payload.
type PostbackEvent struct {
	Frontend string
	UserID   string
	Payload  string
}

func (e MessageEvent) User() string  { return e.UserID }
func (e PostbackEvent) User() string { return e.UserID }

func (MessageEvent) isEvent()  {}
func (PostbackEvent) isEvent() {}
