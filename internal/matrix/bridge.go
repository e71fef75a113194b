// ABOUTME: Matrix frontend for ledgerbot built on mautrix
// ABOUTME: Syncs room messages into the dispatcher and sends replies back as room text messages

package matrix

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/ledgerbot/internal/config"
	"github.com/2389/ledgerbot/internal/delivery"
	"github.com/2389/ledgerbot/internal/dispatch"
)

// Frontend is the user id prefix for Matrix senders:
// "matrix:!room:server|@user:server".
const Frontend = "matrix"

// senderSep separates the reply room from the sender in a platform id. Neither
// room ids nor user ids may contain it.
const senderSep = "|"

// networkTimeout bounds a single outbound Matrix API call when the caller's
// context has no deadline.
const networkTimeout = 30 * time.Second

// Submitter accepts events for asynchronous handling.
type Submitter interface {
	Submit(ev dispatch.Event) error
}

// roomSender is the part of *mautrix.Client used for outbound messages.
type roomSender interface {
	SendText(ctx context.Context, roomID id.RoomID, text string) (*mautrix.RespSendEvent, error)
}

// Bridge relays between Matrix rooms and the dispatcher. Each sender is its own
// chat user, scoped to the room they wrote in: replies and block notifications
// go to that room.
type Bridge struct {
	cfg       config.MatrixConfig
	client    *mautrix.Client
	sender    roomSender
	submitter Submitter
	logger    *slog.Logger

	// startedAt filters out history replayed by the initial sync
	startedAt time.Time
}

var _ delivery.Sender = (*Bridge)(nil)

// New creates a Matrix bridge. Call Run to start syncing.
func New(cfg config.MatrixConfig, submitter Submitter, logger *slog.Logger) (*Bridge, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}

	return &Bridge{
		cfg:       cfg,
		client:    client,
		sender:    client,
		submitter: submitter,
		logger:    logger.With("component", "matrix"),
		startedAt: time.Now(),
	}, nil
}

// Run syncs with the homeserver until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	b.logger.Info("starting matrix bridge",
		"homeserver", b.cfg.Homeserver,
		"user_id", b.cfg.UserID,
		"allowed_rooms", len(b.cfg.AllowedRooms),
	)

	syncer, ok := b.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", b.client.Syncer)
	}
	syncer.OnEventType(event.EventMessage, b.handleMessageEvent)

	b.startedAt = time.Now()
	err := b.client.SyncWithContext(ctx)
	if ctx.Err() != nil {
		b.logger.Info("matrix bridge stopped")
		return nil
	}
	if err != nil {
		return fmt.Errorf("matrix sync failed: %w", err)
	}
	return nil
}

// handleMessageEvent turns a room text message into a dispatch event.
func (b *Bridge) handleMessageEvent(_ context.Context, evt *event.Event) {
	if evt.Sender == id.UserID(b.cfg.UserID) {
		return
	}
	if time.UnixMilli(evt.Timestamp).Before(b.startedAt) {
		return
	}

	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.MsgType != event.MsgText {
		return
	}

	roomID := evt.RoomID.String()
	if !b.isRoomAllowed(roomID) {
		b.logger.Debug("ignoring message from non-allowed room", "room", roomID)
		return
	}

	text := strings.TrimSpace(content.Body)
	if text == "" {
		return
	}

	b.logger.Debug("received message", "room", roomID, "sender", evt.Sender.String())

	err := b.submitter.Submit(dispatch.MessageEvent{
		Frontend:  Frontend,
		MessageID: evt.ID.String(),
		UserID:    UserID(evt.RoomID, evt.Sender),
		Text:      text,
	})
	if err != nil {
		b.logger.Warn("dropping matrix message", "room", roomID, "error", err)
	}
}

func (b *Bridge) isRoomAllowed(roomID string) bool {
	if len(b.cfg.AllowedRooms) == 0 {
		return true
	}
	return slices.Contains(b.cfg.AllowedRooms, roomID)
}

// UserID builds the routed user id for sender writing in roomID.
func UserID(roomID id.RoomID, sender id.UserID) string {
	return delivery.UserID(Frontend, roomID.String()+senderSep+sender.String())
}

// RoomID returns the room that replies to userID are posted in.
func RoomID(userID string) (id.RoomID, error) {
	if delivery.Frontend(userID) != Frontend {
		return "", fmt.Errorf("%w: %q is not a matrix user id", delivery.ErrUnknownFrontend, userID)
	}
	room, _, _ := strings.Cut(delivery.PlatformID(userID), senderSep)
	if room == "" {
		return "", fmt.Errorf("%w: %q names no room", delivery.ErrUnknownFrontend, userID)
	}
	return id.RoomID(room), nil
}

// Send posts text to the room the user named by userID wrote in.
func (b *Bridge) Send(ctx context.Context, userID, text string) error {
	roomID, err := RoomID(userID)
	if err != nil {
		return err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, networkTimeout)
		defer cancel()
	}

	if _, err := b.sender.SendText(ctx, roomID, text); err != nil {
		return fmt.Errorf("%w: matrix room %s: %w", delivery.ErrDeliveryFailed, roomID, err)
	}
	return nil
}
