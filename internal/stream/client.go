// ABOUTME: Websocket client for the ledger's live block feed
// ABOUTME: Subscribes, turns frames into BlockMinedEvents, and redials after failures

package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/2389/ledgerbot/internal/ledger"
)

// Options configures a Client.
type Options struct {
	URL              string
	SubscribeMessage string        // sent once after every successful dial; empty sends nothing
	HashPath         string        // gjson path of the block hash
	HeightPath       string        // gjson path of the block height; optional
	ReconnectDelay   time.Duration // wait between a failure and the next dial
	Logger           *slog.Logger
}

// Client keeps a websocket to the block feed open for as long as Run runs.
type Client struct {
	opts      Options
	dialer    *websocket.Dialer
	logger    *slog.Logger
	connected atomic.Bool
	last      atomic.Pointer[ledger.BlockMinedEvent]
}

// NewClient creates a stream client.
func NewClient(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 5 * time.Second
	}
	return &Client{
		opts:   opts,
		dialer: websocket.DefaultDialer,
		logger: logger.With("component", "stream"),
	}
}

// Connected reports whether the socket is currently open and subscribed.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// LastBlock returns the most recent event seen on the feed.
func (c *Client) LastBlock() (ledger.BlockMinedEvent, bool) {
	ev := c.last.Load()
	if ev == nil {
		return ledger.BlockMinedEvent{}, false
	}
	return *ev, true
}

// Run dials the feed and calls publish for every block event until ctx is
// done. Dial and read failures are logged and retried after ReconnectDelay.
func (c *Client) Run(ctx context.Context, publish func(ledger.BlockMinedEvent)) error {
	for {
		err := c.session(ctx, publish)
		c.connected.Store(false)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("block stream disconnected, reconnecting",
			"error", err,
			"delay", c.opts.ReconnectDelay,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.opts.ReconnectDelay):
		}
	}
}

// session runs one connection from dial to failure.
func (c *Client) session(ctx context.Context, publish func(ledger.BlockMinedEvent)) error {
	conn, _, err := c.dialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", c.opts.URL, err)
	}
	defer conn.Close()

	// unblock ReadMessage when ctx ends
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if c.opts.SubscribeMessage != "" {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(c.opts.SubscribeMessage)); err != nil {
			return fmt.Errorf("sending subscribe frame: %w", err)
		}
	}

	c.connected.Store(true)
	c.logger.Info("block stream connected", "url", c.opts.URL)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("reading frame: %w", err)
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}

		ev, ok := ParseFrame(data, c.opts.HashPath, c.opts.HeightPath)
		if !ok {
			c.logger.Debug("ignoring frame without block hash", "bytes", len(data))
			continue
		}

		c.last.Store(&ev)
		c.logger.Info("block mined", "hash", ev.Hash, "height", ev.Height)
		publish(ev)
	}
}

// Frame decoding errors
var (
	ErrInvalidFrame = errors.New("frame is not valid JSON")
	ErrNoHash       = errors.New("frame has no block hash")
)

// ParseFrame extracts a block event from a raw feed frame. Frames that are
// not JSON or whose hash path does not resolve to a non-empty string are
// rejected.
func ParseFrame(data []byte, hashPath, heightPath string) (ledger.BlockMinedEvent, bool) {
	ev, err := Decode(data, hashPath, heightPath)
	return ev, err == nil
}

// Decode is ParseFrame with the reason for rejection.
func Decode(data []byte, hashPath, heightPath string) (ledger.BlockMinedEvent, error) {
	if !gjson.ValidBytes(data) {
		return ledger.BlockMinedEvent{}, ErrInvalidFrame
	}

	hash := gjson.GetBytes(data, hashPath)
	if hash.Type != gjson.String || hash.Str == "" {
		return ledger.BlockMinedEvent{}, ErrNoHash
	}

	ev := ledger.BlockMinedEvent{Hash: hash.Str}
	if heightPath != "" {
		if h := gjson.GetBytes(data, heightPath); h.Type == gjson.Number {
			ev.Height = h.Int()
		}
	}
	return ev, nil
}
