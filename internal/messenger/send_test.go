// ABOUTME: Tests for the Messenger Send API client
// ABOUTME: Checks request shape, platform error mapping, and send pacing against httptest

package messenger

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/ledgerbot/internal/delivery"
)

type capturedSend struct {
	Path  string
	Token string
	Body  map[string]any
}

type sendServer struct {
	*httptest.Server
	mu       sync.Mutex
	captured []capturedSend
}

func newSendServer(t *testing.T, status int, response string) *sendServer {
	t.Helper()
	s := &sendServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		s.mu.Lock()
		s.captured = append(s.captured, capturedSend{
			Path:  r.URL.Path,
			Token: r.URL.Query().Get("access_token"),
			Body:  body,
		})
		s.mu.Unlock()

		if response != "" {
			w.Header().Set("Content-Type", "application/json")
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, response)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *sendServer) Captured() []capturedSend {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]capturedSend(nil), s.captured...)
}

func newTestClient(url string, rate float64, burst int) *Client {
	return NewClient(SendOptions{
		GraphAPIURL:     url + "/v2.6",
		PageAccessToken: "page-token",
		Timeout:         time.Second,
		Rate:            rate,
		Burst:           burst,
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestSend_Success(t *testing.T) {
	srv := newSendServer(t, http.StatusOK, `{"recipient_id":"U1","message_id":"m.1"}`)
	c := newTestClient(srv.URL, 0, 0)

	require.NoError(t, c.Send(context.Background(), "U1", "Your balance is BTC 2.5."))

	got := srv.Captured()
	require.Len(t, got, 1)
	assert.Equal(t, "/v2.6/me/messages", got[0].Path)
	assert.Equal(t, "page-token", got[0].Token)
	assert.Equal(t, map[string]any{
		"recipient": map[string]any{"id": "U1"},
		"message":   map[string]any{"text": "Your balance is BTC 2.5."},
	}, got[0].Body)
}

func TestSend_PlatformError(t *testing.T) {
	srv := newSendServer(t, http.StatusBadRequest,
		`{"error":{"message":"(#100) No matching user found","type":"OAuthException","code":100,"fbtrace_id":"x"}}`)
	c := newTestClient(srv.URL, 0, 0)

	err := c.Send(context.Background(), "U1", "hi")

	assert.ErrorIs(t, err, delivery.ErrDeliveryFailed)
	assert.Contains(t, err.Error(), "No matching user found")
	assert.Contains(t, err.Error(), "400")
}

func TestSend_ErrorWithoutBody(t *testing.T) {
	srv := newSendServer(t, http.StatusInternalServerError, ``)
	c := newTestClient(srv.URL, 0, 0)

	err := c.Send(context.Background(), "U1", "hi")

	assert.ErrorIs(t, err, delivery.ErrDeliveryFailed)
	assert.Contains(t, err.Error(), "500")
}

func TestSend_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	c := newTestClient(url, 0, 0)

	err := c.Send(context.Background(), "U1", "hi")

	assert.ErrorIs(t, err, delivery.ErrDeliveryFailed)
}

func TestSend_Paced(t *testing.T) {
	srv := newSendServer(t, http.StatusOK, `{}`)
	c := newTestClient(srv.URL, 20, 1)

	start := time.Now()
	for range 3 {
		require.NoError(t, c.Send(context.Background(), "U1", "hi"))
	}

	// burst 1 at 20/s: the 2nd and 3rd call each wait ~50ms
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	assert.Len(t, srv.Captured(), 3)
}

func TestSend_PacingHonoursContext(t *testing.T) {
	srv := newSendServer(t, http.StatusOK, `{}`)
	c := newTestClient(srv.URL, 0.001, 1)

	require.NoError(t, c.Send(context.Background(), "U1", "first"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.Send(ctx, "U1", "second")

	assert.ErrorIs(t, err, delivery.ErrDeliveryFailed)
	assert.Len(t, srv.Captured(), 1)
}
