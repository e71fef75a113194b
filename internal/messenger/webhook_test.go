// ABOUTME: Tests for the Messenger webhook handler
// ABOUTME: Covers the verify handshake, event conversion, signatures, and error statuses

package messenger

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/ledgerbot/internal/dispatch"
)

type fakeSubmitter struct {
	mu     sync.Mutex
	events []dispatch.Event
	err    error
}

func (f *fakeSubmitter) Submit(ev dispatch.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return f.err
}

func newTestWebhook(sub Submitter, secret string) *Webhook {
	return NewWebhook(WebhookOptions{
		VerifyToken: "verify-me",
		AppSecret:   secret,
		Submitter:   sub,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestWebhook_Verify(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		wantCode int
		wantBody string
	}{
		{"valid", "hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=12345", http.StatusOK, "12345"},
		{"wrong token", "hub.mode=subscribe&hub.verify_token=nope&hub.challenge=12345", http.StatusForbidden, ""},
		{"wrong mode", "hub.mode=unsubscribe&hub.verify_token=verify-me&hub.challenge=12345", http.StatusForbidden, ""},
		{"missing token", "hub.mode=subscribe&hub.challenge=12345", http.StatusBadRequest, ""},
		{"missing mode", "hub.verify_token=verify-me", http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wh := newTestWebhook(&fakeSubmitter{}, "")
			req := httptest.NewRequest(http.MethodGet, "/webhook?"+tt.query, nil)
			rec := httptest.NewRecorder()

			wh.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rec.Body.String())
			}
		})
	}
}

const pageEvent = `{
  "object": "page",
  "entry": [{
    "id": "PAGE",
    "time": 1700000000000,
    "messaging": [
      {"sender":{"id":"U1"},"recipient":{"id":"PAGE"},"timestamp":1,"message":{"mid":"m.1","text":"Balance 1abc"}},
      {"sender":{"id":"U2"},"recipient":{"id":"PAGE"},"timestamp":2,"postback":{"title":"Yes!","payload":"yes"}},
      {"sender":{"id":"PAGE"},"recipient":{"id":"U1"},"timestamp":3,"message":{"mid":"m.2","text":"Your balance","is_echo":true}},
      {"sender":{"id":"U3"},"recipient":{"id":"PAGE"},"timestamp":4,"message":{"mid":"m.3","attachments":[{"type":"image"}]}},
      {"sender":{"id":"U4"},"recipient":{"id":"PAGE"},"timestamp":5,"delivery":{"watermark":5}}
    ]
  }]
}`

func TestWebhook_ReceiveEvents(t *testing.T) {
	sub := &fakeSubmitter{}
	wh := newTestWebhook(sub, "")
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(pageEvent))
	rec := httptest.NewRecorder()

	wh.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "EVENT_RECEIVED", rec.Body.String())
	assert.Equal(t, []dispatch.Event{
		dispatch.MessageEvent{Frontend: Frontend, MessageID: "m.1", UserID: "U1", Text: "Balance 1abc"},
		dispatch.PostbackEvent{Frontend: Frontend, UserID: "U2", Payload: "yes"},
	}, sub.events)
}

func TestWebhook_SubmitErrorStillAcknowledges(t *testing.T) {
	sub := &fakeSubmitter{err: errors.New("closed")}
	wh := newTestWebhook(sub, "")
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(pageEvent))
	rec := httptest.NewRecorder()

	wh.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, sub.events, 2)
}

func TestWebhook_NonPageObject(t *testing.T) {
	sub := &fakeSubmitter{}
	wh := newTestWebhook(sub, "")
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{"object":"instagram","entry":[]}`))
	rec := httptest.NewRecorder()

	wh.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, sub.events)
}

func TestWebhook_MalformedJSON(t *testing.T) {
	wh := newTestWebhook(&fakeSubmitter{}, "")
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{"object":`))
	rec := httptest.NewRecorder()

	wh.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhook_MethodNotAllowed(t *testing.T) {
	wh := newTestWebhook(&fakeSubmitter{}, "")
	req := httptest.NewRequest(http.MethodPut, "/webhook", nil)
	rec := httptest.NewRecorder()

	wh.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "GET, POST", rec.Header().Get("Allow"))
}

func sign(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestWebhook_Signature(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		wantCode int
	}{
		{"valid", sign("s3cret", pageEvent), http.StatusOK},
		{"wrong secret", sign("other", pageEvent), http.StatusUnauthorized},
		{"missing", "", http.StatusUnauthorized},
		{"not hex", "sha256=zz", http.StatusUnauthorized},
		{"sha1 only", "sha1=abcdef", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &fakeSubmitter{}
			wh := newTestWebhook(sub, "s3cret")
			req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(pageEvent))
			if tt.header != "" {
				req.Header.Set("X-Hub-Signature-256", tt.header)
			}
			rec := httptest.NewRecorder()

			wh.ServeHTTP(rec, req)

			require.Equal(t, tt.wantCode, rec.Code)
			if tt.wantCode != http.StatusOK {
				assert.Empty(t, sub.events)
			}
		})
	}
}

func TestValidSignature(t *testing.T) {
	body := []byte(`{"object":"page"}`)
	assert.True(t, ValidSignature("k", body, sign("k", string(body))))
	assert.False(t, ValidSignature("k", []byte(`{"object":"pagE"}`), sign("k", string(body))))
}
