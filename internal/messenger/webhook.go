// ABOUTME: HTTP handler for the Messenger Platform webhook
// ABOUTME: Answers the subscription challenge and turns page events into dispatch events

package messenger

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/2389/ledgerbot/internal/dispatch"
)

// Frontend is the name Messenger events carry in dispatch.
const Frontend = "messenger"

// maxBodyBytes caps webhook request bodies.
const maxBodyBytes = 1 << 20

// Submitter accepts events for asynchronous handling.
type Submitter interface {
	Submit(ev dispatch.Event) error
}

// WebhookOptions configures a Webhook.
type WebhookOptions struct {
	VerifyToken string
	AppSecret   string // empty skips signature verification
	Submitter   Submitter
	Logger      *slog.Logger
}

// Webhook serves GET (subscription verification) and POST (event delivery)
// on the path registered with the Messenger app.
type Webhook struct {
	verifyToken string
	appSecret   string
	submitter   Submitter
	logger      *slog.Logger
}

// NewWebhook creates a webhook handler.
func NewWebhook(opts WebhookOptions) *Webhook {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Webhook{
		verifyToken: opts.VerifyToken,
		appSecret:   opts.AppSecret,
		submitter:   opts.Submitter,
		logger:      logger.With("component", "messenger_webhook"),
	}
}

// ServeHTTP implements http.Handler.
func (wh *Webhook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		wh.handleVerify(w, r)
	case http.MethodPost:
		wh.handleEvents(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleVerify answers the hub.challenge handshake Messenger performs when
// the webhook is registered.
func (wh *Webhook) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if mode == "" || token == "" {
		http.Error(w, "missing hub.mode or hub.verify_token", http.StatusBadRequest)
		return
	}

	if mode != "subscribe" || subtle.ConstantTimeCompare([]byte(token), []byte(wh.verifyToken)) != 1 {
		wh.logger.Warn("webhook verification rejected", "mode", mode)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	wh.logger.Info("webhook verified")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, challenge)
}

// webhookBody is the envelope Messenger POSTs for page subscriptions.
type webhookBody struct {
	Object string `json:"object"`
	Entry  []struct {
		ID        string      `json:"id"`
		Time      int64       `json:"time"`
		Messaging []messaging `json:"messaging"`
	} `json:"entry"`
}

type messaging struct {
	Sender struct {
		ID string `json:"id"`
	} `json:"sender"`
	Recipient struct {
		ID string `json:"id"`
	} `json:"recipient"`
	Timestamp int64 `json:"timestamp"`
	Message   *struct {
		MID    string `json:"mid"`
		Text   string `json:"text"`
		IsEcho bool   `json:"is_echo"`
	} `json:"message"`
	Postback *struct {
		Title   string `json:"title"`
		Payload string `json:"payload"`
	} `json:"postback"`
}

func (wh *Webhook) handleEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "cannot read body", http.StatusBadRequest)
		return
	}

	if wh.appSecret != "" && !ValidSignature(wh.appSecret, body, r.Header.Get("X-Hub-Signature-256")) {
		wh.logger.Warn("webhook signature mismatch")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var payload webhookBody
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	if payload.Object != "page" {
		http.NotFound(w, r)
		return
	}

	for _, ev := range events(&payload) {
		if err := wh.submitter.Submit(ev); err != nil {
			wh.logger.Warn("dropping event", "user", ev.User(), "error", err)
		}
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "EVENT_RECEIVED")
}

// events converts the messaging items of a page webhook into dispatch events.
// Echoes of the page's own messages, messages without text, and items
// without a sender are skipped.
func events(payload *webhookBody) []dispatch.Event {
	var out []dispatch.Event
	for _, entry := range payload.Entry {
		for _, m := range entry.Messaging {
			if m.Sender.ID == "" {
				continue
			}
			switch {
			case m.Message != nil:
				if m.Message.IsEcho || m.Message.Text == "" {
					continue
				}
				out = append(out, dispatch.MessageEvent{
					Frontend:  Frontend,
					MessageID: m.Message.MID,
					UserID:    m.Sender.ID,
					Text:      m.Message.Text,
				})
			case m.Postback != nil:
				out = append(out, dispatch.PostbackEvent{
					Frontend: Frontend,
					UserID:   m.Sender.ID,
					Payload:  m.Postback.Payload,
				})
			}
		}
	}
	return out
}

// ValidSignature checks an X-Hub-Signature-256 header value against body.
func ValidSignature(appSecret string, body []byte, header string) bool {
	hexSig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(hexSig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
