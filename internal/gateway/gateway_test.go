// ABOUTME: Tests for the Gateway orchestrator
// ABOUTME: Runs the full webhook -> dispatch -> Send API path and block notifications against httptest fakes

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/ledgerbot/internal/config"
	"github.com/2389/ledgerbot/internal/dispatch"
	"github.com/2389/ledgerbot/internal/ledger"
)

// sendAPI is a fake Messenger Send API that records delivered messages.
type sendAPI struct {
	*httptest.Server
	mu   sync.Mutex
	sent map[string][]string
}

func newSendAPI(t *testing.T) *sendAPI {
	t.Helper()
	api := &sendAPI{sent: map[string][]string{}}
	api.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Recipient struct {
				ID string `json:"id"`
			} `json:"recipient"`
			Message struct {
				Text string `json:"text"`
			} `json:"message"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		api.mu.Lock()
		api.sent[body.Recipient.ID] = append(api.sent[body.Recipient.ID], body.Message.Text)
		api.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"recipient_id":"`+body.Recipient.ID+`","message_id":"m"}`)
	}))
	t.Cleanup(api.Close)
	return api
}

func (a *sendAPI) To(psid string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.sent[psid]...)
}

// newLedgerAPI answers every GraphQL query with the given balance.
func newLedgerAPI(t *testing.T, balance int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"accountByAddress": map[string]any{"address": "1abc", "balance": balance},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

// testConfig creates a config with a free HTTP port and fake upstreams.
func testConfig(t *testing.T, sendURL, ledgerURL string) *config.Config {
	t.Helper()

	httpListener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find available HTTP port: %v", err)
	}
	httpAddr := httpListener.Addr().String()
	httpListener.Close()

	return &config.Config{
		Server: config.ServerConfig{HTTPAddr: httpAddr},
		Messenger: config.MessengerConfig{
			PageAccessToken: "page-token",
			VerifyToken:     "verify-me",
			GraphAPIURL:     sendURL,
			SendTimeout:     time.Second,
		},
		Ledger: config.LedgerConfig{
			URL:     ledgerURL,
			Timeout: time.Second,
		},
		Stream: config.StreamConfig{
			URL:            "ws://127.0.0.1:1/inv",
			HashPath:       config.DefaultHashPath,
			HeightPath:     config.DefaultHeightPath,
			ReconnectDelay: time.Hour,
		},
		Notify: config.NotifyConfig{Concurrency: 2},
		Dedupe: config.DedupeConfig{TTL: time.Minute, MaxSize: 100},
	}
}

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestGateway(t *testing.T, cfg *config.Config) *Gateway {
	t.Helper()
	gw, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })
	return gw
}

func postWebhook(t *testing.T, h http.Handler, messaging string) *httptest.ResponseRecorder {
	t.Helper()
	body := `{"object":"page","entry":[{"id":"PAGE","time":1,"messaging":[` + messaging + `]}]}`
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGatewayNew(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1", "http://127.0.0.1:1")
	gw := newTestGateway(t, cfg)

	if gw.config != cfg {
		t.Error("gateway config mismatch")
	}
	if gw.dispatcher == nil || gw.notifier == nil || gw.deliveries == nil {
		t.Error("core components should be wired")
	}
	if gw.stream != nil {
		t.Error("stream should be nil when disabled")
	}
	if gw.matrix != nil {
		t.Error("matrix should be nil when disabled")
	}
}

func TestGatewayNew_WithOptionalComponents(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1", "http://127.0.0.1:1")
	cfg.Stream.Enabled = true
	cfg.Frontends.Matrix = config.MatrixConfig{
		Enabled:     true,
		Homeserver:  "https://matrix.example.org",
		UserID:      "@ledgerbot:example.org",
		AccessToken: "token",
	}
	gw := newTestGateway(t, cfg)

	require.NotNil(t, gw.stream)
	require.NotNil(t, gw.matrix)

	s, err := gw.deliveries.Route("matrix:!room:example.org|@alice:example.org")
	require.NoError(t, err)
	assert.Same(t, gw.matrix, s)
}

func TestHealthEndpoints(t *testing.T) {
	gw := newTestGateway(t, testConfig(t, "http://127.0.0.1:1", "http://127.0.0.1:1"))

	for _, path := range []string{"/health", "/healthcheck", "/health/ready"} {
		rec := httptest.NewRecorder()
		gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestReady_StreamDisconnected(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1", "http://127.0.0.1:1")
	cfg.Stream.Enabled = true
	gw := newTestGateway(t, cfg)

	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatus(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1", "http://127.0.0.1:1")
	cfg.Stream.Enabled = true
	gw := newTestGateway(t, cfg)
	gw.subscribers.Subscribe(context.Background(), "U1")

	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var status StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "ok", status.Status)
	assert.Equal(t, []string{"messenger"}, status.Frontends)
	assert.Equal(t, 1, status.Subscribers)
	assert.True(t, status.Stream.Enabled)
	assert.False(t, status.Stream.Connected)
	assert.Nil(t, status.Stream.LastBlock)
}

func TestWebhookVerifyThroughGateway(t *testing.T) {
	gw := newTestGateway(t, testConfig(t, "http://127.0.0.1:1", "http://127.0.0.1:1"))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=abc123", nil)
	gw.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc123", rec.Body.String())
}

func TestBalanceThroughWebhook(t *testing.T) {
	api := newSendAPI(t)
	ledgerAPI := newLedgerAPI(t, 250000000)
	gw := newTestGateway(t, testConfig(t, api.URL, ledgerAPI.URL))

	rec := postWebhook(t, gw.Handler(),
		`{"sender":{"id":"U1"},"recipient":{"id":"PAGE"},"message":{"mid":"m.1","text":"Balance 1abc"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "EVENT_RECEIVED", rec.Body.String())

	require.Eventually(t, func() bool { return len(api.To("U1")) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "Your balance is BTC 2.5.", api.To("U1")[0])

	// redelivery of the same mid is dropped
	postWebhook(t, gw.Handler(),
		`{"sender":{"id":"U1"},"recipient":{"id":"PAGE"},"message":{"mid":"m.1","text":"Balance 1abc"}}`)
	gw.dispatcher.Drain(context.Background())
	assert.Len(t, api.To("U1"), 1)
}

func TestSubscribeThenBlockMined(t *testing.T) {
	api := newSendAPI(t)
	gw := newTestGateway(t, testConfig(t, api.URL, "http://127.0.0.1:1"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gw.startBackground(ctx, make(chan error, 4))

	postWebhook(t, gw.Handler(),
		`{"sender":{"id":"U1"},"recipient":{"id":"PAGE"},"message":{"mid":"m.1","text":"Subscribe"}}`)

	require.Eventually(t, func() bool { return len(api.To("U1")) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, dispatch.ReplySubscribed, api.To("U1")[0])
	assert.True(t, gw.subscribers.IsSubscribed(ctx, "U1"))

	gw.hub.Publish(ledger.BlockMinedEvent{Hash: "abc"})

	require.Eventually(t, func() bool { return len(api.To("U1")) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.JSONEq(t, `{"hash":"abc"}`, api.To("U1")[1])

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, api.To("U1"), 2, "exactly one notification per block")
}

func TestGatewayRunAndShutdown(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1", "http://127.0.0.1:1")
	gw, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- gw.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + cfg.Server.HTTPAddr + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("gateway did not shutdown in time")
	}
}

func TestGatewayRun_ListenError(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()

	cfg := testConfig(t, "http://127.0.0.1:1", "http://127.0.0.1:1")
	cfg.Server.HTTPAddr = occupied.Addr().String()
	gw := newTestGateway(t, cfg)

	err = gw.Run(context.Background())
	assert.ErrorContains(t, err, "listening on HTTP address")
}

func TestWebhookURL(t *testing.T) {
	assert.Equal(t, "https://ledgerbot.tail1234.ts.net/webhook", webhookURL("ledgerbot.tail1234.ts.net."))
}

func TestResolveTailscaleAuthKey(t *testing.T) {
	t.Setenv("TS_AUTHKEY", "")
	_, err := resolveTailscaleAuthKey("")
	assert.Error(t, err)

	t.Setenv("TS_AUTHKEY", "tskey-env")
	key, err := resolveTailscaleAuthKey("")
	require.NoError(t, err)
	assert.Equal(t, "tskey-env", key)

	key, err = resolveTailscaleAuthKey("tskey-config")
	require.NoError(t, err)
	assert.Equal(t, "tskey-config", key)
}

func TestGatewayRun_WorkerErrorStopsEverything(t *testing.T) {
	homeserver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"errcode":"M_UNKNOWN_TOKEN","error":"Invalid access token"}`)
	}))
	defer homeserver.Close()

	cfg := testConfig(t, "http://127.0.0.1:1", "http://127.0.0.1:1")
	cfg.Stream.Enabled = true
	cfg.Frontends.Matrix = config.MatrixConfig{
		Enabled:     true,
		Homeserver:  homeserver.URL,
		UserID:      "@ledgerbot:example.org",
		AccessToken: "revoked",
	}
	gw, err := New(cfg, testLogger())
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		errCh <- gw.Run(context.Background())
	}()

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "M_UNKNOWN_TOKEN")
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after a background worker failed")
	}

	stopped := make(chan struct{})
	go func() {
		gw.background.Wait()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("background workers still running after Run returned")
	}
	assert.Equal(t, 0, gw.hub.Len())
}
