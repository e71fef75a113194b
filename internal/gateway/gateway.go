// ABOUTME: Gateway orchestrator that wires ledgerbot's frontends, dispatcher, and block notifications
// ABOUTME: Owns the HTTP server, optional Tailscale listener, background workers, and shutdown order

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/ledgerbot/internal/config"
	"github.com/2389/ledgerbot/internal/dedupe"
	"github.com/2389/ledgerbot/internal/delivery"
	"github.com/2389/ledgerbot/internal/dispatch"
	"github.com/2389/ledgerbot/internal/ledger"
	"github.com/2389/ledgerbot/internal/matrix"
	"github.com/2389/ledgerbot/internal/messenger"
	"github.com/2389/ledgerbot/internal/notify"
	"github.com/2389/ledgerbot/internal/store"
	"github.com/2389/ledgerbot/internal/stream"
)

// shutdownTimeout bounds graceful shutdown once Run's context is cancelled.
const shutdownTimeout = 10 * time.Second

// Gateway owns every long-lived ledgerbot component.
type Gateway struct {
	config *config.Config
	logger *slog.Logger

	sessions    *store.MemorySessions
	subscribers *store.MemorySubscribers
	dedupe      *dedupe.Cache
	dispatcher  *dispatch.Dispatcher
	notifier    *notify.Notifier
	deliveries  *delivery.Mux

	// hub fans block events from the stream client out to the notifier
	hub *stream.Hub

	// stream is nil when stream.enabled is false
	stream *stream.Client

	// matrix is nil when frontends.matrix.enabled is false
	matrix *matrix.Bridge

	httpServer  *http.Server
	tsnetServer *tsnet.Server

	startedAt time.Time

	// background tracks stream, notifier and matrix goroutines started by Run
	background sync.WaitGroup
}

// New creates a Gateway from cfg. Nothing listens or connects until Run.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	gw := &Gateway{
		config:      cfg,
		logger:      logger.With("component", "gateway"),
		sessions:    store.NewMemorySessions(),
		subscribers: store.NewMemorySubscribers(),
		dedupe:      dedupe.New(cfg.Dedupe.TTL, cfg.Dedupe.MaxSize),
		hub:         stream.NewHub(logger),
		startedAt:   time.Now(),
	}

	sendAPI := messenger.NewClient(messenger.SendOptions{
		GraphAPIURL:     cfg.Messenger.GraphAPIURL,
		PageAccessToken: cfg.Messenger.PageAccessToken,
		Timeout:         cfg.Messenger.SendTimeout,
		Rate:            cfg.Messenger.SendRate,
		Burst:           cfg.Messenger.SendBurst,
		Logger:          logger,
	})
	gw.deliveries = delivery.NewMux(sendAPI)

	gw.dispatcher = dispatch.New(dispatch.Options{
		Sessions:    gw.sessions,
		Subscribers: gw.subscribers,
		Ledger:      ledger.NewClient(cfg.Ledger.URL, cfg.Ledger.Timeout, logger),
		Sender:      gw.deliveries,
		Dedupe:      gw.dedupe,
		Logger:      logger,
	})
	gw.notifier = notify.New(gw.subscribers, gw.deliveries, cfg.Notify.Concurrency, logger)

	if cfg.Stream.Enabled {
		gw.stream = stream.NewClient(stream.Options{
			URL:              cfg.Stream.URL,
			SubscribeMessage: cfg.Stream.SubscribeMessage,
			HashPath:         cfg.Stream.HashPath,
			HeightPath:       cfg.Stream.HeightPath,
			ReconnectDelay:   cfg.Stream.ReconnectDelay,
			Logger:           logger,
		})
	}

	if cfg.Frontends.Matrix.Enabled {
		bridge, err := matrix.New(cfg.Frontends.Matrix, gw.dispatcher, logger)
		if err != nil {
			gw.dedupe.Close()
			return nil, err
		}
		gw.matrix = bridge
		gw.deliveries.Handle(matrix.Frontend, bridge)
	}

	webhook := messenger.NewWebhook(messenger.WebhookOptions{
		VerifyToken: cfg.Messenger.VerifyToken,
		AppSecret:   cfg.Messenger.AppSecret,
		Submitter:   gw.dispatcher,
		Logger:      logger,
	})

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.routes(webhook),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// routes builds the HTTP handler.
func (g *Gateway) routes(webhook http.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/webhook", webhook)

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /healthcheck", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)
	mux.HandleFunc("GET /status", g.handleStatus)

	return mux
}

// Handler returns the gateway's HTTP handler, for tests and embedding.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Dispatcher returns the command dispatcher.
func (g *Gateway) Dispatcher() *dispatch.Dispatcher {
	return g.dispatcher
}

// Run starts the HTTP server and background workers and blocks until ctx is
// cancelled or the server or a worker fails. Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	// background workers must stop on a server error too, not only when the
	// caller cancels
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := g.startServer(ln)
	g.startBackground(runCtx, errCh)

	serverErr := g.waitForShutdownSignal(ctx, errCh)
	cancel()
	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// startServer serves HTTP on ln in a goroutine, returning the error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 4)

	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// startBackground starts the block stream, the notifier and the Matrix
// bridge. They all stop when ctx is cancelled.
func (g *Gateway) startBackground(ctx context.Context, errCh chan error) {
	events, _ := g.hub.Subscribe(ctx)
	g.background.Add(1)
	go func() {
		defer g.background.Done()
		g.notifier.Run(ctx, events)
	}()

	if g.stream != nil {
		g.background.Add(1)
		go func() {
			defer g.background.Done()
			_ = g.stream.Run(ctx, g.hub.Publish)
		}()
	}

	if g.matrix != nil {
		g.background.Add(1)
		go func() {
			defer g.background.Done()
			if err := g.matrix.Run(ctx); err != nil {
				errCh <- err
			}
		}()
	}
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		g.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (g *Gateway) drainErrors(errCh chan error) {
	for {
		select {
		case additionalErr := <-errCh:
			g.logger.Error("additional server error", "error", additionalErr)
		default:
			return
		}
	}
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// setupListener creates the HTTP listener (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" && g.config.Server.HTTPAddr != config.DefaultHTTPAddr {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", g.config.Server.HTTPAddr,
			)
		}
		return g.setupTailscaleListener(ctx)
	}

	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "ledgerbot", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListener starts a tsnet node and listens on it.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	return g.createTailscaleListener(tsCfg)
}

// logTailscaleStatus logs the node address and the public webhook URL.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
	if g.config.Tailscale.Funnel && dnsName != "" {
		g.logger.Info("messenger webhook URL", "url", webhookURL(dnsName))
	}
}

// webhookURL is the callback URL to register with the Messenger app.
func webhookURL(dnsName string) string {
	return "https://" + strings.TrimSuffix(dnsName, ".") + "/webhook"
}

// createTailscaleListener picks Funnel, tailnet HTTPS, or plain HTTP.
func (g *Gateway) createTailscaleListener(tsCfg config.TailscaleConfig) (net.Listener, error) {
	switch {
	case tsCfg.Funnel:
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale funnel: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		return g.createTailscaleTLSListener()
	default:
		ln, err := g.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// createTailscaleTLSListener creates a TLS listener using Tailscale's auto-provisioned certs.
func (g *Gateway) createTailscaleTLSListener() (net.Listener, error) {
	g.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := g.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := g.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops accepting webhooks, lets queued dispatch tasks finish within
// ctx, waits for background workers and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.dispatcher.Drain(ctx)

	waited := make(chan struct{})
	go func() {
		g.background.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("background workers: %w", ctx.Err()))
	}

	g.hub.Close()
	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	g.dedupe.Close()

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}
