// Package gateway wires ledgerbot together and runs it.
//
// # Overview
//
// A Gateway owns the Messenger webhook server, the command dispatcher, the
// per-user session store, the subscriber registry, and the block notification
// pipeline. New builds every component from a config.Config; Run starts the
// HTTP server and the background workers and blocks until its context is
// cancelled.
//
// # Components
//
//	webhook (messenger) ──► dispatcher ──► ledger client (GraphQL)
//	matrix bridge ───────┘      │
//	                            ▼
//	                     delivery.Mux ──► Messenger Send API / Matrix room
//	                            ▲
//	block stream ──► hub ──► notifier
//
// Replies and notifications go through a delivery.Mux. User IDs prefixed with
// "matrix:" are sent to the Matrix bridge; everything else goes to the
// Messenger Send API.
//
// # HTTP Endpoints
//
//	GET  /webhook        Messenger verification handshake
//	POST /webhook        Messenger event delivery
//	GET  /health         liveness, always 200
//	GET  /healthcheck    alias for /health
//	GET  /health/ready   503 while an enabled block stream is disconnected
//	GET  /status         JSON component status
//
// # Listeners
//
// By default the server listens on server.http_addr. With tailscale.enabled
// the gateway joins the tailnet through tsnet instead. tailscale.funnel
// exposes the webhook publicly over HTTPS, which Messenger requires, and the
// callback URL to register is logged at startup.
//
// # Shutdown
//
// Cancelling Run's context stops the HTTP server first, then waits for queued
// dispatch work and background workers, bounded by a 10 second timeout.
package gateway
