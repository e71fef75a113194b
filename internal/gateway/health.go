// ABOUTME: Liveness, readiness, and status HTTP handlers for the gateway
// ABOUTME: Readiness follows the block stream connection when the stream is enabled

package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/2389/ledgerbot/internal/ledger"
	"github.com/2389/ledgerbot/internal/matrix"
	"github.com/2389/ledgerbot/internal/messenger"
)

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK when block notifications can flow: the stream is
// connected, or disabled.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if g.stream != nil && !g.stream.Connected() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("block stream not connected"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d subscribers)", g.subscribers.Len())
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Status      string       `json:"status"`
	Uptime      string       `json:"uptime"`
	Frontends   []string     `json:"frontends"`
	Subscribers int          `json:"subscribers"`
	Sessions    int          `json:"sessions"`
	Stream      StreamStatus `json:"stream"`
}

// StreamStatus describes the block stream connection.
type StreamStatus struct {
	Enabled   bool                    `json:"enabled"`
	Connected bool                    `json:"connected"`
	LastBlock *ledger.BlockMinedEvent `json:"last_block,omitempty"`
}

func (g *Gateway) status() StatusResponse {
	resp := StatusResponse{
		Status:      "ok",
		Uptime:      time.Since(g.startedAt).Truncate(time.Second).String(),
		Frontends:   []string{messenger.Frontend},
		Subscribers: g.subscribers.Len(),
		Sessions:    g.sessions.Len(),
	}
	if g.matrix != nil {
		resp.Frontends = append(resp.Frontends, matrix.Frontend)
	}
	if g.stream != nil {
		resp.Stream.Enabled = true
		resp.Stream.Connected = g.stream.Connected()
		if last, ok := g.stream.LastBlock(); ok {
			resp.Stream.LastBlock = &last
		}
	}
	return resp
}

// handleStatus reports component state as JSON.
func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(g.status()); err != nil {
		g.logger.Warn("encoding status", "error", err)
	}
}
