// ABOUTME: Fans a block-mined event out to every subscribed chat user
// ABOUTME: Snapshots the registry, then delivers with bounded concurrency and per-recipient isolation

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/2389/ledgerbot/internal/delivery"
	"github.com/2389/ledgerbot/internal/ledger"
	"github.com/2389/ledgerbot/internal/store"
)

// DefaultConcurrency bounds in-flight deliveries when none is configured.
const DefaultConcurrency = 8

// Report summarizes one fan-out.
type Report struct {
	Recipients int
	Delivered  int
	Failed     int
}

// Notifier delivers block events to the subscriber registry.
type Notifier struct {
	subscribers store.SubscriberStore
	sender      delivery.Sender
	concurrency int
	logger      *slog.Logger
}

// New creates a notifier. concurrency <= 0 uses DefaultConcurrency.
func New(subscribers store.SubscriberStore, sender delivery.Sender, concurrency int, logger *slog.Logger) *Notifier {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		subscribers: subscribers,
		sender:      sender,
		concurrency: concurrency,
		logger:      logger.With("component", "notify"),
	}
}

// Payload is the text sent to subscribers for ev: its JSON encoding.
func Payload(ev ledger.BlockMinedEvent) (string, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("encoding block event: %w", err)
	}
	return string(b), nil
}

// OnBlockMined sends ev to everyone subscribed at the moment of the call.
// Users who subscribe while delivery is in progress get the next event. A
// failed delivery is logged and never stops the others.
func (n *Notifier) OnBlockMined(ctx context.Context, ev ledger.BlockMinedEvent) Report {
	recipients := n.subscribers.Snapshot(ctx)
	report := Report{Recipients: len(recipients)}
	if len(recipients) == 0 {
		n.logger.Debug("block mined, no subscribers", "hash", ev.Hash)
		return report
	}

	text, err := Payload(ev)
	if err != nil {
		n.logger.Error("cannot encode block event", "hash", ev.Hash, "error", err)
		report.Failed = len(recipients)
		return report
	}

	var delivered, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(n.concurrency)
	for _, userID := range recipients {
		g.Go(func() error {
			if err := n.sender.Send(ctx, userID, text); err != nil {
				failed.Add(1)
				n.logger.Warn("block notification failed", "user", userID, "hash", ev.Hash, "error", err)
				return nil
			}
			delivered.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	report.Delivered = int(delivered.Load())
	report.Failed = int(failed.Load())
	n.logger.Info("block notification sent",
		"hash", ev.Hash,
		"height", ev.Height,
		"recipients", report.Recipients,
		"failed", report.Failed,
	)
	return report
}

// Run notifies for every event received on events until ctx is done or the
// channel is closed. Events are handled one after another so subscribers see
// blocks in stream order.
func (n *Notifier) Run(ctx context.Context, events <-chan ledger.BlockMinedEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			n.OnBlockMined(ctx, ev)
		}
	}
}
