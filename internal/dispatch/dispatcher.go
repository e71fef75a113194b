// ABOUTME: Command dispatcher turning inbound chat events into ledger lookups and replies
// ABOUTME: Owns session fallback, subscription changes, and the tracked task set for async handling

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/ledgerbot/internal/command"
	"github.com/2389/ledgerbot/internal/dedupe"
	"github.com/2389/ledgerbot/internal/delivery"
	"github.com/2389/ledgerbot/internal/ledger"
	"github.com/2389/ledgerbot/internal/store"
)

// ErrNoAddress means a Balance or Transactions command named no address and
// the user has none on file.
var ErrNoAddress = errors.New("no address on file")

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("dispatcher closed")

// ErrQueueFull is returned by Submit when a user already has MaxQueue events
// waiting.
var ErrQueueFull = errors.New("user event queue full")

// DefaultMaxQueue bounds the events waiting per user when Options.MaxQueue is unset.
const DefaultMaxQueue = 32

// Ledger is the subset of the ledger client the dispatcher needs.
type Ledger interface {
	FetchBalance(ctx context.Context, address string) (int64, error)
	FetchTransactions(ctx context.Context, address string) (*ledger.TransactionSummary, error)
}

// Deduper reports whether an inbound message key was already handled.
type Deduper interface {
	Seen(key string) bool
}

// Options wires the dispatcher's collaborators. Sessions, Subscribers, Ledger
// and Sender are required.
type Options struct {
	Sessions    store.SessionStore
	Subscribers store.SubscriberStore
	Ledger      Ledger
	Sender      delivery.Sender
	Dedupe      Deduper // optional
	MaxQueue    int     // per-user backlog; <= 0 uses DefaultMaxQueue
	Logger      *slog.Logger
}

// Dispatcher handles inbound chat events. Handling is stateless across events
// except through the session and subscriber stores.
type Dispatcher struct {
	sessions    store.SessionStore
	subscribers store.SubscriberStore
	ledger      Ledger
	sender      delivery.Sender
	dedupe      Deduper
	maxQueue    int
	logger      *slog.Logger

	// base is the parent context of every submitted task; cancel aborts them
	base   context.Context
	cancel context.CancelFunc
	tasks  sync.WaitGroup

	mu     sync.Mutex
	closed bool
	queues map[string][]Event // pending events per user with a running worker
}

// New creates a dispatcher.
func New(opts Options) *Dispatcher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxQueue := opts.MaxQueue
	if maxQueue <= 0 {
		maxQueue = DefaultMaxQueue
	}
	base, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		sessions:    opts.Sessions,
		subscribers: opts.Subscribers,
		ledger:      opts.Ledger,
		sender:      opts.Sender,
		dedupe:      opts.Dedupe,
		maxQueue:    maxQueue,
		logger:      logger.With("component", "dispatch"),
		base:        base,
		cancel:      cancel,
		queues:      make(map[string][]Event),
	}
}

// Submit queues ev for asynchronous handling and returns immediately. Events
// from the same user are handled one at a time in submission order; events
// from different users run concurrently. Redelivered messages are dropped.
// A user with MaxQueue events already waiting gets ErrQueueFull and the event
// is discarded.
func (d *Dispatcher) Submit(ev Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}

	userID := ev.User()
	pending, running := d.queues[userID]
	if len(pending) >= d.maxQueue {
		d.logger.Warn("user event queue full, dropping event", "user", userID, "backlog", len(pending))
		return fmt.Errorf("%w: user %s", ErrQueueFull, userID)
	}

	// after the capacity check, so a rejected message is not marked seen
	if msg, ok := ev.(MessageEvent); ok && msg.MessageID != "" && d.dedupe != nil {
		if d.dedupe.Seen(dedupe.Key(msg.Frontend, msg.MessageID)) {
			d.logger.Debug("duplicate message ignored",
				"frontend", msg.Frontend,
				"message_id", msg.MessageID,
			)
			return nil
		}
	}

	d.queues[userID] = append(pending, ev)
	if !running {
		d.tasks.Add(1)
		go d.work(userID)
	}
	return nil
}

// work handles queued events for userID until the queue is empty.
func (d *Dispatcher) work(userID string) {
	defer d.tasks.Done()

	for {
		d.mu.Lock()
		pending := d.queues[userID]
		if len(pending) == 0 {
			delete(d.queues, userID)
			d.mu.Unlock()
			return
		}
		ev := pending[0]
		d.queues[userID] = pending[1:]
		d.mu.Unlock()

		if err := d.Dispatch(d.base, ev); err != nil {
			d.logger.Warn("event handling failed", "user", userID, "error", err)
		}
	}
}

// Close stops accepting events, cancels in-flight tasks and waits for them.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	d.cancel()
	d.tasks.Wait()
}

// Drain stops accepting events and waits for queued tasks to finish. If ctx
// is done first the remaining tasks are cancelled.
func (d *Dispatcher) Drain(ctx context.Context) {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.tasks.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		d.cancel()
		<-done
	}
	d.cancel()
}

// Dispatch handles ev synchronously.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) error {
	switch e := ev.(type) {
	case MessageEvent:
		return d.HandleMessage(ctx, e.UserID, e.Text)
	case PostbackEvent:
		return d.HandlePostback(ctx, e.UserID, e.Payload)
	default:
		return fmt.Errorf("unsupported event type %T", ev)
	}
}

// HandleMessage parses text and carries out the command for userID, sending
// at most one reply. The returned error describes what went wrong for logging;
// the user has already been told when it is non-nil.
func (d *Dispatcher) HandleMessage(ctx context.Context, userID, text string) error {
	cmd := command.Parse(text)
	logger := d.logger.With(
		"request_id", uuid.NewString(),
		"user", userID,
		"command", cmd.Kind.String(),
	)
	logger.Debug("handling message")

	switch cmd.Kind {
	case command.Balance:
		return d.handleBalance(ctx, logger, userID, cmd)
	case command.Transactions:
		return d.handleTransactions(ctx, logger, userID, cmd)
	case command.Subscribe:
		d.subscribers.Subscribe(ctx, userID)
		logger.Info("user subscribed")
		return d.reply(ctx, logger, userID, ReplySubscribed)
	case command.Unsubscribe:
		d.subscribers.Unsubscribe(ctx, userID)
		logger.Info("user unsubscribed")
		return d.reply(ctx, logger, userID, ReplyUnsubscribed)
	default:
		return d.reply(ctx, logger, userID, ReplyUnrecognized)
	}
}

// HandlePostback answers a button press. Payloads other than "yes" and "no"
// are ignored.
func (d *Dispatcher) HandlePostback(ctx context.Context, userID, payload string) error {
	logger := d.logger.With("request_id", uuid.NewString(), "user", userID, "payload", payload)

	switch payload {
	case "yes":
		return d.reply(ctx, logger, userID, ReplyPostbackYes)
	case "no":
		return d.reply(ctx, logger, userID, ReplyPostbackNo)
	default:
		logger.Debug("ignoring postback")
		return nil
	}
}

// resolveAddress returns the explicit address, saving it to the session, or
// falls back to the session.
func (d *Dispatcher) resolveAddress(ctx context.Context, userID string, cmd command.Command) (string, error) {
	if cmd.HasAddress() {
		d.sessions.SetAddress(ctx, userID, cmd.Address)
		return cmd.Address, nil
	}
	if addr, ok := d.sessions.GetAddress(ctx, userID); ok {
		return addr, nil
	}
	return "", ErrNoAddress
}

func (d *Dispatcher) handleBalance(ctx context.Context, logger *slog.Logger, userID string, cmd command.Command) error {
	addr, err := d.resolveAddress(ctx, userID, cmd)
	if err != nil {
		return d.replyErr(ctx, logger, userID, ReplyNoAddress, err)
	}

	balance, err := d.ledger.FetchBalance(ctx, addr)
	if err != nil {
		logger.Error("balance lookup failed", "address", addr, "error", err)
		return d.replyErr(ctx, logger, userID, ReplyLedgerFailure, fmt.Errorf("fetching balance: %w", err))
	}

	return d.reply(ctx, logger, userID, ledger.FormatBalance(balance))
}

func (d *Dispatcher) handleTransactions(ctx context.Context, logger *slog.Logger, userID string, cmd command.Command) error {
	addr, err := d.resolveAddress(ctx, userID, cmd)
	if err != nil {
		return d.replyErr(ctx, logger, userID, ReplyNoAddress, err)
	}

	summary, err := d.ledger.FetchTransactions(ctx, addr)
	if err != nil {
		logger.Error("transaction lookup failed", "address", addr, "error", err)
		return d.replyErr(ctx, logger, userID, ReplyLedgerFailure, fmt.Errorf("fetching transactions: %w", err))
	}

	if summary.Empty() {
		return d.reply(ctx, logger, userID, ReplyNoTransactions)
	}
	return d.reply(ctx, logger, userID, ledger.FormatTransactions(summary))
}

// reply delivers text to userID. Delivery failures are logged and returned,
// never retried.
func (d *Dispatcher) reply(ctx context.Context, logger *slog.Logger, userID, text string) error {
	if err := d.sender.Send(ctx, userID, text); err != nil {
		logger.Warn("reply delivery failed", "error", err)
		return fmt.Errorf("sending reply: %w", err)
	}
	return nil
}

// replyErr sends text and returns cause, joined with any delivery error.
func (d *Dispatcher) replyErr(ctx context.Context, logger *slog.Logger, userID, text string, cause error) error {
	if err := d.reply(ctx, logger, userID, text); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}
