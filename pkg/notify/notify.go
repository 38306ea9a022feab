// Package notify delivers alert text to an operator.
// Delivery is best effort: failures are logged and never returned.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultSendTimeout bounds one delivery attempt
	DefaultSendTimeout = 10 * time.Second
	// DefaultMaxPending caps deliveries running at once; extra messages are dropped
	DefaultMaxPending = 8
)

// Notifier sends one message; it never reports failure to the caller
type Notifier interface {
	Send(ctx context.Context, text string)
}

// Sender is the push side of the messaging channel
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string) (int, error)
}

// TelegramNotifier pushes alerts to a fixed chat.
// Send returns at once; delivery happens in the background.
type TelegramNotifier struct {
	sender     Sender
	chatID     int64
	timeout    time.Duration
	maxPending int
	logger     *slog.Logger

	slots chan struct{}
	wg    sync.WaitGroup
}

// Option is a functional option for configuring a TelegramNotifier
type Option func(*TelegramNotifier)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(n *TelegramNotifier) {
		n.logger = logger
	}
}

// WithTimeout overrides DefaultSendTimeout
func WithTimeout(d time.Duration) Option {
	return func(n *TelegramNotifier) {
		n.timeout = d
	}
}

// WithMaxPending overrides DefaultMaxPending
func WithMaxPending(limit int) Option {
	return func(n *TelegramNotifier) {
		n.maxPending = limit
	}
}

// NewTelegramNotifier creates a notifier bound to one chat
func NewTelegramNotifier(sender Sender, chatID int64, opts ...Option) *TelegramNotifier {
	n := &TelegramNotifier{
		sender:     sender,
		chatID:     chatID,
		timeout:    DefaultSendTimeout,
		maxPending: DefaultMaxPending,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.maxPending < 1 {
		n.maxPending = 1
	}
	n.slots = make(chan struct{}, n.maxPending)
	return n
}

// Send hands text to a background delivery and returns immediately.
// The delivery outlives ctx cancellation but not its own timeout.
// When maxPending deliveries are already running the message is dropped.
func (n *TelegramNotifier) Send(ctx context.Context, text string) {
	select {
	case n.slots <- struct{}{}:
	default:
		n.logger.Warn("⚠️ Notification dropped, too many deliveries pending", "chat_id", n.chatID, "pending", n.maxPending)
		return
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer func() { <-n.slots }()
		n.deliver(context.WithoutCancel(ctx), text)
	}()
}

// Wait blocks until every pending delivery has finished
func (n *TelegramNotifier) Wait() {
	n.wg.Wait()
}

// deliver sends text once, without retry
func (n *TelegramNotifier) deliver(ctx context.Context, text string) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	status, err := n.sender.SendMessage(ctx, n.chatID, text)
	if err != nil {
		n.logger.Error("Failed to deliver notification", "chat_id", n.chatID, "status", status, "error", err)
		return
	}
	n.logger.Debug("Notification delivered", "chat_id", n.chatID, "status", status)
}

// LogNotifier writes alerts to the log; used when messaging is disabled
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier; nil logger means slog.Default()
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Send logs the alert text at warn level
func (n *LogNotifier) Send(_ context.Context, text string) {
	n.logger.Warn("Alert", "text", text)
}

// Multi fans a message out to every notifier in order
type Multi []Notifier

// Send calls each notifier; nil entries are skipped
func (m Multi) Send(ctx context.Context, text string) {
	for _, n := range m {
		if n != nil {
			n.Send(ctx, text)
		}
	}
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = Multi(nil)
)
