package command

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"github.com/gravito-framework/pulsar-go/pkg/types"
)

// ErrNoChat is returned when a reply has neither a source chat nor a default chat
var ErrNoChat = errors.New("no chat to reply to")

// Replier is the push side of the messaging channel
type Replier interface {
	SendMessage(ctx context.Context, chatID int64, text string) (int, error)
}

// Request is a parsed command
type Request struct {
	Command string // lower case, without the leading slash or @bot suffix
	Args    []string
	Message types.InboundMessage
}

// Executor handles one or more commands and returns the reply text.
// An empty reply sends nothing.
type Executor interface {
	SupportedCommands() []string
	Execute(ctx context.Context, req *Request) (string, error)
}

// ParseCommand splits "/Status@my_bot now" into ("status", ["now"], true).
// Text that does not start with a slash is not a command.
func ParseCommand(text string) (string, []string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}

	fields := strings.Fields(text)
	name := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	return strings.ToLower(name), fields[1:], true
}

// DispatcherConfig is fixed at construction
type DispatcherConfig struct {
	// DefaultChatID receives replies for messages without a chat id
	DefaultChatID int64
	// AllowedChatID, when non-zero, ignores commands from every other chat
	AllowedChatID int64
	Logger        *slog.Logger
	Observer      Observer
}

// Dispatcher routes commands to executors and sends the replies
type Dispatcher struct {
	replier   Replier
	cfg       DispatcherConfig
	logger    *slog.Logger
	executors map[string]Executor
	fallback  Executor
}

// NewDispatcher creates a dispatcher with the help and unknown-command executors registered
func NewDispatcher(replier Replier, cfg DispatcherConfig) *Dispatcher {
	d := &Dispatcher{
		replier:   replier,
		cfg:       cfg,
		logger:    cfg.Logger,
		executors: make(map[string]Executor),
		fallback:  UnknownExecutor{},
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}

	d.RegisterExecutor(HelpExecutor{})
	return d
}

// RegisterExecutor registers an executor for every command it supports
func (d *Dispatcher) RegisterExecutor(e Executor) {
	for _, name := range e.SupportedCommands() {
		d.executors[name] = e
	}
}

// Handle dispatches one message synchronously
func (d *Dispatcher) Handle(ctx context.Context, msg types.InboundMessage) error {
	if d.cfg.AllowedChatID != 0 && msg.ChatID != d.cfg.AllowedChatID {
		d.logger.Warn("⚠️ Ignoring message from unknown chat", "chat_id", msg.ChatID, "update_id", msg.UpdateID)
		return nil
	}

	name, args, ok := ParseCommand(msg.Text)
	if !ok {
		return nil
	}

	executor, found := d.executors[name]
	label := name
	if !found {
		executor = d.fallback
		label = "unknown"
	}

	d.logger.Info("📥 Received command", "command", name, "update_id", msg.UpdateID, "chat_id", msg.ChatID)

	reply, err := executor.Execute(ctx, &Request{Command: name, Args: args, Message: msg})
	if err != nil {
		d.logger.Error("❌ Command failed", "command", name, "error", err)
		reply = "Error: " + html.EscapeString(err.Error())
	}
	if d.cfg.Observer != nil {
		d.cfg.Observer.CommandHandled(label)
	}
	if reply == "" {
		return nil
	}

	chatID := msg.ChatID
	if chatID == 0 {
		chatID = d.cfg.DefaultChatID
	}
	if chatID == 0 {
		return fmt.Errorf("reply to /%s: %w", name, ErrNoChat)
	}

	status, err := d.replier.SendMessage(ctx, chatID, reply)
	if err != nil {
		return fmt.Errorf("reply to /%s (status %d): %w", name, status, err)
	}
	return nil
}

var _ Handler = (*Dispatcher)(nil)
