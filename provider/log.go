package provider

import (
	"context"
	"log/slog"

	"github.com/xraph/herald/id"
	"github.com/xraph/herald/job"
)

// Log is a deliverer that writes messages to a structured logger
// instead of an external service. Useful for development, for the
// in-app channel, and as a stand-in while a real provider is not yet
// configured.
type Log struct {
	channel job.StepType
	logger  *slog.Logger
}

// NewLog creates a logging deliverer for the given channel.
func NewLog(channel job.StepType, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{channel: channel, logger: logger}
}

// ID returns the provider identifier.
func (l *Log) ID() string { return "log" }

// Channel returns the configured channel.
func (l *Log) Channel() job.StepType { return l.channel }

// Deliver logs the message and reports success.
func (l *Log) Deliver(_ context.Context, msg Message) (*Receipt, error) {
	l.logger.Info("message delivered",
		slog.String("channel", string(l.channel)),
		slog.String("recipient", msg.Recipient),
		slog.String("title", msg.Title),
		slog.String("body", msg.Body),
	)
	return &Receipt{MessageID: id.New(id.PrefixMessage).String()}, nil
}
