package collab

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/arclight-io/conveyor/internal/executors"
)

// LogSink is the default NotificationSink: it records deliveries in the
// structured log instead of sending anything. Deployments with a real
// mail relay or chat API plug in their own sink.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Deliver logs the outbound message.
func (s *LogSink) Deliver(ctx context.Context, orgID string, msg executors.Message) error {
	s.logger.InfoContext(ctx, "notification delivered",
		slog.String("org_id", orgID),
		slog.String("kind", msg.Kind),
		slog.String("to", msg.To),
		slog.String("channel", msg.Channel),
		slog.Int("body_len", len(msg.Body)))
	return nil
}

// CreateChannel logs the request and returns a generated channel ID.
func (s *LogSink) CreateChannel(ctx context.Context, orgID, name string, members []string) (string, error) {
	id := "ch-" + uuid.NewString()
	s.logger.InfoContext(ctx, "channel created",
		slog.String("org_id", orgID),
		slog.String("name", name),
		slog.String("channel_id", id),
		slog.Int("members", len(members)))
	return id, nil
}
