package executors

import (
	"context"
	"encoding/json"
)

// Message is an outbound notification of any kind.
type Message struct {
	Kind    string         `json:"kind"` // email | notification | slack
	To      string         `json:"to,omitempty"`
	Subject string         `json:"subject,omitempty"`
	Body    string         `json:"body"`
	Channel string         `json:"channel,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// NotificationSink delivers outbound messages. Implementations decide the
// transport (SMTP relay, chat API, in-app feed); executors only describe
// the message.
type NotificationSink interface {
	Deliver(ctx context.Context, orgID string, msg Message) error
	CreateChannel(ctx context.Context, orgID, name string, members []string) (string, error)
}

// EntityRecord is a created or updated business record.
type EntityRecord struct {
	ID   string          `json:"id"`
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// EntityService creates and updates business records (tasks, projects) on
// behalf of action steps. Keeps the executors free of storage details.
type EntityService interface {
	Create(ctx context.Context, orgID, kind string, data map[string]any) (*EntityRecord, error)
	Update(ctx context.Context, orgID, kind, id string, data map[string]any) (*EntityRecord, error)
}

// Generator produces text from a prompt. Backed by whatever model endpoint
// the deployment configures.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts map[string]any) (string, error)
}
