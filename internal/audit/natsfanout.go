package audit

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go/jetstream"
)

// StreamedStore wraps a Store and publishes every successfully appended
// entry onto a JetStream stream, so external dashboards can tail the
// chain without querying the audit store directly. Publish failures
// never roll back or fail the append itself — the durable chain is the
// store, the stream is a best-effort fan-out of it.
type StreamedStore struct {
	Store
	js      jetstream.JetStream
	subject string
}

// EventEnvelope is the JSON payload published for each appended entry.
type EventEnvelope struct {
	ID         string         `json:"id"`
	Sequence   int64          `json:"sequence"`
	UserID     string         `json:"userId"`
	Category   string         `json:"category"`
	Action     string         `json:"action"`
	Severity   string         `json:"severity"`
	Success    bool           `json:"success"`
	EntityType string         `json:"entityType,omitempty"`
	EntityID   string         `json:"entityId,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

const (
	streamName    = "LENS_EVENTS"
	streamSubject = "lens.audit.>"
)

// EnsureStream idempotently provisions the LENS_EVENTS stream, creating
// it on first run and reusing it on every subsequent one.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.Stream(ctx, streamName)
	if err == nil {
		return nil
	}
	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{streamSubject},
		Storage:  jetstream.FileStorage,
	})
	return err
}

// NewStreamedStore wraps base so every Append also publishes to subject
// "lens.audit.<category>" on the LENS_EVENTS stream.
func NewStreamedStore(base Store, js jetstream.JetStream) *StreamedStore {
	return &StreamedStore{Store: base, js: js}
}

func (s *StreamedStore) Append(ctx context.Context, entry Entry) (Entry, error) {
	appended, err := s.Store.Append(ctx, entry)
	if err != nil {
		return appended, err
	}

	payload, mErr := json.Marshal(EventEnvelope{
		ID: appended.ID, Sequence: appended.Sequence, UserID: appended.UserID,
		Category: appended.Category, Action: appended.Action, Severity: string(appended.Severity),
		Success: appended.Success, EntityType: appended.EntityType, EntityID: appended.EntityID,
		Data: appended.Data,
	})
	if mErr != nil {
		return appended, nil
	}

	subject := "lens.audit." + sanitizeSubjectToken(appended.Category)
	_, _ = s.js.Publish(ctx, subject, payload, jetstream.WithMsgID(appended.ID))
	return appended, nil
}

// sanitizeSubjectToken strips NATS subject-delimiter characters so a
// category value can never widen or narrow the wildcard it's published
// under.
func sanitizeSubjectToken(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '.' || c == '*' || c == '>' || c == ' ' {
			out = append(out, '_')
			continue
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return "unknown"
	}
	return string(out)
}
