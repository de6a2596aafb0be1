// Package notify connects the replicator to the event bus: it announces each
// published batch and turns incoming replication triggers into wake-ups of the
// polling loop.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/pg-search-replicator/pkg/kafka"
)

// IndexUpdated is emitted after a batch has been published and its watermark
// committed.
type IndexUpdated struct {
	Table       string    `json:"table"`
	Index       string    `json:"index"`
	DocumentIDs []string  `json:"document_ids"`
	Watermark   time.Time `json:"watermark"`
	PublishedAt time.Time `json:"published_at"`
}

// Trigger asks the replicator to poll now instead of waiting out its idle
// sleep. Table is informational.
type Trigger struct {
	Reason string `json:"reason"`
	Table  string `json:"table,omitempty"`
}

// EventPublisher is satisfied by *kafka.Producer.
type EventPublisher interface {
	Publish(ctx context.Context, events ...kafka.Event) error
}

type Notifier struct {
	pub    EventPublisher
	index  string
	logger *slog.Logger
}

func NewNotifier(pub EventPublisher, index string) *Notifier {
	return &Notifier{
		pub:    pub,
		index:  index,
		logger: slog.Default().With("component", "notifier"),
	}
}

// IndexUpdated announces a committed batch. Delivery failures are logged and
// never fail the cycle.
func (n *Notifier) IndexUpdated(ctx context.Context, table string, ids []string, watermark time.Time) {
	event := IndexUpdated{
		Table:       table,
		Index:       n.index,
		DocumentIDs: ids,
		Watermark:   watermark.UTC(),
		PublishedAt: time.Now().UTC(),
	}
	if err := n.pub.Publish(ctx, kafka.Event{Key: table, Value: event}); err != nil {
		n.logger.Warn("index update notification dropped", "table", table, "documents", len(ids), "error", err)
	}
}

// WakeHandler returns a consumer handler that signals wake for every valid
// trigger. The send never blocks: a pending wake-up already covers the new
// one.
func WakeHandler(wake chan<- struct{}) kafka.MessageHandler {
	logger := slog.Default().With("component", "wake-handler")
	return func(ctx context.Context, key []byte, value []byte) error {
		trigger, err := kafka.DecodeJSON[Trigger](value)
		if err != nil {
			return err
		}
		logger.Debug("replication trigger received", "reason", trigger.Reason, "table", trigger.Table)
		select {
		case wake <- struct{}{}:
		default:
		}
		return nil
	}
}
