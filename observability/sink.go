package observability

import (
	"context"
	"log/slog"
	"sync"

	"github.com/warp/loan-engine/lending"
)

// EventSink logs and counts committed engine events and keeps the most
// recent ones in memory for inspection.
type EventSink struct {
	log     *slog.Logger
	metrics *EngineMetrics

	mu     sync.Mutex
	recent []lending.Event
	keep   int
}

// NewEventSink keeps up to keep recent events (0 keeps none).
func NewEventSink(logger *slog.Logger, metrics *EngineMetrics, keep int) *EventSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventSink{log: logger, metrics: metrics, keep: keep}
}

func (s *EventSink) Publish(ctx context.Context, events []lending.Event) error {
	for _, e := range events {
		s.metrics.RecordEvent(e.Kind)
		s.log.DebugContext(ctx, "engine event",
			"event_id", e.ID,
			"batch_id", e.BatchID,
			"seq", e.Seq,
			"kind", e.Kind,
			"sub_loan_id", e.SubLoanID,
			"operation_id", e.OperationID,
			"revision", e.Revision,
			"amount", e.Amount,
			"outstanding", e.Outstanding)
	}
	if s.keep <= 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.recent = append(s.recent, events...)
	if over := len(s.recent) - s.keep; over > 0 {
		s.recent = append([]lending.Event(nil), s.recent[over:]...)
	}
	return nil
}

// Recent returns a copy of the retained events, oldest first.
func (s *EventSink) Recent() []lending.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]lending.Event(nil), s.recent...)
}

var _ lending.EventSink = (*EventSink)(nil)
