package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	chat "github.com/eugener/palantir/internal"
	"github.com/eugener/palantir/internal/telemetry"
)

const (
	turnChanSize   = 1000
	turnBatchSize  = 100
	turnFlushEvery = 5 * time.Second
	turnDrainTime  = 30 * time.Second
)

// TurnStore is the persistence interface consumed by TurnRecorder.
type TurnStore interface {
	InsertTurnEvents(ctx context.Context, events []chat.TurnEvent) error
}

// TurnRecorder buffers turn audit events and batch-flushes them to the
// store. Events are dropped if the channel is full (back-pressure on a
// slow DB).
type TurnRecorder struct {
	ch      chan chat.TurnEvent
	store   TurnStore
	metrics *telemetry.Metrics // nil = no metrics
}

// NewTurnRecorder creates a TurnRecorder backed by store. metrics may be nil.
func NewTurnRecorder(store TurnStore, metrics *telemetry.Metrics) *TurnRecorder {
	return &TurnRecorder{
		ch:      make(chan chat.TurnEvent, turnChanSize),
		store:   store,
		metrics: metrics,
	}
}

// Name returns the worker identifier.
func (t *TurnRecorder) Name() string { return "turn_recorder" }

// Record enqueues a turn event. It never blocks; drops on full channel.
func (t *TurnRecorder) Record(ev chat.TurnEvent) {
	select {
	case t.ch <- ev:
		if t.metrics != nil {
			t.metrics.UsageQueueLength.Set(float64(len(t.ch)))
		}
	default:
		slog.Warn("turn event dropped, channel full")
	}
}

// Run processes events until ctx is cancelled, then drains what remains.
func (t *TurnRecorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(turnFlushEvery)
	defer ticker.Stop()

	buf := make([]chat.TurnEvent, 0, turnBatchSize)

	for {
		select {
		case ev := <-t.ch:
			buf = append(buf, ev)
			if len(buf) >= turnBatchSize {
				t.flush(ctx, buf)
				buf = buf[:0]
			}

		case <-ticker.C:
			if len(buf) > 0 {
				t.flush(ctx, buf)
				buf = buf[:0]
			}

		case <-ctx.Done():
			// Drain remaining events with a timeout.
			t.drain(buf)
			return nil
		}
	}
}

func (t *TurnRecorder) drain(buf []chat.TurnEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), turnDrainTime)
	defer cancel()

	for {
		select {
		case ev := <-t.ch:
			buf = append(buf, ev)
			if len(buf) >= turnBatchSize {
				t.flush(ctx, buf)
				buf = buf[:0]
			}
		default:
			// Channel empty, flush remaining.
			if len(buf) > 0 {
				t.flush(ctx, buf)
			}
			return
		}
	}
}

func (t *TurnRecorder) flush(ctx context.Context, buf []chat.TurnEvent) {
	// Copy to avoid aliasing the caller's slice.
	batch := make([]chat.TurnEvent, len(buf))
	copy(batch, buf)

	// Assign IDs off the hot path; callers leave ID empty.
	for i := range batch {
		if batch[i].ID == "" {
			batch[i].ID = uuid.Must(uuid.NewV7()).String()
		}
	}

	if err := t.store.InsertTurnEvents(ctx, batch); err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "turn event flush failed",
			slog.Int("count", len(batch)),
			slog.String("error", err.Error()),
		)
	}
	if t.metrics != nil {
		t.metrics.UsageQueueLength.Set(float64(len(t.ch)))
	}
}
