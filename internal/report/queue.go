package report

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/banshee-data/collision.report/internal/monitoring"
	"github.com/banshee-data/collision.report/internal/timeutil"
)

// QueuedReport is one pending delivery in the retry queue.
type QueuedReport struct {
	ID       int64
	Payload  []byte
	Attempts int
}

// Queue is the durable store behind the retry loop.
type Queue interface {
	// Enqueue stores a payload for later delivery.
	Enqueue(payload []byte) error

	// Pending returns up to limit undelivered payloads, oldest first.
	Pending(limit int) ([]QueuedReport, error)

	// MarkReported records a successful delivery.
	MarkReported(id int64, backendID string) error

	// RecordAttempt records a failed delivery attempt.
	RecordAttempt(id int64, deliveryErr string) error
}

// PayloadSender delivers a pre-marshalled ingest payload.
type PayloadSender interface {
	SendPayload(ctx context.Context, payload []byte) (string, error)
}

// QueueingReporter wraps a Reporter and enqueues the payload whenever
// delivery fails, so the flusher can retry it. The delivery error is
// still returned: a queued incident has not been reported yet.
type QueueingReporter struct {
	inner Reporter
	queue Queue
}

// NewQueueingReporter wraps inner with queue-on-failure behaviour.
func NewQueueingReporter(inner Reporter, queue Queue) *QueueingReporter {
	return &QueueingReporter{inner: inner, queue: queue}
}

// Report delivers the incident, queueing the payload on failure.
func (q *QueueingReporter) Report(ctx context.Context, inc *Incident) (string, error) {
	backendID, err := q.inner.Report(ctx, inc)
	if err == nil {
		return backendID, nil
	}

	payload, marshalErr := json.Marshal(NewPayload(inc))
	if marshalErr != nil {
		return "", fmt.Errorf("delivery failed (%v) and payload could not be queued: %w", err, marshalErr)
	}
	if queueErr := q.queue.Enqueue(payload); queueErr != nil {
		return "", fmt.Errorf("delivery failed (%v) and queueing failed: %w", err, queueErr)
	}
	monitoring.Logf("report delivery failed, payload queued for retry: %v", err)
	return "", err
}

// Flusher periodically drains the retry queue.
type Flusher struct {
	queue     Queue
	sender    PayloadSender
	clock     timeutil.Clock
	interval  time.Duration
	batchSize int
}

// NewFlusher creates a flusher draining queue through sender every
// interval.
func NewFlusher(queue Queue, sender PayloadSender, clock timeutil.Clock, interval time.Duration) *Flusher {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Flusher{
		queue:     queue,
		sender:    sender,
		clock:     clock,
		interval:  interval,
		batchSize: 10,
	}
}

// Run drains the queue on each tick until ctx is cancelled.
func (f *Flusher) Run(ctx context.Context) {
	ticker := f.clock.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			f.FlushOnce(ctx)
		}
	}
}

// FlushOnce attempts delivery of one batch of pending payloads.
func (f *Flusher) FlushOnce(ctx context.Context) {
	pending, err := f.queue.Pending(f.batchSize)
	if err != nil {
		monitoring.Logf("failed to read report queue: %v", err)
		return
	}

	for _, qr := range pending {
		backendID, err := f.sender.SendPayload(ctx, qr.Payload)
		if err != nil {
			if recErr := f.queue.RecordAttempt(qr.ID, err.Error()); recErr != nil {
				monitoring.Logf("failed to record delivery attempt for queued report %d: %v", qr.ID, recErr)
			}
			continue
		}
		if err := f.queue.MarkReported(qr.ID, backendID); err != nil {
			monitoring.Logf("failed to mark queued report %d delivered: %v", qr.ID, err)
			continue
		}
		monitoring.Logf("delivered queued incident report %d (backend id %q, attempt %d)", qr.ID, backendID, qr.Attempts+1)
	}
}
