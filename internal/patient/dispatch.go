package patient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Dispatcher hands a contact update off to be applied outside the
// appointment write. Failures of the update itself travel on the
// dispatcher's own channel (logs, dead-letter list), not back to the caller.
type Dispatcher interface {
	Dispatch(ctx context.Context, c Contact) error
}

// Task is the queued form of a contact update.
type Task struct {
	Contact  Contact   `json:"contact"`
	QueuedAt time.Time `json:"queued_at"`
	Source   string    `json:"source,omitempty"`
}

type Enqueuer interface {
	Push(ctx context.Context, payload []byte) error
}

// QueueDispatcher serializes tasks onto a queue drained by the contact worker.
type QueueDispatcher struct {
	queue Enqueuer
	now   func() time.Time
}

func NewQueueDispatcher(q Enqueuer) *QueueDispatcher {
	return &QueueDispatcher{queue: q, now: time.Now}
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, c Contact) error {
	payload, err := json.Marshal(Task{Contact: c, QueuedAt: d.now().UTC(), Source: "appointment_update"})
	if err != nil {
		return fmt.Errorf("encode contact task: %w", err)
	}
	return d.queue.Push(ctx, payload)
}

// InlineDispatcher applies updates in a background goroutine. It is the
// fallback when no queue is configured.
type InlineDispatcher struct {
	dir     Directory
	timeout time.Duration
	log     zerolog.Logger
	wg      sync.WaitGroup
}

func NewInlineDispatcher(dir Directory, timeout time.Duration, log zerolog.Logger) *InlineDispatcher {
	return &InlineDispatcher{
		dir:     dir,
		timeout: timeout,
		log:     log.With().Str("component", "contact_sync").Logger(),
	}
}

func (d *InlineDispatcher) Dispatch(ctx context.Context, c Contact) error {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()

		p, err := d.dir.UpsertContact(runCtx, c)
		if err != nil {
			d.log.Warn().Err(err).Str("last_name", c.LastName).Msg("patient contact upsert failed")
			return
		}
		d.log.Debug().Str("patient_id", p.ID).Msg("patient contact upserted")
	}()
	return nil
}

// Wait blocks until every dispatched update has finished.
func (d *InlineDispatcher) Wait() {
	d.wg.Wait()
}
