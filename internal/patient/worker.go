package patient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	redisclient "github.com/hackgods/clinic-appointment-store/internal/redis"
)

type Source interface {
	Pop(ctx context.Context, wait time.Duration) ([]byte, error)
	DeadLetter(ctx context.Context, payload []byte) error
}

// Worker drains contact tasks into the directory.
type Worker struct {
	src  Source
	dir  Directory
	wait time.Duration
	log  zerolog.Logger
}

func NewWorker(src Source, dir Directory, wait time.Duration, log zerolog.Logger) *Worker {
	return &Worker{
		src:  src,
		dir:  dir,
		wait: wait,
		log:  log.With().Str("component", "contact_worker").Logger(),
	}
}

// RunOnce handles at most one task. It reports false when the queue was empty.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	payload, err := w.src.Pop(ctx, w.wait)
	if err != nil {
		if errors.Is(err, redisclient.ErrQueueEmpty) {
			return false, nil
		}
		return false, err
	}

	var task Task
	if err := json.Unmarshal(payload, &task); err != nil {
		w.log.Error().Err(err).Msg("undecodable contact task, dead-lettering")
		return true, w.deadLetter(ctx, payload)
	}

	p, err := w.dir.UpsertContact(ctx, task.Contact)
	if err != nil {
		w.log.Error().Err(err).Time("queued_at", task.QueuedAt).Msg("contact upsert failed, dead-lettering")
		return true, w.deadLetter(ctx, payload)
	}

	w.log.Info().
		Str("patient_id", p.ID).
		Dur("lag", time.Since(task.QueuedAt)).
		Msg("contact applied")
	return true, nil
}

func (w *Worker) deadLetter(ctx context.Context, payload []byte) error {
	if err := w.src.DeadLetter(context.WithoutCancel(ctx), payload); err != nil {
		return fmt.Errorf("dead-letter contact task: %w", err)
	}
	return nil
}

// Run loops until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if _, err := w.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Error().Err(err).Msg("contact worker iteration failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}
}
