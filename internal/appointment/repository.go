package appointment

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"

	redisclient "github.com/hackgods/clinic-appointment-store/internal/redis"
	"github.com/hackgods/clinic-appointment-store/internal/store"
)

var (
	ErrDayNotFound          = errors.New("no appointments found for date")
	ErrRecordNotFound       = errors.New("appointment not found")
	ErrDuplicateAppointment = errors.New("appointment already exists for this doctor and date")
	ErrWriteConflict        = errors.New("day document kept changing underneath the write")
	ErrPartialMove          = errors.New("appointment move incomplete")
	ErrInvariant            = errors.New("day document invariant violated")
	ErrInvalidDate          = errors.New("invalid appointment date")
	ErrMissingDoctor        = errors.New("doctor identity is required")
)

// errSkipWrite lets a Mutation finish successfully without writing.
var errSkipWrite = errors.New("skip write")

// Mutation computes the next entries of a day from a private copy of the
// current document. It can run more than once when writers collide, so it
// must not have side effects beyond assigning captured results.
type Mutation func(cur *DayDocument) ([]Record, error)

// DayRepository implements the read-modify-write protocol over day documents.
type DayRepository struct {
	store      store.Store
	collection string
	locker     redisclient.Locker
	attempts   int
	backoff    time.Duration
	log        zerolog.Logger
}

func NewDayRepository(st store.Store, collection string, locker redisclient.Locker, attempts int, log zerolog.Logger) *DayRepository {
	if locker == nil {
		locker = redisclient.NopLocker{}
	}
	if attempts < 1 {
		attempts = 1
	}
	return &DayRepository{
		store:      st,
		collection: collection,
		locker:     locker,
		attempts:   attempts,
		backoff:    20 * time.Millisecond,
		log:        log.With().Str("component", "day_repository").Logger(),
	}
}

// LoadDay returns the day document, or an empty one that does not exist yet.
func (r *DayRepository) LoadDay(ctx context.Context, day string) (*DayDocument, error) {
	doc, err := r.store.Get(ctx, r.collection, day)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &DayDocument{ID: day}, nil
		}
		return nil, fmt.Errorf("load day %s: %w", day, err)
	}
	return decodeDay(doc)
}

// ReplaceDay overwrites the whole day document. d.Version must be the
// version it was loaded at; a stale version fails with store.ErrConflict.
func (r *DayRepository) ReplaceDay(ctx context.Context, d *DayDocument) (*DayDocument, error) {
	body, err := d.encode()
	if err != nil {
		return nil, fmt.Errorf("encode day %s: %w", d.ID, err)
	}

	saved, err := r.store.Upsert(ctx, r.collection, store.Document{
		ID:      d.ID,
		Body:    body,
		Version: d.Version,
	})
	if err != nil {
		return nil, fmt.Errorf("replace day %s: %w", d.ID, err)
	}

	return &DayDocument{
		ID:      d.ID,
		Entries: d.Entries,
		Version: saved.Version,
		exists:  true,
	}, nil
}

// MutateDay loads the day, applies fn and writes the result back, retrying
// the whole cycle when another writer got there first.
func (r *DayRepository) MutateDay(ctx context.Context, day string, fn Mutation) (*DayDocument, error) {
	var result *DayDocument

	for attempt := 1; ; attempt++ {
		err := r.locker.WithDayLock(ctx, day, func(lockCtx context.Context) error {
			cur, err := r.LoadDay(lockCtx, day)
			if err != nil {
				return err
			}

			next, err := fn(cur.clone())
			if errors.Is(err, errSkipWrite) {
				result = cur
				return nil
			}
			if err != nil {
				return err
			}

			if err := checkInvariants(day, cur.Entries, next); err != nil {
				return err
			}

			saved, err := r.ReplaceDay(lockCtx, &DayDocument{ID: day, Entries: next, Version: cur.Version})
			if err != nil {
				return err
			}
			result = saved
			return nil
		})
		if err == nil {
			return result, nil
		}
		if !retryable(err) {
			return nil, err
		}
		if attempt >= r.attempts {
			return nil, fmt.Errorf("mutate day %s after %d attempts: %w: %w", day, attempt, ErrWriteConflict, err)
		}

		r.log.Debug().
			Str("day", day).
			Int("attempt", attempt).
			Err(err).
			Msg("day write collided, retrying")

		if err := r.sleep(ctx, attempt); err != nil {
			return nil, err
		}
	}
}

func retryable(err error) bool {
	return errors.Is(err, store.ErrConflict) || errors.Is(err, redisclient.ErrLockNotAcquired)
}

func (r *DayRepository) sleep(ctx context.Context, attempt int) error {
	base := r.backoff * time.Duration(attempt)
	if base <= 0 {
		return ctx.Err()
	}
	d := base/2 + rand.N(base)

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
