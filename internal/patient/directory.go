package patient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hackgods/clinic-appointment-store/internal/store"
)

var (
	ErrPatientNotFound   = errors.New("patient not found")
	ErrIncompleteContact = errors.New("contact has no patient name")
)

// Directory is the patient-profile service updated after appointment edits.
type Directory interface {
	UpsertContact(ctx context.Context, c Contact) (*Profile, error)
}

// StoreDirectory keeps profiles in a document store collection.
type StoreDirectory struct {
	store      store.Store
	collection string
	attempts   int
	now        func() time.Time
}

func NewStoreDirectory(st store.Store, collection string) *StoreDirectory {
	return &StoreDirectory{
		store:      st,
		collection: collection,
		attempts:   5,
		now:        time.Now,
	}
}

func (d *StoreDirectory) Get(ctx context.Context, id string) (*Profile, error) {
	doc, err := d.store.Get(ctx, d.collection, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrPatientNotFound
		}
		return nil, fmt.Errorf("get patient %s: %w", id, err)
	}

	var p Profile
	if err := json.Unmarshal(doc.Body, &p); err != nil {
		return nil, fmt.Errorf("decode patient %s: %w", id, err)
	}
	return &p, nil
}

func (d *StoreDirectory) UpsertContact(ctx context.Context, c Contact) (*Profile, error) {
	c = c.Normalize()
	id := c.Key()
	if id == "" {
		return nil, ErrIncompleteContact
	}

	var lastErr error
	for attempt := 0; attempt < d.attempts; attempt++ {
		p, err := d.upsertOnce(ctx, id, c)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("upsert patient %s: %w", id, lastErr)
}

func (d *StoreDirectory) upsertOnce(ctx context.Context, id string, c Contact) (*Profile, error) {
	now := d.now().UTC()

	var (
		p       Profile
		version int64
	)
	doc, err := d.store.Get(ctx, d.collection, id)
	switch {
	case err == nil:
		if err := json.Unmarshal(doc.Body, &p); err != nil {
			return nil, fmt.Errorf("decode patient %s: %w", id, err)
		}
		version = doc.Version
	case errors.Is(err, store.ErrNotFound):
		p = Profile{ID: id, CreatedAt: now}
	default:
		return nil, fmt.Errorf("load patient %s: %w", id, err)
	}

	p.merge(c)
	p.UpdatedAt = now

	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode patient %s: %w", id, err)
	}
	if _, err := d.store.Upsert(ctx, d.collection, store.Document{ID: id, Body: body, Version: version}); err != nil {
		return nil, fmt.Errorf("write patient %s: %w", id, err)
	}
	return &p, nil
}
