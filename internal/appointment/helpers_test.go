package appointment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"

	"github.com/hackgods/clinic-appointment-store/internal/config"
	"github.com/hackgods/clinic-appointment-store/internal/patient"
	"github.com/hackgods/clinic-appointment-store/internal/store"
)

const testCollection = "seismic_appointments"

var fixedNow = time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)

func newTestStore(t *testing.T) *faultyStore {
	t.Helper()
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		t.Fatalf("open leveldb: %v", err)
	}
	st := &faultyStore{Store: store.NewLevelStore(db)}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newTestService(t *testing.T, st store.Store) (*Service, *DayRepository, *recordingDispatcher) {
	t.Helper()
	repo := NewDayRepository(st, testCollection, nil, 5, zerolog.Nop())
	repo.backoff = time.Millisecond

	contacts := &recordingDispatcher{}
	svc := NewService(repo, contacts, config.Config{DefaultPracticeID: "12345"}, zerolog.Nop())
	svc.now = func() time.Time { return fixedNow }
	return svc, repo, contacts
}

// faultyStore injects version conflicts and outages into Upsert per document id.
type faultyStore struct {
	store.Store

	mu        sync.Mutex
	conflicts map[string]int
	down      map[string]bool
	upserts   int
}

func (f *faultyStore) conflictNext(id string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conflicts == nil {
		f.conflicts = make(map[string]int)
	}
	f.conflicts[id] = n
}

func (f *faultyStore) setDown(id string, down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down == nil {
		f.down = make(map[string]bool)
	}
	f.down[id] = down
}

func (f *faultyStore) Upsert(ctx context.Context, collection string, doc store.Document) (*store.Document, error) {
	f.mu.Lock()
	f.upserts++
	if f.down[doc.ID] {
		f.mu.Unlock()
		return nil, store.ErrUnavailable
	}
	if f.conflicts[doc.ID] > 0 {
		f.conflicts[doc.ID]--
		f.mu.Unlock()
		return nil, store.ErrConflict
	}
	f.mu.Unlock()
	return f.Store.Upsert(ctx, collection, doc)
}

func (f *faultyStore) upsertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upserts
}

type recordingDispatcher struct {
	mu       sync.Mutex
	contacts []patient.Contact
}

func (d *recordingDispatcher) Dispatch(_ context.Context, c patient.Contact) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.contacts = append(d.contacts, c)
	return nil
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.contacts)
}

// putRawDay writes a day document body as-is, bypassing the repository.
func putRawDay(t *testing.T, st store.Store, day, body string) {
	t.Helper()
	if _, err := st.Upsert(context.Background(), testCollection, store.Document{ID: day, Body: []byte(body)}); err != nil {
		t.Fatalf("put raw day %s: %v", day, err)
	}
}

func countOnDay(t *testing.T, repo *DayRepository, day, id string) int {
	t.Helper()
	d, err := repo.LoadDay(context.Background(), day)
	if err != nil {
		t.Fatalf("load day %s: %v", day, err)
	}
	n := 0
	for _, e := range d.Entries {
		if e.AppointmentID == id {
			n++
		}
	}
	return n
}
