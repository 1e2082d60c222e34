package patient

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	redisclient "github.com/hackgods/clinic-appointment-store/internal/redis"
)

// memQueue is an in-process stand-in for the redis contact queue.
type memQueue struct {
	mu    sync.Mutex
	items [][]byte
	dead  [][]byte
}

func (q *memQueue) Push(_ context.Context, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, payload)
	return nil
}

func (q *memQueue) Pop(_ context.Context, _ time.Duration) ([]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, redisclient.ErrQueueEmpty
	}
	p := q.items[0]
	q.items = q.items[1:]
	return p, nil
}

func (q *memQueue) DeadLetter(_ context.Context, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dead = append(q.dead, payload)
	return nil
}

type failingDirectory struct{}

func (failingDirectory) UpsertContact(context.Context, Contact) (*Profile, error) {
	return nil, errors.New("directory down")
}

func TestQueueDispatcher_EnqueuesTask(t *testing.T) {
	q := &memQueue{}
	d := NewQueueDispatcher(q)

	if err := d.Dispatch(context.Background(), Contact{FirstName: "Ada", LastName: "Lovelace"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(q.items) != 1 {
		t.Fatalf("expected one queued task, got %d", len(q.items))
	}

	var task Task
	if err := json.Unmarshal(q.items[0], &task); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	if task.Contact.LastName != "Lovelace" || task.QueuedAt.IsZero() {
		t.Errorf("unexpected task %+v", task)
	}
}

func TestWorker_AppliesQueuedContact(t *testing.T) {
	q := &memQueue{}
	dir := newTestDirectory(t)
	w := NewWorker(q, dir, time.Millisecond, zerolog.Nop())
	ctx := context.Background()

	c := Contact{FirstName: "Ada", LastName: "Lovelace", DOB: "1815-12-10"}
	if err := NewQueueDispatcher(q).Dispatch(ctx, c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	handled, err := w.RunOnce(ctx)
	if err != nil || !handled {
		t.Fatalf("expected a handled task, got %v (%v)", handled, err)
	}
	if _, err := dir.Get(ctx, c.Key()); err != nil {
		t.Errorf("expected profile stored: %v", err)
	}

	handled, err = w.RunOnce(ctx)
	if err != nil || handled {
		t.Errorf("expected empty queue, got %v (%v)", handled, err)
	}
}

func TestWorker_DeadLetters(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		dir     Directory
	}{
		{"undecodable", []byte("{not json"), failingDirectory{}},
		{"directory failure", []byte(`{"contact":{"first_name":"Ada","last_name":"Lovelace"}}`), failingDirectory{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &memQueue{items: [][]byte{tt.payload}}
			w := NewWorker(q, tt.dir, time.Millisecond, zerolog.Nop())

			handled, err := w.RunOnce(context.Background())
			if err != nil || !handled {
				t.Fatalf("expected handled, got %v (%v)", handled, err)
			}
			if len(q.dead) != 1 || string(q.dead[0]) != string(tt.payload) {
				t.Errorf("expected payload dead-lettered, got %q", q.dead)
			}
		})
	}
}

func TestInlineDispatcher_UpsertsInBackground(t *testing.T) {
	dir := newTestDirectory(t)
	d := NewInlineDispatcher(dir, time.Second, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	c := Contact{FirstName: "Ada", LastName: "Lovelace", DOB: "1815-12-10"}
	if err := d.Dispatch(ctx, c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// the follow-up outlives the request that triggered it
	cancel()
	d.Wait()

	if _, err := dir.Get(context.Background(), c.Key()); err != nil {
		t.Errorf("expected profile stored: %v", err)
	}
}

func TestInlineDispatcher_FailureIsNotReturned(t *testing.T) {
	d := NewInlineDispatcher(failingDirectory{}, time.Second, zerolog.Nop())
	if err := d.Dispatch(context.Background(), Contact{FirstName: "Ada"}); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	d.Wait()
}
