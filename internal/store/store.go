package store

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
)

var (
	ErrNotFound    = errors.New("document not found")
	ErrConflict    = errors.New("document version conflict")
	ErrUnavailable = errors.New("document store unavailable")
)

// Document is one keyed JSON document in a collection. Version is the
// concurrency token maintained by the store; callers hand it back on Upsert.
type Document struct {
	ID      string
	Body    json.RawMessage
	Version int64
}

// Predicate filters documents during a Query. A nil predicate matches all.
type Predicate func(doc *Document) bool

// Store is the document store adapter used by the repositories.
//
// Upsert is a compare-and-swap on the full document: Version 0 means the
// document must not exist yet, any other value must equal the stored
// version. A mismatch returns ErrConflict and nothing is written.
type Store interface {
	Get(ctx context.Context, collection, id string) (*Document, error)
	Query(ctx context.Context, collection string, match Predicate) ([]Document, error)
	Upsert(ctx context.Context, collection string, doc Document) (*Document, error)
	Ping(ctx context.Context) error
	Close() error
}

func unavailable(op string, err error) error {
	return &opError{op: op, err: err}
}

type opError struct {
	op  string
	err error
}

func (e *opError) Error() string {
	return e.op + ": " + ErrUnavailable.Error() + ": " + e.err.Error()
}

func (e *opError) Unwrap() []error {
	return []error{ErrUnavailable, e.err}
}

func sortByID(docs []Document) {
	sort.Slice(docs, func(i, j int) bool {
		return docs[i].ID < docs[j].ID
	})
}

func filter(docs []Document, match Predicate) []Document {
	if match == nil {
		return docs
	}
	out := docs[:0]
	for i := range docs {
		if match(&docs[i]) {
			out = append(out, docs[i])
		}
	}
	return out
}
