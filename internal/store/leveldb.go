package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelStore is the embedded backend. Keys are "<collection>/<id>" and values
// a JSON envelope carrying the version next to the body. Compare-and-swap is
// enforced under a process-wide mutex, so it is only safe for one process.
type LevelStore struct {
	db *leveldb.DB
	mu sync.Mutex
}

type levelEnvelope struct {
	Version int64           `json:"version"`
	Body    json.RawMessage `json:"body"`
}

func NewLevelStore(db *leveldb.DB) *LevelStore {
	return &LevelStore{db: db}
}

func levelKey(collection, id string) []byte {
	return []byte(collection + "/" + id)
}

func (s *LevelStore) Get(_ context.Context, collection, id string) (*Document, error) {
	env, err := s.read(collection, id)
	if err != nil {
		return nil, err
	}
	return &Document{ID: id, Body: env.Body, Version: env.Version}, nil
}

func (s *LevelStore) read(collection, id string) (*levelEnvelope, error) {
	raw, err := s.db.Get(levelKey(collection, id), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, unavailable("get "+collection, err)
	}

	var env levelEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, unavailable("decode "+collection+"/"+id, err)
	}
	return &env, nil
}

func (s *LevelStore) Query(_ context.Context, collection string, match Predicate) ([]Document, error) {
	prefix := collection + "/"
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()

	var docs []Document
	for iter.Next() {
		var env levelEnvelope
		if err := json.Unmarshal(iter.Value(), &env); err != nil {
			return nil, unavailable("decode "+string(iter.Key()), err)
		}
		docs = append(docs, Document{
			ID:      strings.TrimPrefix(string(iter.Key()), prefix),
			Body:    append(json.RawMessage(nil), env.Body...),
			Version: env.Version,
		})
	}
	if err := iter.Error(); err != nil {
		return nil, unavailable("query "+collection, err)
	}

	sortByID(docs)
	return filter(docs, match), nil
}

func (s *LevelStore) Upsert(_ context.Context, collection string, doc Document) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	env, err := s.read(collection, doc.ID)
	switch {
	case err == nil:
		current = env.Version
	case errors.Is(err, ErrNotFound):
	default:
		return nil, err
	}
	if current != doc.Version {
		return nil, ErrConflict
	}

	next := levelEnvelope{Version: current + 1, Body: doc.Body}
	raw, err := json.Marshal(next)
	if err != nil {
		return nil, err
	}
	if err := s.db.Put(levelKey(collection, doc.ID), raw, nil); err != nil {
		return nil, unavailable("put "+collection, err)
	}

	return &Document{ID: doc.ID, Body: doc.Body, Version: next.Version}, nil
}

func (s *LevelStore) Ping(_ context.Context) error {
	_, err := s.db.GetProperty("leveldb.num-files-at-level0")
	return err
}

func (s *LevelStore) Close() error {
	return s.db.Close()
}
