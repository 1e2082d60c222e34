package db

import (
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

// OpenLevelDB opens the embedded database at path. An empty path gives an
// in-memory database that disappears with the process.
func OpenLevelDB(path string) (*leveldb.DB, error) {
	if path == "" {
		db, err := leveldb.Open(storage.NewMemStorage(), nil)
		if err != nil {
			return nil, fmt.Errorf("open in-memory leveldb: %w", err)
		}
		return db, nil
	}

	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return db, nil
}
