package db

import (
	"context"
	"fmt"

	"github.com/hackgods/clinic-appointment-store/internal/config"
	"github.com/hackgods/clinic-appointment-store/internal/store"
)

// OpenStore connects the document store backend named by cfg.StoreDriver.
func OpenStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := ConnectPostgres(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
		if err != nil {
			return nil, err
		}
		return store.NewPgStore(pool), nil
	case config.DriverMongo:
		client, err := ConnectMongo(ctx, cfg.MongoURI)
		if err != nil {
			return nil, err
		}
		return store.NewMongoStore(client, cfg.MongoDatabase), nil
	case config.DriverLevelDB:
		ldb, err := OpenLevelDB(cfg.LevelDBPath)
		if err != nil {
			return nil, err
		}
		return store.NewLevelStore(ldb), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
