package storage

import (
	"fmt"

	"github.com/mlbrnm/incidentgpt/pkg/storage"
)

const DriverMemory = "memory"

// InitStore opens the store for driver, applying migrations first when migrateUp is set.
func InitStore(driver, dsn string, migrateUp bool) (storage.Store, error) {
	switch driver {
	case DriverMemory:
		return storage.NewMemoryStore(), nil
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unknown store driver %q (want postgres, sqlite or memory)", driver)
	}
	if migrateUp {
		if err := Migrate(driver, dsn); err != nil {
			return nil, err
		}
	}
	store, err := NewSQLStore(driver, dsn)
	if err != nil {
		return nil, err
	}
	return store, nil
}
