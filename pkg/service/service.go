package service

import (
	"context"

	"github.com/mlbrnm/incidentgpt/pkg/models"
	"github.com/mlbrnm/incidentgpt/pkg/storage"
	"github.com/pkg/errors"
)

// Logger defines the logging interface for the pipeline services
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Source pulls the full set of currently open items from one upstream system.
type Source interface {
	Name() models.Source
	Pull(ctx context.Context) ([]models.RawItem, error)
}

// Notifier fans events out to subscribers. Emit must not block.
type Notifier interface {
	Emit(event models.Event)
}

type nopNotifier struct{}

func (nopNotifier) Emit(models.Event) {}

// withTx runs fn inside a store transaction, committing on success and rolling
// back when fn returns an error.
func withTx(store storage.Store, logger Logger, fn func(tx storage.Store) error) (err error) {
	txStore, err := store.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				logger.Errorf("Failed to rollback after error: %v (original error: %v)", rollbackErr, err)
			}
			return
		}
		if commitErr := txStore.Commit(); commitErr != nil {
			logger.Errorf("Failed to commit: %v", commitErr)
			err = commitErr
		}
	}()
	return fn(txStore)
}
