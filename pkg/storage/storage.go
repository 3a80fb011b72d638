package storage

import (
	"errors"
	"time"

	"github.com/mlbrnm/incidentgpt/pkg/models"
)

var ErrNotFound = errors.New("not found")

// Store defines the storage operations for work items and their solution history.
// A Store returned by Begin is bound to one transaction; every other method may be
// called on either the root store or a transaction.
type Store interface {
	Begin() (Store, error)
	Commit() error
	Rollback() error
	Close() error

	// Item operations
	UpsertItem(item models.WorkItem) error
	GetItem(key string) (models.WorkItem, error)
	ListActive() ([]models.ItemView, error)
	ListArchived() ([]models.ItemView, error)
	ListActiveKeys(source models.Source) ([]string, error)
	Archive(key string, at time.Time) error
	Delete(key string) error

	// Solution operations
	AppendSolution(s models.Solution) (int64, error)
	GetSolutionHistory(key string) ([]models.Solution, error)
	CountSolutions(key string) (int, error)
}
