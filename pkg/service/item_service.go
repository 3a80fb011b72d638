package service

import (
	"github.com/mlbrnm/incidentgpt/pkg/models"
	"github.com/mlbrnm/incidentgpt/pkg/storage"
	"github.com/pkg/errors"
)

// ItemService serves listings, history and operator actions on stored items.
type ItemService struct {
	store    storage.Store
	notifier Notifier
	logger   Logger
}

func NewItemService(store storage.Store, notifier Notifier, logger Logger) *ItemService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &ItemService{
		store:    store,
		notifier: notifier,
		logger:   logger,
	}
}

func (s *ItemService) ListActive() ([]models.ItemView, error) {
	return s.store.ListActive()
}

func (s *ItemService) ListArchived() ([]models.ItemView, error) {
	return s.store.ListArchived()
}

// GetItem returns the item together with its latest solution.
func (s *ItemService) GetItem(key string) (models.ItemView, error) {
	item, err := s.store.GetItem(key)
	if err != nil {
		return models.ItemView{}, err
	}
	view := models.ItemView{WorkItem: item}
	history, err := s.store.GetSolutionHistory(key)
	if err != nil {
		return models.ItemView{}, err
	}
	if len(history) > 0 {
		view.Solution = &history[0].Text
		view.GeneratedAt = &history[0].GeneratedAt
	}
	return view, nil
}

// GetSolutionHistory returns every solution generated for key, newest first.
func (s *ItemService) GetSolutionHistory(key string) ([]models.Solution, error) {
	if _, err := s.store.GetItem(key); err != nil {
		return nil, err
	}
	return s.store.GetSolutionHistory(key)
}

// DeleteItem removes an item and its solution history.
func (s *ItemService) DeleteItem(key string) (err error) {
	txStore, err := s.store.Begin()
	if err != nil {
		s.logger.Errorf("Failed to begin transaction for DeleteItem: %v", err)
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				s.logger.Errorf("Failed to rollback: %v", rollbackErr)
			}
			return
		}
		if commitErr := txStore.Commit(); commitErr != nil {
			s.logger.Errorf("Failed to commit: %v", commitErr)
			err = commitErr
			return
		}
		s.notifier.Emit(models.Event{Kind: models.ItemDeletedEvent, Key: key})
	}()

	if err = txStore.Delete(key); err != nil {
		return err
	}
	s.logger.Infof("Deleted item %s and its solution history", key)
	return nil
}
