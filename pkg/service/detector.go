package service

import (
	"time"

	"github.com/mlbrnm/incidentgpt/pkg/models"
	"github.com/mlbrnm/incidentgpt/pkg/storage"
	"github.com/pkg/errors"
)

// DetectResult reports what one pull changed. Generate lists the keys that need a
// new solution, in pull order.
type DetectResult struct {
	Source    models.Source `json:"source"`
	Inserted  []string      `json:"inserted"`
	Changed   []string      `json:"changed"`
	Unchanged []string      `json:"unchanged"`
	Archived  []string      `json:"archived"`
	Skipped   []string      `json:"skipped"`
	Errors    []error       `json:"-"`
}

// Generate returns the inserted and changed keys.
func (r DetectResult) Generate() []string {
	keys := make([]string, 0, len(r.Inserted)+len(r.Changed))
	keys = append(keys, r.Inserted...)
	return append(keys, r.Changed...)
}

// Updated returns every key whose stored row was created, changed or archived.
func (r DetectResult) Updated() []string {
	return append(r.Generate(), r.Archived...)
}

type ChangeDetector struct {
	store  storage.Store
	logger Logger
	now    func() time.Time
}

func NewChangeDetector(store storage.Store, logger Logger) *ChangeDetector {
	return &ChangeDetector{store: store, logger: logger, now: time.Now}
}

type outcome int

const (
	inserted outcome = iota
	changed
	unchanged
	skipped
)

// Detect diffs one full pull of source against the store. Items missing from the
// pull are archived first, then every pulled item is upserted in its own transaction.
// A store error only affects the item it occurred on.
func (d *ChangeDetector) Detect(source models.Source, items []models.RawItem) DetectResult {
	res := DetectResult{Source: source}
	now := d.now()

	current := make(map[string]struct{}, len(items))
	for _, it := range items {
		current[it.Key] = struct{}{}
	}

	activeKeys, err := d.store.ListActiveKeys(source)
	if err != nil {
		d.logger.Errorf("Failed to list active %s items, skipping archive step: %v", source, err)
		res.Errors = append(res.Errors, err)
	}
	for _, key := range activeKeys {
		if _, ok := current[key]; ok {
			continue
		}
		err := withTx(d.store, d.logger, func(tx storage.Store) error {
			return tx.Archive(key, now)
		})
		if err != nil {
			d.logger.Errorf("Failed to archive %s: %v", key, err)
			res.Errors = append(res.Errors, errors.WithMessagef(err, "archive %s", key))
			continue
		}
		d.logger.Infof("Archived %s item %s", source, key)
		res.Archived = append(res.Archived, key)
	}

	seen := make(map[string]struct{}, len(items))
	for _, raw := range items {
		if _, dup := seen[raw.Key]; dup {
			d.logger.Warnf("Duplicate %s item %s in pull, keeping the first", source, raw.Key)
			continue
		}
		seen[raw.Key] = struct{}{}

		o, err := d.apply(raw.ToWorkItem(source, now))
		if err != nil {
			d.logger.Errorf("Failed to store %s item %s: %v", source, raw.Key, err)
			res.Errors = append(res.Errors, errors.WithMessagef(err, "upsert %s", raw.Key))
			continue
		}
		switch o {
		case inserted:
			res.Inserted = append(res.Inserted, raw.Key)
		case changed:
			res.Changed = append(res.Changed, raw.Key)
		case unchanged:
			res.Unchanged = append(res.Unchanged, raw.Key)
		case skipped:
			d.logger.Warnf("%s item %s is archived but reappeared in the pull; leaving it archived", source, raw.Key)
			res.Skipped = append(res.Skipped, raw.Key)
		}
	}
	return res
}

func (d *ChangeDetector) apply(item models.WorkItem) (o outcome, err error) {
	err = withTx(d.store, d.logger, func(tx storage.Store) error {
		stored, err := tx.GetItem(item.Key)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			o = inserted
		case err != nil:
			return err
		case stored.Archived:
			o = skipped
			return nil
		case stored.Changed(item):
			o = changed
		default:
			o = unchanged
		}
		return tx.UpsertItem(item)
	})
	return o, err
}
