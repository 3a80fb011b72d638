package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mlbrnm/incidentgpt/pkg/models"
	"github.com/mlbrnm/incidentgpt/pkg/storage"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

type DBInterface interface {
	Get(dest interface{}, query string, args ...interface{}) error
	Select(dest interface{}, query string, args ...interface{}) error
	QueryRowx(query string, args ...interface{}) *sqlx.Row
	Exec(query string, args ...interface{}) (sql.Result, error)
	Rebind(query string) string
}

// SQLStore implements storage.Store over Postgres or SQLite. Queries are written
// with '?' placeholders and rebound for the active driver.
type SQLStore struct {
	db     DBInterface
	driver string
}

func NewSQLStore(driver, dsn string) (*SQLStore, error) {
	if driver == DriverSQLite {
		dsn = SQLiteDSN(dsn)
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == DriverSQLite {
		// one writer at a time; waiting callers queue in the pool
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLStore{db: db, driver: driver}, nil
}

// SQLiteDSN turns a database file path into a modernc DSN with a bounded busy wait.
func SQLiteDSN(path string) string {
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(30000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_time_format=sqlite", path)
}

func (s *SQLStore) Driver() string {
	return s.driver
}

func (s *SQLStore) Begin() (storage.Store, error) {
	if db, ok := s.db.(*sqlx.DB); ok {
		tx, err := db.Beginx()
		if err != nil {
			return nil, classify(err)
		}
		return &SQLStore{db: tx, driver: s.driver}, nil
	}
	return nil, fmt.Errorf("cannot begin transaction on unknown type")
}

func (s *SQLStore) Commit() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return classify(tx.Commit())
	}
	return fmt.Errorf("cannot commit: not a transaction")
}

func (s *SQLStore) Rollback() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Rollback()
	}
	return fmt.Errorf("cannot rollback: not a transaction")
}

func (s *SQLStore) Close() error {
	if db, ok := s.db.(*sqlx.DB); ok {
		return db.Close()
	}
	return nil // No-op for *sqlx.Tx
}

// UpsertItem inserts a new item or refreshes an existing one. Archive columns are
// never touched here, so an archived item stays archived.
func (s *SQLStore) UpsertItem(item models.WorkItem) error {
	_, err := s.db.Exec(s.db.Rebind(`
		INSERT INTO items (item_key, source, description, short_description, context_tag,
			status, work_notes, opened_at, last_updated, url, archived)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (item_key) DO UPDATE SET
			source = excluded.source,
			description = excluded.description,
			short_description = excluded.short_description,
			context_tag = excluded.context_tag,
			status = excluded.status,
			work_notes = excluded.work_notes,
			opened_at = excluded.opened_at,
			last_updated = excluded.last_updated,
			url = excluded.url`),
		item.Key, item.Source, item.Description, item.ShortDescription, item.ContextTag,
		item.Status, item.WorkNotes, utcPtr(item.OpenedAt), item.LastUpdated.UTC(), item.URL, false)
	if err != nil {
		return fmt.Errorf("upsert item %s: %w", item.Key, classify(err))
	}
	return nil
}

const itemColumns = `i.item_key, i.source, i.description, i.short_description, i.context_tag,
	i.status, i.work_notes, i.opened_at, i.last_updated, i.url, i.archived, i.resolved_at`

func (s *SQLStore) GetItem(key string) (models.WorkItem, error) {
	var item models.WorkItem
	err := s.db.Get(&item, s.db.Rebind("SELECT "+itemColumns+" FROM items i WHERE i.item_key = ?"), key)
	if err == sql.ErrNoRows {
		return models.WorkItem{}, storage.ErrNotFound
	}
	if err != nil {
		return models.WorkItem{}, fmt.Errorf("get item %s: %w", key, err)
	}
	return item, nil
}

func (s *SQLStore) ListActive() ([]models.ItemView, error) {
	return s.listItems(false)
}

func (s *SQLStore) ListArchived() ([]models.ItemView, error) {
	return s.listItems(true)
}

// listItems joins every item with its most recent solution (generated_at, then id).
func (s *SQLStore) listItems(archived bool) ([]models.ItemView, error) {
	views := []models.ItemView{}
	query := `
		SELECT ` + itemColumns + `, s.solution, s.generated_at
		FROM items i
		LEFT JOIN solutions s ON s.id = (
			SELECT s2.id FROM solutions s2
			WHERE s2.item_key = i.item_key
			ORDER BY s2.generated_at DESC, s2.id DESC
			LIMIT 1
		)
		WHERE i.archived = ?
		ORDER BY i.last_updated DESC, i.item_key`
	if err := s.db.Select(&views, s.db.Rebind(query), archived); err != nil {
		return nil, fmt.Errorf("list items (archived=%t): %w", archived, err)
	}
	return views, nil
}

func (s *SQLStore) ListActiveKeys(source models.Source) ([]string, error) {
	keys := []string{}
	err := s.db.Select(&keys, s.db.Rebind("SELECT item_key FROM items WHERE archived = ? AND source = ? ORDER BY item_key"), false, source)
	if err != nil {
		return nil, fmt.Errorf("list active keys for %s: %w", source, err)
	}
	return keys, nil
}

// Archive marks an item resolved. Archiving an archived item keeps its first resolved_at.
func (s *SQLStore) Archive(key string, at time.Time) error {
	res, err := s.db.Exec(s.db.Rebind("UPDATE items SET archived = ?, resolved_at = ? WHERE item_key = ? AND archived = ?"),
		true, at.UTC(), key, false)
	if err != nil {
		return fmt.Errorf("archive item %s: %w", key, classify(err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		if _, err := s.GetItem(key); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes an item together with its solution history.
func (s *SQLStore) Delete(key string) error {
	if _, err := s.db.Exec(s.db.Rebind("DELETE FROM solutions WHERE item_key = ?"), key); err != nil {
		return fmt.Errorf("delete solutions of %s: %w", key, classify(err))
	}
	res, err := s.db.Exec(s.db.Rebind("DELETE FROM items WHERE item_key = ?"), key)
	if err != nil {
		return fmt.Errorf("delete item %s: %w", key, classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *SQLStore) AppendSolution(sol models.Solution) (int64, error) {
	var id int64
	err := s.db.QueryRowx(s.db.Rebind(`
		INSERT INTO solutions (item_key, solution, generated_at, work_notes_snapshot, rag_context)
		VALUES (?, ?, ?, ?, ?) RETURNING id`),
		sol.ItemKey, sol.Text, sol.GeneratedAt.UTC(), sol.WorkNotesSnapshot, sol.Context).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("append solution for %s: %w", sol.ItemKey, classify(err))
	}
	return id, nil
}

func (s *SQLStore) GetSolutionHistory(key string) ([]models.Solution, error) {
	history := []models.Solution{}
	err := s.db.Select(&history, s.db.Rebind(`
		SELECT id, item_key, solution, generated_at, work_notes_snapshot, rag_context
		FROM solutions
		WHERE item_key = ?
		ORDER BY generated_at DESC, id DESC`), key)
	if err != nil {
		return nil, fmt.Errorf("get solution history for %s: %w", key, err)
	}
	return history, nil
}

func (s *SQLStore) CountSolutions(key string) (int, error) {
	var count int
	if err := s.db.Get(&count, s.db.Rebind("SELECT COUNT(*) FROM solutions WHERE item_key = ?"), key); err != nil {
		return 0, fmt.Errorf("count solutions for %s: %w", key, err)
	}
	return count, nil
}

// classify tags lock conflicts and busy timeouts with models.ErrStoreContention.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01", "55P03":
			return fmt.Errorf("%w: %v", models.ErrStoreContention, err)
		}
		return err
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%w: %v", models.ErrStoreContention, err)
		}
	}
	return err
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
