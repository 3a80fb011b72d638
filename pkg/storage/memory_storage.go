package storage

import (
	"sort"
	"sync"
	"time"

	"github.com/mlbrnm/incidentgpt/pkg/models"
	"github.com/pkg/errors"
)

type memState struct {
	items     map[string]models.WorkItem
	solutions []models.Solution
	nextID    int64 // For solution IDs
}

func (st *memState) clone() *memState {
	c := &memState{
		items:     make(map[string]models.WorkItem, len(st.items)),
		solutions: make([]models.Solution, len(st.solutions)),
		nextID:    st.nextID,
	}
	for k, v := range st.items {
		c.items[k] = v
	}
	copy(c.solutions, st.solutions)
	return c
}

type memRoot struct {
	mu    sync.Mutex
	state *memState
}

// memoryStore implements Store in memory. Transactions hold the store lock from
// Begin until Commit or Rollback and work on a private copy of the state, so a
// rollback discards every write made through the transaction.
type memoryStore struct {
	root *memRoot
	tx   *memState // non-nil when bound to a transaction
	done bool      // Transaction state
}

func NewMemoryStore() Store {
	return &memoryStore{root: &memRoot{state: &memState{items: make(map[string]models.WorkItem)}}}
}

func (m *memoryStore) Begin() (Store, error) {
	if m.tx != nil {
		return nil, errors.New("nested transactions are not supported")
	}
	m.root.mu.Lock()
	return &memoryStore{root: m.root, tx: m.root.state.clone()}, nil
}

func (m *memoryStore) Commit() error {
	if m.tx == nil {
		return errors.New("cannot commit: not a transaction")
	}
	if m.done {
		return errors.New("transaction already finished")
	}
	m.done = true
	m.root.state = m.tx
	m.root.mu.Unlock()
	return nil
}

func (m *memoryStore) Rollback() error {
	if m.tx == nil {
		return errors.New("cannot rollback: not a transaction")
	}
	if m.done {
		return errors.New("transaction already finished")
	}
	m.done = true
	m.root.mu.Unlock()
	return nil
}

func (m *memoryStore) Close() error {
	return nil
}

// with runs fn against the transaction state, or against the shared state under the lock.
func (m *memoryStore) with(fn func(st *memState) error) error {
	if m.tx != nil {
		if m.done {
			return errors.New("transaction already finished")
		}
		return fn(m.tx)
	}
	m.root.mu.Lock()
	defer m.root.mu.Unlock()
	return fn(m.root.state)
}

func (m *memoryStore) UpsertItem(item models.WorkItem) error {
	return m.with(func(st *memState) error {
		existing, ok := st.items[item.Key]
		if ok {
			// archive state is owned by Archive
			item.Archived = existing.Archived
			item.ResolvedAt = existing.ResolvedAt
		} else {
			item.Archived = false
			item.ResolvedAt = nil
		}
		st.items[item.Key] = item
		return nil
	})
}

func (m *memoryStore) GetItem(key string) (models.WorkItem, error) {
	var item models.WorkItem
	err := m.with(func(st *memState) error {
		it, ok := st.items[key]
		if !ok {
			return ErrNotFound
		}
		item = it
		return nil
	})
	return item, err
}

func (m *memoryStore) ListActive() ([]models.ItemView, error) {
	return m.list(false)
}

func (m *memoryStore) ListArchived() ([]models.ItemView, error) {
	return m.list(true)
}

func (m *memoryStore) list(archived bool) ([]models.ItemView, error) {
	views := []models.ItemView{}
	err := m.with(func(st *memState) error {
		for _, it := range st.items {
			if it.Archived != archived {
				continue
			}
			view := models.ItemView{WorkItem: it}
			if latest, ok := latestSolution(st.solutions, it.Key); ok {
				text, at := latest.Text, latest.GeneratedAt
				view.Solution = &text
				view.GeneratedAt = &at
			}
			views = append(views, view)
		}
		return nil
	})
	sort.SliceStable(views, func(i, j int) bool {
		if !views[i].LastUpdated.Equal(views[j].LastUpdated) {
			return views[i].LastUpdated.After(views[j].LastUpdated)
		}
		return views[i].Key < views[j].Key
	})
	return views, err
}

func latestSolution(solutions []models.Solution, key string) (models.Solution, bool) {
	var best models.Solution
	found := false
	for _, s := range solutions {
		if s.ItemKey != key {
			continue
		}
		if !found || s.GeneratedAt.After(best.GeneratedAt) ||
			(s.GeneratedAt.Equal(best.GeneratedAt) && s.ID > best.ID) {
			best = s
			found = true
		}
	}
	return best, found
}

func (m *memoryStore) ListActiveKeys(source models.Source) ([]string, error) {
	keys := []string{}
	err := m.with(func(st *memState) error {
		for _, it := range st.items {
			if !it.Archived && it.Source == source {
				keys = append(keys, it.Key)
			}
		}
		return nil
	})
	sort.Strings(keys)
	return keys, err
}

func (m *memoryStore) Archive(key string, at time.Time) error {
	return m.with(func(st *memState) error {
		it, ok := st.items[key]
		if !ok {
			return ErrNotFound
		}
		if it.Archived {
			return nil
		}
		it.Archived = true
		it.ResolvedAt = &at
		st.items[key] = it
		return nil
	})
}

func (m *memoryStore) Delete(key string) error {
	return m.with(func(st *memState) error {
		if _, ok := st.items[key]; !ok {
			return ErrNotFound
		}
		delete(st.items, key)
		kept := st.solutions[:0]
		for _, s := range st.solutions {
			if s.ItemKey != key {
				kept = append(kept, s)
			}
		}
		st.solutions = kept
		return nil
	})
}

func (m *memoryStore) AppendSolution(s models.Solution) (int64, error) {
	var id int64
	err := m.with(func(st *memState) error {
		if _, ok := st.items[s.ItemKey]; !ok {
			return errors.Wrapf(ErrNotFound, "append solution for %s", s.ItemKey)
		}
		st.nextID++
		s.ID = st.nextID
		st.solutions = append(st.solutions, s)
		id = s.ID
		return nil
	})
	return id, err
}

func (m *memoryStore) GetSolutionHistory(key string) ([]models.Solution, error) {
	history := []models.Solution{}
	err := m.with(func(st *memState) error {
		for _, s := range st.solutions {
			if s.ItemKey == key {
				history = append(history, s)
			}
		}
		return nil
	})
	sort.SliceStable(history, func(i, j int) bool {
		if !history[i].GeneratedAt.Equal(history[j].GeneratedAt) {
			return history[i].GeneratedAt.After(history[j].GeneratedAt)
		}
		return history[i].ID > history[j].ID
	})
	return history, err
}

func (m *memoryStore) CountSolutions(key string) (int, error) {
	count := 0
	err := m.with(func(st *memState) error {
		for _, s := range st.solutions {
			if s.ItemKey == key {
				count++
			}
		}
		return nil
	})
	return count, err
}
