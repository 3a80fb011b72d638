package service_test

import (
	"context"
	"sync"
	"time"

	"github.com/mlbrnm/incidentgpt/pkg/models"
	"github.com/mlbrnm/incidentgpt/pkg/service"
	"github.com/mlbrnm/incidentgpt/pkg/storage"
)

var testTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// testLogger implements Logger interface for testing
type testLogger struct{}

func (testLogger) Debugf(format string, args ...interface{}) {}
func (testLogger) Infof(format string, args ...interface{})  {}
func (testLogger) Warnf(format string, args ...interface{})  {}
func (testLogger) Errorf(format string, args ...interface{}) {}

// fakeSource returns whatever items were last set.
type fakeSource struct {
	mu    sync.Mutex
	name  models.Source
	items []models.RawItem
	err   error
	pulls int
	panic bool
}

func (s *fakeSource) Name() models.Source { return s.name }

func (s *fakeSource) Pull(ctx context.Context) ([]models.RawItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pulls++
	if s.panic {
		panic("source exploded")
	}
	if s.err != nil {
		return nil, s.err
	}
	return append([]models.RawItem{}, s.items...), nil
}

func (s *fakeSource) set(items ...models.RawItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = items
}

func (s *fakeSource) pullCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pulls
}

type fakeRetrieval struct {
	mu      sync.Mutex
	chunks  []service.Chunk
	docs    []service.Document
	err     error
	docsErr error
	queries []service.ChunkQuery
}

func (r *fakeRetrieval) Chunks(ctx context.Context, q service.ChunkQuery) ([]service.Chunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries = append(r.queries, q)
	return r.chunks, r.err
}

func (r *fakeRetrieval) Documents(ctx context.Context) ([]service.Document, error) {
	return r.docs, r.docsErr
}

func (r *fakeRetrieval) lastQuery() service.ChunkQuery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queries[len(r.queries)-1]
}

type generateCall struct {
	model     string
	prompt    string
	keepAlive time.Duration
	deadline  bool
}

type fakeGeneration struct {
	mu       sync.Mutex
	response string
	err      error
	calls    []generateCall
}

func (g *fakeGeneration) Generate(ctx context.Context, model, prompt string, keepAlive time.Duration) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, hasDeadline := ctx.Deadline()
	g.calls = append(g.calls, generateCall{model: model, prompt: prompt, keepAlive: keepAlive, deadline: hasDeadline})
	return g.response, g.err
}

func (g *fakeGeneration) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.Event
}

func (n *recordingNotifier) Emit(e models.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func (n *recordingNotifier) kinds() []models.EventKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	kinds := make([]models.EventKind, 0, len(n.events))
	for _, e := range n.events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

// failingStore fails UpsertItem for one key, in and out of transactions.
type failingStore struct {
	storage.Store
	failKey string
}

func (f *failingStore) Begin() (storage.Store, error) {
	tx, err := f.Store.Begin()
	if err != nil {
		return nil, err
	}
	return &failingStore{Store: tx, failKey: f.failKey}, nil
}

func (f *failingStore) UpsertItem(item models.WorkItem) error {
	if item.Key == f.failKey {
		return models.ErrStoreContention
	}
	return f.Store.UpsertItem(item)
}

func rawItem(key, description, notes string) models.RawItem {
	return models.RawItem{
		Key:              key,
		Description:      description,
		ShortDescription: description,
		ContextTag:       "host-a",
		Status:           "1",
		WorkNotes:        notes,
	}
}
