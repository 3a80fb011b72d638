package http_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	internal_http "github.com/mlbrnm/incidentgpt/internal/http"
	"github.com/mlbrnm/incidentgpt/internal/log"
	"github.com/mlbrnm/incidentgpt/internal/metrics"
	"github.com/mlbrnm/incidentgpt/pkg/models"
	"github.com/mlbrnm/incidentgpt/pkg/notify"
	"github.com/mlbrnm/incidentgpt/pkg/service"
	"github.com/mlbrnm/incidentgpt/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource struct{ items []models.RawItem }

func (s staticSource) Name() models.Source { return models.ServiceNowSource }
func (s staticSource) Pull(context.Context) ([]models.RawItem, error) {
	return s.items, nil
}

type noChunks struct{}

func (noChunks) Chunks(context.Context, service.ChunkQuery) ([]service.Chunk, error) { return nil, nil }
func (noChunks) Documents(context.Context) ([]service.Document, error)               { return nil, nil }

type countingGenerator struct {
	mu    sync.Mutex
	calls int
}

func (g *countingGenerator) Generate(context.Context, string, string, time.Duration) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return "Restart the app pool.", nil
}

type fixture struct {
	store    storage.Store
	hub      *notify.Hub
	pipeline *service.Pipeline
	srv      *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	store := storage.NewMemoryStore()
	hub := notify.NewHub(8)
	logger := log.GetLogger()
	recorder := metrics.NewRecorder()
	recorder.WatchNotifier(hub)

	pipeline := service.NewPipeline(
		context.Background(),
		store,
		service.NewContextRetriever(noChunks{}, logger, 0),
		service.NewSolutionGenerator(&countingGenerator{}, logger, service.GeneratorOptions{}),
		hub,
		logger,
		service.PipelineOptions{Queue: service.QueueOptions{Observer: recorder}},
	)
	t.Cleanup(pipeline.Queue().Stop)

	srv := httptest.NewServer(internal_http.NewMux(internal_http.Deps{
		Items:    service.NewItemService(store, hub, logger),
		Pipeline: pipeline,
		Hub:      hub,
		Metrics:  recorder.Handler(),
	}))
	t.Cleanup(srv.Close)

	_, err := pipeline.RunCycle(context.Background(), staticSource{items: []models.RawItem{
		{Key: "INC001", Description: "IIS app pool crashed", ContextTag: "web01"},
		{Key: "INC002", Description: "Cert expiring", ContextTag: "web02"},
	}})
	require.NoError(t, err)
	pipeline.Queue().Wait()

	return &fixture{store: store, hub: hub, pipeline: pipeline, srv: srv}
}

func (f *fixture) do(t *testing.T, method, path string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, nil)
	require.NoError(t, err)
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestE2EServer(t *testing.T) {
	t.Run("HealthCheck", func(t *testing.T) {
		f := newFixture(t)
		status, body := f.do(t, http.MethodGet, "/health")
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, `{"status":"ok"}`+"\n", body)
	})

	t.Run("ListItems", func(t *testing.T) {
		f := newFixture(t)
		status, body := f.do(t, http.MethodGet, "/items")
		require.Equal(t, http.StatusOK, status)

		var items []models.ItemView
		require.NoError(t, json.Unmarshal([]byte(body), &items))
		require.Len(t, items, 2)
		for _, it := range items {
			require.NotNil(t, it.Solution)
			assert.Equal(t, "Restart the app pool.", *it.Solution)
		}
	})

	t.Run("ListArchivedEmpty", func(t *testing.T) {
		f := newFixture(t)
		status, body := f.do(t, http.MethodGet, "/items/archived")
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "[]\n", body)
	})

	t.Run("GetItem", func(t *testing.T) {
		f := newFixture(t)
		status, body := f.do(t, http.MethodGet, "/items/INC001")
		require.Equal(t, http.StatusOK, status)
		assert.Contains(t, body, `"key":"INC001"`)
		assert.Contains(t, body, `"context_tag":"web01"`)
		assert.Contains(t, body, `"solution":"Restart the app pool."`)

		status, body = f.do(t, http.MethodGet, "/items/INC999")
		assert.Equal(t, http.StatusNotFound, status)
		assert.Equal(t, `{"error":"Item INC999 not found"}`+"\n", body)
	})

	t.Run("SolutionHistoryAndRegenerate", func(t *testing.T) {
		f := newFixture(t)
		status, body := f.do(t, http.MethodPost, "/items/INC001/regenerate")
		assert.Equal(t, http.StatusAccepted, status)
		assert.JSONEq(t, `{"key":"INC001","queued":true}`, body)
		f.pipeline.Queue().Wait()

		status, body = f.do(t, http.MethodGet, "/items/INC001/solutions")
		require.Equal(t, http.StatusOK, status)
		var history []models.Solution
		require.NoError(t, json.Unmarshal([]byte(body), &history))
		assert.Len(t, history, 2)
		assert.Equal(t, service.NoContextSentinel, history[0].Context)

		status, _ = f.do(t, http.MethodPost, "/items/INC999/regenerate")
		assert.Equal(t, http.StatusNotFound, status)
		status, _ = f.do(t, http.MethodGet, "/items/INC999/solutions")
		assert.Equal(t, http.StatusNotFound, status)
	})

	t.Run("DeleteItem", func(t *testing.T) {
		f := newFixture(t)
		status, body := f.do(t, http.MethodDelete, "/items/INC002")
		assert.Equal(t, http.StatusOK, status)
		assert.JSONEq(t, `{"deleted":"INC002"}`, body)

		status, _ = f.do(t, http.MethodGet, "/items/INC002")
		assert.Equal(t, http.StatusNotFound, status)
		status, _ = f.do(t, http.MethodDelete, "/items/INC002")
		assert.Equal(t, http.StatusNotFound, status)
	})

	t.Run("MethodNotAllowed", func(t *testing.T) {
		f := newFixture(t)
		status, _ := f.do(t, http.MethodPut, "/items/INC001")
		assert.Equal(t, http.StatusMethodNotAllowed, status)
	})

	t.Run("QueueStatus", func(t *testing.T) {
		f := newFixture(t)
		status, body := f.do(t, http.MethodGet, "/queue")
		assert.Equal(t, http.StatusOK, status)
		assert.JSONEq(t, `{"running":false,"pending":[]}`, body)
	})

	t.Run("Metrics", func(t *testing.T) {
		f := newFixture(t)
		status, body := f.do(t, http.MethodGet, "/metrics")
		assert.Equal(t, http.StatusOK, status)
		assert.Contains(t, body, "opsassist_queue_enqueued_total 2")
		assert.Contains(t, body, `opsassist_generation_jobs_total{outcome="success"} 2`)
	})
}

func TestEventsWebsocket(t *testing.T) {
	f := newFixture(t)

	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	require.Eventually(t, func() bool { return f.hub.Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	status, _ := f.do(t, http.MethodDelete, "/items/INC001")
	require.Equal(t, http.StatusOK, status)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg struct {
		Event string         `json:"event"`
		Data  map[string]any `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "item_deleted", msg.Event)
	assert.Equal(t, "INC001", msg.Data["key"])

	f.hub.Emit(models.Event{Kind: models.ItemsUpdatedEvent, Updated: []string{"INC002"}})
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "items_updated", msg.Event)
	assert.Equal(t, []any{"INC002"}, msg.Data["updated"])

	conn.Close()
	require.Eventually(t, func() bool { return f.hub.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestStartServerShutsDownOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- internal_http.StartServer(ctx, "0", http.HandlerFunc(internal_http.HealthHandler))
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
