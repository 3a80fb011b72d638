package http

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/mlbrnm/incidentgpt/internal/log"
	"github.com/mlbrnm/incidentgpt/pkg/notify"
	"github.com/mlbrnm/incidentgpt/pkg/service"
	"github.com/mlbrnm/incidentgpt/pkg/storage"
	"github.com/pkg/errors"
)

const shutdownTimeout = 10 * time.Second

// Deps are the services the API is built on. Metrics may be nil.
type Deps struct {
	Items    *service.ItemService
	Pipeline *service.Pipeline
	Hub      *notify.Hub
	Metrics  http.Handler
}

func NewMux(deps Deps) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", HealthHandler)
	mux.HandleFunc("GET /items", ItemsHandler(deps.Items))
	mux.HandleFunc("GET /items/archived", ArchivedItemsHandler(deps.Items))
	mux.HandleFunc("GET /items/{key}", ItemHandler(deps.Items))
	mux.HandleFunc("DELETE /items/{key}", DeleteItemHandler(deps.Items))
	mux.HandleFunc("GET /items/{key}/solutions", SolutionsHandler(deps.Items))
	mux.HandleFunc("POST /items/{key}/regenerate", RegenerateHandler(deps.Pipeline))
	mux.HandleFunc("GET /queue", QueueHandler(deps.Pipeline.Queue()))
	mux.HandleFunc("GET /ws", EventsHandler(deps.Hub))
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics)
	}
	return mux
}

// StartServer serves handler on :port until ctx is cancelled, then shuts down gracefully.
func StartServer(ctx context.Context, port string, handler http.Handler) error {
	// Request contexts derive from ctx so open websocket streams end with it.
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		log.GetLogger().Infof("Starting API server on :%s", port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "http server")
	case <-ctx.Done():
	}

	log.GetLogger().Info("Shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "http shutdown")
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func ItemsHandler(svc *service.ItemService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := svc.ListActive()
		if err != nil {
			log.GetLogger().Errorf("Failed to list items: %v", err)
			writeError(w, http.StatusInternalServerError, "Failed to list items")
			return
		}
		writeJSON(w, http.StatusOK, nonNil(items))
	}
}

func ArchivedItemsHandler(svc *service.ItemService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := svc.ListArchived()
		if err != nil {
			log.GetLogger().Errorf("Failed to list archived items: %v", err)
			writeError(w, http.StatusInternalServerError, "Failed to list archived items")
			return
		}
		writeJSON(w, http.StatusOK, nonNil(items))
	}
}

func ItemHandler(svc *service.ItemService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.PathValue("key")
		item, err := svc.GetItem(key)
		if err != nil {
			storeError(w, err, key, "Failed to get item")
			return
		}
		writeJSON(w, http.StatusOK, item)
	}
}

func DeleteItemHandler(svc *service.ItemService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.PathValue("key")
		if err := svc.DeleteItem(key); err != nil {
			storeError(w, err, key, "Failed to delete item")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"deleted": key})
	}
}

func SolutionsHandler(svc *service.ItemService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.PathValue("key")
		history, err := svc.GetSolutionHistory(key)
		if err != nil {
			storeError(w, err, key, "Failed to get solutions")
			return
		}
		writeJSON(w, http.StatusOK, nonNil(history))
	}
}

func RegenerateHandler(p *service.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.PathValue("key")
		queued, err := p.Regenerate(key)
		if err != nil {
			storeError(w, err, key, "Failed to queue item")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"key": key, "queued": queued})
	}
}

type queueStatus struct {
	Running bool     `json:"running"`
	Pending []string `json:"pending"`
}

func QueueHandler(q *service.GenerationQueue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, queueStatus{Running: q.Running(), Pending: nonNil(q.Pending())})
	}
}

func storeError(w http.ResponseWriter, err error, key, msg string) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Item "+key+" not found")
		return
	}
	log.GetLogger().Errorf("%s %s: %v", msg, key, err)
	writeError(w, http.StatusInternalServerError, msg)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.GetLogger().Errorf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
