package retrieval_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mlbrnm/incidentgpt/internal/retrieval"
	"github.com/mlbrnm/incidentgpt/pkg/models"
	"github.com/mlbrnm/incidentgpt/pkg/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunks(t *testing.T) {
	bodies := make(chan string, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chunks", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		body, _ := io.ReadAll(r.Body)
		bodies <- string(body)
		w.Write([]byte(`{"object":"list","model":"private-gpt","data":[
			{"object":"context.chunk","score":0.82,"document":{"doc_id":"d1"},
			 "text":"MAIN","previous_texts":["p1","p2"],"next_texts":["n1"]},
			{"object":"context.chunk","score":0.5,"text":"other","previous_texts":null,"next_texts":null}
		]}`))
	}))
	defer srv.Close()

	c := retrieval.NewClient(srv.URL+"/", nil)

	chunks, err := c.Chunks(context.Background(), service.ChunkQuery{Text: "disk full", Limit: 5, PrevNextChunks: 20})
	require.NoError(t, err)
	assert.JSONEq(t, `{"text":"disk full","limit":5,"prev_next_chunks":20}`, <-bodies)
	require.Len(t, chunks, 2)
	assert.Equal(t, service.Chunk{Text: "MAIN", PreviousTexts: []string{"p1", "p2"}, NextTexts: []string{"n1"}}, chunks[0])
	assert.Equal(t, "other", chunks[1].Text)
	assert.Nil(t, chunks[1].PreviousTexts)

	_, err = c.Chunks(context.Background(), service.ChunkQuery{Text: "x", Limit: 3, DocIDs: []string{"doc-9"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"text":"x","limit":3,"context_filter":{"docs_ids":["doc-9"]}}`, <-bodies)
}

func TestChunksErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"server error", http.StatusInternalServerError, `{"detail":"boom"}`, models.ErrTransientCollaborator},
		{"no data", http.StatusOK, `{"detail":"nothing"}`, models.ErrMalformedResponse},
		{"not json", http.StatusOK, `Internal Server Error`, models.ErrMalformedResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := retrieval.NewClient(srv.URL, nil).Chunks(context.Background(), service.ChunkQuery{Text: "x"})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestDocuments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/ingest/list", r.URL.Path)
		w.Write([]byte(`{"object":"list","data":[
			{"object":"ingest.document","doc_id":"a","doc_metadata":{"file_name":"zabbix_events_2024-01-02.txt"}},
			{"object":"ingest.document","doc_id":"b","doc_metadata":{"file_name":"zabbix_events_2024-03-09.txt"}},
			{"object":"ingest.document","doc_id":"c","doc_metadata":null}
		]}`))
	}))
	defer srv.Close()

	docs, err := retrieval.NewClient(srv.URL, nil).Documents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []service.Document{
		{ID: "a", FileName: "zabbix_events_2024-01-02.txt"},
		{ID: "b", FileName: "zabbix_events_2024-03-09.txt"},
		{ID: "c"},
	}, docs)

	id, ok := service.NewestDocument(docs, "zabbix_events_")
	assert.True(t, ok)
	assert.Equal(t, "b", id)
}
