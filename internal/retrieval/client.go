// Package retrieval talks to the semantic retrieval service holding the
// ingested incident history.
package retrieval

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/mlbrnm/incidentgpt/internal/httpjson"
	"github.com/mlbrnm/incidentgpt/pkg/models"
	"github.com/mlbrnm/incidentgpt/pkg/service"
	"github.com/tidwall/gjson"
)

type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = httpjson.NewClient(0)
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

type contextFilter struct {
	DocsIDs []string `json:"docs_ids"`
}

type chunksRequest struct {
	Text           string         `json:"text"`
	Limit          int            `json:"limit,omitempty"`
	PrevNextChunks int            `json:"prev_next_chunks,omitempty"`
	ContextFilter  *contextFilter `json:"context_filter,omitempty"`
}

// Chunks posts a similarity query to /v1/chunks.
func (c *Client) Chunks(ctx context.Context, q service.ChunkQuery) ([]service.Chunk, error) {
	payload := chunksRequest{Text: q.Text, Limit: q.Limit, PrevNextChunks: q.PrevNextChunks}
	if len(q.DocIDs) > 0 {
		payload.ContextFilter = &contextFilter{DocsIDs: q.DocIDs}
	}
	req, err := httpjson.NewRequest(ctx, http.MethodPost, c.baseURL+"/v1/chunks", payload)
	if err != nil {
		return nil, err
	}
	body, err := httpjson.Do(c.http, req)
	if err != nil {
		return nil, err
	}
	data := gjson.GetBytes(body, "data")
	if !data.IsArray() {
		return nil, fmt.Errorf("%w: chunks response has no data array", models.ErrMalformedResponse)
	}

	chunks := make([]service.Chunk, 0, len(data.Array()))
	for _, item := range data.Array() {
		chunks = append(chunks, service.Chunk{
			Text:          item.Get("text").String(),
			PreviousTexts: stringArray(item.Get("previous_texts")),
			NextTexts:     stringArray(item.Get("next_texts")),
		})
	}
	return chunks, nil
}

// Documents lists the ingested documents from /v1/ingest/list.
func (c *Client) Documents(ctx context.Context) ([]service.Document, error) {
	req, err := httpjson.NewRequest(ctx, http.MethodGet, c.baseURL+"/v1/ingest/list", nil)
	if err != nil {
		return nil, err
	}
	body, err := httpjson.Do(c.http, req)
	if err != nil {
		return nil, err
	}
	data := gjson.GetBytes(body, "data")
	if !data.IsArray() {
		return nil, fmt.Errorf("%w: ingest list has no data array", models.ErrMalformedResponse)
	}

	var docs []service.Document
	for _, d := range data.Array() {
		docs = append(docs, service.Document{
			ID:       d.Get("doc_id").String(),
			FileName: d.Get("doc_metadata.file_name").String(),
		})
	}
	return docs, nil
}

func stringArray(v gjson.Result) []string {
	if !v.IsArray() {
		return nil
	}
	var out []string
	for _, s := range v.Array() {
		out = append(out, s.String())
	}
	return out
}
