package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/mlbrnm/incidentgpt/pkg/extract"
	"github.com/mlbrnm/incidentgpt/pkg/models"
	"github.com/pkg/errors"
)

const (
	DefaultRetrievalTimeout = 30 * time.Second
	DefaultChunkLimit       = 5
)

// NoContextSentinel stands in for the context block when retrieval fails or finds nothing.
const NoContextSentinel = "No relevant previous incidents found."

// Chunk is one hit from the retrieval service together with its neighbouring windows.
// PreviousTexts is ordered nearest first.
type Chunk struct {
	Text          string
	PreviousTexts []string
	NextTexts     []string
}

type ChunkQuery struct {
	Text           string
	Limit          int
	PrevNextChunks int
	DocIDs         []string
}

// Document is an entry of the retrieval service's ingested file list.
type Document struct {
	ID       string
	FileName string
}

// RetrievalClient is the retrieval collaborator.
type RetrievalClient interface {
	Chunks(ctx context.Context, q ChunkQuery) ([]Chunk, error)
	Documents(ctx context.Context) ([]Document, error)
}

// RetrievalScope narrows a context query. When DocPrefix is set and DocIDs is
// empty, the query is restricted to the newest "<DocPrefix>YYYY-MM-DD.txt" document.
type RetrievalScope struct {
	Limit          int
	PrevNextChunks int
	DocIDs         []string
	DocPrefix      string
}

type ContextRetriever struct {
	client  RetrievalClient
	logger  Logger
	timeout time.Duration
}

func NewContextRetriever(client RetrievalClient, logger Logger, timeout time.Duration) *ContextRetriever {
	if timeout <= 0 {
		timeout = DefaultRetrievalTimeout
	}
	return &ContextRetriever{client: client, logger: logger, timeout: timeout}
}

// Retrieve returns the formatted context block for description. It never fails:
// collaborator errors and empty results yield NoContextSentinel.
func (r *ContextRetriever) Retrieve(ctx context.Context, description string, scope RetrievalScope) string {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	q := ChunkQuery{
		Text:           description,
		Limit:          scope.Limit,
		PrevNextChunks: scope.PrevNextChunks,
		DocIDs:         scope.DocIDs,
	}
	if q.Limit <= 0 {
		q.Limit = DefaultChunkLimit
	}
	if len(q.DocIDs) == 0 && scope.DocPrefix != "" {
		docID, err := r.newestDocument(ctx, scope.DocPrefix)
		if err != nil {
			r.logger.Warnf("Could not resolve %s document scope, querying unscoped: %v", scope.DocPrefix, err)
		} else {
			q.DocIDs = []string{docID}
		}
	}

	chunks, err := r.client.Chunks(ctx, q)
	if err != nil {
		r.logger.Errorf("Context retrieval failed: %v", err)
		return NoContextSentinel
	}
	if len(chunks) == 0 {
		r.logger.Warnf("Context retrieval returned no chunks")
		return NoContextSentinel
	}

	sections := make([]string, 0, len(chunks))
	for _, c := range chunks {
		block := extract.Rebuild(c.Text, c.PreviousTexts, c.NextTexts)
		sections = append(sections, extract.MostSimilarSection(block, c.Text))
	}
	r.logger.Debugf("Retrieved %d context sections", len(sections))
	return FormatContext(sections)
}

// FormatContext numbers each section from 1 and separates them with blank lines.
func FormatContext(sections []string) string {
	var b strings.Builder
	for i, s := range sections {
		fmt.Fprintf(&b, "---- %d ----\n%s\n\n", i+1, s)
	}
	return b.String()
}

func (r *ContextRetriever) newestDocument(ctx context.Context, prefix string) (string, error) {
	docs, err := r.client.Documents(ctx)
	if err != nil {
		return "", err
	}
	id, ok := NewestDocument(docs, prefix)
	if !ok {
		return "", errors.Wrapf(models.ErrMalformedResponse, "no document named %sYYYY-MM-DD.txt", prefix)
	}
	return id, nil
}

// NewestDocument picks the document whose file name carries the latest date after prefix.
func NewestDocument(docs []Document, prefix string) (string, bool) {
	pattern := regexp.MustCompile(`^` + regexp.QuoteMeta(prefix) + `(\d{4}-\d{2}-\d{2})\.txt$`)
	var bestID, bestDate string
	for _, d := range docs {
		m := pattern.FindStringSubmatch(d.FileName)
		if m == nil {
			continue
		}
		if m[1] > bestDate {
			bestID, bestDate = d.ID, m[1]
		}
	}
	return bestID, bestDate != ""
}
