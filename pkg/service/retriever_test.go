package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/mlbrnm/incidentgpt/pkg/extract"
	"github.com/mlbrnm/incidentgpt/pkg/service"
	"github.com/stretchr/testify/assert"
)

func TestContextRetriever_RebuildsAndExtractsSections(t *testing.T) {
	first := "INC0001 | printer offline\n---- Solution:\nreinstalled driver"
	second := "INC0002 | vpn drops\n---- Solution:\nrenewed certificate"
	client := &fakeRetrieval{chunks: []service.Chunk{
		{
			Text: first,
			// nearest first
			PreviousTexts: []string{"tail of INC0000" + extract.Separator, "header "},
			NextTexts:     []string{extract.Separator + "INC0003 start"},
		},
		{Text: second},
	}}
	r := service.NewContextRetriever(client, testLogger{}, 0)

	got := r.Retrieve(context.Background(), "printer offline", service.RetrievalScope{})

	assert.Equal(t, "---- 1 ----\n"+first+"\n\n---- 2 ----\n"+second+"\n\n", got)
	q := client.lastQuery()
	assert.Equal(t, "printer offline", q.Text)
	assert.Equal(t, service.DefaultChunkLimit, q.Limit)
	assert.Empty(t, q.DocIDs)
}

func TestContextRetriever_Sentinel(t *testing.T) {
	t.Run("collaborator error", func(t *testing.T) {
		r := service.NewContextRetriever(&fakeRetrieval{err: errors.New("503")}, testLogger{}, 0)
		assert.Equal(t, service.NoContextSentinel, r.Retrieve(context.Background(), "x", service.RetrievalScope{}))
	})
	t.Run("no chunks", func(t *testing.T) {
		r := service.NewContextRetriever(&fakeRetrieval{}, testLogger{}, 0)
		assert.Equal(t, service.NoContextSentinel, r.Retrieve(context.Background(), "x", service.RetrievalScope{}))
	})
}

func TestContextRetriever_DocumentScope(t *testing.T) {
	docs := []service.Document{
		{ID: "a", FileName: "zabbix_events_2026-02-28.txt"},
		{ID: "b", FileName: "zabbix_events_2026-03-01.txt"},
		{ID: "c", FileName: "servicenow_export_2026-04-01.txt"},
		{ID: "d", FileName: "zabbix_events_latest.txt"},
	}

	t.Run("newest matching document", func(t *testing.T) {
		client := &fakeRetrieval{chunks: []service.Chunk{{Text: "x"}}, docs: docs}
		r := service.NewContextRetriever(client, testLogger{}, 0)
		r.Retrieve(context.Background(), "x", service.RetrievalScope{Limit: 3, DocPrefix: "zabbix_events_"})
		assert.Equal(t, []string{"b"}, client.lastQuery().DocIDs)
		assert.Equal(t, 3, client.lastQuery().Limit)
	})

	t.Run("explicit doc ids win", func(t *testing.T) {
		client := &fakeRetrieval{chunks: []service.Chunk{{Text: "x"}}, docs: docs}
		r := service.NewContextRetriever(client, testLogger{}, 0)
		r.Retrieve(context.Background(), "x", service.RetrievalScope{DocIDs: []string{"pinned"}, DocPrefix: "zabbix_events_"})
		assert.Equal(t, []string{"pinned"}, client.lastQuery().DocIDs)
	})

	t.Run("resolution failure degrades to unscoped", func(t *testing.T) {
		client := &fakeRetrieval{chunks: []service.Chunk{{Text: "x"}}, docsErr: errors.New("timeout")}
		r := service.NewContextRetriever(client, testLogger{}, 0)
		got := r.Retrieve(context.Background(), "x", service.RetrievalScope{DocPrefix: "zabbix_events_"})
		assert.Empty(t, client.lastQuery().DocIDs)
		assert.Equal(t, "---- 1 ----\nx\n\n", got)
	})

	t.Run("no matching file", func(t *testing.T) {
		_, ok := service.NewestDocument(docs, "other_")
		assert.False(t, ok)
	})
}
