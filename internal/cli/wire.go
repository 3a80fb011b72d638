package cli

import (
	"context"

	"github.com/mlbrnm/incidentgpt/internal/config"
	"github.com/mlbrnm/incidentgpt/internal/generation"
	"github.com/mlbrnm/incidentgpt/internal/httpjson"
	"github.com/mlbrnm/incidentgpt/internal/log"
	"github.com/mlbrnm/incidentgpt/internal/metrics"
	"github.com/mlbrnm/incidentgpt/internal/retrieval"
	"github.com/mlbrnm/incidentgpt/internal/source"
	internal_storage "github.com/mlbrnm/incidentgpt/internal/storage"
	"github.com/mlbrnm/incidentgpt/pkg/models"
	"github.com/mlbrnm/incidentgpt/pkg/notify"
	"github.com/mlbrnm/incidentgpt/pkg/service"
	"github.com/mlbrnm/incidentgpt/pkg/storage"
)

// zabbixChunkLimit is smaller than the ticket limit: event history documents are dense.
const zabbixChunkLimit = 3

type app struct {
	cfg      config.Config
	store    storage.Store
	hub      *notify.Hub
	recorder *metrics.Recorder
	pipeline *service.Pipeline
	items    *service.ItemService
	sources  []service.Source
}

func openStore(cfg config.Config) (storage.Store, error) {
	log.GetLogger().Debugf("Opening %s store", cfg.Store.Driver)
	return internal_storage.InitStore(cfg.Store.Driver, cfg.Store.DSN, true)
}

// newApp wires every component from cfg. The queue worker lives until ctx ends
// or the pipeline's queue is stopped.
func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	hub := notify.NewHub(cfg.NotifyBuffer)
	recorder := metrics.NewRecorder()
	recorder.WatchNotifier(hub)

	retriever := service.NewContextRetriever(
		retrieval.NewClient(cfg.Retrieval.URL, httpjson.NewClient(cfg.Retrieval.Timeout)),
		log.ForComponent("retriever"),
		cfg.Retrieval.Timeout,
	)
	generator := service.NewSolutionGenerator(
		generation.NewClient(cfg.Generation.URL, nil),
		log.ForComponent("generator"),
		service.GeneratorOptions{
			Model:     cfg.Generation.Model,
			KeepAlive: cfg.Generation.KeepAlive,
			Timeout:   cfg.Generation.Timeout,
			Team:      cfg.Generation.Team,
		},
	)

	pipeline := service.NewPipeline(ctx, store, retriever, generator, hub, log.ForComponent("pipeline"),
		service.PipelineOptions{
			Scopes: map[models.Source]service.RetrievalScope{
				models.ServiceNowSource: {
					Limit:          cfg.Retrieval.ChunkLimit,
					PrevNextChunks: cfg.Retrieval.PrevNextChunks,
				},
				models.ZabbixSource: {
					Limit:          zabbixChunkLimit,
					PrevNextChunks: cfg.Retrieval.PrevNextChunks,
					DocPrefix:      cfg.Zabbix.DocPrefix,
				},
			},
			Queue: service.QueueOptions{
				Cooldown:   cfg.Cooldown,
				JobTimeout: cfg.JobTimeout,
				Observer:   recorder,
			},
		})

	return &app{
		cfg:      cfg,
		store:    store,
		hub:      hub,
		recorder: recorder,
		pipeline: pipeline,
		items:    service.NewItemService(store, hub, log.ForComponent("items")),
		sources:  buildSources(cfg),
	}, nil
}

func buildSources(cfg config.Config) []service.Source {
	var sources []service.Source
	if cfg.ServiceNow.Enabled() {
		sources = append(sources, source.NewServiceNow(source.ServiceNowOptions{
			Endpoint:        cfg.ServiceNow.Endpoint,
			Instance:        cfg.ServiceNow.Instance,
			User:            cfg.ServiceNow.User,
			Password:        cfg.ServiceNow.Password,
			AssignmentGroup: cfg.ServiceNow.AssignmentGroup,
			Limit:           cfg.ServiceNow.Limit,
		}, nil, log.ForComponent("servicenow")))
	}
	if cfg.Zabbix.Enabled() {
		sources = append(sources, source.NewZabbix(source.ZabbixOptions{
			URL:   cfg.Zabbix.URL,
			Token: cfg.Zabbix.Token,
			Days:  cfg.Zabbix.Days,
		}, nil, log.ForComponent("zabbix")))
	}
	return sources
}

// close stops the queue worker, then releases the store.
func (a *app) close() {
	a.pipeline.Queue().Stop()
	if err := a.store.Close(); err != nil {
		log.GetLogger().Errorf("Failed to close store: %v", err)
	}
}
