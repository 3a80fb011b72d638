package service

import (
	"context"
	"time"

	"github.com/mlbrnm/incidentgpt/pkg/models"
	"github.com/mlbrnm/incidentgpt/pkg/storage"
	"github.com/pkg/errors"
)

type PipelineOptions struct {
	// Scopes holds the retrieval scope per source; sources without an entry use the defaults.
	Scopes map[models.Source]RetrievalScope
	Queue  QueueOptions
}

// Pipeline ties change detection, the generation queue, context retrieval and
// solution generation together around one store.
type Pipeline struct {
	store     storage.Store
	detector  *ChangeDetector
	retriever *ContextRetriever
	generator *SolutionGenerator
	queue     *GenerationQueue
	notifier  Notifier
	logger    Logger
	scopes    map[models.Source]RetrievalScope
	now       func() time.Time
}

func NewPipeline(
	ctx context.Context,
	store storage.Store,
	retriever *ContextRetriever,
	generator *SolutionGenerator,
	notifier Notifier,
	logger Logger,
	opts PipelineOptions) *Pipeline {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	p := &Pipeline{
		store:     store,
		detector:  NewChangeDetector(store, logger),
		retriever: retriever,
		generator: generator,
		notifier:  notifier,
		logger:    logger,
		scopes:    opts.Scopes,
		now:       time.Now,
	}
	p.queue = NewGenerationQueue(ctx, p.GenerateSolution, logger, opts.Queue)
	return p
}

func (p *Pipeline) Queue() *GenerationQueue {
	return p.queue
}

// RunCycle pulls src once, applies the changes to the store and queues generation
// for new and changed items. Only a failed pull is returned as an error; per-item
// store failures are reported in the result.
func (p *Pipeline) RunCycle(ctx context.Context, src Source) (DetectResult, error) {
	raw, err := src.Pull(ctx)
	if err != nil {
		return DetectResult{Source: src.Name()}, errors.Wrapf(err, "pull %s", src.Name())
	}
	p.logger.Infof("Pulled %d %s items", len(raw), src.Name())

	res := p.detector.Detect(src.Name(), raw)
	for _, key := range res.Generate() {
		p.queue.Enqueue(key)
	}
	if updated := res.Updated(); len(updated) > 0 {
		p.notifier.Emit(models.Event{Kind: models.ItemsUpdatedEvent, Updated: updated})
	}
	p.logger.Infof("%s cycle: %d new, %d changed, %d unchanged, %d archived, %d skipped, %d errors",
		src.Name(), len(res.Inserted), len(res.Changed), len(res.Unchanged), len(res.Archived), len(res.Skipped), len(res.Errors))
	return res, nil
}

// Backfill queues every active item that has no solution yet, such as items
// whose job was lost when the process last stopped. It returns the number queued.
func (p *Pipeline) Backfill() (int, error) {
	views, err := p.store.ListActive()
	if err != nil {
		return 0, errors.Wrap(err, "list active items for backfill")
	}
	n := 0
	for _, v := range views {
		if v.Solution == nil && p.queue.Enqueue(v.Key) {
			n++
		}
	}
	if n > 0 {
		p.logger.Infof("Backfill queued %d items without a solution", n)
	}
	return n, nil
}

// Regenerate queues key on operator request. It reports whether the key was newly queued.
func (p *Pipeline) Regenerate(key string) (bool, error) {
	if _, err := p.store.GetItem(key); err != nil {
		return false, err
	}
	return p.queue.Enqueue(key), nil
}

// GenerateSolution is the queue job: retrieve context, generate, append the
// solution and notify subscribers.
func (p *Pipeline) GenerateSolution(ctx context.Context, key string) error {
	item, err := p.store.GetItem(key)
	if errors.Is(err, storage.ErrNotFound) {
		p.logger.Warnf("Item %s was deleted before its solution was generated", key)
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "load item %s", key)
	}

	rag := p.retriever.Retrieve(ctx, item.Description, p.scopes[item.Source])
	text := p.generator.Generate(ctx, PromptInput{
		Key:         item.Key,
		ContextTag:  item.ContextTag,
		Description: item.Description,
		WorkNotes:   item.WorkNotes,
		Context:     rag,
	})

	sol := models.Solution{
		ItemKey:           item.Key,
		Text:              text,
		GeneratedAt:       p.now(),
		WorkNotesSnapshot: item.WorkNotes,
		Context:           rag,
	}
	var id int64
	err = withTx(p.store, p.logger, func(tx storage.Store) error {
		var err error
		id, err = tx.AppendSolution(sol)
		return err
	})
	if err != nil {
		return errors.Wrapf(err, "store solution for %s", key)
	}
	p.logger.Infof("Stored solution %d for %s", id, key)
	p.notifier.Emit(models.Event{Kind: models.SolutionUpdatedEvent, Key: key})
	return nil
}
