package service

import (
	"context"
	"fmt"
	"time"
)

const (
	DefaultPollInterval = 300 * time.Second
	DefaultPollBackoff  = 60 * time.Second
)

// Poller runs pipeline cycles for one source until its context is cancelled.
type Poller struct {
	pipeline *Pipeline
	source   Source
	logger   Logger
	interval time.Duration
	backoff  time.Duration
}

func NewPoller(pipeline *Pipeline, source Source, logger Logger, interval, backoff time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if backoff <= 0 {
		backoff = DefaultPollBackoff
	}
	return &Poller{pipeline: pipeline, source: source, logger: logger, interval: interval, backoff: backoff}
}

// Run polls immediately, then waits interval after a good cycle and backoff after a
// failed one. It returns nil once ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Infof("Polling %s every %s (backoff %s)", p.source.Name(), p.interval, p.backoff)
	for {
		wait := p.interval
		if err := p.cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.logger.Errorf("Poll of %s failed, retrying in %s: %v", p.source.Name(), p.backoff, err)
			wait = p.backoff
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			p.logger.Infof("Stopped polling %s", p.source.Name())
			return nil
		case <-timer.C:
		}
	}
}

func (p *Poller) cycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("poll cycle panicked: %v", r)
		}
	}()
	res, err := p.pipeline.RunCycle(ctx, p.source)
	for _, e := range res.Errors {
		p.logger.Warnf("%s cycle error: %v", p.source.Name(), e)
	}
	return err
}
