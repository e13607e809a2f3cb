package offlineshell

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// background runs detached tasks: the caller never waits on them and their
// result is only logged. Tasks are never dropped; at most limit run at once.
type background struct {
	wg  sync.WaitGroup
	sem chan struct{}
	log zerolog.Logger
}

func newBackground(limit int, logger zerolog.Logger) *background {
	if limit <= 0 {
		limit = defaultBackgroundLimit
	}
	return &background{
		sem: make(chan struct{}, limit),
		log: logger,
	}
}

// Go starts task detached from the cancellation of ctx.
func (b *background) Go(ctx context.Context, name string, task func(ctx context.Context) error) {
	ctx = context.WithoutCancel(ctx)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.sem <- struct{}{}
		defer func() { <-b.sem }()
		if err := task(ctx); err != nil {
			b.log.Error().Err(err).Str("task", name).Msg("Background task failed")
			return
		}
		b.log.Trace().Str("task", name).Msg("Background task done")
	}()
}

// Wait blocks until all started tasks have finished or ctx is done.
func (b *background) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
