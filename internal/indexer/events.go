package indexer

import (
	"context"
	"errors"
	"os"

	"github.com/dshills/codelocal/pkg/types"
)

// Submit queues an event for the worker started by Run. It blocks while the
// queue is full.
func (e *Engine) Submit(ctx context.Context, ev types.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	select {
	case <-e.done:
		return ErrClosed
	default:
	}

	select {
	case e.queue <- ev:
		return nil
	case <-e.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run applies queued events one at a time until ctx is done or the engine
// is closed. Failures are logged; an aborted session ends the loop.
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.done:
			return nil
		case ev := <-e.queue:
			if _, err := e.Apply(ctx, ev); err != nil {
				if errors.Is(err, ErrSessionAborted) {
					return err
				}
				if errors.Is(err, ErrClosed) {
					return nil
				}
				e.logger.Warn("event failed", "event", ev.String(), "error", err)
			}
		}
	}
}

// Apply processes one event synchronously and reports whether index state
// changed. Events for paths that are not indexable are ignored.
func (e *Engine) Apply(ctx context.Context, ev types.Event) (bool, error) {
	if err := ev.Validate(); err != nil {
		return false, err
	}
	e.logger.Debug("applying event", "event", ev.String())

	switch ev.Kind {
	case types.EventCreated, types.EventContentChanged:
		rel, err := e.rel(ev.Path)
		if err != nil {
			return false, err
		}
		if info, err := os.Stat(e.abs(rel)); err == nil && info.IsDir() {
			return e.indexPath(ctx, rel)
		}
		res, err := e.reindex(ctx, rel)
		return res.changed, err
	case types.EventDeleted:
		return e.Delete(ev.Path)
	case types.EventMoved:
		return e.Move(ctx, ev.OldPath, ev.Path)
	}
	return false, types.ErrUnknownEventKind
}
