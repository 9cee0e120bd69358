package watcher

import (
	"context"
	"sync"

	"github.com/cadops/cadet/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// ExportFunc runs an export for a saved archive
type ExportFunc func(ctx context.Context, archive string) error

// ExporterOption is a functor to build an exporter with some options
type ExporterOption func(*Exporter)

// ExporterLogger injects a logging facility into export dispatch
func ExporterLogger(l *zap.Logger) ExporterOption {
	return func(e *Exporter) {
		if l != nil {
			e.l = l
		}
	}
}

// Exporter drains a Notifier and keeps saved archives exported. One
// export runs per archive at a time, saves landing meanwhile fold into
// a single rerun. The placeholder rewrite at the end of an export raises
// one more save event, the transformer then skips the already exported
// archive and the cycle settles.
type Exporter struct {
	n      Notifier
	export ExportFunc
	jobs   map[string]*job
	wg     sync.WaitGroup
	l      *zap.Logger
}

type job struct {
	inflight atomic.Bool
	pending  atomic.Bool
}

// NewExporter yields an exporter fed by the given notifier
func NewExporter(n Notifier, export ExportFunc, opts ...ExporterOption) *Exporter {
	e := &Exporter{
		n:      n,
		export: export,
		jobs:   make(map[string]*job),
		l:      zap.NewNop(),
	}
	for _, apply := range opts {
		apply(e)
	}
	return e
}

// Run dispatches exports until the notifier closes or the context ends.
// In-flight exports are waited for before returning.
func (e *Exporter) Run(ctx context.Context) error {
	defer e.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-e.n.Events():
			if !ok {
				return nil
			}
			e.dispatch(ctx, ev)
		}
	}
}

func (e *Exporter) dispatch(ctx context.Context, ev Event) {
	j, ok := e.jobs[ev.Archive]
	if !ok {
		j = &job{}
		e.jobs[ev.Archive] = j
	}
	j.pending.Store(true)
	if !j.inflight.CompareAndSwap(false, true) {
		// the running worker observes the pending flag
		return
	}
	e.wg.Add(1)
	go e.work(ctx, ev.Archive, j)
}

// work consumes the pending flag while holding the in-flight flag. The
// release and re-acquire at the bottom closes the window where a save
// lands between the last check and the hand-back.
func (e *Exporter) work(ctx context.Context, archive string, j *job) {
	defer e.wg.Done()
	for {
		for j.pending.Swap(false) {
			e.runOne(ctx, archive)
		}
		j.inflight.Store(false)
		if !j.pending.Load() || !j.inflight.CompareAndSwap(false, true) {
			return
		}
	}
}

func (e *Exporter) runOne(ctx context.Context, archive string) {
	if err := e.export(ctx, archive); err != nil {
		if errors.Is(err, context.Canceled) {
			e.l.Debug("export canceled", zap.String("archive", archive))
			return
		}
		e.l.Warn("export after save failed",
			zap.String("archive", archive),
			zap.Error(err))
		return
	}
	e.l.Info("exported after save", zap.String("archive", archive))
}
