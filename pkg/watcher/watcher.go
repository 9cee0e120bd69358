// Package watcher surfaces document save events for tracked archives.
//
// CAD applications save an archive as a burst of writes, often through a
// temporary file and a rename. The local Watcher turns such a burst into
// a single notification once the file stays quiet, with a per-archive
// limiter capping how often a chatty application can fire. The Exporter
// drains notifications and keeps the expanded trees exported.
package watcher

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cadops/cadet/pkg/errors"
	"github.com/cadops/cadet/pkg/model"
	"github.com/fsnotify/fsnotify"
	"github.com/imdario/mergo"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const eventBuffer = 16

// Event reports a saved archive
type Event struct {
	// Archive is the absolute path of the saved archive file
	Archive string

	// At is when the save settled
	At time.Time
}

// Notifier supplies document save events for tracked archives. The local
// Watcher implements it over file system notifications, an integration
// may substitute its own source.
type Notifier interface {
	Events() <-chan Event
	Close() error
}

// Options tune a Watcher. Zero fields take defaults.
type Options struct {
	// QuietPeriod is how long an archive must stay quiet after its last
	// write before the save is reported.
	QuietPeriod time.Duration

	// MinGap is the smallest interval between two reports for the same
	// archive. Saves arriving faster stay pending until the limiter
	// admits them.
	MinGap time.Duration

	// Burst is the number of reports the limiter admits back to back.
	Burst int

	// Logger receives watch diagnostics.
	Logger *zap.Logger
}

var defaultOptions = Options{
	QuietPeriod: 2 * time.Second,
	MinGap:      5 * time.Second,
	Burst:       1,
}

func (o Options) withDefaults() (Options, error) {
	if o.QuietPeriod < 0 || o.MinGap < 0 || o.Burst < 0 {
		return o, errors.New("watch intervals must not be negative")
	}
	if err := mergo.Merge(&o, defaultOptions); err != nil {
		return o, err
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o, nil
}

// Watcher is the local Notifier implementation. It binds to the real
// file system, a save is an operating system observation.
type Watcher struct {
	dir    string
	cfg    model.Config
	opts   Options
	fw     *fsnotify.Watcher
	events chan Event
	closed atomic.Bool
	l      *zap.Logger
}

// New watches dir and its subdirectories for archive saves
func New(dir string, cfg model.Config, opts Options) (*Watcher, error) {
	o, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, errors.New("watch target is not a directory").WrapMessage("%s", abs)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		dir:    abs,
		cfg:    cfg,
		opts:   o,
		fw:     fw,
		events: make(chan Event, eventBuffer),
		l:      o.Logger,
	}
	if err := w.addTree(abs, nil); err != nil {
		_ = fw.Close()
		return nil, err
	}
	go w.loop()
	w.l.Info("watching for archive saves", zap.String("dir", abs))
	return w, nil
}

// Events streams settled saves. The channel closes after Close.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Close stops the watch and ends the event stream
func (w *Watcher) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	return w.fw.Close()
}

func (w *Watcher) loop() {
	defer close(w.events)
	interval := w.opts.QuietPeriod / 2
	if interval < 25*time.Millisecond {
		interval = 25 * time.Millisecond
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()

	pending := make(map[string]time.Time)
	limiters := make(map[string]*rate.Limiter)
	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			w.handle(ev, pending)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.l.Warn("file watch error", zap.Error(err))
		case now := <-tick.C:
			w.flush(now, pending, limiters)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event, pending map[string]time.Time) {
	name := ev.Name
	if ev.Op&fsnotify.Create != 0 {
		if fi, err := os.Stat(name); err == nil && fi.IsDir() {
			if !w.watchable(name) {
				return
			}
			// files already inside count as saves, they appeared
			// while no watch covered them
			if err := w.addTree(name, pending); err != nil {
				w.l.Warn("could not watch new directory",
					zap.String("dir", name),
					zap.Error(err))
			}
			return
		}
	}
	if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		// rename reports the old name, a create follows for the new one
		delete(pending, name)
		return
	}
	if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}
	if !w.matches(name) {
		return
	}
	pending[name] = time.Now()
}

// flush reports every pending save whose quiet period elapsed and whose
// limiter admits it. Denied or undeliverable saves stay pending for a
// later tick.
func (w *Watcher) flush(now time.Time, pending map[string]time.Time, limiters map[string]*rate.Limiter) {
	for name, last := range pending {
		if now.Sub(last) < w.opts.QuietPeriod {
			continue
		}
		lim, ok := limiters[name]
		if !ok {
			lim = rate.NewLimiter(rate.Every(w.opts.MinGap), w.opts.Burst)
			limiters[name] = lim
		}
		if !lim.Allow() {
			continue
		}
		select {
		case w.events <- Event{Archive: name, At: now}:
			delete(pending, name)
		default:
			w.l.Debug("save report deferred, consumer busy",
				zap.String("archive", name))
		}
	}
}

// addTree registers dir and its subdirectories with the notification
// backend. When pending is given, matching files already present are
// recorded as saves.
func (w *Watcher) addTree(dir string, pending map[string]time.Time) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if !w.watchable(p) {
				return filepath.SkipDir
			}
			return w.fw.Add(p)
		}
		if pending != nil && w.matches(p) {
			pending[p] = time.Now()
		}
		return nil
	})
}

// watchable keeps git internals and expanded trees out of the watch,
// tree writes are not document saves.
func (w *Watcher) watchable(dir string) bool {
	base := filepath.Base(dir)
	if base == ".git" {
		return false
	}
	return w.cfg.Suffix == "" || !strings.HasSuffix(base, w.cfg.Suffix)
}

func (w *Watcher) matches(name string) bool {
	rel, err := filepath.Rel(w.dir, name)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false
	}
	return model.MatchesAny(w.cfg.ArchivePatterns, model.ToSlash(rel))
}
