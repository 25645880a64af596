// Package watcher turns fsnotify notifications for a project tree into index
// events.
//
// Directories are watched recursively and new directories are picked up as
// they appear. Bursts of writes to one file collapse into a single event
// once the file has been quiet for the debounce interval. A rename is held
// for a short window: if a create follows within it the pair is reported as
// one EventMoved, otherwise the source is reported deleted.
package watcher

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dshills/codelocal/pkg/types"
)

const (
	// DefaultDebounce is the quiet period before a changed file is reported
	DefaultDebounce = 250 * time.Millisecond
	// DefaultPairWindow is how long a rename waits for its matching create
	DefaultPairWindow = 100 * time.Millisecond
)

// Filter decides which paths are of interest. Paths are slash separated and
// relative to the watched root.
type Filter interface {
	Indexable(rel string) bool
	SkipDir(name string) bool
}

// Sink receives events, typically indexer.Engine
type Sink interface {
	Submit(ctx context.Context, ev types.Event) error
}

// Options configures a Watcher
type Options struct {
	Debounce   time.Duration // default DefaultDebounce
	PairWindow time.Duration // default DefaultPairWindow
	Logger     *slog.Logger
}

type pendingWrite struct {
	kind types.EventKind
	due  time.Time
}

type pendingRename struct {
	rel      string
	due      time.Time
	hadWrite bool
}

// Watcher watches a directory tree. Run must be called at most once.
type Watcher struct {
	root   string
	filter Filter
	sink   Sink
	opts   Options
	logger *slog.Logger
	fsw    *fsnotify.Watcher

	// owned by the Run goroutine
	writes  map[string]*pendingWrite
	renames []pendingRename
}

// New creates a watcher over root and registers every directory the filter
// does not skip
func New(root string, filter Filter, sink Sink, opts Options) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch root %s is not a directory", abs)
	}

	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.PairWindow <= 0 {
		opts.PairWindow = DefaultPairWindow
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	w := &Watcher{
		root:   abs,
		filter: filter,
		sink:   sink,
		opts:   opts,
		logger: logger,
		fsw:    fsw,
		writes: make(map[string]*pendingWrite),
	}
	if err := w.fsw.Add(abs); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", abs, err)
	}
	w.watchTree(abs)
	return w, nil
}

// Run delivers events to the sink until ctx is done, the sink refuses an
// event or the fsnotify watcher fails. It closes the watcher on return.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.fsw.Close() }()

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	w.logger.Info("watching project", "root", w.root, "directories", len(w.fsw.WatchList()))
	for {
		var out []types.Event
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			out = w.handle(ev, time.Now())
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			// an overflow loses events; the next scan repairs the index
			w.logger.Warn("file watcher error", "error", err)
		case <-timer.C:
			out = w.expire(time.Now())
		}

		if err := w.emit(ctx, out); err != nil {
			return err
		}
		if due, ok := w.nextDeadline(); ok {
			timer.Reset(max(time.Until(due), 0))
		} else {
			timer.Stop()
		}
	}
}

// Close releases the fsnotify watcher of a watcher that was never run
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

func (w *Watcher) emit(ctx context.Context, events []types.Event) error {
	for _, ev := range events {
		w.logger.Debug("file event", "event", ev.String())
		if err := w.sink.Submit(ctx, ev); err != nil {
			return fmt.Errorf("submit %s: %w", ev, err)
		}
	}
	return nil
}

// handle updates pending state for one notification and returns the events
// that are ready immediately
func (w *Watcher) handle(ev fsnotify.Event, now time.Time) []types.Event {
	rel, ok := w.rel(ev.Name)
	if !ok || !w.relevant(rel) {
		return nil
	}

	switch {
	case ev.Has(fsnotify.Create):
		isDir := false
		if info, err := os.Lstat(ev.Name); err == nil && info.IsDir() {
			isDir = true
			w.watchTree(ev.Name)
		}
		if len(w.renames) > 0 {
			r := w.renames[0]
			w.renames = w.renames[1:]
			if !isDir {
				// re-check the content so a mispaired rename still converges
				w.schedule(rel, types.EventContentChanged, now)
			}
			return []types.Event{{Kind: types.EventMoved, OldPath: r.rel, Path: rel}}
		}
		if isDir {
			// files written before the watch was added are only found this way
			return []types.Event{{Kind: types.EventCreated, Path: rel}}
		}
		if w.filter.Indexable(rel) {
			w.schedule(rel, types.EventCreated, now)
		}

	case ev.Has(fsnotify.Write):
		if w.filter.Indexable(rel) {
			w.schedule(rel, types.EventContentChanged, now)
		}

	case ev.Has(fsnotify.Remove):
		delete(w.writes, rel)
		w.unwatch(ev.Name)
		return []types.Event{{Kind: types.EventDeleted, Path: rel}}

	case ev.Has(fsnotify.Rename):
		_, had := w.writes[rel]
		delete(w.writes, rel)
		w.unwatch(ev.Name)
		w.renames = append(w.renames, pendingRename{rel: rel, due: now.Add(w.opts.PairWindow), hadWrite: had})
	}
	return nil
}

// schedule records a change to rel, pushing its deadline back. A pending
// create stays a create.
func (w *Watcher) schedule(rel string, kind types.EventKind, now time.Time) {
	due := now.Add(w.opts.Debounce)
	if p, ok := w.writes[rel]; ok {
		p.due = due
		return
	}
	w.writes[rel] = &pendingWrite{kind: kind, due: due}
}

// expire returns the writes that have been quiet long enough and reports
// unpaired renames as deletes
func (w *Watcher) expire(now time.Time) []types.Event {
	var out []types.Event

	kept := w.renames[:0]
	for _, r := range w.renames {
		if r.due.After(now) {
			kept = append(kept, r)
			continue
		}
		out = append(out, types.Event{Kind: types.EventDeleted, Path: r.rel})
	}
	w.renames = kept

	var ready []string
	for rel, p := range w.writes {
		if !p.due.After(now) {
			ready = append(ready, rel)
		}
	}
	slices.Sort(ready)
	for _, rel := range ready {
		out = append(out, types.Event{Kind: w.writes[rel].kind, Path: rel})
		delete(w.writes, rel)
	}
	return out
}

// nextDeadline returns the earliest pending deadline
func (w *Watcher) nextDeadline() (time.Time, bool) {
	var next time.Time
	found := false
	consider := func(t time.Time) {
		if !found || t.Before(next) {
			next, found = t, true
		}
	}
	for _, r := range w.renames {
		consider(r.due)
	}
	for _, p := range w.writes {
		consider(p.due)
	}
	return next, found
}

// rel converts an fsnotify path to a root-relative slash path
func (w *Watcher) rel(name string) (string, bool) {
	r, err := filepath.Rel(w.root, name)
	if err != nil {
		return "", false
	}
	r = filepath.ToSlash(r)
	if r == "." || r == ".." || strings.HasPrefix(r, "../") {
		return "", false
	}
	return r, true
}

// relevant reports whether no segment of rel is a skipped directory
func (w *Watcher) relevant(rel string) bool {
	for _, seg := range strings.Split(rel, "/") {
		if w.filter.SkipDir(seg) {
			return false
		}
	}
	return true
}

// watchTree adds dir and every directory beneath it that is not skipped
func (w *Watcher) watchTree(dir string) {
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			w.logger.Warn("skipping unreadable directory", "path", path, "error", err)
			if d != nil && d.IsDir() && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && w.filter.SkipDir(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			w.logger.Warn("failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
	if err != nil {
		w.logger.Warn("walk failed", "path", dir, "error", err)
	}
}

// unwatch drops the watches on path and beneath it
func (w *Watcher) unwatch(path string) {
	prefix := path + string(filepath.Separator)
	for _, p := range w.fsw.WatchList() {
		if p == path || strings.HasPrefix(p, prefix) {
			_ = w.fsw.Remove(p)
		}
	}
}
