package lexicon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Reloading is a Table backed by a YAML file that is re-read whenever the
// file changes. A file that fails to parse leaves the previous table in place.
type Reloading struct {
	path    string
	current atomic.Pointer[Map]
	log     *slog.Logger
	watcher *fsnotify.Watcher

	// reloaded, when set, receives the outcome of every reload attempt.
	reloaded func(error)
}

var _ Table = (*Reloading)(nil)

// ReloadOption configures a Reloading table.
type ReloadOption func(*Reloading)

// WithReloadLogger sets the logger used for reload events.
func WithReloadLogger(l *slog.Logger) ReloadOption {
	return func(r *Reloading) {
		if l != nil {
			r.log = l
		}
	}
}

// WithReloadCallback registers fn to be called after every reload attempt.
func WithReloadCallback(fn func(error)) ReloadOption {
	return func(r *Reloading) { r.reloaded = fn }
}

// NewReloading loads path and starts watching its directory. Call Run to
// process change events and Close to release the watcher.
func NewReloading(path string, opts ...ReloadOption) (*Reloading, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve lexicon path: %w", err)
	}
	r := &Reloading{path: abs, log: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}

	m, err := LoadFile(abs)
	if err != nil {
		return nil, err
	}
	r.current.Store(&m)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory so atomic replace-by-rename is observed.
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	r.watcher = w
	return r, nil
}

// Lookup implements Table against the most recently loaded dictionary.
func (r *Reloading) Lookup(ctx context.Context, words []string) (map[string]string, error) {
	return (*r.current.Load()).Lookup(ctx, words)
}

// Snapshot returns the currently active dictionary.
func (r *Reloading) Snapshot() Map {
	return *r.current.Load()
}

// Run processes file events until ctx is done or the watcher is closed.
func (r *Reloading) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != r.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			r.reload(ctx)
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			r.log.WarnContext(ctx, "lexicon.watch.fail", slog.String("err", err.Error()))
		}
	}
}

func (r *Reloading) reload(ctx context.Context) {
	m, err := LoadFile(r.path)
	if err != nil {
		r.log.WarnContext(ctx, "lexicon.reload.fail", slog.String("path", r.path), slog.String("err", err.Error()))
	} else {
		r.current.Store(&m)
		r.log.InfoContext(ctx, "lexicon.reload.ok", slog.String("path", r.path), slog.Int("symbols", len(m)))
	}
	if r.reloaded != nil {
		r.reloaded(err)
	}
}

// Close stops watching the file.
func (r *Reloading) Close() error {
	return r.watcher.Close()
}
