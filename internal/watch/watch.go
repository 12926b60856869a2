// Package watch turns changes made to a store directory by other processes
// into listener notifications.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/maruel/facedb/internal/paths"
	"github.com/maruel/facedb/internal/store"
)

type key struct {
	subject string
	// sample is empty for the subject record itself.
	sample string
}

// Watcher reports subject and sample changes found under a store root.
//
// Updates are reported once per new update time. Deletions are reported once
// per record that was previously seen.
type Watcher[S, F store.Record] struct {
	root      string
	r         store.Reader[S, F]
	listeners *store.Listeners[S, F]
	fw        *fsnotify.Watcher

	// known is only accessed from the goroutine running Run after New returns.
	known map[key]time.Time
}

// New watches the store rooted at dir. r must read the same tree, usually a
// store.FileStore opened on dir.
//
// Records present when New returns are considered known and are not reported.
func New[S, F store.Record](dir string, r store.Reader[S, F], listeners *store.Listeners[S, F]) (*Watcher[S, F], error) {
	if r == nil || listeners == nil {
		return nil, errors.New("reader and listeners are required")
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	w := &Watcher[S, F]{root: root, r: r, listeners: listeners, fw: fw, known: map[key]time.Time{}}
	if err := fw.Add(root); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", root, err)
	}
	w.scan(context.Background(), false)
	return w, nil
}

// Close stops watching. It is safe to call after Run returned.
func (w *Watcher[S, F]) Close() error {
	return w.fw.Close()
}

// Run processes filesystem events until ctx is done, then closes the watcher.
func (w *Watcher[S, F]) Run(ctx context.Context) error {
	defer func() { _ = w.fw.Close() }()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, event)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				slog.WarnContext(ctx, "Watch queue overflowed, rescanning", "root", w.root)
				w.scan(ctx, true)
				continue
			}
			slog.WarnContext(ctx, "Error watching store", "err", err)
		}
	}
}

func (w *Watcher[S, F]) handle(ctx context.Context, event fsnotify.Event) {
	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil || rel == "." {
		return
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if paths.ValidateID(parts[0]) != nil {
		return
	}
	slog.DebugContext(ctx, "Store event", "path", rel, "op", event.Op.String())
	switch len(parts) {
	case 1:
		if isDir(event.Name) {
			w.scanSubject(ctx, parts[0], true)
		} else {
			w.checkSubject(ctx, parts[0], true)
		}
	case 2:
		if parts[1] == store.DataFileName {
			w.checkSubject(ctx, parts[0], true)
			return
		}
		if paths.ValidateID(parts[1]) != nil {
			return
		}
		if isDir(event.Name) {
			w.scanSample(ctx, parts[0], parts[1], true)
		} else {
			w.checkSample(ctx, parts[0], parts[1], true)
		}
	case 3:
		if parts[2] == store.DataFileName && paths.ValidateID(parts[1]) == nil {
			w.checkSample(ctx, parts[0], parts[1], true)
		}
	}
}

// scan walks the whole tree, adding watches and reconciling known records.
func (w *Watcher[S, F]) scan(ctx context.Context, notify bool) {
	seen := map[string]bool{}
	for _, id := range subDirs(w.root) {
		seen[id] = true
		w.scanSubject(ctx, id, notify)
	}
	for k := range w.known {
		if k.sample == "" && !seen[k.subject] {
			w.checkSubject(ctx, k.subject, notify)
		}
	}
}

func (w *Watcher[S, F]) scanSubject(ctx context.Context, id string, notify bool) {
	dir := filepath.Join(w.root, id)
	w.watch(ctx, dir)
	w.checkSubject(ctx, id, notify)
	seen := map[string]bool{}
	for _, sid := range subDirs(dir) {
		seen[sid] = true
		w.scanSample(ctx, id, sid, notify)
	}
	for k := range w.known {
		if k.subject == id && k.sample != "" && !seen[k.sample] {
			w.checkSample(ctx, id, k.sample, notify)
		}
	}
}

func (w *Watcher[S, F]) scanSample(ctx context.Context, subjectID, sampleID string, notify bool) {
	w.watch(ctx, filepath.Join(w.root, subjectID, sampleID))
	w.checkSample(ctx, subjectID, sampleID, notify)
}

func (w *Watcher[S, F]) watch(ctx context.Context, dir string) {
	if err := w.fw.Add(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.WarnContext(ctx, "Failed to watch directory", "dir", dir, "err", err)
	}
}

// checkSubject reloads a subject and reports what changed since last seen.
func (w *Watcher[S, F]) checkSubject(ctx context.Context, id string, notify bool) {
	s, ok, err := w.r.Subject(id)
	if err != nil {
		slog.WarnContext(ctx, "Failed to load subject", "id", id, "err", err)
		return
	}
	k := key{subject: id}
	if !ok {
		if _, seen := w.known[k]; !seen {
			return
		}
		delete(w.known, k)
		for o := range w.known {
			if o.subject == id {
				delete(w.known, o)
			}
		}
		if notify {
			w.notify(ctx, func(l store.Listener[S, F]) error { return l.OnAggregateDelete(id) })
		}
		// Only the subject data file may be gone. Samples still on disk are
		// reported again so listeners end up with the same samples as the store.
		for _, sid := range subDirs(filepath.Join(w.root, id)) {
			w.checkSample(ctx, id, sid, notify)
		}
		return
	}
	if !w.remember(k, s.GetUpdateTime()) || !notify {
		return
	}
	w.notify(ctx, func(l store.Listener[S, F]) error { return l.OnSubjectUpdate(s) })
}

// checkSample reloads a sample and reports what changed since last seen.
func (w *Watcher[S, F]) checkSample(ctx context.Context, subjectID, sampleID string, notify bool) {
	f, ok, err := w.r.Sample(subjectID, sampleID)
	if err != nil {
		slog.WarnContext(ctx, "Failed to load sample", "subject", subjectID, "sample", sampleID, "err", err)
		return
	}
	k := key{subject: subjectID, sample: sampleID}
	if !ok {
		if _, seen := w.known[k]; !seen {
			return
		}
		delete(w.known, k)
		if notify {
			w.notify(ctx, func(l store.Listener[S, F]) error { return l.OnSampleDelete(subjectID, sampleID) })
		}
		return
	}
	if !w.remember(k, f.GetUpdateTime()) || !notify {
		return
	}
	w.notify(ctx, func(l store.Listener[S, F]) error { return l.OnSampleUpdate(subjectID, f) })
}

// remember records t for k and reports whether it is newer than what was known.
func (w *Watcher[S, F]) remember(k key, t time.Time) bool {
	if prev, seen := w.known[k]; seen && !prev.Before(t) {
		return false
	}
	w.known[k] = t
	return true
}

func (w *Watcher[S, F]) notify(ctx context.Context, fn func(store.Listener[S, F]) error) {
	if err := w.listeners.Notify(fn); err != nil {
		slog.WarnContext(ctx, "Listeners failed", "err", err)
	}
}

// subDirs lists the directories of dir with a valid identifier as name.
func subDirs(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && paths.ValidateID(e.Name()) == nil {
			out = append(out, e.Name())
		}
	}
	return out
}

func isDir(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && fi.IsDir()
}
