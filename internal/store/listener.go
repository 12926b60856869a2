package store

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Listener reacts to mutations that were applied to a store.
//
// Hooks run synchronously after the mutation is final, so a returned error
// never rolls anything back. A [FileStore] calls them while holding the lock
// of the subject involved: a hook must not write to the store notifying it.
// Embed [BaseListener] to implement only some hooks.
type Listener[S, F Record] interface {
	OnSubjectUpdate(s S) error
	OnSampleUpdate(subjectID string, f F) error
	// OnAggregateDelete is called when a subject and all its samples are removed.
	OnAggregateDelete(subjectID string) error
	OnSampleDelete(subjectID, sampleID string) error
	// OnSamplesCleared is called once per ClearSamples, not once per sample.
	OnSamplesCleared(subjectID string) error
}

// BaseListener implements every [Listener] hook as a no-op.
type BaseListener[S, F Record] struct{}

// OnSubjectUpdate implements [Listener].
func (BaseListener[S, F]) OnSubjectUpdate(S) error { return nil }

// OnSampleUpdate implements [Listener].
func (BaseListener[S, F]) OnSampleUpdate(string, F) error { return nil }

// OnAggregateDelete implements [Listener].
func (BaseListener[S, F]) OnAggregateDelete(string) error { return nil }

// OnSampleDelete implements [Listener].
func (BaseListener[S, F]) OnSampleDelete(string, string) error { return nil }

// OnSamplesCleared implements [Listener].
func (BaseListener[S, F]) OnSamplesCleared(string) error { return nil }

// ListenerFuncs adapts optional functions to a [Listener]. Nil fields are no-ops.
type ListenerFuncs[S, F Record] struct {
	SubjectUpdate   func(s S) error
	SampleUpdate    func(subjectID string, f F) error
	AggregateDelete func(subjectID string) error
	SampleDelete    func(subjectID, sampleID string) error
	SamplesCleared  func(subjectID string) error
}

// OnSubjectUpdate implements [Listener].
func (l *ListenerFuncs[S, F]) OnSubjectUpdate(s S) error {
	if l.SubjectUpdate == nil {
		return nil
	}
	return l.SubjectUpdate(s)
}

// OnSampleUpdate implements [Listener].
func (l *ListenerFuncs[S, F]) OnSampleUpdate(subjectID string, f F) error {
	if l.SampleUpdate == nil {
		return nil
	}
	return l.SampleUpdate(subjectID, f)
}

// OnAggregateDelete implements [Listener].
func (l *ListenerFuncs[S, F]) OnAggregateDelete(subjectID string) error {
	if l.AggregateDelete == nil {
		return nil
	}
	return l.AggregateDelete(subjectID)
}

// OnSampleDelete implements [Listener].
func (l *ListenerFuncs[S, F]) OnSampleDelete(subjectID, sampleID string) error {
	if l.SampleDelete == nil {
		return nil
	}
	return l.SampleDelete(subjectID, sampleID)
}

// OnSamplesCleared implements [Listener].
func (l *ListenerFuncs[S, F]) OnSamplesCleared(subjectID string) error {
	if l.SamplesCleared == nil {
		return nil
	}
	return l.SamplesCleared(subjectID)
}

// NotifyError collects the failures of the listeners of a single notification.
type NotifyError struct {
	Errs []error
}

func (e *NotifyError) Error() string {
	msgs := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%d listener(s) failed: %s", len(e.Errs), strings.Join(msgs, "; "))
}

func (e *NotifyError) Unwrap() []error {
	return e.Errs
}

type listenerEntry[S, F Record] struct {
	id int
	l  Listener[S, F]
}

// Listeners is an ordered, concurrent-safe listener registry.
//
// The zero value is ready to use.
type Listeners[S, F Record] struct {
	mu      sync.Mutex
	nextID  int
	entries []listenerEntry[S, F]
}

// Add appends l and returns a function removing it. Calling the returned
// function more than once is harmless.
func (ls *Listeners[S, F]) Add(l Listener[S, F]) (remove func()) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.nextID++
	id := ls.nextID
	ls.entries = append(ls.entries, listenerEntry[S, F]{id: id, l: l})
	return func() { ls.remove(id) }
}

func (ls *Listeners[S, F]) remove(id int) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	for i, e := range ls.entries {
		if e.id == id {
			// Copy so snapshots handed to Notify are never mutated.
			entries := make([]listenerEntry[S, F], 0, len(ls.entries)-1)
			entries = append(entries, ls.entries[:i]...)
			ls.entries = append(entries, ls.entries[i+1:]...)
			return
		}
	}
}

// Len returns the number of registered listeners.
func (ls *Listeners[S, F]) Len() int {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.entries)
}

// Notify calls fn for every listener in registration order.
//
// It iterates a snapshot taken before the first call, so listeners may add or
// remove listeners from inside a hook. A failing or panicking listener does
// not prevent the following ones from running; all failures are returned as a
// *NotifyError.
func (ls *Listeners[S, F]) Notify(fn func(Listener[S, F]) error) error {
	ls.mu.Lock()
	snapshot := ls.entries[:len(ls.entries):len(ls.entries)]
	ls.mu.Unlock()

	var errs []error
	for i, e := range snapshot {
		if err := callListener(e.l, fn); err != nil {
			slog.Warn("listener failed", "index", i, "err", err)
			errs = append(errs, fmt.Errorf("listener %d: %w", i, err))
		}
	}
	if len(errs) != 0 {
		return &NotifyError{Errs: errs}
	}
	return nil
}

func callListener[S, F Record](l Listener[S, F], fn func(Listener[S, F]) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(l)
}
