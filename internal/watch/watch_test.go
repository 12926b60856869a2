package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/maruel/facedb/internal/codec"
	"github.com/maruel/facedb/internal/models"
	"github.com/maruel/facedb/internal/store"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func at(n int) time.Time {
	return t0.Add(time.Duration(n) * time.Second)
}

type fixture struct {
	dir    string
	writer *store.FileStore[*models.Person, *models.Face]
	events chan string
}

// start opens a store in a temporary directory, lets prepare seed it, then
// runs a Watcher on it until the test ends.
func start(t *testing.T, prepare func(f *fixture)) *fixture {
	t.Helper()
	dir := t.TempDir()
	writer, err := store.Open[*models.Person, *models.Face](dir, codec.JSON{})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	f := &fixture{dir: dir, writer: writer, events: make(chan string, 100)}
	if prepare != nil {
		prepare(f)
	}
	// A second store instance stands for the process observing the changes.
	reader, err := store.Open[*models.Person, *models.Face](dir, codec.JSON{})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	var ls store.Listeners[*models.Person, *models.Face]
	ls.Add(&store.ListenerFuncs[*models.Person, *models.Face]{
		SubjectUpdate: func(p *models.Person) error {
			f.events <- fmt.Sprintf("subject:%s@%d", p.ID, p.UpdateTime.Sub(t0)/time.Second)
			return nil
		},
		SampleUpdate: func(subjectID string, s *models.Face) error {
			f.events <- fmt.Sprintf("sample:%s/%s@%d", subjectID, s.ID, s.UpdateTime.Sub(t0)/time.Second)
			return nil
		},
		AggregateDelete: func(subjectID string) error {
			f.events <- "delete:" + subjectID
			return nil
		},
		SampleDelete: func(subjectID, sampleID string) error {
			f.events <- "delete:" + subjectID + "/" + sampleID
			return nil
		},
	})
	w, err := New[*models.Person, *models.Face](dir, reader, &ls)
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return f
}

// expect waits for want, failing on timeout. Other events are returned.
func (f *fixture) expect(t *testing.T, want string) []string {
	t.Helper()
	var others []string
	timeout := time.After(10 * time.Second)
	for {
		select {
		case got := <-f.events:
			if got == want {
				return others
			}
			others = append(others, got)
		case <-timeout:
			t.Fatalf("timed out waiting for %q; got %q", want, others)
			return nil
		}
	}
}

func TestWatcher(t *testing.T) {
	f := start(t, func(f *fixture) {
		if err := f.writer.SaveSubject(&models.Person{ID: "alice", CreateTime: t0, UpdateTime: at(1)}); err != nil {
			t.Fatal(err)
		}
	})

	if err := f.writer.SaveSubject(&models.Person{ID: "alice", CreateTime: t0, UpdateTime: at(2)}); err != nil {
		t.Fatal(err)
	}
	if others := f.expect(t, "subject:alice@2"); len(others) != 0 {
		t.Errorf("unexpected events %q", others)
	}

	// New subject and sample directories are picked up.
	if err := f.writer.SaveSample("bob", &models.Face{ID: "f1", CreateTime: t0, UpdateTime: at(1)}); err != nil {
		t.Fatal(err)
	}
	if others := f.expect(t, "sample:bob/f1@1"); len(others) != 0 {
		t.Errorf("unexpected events %q", others)
	}
	if err := f.writer.SaveSubject(&models.Person{ID: "bob", CreateTime: t0, UpdateTime: at(1)}); err != nil {
		t.Fatal(err)
	}
	if others := f.expect(t, "subject:bob@1"); len(others) != 0 {
		t.Errorf("unexpected events %q", others)
	}

	if err := f.writer.DeleteSample("bob", "f1"); err != nil {
		t.Fatal(err)
	}
	if others := f.expect(t, "delete:bob/f1"); len(others) != 0 {
		t.Errorf("unexpected events %q", others)
	}

	if err := f.writer.DeleteSubject("alice"); err != nil {
		t.Fatal(err)
	}
	if others := f.expect(t, "delete:alice"); len(others) != 0 {
		t.Errorf("unexpected events %q", others)
	}

	// Hidden entries and stray files are ignored.
	if err := os.MkdirAll(filepath.Join(f.dir, ".git", "x"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(f.dir, "bob", "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	// An in-place edit with a later timestamp is reported once.
	data := fmt.Sprintf(`{"id":"bob","create_time":%q,"update_time":%q}`+"\n",
		t0.Format(time.RFC3339), at(5).Format(time.RFC3339))
	if err := os.WriteFile(filepath.Join(f.dir, "bob", store.DataFileName), []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	if others := f.expect(t, "subject:bob@5"); len(others) != 0 {
		t.Errorf("unexpected events %q", others)
	}
	// A sentinel proves nothing else was queued in between.
	if err := f.writer.SaveSubject(&models.Person{ID: "carol", CreateTime: t0, UpdateTime: at(1)}); err != nil {
		t.Fatal(err)
	}
	if others := f.expect(t, "subject:carol@1"); len(others) != 0 {
		t.Errorf("unexpected events %q", others)
	}
}

func TestSubjectFileRemoved(t *testing.T) {
	f := start(t, func(f *fixture) {
		if err := f.writer.SaveAggregate(store.Aggregate[*models.Person, *models.Face]{
			Subject: &models.Person{ID: "alice", CreateTime: t0, UpdateTime: at(1)},
			Samples: []*models.Face{{ID: "f1", CreateTime: t0, UpdateTime: at(1)}},
		}); err != nil {
			t.Fatal(err)
		}
	})

	// Removing only the subject data file leaves the samples in the store.
	if err := os.Remove(filepath.Join(f.dir, "alice", store.DataFileName)); err != nil {
		t.Fatal(err)
	}
	if others := f.expect(t, "delete:alice"); len(others) != 0 {
		t.Errorf("unexpected events %q", others)
	}
	if others := f.expect(t, "sample:alice/f1@1"); len(others) != 0 {
		t.Errorf("unexpected events %q", others)
	}
	ids, err := f.writer.SampleIDs("alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "f1" {
		t.Errorf("SampleIDs(alice) = %v, want [f1]", ids)
	}

	// Recreating the subject is reported as an update.
	if err := f.writer.SaveSubject(&models.Person{ID: "alice", CreateTime: t0, UpdateTime: at(2)}); err != nil {
		t.Fatal(err)
	}
	if others := f.expect(t, "subject:alice@2"); len(others) != 0 {
		t.Errorf("unexpected events %q", others)
	}
}

func TestNew(t *testing.T) {
	var ls store.Listeners[*models.Person, *models.Face]
	if _, err := New[*models.Person, *models.Face](t.TempDir(), nil, &ls); err == nil {
		t.Error("nil reader accepted")
	}
	s, err := store.Open[*models.Person, *models.Face](t.TempDir(), codec.JSON{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := New[*models.Person, *models.Face](filepath.Join(t.TempDir(), "missing"), s, &ls); err == nil {
		t.Error("missing root accepted")
	}
	w, err := New[*models.Person, *models.Face](t.TempDir(), s, &ls)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Error(err)
	}
}
