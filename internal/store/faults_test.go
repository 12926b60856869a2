package store

import (
	"errors"
	"os"
	"slices"
	"strings"
	"testing"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"

	"github.com/maruel/facedb/internal/codec"
)

var errInjected = errors.New("injected failure")

// faultyFS is a memfs whose operations listed in fail return errInjected.
type faultyFS struct {
	billy.Filesystem
	fail map[string]bool
}

func (f *faultyFS) MkdirAll(name string, perm os.FileMode) error {
	if f.fail["mkdir"] {
		return errInjected
	}
	return f.Filesystem.MkdirAll(name, perm)
}

func (f *faultyFS) TempFile(dir, prefix string) (billy.File, error) {
	if f.fail["tempfile"] {
		return nil, errInjected
	}
	file, err := f.Filesystem.TempFile(dir, prefix)
	if err != nil || !f.fail["write"] {
		return file, err
	}
	return &faultyFile{File: file}, nil
}

func (f *faultyFS) Rename(from, to string) error {
	if f.fail["rename"] {
		return errInjected
	}
	return f.Filesystem.Rename(from, to)
}

func (f *faultyFS) Remove(name string) error {
	if f.fail["remove"] {
		return errInjected
	}
	return f.Filesystem.Remove(name)
}

type faultyFile struct {
	billy.File
}

func (f *faultyFile) Write([]byte) (int, error) {
	return 0, errInjected
}

// tempFiles returns the leftover temporary files in dir.
func tempFiles(t *testing.T, fsys billy.Filesystem, dir string) []string {
	t.Helper()
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir(%q) failed: %v", dir, err)
	}
	var out []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "."+DataFileName+".tmp") {
			out = append(out, e.Name())
		}
	}
	return out
}

func TestIOFailures(t *testing.T) {
	setup := func(t *testing.T) (*testStore, *faultyFS, *recorder) {
		t.Helper()
		fsys := &faultyFS{Filesystem: memfs.New(), fail: map[string]bool{}}
		s, err := NewFileStore[*person, *face](fsys, codec.JSON{})
		if err != nil {
			t.Fatalf("failed to create store: %v", err)
		}
		if err := s.SaveAggregate(Aggregate[*person, *face]{
			Subject: newPerson("alice", 1),
			Samples: []*face{newFace("f1", 1), newFace("f2", 1)},
		}); err != nil {
			t.Fatal(err)
		}
		rec := &recorder{}
		s.AddListener(rec)
		return s, fsys, rec
	}

	t.Run("SaveSubject", func(t *testing.T) {
		for _, op := range []string{"mkdir", "tempfile", "write", "rename"} {
			t.Run(op, func(t *testing.T) {
				s, fsys, rec := setup(t)
				fsys.fail[op] = true
				if err := s.SaveSubject(newPerson("alice", 2)); !errors.Is(err, errInjected) {
					t.Fatalf("SaveSubject(alice) error = %v, want injected failure", err)
				}
				if err := s.SaveSubject(newPerson("bob", 1)); !errors.Is(err, errInjected) {
					t.Fatalf("SaveSubject(bob) error = %v, want injected failure", err)
				}
				if got := rec.log(); len(got) != 0 {
					t.Errorf("listeners notified: %q", got)
				}
				fsys.fail[op] = false
				if got := mustSubject(t, s, "alice"); !got.UpdateTime.Equal(at(1)) {
					t.Errorf("alice was modified: %+v", got)
				}
				if _, ok, err := s.Subject("bob"); err != nil || ok {
					t.Errorf("Subject(bob) = ok %v, err %v; want absent", ok, err)
				}
				if tmp := tempFiles(t, fsys, "alice"); len(tmp) != 0 {
					t.Errorf("temporary files left behind: %v", tmp)
				}
			})
		}
	})

	t.Run("DeleteSubject", func(t *testing.T) {
		s, fsys, rec := setup(t)
		fsys.fail["remove"] = true
		if err := s.DeleteSubject("alice"); !errors.Is(err, errInjected) {
			t.Fatalf("DeleteSubject error = %v, want injected failure", err)
		}
		if got := rec.log(); len(got) != 0 {
			t.Errorf("listeners notified: %q", got)
		}
		mustSubject(t, s, "alice")
	})

	t.Run("ClearSamples", func(t *testing.T) {
		s, fsys, rec := setup(t)
		fsys.fail["remove"] = true
		if err := s.ClearSamples("alice"); !errors.Is(err, errInjected) {
			t.Fatalf("ClearSamples error = %v, want injected failure", err)
		}
		if got := rec.log(); len(got) != 0 {
			t.Errorf("listeners notified: %q", got)
		}
		ids, err := s.SampleIDs("alice")
		if err != nil {
			t.Fatal(err)
		}
		if !slices.Equal(ids, []string{"f1", "f2"}) {
			t.Errorf("SampleIDs(alice) = %v, want [f1 f2]", ids)
		}
	})
}
