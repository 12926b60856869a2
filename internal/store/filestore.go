package store

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"reflect"
	"slices"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/maruel/facedb/internal/codec"
	"github.com/maruel/facedb/internal/paths"
)

// FileStore persists subjects and samples as data.json files in a directory tree.
//
// All I/O goes through a billy.Filesystem whose root is the store root. Paths
// are relative to it.
//
// A mutation keeps its subject locked until the listeners returned, so they
// see the changes of one subject in the order they reached the disk.
type FileStore[S, F Record] struct {
	fs        billy.Filesystem
	codec     codec.Codec
	locks     keyLock
	listeners Listeners[S, F]
}

// NewFileStore returns a store rooted at the root of fsys, creating it if needed.
func NewFileStore[S, F Record](fsys billy.Filesystem, c codec.Codec) (*FileStore[S, F], error) {
	if fsys == nil {
		return nil, errors.New("filesystem is required")
	}
	if c == nil {
		return nil, errors.New("codec is required")
	}
	if err := fsys.MkdirAll("", 0o755); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}
	return &FileStore[S, F]{fs: fsys, codec: c}, nil
}

// Open returns a store rooted at dir on the local filesystem.
func Open[S, F Record](dir string, c codec.Codec) (*FileStore[S, F], error) {
	return NewFileStore[S, F](osfs.New(dir), c)
}

// Filesystem returns the filesystem the store writes to.
func (s *FileStore[S, F]) Filesystem() billy.Filesystem {
	return s.fs
}

// AddListener implements [Listenable].
func (s *FileStore[S, F]) AddListener(l Listener[S, F]) (remove func()) {
	return s.listeners.Add(l)
}

// SubjectIDs implements [Reader].
func (s *FileStore[S, F]) SubjectIDs() ([]string, error) {
	return s.listValidSubDirs("")
}

// Subject implements [Reader].
func (s *FileStore[S, F]) Subject(id string) (S, bool, error) {
	var zero S
	if err := paths.ValidateID(id); err != nil {
		return zero, false, err
	}
	return loadDataFile[S](s, id, paths.Join(id))
}

// SampleIDs implements [Reader].
func (s *FileStore[S, F]) SampleIDs(subjectID string) ([]string, error) {
	if err := paths.ValidateID(subjectID); err != nil {
		return nil, err
	}
	return s.listValidSubDirs(paths.Join(subjectID))
}

// Sample implements [Reader].
func (s *FileStore[S, F]) Sample(subjectID, sampleID string) (F, bool, error) {
	var zero F
	if err := paths.ValidateIDs(subjectID, sampleID); err != nil {
		return zero, false, err
	}
	return loadDataFile[F](s, sampleID, paths.Join(subjectID, sampleID))
}

// Aggregate implements [Reader].
func (s *FileStore[S, F]) Aggregate(subjectID string) (Aggregate[S, F], bool, error) {
	if err := paths.ValidateID(subjectID); err != nil {
		return Aggregate[S, F]{}, false, err
	}
	return LoadAggregate[S, F](s, subjectID)
}

// listValidSubDirs returns the sorted names of the directories under dir that
// contain a data file. A missing dir yields an empty list.
func (s *FileStore[S, F]) listValidSubDirs(dir string) ([]string, error) {
	entries, err := s.fs.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list %q: %w", dir, err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || paths.ValidateID(e.Name()) != nil {
			continue
		}
		ok, err := s.dataFileExists(paths.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		if ok {
			ids = append(ids, e.Name())
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// dataFileExists reports whether dir holds a regular data file.
func (s *FileStore[S, F]) dataFileExists(dir string) (bool, error) {
	fi, err := s.fs.Stat(paths.Join(dir, DataFileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %q: %w", dir, err)
	}
	return fi.Mode().IsRegular(), nil
}

// dirExists reports whether dir exists and is a directory.
func (s *FileStore[S, F]) dirExists(dir string) (bool, error) {
	fi, err := s.fs.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %q: %w", dir, err)
	}
	return fi.IsDir(), nil
}

// loadDataFile reads and decodes dir/data.json. A missing file, or a data
// path that is not a regular file, is reported as absent.
func loadDataFile[T Record, S, F Record](s *FileStore[S, F], id, dir string) (T, bool, error) {
	var zero T
	p := paths.Join(dir, DataFileName)
	fi, err := s.fs.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return zero, false, nil
		}
		return zero, false, fmt.Errorf("failed to stat %q: %w", p, err)
	}
	if !fi.Mode().IsRegular() {
		return zero, false, nil
	}
	data, err := util.ReadFile(s.fs, p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return zero, false, nil
		}
		return zero, false, fmt.Errorf("failed to read %q: %w", p, err)
	}
	v, err := decodeRecord[T](s.codec, data, p)
	if err != nil {
		return zero, false, err
	}
	if got := v.GetID(); got != id {
		return zero, false, &codec.DecodeError{Path: p, Err: fmt.Errorf("record id %q does not match directory %q", got, id)}
	}
	return v, true, nil
}

// decodeRecord decodes data into a T and checks the fields every record needs.
func decodeRecord[T Record](c codec.Codec, data []byte, p string) (T, error) {
	var v T
	if err := c.Decode(data, &v); err != nil {
		var de *codec.DecodeError
		if errors.As(err, &de) {
			de.Path = p
			return v, de
		}
		return v, &codec.DecodeError{Path: p, Err: err}
	}
	switch {
	case isNil(v):
		return v, &codec.DecodeError{Path: p, Err: errors.New("empty record")}
	case v.GetID() == "":
		return v, &codec.DecodeError{Path: p, Err: errors.New("missing id")}
	case v.GetUpdateTime().IsZero():
		return v, &codec.DecodeError{Path: p, Err: errors.New("missing update time")}
	}
	return v, nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}

func logStale(kind, p string, stored, incoming Record) {
	slog.Debug("ignoring stale write", "kind", kind, "path", p,
		"stored", stored.GetUpdateTime(), "incoming", incoming.GetUpdateTime())
}

var _ ListenableReadWriter[Record, Record] = (*FileStore[Record, Record])(nil)
