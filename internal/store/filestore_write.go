package store

import (
	"errors"
	"fmt"
	"path/filepath"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"github.com/maruel/facedb/internal/paths"
)

// SaveSubject implements [Writer].
func (s *FileStore[S, F]) SaveSubject(subject S) error {
	if isNil(subject) {
		return errors.New("subject is required")
	}
	if err := paths.ValidateID(subject.GetID()); err != nil {
		return err
	}
	if subject.GetUpdateTime().IsZero() {
		return errors.New("subject update time is required")
	}
	unlock := s.locks.lock(subject.GetID())
	defer unlock()
	applied, err := s.saveSubject(subject)
	if err != nil || !applied {
		return err
	}
	return s.listeners.Notify(func(l Listener[S, F]) error {
		return l.OnSubjectUpdate(subject)
	})
}

func (s *FileStore[S, F]) saveSubject(subject S) (bool, error) {
	id := subject.GetID()
	dir := paths.Join(id)
	old, ok, err := loadDataFile[S](s, id, dir)
	if err != nil {
		return false, err
	}
	if ok && !old.GetUpdateTime().Before(subject.GetUpdateTime()) {
		logStale("subject", dir, old, subject)
		return false, nil
	}
	if err := s.saveDataFile(dir, subject); err != nil {
		return false, err
	}
	return true, nil
}

// SaveSample implements [Writer].
//
// The owning subject does not need to exist yet; the sample only becomes
// reachable through SubjectIDs once the subject is saved.
func (s *FileStore[S, F]) SaveSample(subjectID string, sample F) error {
	if isNil(sample) {
		return errors.New("sample is required")
	}
	if err := paths.ValidateIDs(subjectID, sample.GetID()); err != nil {
		return err
	}
	if sample.GetUpdateTime().IsZero() {
		return errors.New("sample update time is required")
	}
	// Samples share the subject lock so DeleteSubject cannot interleave.
	unlock := s.locks.lock(subjectID)
	defer unlock()
	applied, err := s.saveSample(subjectID, sample)
	if err != nil || !applied {
		return err
	}
	return s.listeners.Notify(func(l Listener[S, F]) error {
		return l.OnSampleUpdate(subjectID, sample)
	})
}

func (s *FileStore[S, F]) saveSample(subjectID string, sample F) (bool, error) {
	id := sample.GetID()
	dir := paths.Join(subjectID, id)
	old, ok, err := loadDataFile[F](s, id, dir)
	if err != nil {
		return false, err
	}
	if ok && !old.GetUpdateTime().Before(sample.GetUpdateTime()) {
		logStale("sample", dir, old, sample)
		return false, nil
	}
	if err := s.saveDataFile(dir, sample); err != nil {
		return false, err
	}
	return true, nil
}

// SaveAggregate implements [Writer].
//
// The subject and each sample go through their own timestamp check. This is
// not a transaction: every sample is attempted even if an earlier one failed,
// and the failures are returned joined. Samples are skipped only when the
// subject itself could not be saved.
func (s *FileStore[S, F]) SaveAggregate(a Aggregate[S, F]) error {
	var errs []error
	if err := s.SaveSubject(a.Subject); err != nil {
		var ne *NotifyError
		if !errors.As(err, &ne) {
			return err
		}
		errs = append(errs, err)
	}
	subjectID := a.Subject.GetID()
	for _, f := range a.Samples {
		if err := s.SaveSample(subjectID, f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DeleteSubject implements [Writer].
//
// Deleting an absent subject is a no-op and notifies nobody.
func (s *FileStore[S, F]) DeleteSubject(id string) error {
	if err := paths.ValidateID(id); err != nil {
		return err
	}
	unlock := s.locks.lock(id)
	defer unlock()
	removed, err := s.removeDir(paths.Join(id))
	if err != nil || !removed {
		return err
	}
	return s.listeners.Notify(func(l Listener[S, F]) error {
		return l.OnAggregateDelete(id)
	})
}

// DeleteSample implements [Writer].
func (s *FileStore[S, F]) DeleteSample(subjectID, sampleID string) error {
	if err := paths.ValidateIDs(subjectID, sampleID); err != nil {
		return err
	}
	unlock := s.locks.lock(subjectID)
	defer unlock()
	removed, err := s.removeDir(paths.Join(subjectID, sampleID))
	if err != nil || !removed {
		return err
	}
	return s.listeners.Notify(func(l Listener[S, F]) error {
		return l.OnSampleDelete(subjectID, sampleID)
	})
}

// ClearSamples implements [Writer].
//
// Every listed sample directory is removed; the subject itself is kept.
// Listeners get a single OnSamplesCleared, not one call per sample.
func (s *FileStore[S, F]) ClearSamples(subjectID string) error {
	if err := paths.ValidateID(subjectID); err != nil {
		return err
	}
	unlock := s.locks.lock(subjectID)
	defer unlock()
	cleared, err := s.clearSamples(subjectID)
	if err != nil || !cleared {
		return err
	}
	return s.listeners.Notify(func(l Listener[S, F]) error {
		return l.OnSamplesCleared(subjectID)
	})
}

func (s *FileStore[S, F]) clearSamples(subjectID string) (bool, error) {
	dir := paths.Join(subjectID)
	exists, err := s.dirExists(dir)
	if err != nil || !exists {
		return false, err
	}
	ids, err := s.listValidSubDirs(dir)
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		p := paths.Join(dir, id)
		if err := util.RemoveAll(s.fs, p); err != nil {
			return false, fmt.Errorf("failed to delete %q: %w", p, err)
		}
	}
	return true, nil
}

// removeDir recursively deletes dir and reports whether it existed.
func (s *FileStore[S, F]) removeDir(dir string) (bool, error) {
	exists, err := s.dirExists(dir)
	if err != nil || !exists {
		return false, err
	}
	if err := util.RemoveAll(s.fs, dir); err != nil {
		return false, fmt.Errorf("failed to delete %q: %w", dir, err)
	}
	return true, nil
}

// saveDataFile encodes r into dir/data.json, creating dir as needed.
//
// The bytes go to a temporary file in dir which is then renamed over the data
// file, so readers never observe a partially written record.
func (s *FileStore[S, F]) saveDataFile(dir string, r Record) error {
	data, err := s.codec.Encode(r)
	if err != nil {
		return err
	}
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %q: %w", dir, err)
	}
	p := paths.Join(dir, DataFileName)
	if err := writeFileAtomic(s.fs, p, data); err != nil {
		return fmt.Errorf("failed to write %q: %w", p, err)
	}
	return nil
}

func writeFileAtomic(fsys billy.Filesystem, name string, data []byte) (err error) {
	f, err := fsys.TempFile(filepath.Dir(name), "."+DataFileName+".tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			_ = fsys.Remove(tmp)
		}
	}()
	if _, err = f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	if c, ok := fsys.(billy.Change); ok {
		// TempFile creates files readable by the owner only.
		if err = c.Chmod(tmp, 0o644); err != nil {
			return err
		}
	}
	return fsys.Rename(tmp, name)
}
