// Package mirror keeps a SQLite copy of a store for fast reads.
//
// A Mirror is registered as a listener on the authoritative store and serves
// reads through the same interface, which makes it a natural read side for
// store.Composite.
package mirror

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"

	"github.com/maruel/facedb/internal/codec"
	"github.com/maruel/facedb/internal/paths"
	"github.com/maruel/facedb/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS subjects (
	id TEXT PRIMARY KEY,
	update_time INTEGER NOT NULL,
	data BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS samples (
	subject_id TEXT NOT NULL,
	id TEXT NOT NULL,
	update_time INTEGER NOT NULL,
	data BLOB NOT NULL,
	PRIMARY KEY (subject_id, id)
) WITHOUT ROWID;
`

// Upserts keep the row with the latest update time. Notifications from a
// FileStore arrive in disk order per subject; the guard matters for Sync racing
// with listener calls.
const (
	upsertSubject = `
INSERT INTO subjects (id, update_time, data) VALUES (?, ?, ?)
ON CONFLICT(id) DO UPDATE SET update_time = excluded.update_time, data = excluded.data
WHERE excluded.update_time > subjects.update_time`
	upsertSample = `
INSERT INTO samples (subject_id, id, update_time, data) VALUES (?, ?, ?, ?)
ON CONFLICT(subject_id, id) DO UPDATE SET update_time = excluded.update_time, data = excluded.data
WHERE excluded.update_time > samples.update_time`
)

// Mirror is a SQLite backed [store.Reader] fed through [store.Listener] hooks.
type Mirror[S, F store.Record] struct {
	db    *sql.DB
	codec codec.Codec
}

// Open opens or creates the mirror database at path. Use ":memory:" for a
// transient mirror.
func Open[S, F store.Record](path string, c codec.Codec) (*Mirror[S, F], error) {
	if c == nil {
		return nil, errors.New("codec is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %s: %w", path, err)
	}
	// A single connection serializes writers and keeps ":memory:" databases
	// shared.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &Mirror[S, F]{db: db, codec: c}, nil
}

// Close closes the database.
func (m *Mirror[S, F]) Close() error {
	return m.db.Close()
}

// SubjectIDs implements [store.Reader].
func (m *Mirror[S, F]) SubjectIDs() ([]string, error) {
	return m.queryIDs("SELECT id FROM subjects ORDER BY id")
}

// Subject implements [store.Reader].
func (m *Mirror[S, F]) Subject(id string) (S, bool, error) {
	var zero S
	if err := paths.ValidateID(id); err != nil {
		return zero, false, err
	}
	return queryRecord[S](m, "subject "+id, "SELECT data FROM subjects WHERE id = ?", id)
}

// SampleIDs implements [store.Reader].
func (m *Mirror[S, F]) SampleIDs(subjectID string) ([]string, error) {
	if err := paths.ValidateID(subjectID); err != nil {
		return nil, err
	}
	return m.queryIDs("SELECT id FROM samples WHERE subject_id = ? ORDER BY id", subjectID)
}

// Sample implements [store.Reader].
func (m *Mirror[S, F]) Sample(subjectID, sampleID string) (F, bool, error) {
	var zero F
	if err := paths.ValidateIDs(subjectID, sampleID); err != nil {
		return zero, false, err
	}
	return queryRecord[F](m, "sample "+subjectID+"/"+sampleID,
		"SELECT data FROM samples WHERE subject_id = ? AND id = ?", subjectID, sampleID)
}

// Aggregate implements [store.Reader].
func (m *Mirror[S, F]) Aggregate(subjectID string) (store.Aggregate[S, F], bool, error) {
	if err := paths.ValidateID(subjectID); err != nil {
		return store.Aggregate[S, F]{}, false, err
	}
	return store.LoadAggregate[S, F](m, subjectID)
}

func (m *Mirror[S, F]) queryIDs(query string, args ...any) ([]string, error) {
	rows, err := m.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list ids: %w", err)
	}
	defer func() { _ = rows.Close() }()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func queryRecord[T store.Record, S, F store.Record](m *Mirror[S, F], name, query string, args ...any) (T, bool, error) {
	var zero T
	var data []byte
	if err := m.db.QueryRow(query, args...).Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return zero, false, nil
		}
		return zero, false, fmt.Errorf("failed to read %s: %w", name, err)
	}
	var v T
	if err := m.codec.Decode(data, &v); err != nil {
		var de *codec.DecodeError
		if errors.As(err, &de) {
			de.Path = name
			return zero, false, de
		}
		return zero, false, &codec.DecodeError{Path: name, Err: err}
	}
	return v, true, nil
}

// OnSubjectUpdate implements [store.Listener].
func (m *Mirror[S, F]) OnSubjectUpdate(s S) error {
	return m.putSubject(m.db, s)
}

// OnSampleUpdate implements [store.Listener].
func (m *Mirror[S, F]) OnSampleUpdate(subjectID string, f F) error {
	return m.putSample(m.db, subjectID, f)
}

// OnAggregateDelete implements [store.Listener].
func (m *Mirror[S, F]) OnAggregateDelete(subjectID string) error {
	return m.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM samples WHERE subject_id = ?", subjectID); err != nil {
			return err
		}
		_, err := tx.Exec("DELETE FROM subjects WHERE id = ?", subjectID)
		return err
	})
}

// OnSampleDelete implements [store.Listener].
func (m *Mirror[S, F]) OnSampleDelete(subjectID, sampleID string) error {
	if _, err := m.db.Exec("DELETE FROM samples WHERE subject_id = ? AND id = ?", subjectID, sampleID); err != nil {
		return fmt.Errorf("failed to delete sample %s/%s: %w", subjectID, sampleID, err)
	}
	return nil
}

// OnSamplesCleared implements [store.Listener].
func (m *Mirror[S, F]) OnSamplesCleared(subjectID string) error {
	if _, err := m.db.Exec("DELETE FROM samples WHERE subject_id = ?", subjectID); err != nil {
		return fmt.Errorf("failed to clear samples of %s: %w", subjectID, err)
	}
	return nil
}

// Sync replaces the mirror content with every readable record of r and
// returns the number of records copied.
//
// Undecodable records are skipped with a warning, as when loading an aggregate.
func (m *Mirror[S, F]) Sync(r store.Reader[S, F]) (int, error) {
	n := 0
	err := m.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM samples; DELETE FROM subjects"); err != nil {
			return err
		}
		ids, err := r.SubjectIDs()
		if err != nil {
			return err
		}
		for _, id := range ids {
			s, ok, err := r.Subject(id)
			if skip(err, "subject", id) {
				continue
			}
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if err := m.putSubject(tx, s); err != nil {
				return err
			}
			n++
			sampleIDs, err := r.SampleIDs(id)
			if err != nil {
				return err
			}
			for _, sid := range sampleIDs {
				f, ok, err := r.Sample(id, sid)
				if skip(err, "sample", id+"/"+sid) {
					continue
				}
				if err != nil {
					return err
				}
				if !ok {
					continue
				}
				if err := m.putSample(tx, id, f); err != nil {
					return err
				}
				n++
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to sync mirror: %w", err)
	}
	return n, nil
}

func skip(err error, kind, name string) bool {
	var de *codec.DecodeError
	if errors.As(err, &de) {
		slog.Warn("mirror skipping undecodable record", "kind", kind, "name", name, "err", err)
		return true
	}
	return false
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func (m *Mirror[S, F]) putSubject(db execer, s S) error {
	data, err := m.codec.Encode(s)
	if err != nil {
		return err
	}
	if _, err := db.Exec(upsertSubject, s.GetID(), s.GetUpdateTime().UnixNano(), data); err != nil {
		return fmt.Errorf("failed to write subject %s: %w", s.GetID(), err)
	}
	return nil
}

func (m *Mirror[S, F]) putSample(db execer, subjectID string, f F) error {
	data, err := m.codec.Encode(f)
	if err != nil {
		return err
	}
	if _, err := db.Exec(upsertSample, subjectID, f.GetID(), f.GetUpdateTime().UnixNano(), data); err != nil {
		return fmt.Errorf("failed to write sample %s/%s: %w", subjectID, f.GetID(), err)
	}
	return nil
}

func (m *Mirror[S, F]) inTx(fn func(tx *sql.Tx) error) error {
	tx, err := m.db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

var (
	_ store.Reader[store.Record, store.Record]   = (*Mirror[store.Record, store.Record])(nil)
	_ store.Listener[store.Record, store.Record] = (*Mirror[store.Record, store.Record])(nil)
)
