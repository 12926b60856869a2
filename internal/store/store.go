// Package store implements the filesystem-backed subject/sample record store.
//
// # Data Model
//
// A subject is a top-level record; a sample is a record owned by exactly one
// subject. Identity comes from the directory tree, there is no separate index:
//
//	<root>/
//	  <subjectID>/
//	    data.json
//	    <sampleID>/
//	      data.json
//
// A record exists if and only if its data.json exists.
//
// # Capabilities
//
// Capabilities are split in small interfaces: [Reader] for lookups, [Writer]
// for mutations, [Listenable] for change notification. [FileStore] implements
// all of them. [Composite] pairs any Reader with any Writer so the read path
// can be swapped (e.g. for a SQLite mirror) without touching write logic.
//
// # Last Write Wins
//
// A save is applied only if no record is stored yet or the incoming
// UpdateTime is strictly after the stored one. Anything else is silently
// ignored: no error, no notification. The read-check-write sequence runs under
// a per-subject mutex so the rule holds for concurrent callers in one process.
package store

import "time"

// DataFileName is the name of the file holding a record inside its directory.
const DataFileName = "data.json"

// Record is implemented by subjects and samples.
type Record interface {
	GetID() string
	GetCreateTime() time.Time
	// GetUpdateTime is the only input to conflict resolution.
	GetUpdateTime() time.Time
}

// Aggregate is a subject together with its currently stored samples.
//
// It is built on read and never persisted as its own file.
type Aggregate[S, F Record] struct {
	Subject S   `json:"subject"`
	Samples []F `json:"samples"`
}

// Reader provides lookups by exact identifier.
//
// Absent records are reported with ok == false and a nil error.
type Reader[S, F Record] interface {
	SubjectIDs() ([]string, error)
	Subject(id string) (s S, ok bool, err error)
	SampleIDs(subjectID string) ([]string, error)
	Sample(subjectID, sampleID string) (f F, ok bool, err error)
	Aggregate(subjectID string) (a Aggregate[S, F], ok bool, err error)
}

// Writer provides mutations.
//
// Saves follow the last-write-wins rule; deletes are unconditional.
type Writer[S, F Record] interface {
	SaveSubject(s S) error
	SaveSample(subjectID string, f F) error
	SaveAggregate(a Aggregate[S, F]) error
	DeleteSubject(id string) error
	DeleteSample(subjectID, sampleID string) error
	ClearSamples(subjectID string) error
}

// ReadWriter combines [Reader] and [Writer].
type ReadWriter[S, F Record] interface {
	Reader[S, F]
	Writer[S, F]
}

// Listenable accepts listeners notified after each successful mutation.
type Listenable[S, F Record] interface {
	// AddListener registers l and returns a function removing it.
	AddListener(l Listener[S, F]) (remove func())
}

// ListenableReadWriter is the full capability set of [FileStore].
type ListenableReadWriter[S, F Record] interface {
	ReadWriter[S, F]
	Listenable[S, F]
}
