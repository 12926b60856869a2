package store

import (
	"errors"
	"log/slog"

	"github.com/maruel/facedb/internal/codec"
)

// LoadAggregate composes a subject with all its samples using r's single
// record lookups. It does not call r.Aggregate, so readers can implement
// Aggregate with it.
//
// The result is best effort over the samples: a sample that fails to decode
// or disappears while loading is skipped. Errors reading the subject itself
// and I/O errors are returned.
func LoadAggregate[S, F Record](r Reader[S, F], subjectID string) (Aggregate[S, F], bool, error) {
	var a Aggregate[S, F]
	s, ok, err := r.Subject(subjectID)
	if err != nil || !ok {
		return a, false, err
	}
	ids, err := r.SampleIDs(subjectID)
	if err != nil {
		return a, false, err
	}
	a.Subject = s
	a.Samples = make([]F, 0, len(ids))
	for _, id := range ids {
		f, ok, err := r.Sample(subjectID, id)
		if err != nil {
			var de *codec.DecodeError
			if errors.As(err, &de) {
				slog.Warn("skipping undecodable sample", "subject", subjectID, "sample", id, "err", err)
				continue
			}
			return Aggregate[S, F]{}, false, err
		}
		if !ok {
			continue
		}
		a.Samples = append(a.Samples, f)
	}
	return a, true, nil
}
