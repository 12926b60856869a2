package store

import "iter"

// Subjects returns an iterator over every subject readable from r.
//
// A listing failure is yielded once and ends the sequence. Subjects removed
// between listing and loading are skipped.
func Subjects[S, F Record](r Reader[S, F]) iter.Seq2[S, error] {
	return func(yield func(S, error) bool) {
		var zero S
		ids, err := r.SubjectIDs()
		if err != nil {
			yield(zero, err)
			return
		}
		for _, id := range ids {
			s, ok, err := r.Subject(id)
			if err != nil {
				if !yield(zero, err) {
					return
				}
				continue
			}
			if ok && !yield(s, nil) {
				return
			}
		}
	}
}

// Samples returns an iterator over every sample of a subject.
//
// Same error semantics as [Subjects].
func Samples[S, F Record](r Reader[S, F], subjectID string) iter.Seq2[F, error] {
	return func(yield func(F, error) bool) {
		var zero F
		ids, err := r.SampleIDs(subjectID)
		if err != nil {
			yield(zero, err)
			return
		}
		for _, id := range ids {
			f, ok, err := r.Sample(subjectID, id)
			if err != nil {
				if !yield(zero, err) {
					return
				}
				continue
			}
			if ok && !yield(f, nil) {
				return
			}
		}
	}
}
