package store

// Composite serves reads from one store and mutations from another.
//
// Reads are forwarded as is, without caching or merging. Typical use is a
// fast or remote read path in front of a [FileStore] that owns the writes.
type Composite[S, F Record] struct {
	r Reader[S, F]
	w Writer[S, F]
}

// NewComposite returns a [ReadWriter] reading from r and writing to w.
func NewComposite[S, F Record](r Reader[S, F], w Writer[S, F]) *Composite[S, F] {
	return &Composite[S, F]{r: r, w: w}
}

// SubjectIDs implements [Reader].
func (c *Composite[S, F]) SubjectIDs() ([]string, error) {
	return c.r.SubjectIDs()
}

// Subject implements [Reader].
func (c *Composite[S, F]) Subject(id string) (S, bool, error) {
	return c.r.Subject(id)
}

// SampleIDs implements [Reader].
func (c *Composite[S, F]) SampleIDs(subjectID string) ([]string, error) {
	return c.r.SampleIDs(subjectID)
}

// Sample implements [Reader].
func (c *Composite[S, F]) Sample(subjectID, sampleID string) (F, bool, error) {
	return c.r.Sample(subjectID, sampleID)
}

// Aggregate implements [Reader].
func (c *Composite[S, F]) Aggregate(subjectID string) (Aggregate[S, F], bool, error) {
	return c.r.Aggregate(subjectID)
}

// SaveSubject implements [Writer].
func (c *Composite[S, F]) SaveSubject(s S) error {
	return c.w.SaveSubject(s)
}

// SaveSample implements [Writer].
func (c *Composite[S, F]) SaveSample(subjectID string, f F) error {
	return c.w.SaveSample(subjectID, f)
}

// SaveAggregate implements [Writer].
func (c *Composite[S, F]) SaveAggregate(a Aggregate[S, F]) error {
	return c.w.SaveAggregate(a)
}

// DeleteSubject implements [Writer].
func (c *Composite[S, F]) DeleteSubject(id string) error {
	return c.w.DeleteSubject(id)
}

// DeleteSample implements [Writer].
func (c *Composite[S, F]) DeleteSample(subjectID, sampleID string) error {
	return c.w.DeleteSample(subjectID, sampleID)
}

// ClearSamples implements [Writer].
func (c *Composite[S, F]) ClearSamples(subjectID string) error {
	return c.w.ClearSamples(subjectID)
}

var _ ReadWriter[Record, Record] = (*Composite[Record, Record])(nil)
