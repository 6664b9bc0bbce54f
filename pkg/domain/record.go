package domain

// Record is one stored row of an entity: an identifier plus a mapping
// from field name to value. The identifier is assigned at creation and
// never changes; it is portable verbatim across backends.
type Record struct {
	// ID is the 27-symbol checksummed identifier.
	ID string `json:"id"`
	// Values maps field name to the stored value. Flat-file backends
	// hold strings; SQL backends hold natively typed values.
	Values map[string]any `json:"values"`
	// PendingID marks an identifier that was backfilled in memory while
	// reading a legacy record and has not been persisted yet. The next
	// write of the record must include it and clear the flag.
	PendingID bool `json:"-"`
}

// Clone returns a deep copy of the record's value map.
func (r Record) Clone() Record {
	values := make(map[string]any, len(r.Values))
	for k, v := range r.Values {
		values[k] = v
	}
	return Record{ID: r.ID, Values: values, PendingID: r.PendingID}
}

// BulkResult reports the outcome of one record within a bulk write.
// Exactly one of ID and Err is set.
type BulkResult struct {
	ID  string
	Err error
}

// Failed counts the per-record failures in a bulk outcome.
func Failed(results []BulkResult) int {
	var n int
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}
