package etl

// ── Row ────────────────────────────────────────────────────
// Common intermediate format between mapping and reshaping.
// The transform emits Rows, the mapper merges them per table,
// the reshaper renames them into documents.

// Row is one transformed table row: attribute id → typed value. Null values
// hold their type's placeholder and are flagged in Null.
type Row struct {
	Values map[string]any
	Null   map[string]bool
}

// NewRow returns an empty row.
func NewRow() *Row {
	return &Row{Values: map[string]any{}, Null: map[string]bool{}}
}

// Set stores a non-null value.
func (r *Row) Set(id string, v any) {
	r.Values[id] = v
	delete(r.Null, id)
}

// SetNull stores a null placeholder.
func (r *Row) SetNull(id string, placeholder any) {
	r.Values[id] = placeholder
	r.Null[id] = true
}

// Get returns the value for id.
func (r *Row) Get(id string) (any, bool) {
	v, ok := r.Values[id]
	return v, ok
}

// IsNull reports whether id holds a null placeholder or is absent.
func (r *Row) IsNull(id string) bool {
	if _, ok := r.Values[id]; !ok {
		return true
	}
	return r.Null[id]
}

// Len returns the number of fields.
func (r *Row) Len() int { return len(r.Values) }

// Merge folds other into r. Non-null values overwrite; nulls only fill
// fields r does not hold yet, so set fields are never dropped.
func (r *Row) Merge(other *Row) {
	for id, v := range other.Values {
		if other.Null[id] {
			if _, ok := r.Values[id]; !ok {
				r.SetNull(id, v)
			}
			continue
		}
		r.Set(id, v)
	}
}

// TableData is the mapped output of one container: table id → rows.
type TableData map[string][]*Row
