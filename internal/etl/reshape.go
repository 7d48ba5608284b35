package etl

import (
	"fmt"

	"go.uber.org/zap"

	"docloader/internal/domain"
)

// ── Document Reshaper ──────────────────────────────────────
// Regroups mapped rows into documents. A collection without a slice
// filter yields one document per container; a sliced collection yields
// one document per distinct qualifying parent value tuple.

// DocumentStyle selects how tables are rendered inside a document.
type DocumentStyle string

const (
	StyleRowwiseByName                DocumentStyle = "rowwise_by_name"
	StyleRowwiseByNameWithCardinality DocumentStyle = "rowwise_by_name_with_cardinality"
	StyleColumnwiseByName             DocumentStyle = "columnwise_by_name"
	StyleRowwiseNoName                DocumentStyle = "rowwise_no_name"
	StyleRowwiseByID                  DocumentStyle = "rowwise_by_id"
)

// Valid reports whether s is a known style.
func (s DocumentStyle) Valid() bool {
	switch s {
	case StyleRowwiseByName, StyleRowwiseByNameWithCardinality, StyleColumnwiseByName,
		StyleRowwiseNoName, StyleRowwiseByID:
		return true
	}
	return false
}

// rowwiseByName reports whether rows render as name-keyed objects, the
// only layout enrichment operates on.
func (s DocumentStyle) rowwiseByName() bool {
	return s == StyleRowwiseByName || s == StyleRowwiseByNameWithCardinality
}

// DocumentReshaper builds documents from mapped table data.
type DocumentReshaper struct {
	catalog SchemaCatalog
	style   DocumentStyle
	logger  *zap.Logger
}

// NewDocumentReshaper returns a reshaper for the given style.
func NewDocumentReshaper(cat SchemaCatalog, style DocumentStyle, logger *zap.Logger) (*DocumentReshaper, error) {
	if !style.Valid() {
		return nil, domain.ConfigErrorf("document style", "unknown style %q", style)
	}
	return &DocumentReshaper{catalog: cat, style: style, logger: logger.Named("reshape")}, nil
}

// Style returns the document style.
func (r *DocumentReshaper) Style() DocumentStyle { return r.style }

// Reshape builds the documents of one container for a collection.
func (r *DocumentReshaper) Reshape(data TableData, collection string) ([]domain.Document, error) {
	if _, err := r.catalog.Collection(collection); err != nil {
		return nil, err
	}
	if sf := r.catalog.CollectionSliceFilter(collection); sf != nil {
		return r.reshapeSliced(data, collection, sf)
	}
	doc := domain.Document{}
	excluded := r.catalog.CollectionExcludedAttributes(collection)
	for _, id := range r.catalog.SelectTables(collection) {
		t, _ := r.catalog.Table(id)
		rows, ok := data[id]
		if !ok && !t.Mandatory {
			continue
		}
		r.render(doc, t, rows, excluded[id], t.UnitCardinality)
	}
	if len(doc) == 0 {
		return nil, nil
	}
	return []domain.Document{doc}, nil
}

func (r *DocumentReshaper) reshapeSliced(data TableData, collection string, sf *domain.SliceFilter) ([]domain.Document, error) {
	excluded := r.catalog.CollectionExcludedAttributes(collection)
	extra := stringSet(sf.ExtraTables)
	unit := stringSet(sf.UnitCardinalityTables)

	children := map[string][]domain.SliceChild{}
	for _, ch := range sf.Children {
		children[ch.Table] = append(children[ch.Table], ch)
	}

	var docs []domain.Document
	for _, tuple := range r.sliceValues(data, sf) {
		doc := domain.Document{}
		for _, id := range r.catalog.SelectTables(collection) {
			t, _ := r.catalog.Table(id)
			var rows []*Row
			switch {
			case extra[id]:
				rows = data[id]
			case len(children[id]) > 0:
				for _, row := range data[id] {
					if inSlice(row, children[id], sf.Parents, tuple) {
						rows = append(rows, row)
					}
				}
			default:
				continue
			}
			if len(rows) == 0 && !t.Mandatory {
				continue
			}
			r.render(doc, t, rows, excluded[id], unit[id])
		}
		if len(doc) > 0 {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

// sliceValues returns the Cartesian product of the distinct qualifying
// values of each parent attribute, in first-seen order.
func (r *DocumentReshaper) sliceValues(data TableData, sf *domain.SliceFilter) [][]any {
	product := [][]any{{}}
	for _, p := range sf.Parents {
		t, _ := r.catalog.Table(p.Table)
		var vals []any
		seen := map[string]bool{}
		for _, row := range data[p.Table] {
			if row.IsNull(p.Attribute) || !passesFilters(t, row, p.Table, sf.Filters) {
				continue
			}
			v, _ := row.Get(p.Attribute)
			k := valueKey(v)
			if seen[k] {
				continue
			}
			seen[k] = true
			vals = append(vals, v)
		}
		next := make([][]any, 0, len(product)*len(vals))
		for _, prefix := range product {
			for _, v := range vals {
				tuple := append(append(make([]any, 0, len(prefix)+1), prefix...), v)
				next = append(next, tuple)
			}
		}
		product = next
	}
	if len(product) == 1 && len(product[0]) == 0 {
		return nil
	}
	return product
}

func passesFilters(t *domain.SchemaTable, row *Row, table string, filters []domain.ValueFilter) bool {
	for _, f := range filters {
		if f.Table != table {
			continue
		}
		if row.IsNull(f.Attribute) {
			return false
		}
		v, _ := row.Get(f.Attribute)
		s := FormatValue(t.Attribute(f.Attribute), v)
		ok := false
		for _, want := range f.Values {
			if s == want {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// inSlice reports whether row matches every parent value of tuple through
// one of the table's child links.
func inSlice(row *Row, links []domain.SliceChild, parents []domain.AttributeRef, tuple []any) bool {
	for i, p := range parents {
		matched := false
		linked := false
		for _, ch := range links {
			if ch.ParentTable != p.Table || ch.ParentAttribute != p.Attribute {
				continue
			}
			linked = true
			if row.IsNull(ch.Attribute) {
				continue
			}
			v, _ := row.Get(ch.Attribute)
			if valueKey(v) == valueKey(tuple[i]) {
				matched = true
				break
			}
		}
		if !linked || !matched {
			return false
		}
	}
	return true
}

// render writes one table into doc according to the style.
func (r *DocumentReshaper) render(doc domain.Document, t *domain.SchemaTable, rows []*Row, skip map[string]bool, unitCard bool) {
	attrs := make([]domain.Attribute, 0, len(t.Attributes))
	for _, a := range t.Attributes {
		if !skip[a.ID] {
			attrs = append(attrs, a)
		}
	}

	switch r.style {
	case StyleRowwiseByID:
		list := make([]any, 0, len(rows))
		for _, row := range rows {
			m := map[string]any{}
			for _, a := range attrs {
				if v, ok := row.Get(a.ID); ok {
					m[a.ID] = v
				}
			}
			list = append(list, m)
		}
		doc[t.ID] = list

	case StyleColumnwiseByName:
		cols := map[string]any{}
		for _, a := range attrs {
			present := false
			col := make([]any, len(rows))
			for i, row := range rows {
				if v, ok := row.Get(a.ID); ok {
					col[i] = v
					present = true
				}
			}
			if present {
				cols[a.Name] = col
			}
		}
		doc[t.Name] = cols

	case StyleRowwiseNoName:
		var names []string
		for _, a := range attrs {
			for _, row := range rows {
				if _, ok := row.Get(a.ID); ok {
					names = append(names, a.Name)
					break
				}
			}
		}
		data := make([]any, 0, len(rows))
		for _, row := range rows {
			vals := make([]any, 0, len(names))
			for _, name := range names {
				v, _ := row.Get(t.AttributeByName(name).ID)
				vals = append(vals, v)
			}
			data = append(data, vals)
		}
		doc[t.Name] = map[string]any{"attributes": names, "data": data}

	default:
		list := make([]any, 0, len(rows))
		for _, row := range rows {
			m := map[string]any{}
			for _, a := range attrs {
				if v, ok := row.Get(a.ID); ok {
					m[a.Name] = v
				}
			}
			list = append(list, m)
		}
		if r.style == StyleRowwiseByNameWithCardinality && unitCard && len(list) == 1 {
			doc[t.Name] = list[0]
			return
		}
		doc[t.Name] = list
	}
}

func valueKey(v any) string {
	return fmt.Sprint(v)
}

func stringSet(ss []string) map[string]bool {
	m := make(map[string]bool, len(ss))
	for _, s := range ss {
		m[s] = true
	}
	return m
}
