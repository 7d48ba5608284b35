package etl

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"docloader/internal/domain"
)

// RunInfo is run metadata available to private attribute injection.
type RunInfo struct {
	RunID    string
	LoadTime time.Time
}

// Enrich applies private attribute injection and subcategory aggregation
// to a freshly reshaped document.
func (r *DocumentReshaper) Enrich(doc domain.Document, collection string, run RunInfo) error {
	if !r.style.rowwiseByName() {
		r.logger.Debug("enrichment skipped for style", zap.String("style", string(r.style)))
		return nil
	}
	if err := r.AddPrivateAttributes(doc, collection, run); err != nil {
		return err
	}
	r.AddSubCategoryAggregates(doc, collection)
	return nil
}

// ── Private attributes ─────────────────────────────────────

// AddPrivateAttributes promotes nested fields, or run metadata, to top-level
// keys. A missing mandatory value is an error; missing optional values are
// skipped.
func (r *DocumentReshaper) AddPrivateAttributes(doc domain.Document, collection string, run RunInfo) error {
	coll, err := r.catalog.Collection(collection)
	if err != nil {
		return err
	}
	for _, p := range coll.PrivateAttributes {
		var (
			v  any
			ok bool
		)
		switch p.UpdateOnLoad {
		case domain.UpdateCollectionVersion:
			v, ok = coll.Version, coll.Version != ""
		case domain.UpdateLoadTime:
			v, ok = run.LoadTime.UTC().Truncate(time.Millisecond), !run.LoadTime.IsZero()
		case domain.UpdateRunID:
			v, ok = run.RunID, run.RunID != ""
		default:
			v, ok = r.nestedValue(doc, p.Table, p.Attribute)
		}
		if !ok || isNullValue(v) {
			if p.Mandatory {
				return fmt.Errorf("private attribute %s: mandatory value %s.%s missing", p.Name, p.Table, p.Attribute)
			}
			continue
		}
		doc[p.Name] = v
	}
	return nil
}

func (r *DocumentReshaper) nestedValue(doc domain.Document, tableID, attrID string) (any, bool) {
	t, ok := r.catalog.Table(tableID)
	if !ok {
		return nil, false
	}
	a := t.Attribute(attrID)
	if a == nil {
		return nil, false
	}
	var row map[string]any
	switch x := doc[t.Name].(type) {
	case map[string]any:
		row = x
	case []any:
		if len(x) != 1 {
			return nil, false
		}
		row, _ = x[0].(map[string]any)
	}
	if row == nil {
		return nil, false
	}
	v, ok := row[a.Name]
	return v, ok
}

// ── Subcategory aggregation ────────────────────────────────

type aggMember struct {
	attr  *domain.Attribute
	short string
}

// AddSubCategoryAggregates groups attributes sharing an aggregate prefix
// into one nested object, or into a list of objects zipped index-wise.
// Null members are dropped and the grouped attributes are removed.
func (r *DocumentReshaper) AddSubCategoryAggregates(doc domain.Document, collection string) {
	for _, agg := range r.catalog.SubCategoryAggregates(collection) {
		for _, id := range r.catalog.SelectTables(collection) {
			t, _ := r.catalog.Table(id)
			members := aggregateMembers(t, agg.Name)
			if len(members) == 0 {
				continue
			}
			switch x := doc[t.Name].(type) {
			case map[string]any:
				r.aggregateRow(x, agg, t.ID, members)
			case []any:
				for _, e := range x {
					if row, ok := e.(map[string]any); ok {
						r.aggregateRow(row, agg, t.ID, members)
					}
				}
			}
		}
	}
}

func aggregateMembers(t *domain.SchemaTable, name string) []aggMember {
	var out []aggMember
	prefix := name + "_"
	for i := range t.Attributes {
		a := &t.Attributes[i]
		for _, sc := range a.SubCategories {
			if sc == name {
				out = append(out, aggMember{attr: a, short: strings.TrimPrefix(a.Name, prefix)})
				break
			}
		}
	}
	return out
}

func (r *DocumentReshaper) aggregateRow(row map[string]any, agg domain.SubCategoryAggregate, tableID string, members []aggMember) {
	var present []aggMember
	for _, m := range members {
		if _, ok := row[m.attr.Name]; ok {
			present = append(present, m)
		}
	}
	if len(present) == 0 {
		return
	}

	if agg.UnitCardinality {
		obj := map[string]any{}
		for _, m := range present {
			v := row[m.attr.Name]
			delete(row, m.attr.Name)
			if isNullValue(v) {
				continue
			}
			obj[m.short] = r.embedded(m.attr, v)
		}
		if len(obj) > 0 {
			row[agg.Name] = obj
		}
		return
	}

	lists := make([][]any, len(present))
	n := -1
	irregular := false
	for i, m := range present {
		v := row[m.attr.Name]
		delete(row, m.attr.Name)
		l, ok := v.([]any)
		if !ok {
			l = []any{v}
		}
		lists[i] = l
		if n >= 0 && len(l) != n {
			irregular = true
		}
		if n < 0 || len(l) < n {
			n = len(l)
		}
	}
	if irregular {
		r.logger.Warn("irregular aggregate lists", zap.Error(&domain.MergeInconsistency{
			Aggregate: agg.Name, Table: tableID, Detail: fmt.Sprintf("truncated to %d", n),
		}))
	}
	var objs []any
	for k := 0; k < n; k++ {
		obj := map[string]any{}
		for i, m := range present {
			v := lists[i][k]
			if isNullValue(v) {
				continue
			}
			obj[m.short] = r.embedded(m.attr, v)
		}
		if len(obj) > 0 {
			objs = append(objs, obj)
		}
	}
	if len(objs) > 0 {
		row[agg.Name] = objs
	}
}

// embedded splits embedded-iterable values on their secondary separator.
func (r *DocumentReshaper) embedded(a *domain.Attribute, v any) any {
	if a.EmbeddedSeparator == "" {
		return v
	}
	s, ok := v.(string)
	if !ok {
		return v
	}
	parts := strings.Split(s, a.EmbeddedSeparator)
	out := make([]any, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if !a.EmbeddedIterableFloats {
			out = append(out, p)
			continue
		}
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			r.logger.Warn("embedded value is not a float", zap.String("attribute", a.ID), zap.String("value", p))
			out = append(out, p)
			continue
		}
		out = append(out, f)
	}
	return out
}

func isNullValue(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return IsNullToken(x)
	}
	return false
}
