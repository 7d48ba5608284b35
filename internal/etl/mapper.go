package etl

import (
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"docloader/internal/catalog"
	"docloader/internal/domain"
)

// ── Data Mapper ────────────────────────────────────────────
// Maps container categories onto schema tables:
//   single-source tables  row for row, order preserved
//   multi-source tables   upsert keyed by the merge-index tuple
//   synthetic tables      one row of function-bound attributes

// DataMapper extracts typed table rows from containers.
type DataMapper struct {
	catalog   SchemaCatalog
	transform *AttributeTransform
	logger    *zap.Logger
	now       func() time.Time
}

// NewDataMapper creates a mapper over a catalog and its compiled transform.
func NewDataMapper(cat SchemaCatalog, tr *AttributeTransform, logger *zap.Logger) *DataMapper {
	return &DataMapper{catalog: cat, transform: tr, logger: logger.Named("mapper"), now: time.Now}
}

// MapCollection maps the tables selected by a collection definition.
func (m *DataMapper) MapCollection(c *domain.Container, collection string) (TableData, error) {
	return m.mapTables(c, m.catalog.SelectTables(collection))
}

// Map maps the catalog tables passing the include/exclude lists. Exclusion
// wins over inclusion and unknown ids are never selected.
func (m *DataMapper) Map(c *domain.Container, include, exclude []string) (TableData, error) {
	return m.mapTables(c, catalog.SelectTableIDs(m.catalog.TableIDs(), include, exclude))
}

func (m *DataMapper) mapTables(c *domain.Container, ids []string) (TableData, error) {
	out := make(TableData, len(ids))
	for _, id := range ids {
		t, ok := m.catalog.Table(id)
		if !ok {
			continue
		}
		var (
			rows []*Row
			err  error
		)
		switch {
		case t.IsSynthetic():
			rows = []*Row{NewRow()}
		case len(t.Categories) == 1:
			rows, err = m.mapSingle(c, t)
		default:
			rows, err = m.mapMerged(c, t)
		}
		if err != nil {
			return nil, fmt.Errorf("map table %s: %w", id, err)
		}
		if len(rows) == 0 && m.transform.Policy().DropEmptyTables {
			continue
		}
		if err := m.assignOther(c, t, rows); err != nil {
			return nil, fmt.Errorf("map table %s: %w", id, err)
		}
		out[id] = rows
	}
	return out, nil
}

func (m *DataMapper) mapSingle(c *domain.Container, t *domain.SchemaTable) ([]*Row, error) {
	cat := c.Category(t.Categories[0])
	if cat == nil {
		return nil, nil
	}
	rows := make([]*Row, 0, len(cat.Rows))
	for _, raw := range cat.Rows {
		row, err := m.transform.ProcessRecord(t.ID, raw, cat.Attributes)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// mapMerged upserts rows from every contributing category into an
// accumulator keyed by the exact join-key tuple. Key order is first-seen.
func (m *DataMapper) mapMerged(c *domain.Container, t *domain.SchemaTable) ([]*Row, error) {
	acc := map[string]*Row{}
	var order []string
	for _, name := range t.Categories {
		cat := c.Category(name)
		if cat == nil {
			continue
		}
		keyAttrs := t.MergeIndex[name]
		for r, raw := range cat.Rows {
			key := make([]any, len(keyAttrs))
			for i, a := range keyAttrs {
				if cat.AttributeIndex(a) < 0 {
					m.logger.Warn("merge key attribute missing",
						zap.String("container", c.Name),
						zap.String("category", name),
						zap.String("attribute", a),
					)
				}
				key[i] = cat.Value(a, r)
			}
			row, err := m.transform.ProcessRecord(t.ID, raw, cat.Attributes)
			if err != nil {
				return nil, err
			}
			k := domain.JoinKey(key)
			existing, ok := acc[k]
			if !ok {
				acc[k] = row
				order = append(order, k)
				continue
			}
			existing.Merge(row)
		}
	}
	rows := make([]*Row, len(order))
	for i, k := range order {
		rows[i] = acc[k]
	}
	return rows, nil
}

func (m *DataMapper) assignOther(c *domain.Container, t *domain.SchemaTable, rows []*Row) error {
	others := t.OtherAttributes()
	if len(others) == 0 {
		return nil
	}
	for i, row := range rows {
		for _, a := range others {
			raw := m.evalFunction(c, a.Function, i)
			v, isNull, err := m.transform.Cast(t.ID, a.ID, raw)
			if err != nil {
				return err
			}
			if isNull {
				if !m.transform.Policy().DropEmptyAttributes {
					row.SetNull(a.ID, v)
				}
				continue
			}
			row.Set(a.ID, v)
		}
	}
	return nil
}

func (m *DataMapper) evalFunction(c *domain.Container, fn string, rowIndex int) string {
	switch fn {
	case domain.FuncDataBlockID:
		return c.Name
	case domain.FuncDateTime:
		if d := c.Prop(domain.PropLoadDate); d != "" {
			return d
		}
		return FormatDateTime(m.now())
	case domain.FuncLocator:
		if l := c.Prop(domain.PropLocator); l != "" {
			return l
		}
		return "unknown"
	case domain.FuncRowIndex:
		return strconv.Itoa(rowIndex + 1)
	}
	return "?"
}

// MergeAuxiliary merges auxiliary containers into a copy of primary. Any
// failure discards the whole merge, so callers never see a partial unit.
func MergeAuxiliary(primary *domain.Container, aux []*domain.Container) (*domain.Container, error) {
	if len(aux) == 0 {
		return primary, nil
	}
	merged := primary.Clone()
	for i, a := range aux {
		if err := merged.Merge(a); err != nil {
			return nil, fmt.Errorf("merge auxiliary %d into %s: %w", i, primary.Name, err)
		}
	}
	return merged, nil
}
