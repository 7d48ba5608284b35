package etl

import (
	"fmt"

	"docloader/internal/domain"
)

// DataSelector gates containers by value predicates. A container passes only
// if each predicate's category exists and every row carries an allowed value.
type DataSelector struct {
	names      []string
	predicates []domain.SelectorPredicate
}

// NewDataSelector resolves selector names against the catalog.
func NewDataSelector(cat SchemaCatalog, names []string) (*DataSelector, error) {
	s := &DataSelector{names: names}
	for _, n := range names {
		preds, err := cat.DataSelector(n)
		if err != nil {
			return nil, err
		}
		s.predicates = append(s.predicates, preds...)
	}
	return s, nil
}

// Test returns ErrSelectorRejected (wrapped with the failing predicate) when
// c does not qualify.
func (s *DataSelector) Test(c *domain.Container) error {
	if s == nil {
		return nil
	}
	for _, p := range s.predicates {
		cat := c.Category(p.Category)
		if cat == nil || cat.RowCount() == 0 {
			return fmt.Errorf("%w: category %s missing", domain.ErrSelectorRejected, p.Category)
		}
		allowed := stringSet(p.Values)
		for r := 0; r < cat.RowCount(); r++ {
			if v := cat.Value(p.Attribute, r); !allowed[v] {
				return fmt.Errorf("%w: %s.%s=%q", domain.ErrSelectorRejected, p.Category, p.Attribute, v)
			}
		}
	}
	return nil
}
