// Package helpers holds the built-in compute rules bound by name from
// catalog method registrations.
package helpers

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"docloader/internal/domain"
	"docloader/internal/etl"
)

// Attribute names written by the built-in rules.
const (
	AttrEntryID       = "entry_id"
	AttrName          = "name"
	AttrCategoryCount = "category_count"
	AttrRowCount      = "row_count"
)

// Table returns the built-in rules keyed by implementation name.
func Table(resources *ResourceProvider) etl.MethodTable {
	return etl.MethodTable{
		"add_container_identifiers": addContainerIdentifiers,
		"add_row_ordinals":          addRowOrdinals,
		"add_datablock_summary":     addDataBlockSummary,
		"apply_value_synonyms":      applyValueSynonyms(resources),
	}
}

// addContainerIdentifiers stamps the container name into entry_id of every
// row of category, creating a one-row category when it is absent.
func addContainerIdentifiers(_ context.Context, c *domain.Container, category, _ string) (bool, error) {
	cat := c.Category(category)
	if cat == nil {
		cat = domain.NewCategory(category, AttrEntryID)
		cat.AppendRow(map[string]string{AttrEntryID: c.Name})
		c.Append(cat)
		return true, nil
	}
	cat.AppendAttribute(AttrEntryID)
	changed := false
	for i := 0; i < cat.RowCount(); i++ {
		if etl.IsNullToken(cat.Value(AttrEntryID, i)) {
			cat.SetValue(AttrEntryID, i, c.Name)
			changed = true
		}
	}
	return changed, nil
}

// addRowOrdinals numbers the rows of category from 1 into attribute.
func addRowOrdinals(_ context.Context, c *domain.Container, category, attribute string) (bool, error) {
	if attribute == "" {
		return false, fmt.Errorf("add_row_ordinals: attribute is required")
	}
	cat := c.Category(category)
	if cat == nil || cat.RowCount() == 0 {
		return false, nil
	}
	cat.AppendAttribute(attribute)
	for i := 0; i < cat.RowCount(); i++ {
		cat.SetValue(attribute, i, strconv.Itoa(i+1))
	}
	return true, nil
}

// addDataBlockSummary replaces category with a single row describing the
// container: its name, category count and total row count.
func addDataBlockSummary(_ context.Context, c *domain.Container, category, _ string) (bool, error) {
	rows, cats := 0, 0
	for _, cat := range c.Categories {
		if cat.Name == category {
			continue
		}
		cats++
		rows += cat.RowCount()
	}
	summary := domain.NewCategory(category, AttrName, AttrCategoryCount, AttrRowCount)
	summary.AppendRow(map[string]string{
		AttrName:          c.Name,
		AttrCategoryCount: strconv.Itoa(cats),
		AttrRowCount:      strconv.Itoa(rows),
	})
	c.Append(summary)
	return true, nil
}

// applyValueSynonyms rewrites values of category.attribute through the
// synonym table.
func applyValueSynonyms(resources *ResourceProvider) etl.MethodFunc {
	return func(_ context.Context, c *domain.Container, category, attribute string) (bool, error) {
		if resources == nil {
			return false, fmt.Errorf("apply_value_synonyms: no resource provider")
		}
		cat := c.Category(category)
		if cat == nil || !cat.HasAttribute(attribute) {
			return false, nil
		}
		table, err := resources.Synonyms(category, attribute)
		if err != nil {
			return false, err
		}
		changed := false
		for i := 0; i < cat.RowCount(); i++ {
			v := cat.Value(attribute, i)
			if to, ok := table[strings.ToLower(strings.TrimSpace(v))]; ok && to != v {
				cat.SetValue(attribute, i, to)
				changed = true
			}
		}
		return changed, nil
	}
}
