package catalog

import (
	"strings"

	"docloader/internal/domain"
)

// Validation levels for collection validator schemas.
const (
	ValidationNone = "none"
	ValidationMin  = "min"
	ValidationFull = "full"
)

// ValidatorSchema builds a $jsonSchema document for a collection. "min"
// requires the natural-key roots; "full" also types every selected table.
// Level "none" returns nil.
func (c *Catalog) ValidatorSchema(collection, level string) (map[string]any, error) {
	coll, err := c.Collection(collection)
	if err != nil {
		return nil, err
	}
	switch level {
	case "", ValidationNone:
		return nil, nil
	case ValidationMin, ValidationFull:
	default:
		return nil, domain.ConfigErrorf("collection "+collection, "unknown validation level %q", level)
	}

	var required []string
	seen := map[string]bool{}
	for _, k := range coll.KeyAttributes {
		root := strings.SplitN(k, ".", 2)[0]
		if !seen[root] {
			seen[root] = true
			required = append(required, root)
		}
	}
	schema := map[string]any{
		"bsonType": "object",
		"required": required,
	}
	if level == ValidationMin {
		return schema, nil
	}

	excludedAttrs := c.CollectionExcludedAttributes(collection)
	props := map[string]any{}
	for _, id := range c.SelectTables(collection) {
		t, _ := c.Table(id)
		attrProps := map[string]any{}
		for _, a := range t.Attributes {
			if excludedAttrs[t.ID][a.ID] {
				continue
			}
			attrProps[a.Name] = map[string]any{"bsonType": bsonTypes(&a)}
		}
		row := map[string]any{"bsonType": "object", "properties": attrProps}
		props[t.Name] = map[string]any{
			"anyOf": []any{
				row,
				map[string]any{"bsonType": "array", "items": row},
			},
		}
	}
	schema["properties"] = props
	return schema, nil
}

// SelectTables applies a collection's include/exclude lists to the catalog
// tables, in declaration order. Exclusion always wins; unknown ids are ignored.
func (c *Catalog) SelectTables(collection string) []string {
	return SelectTableIDs(c.TableIDs(), c.CollectionSelected(collection), c.CollectionExcluded(collection))
}

// SelectTableIDs filters ids by an optional include list and an exclude list.
func SelectTableIDs(ids, include, exclude []string) []string {
	ex := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		ex[id] = true
	}
	in := make(map[string]bool, len(include))
	for _, id := range include {
		in[id] = true
	}
	var out []string
	for _, id := range ids {
		if ex[id] {
			continue
		}
		if len(include) > 0 && !in[id] {
			continue
		}
		out = append(out, id)
	}
	return out
}

func bsonTypes(a *domain.Attribute) []string {
	if a.IsIterable() {
		return []string{"array", "null"}
	}
	switch a.Type {
	case domain.TypeInteger:
		return []string{"int", "long", "null"}
	case domain.TypeFloat:
		return []string{"double", "int", "long", "null"}
	case domain.TypeDate, domain.TypeDateTime:
		return []string{"date", "string", "null"}
	default:
		return []string{"string", "null"}
	}
}
