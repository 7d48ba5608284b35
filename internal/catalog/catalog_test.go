package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docloader/internal/domain"
)

const sampleYAML = `
name: pdbx_core
version: "2.1"
tables:
  - id: entry
    categories: [entry]
    unit_cardinality: true
    attributes:
      - {id: id}
  - id: entity
    name: entities
    categories: [entity]
    attributes:
      - {id: id}
      - {id: pdbx_number, name: number, type: integer}
      - {id: formula_weight, type: float}
      - {id: ids, type: integer, iterable_separator: ","}
      - {id: released, type: date}
  - id: info
    attributes:
      - {id: block, function: datablockid()}
collections:
  - name: core
    version: "1.0"
    exclude: [info]
    excluded_attributes:
      - {table: entity, attribute: released}
    key_attributes: [entry.id]
    private_attributes:
      - {name: rcsb_id, table: entry, attribute: id, mandatory: true}
  - name: info_only
    include: [info, unknown]
    key_attributes: [info.block]
    replace_attributes: [entry.id]
    slice: by_entity
slices:
  - name: by_entity
    parents: [{table: entity, attribute: id}]
selectors:
  polymers:
    - {category: entity, attribute: type, values: [polymer]}
methods:
  - {id: m1, scope: category, category: entity, implementation: Helper.addRowOrdinals, code: calculate_with_helper}
`

func mustParse(t *testing.T) *Catalog {
	t.Helper()
	c, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	return c
}

func TestParseDefaults(t *testing.T) {
	c := mustParse(t)
	assert.Equal(t, "pdbx_core", c.Name())
	assert.Equal(t, "2.1", c.Version())
	assert.Equal(t, "pdbx_core@2.1", c.String())
	assert.Equal(t, []string{"entry", "entity", "info"}, c.TableIDs())
	assert.Equal(t, []string{"core", "info_only"}, c.CollectionNames())

	entity, ok := c.Table("entity")
	require.True(t, ok)
	assert.Equal(t, "entities", entity.Name)
	assert.Equal(t, domain.TypeString, entity.Attribute("id").Type)
	assert.Equal(t, "id", entity.Attribute("id").Name)
	assert.NotNil(t, entity.AttributeByName("number"))

	info, _ := c.Table("info")
	assert.True(t, info.IsSynthetic())
	assert.Len(t, info.OtherAttributes(), 1)
	assert.Len(t, c.Methods(), 1)
}

func TestCollectionAccessors(t *testing.T) {
	c := mustParse(t)
	assert.Equal(t, []string{"entry", "entity"}, c.SelectTables("core"))
	assert.Equal(t, []string{"info"}, c.SelectTables("info_only"))
	assert.Equal(t, map[string]map[string]bool{"entity": {"released": true}}, c.CollectionExcludedAttributes("core"))
	assert.Equal(t, []string{"entry.id"}, c.DocumentKeyAttributeNames("core"))
	assert.Equal(t, []string{"entry.id"}, c.DocumentReplaceAttributeNames("core"))
	assert.Equal(t, []string{"entry.id"}, c.DocumentReplaceAttributeNames("info_only"))
	assert.Equal(t, []string{"info.block"}, c.DocumentKeyAttributeNames("info_only"))
	assert.Nil(t, c.CollectionSliceFilter("core"))
	require.NotNil(t, c.CollectionSliceFilter("info_only"))
	assert.Equal(t, "by_entity", c.CollectionSliceFilter("info_only").Name)
	assert.Len(t, c.PrivateDocumentAttributes("core"), 1)

	_, err := c.Collection("missing")
	assert.True(t, domain.IsConfigurationError(err))
	assert.Empty(t, c.CollectionExcludedAttributes("missing"))

	preds, err := c.DataSelector("polymers")
	require.NoError(t, err)
	assert.Equal(t, "entity", preds[0].Category)
	_, err = c.DataSelector("nope")
	assert.True(t, domain.IsConfigurationError(err))
}

func TestSelectTableIDs(t *testing.T) {
	ids := []string{"a", "b", "c"}
	assert.Equal(t, ids, SelectTableIDs(ids, nil, nil))
	assert.Equal(t, []string{"a", "c"}, SelectTableIDs(ids, nil, []string{"b"}))
	assert.Equal(t, []string{"a"}, SelectTableIDs(ids, []string{"a", "b", "zz"}, []string{"b"}))
	assert.Nil(t, SelectTableIDs(ids, []string{"zz"}, nil))
}

func TestParseValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		msg  string
	}{
		{"no name", `tables: []`, "missing database name"},
		{"bad yaml", "name: [", "parse"},
		{"duplicate table", "name: x\ntables: [{id: a}, {id: a}]", `duplicate table "a"`},
		{"unknown type", "name: x\ntables: [{id: a, attributes: [{id: v, type: blob}]}]", `unknown type "blob"`},
		{"enum without values", "name: x\ntables: [{id: a, attributes: [{id: v, type: enum}]}]", "enum without values"},
		{"unknown function", "name: x\ntables: [{id: a, attributes: [{id: v, function: now()}]}]", "unknown function"},
		{"missing merge index", "name: x\ntables: [{id: a, categories: [p, q], merge_index: {p: [id]}}]", `no merge index for category "q"`},
		{"no key", "name: x\ncollections: [{name: c}]", "no key attributes"},
		{"unknown slice", "name: x\ncollections: [{name: c, key_attributes: [k], slice: s}]", `unknown slice "s"`},
		{"bad slice ref", "name: x\nslices: [{name: s, parents: [{table: t, attribute: a}]}]", "unknown attribute t.a"},
		{"bad update", "name: x\ncollections: [{name: c, key_attributes: [k], private_attributes: [{name: p, update_on_load: never}]}]", `unknown update "never"`},
		{"private without source", "name: x\ncollections: [{name: c, key_attributes: [k], private_attributes: [{name: p}]}]", "table and attribute required"},
		{"bad method scope", "name: x\nmethods: [{id: m, scope: table}]", `unknown scope "table"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.True(t, domain.IsConfigurationError(err))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))
	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "pdbx_core", c.Name())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, domain.IsConfigurationError(err))
}

func TestValidatorSchema(t *testing.T) {
	c := mustParse(t)

	v, err := c.ValidatorSchema("core", ValidationNone)
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = c.ValidatorSchema("core", ValidationMin)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"bsonType": "object", "required": []string{"entry"}}, v)

	v, err = c.ValidatorSchema("core", ValidationFull)
	require.NoError(t, err)
	props := v["properties"].(map[string]any)
	assert.Contains(t, props, "entry")
	assert.NotContains(t, props, "info")

	entity := props["entities"].(map[string]any)["anyOf"].([]any)[0].(map[string]any)["properties"].(map[string]any)
	assert.NotContains(t, entity, "released")
	assert.Equal(t, map[string]any{"bsonType": []string{"int", "long", "null"}}, entity["number"])
	assert.Equal(t, map[string]any{"bsonType": []string{"double", "int", "long", "null"}}, entity["formula_weight"])
	assert.Equal(t, map[string]any{"bsonType": []string{"array", "null"}}, entity["ids"])

	_, err = c.ValidatorSchema("core", "strict")
	assert.True(t, domain.IsConfigurationError(err))
	_, err = c.ValidatorSchema("missing", ValidationMin)
	assert.Error(t, err)
}
