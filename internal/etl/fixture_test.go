package etl

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"docloader/internal/catalog"
	"docloader/internal/dbclient"
	"docloader/internal/domain"
)

// ─────────────────────────────────────────────────────────────
// Shared fixtures: a small catalog, sample containers, an
// in-memory resolver and an engine wired over a MemoryStore.
// ─────────────────────────────────────────────────────────────

const testCatalogYAML = `
name: pdbx_test
version: "1.0"
tables:
  - id: entry
    categories: [entry]
    mandatory: true
    unit_cardinality: true
    attributes:
      - {id: id, type: string}
  - id: entity
    categories: [entity]
    attributes:
      - {id: id, type: string}
      - {id: type, type: string}
      - {id: formula_weight, type: float}
  - id: entity_poly
    categories: [entity_poly]
    attributes:
      - {id: entity_id, type: string}
      - {id: seq_len, type: integer}
  - id: combined
    categories: [cat_a, cat_b]
    merge_index:
      cat_a: [id]
      cat_b: [id]
    attributes:
      - {id: id, type: string}
      - {id: a_val, type: string}
      - {id: b_val, type: string}
  - id: container_info
    unit_cardinality: true
    attributes:
      - {id: name, function: datablockid()}
      - {id: locator, function: getlocator()}
  - id: site
    categories: [site]
    attributes:
      - {id: id, type: string}
      - {id: feature_name, type: string, iterable_separator: ";", sub_categories: [feature]}
      - {id: feature_value, type: float, iterable_separator: ";", sub_categories: [feature]}
      - {id: info_source, type: string, sub_categories: [info]}
      - id: info_coords
        type: string
        sub_categories: [info]
        embedded_iterable_separator: ","
        embedded_iterable_float: true
collections:
  - name: entry_core
    version: "1.0.1"
    exclude: [combined, site]
    key_attributes: [entry.id]
    indexes:
      - {name: by_entry, attributes: [entry.id]}
    private_attributes:
      - {name: rcsb_id, table: entry, attribute: id, mandatory: true}
      - {name: _version, update_on_load: collection_version}
      - {name: _run, update_on_load: run_id}
  - name: entity_list
    include: [entity]
    key_attributes: [entity]
  - name: entity_slice
    include: [entry, entity, entity_poly]
    slice: by_entity
    key_attributes: [entry.id, entity.id]
  - name: polymer_entity
    include: [entry, entity]
    slice: polymer_only
    key_attributes: [entry.id, entity.id]
  - name: sites
    include: [entry, site]
    key_attributes: [entry.id]
    sub_category_aggregates:
      - {name: feature}
      - {name: info, unit_cardinality: true}
slices:
  - name: by_entity
    parents:
      - {table: entity, attribute: id}
    children:
      - {table: entity, attribute: id, parent_table: entity, parent_attribute: id}
      - {table: entity_poly, attribute: entity_id, parent_table: entity, parent_attribute: id}
    extra_tables: [entry]
    unit_cardinality_tables: [entry, entity]
  - name: polymer_only
    parents:
      - {table: entity, attribute: id}
    filters:
      - {table: entity, attribute: type, values: [polymer]}
    children:
      - {table: entity, attribute: id, parent_table: entity, parent_attribute: id}
    extra_tables: [entry]
    unit_cardinality_tables: [entry, entity]
selectors:
  polymer_only:
    - {category: entity, attribute: type, values: [polymer]}
`

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.Parse([]byte(testCatalogYAML))
	require.NoError(t, err)
	return cat
}

// entryContainer holds one polymer and one non-polymer entity; only the
// polymer has an entity_poly row.
func entryContainer(id string) *domain.Container {
	c := domain.NewContainer(id)
	entry := domain.NewCategory("entry", "id")
	entry.Rows = [][]string{{id}}
	entity := domain.NewCategory("entity", "id", "type", "formula_weight")
	entity.Rows = [][]string{{"1", "polymer", "1000.5"}, {"2", "non-polymer", "18.0"}}
	poly := domain.NewCategory("entity_poly", "entity_id", "seq_len")
	poly.Rows = [][]string{{"1", "120"}}
	c.Append(entry)
	c.Append(entity)
	c.Append(poly)
	return c
}

func polymerContainer(id string) *domain.Container {
	c := entryContainer(id)
	c.Category("entity").Rows = c.Category("entity").Rows[:1]
	return c
}

// memResolver serves containers by primary reference. A reference listed in
// panics makes Resolve panic.
type memResolver struct {
	containers map[string]*domain.Container
	panics     map[string]bool
}

func newMemResolver(cs ...*domain.Container) *memResolver {
	r := &memResolver{containers: map[string]*domain.Container{}, panics: map[string]bool{}}
	for _, c := range cs {
		r.containers[c.Name] = c
	}
	return r
}

func (r *memResolver) Resolve(_ context.Context, loc domain.Locator) (*domain.Container, error) {
	if r.panics[loc.Primary] {
		panic("corrupt input " + loc.Primary)
	}
	c, ok := r.containers[loc.Primary]
	if !ok {
		return nil, fmt.Errorf("resolve %s: not found", loc.Primary)
	}
	out := c.Clone()
	out.SetProp(domain.PropLocator, loc.String())
	return out, nil
}

type engineOptions struct {
	style     DocumentStyle
	selectors []string
	policy    *TransformPolicy
}

func newTestEngine(t *testing.T, store dbclient.Datastore, res LocatorResolver, o engineOptions) *Engine {
	t.Helper()
	cat := testCatalog(t)
	logger := zap.NewNop()
	if o.style == "" {
		o.style = StyleRowwiseByNameWithCardinality
	}
	policy := DefaultTransformPolicy()
	if o.policy != nil {
		policy = *o.policy
	}
	tr := NewAttributeTransform(cat.Tables(), policy)
	reshaper, err := NewDocumentReshaper(cat, o.style, logger)
	require.NoError(t, err)
	sel, err := NewDataSelector(cat, o.selectors)
	require.NoError(t, err)
	return &Engine{
		Catalog:  cat,
		Resolver: res,
		Mapper:   NewDataMapper(cat, tr, logger),
		Reshaper: reshaper,
		Selector: sel,
		Writer:   NewDocumentWriter(store, logger),
		Logger:   logger,
	}
}

func locators(t *testing.T, refs ...string) []domain.Locator {
	t.Helper()
	out := make([]domain.Locator, len(refs))
	for i, r := range refs {
		l, err := domain.ParseLocator(r)
		require.NoError(t, err)
		out[i] = l
	}
	return out
}

// withoutIDs strips storage ids and orders documents by entry and entity id.
func withoutIDs(docs []domain.Document) []domain.Document {
	out := make([]domain.Document, len(docs))
	for i, d := range docs {
		c := d.ShallowCopy()
		delete(c, domain.IDKey)
		out[i] = c
	}
	sortKey := func(d domain.Document) string {
		entry, _ := d.Lookup("entry.id")
		entity, _ := d.Lookup("entity.id")
		return fmt.Sprint(entry, "/", entity)
	}
	sort.Slice(out, func(i, j int) bool { return sortKey(out[i]) < sortKey(out[j]) })
	return out
}
