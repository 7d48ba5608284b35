// Package catalog loads the schema catalog: tables, collections, slice
// filters, data selectors and compute-rule registrations. A Catalog is
// immutable once loaded and safe for concurrent readers.
package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"docloader/internal/domain"
)

// File is the on-disk layout of a catalog.
type File struct {
	Name        string                                `yaml:"name"`
	Version     string                                `yaml:"version"`
	Tables      []domain.SchemaTable                  `yaml:"tables"`
	Collections []domain.CollectionDefinition         `yaml:"collections"`
	Slices      []domain.SliceFilter                  `yaml:"slices,omitempty"`
	Selectors   map[string][]domain.SelectorPredicate `yaml:"selectors,omitempty"`
	Methods     []domain.MethodRegistration           `yaml:"methods,omitempty"`
}

// Catalog is the read-only schema catalog for one database.
type Catalog struct {
	name    string
	version string

	tables      []domain.SchemaTable
	tableIdx    map[string]int
	collections []domain.CollectionDefinition
	collIdx     map[string]int
	slices      map[string]*domain.SliceFilter
	selectors   map[string][]domain.SelectorPredicate
	methods     []domain.MethodRegistration
}

// Load reads and validates a catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.ConfigErrorf("catalog", "read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates catalog YAML.
func Parse(data []byte) (*Catalog, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, domain.ConfigErrorf("catalog", "parse: %w", err)
	}
	return New(f)
}

// New validates f and builds the catalog.
func New(f File) (*Catalog, error) {
	c := &Catalog{
		name:        f.Name,
		version:     f.Version,
		tables:      f.Tables,
		tableIdx:    make(map[string]int, len(f.Tables)),
		collections: f.Collections,
		collIdx:     make(map[string]int, len(f.Collections)),
		slices:      make(map[string]*domain.SliceFilter, len(f.Slices)),
		selectors:   f.Selectors,
		methods:     f.Methods,
	}
	if c.name == "" {
		return nil, domain.ConfigErrorf("catalog", "missing database name")
	}
	for i := range c.tables {
		t := &c.tables[i]
		if _, dup := c.tableIdx[t.ID]; dup {
			return nil, domain.ConfigErrorf("catalog", "duplicate table %q", t.ID)
		}
		if err := validateTable(t); err != nil {
			return nil, err
		}
		c.tableIdx[t.ID] = i
	}
	for i := range f.Slices {
		s := &f.Slices[i]
		if err := c.validateSlice(s); err != nil {
			return nil, err
		}
		c.slices[s.Name] = s
	}
	for i := range c.collections {
		coll := &c.collections[i]
		if _, dup := c.collIdx[coll.Name]; dup {
			return nil, domain.ConfigErrorf("catalog", "duplicate collection %q", coll.Name)
		}
		if err := c.validateCollection(coll); err != nil {
			return nil, err
		}
		c.collIdx[coll.Name] = i
	}
	for _, m := range c.methods {
		switch m.Scope {
		case domain.ScopeCategory, domain.ScopeAttribute, domain.ScopeDataBlock:
		default:
			return nil, domain.ConfigErrorf("catalog", "method %q: unknown scope %q", m.ID, m.Scope)
		}
	}
	return c, nil
}

func validateTable(t *domain.SchemaTable) error {
	if t.ID == "" {
		return domain.ConfigErrorf("catalog", "table without id")
	}
	if t.Name == "" {
		t.Name = t.ID
	}
	seen := map[string]bool{}
	for i := range t.Attributes {
		a := &t.Attributes[i]
		if a.ID == "" {
			return domain.ConfigErrorf("catalog", "table %s: attribute without id", t.ID)
		}
		if seen[a.ID] {
			return domain.ConfigErrorf("catalog", "table %s: duplicate attribute %q", t.ID, a.ID)
		}
		seen[a.ID] = true
		if a.Name == "" {
			a.Name = a.ID
		}
		if a.Type == "" {
			a.Type = domain.TypeString
		}
		if !a.Type.Valid() {
			return domain.ConfigErrorf("catalog", "table %s.%s: unknown type %q", t.ID, a.ID, a.Type)
		}
		if a.Type == domain.TypeEnum && len(a.Enum) == 0 {
			return domain.ConfigErrorf("catalog", "table %s.%s: enum without values", t.ID, a.ID)
		}
		switch a.Function {
		case "", domain.FuncDataBlockID, domain.FuncDateTime, domain.FuncLocator, domain.FuncRowIndex:
		default:
			return domain.ConfigErrorf("catalog", "table %s.%s: unknown function %q", t.ID, a.ID, a.Function)
		}
	}
	if len(t.Categories) > 1 {
		for _, cat := range t.Categories {
			if len(t.MergeIndex[cat]) == 0 {
				return domain.ConfigErrorf("catalog", "table %s: no merge index for category %q", t.ID, cat)
			}
		}
	}
	return nil
}

func (c *Catalog) validateSlice(s *domain.SliceFilter) error {
	if s.Name == "" || len(s.Parents) == 0 {
		return domain.ConfigErrorf("catalog", "slice %q needs a name and parents", s.Name)
	}
	check := func(table, attr string) error {
		t, ok := c.Table(table)
		if !ok || t.Attribute(attr) == nil {
			return domain.ConfigErrorf("catalog", "slice %s: unknown attribute %s.%s", s.Name, table, attr)
		}
		return nil
	}
	for _, p := range s.Parents {
		if err := check(p.Table, p.Attribute); err != nil {
			return err
		}
	}
	for _, f := range s.Filters {
		if err := check(f.Table, f.Attribute); err != nil {
			return err
		}
	}
	for _, ch := range s.Children {
		if err := check(ch.Table, ch.Attribute); err != nil {
			return err
		}
		if err := check(ch.ParentTable, ch.ParentAttribute); err != nil {
			return err
		}
	}
	return nil
}

func (c *Catalog) validateCollection(coll *domain.CollectionDefinition) error {
	if coll.Name == "" {
		return domain.ConfigErrorf("catalog", "collection without name")
	}
	if len(coll.KeyAttributes) == 0 {
		return domain.ConfigErrorf("collection "+coll.Name, "no key attributes")
	}
	if coll.Slice != "" {
		if _, ok := c.slices[coll.Slice]; !ok {
			return domain.ConfigErrorf("collection "+coll.Name, "unknown slice %q", coll.Slice)
		}
	}
	for _, p := range coll.PrivateAttributes {
		if p.UpdateOnLoad != "" {
			switch p.UpdateOnLoad {
			case domain.UpdateCollectionVersion, domain.UpdateLoadTime, domain.UpdateRunID:
			default:
				return domain.ConfigErrorf("collection "+coll.Name, "private %s: unknown update %q", p.Name, p.UpdateOnLoad)
			}
			continue
		}
		if p.Table == "" || p.Attribute == "" {
			return domain.ConfigErrorf("collection "+coll.Name, "private %s: table and attribute required", p.Name)
		}
	}
	return nil
}

// Name is the database name the catalog describes.
func (c *Catalog) Name() string { return c.name }

// Version is the catalog version.
func (c *Catalog) Version() string { return c.version }

// Tables returns all tables in declaration order.
func (c *Catalog) Tables() []domain.SchemaTable { return c.tables }

// Table returns the table with the given id.
func (c *Catalog) Table(id string) (*domain.SchemaTable, bool) {
	i, ok := c.tableIdx[id]
	if !ok {
		return nil, false
	}
	return &c.tables[i], true
}

// TableIDs returns table ids in declaration order.
func (c *Catalog) TableIDs() []string {
	ids := make([]string, len(c.tables))
	for i, t := range c.tables {
		ids[i] = t.ID
	}
	return ids
}

// CollectionNames returns collection names in declaration order.
func (c *Catalog) CollectionNames() []string {
	names := make([]string, len(c.collections))
	for i, coll := range c.collections {
		names[i] = coll.Name
	}
	return names
}

// Collection returns the named collection definition.
func (c *Catalog) Collection(name string) (*domain.CollectionDefinition, error) {
	i, ok := c.collIdx[name]
	if !ok {
		return nil, domain.ConfigErrorf("collection "+name, "not defined in catalog %s", c.name)
	}
	return &c.collections[i], nil
}

// CollectionExcluded returns the excluded table ids of a collection.
func (c *Catalog) CollectionExcluded(name string) []string {
	if coll, err := c.Collection(name); err == nil {
		return coll.Exclude
	}
	return nil
}

// CollectionSelected returns the include-list of a collection; empty means all.
func (c *Catalog) CollectionSelected(name string) []string {
	if coll, err := c.Collection(name); err == nil {
		return coll.Include
	}
	return nil
}

// CollectionExcludedAttributes returns table id → excluded attribute ids.
func (c *Catalog) CollectionExcludedAttributes(name string) map[string]map[string]bool {
	out := map[string]map[string]bool{}
	coll, err := c.Collection(name)
	if err != nil {
		return out
	}
	for _, ref := range coll.ExcludedAttributes {
		if out[ref.Table] == nil {
			out[ref.Table] = map[string]bool{}
		}
		out[ref.Table][ref.Attribute] = true
	}
	return out
}

// CollectionSliceFilter returns the slice filter of a collection, or nil for
// full-shape collections.
func (c *Catalog) CollectionSliceFilter(name string) *domain.SliceFilter {
	coll, err := c.Collection(name)
	if err != nil || coll.Slice == "" {
		return nil
	}
	return c.slices[coll.Slice]
}

// SubCategoryAggregates returns the aggregate specs of a collection.
func (c *Catalog) SubCategoryAggregates(name string) []domain.SubCategoryAggregate {
	if coll, err := c.Collection(name); err == nil {
		return coll.SubCategoryAggregates
	}
	return nil
}

// PrivateDocumentAttributes returns the private attribute specs of a collection.
func (c *Catalog) PrivateDocumentAttributes(name string) []domain.PrivateAttribute {
	if coll, err := c.Collection(name); err == nil {
		return coll.PrivateAttributes
	}
	return nil
}

// DocumentKeyAttributeNames returns the natural-key attribute paths.
func (c *Catalog) DocumentKeyAttributeNames(name string) []string {
	if coll, err := c.Collection(name); err == nil {
		return coll.KeyAttributes
	}
	return nil
}

// DocumentReplaceAttributeNames returns the attribute paths used to delete
// documents before a replace load. Defaults to the natural key.
func (c *Catalog) DocumentReplaceAttributeNames(name string) []string {
	coll, err := c.Collection(name)
	if err != nil {
		return nil
	}
	if len(coll.ReplaceAttributes) > 0 {
		return coll.ReplaceAttributes
	}
	return coll.KeyAttributes
}

// DataSelector returns the predicates of a named selector.
func (c *Catalog) DataSelector(name string) ([]domain.SelectorPredicate, error) {
	preds, ok := c.selectors[name]
	if !ok {
		return nil, domain.ConfigErrorf("selector "+name, "not defined in catalog %s", c.name)
	}
	return preds, nil
}

// Methods returns compute-rule registrations in declaration order.
func (c *Catalog) Methods() []domain.MethodRegistration { return c.methods }

// String identifies the catalog in logs.
func (c *Catalog) String() string {
	return fmt.Sprintf("%s@%s", c.name, c.version)
}
