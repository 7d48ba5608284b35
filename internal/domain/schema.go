package domain

// ── Schema metadata ────────────────────────────────────────
// Read-only description of the target schema: tables, attributes,
// collections, slice filters, data selectors and method registrations.
// Built once per run and shared across workers without locking.

// AttributeType is the declared target type of an attribute.
type AttributeType string

const (
	TypeString   AttributeType = "string"
	TypeInteger  AttributeType = "integer"
	TypeFloat    AttributeType = "float"
	TypeDate     AttributeType = "date"
	TypeDateTime AttributeType = "datetime"
	TypeEnum     AttributeType = "enum"
)

// Valid reports whether t is a known type.
func (t AttributeType) Valid() bool {
	switch t {
	case TypeString, TypeInteger, TypeFloat, TypeDate, TypeDateTime, TypeEnum:
		return true
	}
	return false
}

// Attribute filters.
const (
	FilterStripWS  = "strip_ws"
	FilterTrim     = "trim"
	FilterUnescape = "unescape"
	FilterEnum     = "enum"
)

// "Other" attribute functions: values computed from the container, not sourced
// from a category.
const (
	FuncDataBlockID = "datablockid()"
	FuncDateTime    = "getdatetime()"
	FuncLocator     = "getlocator()"
	FuncRowIndex    = "rowindex()"
)

// Attribute describes one column of a SchemaTable.
type Attribute struct {
	ID        string        `yaml:"id"`
	Name      string        `yaml:"name"`
	Type      AttributeType `yaml:"type"`
	Source    string        `yaml:"source,omitempty"` // source attribute name, defaults to Name
	MaxWidth  int           `yaml:"width,omitempty"`
	Filters   []string      `yaml:"filters,omitempty"`
	Separator string        `yaml:"iterable_separator,omitempty"` // non-empty makes the attribute iterable
	Enum      []string      `yaml:"enum,omitempty"`
	Function  string        `yaml:"function,omitempty"`

	SubCategories          []string `yaml:"sub_categories,omitempty"`
	EmbeddedSeparator      string   `yaml:"embedded_iterable_separator,omitempty"`
	EmbeddedIterableFloats bool     `yaml:"embedded_iterable_float,omitempty"`
}

// SourceName is the category attribute this attribute is read from.
func (a *Attribute) SourceName() string {
	if a.Source != "" {
		return a.Source
	}
	return a.Name
}

// IsIterable reports whether values are split into lists.
func (a *Attribute) IsIterable() bool {
	return a.Separator != ""
}

// IsOther reports whether the value is computed by a named function.
func (a *Attribute) IsOther() bool {
	return a.Function != ""
}

// HasFilter reports whether f is declared on the attribute.
func (a *Attribute) HasFilter(f string) bool {
	for _, x := range a.Filters {
		if x == f {
			return true
		}
	}
	return false
}

// SchemaTable maps zero or more source categories onto one target table.
type SchemaTable struct {
	ID              string              `yaml:"id"`
	Name            string              `yaml:"name"`
	Categories      []string            `yaml:"categories,omitempty"`
	MergeIndex      map[string][]string `yaml:"merge_index,omitempty"` // category → join-key source attribute names
	Mandatory       bool                `yaml:"mandatory,omitempty"`
	UnitCardinality bool                `yaml:"unit_cardinality,omitempty"`
	Attributes      []Attribute         `yaml:"attributes"`
}

// Attribute returns the attribute with the given id, or nil.
func (t *SchemaTable) Attribute(id string) *Attribute {
	for i := range t.Attributes {
		if t.Attributes[i].ID == id {
			return &t.Attributes[i]
		}
	}
	return nil
}

// AttributeByName returns the attribute with the given declared name, or nil.
func (t *SchemaTable) AttributeByName(name string) *Attribute {
	for i := range t.Attributes {
		if t.Attributes[i].Name == name {
			return &t.Attributes[i]
		}
	}
	return nil
}

// OtherAttributes returns the function-bound attributes in declaration order.
func (t *SchemaTable) OtherAttributes() []Attribute {
	var out []Attribute
	for _, a := range t.Attributes {
		if a.IsOther() {
			out = append(out, a)
		}
	}
	return out
}

// IsSynthetic reports whether the table has no source categories.
func (t *SchemaTable) IsSynthetic() bool {
	return len(t.Categories) == 0
}

// AttributeRef names one attribute of one table.
type AttributeRef struct {
	Table     string `yaml:"table"`
	Attribute string `yaml:"attribute"`
}

// ValueFilter is an equality predicate over a table attribute.
type ValueFilter struct {
	Table     string   `yaml:"table"`
	Attribute string   `yaml:"attribute"`
	Values    []string `yaml:"values"`
}

// SliceChild links an attribute of a sliced table to a parent attribute.
type SliceChild struct {
	Table           string `yaml:"table"`
	Attribute       string `yaml:"attribute"`
	ParentTable     string `yaml:"parent_table"`
	ParentAttribute string `yaml:"parent_attribute"`
}

// SliceFilter partitions one container into one document per distinct
// qualifying parent value tuple.
type SliceFilter struct {
	Name                  string         `yaml:"name"`
	Parents               []AttributeRef `yaml:"parents"`
	Filters               []ValueFilter  `yaml:"filters,omitempty"`
	Children              []SliceChild   `yaml:"children,omitempty"`
	ExtraTables           []string       `yaml:"extra_tables,omitempty"`
	UnitCardinalityTables []string       `yaml:"unit_cardinality_tables,omitempty"`
}

// SubCategoryAggregate groups attributes sharing the prefix Name.
type SubCategoryAggregate struct {
	Name            string `yaml:"name"`
	UnitCardinality bool   `yaml:"unit_cardinality,omitempty"`
}

// Run metadata injected as private document attributes.
const (
	UpdateCollectionVersion = "collection_version"
	UpdateLoadTime          = "load_time"
	UpdateRunID             = "run_id"
)

// PrivateAttribute promotes a nested field, or run metadata, to a top-level
// document key.
type PrivateAttribute struct {
	Name         string `yaml:"name"`
	Table        string `yaml:"table,omitempty"`
	Attribute    string `yaml:"attribute,omitempty"`
	Mandatory    bool   `yaml:"mandatory,omitempty"`
	UpdateOnLoad string `yaml:"update_on_load,omitempty"`
}

// IndexDefinition is a secondary index created in the setup phase.
type IndexDefinition struct {
	Name       string   `yaml:"name"`
	Attributes []string `yaml:"attributes"`
}

// CollectionDefinition governs one destination collection.
type CollectionDefinition struct {
	Name                  string                 `yaml:"name"`
	Version               string                 `yaml:"version,omitempty"`
	Include               []string               `yaml:"include,omitempty"`
	Exclude               []string               `yaml:"exclude,omitempty"`
	ExcludedAttributes    []AttributeRef         `yaml:"excluded_attributes,omitempty"`
	Slice                 string                 `yaml:"slice,omitempty"`
	KeyAttributes         []string               `yaml:"key_attributes"`
	ReplaceAttributes     []string               `yaml:"replace_attributes,omitempty"`
	Indexes               []IndexDefinition      `yaml:"indexes,omitempty"`
	SubCategoryAggregates []SubCategoryAggregate `yaml:"sub_category_aggregates,omitempty"`
	PrivateAttributes     []PrivateAttribute     `yaml:"private_attributes,omitempty"`
}

// SelectorPredicate requires every row of Category to carry an allowed value.
type SelectorPredicate struct {
	Category  string   `yaml:"category"`
	Attribute string   `yaml:"attribute"`
	Values    []string `yaml:"values"`
}

// MethodScope is the level a compute rule is applied at.
type MethodScope string

const (
	ScopeCategory  MethodScope = "category"
	ScopeAttribute MethodScope = "attribute"
	ScopeDataBlock MethodScope = "datablock"
)

// ComputeMarker flags registrations that the runner invokes.
const ComputeMarker = "calculate_with_helper"

// MethodRegistration binds a compute rule to a scope.
type MethodRegistration struct {
	ID             string      `yaml:"id"`
	Scope          MethodScope `yaml:"scope"`
	Category       string      `yaml:"category"` // block name for datablock scope
	Attribute      string      `yaml:"attribute,omitempty"`
	Implementation string      `yaml:"implementation"`
	Code           string      `yaml:"code"`
	Priority       int         `yaml:"priority"`
}
