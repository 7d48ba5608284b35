package domain

import "fmt"

// ── Container ──────────────────────────────────────────────
// A Container is one parsed unit of input: a named, ordered set of
// Categories. Every pipeline stage operates on one Container at a time.

// Category is a table-like substructure of a Container. Rows hold raw
// string values aligned with Attributes.
type Category struct {
	Name       string     `json:"name"`
	Attributes []string   `json:"attributes"`
	Rows       [][]string `json:"rows"`
}

// NewCategory creates an empty category with the given attribute order.
func NewCategory(name string, attributes ...string) *Category {
	return &Category{Name: name, Attributes: append([]string(nil), attributes...)}
}

// AttributeIndex returns the column position of attr, or -1.
func (c *Category) AttributeIndex(attr string) int {
	for i, a := range c.Attributes {
		if a == attr {
			return i
		}
	}
	return -1
}

// HasAttribute reports whether attr is a column of the category.
func (c *Category) HasAttribute(attr string) bool {
	return c.AttributeIndex(attr) >= 0
}

// RowCount returns the number of rows.
func (c *Category) RowCount() int {
	return len(c.Rows)
}

// Value returns the raw value at (attr, row). Missing cells read as "?".
func (c *Category) Value(attr string, row int) string {
	i := c.AttributeIndex(attr)
	if i < 0 || row < 0 || row >= len(c.Rows) || i >= len(c.Rows[row]) {
		return "?"
	}
	return c.Rows[row][i]
}

// AppendAttribute adds a column, padding existing rows with "?".
func (c *Category) AppendAttribute(attr string) {
	if c.HasAttribute(attr) {
		return
	}
	c.Attributes = append(c.Attributes, attr)
	for i := range c.Rows {
		c.Rows[i] = append(c.Rows[i], "?")
	}
}

// SetValue writes value at (attr, row), growing the attribute list and the
// row list as needed.
func (c *Category) SetValue(attr string, row int, value string) {
	if row < 0 {
		return
	}
	c.AppendAttribute(attr)
	for len(c.Rows) <= row {
		c.Rows = append(c.Rows, c.blankRow())
	}
	i := c.AttributeIndex(attr)
	for len(c.Rows[row]) < len(c.Attributes) {
		c.Rows[row] = append(c.Rows[row], "?")
	}
	c.Rows[row][i] = value
}

// AppendRow adds a row given as attribute → value. Unknown attributes are
// added as new columns.
func (c *Category) AppendRow(values map[string]string) {
	for _, attr := range sortedKeys(values) {
		c.AppendAttribute(attr)
	}
	row := c.blankRow()
	for attr, v := range values {
		row[c.AttributeIndex(attr)] = v
	}
	c.Rows = append(c.Rows, row)
}

// RowMap returns row as attribute → raw value.
func (c *Category) RowMap(row int) map[string]string {
	m := make(map[string]string, len(c.Attributes))
	for _, a := range c.Attributes {
		m[a] = c.Value(a, row)
	}
	return m
}

// Clone returns a deep copy.
func (c *Category) Clone() *Category {
	out := &Category{Name: c.Name, Attributes: append([]string(nil), c.Attributes...)}
	out.Rows = make([][]string, len(c.Rows))
	for i, r := range c.Rows {
		out.Rows[i] = append([]string(nil), r...)
	}
	return out
}

func (c *Category) blankRow() []string {
	row := make([]string, len(c.Attributes))
	for i := range row {
		row[i] = "?"
	}
	return row
}

// Container is a named, ordered set of categories plus free-form properties
// (source locator, load date) set during resolution.
type Container struct {
	Name       string            `json:"name"`
	Props      map[string]string `json:"props,omitempty"`
	Categories []*Category       `json:"categories"`
}

// Property names set by locator resolution.
const (
	PropLocator  = "locator"
	PropLoadDate = "load_date"
)

// NewContainer creates an empty container.
func NewContainer(name string) *Container {
	return &Container{Name: name, Props: map[string]string{}}
}

// Category returns the named category, or nil.
func (c *Container) Category(name string) *Category {
	for _, cat := range c.Categories {
		if cat.Name == name {
			return cat
		}
	}
	return nil
}

// Exists reports whether the named category is present.
func (c *Container) Exists(name string) bool {
	return c.Category(name) != nil
}

// CategoryNames returns category names in container order.
func (c *Container) CategoryNames() []string {
	names := make([]string, len(c.Categories))
	for i, cat := range c.Categories {
		names[i] = cat.Name
	}
	return names
}

// Append adds cat, replacing an existing category of the same name in place.
func (c *Container) Append(cat *Category) {
	for i, existing := range c.Categories {
		if existing.Name == cat.Name {
			c.Categories[i] = cat
			return
		}
	}
	c.Categories = append(c.Categories, cat)
}

// Remove deletes the named category if present.
func (c *Container) Remove(name string) {
	for i, cat := range c.Categories {
		if cat.Name == name {
			c.Categories = append(c.Categories[:i], c.Categories[i+1:]...)
			return
		}
	}
}

// SetProp sets a container property.
func (c *Container) SetProp(key, value string) {
	if c.Props == nil {
		c.Props = map[string]string{}
	}
	c.Props[key] = value
}

// Prop returns a container property, or "".
func (c *Container) Prop(key string) string {
	return c.Props[key]
}

// Clone returns a deep copy.
func (c *Container) Clone() *Container {
	out := NewContainer(c.Name)
	for k, v := range c.Props {
		out.Props[k] = v
	}
	for _, cat := range c.Categories {
		out.Categories = append(out.Categories, cat.Clone())
	}
	return out
}

// Merge folds other into c: categories missing from c are added, shared
// categories get other's rows appended with columns aligned by attribute
// name. Properties already set on c are kept.
func (c *Container) Merge(other *Container) error {
	if other == nil {
		return fmt.Errorf("merge container: nil auxiliary")
	}
	for _, cat := range other.Categories {
		existing := c.Category(cat.Name)
		if existing == nil {
			c.Categories = append(c.Categories, cat.Clone())
			continue
		}
		for _, a := range cat.Attributes {
			existing.AppendAttribute(a)
		}
		for r := range cat.Rows {
			existing.AppendRow(cat.RowMap(r))
		}
	}
	for k, v := range other.Props {
		if _, ok := c.Props[k]; !ok {
			c.SetProp(k, v)
		}
	}
	return nil
}
