package etl

import (
	"fmt"
	"html"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"docloader/internal/domain"
)

// ── Attribute Transform ────────────────────────────────────
// Each attribute gets a cast chain compiled once from its declared
// type and filters. A chain is a list of CastFuncs applied in order;
// null tokens short-circuit the chain.
//
// Pattern: processor chain, compiled per schema table.

// CastFunc converts or filters one value.
type CastFunc func(any) (any, error)

// TransformPolicy holds the global cast switches.
type TransformPolicy struct {
	DropEmptyAttributes bool `yaml:"drop_empty_attributes"`
	DropEmptyTables     bool `yaml:"drop_empty_tables"`
	SkipMaxWidth        bool `yaml:"skip_max_width"`
	AssignDates         bool `yaml:"assign_dates"`
	ConvertIterables    bool `yaml:"convert_iterables"`
	NormalizeEnums      bool `yaml:"normalize_enums"`
	TranslateCharRefs   bool `yaml:"translate_char_refs"`
}

// DefaultTransformPolicy is the policy used for document loads.
func DefaultTransformPolicy() TransformPolicy {
	return TransformPolicy{
		DropEmptyAttributes: true,
		DropEmptyTables:     true,
		ConvertIterables:    true,
		NormalizeEnums:      true,
		TranslateCharRefs:   true,
	}
}

// IsNullToken reports whether raw is one of the null placeholder tokens.
func IsNullToken(raw string) bool {
	switch strings.TrimSpace(raw) {
	case "", ".", "?":
		return true
	}
	return false
}

type attrTransform struct {
	attr        *domain.Attribute
	chain       []CastFunc
	pure        domain.AttributeType // non-empty selects the type-switch fast path
	placeholder any
}

type tableTransform struct {
	table    *domain.SchemaTable
	byID     map[string]*attrTransform
	bySource map[string]*attrTransform
	order    []*attrTransform
}

// AttributeTransform casts raw category values into typed row values.
// It is built once per catalog and is safe for concurrent use.
type AttributeTransform struct {
	policy TransformPolicy
	tables map[string]*tableTransform
}

// NewAttributeTransform compiles cast chains for every table.
func NewAttributeTransform(tables []domain.SchemaTable, policy TransformPolicy) *AttributeTransform {
	t := &AttributeTransform{policy: policy, tables: make(map[string]*tableTransform, len(tables))}
	for i := range tables {
		tbl := &tables[i]
		tt := &tableTransform{
			table:    tbl,
			byID:     make(map[string]*attrTransform, len(tbl.Attributes)),
			bySource: make(map[string]*attrTransform, len(tbl.Attributes)),
		}
		for j := range tbl.Attributes {
			a := &tbl.Attributes[j]
			at := t.compile(a)
			tt.byID[a.ID] = at
			tt.order = append(tt.order, at)
			if !a.IsOther() {
				tt.bySource[a.SourceName()] = at
			}
		}
		t.tables[tbl.ID] = tt
	}
	return t
}

// Policy returns the policy the transform was compiled with.
func (t *AttributeTransform) Policy() TransformPolicy { return t.policy }

// Placeholder returns the null placeholder of an attribute.
func (t *AttributeTransform) Placeholder(tableID, attrID string) any {
	if tt, ok := t.tables[tableID]; ok {
		if at, ok := tt.byID[attrID]; ok {
			return at.placeholder
		}
	}
	return nil
}

// Cast converts one raw value. It returns the value, whether it is null, and
// a CastError for unparseable non-null input.
func (t *AttributeTransform) Cast(tableID, attrID, raw string) (any, bool, error) {
	tt, ok := t.tables[tableID]
	if !ok {
		return nil, false, fmt.Errorf("cast: unknown table %q", tableID)
	}
	at, ok := tt.byID[attrID]
	if !ok {
		return nil, false, fmt.Errorf("cast: unknown attribute %s.%s", tableID, attrID)
	}
	return at.cast(tableID, raw)
}

// ProcessRecord casts one raw row. attributeOrder names the source
// attribute of each raw value; names without a schema attribute are
// ignored. Unless drop-empty is active the result is pre-seeded with every
// sourced attribute's null placeholder.
func (t *AttributeTransform) ProcessRecord(tableID string, raw []string, attributeOrder []string) (*Row, error) {
	tt, ok := t.tables[tableID]
	if !ok {
		return nil, fmt.Errorf("process record: unknown table %q", tableID)
	}
	row := NewRow()
	if !t.policy.DropEmptyAttributes {
		for _, at := range tt.order {
			if !at.attr.IsOther() {
				row.SetNull(at.attr.ID, at.placeholder)
			}
		}
	}
	for i, name := range attributeOrder {
		if i >= len(raw) {
			break
		}
		at, ok := tt.bySource[name]
		if !ok {
			continue
		}
		v, isNull, err := at.cast(tableID, raw[i])
		if err != nil {
			return nil, err
		}
		if isNull {
			if !t.policy.DropEmptyAttributes {
				row.SetNull(at.attr.ID, at.placeholder)
			}
			continue
		}
		row.Set(at.attr.ID, v)
	}
	return row, nil
}

func (at *attrTransform) cast(tableID, raw string) (any, bool, error) {
	if IsNullToken(raw) {
		return at.placeholder, true, nil
	}
	var (
		v   any
		err error
	)
	switch at.pure {
	case domain.TypeString:
		v = raw
	case domain.TypeInteger:
		v, err = parseInteger(raw)
	case domain.TypeFloat:
		v, err = parseFloat(raw)
	default:
		v = raw
		for _, fn := range at.chain {
			if v, err = fn(v); err != nil {
				break
			}
		}
	}
	if err != nil {
		return nil, false, &domain.CastError{Table: tableID, Attribute: at.attr.ID, Value: raw, Err: err}
	}
	return v, false, nil
}

func (t *AttributeTransform) compile(a *domain.Attribute) *attrTransform {
	at := &attrTransform{attr: a, placeholder: nullPlaceholder(a.Type)}
	if a.IsOther() {
		return at
	}

	elem := t.scalarChain(a)
	if a.IsIterable() && t.policy.ConvertIterables {
		at.placeholder = nil
		at.chain = []CastFunc{splitIterable(a.Separator, elem)}
		return at
	}
	if a.IsIterable() {
		elem = t.stringChain(a)
	}
	at.chain = elem
	if len(elem) == 1 && len(a.Filters) == 0 && !a.IsIterable() {
		switch a.Type {
		case domain.TypeString, domain.TypeInteger, domain.TypeFloat:
			at.pure = a.Type
		}
	}
	return at
}

func (t *AttributeTransform) scalarChain(a *domain.Attribute) []CastFunc {
	switch a.Type {
	case domain.TypeInteger:
		return []CastFunc{castInteger}
	case domain.TypeFloat:
		return []CastFunc{castFloat}
	case domain.TypeDate:
		return []CastFunc{castDate(false, t.policy.AssignDates)}
	case domain.TypeDateTime:
		return []CastFunc{castDate(true, t.policy.AssignDates)}
	case domain.TypeEnum:
		fl := t.stringChain(a)
		if t.policy.NormalizeEnums || a.HasFilter(domain.FilterEnum) {
			fl = append(fl, normalizeEnum(a.Enum))
		}
		return fl
	default:
		return t.stringChain(a)
	}
}

func (t *AttributeTransform) stringChain(a *domain.Attribute) []CastFunc {
	fl := []CastFunc{castString}
	if a.HasFilter(domain.FilterStripWS) {
		fl = append(fl, stripWhitespace)
	}
	if a.HasFilter(domain.FilterTrim) {
		fl = append(fl, trimSpace)
	}
	if a.HasFilter(domain.FilterUnescape) || (t.policy.TranslateCharRefs && a.Type == domain.TypeString) {
		fl = append(fl, unescapeCharRefs)
	}
	if a.MaxWidth > 0 && !t.policy.SkipMaxWidth {
		fl = append(fl, truncate(a.MaxWidth))
	}
	return fl
}

// nullPlaceholder is "" for character types and nil otherwise.
func nullPlaceholder(typ domain.AttributeType) any {
	switch typ {
	case domain.TypeString, domain.TypeEnum:
		return ""
	}
	return nil
}

// ── Cast functions ─────────────────────────────────────────

func castString(v any) (any, error) {
	return fmt.Sprint(v), nil
}

func castInteger(v any) (any, error) {
	return parseInteger(fmt.Sprint(v))
}

func castFloat(v any) (any, error) {
	return parseFloat(fmt.Sprint(v))
}

func parseInteger(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	// float64(MaxInt64) rounds up to 2^63, which int64 cannot hold.
	if err != nil || f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, fmt.Errorf("not an integer")
	}
	return int64(f), nil
}

func parseFloat(s string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("not a float")
	}
	return f, nil
}

func stripWhitespace(v any) (any, error) {
	s := v.(string)
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s), nil
}

func trimSpace(v any) (any, error) {
	return strings.TrimSpace(v.(string)), nil
}

func unescapeCharRefs(v any) (any, error) {
	s := v.(string)
	if !strings.Contains(s, "&") {
		return s, nil
	}
	return html.UnescapeString(s), nil
}

func truncate(width int) CastFunc {
	return func(v any) (any, error) {
		s := v.(string)
		if utf8.RuneCountInString(s) <= width {
			return s, nil
		}
		return string([]rune(s)[:width]), nil
	}
}

func normalizeEnum(values []string) CastFunc {
	canon := make(map[string]string, len(values))
	for _, ev := range values {
		canon[strings.ToLower(strings.TrimSpace(ev))] = ev
	}
	return func(v any) (any, error) {
		s := v.(string)
		if c, ok := canon[strings.ToLower(strings.TrimSpace(s))]; ok {
			return c, nil
		}
		return s, nil
	}
}

// splitIterable splits on sep and casts each element with elem. Null tokens
// inside the list become nil.
func splitIterable(sep string, elem []CastFunc) CastFunc {
	return func(v any) (any, error) {
		parts := strings.Split(fmt.Sprint(v), sep)
		out := make([]any, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if IsNullToken(p) {
				out = append(out, nil)
				continue
			}
			var (
				ev  any = p
				err error
			)
			for _, fn := range elem {
				if ev, err = fn(ev); err != nil {
					return nil, err
				}
			}
			out = append(out, ev)
		}
		return out, nil
	}
}

// ── Dates ──────────────────────────────────────────────────

var dateLayouts = []string{
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseDate accepts ISO-8601 dates and datetimes, including the
// "yyyy-mm-dd:hh:mm:ss" form where the first ':' separates date and time.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) > 10 && s[10] == ':' {
		s = s[:10] + " " + s[11:]
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// FormatDateTime renders t as UTC ISO-8601 with an explicit offset.
func FormatDateTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05") + "+00:00"
}

// FormatDate renders the date part of t.
func FormatDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func castDate(withTime, asObject bool) CastFunc {
	return func(v any) (any, error) {
		t, err := ParseDate(fmt.Sprint(v))
		if err != nil {
			return nil, err
		}
		if !withTime {
			t = t.Truncate(24 * time.Hour)
		}
		if asObject {
			return t, nil
		}
		if withTime {
			return FormatDateTime(t), nil
		}
		return FormatDate(t), nil
	}
}

// FormatValue serializes a transformed value back into raw form, so that
// casting the result reproduces the value.
func FormatValue(a *domain.Attribute, v any) string {
	switch x := v.(type) {
	case nil:
		return "?"
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case time.Time:
		if a != nil && a.Type == domain.TypeDate {
			return FormatDate(x)
		}
		return FormatDateTime(x)
	case []any:
		sep := ","
		if a != nil && a.Separator != "" {
			sep = a.Separator
		}
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = FormatValue(a, e)
		}
		return strings.Join(parts, sep)
	default:
		return fmt.Sprint(v)
	}
}
