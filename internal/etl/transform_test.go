package etl

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docloader/internal/domain"
)

func castTables() []domain.SchemaTable {
	return []domain.SchemaTable{{
		ID:         "t",
		Name:       "t",
		Categories: []string{"t"},
		Attributes: []domain.Attribute{
			{ID: "s", Name: "s", Type: domain.TypeString},
			{ID: "f", Name: "f", Type: domain.TypeFloat},
			{ID: "i", Name: "i", Type: domain.TypeInteger},
			{ID: "d", Name: "d", Type: domain.TypeDate},
			{ID: "dt", Name: "dt", Type: domain.TypeDateTime},
			{ID: "e", Name: "e", Type: domain.TypeEnum, Enum: []string{"Polymer", "Non-Polymer"}},
			{ID: "w", Name: "w", Type: domain.TypeString, MaxWidth: 3},
			{ID: "ws", Name: "ws", Type: domain.TypeString, Filters: []string{domain.FilterStripWS}},
			{ID: "tr", Name: "tr", Type: domain.TypeString, Filters: []string{domain.FilterTrim}},
			{ID: "li", Name: "li", Type: domain.TypeInteger, Separator: ","},
			{ID: "ls", Name: "ls", Type: domain.TypeString, Separator: ";"},
			{ID: "src", Name: "renamed", Type: domain.TypeString, Source: "orig"},
		},
	}}
}

func TestProcessRecordDropsNullStrings(t *testing.T) {
	tr := NewAttributeTransform(castTables(), DefaultTransformPolicy())

	row, err := tr.ProcessRecord("t", []string{"?", "5.0"}, []string{"s", "f"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"f": 5.0}, row.Values)
	assert.Empty(t, row.Null)
}

func TestProcessRecordKeepsPlaceholders(t *testing.T) {
	policy := DefaultTransformPolicy()
	policy.DropEmptyAttributes = false
	tr := NewAttributeTransform(castTables(), policy)

	row, err := tr.ProcessRecord("t", []string{"?", "."}, []string{"s", "f"})
	require.NoError(t, err)

	v, ok := row.Get("s")
	require.True(t, ok)
	assert.Equal(t, "", v)
	assert.True(t, row.IsNull("s"))

	v, ok = row.Get("f")
	require.True(t, ok)
	assert.Nil(t, v)
	assert.True(t, row.IsNull("f"))

	// Attributes absent from the raw row are pre-seeded too.
	assert.True(t, row.IsNull("i"))
	_, ok = row.Get("i")
	assert.True(t, ok)
}

func TestNullTokens(t *testing.T) {
	tr := NewAttributeTransform(castTables(), DefaultTransformPolicy())
	for _, raw := range []string{"", ".", "?", "  ", " ? "} {
		for _, attr := range []string{"s", "e"} {
			v, isNull, err := tr.Cast("t", attr, raw)
			require.NoError(t, err)
			assert.True(t, isNull, "%s %q", attr, raw)
			assert.Equal(t, "", v)
		}
		for _, attr := range []string{"f", "i", "d", "dt"} {
			v, isNull, err := tr.Cast("t", attr, raw)
			require.NoError(t, err)
			assert.True(t, isNull, "%s %q", attr, raw)
			assert.Nil(t, v)
		}
	}
	assert.Equal(t, "", tr.Placeholder("t", "s"))
	assert.Nil(t, tr.Placeholder("t", "f"))
	assert.Nil(t, tr.Placeholder("t", "li"), "converted iterables are null as nil")
}

func TestCastRoundTrip(t *testing.T) {
	tables := castTables()
	for _, assign := range []bool{false, true} {
		policy := DefaultTransformPolicy()
		policy.AssignDates = assign
		tr := NewAttributeTransform(tables, policy)

		cases := []struct{ attr, raw string }{
			{"s", "hello world"},
			{"s", "a &amp; b"},
			{"f", "1.5e3"},
			{"f", "-0.25"},
			{"i", "42"},
			{"i", "7.0"},
			{"d", "2020-01-02"},
			{"dt", "2020-01-02:10:11:12"},
			{"dt", "2020-01-02T10:11:12Z"},
			{"e", "polymer"},
			{"w", "abcdef"},
			{"li", "1, 2,?"},
			{"ls", "x;y"},
		}
		for _, tc := range cases {
			a := tables[0].Attribute(tc.attr)
			first, isNull, err := tr.Cast("t", tc.attr, tc.raw)
			require.NoError(t, err, tc.raw)
			require.False(t, isNull, tc.raw)

			second, isNull, err := tr.Cast("t", tc.attr, FormatValue(a, first))
			require.NoError(t, err, tc.raw)
			require.False(t, isNull, tc.raw)

			if ft, ok := first.(time.Time); ok {
				st, ok := second.(time.Time)
				require.True(t, ok)
				assert.True(t, ft.Equal(st), "%s: %v != %v", tc.raw, ft, st)
				continue
			}
			assert.Equal(t, first, second, "assign=%v raw=%q", assign, tc.raw)
		}
	}
}

func TestCastValues(t *testing.T) {
	tr := NewAttributeTransform(castTables(), DefaultTransformPolicy())
	cases := []struct {
		attr, raw string
		want      any
	}{
		{"i", "42", int64(42)},
		{"i", "2.0", int64(2)},
		{"f", " 3.25 ", 3.25},
		{"d", "2020-01-02", "2020-01-02"},
		{"dt", "2020-01-02:10:11:12", "2020-01-02T10:11:12+00:00"},
		{"dt", "2020-01-02 10:11", "2020-01-02T10:11:00+00:00"},
		{"e", "POLYMER", "Polymer"},
		{"e", "other", "other"},
		{"w", "abcdef", "abc"},
		{"ws", " a b\tc ", "abc"},
		{"tr", "  padded  ", "padded"},
		{"s", "a &amp; b &#65;", "a & b A"},
		{"li", "1, 2,?", []any{int64(1), int64(2), nil}},
		{"ls", "x;.;y", []any{"x", nil, "y"}},
	}
	for _, tc := range cases {
		got, isNull, err := tr.Cast("t", tc.attr, tc.raw)
		require.NoError(t, err, "%s %q", tc.attr, tc.raw)
		assert.False(t, isNull)
		assert.Equal(t, tc.want, got, "%s %q", tc.attr, tc.raw)
	}
}

func TestCastDatesAsObjects(t *testing.T) {
	policy := DefaultTransformPolicy()
	policy.AssignDates = true
	tr := NewAttributeTransform(castTables(), policy)

	v, _, err := tr.Cast("t", "d", "2020-01-02")
	require.NoError(t, err)
	assert.True(t, time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC).Equal(v.(time.Time)))

	v, _, err = tr.Cast("t", "dt", "2020-01-02T10:11:12+02:00")
	require.NoError(t, err)
	assert.True(t, time.Date(2020, 1, 2, 8, 11, 12, 0, time.UTC).Equal(v.(time.Time)))
}

func TestCastPolicySwitches(t *testing.T) {
	policy := DefaultTransformPolicy()
	policy.SkipMaxWidth = true
	policy.ConvertIterables = false
	policy.NormalizeEnums = false
	policy.TranslateCharRefs = false
	tr := NewAttributeTransform(castTables(), policy)

	cases := map[string][2]string{
		"w":  {"abcdef", "abcdef"},
		"li": {"1,2", "1,2"},
		"e":  {"POLYMER", "POLYMER"},
		"s":  {"a &amp; b", "a &amp; b"},
	}
	for attr, tc := range cases {
		got, _, err := tr.Cast("t", attr, tc[0])
		require.NoError(t, err)
		assert.Equal(t, tc[1], got, attr)
	}
}

func TestCastError(t *testing.T) {
	tr := NewAttributeTransform(castTables(), DefaultTransformPolicy())
	for _, tc := range []struct{ attr, raw string }{
		{"i", "abc"},
		{"i", "1.5"},
		{"f", "1,5"},
		{"d", "yesterday"},
		{"li", "1,x"},
		{"i", "1e30"},
		{"i", "9223372036854775808"},
		{"i", "-1e19"},
	} {
		_, _, err := tr.Cast("t", tc.attr, tc.raw)
		var ce *domain.CastError
		require.True(t, errors.As(err, &ce), "%s %q: %v", tc.attr, tc.raw, err)
		assert.Equal(t, "t", ce.Table)
		assert.Equal(t, tc.attr, ce.Attribute)
		assert.Equal(t, tc.raw, ce.Value)
	}

	v, _, err := tr.Cast("t", "i", "-9223372036854775808")
	require.NoError(t, err)
	assert.Equal(t, int64(math.MinInt64), v)
	v, _, err = tr.Cast("t", "i", "1e3")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), v)

	_, err = tr.ProcessRecord("t", []string{"abc"}, []string{"i"})
	var ce *domain.CastError
	assert.True(t, errors.As(err, &ce))

	_, _, err = tr.Cast("missing", "i", "1")
	assert.Error(t, err)
	_, _, err = tr.Cast("t", "missing", "1")
	assert.Error(t, err)
}

func TestProcessRecordSourceNames(t *testing.T) {
	tr := NewAttributeTransform(castTables(), DefaultTransformPolicy())
	row, err := tr.ProcessRecord("t", []string{"v", "ignored", "7"}, []string{"orig", "unknown", "i"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"src": "v", "i": int64(7)}, row.Values)

	// Short raw rows stop at their last value.
	row, err = tr.ProcessRecord("t", []string{"v"}, []string{"orig", "i"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"src": "v"}, row.Values)
}

func TestParseDate(t *testing.T) {
	for _, s := range []string{"2021-03-04", "2021-03-04 05:06:07", "2021-03-04:05:06:07", "2021-03-04T05:06:07Z"} {
		d, err := ParseDate(s)
		require.NoError(t, err, s)
		assert.Equal(t, "2021-03-04", FormatDate(d))
	}
	_, err := ParseDate("04/03/2021")
	assert.Error(t, err)
}

func TestRowMerge(t *testing.T) {
	a := NewRow()
	a.Set("id", "2")
	a.Set("a_val", "y")
	a.SetNull("b_val", "")

	b := NewRow()
	b.Set("id", "2")
	b.Set("b_val", "p")
	b.SetNull("a_val", "")
	b.SetNull("extra", nil)

	a.Merge(b)
	assert.Equal(t, "y", a.Values["a_val"], "nulls never overwrite")
	assert.Equal(t, "p", a.Values["b_val"])
	assert.False(t, a.IsNull("b_val"))
	assert.True(t, a.IsNull("extra"))
	assert.Equal(t, 4, a.Len())
}
