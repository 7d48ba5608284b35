package helpers

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"docloader/internal/domain"
	"docloader/internal/etl"
)

func sampleContainer() *domain.Container {
	c := domain.NewContainer("1ABC")
	entity := domain.NewCategory("entity", "id", "type")
	entity.Rows = [][]string{{"1", "Protein"}, {"2", "h2o"}}
	c.Append(entity)
	return c
}

func TestAddContainerIdentifiers(t *testing.T) {
	c := sampleContainer()
	ctx := context.Background()

	changed, err := addContainerIdentifiers(ctx, c, "entity", "")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "1ABC", c.Category("entity").Value(AttrEntryID, 1))

	changed, err = addContainerIdentifiers(ctx, c, "entity", "")
	require.NoError(t, err)
	assert.False(t, changed, "second run is a no-op")

	_, err = addContainerIdentifiers(ctx, c, "entry", "")
	require.NoError(t, err)
	require.True(t, c.Exists("entry"))
	assert.Equal(t, 1, c.Category("entry").RowCount())
}

func TestAddRowOrdinals(t *testing.T) {
	c := sampleContainer()
	changed, err := addRowOrdinals(context.Background(), c, "entity", "ordinal")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "1", c.Category("entity").Value("ordinal", 0))
	assert.Equal(t, "2", c.Category("entity").Value("ordinal", 1))

	changed, err = addRowOrdinals(context.Background(), c, "missing", "ordinal")
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = addRowOrdinals(context.Background(), c, "entity", "")
	assert.Error(t, err)
}

func TestAddDataBlockSummary(t *testing.T) {
	c := sampleContainer()
	_, err := addDataBlockSummary(context.Background(), c, "summary", "")
	require.NoError(t, err)
	_, err = addDataBlockSummary(context.Background(), c, "summary", "")
	require.NoError(t, err)

	s := c.Category("summary")
	require.NotNil(t, s)
	assert.Equal(t, 1, s.RowCount())
	assert.Equal(t, map[string]string{
		AttrName: "1ABC", AttrCategoryCount: "1", AttrRowCount: "2",
	}, s.RowMap(0))
}

func TestApplyValueSynonyms(t *testing.T) {
	res := NewStaticResourceProvider(map[string]map[string]string{
		"*":           {"H2O": "water"},
		"entity.type": {"protein": "polymer"},
	})
	c := sampleContainer()
	changed, err := applyValueSynonyms(res)(context.Background(), c, "entity", "type")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "polymer", c.Category("entity").Value("type", 0))
	assert.Equal(t, "water", c.Category("entity").Value("type", 1))

	_, err = applyValueSynonyms(nil)(context.Background(), c, "entity", "type")
	assert.Error(t, err)
}

func TestResourceProvider_LoadsFileOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "synonyms.yaml")
	require.NoError(t, os.WriteFile(path, []byte("entity.type:\n  Protein: polymer\n"), 0o644))

	p := NewResourceProvider(ResourceConfig{SynonymsPath: path}, zap.NewNop())
	syn, err := p.Synonyms("entity", "type")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"protein": "polymer"}, syn)

	require.NoError(t, os.Remove(path))
	syn, err = p.Synonyms("entity", "type")
	require.NoError(t, err, "cached after first load")
	assert.Len(t, syn, 1)
}

func TestResourceProvider_MissingFile(t *testing.T) {
	p := NewResourceProvider(ResourceConfig{SynonymsPath: filepath.Join(t.TempDir(), "nope.yaml")}, zap.NewNop())
	_, err := p.Synonyms("entity", "type")
	assert.ErrorContains(t, err, "read synonyms")
}

func TestTable_BindsThroughMethodRunner(t *testing.T) {
	regs := []domain.MethodRegistration{
		{ID: "ids", Scope: domain.ScopeCategory, Category: "entity", Implementation: "Helper.add_container_identifiers", Code: domain.ComputeMarker},
		{ID: "ord", Scope: domain.ScopeAttribute, Category: "entity", Attribute: "ordinal", Implementation: "Helper.add_row_ordinals", Code: domain.ComputeMarker},
		{ID: "sum", Scope: domain.ScopeDataBlock, Category: "summary", Implementation: "Helper.add_datablock_summary", Code: domain.ComputeMarker, Priority: 1},
	}
	runner, err := etl.NewMethodRunner(regs, Table(NewStaticResourceProvider(nil)), zap.NewNop())
	require.NoError(t, err)

	c := sampleContainer()
	assert.True(t, runner.Apply(context.Background(), c))
	assert.Equal(t, "1ABC", c.Category("entity").Value(AttrEntryID, 0))
	assert.Equal(t, "2", c.Category("entity").Value("ordinal", 1))
	assert.Equal(t, "2", c.Category("summary").Value(AttrRowCount, 0))
}
