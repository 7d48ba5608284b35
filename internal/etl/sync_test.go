package etl

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"docloader/internal/dbclient"
	"docloader/internal/domain"
)

func TestProcessChunkCastErrorScopedToCollection(t *testing.T) {
	store := dbclient.NewMemoryStore("pdbx_test")
	bad := entryContainer("1ABC")
	bad.Category("entity_poly").Rows[0][1] = "long"
	e := newTestEngine(t, store, newMemResolver(bad, entryContainer("2DEF")), engineOptions{})

	res := e.ProcessChunk(context.Background(), locators(t, "1ABC", "2DEF"), ChunkOptions{
		Collections: []string{"entry_core", "entity_list"},
		Write:       WriteOptions{Mode: domain.LoadFull},
	})
	require.Len(t, res.Failures["1ABC"], 1)
	reason := res.Failures["1ABC"][0]
	assert.Equal(t, domain.StageMap, reason.Stage)
	assert.Equal(t, "entry_core", reason.Collection)
	assert.Empty(t, res.Failures["2DEF"])

	assert.Equal(t, 1, res.Loaded["entry_core"])
	assert.Equal(t, 2, res.Loaded["entity_list"])
	assert.Equal(t, 1, res.Failed["entry_core"])
}

type blockingResolver struct{}

func (blockingResolver) Resolve(ctx context.Context, _ domain.Locator) (*domain.Container, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestProcessChunkLocatorTimeout(t *testing.T) {
	store := dbclient.NewMemoryStore("pdbx_test")
	e := newTestEngine(t, store, blockingResolver{}, engineOptions{})

	res := e.ProcessChunk(context.Background(), locators(t, "slow"), ChunkOptions{
		Collections:    []string{"entry_core"},
		LocatorTimeout: 20 * time.Millisecond,
	})
	require.Len(t, res.Failures["slow"], 1)
	assert.Equal(t, domain.StageResolve, res.Failures["slow"][0].Stage)
	assert.Empty(t, store.Documents("entry_core"))
}

func TestProcessChunkSelectorSeesComputedCategories(t *testing.T) {
	store := dbclient.NewMemoryStore("pdbx_test")
	c := entryContainer("3XYZ")
	c.Remove("entity")
	e := newTestEngine(t, store, newMemResolver(c), engineOptions{selectors: []string{"polymer_only"}})

	addEntity := func(_ context.Context, c *domain.Container, _, _ string) (bool, error) {
		entity := domain.NewCategory("entity", "id", "type")
		entity.Rows = [][]string{{"1", "polymer"}}
		c.Append(entity)
		return true, nil
	}
	runner, err := NewMethodRunner([]domain.MethodRegistration{{
		ID:             "add_entity",
		Scope:          domain.ScopeDataBlock,
		Category:       "data",
		Implementation: "Helper.add_entity",
		Code:           domain.ComputeMarker,
	}}, MethodTable{"add_entity": addEntity}, zap.NewNop())
	require.NoError(t, err)
	e.Methods = runner

	res := e.ProcessChunk(context.Background(), locators(t, "3XYZ"), ChunkOptions{
		Collections: []string{"entry_core"},
		Write:       WriteOptions{Mode: domain.LoadFull},
	})
	assert.Empty(t, res.Rejected)
	assert.Empty(t, res.Failures["3XYZ"])
	assert.Equal(t, 1, res.Loaded["entry_core"])
}
