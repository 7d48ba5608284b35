package etl

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docloader/internal/domain"
)

func TestDataSelector(t *testing.T) {
	cat := testCatalog(t)
	s, err := NewDataSelector(cat, []string{"polymer_only"})
	require.NoError(t, err)

	assert.NoError(t, s.Test(polymerContainer("5MNO")))

	err = s.Test(entryContainer("1ABC"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrSelectorRejected))
	assert.Contains(t, err.Error(), `entity.type="non-polymer"`)

	c := entryContainer("2DEF")
	c.Remove("entity")
	assert.True(t, errors.Is(s.Test(c), domain.ErrSelectorRejected))
}

func TestDataSelectorUnset(t *testing.T) {
	var s *DataSelector
	assert.NoError(t, s.Test(entryContainer("1ABC")))

	s, err := NewDataSelector(testCatalog(t), nil)
	require.NoError(t, err)
	assert.NoError(t, s.Test(domain.NewContainer("empty")))
}

func TestDataSelectorUnknownName(t *testing.T) {
	_, err := NewDataSelector(testCatalog(t), []string{"nope"})
	require.Error(t, err)
	assert.True(t, domain.IsConfigurationError(err))
}
