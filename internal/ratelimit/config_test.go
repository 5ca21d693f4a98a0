package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultTable_CoversAllCategories(t *testing.T) {
	table := DefaultTable()

	for _, name := range []string{CategoryAuth, CategoryContact, CategoryAdminAPI, CategoryPublicAPI, CategoryPageView} {
		cat, ok := table[name]
		assert.True(t, ok, "missing category %s", name)
		assert.Greater(t, cat.MaxRequests, 0)
		assert.Greater(t, cat.Window, time.Duration(0))
	}

	assert.Equal(t, 3, table[CategoryAuth].MaxRequests)
	assert.Equal(t, 5*time.Minute, table[CategoryAuth].BlockDuration)
}

func TestTable_ApplyOverrides(t *testing.T) {
	table := DefaultTable()

	err := table.ApplyOverrides("auth:5:120:600, uploads:10:60:0")
	assert.NoError(t, err)
	assert.Equal(t, Category{MaxRequests: 5, Window: 2 * time.Minute, BlockDuration: 10 * time.Minute}, table[CategoryAuth])
	assert.Equal(t, Category{MaxRequests: 10, Window: time.Minute}, table["uploads"])
}

func TestTable_ApplyOverrides_Invalid(t *testing.T) {
	table := DefaultTable()

	assert.Error(t, table.ApplyOverrides("auth:5:120"))
	assert.Error(t, table.ApplyOverrides("auth:zero:60:0"))
	assert.Error(t, table.ApplyOverrides("auth:0:60:0"))
	assert.Error(t, table.ApplyOverrides("auth:5:60:-1"))
	assert.NoError(t, table.ApplyOverrides(""))
}
