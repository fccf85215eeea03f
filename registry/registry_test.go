package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testItem struct {
	ID   string
	Name string
}

func TestBaseRegistry_RegisterAndGet(t *testing.T) {
	r := NewBaseRegistry[testItem]()

	require.NoError(t, r.Register("a", testItem{ID: "a", Name: "Alpha"}))

	item, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, "Alpha", item.Name)

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestBaseRegistry_RegisterRejectsEmptyNameAndDuplicates(t *testing.T) {
	r := NewBaseRegistry[testItem]()

	err := r.Register("", testItem{})
	require.Error(t, err)

	require.NoError(t, r.Register("a", testItem{ID: "a"}))
	err = r.Register("a", testItem{ID: "a"})
	require.Error(t, err)
}

func TestBaseRegistry_NamesSorted(t *testing.T) {
	r := NewBaseRegistry[testItem]()
	require.NoError(t, r.Register("zeta", testItem{ID: "zeta"}))
	require.NoError(t, r.Register("alpha", testItem{ID: "alpha"}))
	require.NoError(t, r.Register("mid", testItem{ID: "mid"}))

	assert.Equal(t, []string{"alpha", "mid", "zeta"}, r.Names())
}

func TestBaseRegistry_RemoveAndClear(t *testing.T) {
	r := NewBaseRegistry[testItem]()
	require.NoError(t, r.Register("a", testItem{ID: "a"}))

	require.NoError(t, r.Remove("a"))
	assert.Error(t, r.Remove("a"))

	require.NoError(t, r.Register("b", testItem{ID: "b"}))
	assert.Equal(t, 1, r.Count())
	r.Clear()
	assert.Equal(t, 0, r.Count())
}

func TestBaseRegistry_List(t *testing.T) {
	r := NewBaseRegistry[testItem]()
	require.NoError(t, r.Register("a", testItem{ID: "a"}))
	require.NoError(t, r.Register("b", testItem{ID: "b"}))

	assert.Len(t, r.List(), 2)
}
