package cache

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSet_AddEvictsOldestFirst(t *testing.T) {
	s := New(3)
	for i := range 5 {
		s.Add(fmt.Sprintf("k%d", i))
	}

	assert.Equal(t, []string{"k2", "k3", "k4"}, s.Keys())
	assert.False(t, s.Has("k0"))
	assert.False(t, s.Has("k1"))
	assert.True(t, s.Has("k4"))
	assert.Equal(t, 3, s.Len())
}

func TestSet_ReAddKeepsPosition(t *testing.T) {
	s := New(3)
	s.Add("a")
	s.Add("b")

	assert.False(t, s.Add("a"))
	s.Add("c")
	s.Add("d")

	// "a" was not refreshed by the second Add, so it is the one evicted.
	assert.Equal(t, []string{"b", "c", "d"}, s.Keys())
}

func TestSet_IgnoresEmptyKeys(t *testing.T) {
	s := New(2)
	assert.False(t, s.Add(""))
	assert.Equal(t, 0, s.Len())
}

func TestSet_Unbounded(t *testing.T) {
	s := New(0)
	for i := range 1000 {
		s.Add(fmt.Sprintf("k%d", i))
	}
	assert.Equal(t, 1000, s.Len())
}

func TestFromSlice(t *testing.T) {
	s := FromSlice(2, []string{"a", "a", "", "b", "c"})
	assert.Equal(t, []string{"b", "c"}, s.Keys())
}

func TestSet_Clone(t *testing.T) {
	s := FromSlice(5, []string{"a", "b"})
	c := s.Clone()
	c.Add("c")

	assert.Equal(t, []string{"a", "b"}, s.Keys())
	assert.Equal(t, []string{"a", "b", "c"}, c.Keys())
	assert.Equal(t, 5, c.Cap())
}

func TestSet_JSON(t *testing.T) {
	t.Run("round trip keeps order", func(t *testing.T) {
		s := FromSlice(10, []string{"z", "a", "m"})
		data, err := json.Marshal(s)
		require.NoError(t, err)
		assert.JSONEq(t, `["z","a","m"]`, string(data))

		decoded := New(10)
		require.NoError(t, json.Unmarshal(data, decoded))
		assert.Equal(t, []string{"z", "a", "m"}, decoded.Keys())
	})

	t.Run("decode applies capacity", func(t *testing.T) {
		decoded := New(2)
		require.NoError(t, json.Unmarshal([]byte(`["a","b","c"]`), decoded))
		assert.Equal(t, []string{"b", "c"}, decoded.Keys())
	})

	t.Run("decode rejects non array", func(t *testing.T) {
		decoded := New(2)
		assert.Error(t, json.Unmarshal([]byte(`{"a":1}`), decoded))
	})
}
