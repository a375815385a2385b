package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRing(t *testing.T) {
	t.Run("with valid size", func(t *testing.T) {
		r := NewRing[int](10)
		assert.Equal(t, 10, r.Cap())
		assert.Equal(t, 0, r.Len())
	})

	t.Run("with zero size uses default", func(t *testing.T) {
		r := NewRing[int](0)
		assert.Equal(t, DefaultSize, r.Cap())
	})

	t.Run("with negative size uses default", func(t *testing.T) {
		r := NewRing[string](-3)
		assert.Equal(t, DefaultSize, r.Cap())
	})
}

func TestRing_NewestFirst(t *testing.T) {
	r := NewRing[int](5)
	for i := 1; i <= 3; i++ {
		r.Push(i)
	}

	assert.Equal(t, []int{3, 2, 1}, r.Items())
	assert.Equal(t, []int{3, 2}, r.Newest(2))
	assert.Equal(t, []int{3, 2, 1}, r.Newest(50))
	assert.Empty(t, r.Newest(0))
}

func TestRing_EvictsOldest(t *testing.T) {
	r := NewRing[int](4)
	for i := 1; i <= 10; i++ {
		r.Push(i)
		assert.True(t, r.Len() <= r.Cap(), "length must never exceed capacity")
	}

	assert.Equal(t, 4, r.Len())
	assert.Equal(t, []int{10, 9, 8, 7}, r.Items())
	assert.Equal(t, uint64(6), r.Evicted())
}

func TestRing_Drain(t *testing.T) {
	r := NewRing[string](3)
	r.Push("a")
	r.Push("b")

	assert.Equal(t, []string{"b", "a"}, r.Drain())
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Items())

	r.Push("c")
	assert.Equal(t, []string{"c"}, r.Items())
}
