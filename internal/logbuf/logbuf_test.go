package logbuf

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingKeepsNewest(t *testing.T) {
	t.Parallel()

	r := New(3)
	for i := 1; i <= 5; i++ {
		r.Append(fmt.Sprintf("line %d", i))
	}
	assert.Equal(t, []string{"line 3", "line 4", "line 5"}, r.All())
	assert.Equal(t, []string{"line 4", "line 5"}, r.Last(2))
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, int64(5), r.Total())
}

func TestRingPartiallyFilled(t *testing.T) {
	t.Parallel()

	r := New(10)
	r.Append("a")
	r.Append("b")
	assert.Equal(t, []string{"a", "b"}, r.Last(5))
	assert.Equal(t, []string{"b"}, r.Last(1))
	assert.Empty(t, New(2).All())
}

func TestRingDefaultCapacity(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DefaultCapacity, New(0).Cap())
}

func TestRingCopiesOut(t *testing.T) {
	t.Parallel()

	r := New(2)
	r.Append("a")
	out := r.All()
	out[0] = "mutated"
	assert.Equal(t, []string{"a"}, r.All())
}

func TestRingConcurrentAppend(t *testing.T) {
	t.Parallel()

	r := New(100)
	var wg sync.WaitGroup
	for w := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 250 {
				r.Append(fmt.Sprintf("%d-%d", w, i))
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 100, r.Len())
	assert.Equal(t, int64(1000), r.Total())
}
