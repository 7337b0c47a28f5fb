package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docstore/internal/opgen"
)

var _ opgen.Sequencer = (*DeterministicClock)(nil)

func TestDeterministicClock_Next(t *testing.T) {
	clock := NewDeterministicClock()
	assert.Equal(t, int64(0), clock.Current())

	assert.Equal(t, int64(1), clock.Next())
	assert.Equal(t, int64(2), clock.Next())
	assert.Equal(t, int64(2), clock.Current())
}

func TestDeterministicClock_ResetReplaysPayloads(t *testing.T) {
	clock := NewDeterministicClock()
	b := opgen.NewBuilder(NewFixedSource(""), clock)

	first, err := b.Create("json0", []byte(`{"x":1}`))
	require.NoError(t, err)
	_, err = b.Op(2, []byte(`[{"p":["x"],"na":1}]`))
	require.NoError(t, err)

	clock.Reset()
	again, err := b.Create("json0", []byte(`{"x":1}`))
	require.NoError(t, err)

	assert.Equal(t, string(first), string(again))
}

func TestDeterministicClock_ThreadSafe(t *testing.T) {
	clock := NewDeterministicClock()
	const goroutines = 50
	const calls = 100

	results := make([][]int64, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		results[i] = make([]int64, calls)
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			for j := 0; j < calls; j++ {
				results[idx][j] = clock.Next()
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool, goroutines*calls)
	for _, r := range results {
		for _, v := range r {
			require.False(t, seen[v], "duplicate value %d", v)
			seen[v] = true
		}
	}
	for v := int64(1); v <= goroutines*calls; v++ {
		assert.True(t, seen[v], "missing value %d", v)
	}
}
