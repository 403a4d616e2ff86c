package id

import (
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsValidULID(t *testing.T) {
	t.Parallel()
	id := New()
	parsed, err := ulid.ParseStrict(id)
	require.NoError(t, err)
	assert.Len(t, id, 26)
	assert.InDelta(t, float64(ulid.Now()), float64(parsed.Time()), float64(time.Minute.Milliseconds()))
}

func TestSameMillisecondStaysOrdered(t *testing.T) {
	t.Parallel()
	frozen := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	g := newGenerator(func() time.Time { return frozen })

	prev := g.next()
	for i := 0; i < 200; i++ {
		cur := g.next()
		require.Greater(t, cur, prev)
		prev = cur
	}
}

func TestTimestampComesFromClock(t *testing.T) {
	t.Parallel()
	frozen := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	g := newGenerator(func() time.Time { return frozen })

	parsed, err := ulid.ParseStrict(g.next())
	require.NoError(t, err)
	assert.Equal(t, ulid.Timestamp(frozen), parsed.Time())
}

func TestConcurrentNextUnique(t *testing.T) {
	t.Parallel()
	frozen := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	g := newGenerator(func() time.Time { return frozen })

	const n = 64
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i] = g.next()
		}(i)
	}
	wg.Wait()

	seen := make(map[string]struct{}, n)
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, n)
}
