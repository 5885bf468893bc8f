package player

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNormalizesIdentity(t *testing.T) {
	t.Parallel()

	a := New("Faker", "KR1", "KR")
	b := New("  faker ", "kr1", " kr")

	require.Equal(t, a, b)
	assert.Equal(t, "faker#kr1@kr", a.ID())
}

func TestKeysAreDeterministic(t *testing.T) {
	t.Parallel()

	ref := New("Hide on bush", "KR1", "kr")

	first := ref.Keys()
	second := New("hide on bush", "kr1", "KR").Keys()
	require.Equal(t, first, second)

	assert.Equal(t, "lock:hide on bush#kr1@kr", first.Lock)
	assert.Equal(t, "cooldown:hide on bush#kr1@kr", first.Cooldown)
	assert.Equal(t, "cache:hide on bush#kr1@kr", first.Cache)
	assert.Equal(t, "job:hide on bush#kr1@kr:agg", first.Aggregation)
	assert.Equal(t, "job:hide on bush#kr1@kr:results", first.PartialResults)
	assert.Equal(t, "job:hide on bush#kr1@kr:error", first.Error)
}

func TestKeysAreCollisionFreeAcrossPlayers(t *testing.T) {
	t.Parallel()

	a := New("alice", "na1", "na").Keys()
	b := New("alice", "na1", "euw").Keys()

	assert.NotEqual(t, a.Lock, b.Lock)
	assert.NotEqual(t, a.Cache, b.Cache)
	assert.NotEqual(t, a.Aggregation, b.Aggregation)
}

func TestIsZero(t *testing.T) {
	t.Parallel()

	assert.True(t, Ref{}.IsZero())
	assert.True(t, New("alice", "", "na").IsZero())
	assert.False(t, New("alice", "na1", "na").IsZero())
}
