package matchhistory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeDedupesKeepingFresh(t *testing.T) {
	t.Parallel()

	fresh := []MatchRecord{
		{MatchID: "EUW1_2", Timestamp: 200, Outcome: "Win"},
		{MatchID: "EUW1_1", Timestamp: 100, Outcome: "Win"},
	}
	cached := []MatchRecord{
		{MatchID: "EUW1_1", Timestamp: 100, Outcome: "Loss"}, // stale duplicate
		{MatchID: "EUW1_0", Timestamp: 50, Outcome: "Loss"},
	}

	merged := Merge(fresh, cached)
	require.Len(t, merged, 3)

	assert.Equal(t, "EUW1_2", merged[0].MatchID)
	assert.Equal(t, "EUW1_1", merged[1].MatchID)
	assert.Equal(t, "Win", merged[1].Outcome, "fresh record wins over cached duplicate")
	assert.Equal(t, "EUW1_0", merged[2].MatchID)
}

func TestMergeEmptyCached(t *testing.T) {
	t.Parallel()

	fresh := []MatchRecord{
		{MatchID: "a", Timestamp: 1},
		{MatchID: "b", Timestamp: 3},
	}

	merged := Merge(fresh, nil)
	require.Len(t, merged, 2)
	assert.Equal(t, "b", merged[0].MatchID, "ordered newest first")
}

func TestSortNewestFirst(t *testing.T) {
	t.Parallel()

	records := []MatchRecord{
		{MatchID: "a", Timestamp: 10},
		{MatchID: "b", Timestamp: 30},
		{MatchID: "c", Timestamp: 20},
	}
	SortNewestFirst(records)

	assert.Equal(t, []string{"b", "c", "a"}, []string{records[0].MatchID, records[1].MatchID, records[2].MatchID})
}

func TestJobStatusTerminal(t *testing.T) {
	t.Parallel()

	assert.False(t, JobStatusRunning.IsTerminal())
	assert.True(t, JobStatusCompleted.IsTerminal())
	assert.True(t, JobStatusFailed.IsTerminal())
	assert.True(t, JobStatusNoMatches.IsTerminal())
}
