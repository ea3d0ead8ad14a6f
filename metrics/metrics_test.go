package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSnapshotReflectsCounters(t *testing.T) {
	c := New()
	c.Commits.Add(3)
	c.BlocksLogged.Add(7)
	c.CacheHits.Add(1)

	snap := c.Snapshot()
	require.EqualValues(t, 3, snap.Commits)
	require.EqualValues(t, 7, snap.BlocksLogged)
	require.EqualValues(t, 1, snap.CacheHits)
	require.Zero(t, snap.Recoveries)
}
