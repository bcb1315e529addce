package sharder

import (
	"fmt"
	"testing"

	"github.com/bradleyjkemp/cupaloy"
	"github.com/stretchr/testify/require"

	"github.com/estuary/hydra/internal/registry"
)

func shardIDs(n int) []string {
	var out = make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("shard-%02d", i)
	}
	return out
}

func TestOwnedShards_SingleWorkerOwnsAll(t *testing.T) {
	var s = New("worker-a")
	var owned = s.OwnedShards([]registry.WorkerID{"worker-a"}, shardIDs(9))
	require.Len(t, owned, 9)
}

func TestOwnedShards_TwoWorkersPartitionEvenly(t *testing.T) {
	var clients = []registry.WorkerID{"worker-a", "worker-b"}
	var shards = shardIDs(10)

	var a = New("worker-a").OwnedShards(clients, shards)
	var b = New("worker-b").OwnedShards(clients, shards)

	require.Len(t, a, 5)
	require.Len(t, b, 5)
	for id := range a {
		_, overlap := b[id]
		require.False(t, overlap, "shard %s owned by both workers", id)
	}
}

func TestOwnedShards_AddingWorkerMovesShardsWithoutOverlap(t *testing.T) {
	var shards = shardIDs(9)
	var before = []registry.WorkerID{"worker-a", "worker-b", "worker-c"}
	var after = append(append([]registry.WorkerID{}, before...), "worker-d")

	var beforeOwned = make(map[string]registry.WorkerID, len(shards))
	for _, c := range before {
		for id := range New(c).OwnedShards(before, shards) {
			beforeOwned[id] = c
		}
	}
	require.Len(t, beforeOwned, 9)

	var afterOwned = make(map[string]registry.WorkerID, len(shards))
	for _, c := range after {
		for id := range New(c).OwnedShards(after, shards) {
			afterOwned[id] = c
		}
	}
	require.Len(t, afterOwned, 9)

	var moved int
	for id, owner := range beforeOwned {
		if afterOwned[id] != owner {
			moved++
		}
	}
	require.GreaterOrEqual(t, moved, 9/4)

	var seen = make(map[string]bool, len(shards))
	for _, c := range after {
		for id := range New(c).OwnedShards(after, shards) {
			require.False(t, seen[id], "shard %s double-owned", id)
			seen[id] = true
		}
	}
	require.Len(t, seen, 9)
}

func TestOwnedShards_Deterministic(t *testing.T) {
	var clients = []registry.WorkerID{"worker-b", "worker-a", "worker-c"}
	var shards = shardIDs(12)

	var first = New("worker-a").OwnedShards(clients, shards)
	var second = New("worker-a").OwnedShards(clients, shards)
	require.Equal(t, first, second)

	var reordered = New("worker-a").OwnedShards([]registry.WorkerID{"worker-c", "worker-a", "worker-b"}, shards)
	require.Equal(t, first, reordered)
}

func TestOwnedShards_UnregisteredClientOwnsNothing(t *testing.T) {
	var s = New("worker-ghost")
	var owned = s.OwnedShards([]registry.WorkerID{"worker-a", "worker-b"}, shardIDs(4))
	require.Empty(t, owned)
}

func TestOwnedShards_EmptyInputs(t *testing.T) {
	var s = New("worker-a")
	require.Empty(t, s.OwnedShards(nil, shardIDs(4)))
	require.Empty(t, s.OwnedShards([]registry.WorkerID{"worker-a"}, nil))
}

// TestAssign_GoldenLookupTable pins the lookup table for a fixed client and
// shard set so that an accidental change to the permutation seed or the
// round-robin claim order is caught by a snapshot diff rather than a
// silently different, still-internally-consistent partitioning.
func TestAssign_GoldenLookupTable(t *testing.T) {
	var clients = dedupeSorted([]registry.WorkerID{"worker-c", "worker-a", "worker-b"})
	var shards = shardIDs(9)
	var lookup = assign(clients, shards)
	cupaloy.SnapshotT(t, lookup)
}
