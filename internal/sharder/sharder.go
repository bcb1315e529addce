// Package sharder implements the Maglev-style consistent-hash shard
// assignment of SPEC_FULL.md 4.B, ported from the reference algorithm in
// original_source/hydra/src/core/shards.rs: build one deterministic
// permutation per client, then round-robin claim slots from each client's
// permutation until every shard is assigned.
package sharder

import (
	"math/rand"
	"sort"

	"github.com/minio/highwayhash"

	"github.com/estuary/hydra/internal/registry"
)

// highwayKey is a fixed 32-byte key for the HighwayHash permutation seed.
// It need not be secret: determinism across peers, not unpredictability,
// is the property this spec requires (spec.md section 4.B, Open Question
// (iii)).
var highwayKey = [highwayhash.Size]byte{
	'h', 'y', 'd', 'r', 'a', '-', 's', 'h', 'a', 'r', 'd', 'e', 'r', '-', 's', 'e',
	'e', 'd', '-', 'v', '1', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// Sharder computes the subset of shards owned by a fixed client id, given
// the current peer set and shard set.
type Sharder struct {
	clientID registry.WorkerID
}

// New returns a Sharder bound to the given client id.
func New(clientID registry.WorkerID) *Sharder {
	return &Sharder{clientID: clientID}
}

// OwnedShards computes this sharder's owned set from clients (any order;
// deduplicated and sorted internally) and shards (any order). It is a pure
// function: identical inputs across peers yield partitioning, identical
// owned-set projections (Invariants I1-I3 / P1-P3 of spec.md section 8).
func (s *Sharder) OwnedShards(clients []registry.WorkerID, shards []string) map[string]struct{} {
	var owned = make(map[string]struct{})
	if len(clients) == 0 || len(shards) == 0 {
		return owned
	}

	clients = dedupeSorted(clients)

	var lookup = assign(clients, shards)

	var selfPosition = -1
	for i, c := range clients {
		if c == s.clientID {
			selfPosition = i
			break
		}
	}
	if selfPosition < 0 {
		// Not currently registered; nothing to claim until next tick.
		return owned
	}

	for shardIdx, ownerIdx := range lookup {
		if ownerIdx == selfPosition {
			owned[shards[shardIdx]] = struct{}{}
		}
	}
	return owned
}

// assign builds the Maglev-style lookup table mapping each shard index to
// the index (within the sorted, deduplicated clients slice) of the client
// that owns it.
func assign(clients []registry.WorkerID, shards []string) []int {
	var m = len(shards)
	var n = len(clients)

	var lookup = make([]int, m)
	for i := range lookup {
		lookup[i] = -1
	}

	var permutations = make([][]int, n)
	for c := range clients {
		permutations[c] = permutation(clients[c], m)
	}

	var next = make([]int, n)
	var assigned = 0

	for assigned < m {
		for c := range clients {
			var slot = -1
			for next[c] < m {
				var candidate = permutations[c][next[c]]
				next[c]++
				if lookup[candidate] == -1 {
					slot = candidate
					break
				}
			}
			if slot == -1 {
				// This client's permutation is exhausted; every remaining
				// shard is already claimed by someone else.
				continue
			}

			lookup[slot] = c
			assigned++
			if assigned == m {
				return lookup
			}
		}
	}
	return lookup
}

// permutation returns a permutation of [0, m) that is stable for a given
// (clientID, m) pair across every peer (mandatory for I2) and
// approximately uniform: a Fisher-Yates shuffle seeded from
// HighwayHash(clientID) XOR m.
func permutation(clientID registry.WorkerID, m int) []int {
	var perm = make([]int, m)
	for i := range perm {
		perm[i] = i
	}
	if m <= 1 {
		return perm
	}

	var seed = highwayhash.Sum64([]byte(clientID), highwayKey[:]) ^ uint64(m)
	var rng = rand.New(rand.NewSource(int64(seed)))

	rng.Shuffle(m, func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })
	return perm
}

// dedupeSorted removes duplicate client ids and returns the set sorted
// ascending. Duplicates are impossible under registry invariants but
// defended against here per spec.md section 4.B's edge cases.
func dedupeSorted(clients []registry.WorkerID) []registry.WorkerID {
	var seen = make(map[registry.WorkerID]struct{}, len(clients))
	var out = make([]registry.WorkerID, 0, len(clients))
	for _, c := range clients {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
