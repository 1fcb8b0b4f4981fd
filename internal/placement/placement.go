// Package placement implements the replica placement policy: a pure
// function mapping a pool of candidate nodes to an ordered selection,
// dispatched over a small tagged variant of strategies rather than a class
// hierarchy. Grounded on
// original_source/CloudSim/CloudSim/src/replication/replication_manager.py's
// select_replica_nodes.
package placement

import (
	"math/rand"
	"sort"
)

// Strategy is the tagged variant of placement algorithms.
type Strategy string

const (
	Random      Strategy = "random"
	LeastLoaded Strategy = "least_loaded"
	Diverse     Strategy = "diverse"
)

// Candidate is the minimal view of a storage node the placement policy
// needs: identity and free capacity.
type Candidate struct {
	NodeID         string
	AvailableBytes int64
}

// Select returns up to count distinct candidates chosen by strategy, after
// dropping any candidate in exclude or lacking chunkSize bytes free. If
// fewer than count candidates survive filtering, Select returns whatever
// survives -- callers must treat a short result as a partial-placement
// warning.
func Select(strategy Strategy, candidates []Candidate, count int, exclude map[string]struct{}, chunkSize int64) []Candidate {
	filtered := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if _, excluded := exclude[c.NodeID]; excluded {
			continue
		}
		if c.AvailableBytes < chunkSize {
			continue
		}
		filtered = append(filtered, c)
	}

	if count <= 0 || len(filtered) == 0 {
		return nil
	}
	if len(filtered) <= count {
		return sortedByAvailableDesc(filtered)
	}

	switch strategy {
	case Random:
		return selectRandom(filtered, count)
	case LeastLoaded:
		return sortedByAvailableDesc(filtered)[:count]
	case Diverse:
		return selectDiverse(filtered, count)
	default:
		return selectRandom(filtered, count)
	}
}

func sortedByAvailableDesc(candidates []Candidate) []Candidate {
	out := make([]Candidate, len(candidates))
	copy(out, candidates)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].AvailableBytes > out[j].AvailableBytes
	})
	return out
}

func selectRandom(candidates []Candidate, count int) []Candidate {
	shuffled := make([]Candidate, len(candidates))
	copy(shuffled, candidates)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled[:count]
}

// selectDiverse sorts by descending free space, then strides through the
// sorted list k = max(1, len/count) at a time, filling any remainder from
// the head of the sorted list in order.
func selectDiverse(candidates []Candidate, count int) []Candidate {
	sorted := sortedByAvailableDesc(candidates)

	k := len(sorted) / count
	if k < 1 {
		k = 1
	}

	selected := make([]Candidate, 0, count)
	chosen := make(map[string]struct{}, count)
	for i := 0; i < len(sorted) && len(selected) < count; i += k {
		selected = append(selected, sorted[i])
		chosen[sorted[i].NodeID] = struct{}{}
	}

	for _, c := range sorted {
		if len(selected) >= count {
			break
		}
		if _, ok := chosen[c.NodeID]; ok {
			continue
		}
		selected = append(selected, c)
		chosen[c.NodeID] = struct{}{}
	}

	return selected
}
