package matcher

import (
	"context"

	"bank-fin-reconciler/internal/models"
)

// contextCheckInterval is how many search nodes are visited between
// cancellation checks.
const contextCheckInterval = 4096

// SearchStats describes one group search
type SearchStats struct {
	PoolSize   int    `json:"pool_size"`
	SizesTried int    `json:"sizes_tried"`
	Nodes      uint64 `json:"nodes"`
}

// CombinationMatcher looks for the smallest group of unconsumed finance
// records, sharing the bank record's date and vendor, whose total is within
// tolerance of the bank amount.
//
// Sizes are tried from 2 up to the configured maximum. Within one size the
// subsets are visited in lexicographic order of their pool positions, and the
// first one within tolerance wins, so the choice is deterministic for a given
// input order.
type CombinationMatcher struct {
	arena    *financeArena
	index    *CandidateIndex
	maxSize  int
	tolCents int64
	prune    bool
}

func newCombinationMatcher(arena *financeArena, index *CandidateIndex, config *MatchingConfig) *CombinationMatcher {
	return &CombinationMatcher{
		arena:    arena,
		index:    index,
		maxSize:  config.MaxCombinationSize,
		tolCents: config.toleranceCents(),
		prune:    config.Prune,
	}
}

// Match returns the arena positions of the accepted group, or nil when no
// group exists. A non-nil error is always the context's error.
func (m *CombinationMatcher) Match(ctx context.Context, key models.NormalizedKey) ([]int, SearchStats, error) {
	var stats SearchStats
	if m.maxSize < 2 {
		return nil, stats, nil
	}

	// the pool is copied because the index compacts its slices in place
	pool := append([]int(nil), m.index.Candidates(key.Slot())...)
	stats.PoolSize = len(pool)
	if len(pool) < 2 {
		return nil, stats, nil
	}

	amounts := make([]int64, len(pool))
	for i, pos := range pool {
		amounts[i] = m.arena.cents[pos]
	}

	target := key.Cents()
	s := &combinationSearch{
		ctx:     ctx,
		amounts: amounts,
		lo:      target - m.tolCents,
		hi:      target + m.tolCents,
		prune:   m.prune,
	}
	if m.prune {
		s.buildBounds(m.maxSize - 1)
	}

	for n := 2; n <= m.maxSize; n++ {
		if n > len(pool) {
			break
		}
		if err := ctx.Err(); err != nil {
			stats.Nodes = s.nodes
			return nil, stats, err
		}

		stats.SizesTried++
		s.n = n
		s.chosen = make([]int, n)
		found := s.search(0, 0, 0)
		stats.Nodes = s.nodes

		if s.err != nil {
			return nil, stats, s.err
		}
		if found {
			positions := make([]int, n)
			for i, c := range s.chosen {
				positions[i] = pool[c]
			}
			return positions, stats, nil
		}
	}

	return nil, stats, nil
}

// combinationSearch is the state of one depth-first enumeration.
type combinationSearch struct {
	ctx     context.Context
	amounts []int64
	lo, hi  int64
	n       int
	chosen  []int
	prune   bool
	nodes   uint64
	err     error

	// top[j*width+r] and bottom[j*width+r] hold the largest and smallest
	// total reachable by picking r amounts from amounts[j:].
	width  int
	top    []int64
	bottom []int64
}

// search picks the element at depth from amounts[start:], keeping subsets
// in lexicographic order. It returns true once chosen holds an accepted subset.
func (s *combinationSearch) search(start, depth int, partial int64) bool {
	remaining := s.n - depth - 1
	last := len(s.amounts) - remaining - 1

	for i := start; i <= last; i++ {
		s.nodes++
		if s.nodes%contextCheckInterval == 0 {
			if err := s.ctx.Err(); err != nil {
				s.err = err
				return false
			}
		}

		sum := partial + s.amounts[i]
		if s.prune && !s.reachable(sum, i+1, remaining) {
			continue
		}

		s.chosen[depth] = i
		if remaining == 0 {
			if sum >= s.lo && sum <= s.hi {
				return true
			}
			continue
		}

		if s.search(i+1, depth+1, sum) {
			return true
		}
		if s.err != nil {
			return false
		}
	}
	return false
}

// reachable reports whether adding r more amounts from amounts[from:] to sum
// can still land in [lo, hi]. It holds for any sign of the amounts.
func (s *combinationSearch) reachable(sum int64, from, r int) bool {
	at := from*s.width + r
	return sum+s.bottom[at] <= s.hi && sum+s.top[at] >= s.lo
}

// buildBounds fills the top and bottom tables for up to maxPick further picks.
func (s *combinationSearch) buildBounds(maxPick int) {
	size := len(s.amounts)
	s.width = maxPick + 1
	s.top = make([]int64, (size+1)*s.width)
	s.bottom = make([]int64, (size+1)*s.width)

	largest := make([]int64, 0, maxPick)
	smallest := make([]int64, 0, maxPick)

	for j := size - 1; j >= 0; j-- {
		v := s.amounts[j]
		largest = insertBounded(largest, v, maxPick, func(a, b int64) bool { return a > b })
		smallest = insertBounded(smallest, v, maxPick, func(a, b int64) bool { return a < b })

		row := j * s.width
		var hi, lo int64
		for r := 1; r <= maxPick; r++ {
			if r <= len(largest) {
				hi += largest[r-1]
				lo += smallest[r-1]
			}
			s.top[row+r] = hi
			s.bottom[row+r] = lo
		}
	}
}

// insertBounded inserts v into list, kept ordered by before, and truncates
// it to limit entries.
func insertBounded(list []int64, v int64, limit int, before func(a, b int64) bool) []int64 {
	if limit == 0 {
		return list
	}
	at := len(list)
	for i, x := range list {
		if before(v, x) {
			at = i
			break
		}
	}
	if at >= limit {
		return list
	}
	if len(list) < limit {
		list = append(list, 0)
	}
	copy(list[at+1:], list[at:len(list)-1])
	list[at] = v
	return list
}
