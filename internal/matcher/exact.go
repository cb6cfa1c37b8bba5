package matcher

import (
	"bank-fin-reconciler/internal/models"
)

// exactKey is a NormalizedKey reduced to comparable fields.
type exactKey struct {
	slot  models.Slot
	cents int64
}

// ExactMatcher finds the first unconsumed finance record, in ingestion order,
// whose key equals the bank key. Finance records are never grouped before
// this phase has had its chance on the current bank record.
type ExactMatcher struct {
	arena *financeArena
	keys  map[exactKey][]int
}

func newExactMatcher(arena *financeArena) *ExactMatcher {
	m := &ExactMatcher{
		arena: arena,
		keys:  make(map[exactKey][]int),
	}
	for pos, r := range arena.records {
		k := exactKey{slot: r.Key.Slot(), cents: arena.cents[pos]}
		m.keys[k] = append(m.keys[k], pos)
	}
	return m
}

// Match returns the arena position of the match. The lists are kept in
// ingestion order and consumed heads are dropped, so the first live entry is
// the same record a scan over the whole finance set would stop at.
func (m *ExactMatcher) Match(key models.NormalizedKey) (int, bool) {
	k := exactKey{slot: key.Slot(), cents: key.Cents()}
	positions := m.keys[k]

	for len(positions) > 0 && m.arena.isConsumed(positions[0]) {
		positions = positions[1:]
	}
	if len(positions) == 0 {
		delete(m.keys, k)
		return -1, false
	}
	m.keys[k] = positions
	return positions[0], true
}
