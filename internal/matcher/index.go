package matcher

import (
	"bank-fin-reconciler/internal/models"
)

// CandidateIndex groups finance positions by (date, vendor) so the group
// search only looks at records that could belong to the same payment.
// Consumed positions are dropped lazily the next time their slot is read.
type CandidateIndex struct {
	arena *financeArena
	slots map[models.Slot][]int
}

// newCandidateIndex builds the index in one pass over the arena
func newCandidateIndex(arena *financeArena) *CandidateIndex {
	idx := &CandidateIndex{
		arena: arena,
		slots: make(map[models.Slot][]int),
	}
	for pos, r := range arena.records {
		slot := r.Key.Slot()
		idx.slots[slot] = append(idx.slots[slot], pos)
	}
	return idx
}

// Candidates returns the unconsumed positions sharing slot, in ingestion
// order. The returned slice is owned by the index and is only valid until
// the next consumption.
func (idx *CandidateIndex) Candidates(slot models.Slot) []int {
	positions, ok := idx.slots[slot]
	if !ok {
		return nil
	}

	live := positions[:0]
	for _, pos := range positions {
		if !idx.arena.isConsumed(pos) {
			live = append(live, pos)
		}
	}

	if len(live) == 0 {
		delete(idx.slots, slot)
		return nil
	}
	idx.slots[slot] = live
	return live
}

// IndexStats describes the shape of the index
type IndexStats struct {
	Slots       int `json:"slots"`
	Entries     int `json:"entries"`
	LargestSlot int `json:"largest_slot"`
}

// Stats reports slot counts as currently stored, including entries not yet compacted.
func (idx *CandidateIndex) Stats() IndexStats {
	stats := IndexStats{Slots: len(idx.slots)}
	for _, positions := range idx.slots {
		stats.Entries += len(positions)
		if len(positions) > stats.LargestSlot {
			stats.LargestSlot = len(positions)
		}
	}
	return stats
}
