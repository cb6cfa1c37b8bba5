package matcher

import (
	"bank-fin-reconciler/internal/models"
)

// financeArena is the unconsumed set of one run: the finance records in
// ingestion order plus a liveness flag per position. Positions are stable
// for the whole run; the caller's slice is never modified.
type financeArena struct {
	records  []*models.FinanceRecord
	cents    []int64
	consumed []bool
	byID     map[string]int
	live     int
}

func newFinanceArena(records []*models.FinanceRecord) *financeArena {
	a := &financeArena{
		records:  records,
		cents:    make([]int64, len(records)),
		consumed: make([]bool, len(records)),
		byID:     make(map[string]int, len(records)),
		live:     len(records),
	}
	for i, r := range records {
		a.cents[i] = r.Key.Cents()
		a.byID[r.ID] = i
	}
	return a
}

func (a *financeArena) len() int {
	return len(a.records)
}

func (a *financeArena) isConsumed(pos int) bool {
	return a.consumed[pos]
}

// consume marks pos as taken. It reports false if it already was.
func (a *financeArena) consume(pos int) bool {
	if a.consumed[pos] {
		return false
	}
	a.consumed[pos] = true
	a.live--
	return true
}

func (a *financeArena) position(id string) (int, bool) {
	pos, ok := a.byID[id]
	return pos, ok
}

// unconsumed returns the remaining records in ingestion order
func (a *financeArena) unconsumed() []*models.FinanceRecord {
	out := make([]*models.FinanceRecord, 0, a.live)
	for i, r := range a.records {
		if !a.consumed[i] {
			out = append(out, r)
		}
	}
	return out
}
