package matcher

import (
	"fmt"

	"bank-fin-reconciler/internal/models"
	"bank-fin-reconciler/pkg/errors"

	"github.com/shopspring/decimal"
)

// MatchRegistry owns the match id counter and the consumed set of one run.
type MatchRegistry struct {
	arena   *financeArena
	counter int
	groups  []*models.MatchGroup
	bankIDs map[string]string
}

func newMatchRegistry(arena *financeArena) *MatchRegistry {
	return &MatchRegistry{
		arena:   arena,
		bankIDs: make(map[string]string),
	}
}

// NextID advances the counter and returns the new match id
func (r *MatchRegistry) NextID() string {
	r.counter++
	return models.FormatMatchID(r.counter)
}

// IsConsumed reports whether the finance record already belongs to a group.
func (r *MatchRegistry) IsConsumed(financeID string) bool {
	pos, ok := r.arena.position(financeID)
	return ok && r.arena.isConsumed(pos)
}

// Record consumes the given finance positions on behalf of bank and stores
// the group under the next match id. Members are checked before anything is
// changed, so a rejected group leaves the registry untouched.
func (r *MatchRegistry) Record(bank *models.BankRecord, positions []int) (*models.MatchGroup, error) {
	if len(positions) == 0 {
		return nil, errors.InternalError(errors.CodeUnexpectedError, "record match", fmt.Errorf("empty group for bank record %s", bank.ID))
	}
	if matchID, ok := r.bankIDs[bank.ID]; ok {
		return nil, errors.ReconciliationError(errors.CodeDataInconsistent, "record match",
			fmt.Errorf("bank record %s already matched as %s", bank.ID, matchID))
	}

	seen := make(map[int]bool, len(positions))
	for _, pos := range positions {
		if pos < 0 || pos >= r.arena.len() {
			return nil, errors.InternalError(errors.CodeUnexpectedError, "record match", fmt.Errorf("finance position %d out of range", pos))
		}
		if seen[pos] || r.arena.isConsumed(pos) {
			return nil, errors.ReconciliationError(errors.CodeDataInconsistent, "record match",
				fmt.Errorf("finance record %s is already consumed", r.arena.records[pos].ID))
		}
		seen[pos] = true
	}

	matchType := models.OneToOne()
	if len(positions) > 1 {
		matchType = models.OneToN(len(positions))
	}

	group := &models.MatchGroup{
		MatchID:      r.NextID(),
		Type:         matchType,
		BankID:       bank.ID,
		FinanceIDs:   make([]string, len(positions)),
		BankAmount:   bank.Key.Amount,
		FinanceTotal: decimal.Zero,
	}
	for i, pos := range positions {
		r.arena.consume(pos)
		member := r.arena.records[pos]
		group.FinanceIDs[i] = member.ID
		group.FinanceTotal = group.FinanceTotal.Add(member.Key.Amount)
	}

	r.groups = append(r.groups, group)
	r.bankIDs[bank.ID] = group.MatchID
	return group, nil
}

// Groups returns the recorded groups in match id order
func (r *MatchRegistry) Groups() []*models.MatchGroup {
	return r.groups
}

// MatchID returns the id of the group a bank record joined, if any.
func (r *MatchRegistry) MatchID(bankID string) (string, bool) {
	id, ok := r.bankIDs[bankID]
	return id, ok
}
