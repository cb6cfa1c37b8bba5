package matcher

import (
	"time"

	"bank-fin-reconciler/internal/models"

	"github.com/shopspring/decimal"
)

// Summary holds the counts and totals of one reconciliation run.
type Summary struct {
	BankRecords           int         `json:"bank_records"`
	FinanceRecords        int         `json:"finance_records"`
	MatchedGroups         int         `json:"matched_groups"`
	OneToOneGroups        int         `json:"one_to_one_groups"`
	OneToNGroups          int         `json:"one_to_n_groups"`
	GroupsBySize          map[int]int `json:"groups_by_size"`
	ConsumedFinance       int         `json:"consumed_finance"`
	UnmatchedBankCount    int         `json:"unmatched_bank_count"`
	UnmatchedFinanceCount int         `json:"unmatched_finance_count"`
	TimedOutSearches      int         `json:"timed_out_searches"`
	SearchNodes           uint64      `json:"search_nodes"`
	DegradedBank          int         `json:"degraded_bank"`
	DegradedFinance       int         `json:"degraded_finance"`

	MatchedBankTotal      decimal.Decimal `json:"matched_bank_total"`
	MatchedFinanceTotal   decimal.Decimal `json:"matched_finance_total"`
	UnmatchedBankTotal    decimal.Decimal `json:"unmatched_bank_total"`
	UnmatchedFinanceTotal decimal.Decimal `json:"unmatched_finance_total"`

	Duration time.Duration `json:"duration"`
}

// MatchRate is the share of bank records that joined a group, in percent.
func (s Summary) MatchRate() float64 {
	if s.BankRecords == 0 {
		return 0
	}
	return float64(s.MatchedGroups) / float64(s.BankRecords) * 100
}

// Result is the three-way partition produced by one run. Every bank record
// is either the bank side of exactly one group or in UnmatchedBank, and
// every finance record is either a member of exactly one group or in
// UnmatchedFinance.
type Result struct {
	Matched          []*models.MatchGroup    `json:"matched"`
	UnmatchedBank    []*models.BankRecord    `json:"unmatched_bank"`
	UnmatchedFinance []*models.FinanceRecord `json:"unmatched_finance"`
	TimedOut         []string                `json:"timed_out,omitempty"`
	Summary          Summary                 `json:"summary"`

	bank    map[string]*models.BankRecord
	finance map[string]*models.FinanceRecord
}

// Bank looks up an input bank record by id
func (r *Result) Bank(id string) (*models.BankRecord, bool) {
	b, ok := r.bank[id]
	return b, ok
}

// Finance looks up an input finance record by id
func (r *Result) Finance(id string) (*models.FinanceRecord, bool) {
	f, ok := r.finance[id]
	return f, ok
}

// partition assembles the result once every bank record has been processed.
// Unmatched lists keep input order.
func partition(bank []*models.BankRecord, arena *financeArena, registry *MatchRegistry, timedOut []string, nodes uint64) *Result {
	result := &Result{
		Matched:          registry.Groups(),
		UnmatchedBank:    make([]*models.BankRecord, 0),
		UnmatchedFinance: arena.unconsumed(),
		TimedOut:         timedOut,
		bank:             make(map[string]*models.BankRecord, len(bank)),
		finance:          make(map[string]*models.FinanceRecord, arena.len()),
	}
	if result.Matched == nil {
		result.Matched = make([]*models.MatchGroup, 0)
	}

	summary := Summary{
		BankRecords:           len(bank),
		FinanceRecords:        arena.len(),
		GroupsBySize:          make(map[int]int),
		TimedOutSearches:      len(timedOut),
		SearchNodes:           nodes,
		MatchedBankTotal:      decimal.Zero,
		MatchedFinanceTotal:   decimal.Zero,
		UnmatchedBankTotal:    decimal.Zero,
		UnmatchedFinanceTotal: decimal.Zero,
	}

	for _, b := range bank {
		result.bank[b.ID] = b
		if b.Key.Degraded() {
			summary.DegradedBank++
		}
		if _, ok := registry.MatchID(b.ID); ok {
			continue
		}
		result.UnmatchedBank = append(result.UnmatchedBank, b)
		summary.UnmatchedBankTotal = summary.UnmatchedBankTotal.Add(b.Key.Amount)
	}

	for _, f := range arena.records {
		result.finance[f.ID] = f
		if f.Key.Degraded() {
			summary.DegradedFinance++
		}
	}
	for _, f := range result.UnmatchedFinance {
		summary.UnmatchedFinanceTotal = summary.UnmatchedFinanceTotal.Add(f.Key.Amount)
	}

	for _, g := range result.Matched {
		summary.MatchedGroups++
		summary.GroupsBySize[g.Type.Size]++
		summary.ConsumedFinance += len(g.FinanceIDs)
		if g.Type.Kind == models.KindOneToOne {
			summary.OneToOneGroups++
		} else {
			summary.OneToNGroups++
		}
		summary.MatchedBankTotal = summary.MatchedBankTotal.Add(g.BankAmount)
		summary.MatchedFinanceTotal = summary.MatchedFinanceTotal.Add(g.FinanceTotal)
	}

	summary.UnmatchedBankCount = len(result.UnmatchedBank)
	summary.UnmatchedFinanceCount = len(result.UnmatchedFinance)
	result.Summary = summary
	return result
}
