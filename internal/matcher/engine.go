package matcher

import (
	"context"
	"fmt"
	"time"

	"bank-fin-reconciler/internal/models"
	"bank-fin-reconciler/pkg/errors"
	"bank-fin-reconciler/pkg/logger"
)

// Outcome is what happened to one bank record
type Outcome int

const (
	OutcomeUnmatched Outcome = iota
	OutcomeExact
	OutcomeCombination
	OutcomeTimedOut
)

func (o Outcome) String() string {
	switch o {
	case OutcomeExact:
		return "exact"
	case OutcomeCombination:
		return "combination"
	case OutcomeTimedOut:
		return "timed_out"
	default:
		return "unmatched"
	}
}

// ProgressEvent is emitted once per processed bank record.
type ProgressEvent struct {
	Index   int
	Total   int
	BankID  string
	Outcome Outcome
	MatchID string
}

// ProgressFunc receives progress events. It is called synchronously from
// the matching loop and should return quickly.
type ProgressFunc func(ProgressEvent)

// Engine runs the matching pass. It holds only configuration, so one Engine
// may serve concurrent Reconcile calls.
type Engine struct {
	config *MatchingConfig
	logger logger.Logger
}

// NewEngine validates config and returns an engine. A nil config means defaults.
func NewEngine(config *MatchingConfig) (*Engine, error) {
	if config == nil {
		config = DefaultMatchingConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		config: config.Clone(),
		logger: logger.NewNopLogger(),
	}, nil
}

// WithLogger sets the logger used for per-run debug output
func (e *Engine) WithLogger(l logger.Logger) *Engine {
	if l != nil {
		e.logger = l.WithComponent("matcher")
	}
	return e
}

// GetConfiguration returns a copy of the engine configuration
func (e *Engine) GetConfiguration() *MatchingConfig {
	return e.config.Clone()
}

// Reconcile matches bank against finance and returns the partition.
func (e *Engine) Reconcile(ctx context.Context, bank []*models.BankRecord, finance []*models.FinanceRecord) (*Result, error) {
	return e.ReconcileWithProgress(ctx, bank, finance, nil)
}

// ReconcileWithProgress is Reconcile with a per-bank-record callback.
//
// A cancelled ctx aborts the run and returns a cancellation error with a nil
// result; no partial matches escape. A SearchTimeout expiry only affects the
// bank record being searched.
func (e *Engine) ReconcileWithProgress(ctx context.Context, bank []*models.BankRecord, finance []*models.FinanceRecord, progress ProgressFunc) (*Result, error) {
	if err := validateIDs(bank, finance); err != nil {
		return nil, err
	}

	start := time.Now()
	run := newRun(e.config, finance)
	total := len(bank)

	for i, b := range bank {
		if err := ctx.Err(); err != nil {
			return nil, errors.CancelledError("reconciliation", err)
		}

		outcome, group, err := run.attempt(ctx, b)
		if err != nil {
			return nil, err
		}

		matchID := ""
		if group != nil {
			matchID = group.MatchID
		}
		e.logger.WithFields(logger.Fields{
			"bank_uid": b.ID,
			"outcome":  outcome.String(),
			"match_id": matchID,
		}).Debug("Processed bank record")

		if progress != nil {
			progress(ProgressEvent{Index: i + 1, Total: total, BankID: b.ID, Outcome: outcome, MatchID: matchID})
		}
	}

	result := partition(bank, run.arena, run.registry, run.timedOut, run.nodes)
	result.Summary.Duration = time.Since(start)
	return result, nil
}

// run is the mutable state of one Reconcile call.
type run struct {
	config      *MatchingConfig
	arena       *financeArena
	registry    *MatchRegistry
	exact       *ExactMatcher
	combination *CombinationMatcher
	timedOut    []string
	nodes       uint64
}

func newRun(config *MatchingConfig, finance []*models.FinanceRecord) *run {
	arena := newFinanceArena(finance)
	index := newCandidateIndex(arena)
	return &run{
		config:      config,
		arena:       arena,
		registry:    newMatchRegistry(arena),
		exact:       newExactMatcher(arena),
		combination: newCombinationMatcher(arena, index, config),
	}
}

// attempt is the per-bank-record pipeline: exact, then sizes 2..max, then
// unmatched.
func (r *run) attempt(ctx context.Context, b *models.BankRecord) (Outcome, *models.MatchGroup, error) {
	if pos, ok := r.exact.Match(b.Key); ok {
		group, err := r.registry.Record(b, []int{pos})
		if err != nil {
			return OutcomeUnmatched, nil, err
		}
		return OutcomeExact, group, nil
	}

	searchCtx := ctx
	if r.config.SearchTimeout > 0 {
		var cancel context.CancelFunc
		searchCtx, cancel = context.WithTimeout(ctx, r.config.SearchTimeout)
		defer cancel()
	}

	positions, stats, err := r.combination.Match(searchCtx, b.Key)
	r.nodes += stats.Nodes
	if err != nil {
		if ctx.Err() != nil {
			return OutcomeUnmatched, nil, errors.CancelledError("reconciliation", ctx.Err())
		}
		r.timedOut = append(r.timedOut, b.ID)
		return OutcomeTimedOut, nil, nil
	}
	if positions == nil {
		return OutcomeUnmatched, nil, nil
	}

	group, err := r.registry.Record(b, positions)
	if err != nil {
		return OutcomeUnmatched, nil, err
	}
	return OutcomeCombination, group, nil
}

// validateIDs requires non-empty ids, unique within each side.
func validateIDs(bank []*models.BankRecord, finance []*models.FinanceRecord) error {
	seen := make(map[string]int, len(bank))
	for i, b := range bank {
		if err := checkID(seen, "bank_uid", b.ID, i); err != nil {
			return err
		}
	}

	seen = make(map[string]int, len(finance))
	for i, f := range finance {
		if err := checkID(seen, "fin_uid", f.ID, i); err != nil {
			return err
		}
	}
	return nil
}

func checkID(seen map[string]int, field, id string, i int) error {
	if id == "" {
		return errors.ValidationError(errors.CodeMissingField, field, fmt.Sprintf("record #%d", i+1), nil)
	}
	if first, ok := seen[id]; ok {
		return errors.ValidationError(errors.CodeDuplicateID, field, id, nil).
			WithContext("first_record", first+1).
			WithContext("duplicate_record", i+1)
	}
	seen[id] = i
	return nil
}
