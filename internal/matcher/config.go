// Package matcher is the reconciliation core: it pairs each bank withdrawal
// with one finance credit, or with the smallest group of finance credits
// whose total equals the withdrawal within an absolute tolerance.
//
// The engine works on records that already carry a NormalizedKey and does no
// I/O. Each bank record runs a short pipeline, in input order:
//  1. ExactMatcher: the first unconsumed finance record with an equal key
//  2. CombinationMatcher: subsets of size 2..MaxCombinationSize drawn from the
//     unconsumed finance records sharing the bank record's (date, vendor),
//     enumerated lexicographically
//  3. otherwise the bank record is left unmatched
//
// A finance record that joins a group is consumed and never considered again.
// Match ids are assigned as M0001, M0002, ... in the order groups are found.
//
// Example usage:
//
//	config := matcher.DefaultMatchingConfig()
//	config.MaxCombinationSize = 6
//
//	engine, err := matcher.NewEngine(config)
//	result, err := engine.Reconcile(ctx, bank, finance)
//	fmt.Println(result.Summary.MatchedGroups)
package matcher

import (
	"fmt"
	"time"

	"bank-fin-reconciler/internal/models"
	"bank-fin-reconciler/pkg/errors"

	"github.com/shopspring/decimal"
)

// DefaultTolerance is the absolute amount difference accepted between a bank
// amount and a finance total.
var DefaultTolerance = decimal.New(1, -2)

// DefaultMaxCombinationSize caps how many finance records may be merged into
// one bank match.
const DefaultMaxCombinationSize = 10

// MaxCombinationSizeLimit keeps every group total inside int64 cents for
// amounts bounded by models.MaxAmountCents.
const MaxCombinationSizeLimit = 1000

// MatchingConfig holds the knobs of the matching pass.
type MatchingConfig struct {
	// Tolerance is an absolute epsilon on two-decimal amounts. Must be > 0.
	Tolerance decimal.Decimal `json:"tolerance"`

	// MaxCombinationSize is the largest group tried. Sizes 2..MaxCombinationSize
	// are searched in order; 1 disables group matching. Must be >= 1.
	MaxCombinationSize int `json:"max_combination_size"`

	// SearchTimeout bounds the group search of a single bank record. When it
	// expires the record is left unmatched and the run continues. Zero disables it.
	SearchTimeout time.Duration `json:"search_timeout"`

	// Prune skips branches whose reachable totals cannot land within tolerance.
	// It never changes which subset is found first.
	Prune bool `json:"prune"`
}

// DefaultMatchingConfig returns tolerance 0.01, groups up to 10, no timeout.
func DefaultMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		Tolerance:          DefaultTolerance,
		MaxCombinationSize: DefaultMaxCombinationSize,
		Prune:              true,
	}
}

// Validate rejects settings that would make the pass meaningless. All
// failures are configuration errors raised before any record is touched.
func (c *MatchingConfig) Validate() error {
	if !c.Tolerance.IsPositive() {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "tolerance", c.Tolerance.String(), nil).
			WithSuggestion("tolerance must be greater than zero, e.g. 0.01")
	}
	if !models.AmountInRange(c.Tolerance) {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "tolerance", c.Tolerance.String(), nil).
			WithSuggestion(fmt.Sprintf("tolerance must not exceed %s", decimal.New(models.MaxAmountCents, -2)))
	}
	if c.MaxCombinationSize < 1 || c.MaxCombinationSize > MaxCombinationSizeLimit {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "max_combination_size", c.MaxCombinationSize, nil).
			WithSuggestion(fmt.Sprintf("max combination size must be between 1 and %d", MaxCombinationSizeLimit))
	}
	if c.SearchTimeout < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "search_timeout", c.SearchTimeout.String(), nil).
			WithSuggestion("use 0 to disable the per-record search timeout")
	}
	return nil
}

// Clone returns a copy of the configuration
func (c *MatchingConfig) Clone() *MatchingConfig {
	clone := *c
	return &clone
}

func (c *MatchingConfig) String() string {
	return fmt.Sprintf("MatchingConfig{Tolerance: %s, MaxCombinationSize: %d, SearchTimeout: %v, Prune: %t}",
		c.Tolerance.String(), c.MaxCombinationSize, c.SearchTimeout, c.Prune)
}

// toleranceCents converts the tolerance to whole cents, rounding down. Every
// difference compared against it is a whole number of cents, so
// |diff| <= tolerance holds exactly when |diff| <= floor(tolerance*100).
func (c *MatchingConfig) toleranceCents() int64 {
	return c.Tolerance.Shift(2).Floor().IntPart()
}
