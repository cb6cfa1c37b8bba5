package matcher

import (
	"fmt"
	"strconv"
	"strings"

	"bank-fin-reconciler/internal/models"
	"bank-fin-reconciler/pkg/errors"

	"github.com/shopspring/decimal"
)

// Violation is one broken property found by Verify
type Violation struct {
	Property string `json:"property"`
	Detail   string `json:"detail"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Property, v.Detail)
}

// Check lists every property the result breaks. An empty slice means the
// result is a consistent partition of its inputs.
func Check(result *Result, tolerance decimal.Decimal) []Violation {
	var violations []Violation
	add := func(property, format string, args ...interface{}) {
		violations = append(violations, Violation{Property: property, Detail: fmt.Sprintf(format, args...)})
	}

	financeUse := make(map[string]string)
	bankSeen := make(map[string]string)
	lastID := 0

	for _, g := range result.Matched {
		n, err := parseMatchID(g.MatchID)
		switch {
		case err != nil:
			add("id_format", "%q is not a match id", g.MatchID)
		case n <= lastID:
			add("id_order", "%s does not follow M%04d", g.MatchID, lastID)
		default:
			lastID = n
		}

		if prev, ok := bankSeen[g.BankID]; ok {
			add("completeness", "bank record %s matched by %s and %s", g.BankID, prev, g.MatchID)
		}
		bankSeen[g.BankID] = g.MatchID

		if len(g.FinanceIDs) != g.Type.Size {
			add("group_type", "%s is %s with %d members", g.MatchID, g.Type, len(g.FinanceIDs))
		}
		if g.Type.Kind == models.KindOneToOne && len(g.FinanceIDs) != 1 {
			add("group_type", "%s is one-to-one with %d members", g.MatchID, len(g.FinanceIDs))
		}

		total := decimal.Zero
		for _, id := range g.FinanceIDs {
			if prev, ok := financeUse[id]; ok {
				add("double_consumption", "finance record %s in %s and %s", id, prev, g.MatchID)
			}
			financeUse[id] = g.MatchID
			if f, ok := result.Finance(id); ok {
				total = total.Add(f.Key.Amount)
			} else {
				add("unknown_record", "%s references unknown finance record %s", g.MatchID, id)
			}
		}

		if b, ok := result.Bank(g.BankID); ok {
			if b.Key.Amount.Sub(total).Abs().GreaterThan(tolerance) {
				add("sum", "%s: bank %s vs finance total %s", g.MatchID, b.Key.Amount.StringFixed(2), total.StringFixed(2))
			}
		} else {
			add("unknown_record", "%s references unknown bank record %s", g.MatchID, g.BankID)
		}
	}

	for _, b := range result.UnmatchedBank {
		if matchID, ok := bankSeen[b.ID]; ok {
			add("completeness", "bank record %s is both unmatched and in %s", b.ID, matchID)
		}
		bankSeen[b.ID] = ""
	}
	if len(bankSeen) != result.Summary.BankRecords {
		add("completeness", "%d bank records accounted for, %d in input", len(bankSeen), result.Summary.BankRecords)
	}

	for _, f := range result.UnmatchedFinance {
		if matchID, ok := financeUse[f.ID]; ok {
			add("double_consumption", "finance record %s is both unmatched and in %s", f.ID, matchID)
		}
		financeUse[f.ID] = ""
	}
	if len(financeUse) != result.Summary.FinanceRecords {
		add("completeness", "%d finance records accounted for, %d in input", len(financeUse), result.Summary.FinanceRecords)
	}

	return violations
}

// Verify runs Check and folds any violations into one error.
func Verify(result *Result, tolerance decimal.Decimal) error {
	violations := Check(result, tolerance)
	if len(violations) == 0 {
		return nil
	}

	details := make([]string, len(violations))
	for i, v := range violations {
		details[i] = v.String()
	}
	return errors.ReconciliationError(errors.CodeDataInconsistent, "result verification",
		fmt.Errorf("%d violations: %s", len(violations), strings.Join(details, "; "))).
		WithContext("violations", len(violations))
}

func parseMatchID(id string) (int, error) {
	if !strings.HasPrefix(id, "M") {
		return 0, fmt.Errorf("missing prefix")
	}
	return strconv.Atoi(id[1:])
}
