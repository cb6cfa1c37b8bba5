package matcher

import (
	"context"
	"fmt"
	"testing"
	"time"

	"bank-fin-reconciler/internal/models"
	"bank-fin-reconciler/internal/normalizer"
	"bank-fin-reconciler/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testDate   = "2024-01-01"
	testVendor = "ACMECORP1"
)

func key(date, amount, vendor string) models.NormalizedKey {
	return models.NormalizedKey{Date: date, Amount: decimal.RequireFromString(amount), Vendor: vendor}
}

func bankRecord(id, amount string) *models.BankRecord {
	return bankRecordAt(id, testDate, amount, testVendor)
}

func bankRecordAt(id, date, amount, vendor string) *models.BankRecord {
	return &models.BankRecord{
		ID:        id,
		RawDate:   date,
		RawAmount: amount,
		RawVendor: vendor,
		Payload:   models.Payload{{Name: "bank_uid", Value: id}, {Name: "Narration", Value: "NEFT " + vendor}},
		Key:       key(date, amount, vendor),
	}
}

func financeRecord(id, amount string) *models.FinanceRecord {
	return financeRecordAt(id, testDate, amount, testVendor)
}

func financeRecordAt(id, date, amount, vendor string) *models.FinanceRecord {
	return &models.FinanceRecord{
		ID:        id,
		RawDate:   date,
		RawAmount: amount,
		RawVendor: vendor,
		VoucherNo: "V-" + id,
		Key:       key(date, amount, vendor),
	}
}

func reconcile(t *testing.T, config *MatchingConfig, bank []*models.BankRecord, finance []*models.FinanceRecord) *Result {
	t.Helper()
	engine, err := NewEngine(config)
	require.NoError(t, err)

	result, err := engine.Reconcile(context.Background(), bank, finance)
	require.NoError(t, err)
	require.NoError(t, Verify(result, engine.GetConfiguration().Tolerance))
	return result
}

func groupSignatures(result *Result) []string {
	out := make([]string, len(result.Matched))
	for i, g := range result.Matched {
		out[i] = fmt.Sprintf("%s %s %s %v", g.MatchID, g.Type, g.BankID, g.FinanceIDs)
	}
	return out
}

func bankIDs(records []*models.BankRecord) []string {
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	return ids
}

func financeIDs(records []*models.FinanceRecord) []string {
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	return ids
}

func TestNewEngine(t *testing.T) {
	engine, err := NewEngine(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxCombinationSize, engine.GetConfiguration().MaxCombinationSize)
	assert.True(t, engine.GetConfiguration().Tolerance.Equal(decimal.RequireFromString("0.01")))

	tests := []struct {
		name   string
		mutate func(c *MatchingConfig)
	}{
		{"zero tolerance", func(c *MatchingConfig) { c.Tolerance = decimal.Zero }},
		{"negative tolerance", func(c *MatchingConfig) { c.Tolerance = decimal.RequireFromString("-0.01") }},
		{"tolerance beyond cent range", func(c *MatchingConfig) { c.Tolerance = decimal.New(models.MaxAmountCents+1, -2) }},
		{"zero max size", func(c *MatchingConfig) { c.MaxCombinationSize = 0 }},
		{"max size over limit", func(c *MatchingConfig) { c.MaxCombinationSize = MaxCombinationSizeLimit + 1 }},
		{"negative timeout", func(c *MatchingConfig) { c.SearchTimeout = -time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultMatchingConfig()
			tt.mutate(config)

			engine, err := NewEngine(config)
			assert.Nil(t, engine)
			re, ok := errors.AsReconcilerError(err)
			require.True(t, ok)
			assert.Equal(t, errors.CategoryConfiguration, re.Category)
			assert.Equal(t, errors.CodeInvalidConfig, re.Code)
		})
	}
}

func TestReconcile_ScenarioA_ExactMatch(t *testing.T) {
	bank := []*models.BankRecord{bankRecord("B1", "100.00")}
	finance := []*models.FinanceRecord{financeRecord("F1", "100.00")}

	result := reconcile(t, nil, bank, finance)

	require.Len(t, result.Matched, 1)
	g := result.Matched[0]
	assert.Equal(t, "M0001", g.MatchID)
	assert.Equal(t, models.OneToOne(), g.Type)
	assert.Equal(t, "B1", g.BankID)
	assert.Equal(t, []string{"F1"}, g.FinanceIDs)
	assert.Empty(t, result.UnmatchedBank)
	assert.Empty(t, result.UnmatchedFinance)
	assert.Equal(t, 1, result.Summary.OneToOneGroups)
	assert.Equal(t, 1, result.Summary.ConsumedFinance)
}

func TestReconcile_ScenarioB_SplitPayment(t *testing.T) {
	bank := []*models.BankRecord{bankRecord("B1", "150.00")}
	finance := []*models.FinanceRecord{
		financeRecord("F1", "100.00"),
		financeRecord("F2", "50.00"),
	}

	result := reconcile(t, nil, bank, finance)

	require.Len(t, result.Matched, 1)
	g := result.Matched[0]
	assert.Equal(t, models.OneToN(2), g.Type)
	assert.Equal(t, "1-to-2", g.Type.String())
	assert.Equal(t, []string{"F1", "F2"}, g.FinanceIDs)
	assert.Equal(t, "150.00", g.FinanceTotal.StringFixed(2))
	assert.Empty(t, result.UnmatchedFinance)
	assert.Equal(t, 1, result.Summary.OneToNGroups)
	assert.Equal(t, 1, result.Summary.GroupsBySize[2])
}

func TestReconcile_ScenarioC_NoCandidates(t *testing.T) {
	b := bankRecordAt("B1", "2024-02-02", "75.00", "NOBODY")
	payload := append(models.Payload(nil), b.Payload...)
	finance := []*models.FinanceRecord{financeRecord("F1", "75.00")}

	result := reconcile(t, nil, []*models.BankRecord{b}, finance)

	assert.Empty(t, result.Matched)
	require.Len(t, result.UnmatchedBank, 1)
	assert.Same(t, b, result.UnmatchedBank[0])
	assert.Equal(t, payload, result.UnmatchedBank[0].Payload)
	assert.Equal(t, []string{"F1"}, financeIDs(result.UnmatchedFinance))
}

func TestReconcile_ScenarioD_UnrequestedFinance(t *testing.T) {
	bank := []*models.BankRecord{bankRecord("B1", "10.00")}
	finance := []*models.FinanceRecord{
		financeRecord("F1", "10.00"),
		financeRecordAt("F2", "2023-12-31", "99.00", "OTHERVEND"),
	}

	result := reconcile(t, nil, bank, finance)

	require.Len(t, result.Matched, 1)
	assert.Equal(t, []string{"F2"}, financeIDs(result.UnmatchedFinance))
	assert.Equal(t, "99.00", result.Summary.UnmatchedFinanceTotal.StringFixed(2))
}

func TestReconcile_ScenarioE_ToleranceBoundary(t *testing.T) {
	bank := []*models.BankRecord{bankRecord("B1", "100.00")}
	finance := []*models.FinanceRecord{
		financeRecord("F1", "30.00"),
		financeRecord("F2", "30.00"),
		financeRecord("F3", "40.01"),
	}

	result := reconcile(t, nil, bank, finance)

	require.Len(t, result.Matched, 1)
	g := result.Matched[0]
	assert.Equal(t, models.OneToN(3), g.Type)
	assert.Equal(t, []string{"F1", "F2", "F3"}, g.FinanceIDs)
	assert.Equal(t, "-0.01", g.Difference().StringFixed(2))
}

func TestReconcile_JustOutsideTolerance(t *testing.T) {
	bank := []*models.BankRecord{bankRecord("B1", "100.00")}
	finance := []*models.FinanceRecord{
		financeRecord("F1", "30.00"),
		financeRecord("F2", "30.00"),
		financeRecord("F3", "40.02"),
	}

	result := reconcile(t, nil, bank, finance)

	assert.Empty(t, result.Matched)
	assert.Len(t, result.UnmatchedFinance, 3)
}

func TestReconcile_ExactPhaseTakesPrecedence(t *testing.T) {
	bank := []*models.BankRecord{bankRecord("B1", "100.00")}
	finance := []*models.FinanceRecord{
		financeRecord("F1", "60.00"),
		financeRecord("F2", "40.00"),
		financeRecord("F3", "100.00"),
	}

	result := reconcile(t, nil, bank, finance)

	require.Len(t, result.Matched, 1)
	assert.Equal(t, []string{"F3"}, result.Matched[0].FinanceIDs)
	assert.Equal(t, []string{"F1", "F2"}, financeIDs(result.UnmatchedFinance))
}

func TestReconcile_ExactScanIgnoresSlotOnlyCandidates(t *testing.T) {
	// the exact phase compares amount too, so a same-slot record with a
	// different amount is never a 1-to-1 match
	bank := []*models.BankRecord{bankRecord("B1", "100.00")}
	finance := []*models.FinanceRecord{
		financeRecord("F1", "99.99"),
		financeRecordAt("F2", testDate, "100.00", "ACMECORP2"),
	}

	result := reconcile(t, nil, bank, finance)

	assert.Empty(t, result.Matched)
	assert.Len(t, result.UnmatchedBank, 1)
}

func TestReconcile_FirstUnconsumedInInputOrder(t *testing.T) {
	bank := []*models.BankRecord{
		bankRecord("B1", "100.00"),
		bankRecord("B2", "100.00"),
		bankRecord("B3", "100.00"),
	}
	finance := []*models.FinanceRecord{
		financeRecord("F1", "100.00"),
		financeRecord("F2", "100.00"),
	}

	result := reconcile(t, nil, bank, finance)

	assert.Equal(t, []string{
		"M0001 1-to-1 B1 [F1]",
		"M0002 1-to-1 B2 [F2]",
	}, groupSignatures(result))
	assert.Equal(t, []string{"B3"}, bankIDs(result.UnmatchedBank))
}

func TestReconcile_SmallestSizeWins(t *testing.T) {
	bank := []*models.BankRecord{bankRecord("B1", "100.00")}
	finance := []*models.FinanceRecord{
		financeRecord("F1", "20.00"),
		financeRecord("F2", "30.00"),
		financeRecord("F3", "50.00"),
		financeRecord("F4", "50.00"),
	}

	result := reconcile(t, nil, bank, finance)

	require.Len(t, result.Matched, 1)
	assert.Equal(t, []string{"F3", "F4"}, result.Matched[0].FinanceIDs)
}

func TestReconcile_LexicographicFirstSubset(t *testing.T) {
	bank := []*models.BankRecord{bankRecord("B1", "100.00")}
	finance := []*models.FinanceRecord{
		financeRecord("F1", "50.00"),
		financeRecord("F2", "70.00"),
		financeRecord("F3", "50.00"),
		financeRecord("F4", "30.00"),
	}

	result := reconcile(t, nil, bank, finance)

	require.Len(t, result.Matched, 1)
	assert.Equal(t, []string{"F1", "F3"}, result.Matched[0].FinanceIDs)
	assert.Equal(t, []string{"F2", "F4"}, financeIDs(result.UnmatchedFinance))
}

func TestReconcile_ConsumedRecordsAreNotReused(t *testing.T) {
	bank := []*models.BankRecord{
		bankRecord("B1", "100.00"),
		bankRecord("B2", "100.00"),
	}
	finance := []*models.FinanceRecord{
		financeRecord("F1", "60.00"),
		financeRecord("F2", "40.00"),
	}

	result := reconcile(t, nil, bank, finance)

	require.Len(t, result.Matched, 1)
	assert.Equal(t, "B1", result.Matched[0].BankID)
	assert.Equal(t, []string{"B2"}, bankIDs(result.UnmatchedBank))
}

func TestReconcile_CandidatesShareDateAndVendor(t *testing.T) {
	bank := []*models.BankRecord{bankRecord("B1", "100.00")}
	finance := []*models.FinanceRecord{
		financeRecord("F1", "60.00"),
		financeRecordAt("F2", "2024-01-02", "40.00", testVendor),
		financeRecordAt("F3", testDate, "40.00", "ACMECORP2"),
	}

	result := reconcile(t, nil, bank, finance)

	assert.Empty(t, result.Matched)
	assert.Len(t, result.UnmatchedFinance, 3)
}

func TestReconcile_SizeTenIsSearched(t *testing.T) {
	bank := []*models.BankRecord{bankRecord("B1", "10.00")}
	finance := make([]*models.FinanceRecord, 10)
	for i := range finance {
		finance[i] = financeRecord(fmt.Sprintf("F%02d", i+1), "1.00")
	}

	result := reconcile(t, nil, bank, finance)
	require.Len(t, result.Matched, 1)
	assert.Equal(t, models.OneToN(10), result.Matched[0].Type)
	assert.Empty(t, result.UnmatchedFinance)

	config := DefaultMatchingConfig()
	config.MaxCombinationSize = 9
	result = reconcile(t, config, bank, finance)
	assert.Empty(t, result.Matched)
	assert.Len(t, result.UnmatchedBank, 1)
}

func TestReconcile_MaxSizeOneDisablesGroups(t *testing.T) {
	config := DefaultMatchingConfig()
	config.MaxCombinationSize = 1

	bank := []*models.BankRecord{bankRecord("B1", "150.00"), bankRecord("B2", "20.00")}
	finance := []*models.FinanceRecord{
		financeRecord("F1", "100.00"),
		financeRecord("F2", "50.00"),
		financeRecord("F3", "20.00"),
	}

	result := reconcile(t, config, bank, finance)

	assert.Equal(t, []string{"M0001 1-to-1 B2 [F3]"}, groupSignatures(result))
	assert.Equal(t, []string{"B1"}, bankIDs(result.UnmatchedBank))
}

func TestReconcile_IDsIncreaseAcrossKinds(t *testing.T) {
	bank := []*models.BankRecord{
		bankRecord("B1", "150.00"),
		bankRecord("B2", "7.00"),
		bankRecordAt("B3", "2024-01-05", "1.00", "NOBODY"),
		bankRecord("B4", "12.00"),
	}
	finance := []*models.FinanceRecord{
		financeRecord("F1", "100.00"),
		financeRecord("F2", "50.00"),
		financeRecord("F3", "7.00"),
		financeRecord("F4", "5.00"),
		financeRecord("F5", "4.00"),
		financeRecord("F6", "3.00"),
	}

	result := reconcile(t, nil, bank, finance)

	assert.Equal(t, []string{
		"M0001 1-to-2 B1 [F1 F2]",
		"M0002 1-to-1 B2 [F3]",
		"M0003 1-to-3 B4 [F4 F5 F6]",
	}, groupSignatures(result))
	assert.Equal(t, []string{"B3"}, bankIDs(result.UnmatchedBank))
}

func TestReconcile_NegativeAmounts(t *testing.T) {
	bank := []*models.BankRecord{bankRecord("B1", "50.00")}
	finance := []*models.FinanceRecord{
		financeRecord("F1", "80.00"),
		financeRecord("F2", "-30.00"),
	}

	for _, prune := range []bool{true, false} {
		config := DefaultMatchingConfig()
		config.Prune = prune

		result := reconcile(t, config, bank, finance)
		require.Len(t, result.Matched, 1, "prune=%t", prune)
		assert.Equal(t, []string{"F1", "F2"}, result.Matched[0].FinanceIDs)
	}
}

func TestReconcile_RejectsBadIDs(t *testing.T) {
	engine, err := NewEngine(nil)
	require.NoError(t, err)

	_, err = engine.Reconcile(context.Background(),
		[]*models.BankRecord{bankRecord("B1", "1.00"), bankRecord("B1", "2.00")}, nil)
	assert.True(t, errors.HasCode(err, errors.CodeDuplicateID))

	_, err = engine.Reconcile(context.Background(),
		nil, []*models.FinanceRecord{financeRecord("", "1.00")})
	assert.True(t, errors.HasCode(err, errors.CodeMissingField))
}

func TestReconcile_EmptyInputs(t *testing.T) {
	result := reconcile(t, nil, nil, nil)

	assert.NotNil(t, result.Matched)
	assert.Empty(t, result.Matched)
	assert.Empty(t, result.UnmatchedBank)
	assert.Empty(t, result.UnmatchedFinance)
	assert.Equal(t, 0.0, result.Summary.MatchRate())
}

func TestReconcile_InputsAreNotModified(t *testing.T) {
	bank := []*models.BankRecord{bankRecord("B1", "150.00")}
	finance := []*models.FinanceRecord{financeRecord("F1", "100.00"), financeRecord("F2", "50.00")}
	order := append([]*models.FinanceRecord(nil), finance...)

	reconcile(t, nil, bank, finance)
	reconcile(t, nil, bank, finance)

	assert.Equal(t, order, finance)
}

func TestReconcile_Cancelled(t *testing.T) {
	engine, err := NewEngine(nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := engine.Reconcile(ctx, []*models.BankRecord{bankRecord("B1", "1.00")}, nil)
	assert.Nil(t, result)
	assert.True(t, errors.HasCode(err, errors.CodeCancelled))
}

func TestReconcile_CancelledMidRunDiscardsMatches(t *testing.T) {
	engine, err := NewEngine(nil)
	require.NoError(t, err)

	bank := []*models.BankRecord{bankRecord("B1", "1.00"), bankRecord("B2", "2.00")}
	finance := []*models.FinanceRecord{financeRecord("F1", "1.00"), financeRecord("F2", "2.00")}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var events []ProgressEvent
	result, err := engine.ReconcileWithProgress(ctx, bank, finance, func(e ProgressEvent) {
		events = append(events, e)
		cancel()
	})

	assert.Nil(t, result)
	assert.True(t, errors.HasCode(err, errors.CodeCancelled))
	require.Len(t, events, 1)
	assert.Equal(t, OutcomeExact, events[0].Outcome)
}

func TestReconcile_SearchTimeoutLeavesRecordUnmatched(t *testing.T) {
	config := DefaultMatchingConfig()
	config.Prune = false
	config.SearchTimeout = 20 * time.Millisecond

	// 60 candidates of 1.00 can never sum to 1000.00, and without pruning
	// the search walks every subset up to size 10
	bank := []*models.BankRecord{
		bankRecord("B1", "1000.00"),
		bankRecord("B2", "1.00"),
	}
	finance := make([]*models.FinanceRecord, 60)
	for i := range finance {
		finance[i] = financeRecord(fmt.Sprintf("F%02d", i+1), "1.00")
	}

	engine, err := NewEngine(config)
	require.NoError(t, err)

	var outcomes []Outcome
	result, err := engine.ReconcileWithProgress(context.Background(), bank, finance, func(e ProgressEvent) {
		outcomes = append(outcomes, e.Outcome)
	})
	require.NoError(t, err)

	assert.Equal(t, []Outcome{OutcomeTimedOut, OutcomeExact}, outcomes)
	assert.Equal(t, []string{"B1"}, result.TimedOut)
	assert.Equal(t, 1, result.Summary.TimedOutSearches)
	assert.Equal(t, []string{"B1"}, bankIDs(result.UnmatchedBank))
	assert.Equal(t, []string{"M0001 1-to-1 B2 [F01]"}, groupSignatures(result))
	assert.Len(t, result.UnmatchedFinance, 59)
}

func TestReconcile_ProgressEvents(t *testing.T) {
	engine, err := NewEngine(nil)
	require.NoError(t, err)

	bank := []*models.BankRecord{bankRecord("B1", "150.00"), bankRecord("B2", "9.00")}
	finance := []*models.FinanceRecord{financeRecord("F1", "100.00"), financeRecord("F2", "50.00")}

	var events []ProgressEvent
	_, err = engine.ReconcileWithProgress(context.Background(), bank, finance, func(e ProgressEvent) {
		events = append(events, e)
	})
	require.NoError(t, err)

	assert.Equal(t, []ProgressEvent{
		{Index: 1, Total: 2, BankID: "B1", Outcome: OutcomeCombination, MatchID: "M0001"},
		{Index: 2, Total: 2, BankID: "B2", Outcome: OutcomeUnmatched},
	}, events)
}

func TestReconcile_DegradedCounts(t *testing.T) {
	b := bankRecord("B1", "0.00")
	b.Key.Degradation = models.AmountMissing
	f := financeRecordAt("F1", "", "5.00", testVendor)
	f.Key.Degradation = models.DateUnparsed

	result := reconcile(t, nil, []*models.BankRecord{b}, []*models.FinanceRecord{f})

	assert.Equal(t, 1, result.Summary.DegradedBank)
	assert.Equal(t, 1, result.Summary.DegradedFinance)
}

func TestReconcile_HugeAmountIsUnparsedAndNeverMatches(t *testing.T) {
	n := normalizer.New(normalizer.DefaultConfig())

	b := bankRecord("B1", "1.00")
	f := financeRecord("F1", "1.00")
	f.RawAmount = "184467440737095517.16"
	f.Key = n.Key(testDate, f.RawAmount, testVendor)
	require.True(t, f.Key.Degradation.Has(models.AmountUnparsed))

	result := reconcile(t, nil, []*models.BankRecord{b}, []*models.FinanceRecord{f})

	assert.Empty(t, result.Matched)
	assert.Equal(t, []string{"B1"}, bankIDs(result.UnmatchedBank))
	assert.Equal(t, []string{"F1"}, financeIDs(result.UnmatchedFinance))
}

func TestReconcile_LargestAmountsSumWithoutOverflow(t *testing.T) {
	limit := decimal.New(models.MaxAmountCents, -2).StringFixed(2)
	bank := []*models.BankRecord{bankRecord("B1", limit)}
	finance := []*models.FinanceRecord{
		financeRecord("F1", "6000000000000.00"),
		financeRecord("F2", "7000000000000.00"),
		financeRecord("F3", "4000000000000.00"),
		financeRecord("F4", limit),
	}

	result := reconcile(t, nil, bank, finance)

	assert.Equal(t, []string{"M0001 1-to-1 B1 [F4]"}, groupSignatures(result))

	finance = finance[:3]
	result = reconcile(t, nil, bank, finance)

	assert.Equal(t, []string{"M0001 1-to-2 B1 [F1 F3]"}, groupSignatures(result))
}

func TestReconcile_EqualDegradedKeysMatch(t *testing.T) {
	b := bankRecordAt("B1", "", "75.00", testVendor)
	b.Key.Degradation = models.DateUnparsed
	f1 := financeRecordAt("F1", "", "75.00", testVendor)
	f1.Key.Degradation = models.DateUnparsed
	f2 := financeRecordAt("F2", testDate, "75.00", testVendor)

	b2 := bankRecordAt("B2", "", "30.00", "")
	b2.Key.Degradation = models.DateUnparsed | models.VendorMissing
	f3 := financeRecordAt("F3", "", "10.00", "")
	f3.Key.Degradation = models.DateUnparsed | models.VendorMissing
	f4 := financeRecordAt("F4", "", "20.00", "")
	f4.Key.Degradation = models.DateUnparsed | models.VendorMissing

	result := reconcile(t, nil,
		[]*models.BankRecord{b, b2},
		[]*models.FinanceRecord{f2, f1, f3, f4})

	assert.Equal(t, []string{
		"M0001 1-to-1 B1 [F1]",
		"M0002 1-to-2 B2 [F3 F4]",
	}, groupSignatures(result))
	assert.Equal(t, []string{"F2"}, financeIDs(result.UnmatchedFinance))
	assert.Equal(t, 2, result.Summary.DegradedBank)
}
