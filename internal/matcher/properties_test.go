package matcher

import (
	"context"
	"fmt"
	"testing"

	"bank-fin-reconciler/internal/models"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// randomLedgers builds bank and finance feeds over a handful of slots. Some
// bank amounts are planted as exact copies or splits of finance amounts, the
// rest are noise.
func randomLedgers(faker *gofakeit.Faker, bankCount int, allowNegative bool) ([]*models.BankRecord, []*models.FinanceRecord) {
	dates := []string{"2024-01-01", "2024-01-02", "2024-01-03"}
	vendors := make([]string, 4)
	for i := range vendors {
		vendors[i] = fmt.Sprintf("VEND%d", i)
	}

	amount := func() decimal.Decimal {
		lo := 1
		if allowNegative {
			lo = -5000
		}
		return decimal.New(int64(faker.IntRange(lo, 20000)), -2)
	}

	var bank []*models.BankRecord
	var finance []*models.FinanceRecord
	nextFinance := func(date, vendor string, value decimal.Decimal) {
		id := fmt.Sprintf("F%04d", len(finance)+1)
		finance = append(finance, &models.FinanceRecord{
			ID:  id,
			Key: models.NormalizedKey{Date: date, Amount: value, Vendor: vendor},
		})
	}

	for i := 0; i < bankCount; i++ {
		date := faker.RandomString(dates)
		vendor := faker.RandomString(vendors)

		var total decimal.Decimal
		switch faker.IntRange(0, 2) {
		case 0:
			total = amount()
			nextFinance(date, vendor, total)
		case 1:
			parts := faker.IntRange(2, 4)
			total = decimal.Zero
			for p := 0; p < parts; p++ {
				v := amount()
				total = total.Add(v)
				nextFinance(date, vendor, v)
			}
		default:
			total = amount()
		}

		bank = append(bank, &models.BankRecord{
			ID:  fmt.Sprintf("B%04d", i+1),
			Key: models.NormalizedKey{Date: date, Amount: total, Vendor: vendor},
		})
	}

	for i := 0; i < bankCount/4; i++ {
		nextFinance(faker.RandomString(dates), faker.RandomString(vendors), amount())
	}

	faker.ShuffleAnySlice(finance)
	return bank, finance
}

func TestReconcile_Properties(t *testing.T) {
	for seed := int64(1); seed <= 5; seed++ {
		t.Run(fmt.Sprintf("seed_%d", seed), func(t *testing.T) {
			bank, finance := randomLedgers(gofakeit.New(seed), 60, false)

			config := DefaultMatchingConfig()
			config.MaxCombinationSize = 5
			engine, err := NewEngine(config)
			require.NoError(t, err)

			first, err := engine.Reconcile(context.Background(), bank, finance)
			require.NoError(t, err)
			assert.Empty(t, Check(first, config.Tolerance))
			assert.Equal(t, len(bank), first.Summary.MatchedGroups+first.Summary.UnmatchedBankCount)
			assert.Equal(t, len(finance), first.Summary.ConsumedFinance+first.Summary.UnmatchedFinanceCount)

			second, err := engine.Reconcile(context.Background(), bank, finance)
			require.NoError(t, err)
			assert.Equal(t, groupSignatures(first), groupSignatures(second))
			assert.Equal(t, bankIDs(first.UnmatchedBank), bankIDs(second.UnmatchedBank))
			assert.Equal(t, financeIDs(first.UnmatchedFinance), financeIDs(second.UnmatchedFinance))
		})
	}
}

func TestReconcile_PruningDoesNotChangeResult(t *testing.T) {
	for seed := int64(10); seed <= 14; seed++ {
		for _, negative := range []bool{false, true} {
			t.Run(fmt.Sprintf("seed_%d_negative_%t", seed, negative), func(t *testing.T) {
				bank, finance := randomLedgers(gofakeit.New(seed), 40, negative)

				pruned := DefaultMatchingConfig()
				pruned.MaxCombinationSize = 4
				exhaustive := pruned.Clone()
				exhaustive.Prune = false

				a := reconcile(t, pruned, bank, finance)
				b := reconcile(t, exhaustive, bank, finance)

				assert.Equal(t, groupSignatures(b), groupSignatures(a))
				assert.LessOrEqual(t, a.Summary.SearchNodes, b.Summary.SearchNodes)
			})
		}
	}
}
