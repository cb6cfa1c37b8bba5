package generator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"bank-fin-reconciler/internal/reconciler"
	"bank-fin-reconciler/pkg/errors"
	"bank-fin-reconciler/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func reconcileFiles(t *testing.T, bankPath, financePath string) *reconciler.Run {
	t.Helper()

	service, err := reconciler.NewService(nil)
	require.NoError(t, err)
	service.WithLogger(logger.NewNopLogger())

	outcome, err := service.Process(context.Background(), &reconciler.Request{
		BankFile:    bankPath,
		FinanceFile: financePath,
	})
	require.NoError(t, err)
	return outcome.Run
}

func TestGenerate_Shape(t *testing.T) {
	data := New(Config{Records: 50, Seed: 3, GroupRatio: 0.4, UnmatchedRatio: 0.2}).Generate()

	assert.Equal(t, 51, len(data.Bank), "header plus one row per bank record")
	assert.Equal(t, []string{"bank_uid", "Date", "Withdrawal (Dr.)", "der_bank_ven", "Narration"}, data.Bank[0])
	assert.Equal(t, "fin_uid", data.Finance[0][0])

	e := data.Expected
	assert.Equal(t, 20, e.OneToN)
	assert.Equal(t, 10, e.UnmatchedBank)
	assert.Equal(t, 10, e.UnmatchedFinance)
	assert.Equal(t, 20, e.OneToOne)
	assert.Equal(t, len(data.Finance)-1, e.MatchedRows()-e.OneToOne-e.OneToN+e.UnmatchedFinance)
}

func TestGenerate_IsDeterministic(t *testing.T) {
	a := New(Config{Records: 30, Seed: 42, GroupRatio: 0.3}).Generate()
	b := New(Config{Records: 30, Seed: 42, GroupRatio: 0.3}).Generate()
	assert.Equal(t, a.Bank, b.Bank)
	assert.Equal(t, a.Finance, b.Finance)

	c := New(Config{Records: 30, Seed: 43, GroupRatio: 0.3}).Generate()
	assert.NotEqual(t, a.Bank, c.Bank)
}

func TestGenerate_ReconcilesToExpected(t *testing.T) {
	data := New(Config{Records: 60, Seed: 11, GroupRatio: 0.3, UnmatchedRatio: 0.1}).Generate()
	bankPath, financePath, err := data.WriteCSV(t.TempDir())
	require.NoError(t, err)

	run := reconcileFiles(t, bankPath, financePath)
	summary := run.Result.Summary

	assert.Equal(t, data.Expected.OneToOne, summary.OneToOneGroups)
	assert.Equal(t, data.Expected.OneToN, summary.OneToNGroups)
	assert.Equal(t, data.Expected.UnmatchedBank, summary.UnmatchedBankCount)
	assert.Equal(t, data.Expected.UnmatchedFinance, summary.UnmatchedFinanceCount)
	assert.Equal(t, data.Expected.MatchedRows(), run.MatchedRows())
	for size, n := range data.Expected.GroupsBySize {
		assert.Equal(t, n, summary.GroupsBySize[size], "groups of size %d", size)
	}
}

func TestGenerate_XLSXRoundTrip(t *testing.T) {
	data := New(Config{Records: 20, Seed: 5, GroupRatio: 0.25}).Generate()
	dir := t.TempDir()
	bankPath, financePath, err := data.WriteXLSX(dir)
	require.NoError(t, err)

	f, err := excelize.OpenFile(financePath)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{"Payments"}, f.GetSheetList())

	run := reconcileFiles(t, bankPath, financePath)
	assert.Equal(t, data.Expected.OneToN, run.Result.Summary.OneToNGroups)
	assert.Equal(t, data.Expected.OneToOne, run.Result.Summary.OneToOneGroups)
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.Records = 0
	assert.True(t, errors.HasCode(bad.Validate(), errors.CodeInvalidConfig))

	bad = DefaultConfig()
	bad.GroupRatio = 0.8
	bad.UnmatchedRatio = 0.5
	assert.True(t, errors.HasCode(bad.Validate(), errors.CodeConfigConflict))
}

func TestWriteCSV_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "out")
	data := New(Config{Records: 3, Seed: 1}).Generate()

	bankPath, _, err := data.WriteCSV(dir)
	require.NoError(t, err)
	_, err = os.Stat(bankPath)
	assert.NoError(t, err)
}
