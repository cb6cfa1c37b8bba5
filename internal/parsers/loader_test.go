package parsers

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"bank-fin-reconciler/pkg/errors"
	"bank-fin-reconciler/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestLoader(profile *ColumnProfile) *Loader {
	return NewLoader(profile, logger.NewNopLogger())
}

func TestLoadBank_CSV(t *testing.T) {
	path := writeFile(t, "bank.csv", "\ufeffbank_uid,Date,Narration,Withdrawal (Dr.),der_bank_ven\n"+
		"B1,45292,NEFT ACME,\"1,250.50\",Acme Corp\n"+
		",,,,\n"+
		"B2,2024-01-02,CHQ,99,  globex  \n")

	ds, err := newTestLoader(nil).LoadBank(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, []string{"bank_uid", "Date", "Narration", "Withdrawal (Dr.)", "der_bank_ven"}, ds.Headers)
	require.Len(t, ds.Records, 2)

	b := ds.Records[0]
	assert.Equal(t, "B1", b.ID)
	assert.Equal(t, 2, b.Line)
	assert.Equal(t, "45292", b.RawDate)
	assert.Equal(t, "1,250.50", b.RawAmount)
	assert.Equal(t, "Acme Corp", b.RawVendor)
	assert.Equal(t, "NEFT ACME", b.Payload.Value("Narration"))
	assert.Len(t, b.Payload, 5)

	assert.Equal(t, 4, ds.Records[1].Line)
	assert.Equal(t, "globex", ds.Records[1].RawVendor)

	assert.Equal(t, 2, ds.Stats.RecordsParsed)
	assert.Equal(t, 1, ds.Stats.EmptySkipped)
	assert.Equal(t, 4, ds.Stats.TotalLines)
}

func TestLoadFinance_OptionalColumns(t *testing.T) {
	withVoucher := writeFile(t, "fin.csv", "fin_uid,Payment Date,Credit Amount,der_fin_ven,voucher no,Receiver Name\n"+
		"F1,2024-01-01,100,ACME,V-1,Jane\n")

	ds, err := newTestLoader(nil).LoadFinance(context.Background(), withVoucher)
	require.NoError(t, err)
	assert.True(t, ds.HasVoucherNo)
	require.Len(t, ds.Records, 1)
	assert.Equal(t, "V-1", ds.Records[0].VoucherNo)
	assert.Equal(t, "Jane", ds.Records[0].ReceiverName)

	without := writeFile(t, "fin.csv", "fin_uid,Payment Date,Credit Amount,der_fin_ven\n"+
		"F1,2024-01-01,100,ACME\n")

	ds, err = newTestLoader(nil).LoadFinance(context.Background(), without)
	require.NoError(t, err)
	assert.False(t, ds.HasVoucherNo)
	assert.Equal(t, "", ds.Records[0].VoucherNo)
}

func TestLoad_MissingColumns(t *testing.T) {
	path := writeFile(t, "bank.csv", "bank_uid,Date\nB1,2024-01-01\n")

	_, err := newTestLoader(nil).LoadBank(context.Background(), path)
	re, ok := errors.AsReconcilerError(err)
	require.True(t, ok)
	assert.Equal(t, errors.CodeMissingColumn, re.Code)
	assert.Contains(t, re.Context["value"], "Withdrawal (Dr.)")
	assert.Contains(t, re.Context["value"], "der_bank_ven")
}

func TestLoad_RowErrorsAreCollected(t *testing.T) {
	path := writeFile(t, "bank.csv", "bank_uid,Date,Withdrawal (Dr.),der_bank_ven\n"+
		"B1,2024-01-01,1,A\n"+
		",2024-01-01,2,A\n"+
		"B1,2024-01-01,3,A\n")

	_, err := newTestLoader(nil).LoadBank(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "found 2 row errors")
	re, ok := errors.AsReconcilerError(err)
	require.True(t, ok)
	assert.Equal(t, 3, re.GetExitCode())
}

func TestLoad_RowErrorLimit(t *testing.T) {
	path := writeFile(t, "bank.csv", "bank_uid,Date,Withdrawal (Dr.),der_bank_ven\n"+
		",2024-01-01,1,A\n"+
		",2024-01-01,2,A\n"+
		",2024-01-01,3,A\n")

	config := DefaultParseConfig()
	config.MaxRowErrors = 1
	_, err := newTestLoader(nil).WithParseConfig(config).LoadBank(context.Background(), path)

	var rowErr *errors.RowError
	require.ErrorAs(t, err, &rowErr)
	assert.Equal(t, 2, rowErr.Location.Line)
	assert.True(t, errors.HasCode(err, errors.CodeMissingField))
}

func TestLoad_FileErrors(t *testing.T) {
	loader := newTestLoader(nil)

	_, err := loader.LoadBank(context.Background(), filepath.Join(t.TempDir(), "missing.csv"))
	assert.True(t, errors.HasCode(err, errors.CodeFileNotFound))

	_, err = loader.LoadBank(context.Background(), writeFile(t, "bank.xls", "legacy"))
	assert.True(t, errors.HasCode(err, errors.CodeUnsupportedExt))

	_, err = loader.LoadBank(context.Background(), writeFile(t, "empty.csv", ""))
	assert.True(t, errors.HasCode(err, errors.CodeMissingField))

	_, err = loader.LoadBank(context.Background(), writeFile(t, "latin1.csv", "bank_uid,Date\nB1,caf\xe9\n"))
	assert.True(t, errors.HasCode(err, errors.CodeEncodingError))
}

func TestLoad_Cancelled(t *testing.T) {
	path := writeFile(t, "bank.csv", "bank_uid,Date,Withdrawal (Dr.),der_bank_ven\nB1,2024-01-01,1,A\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestLoader(nil).LoadBank(ctx, path)
	assert.True(t, errors.HasCode(err, errors.CodeCancelled))
}

func TestLoad_ProfileAliasesAndDelimiter(t *testing.T) {
	profile := DefaultColumnProfile()
	profile.Delimiter = ";"
	profile.Bank.Aliases = map[string][]string{FieldAmount: {"Debit"}}

	path := writeFile(t, "bank.csv", "bank_uid;Date;Debit;der_bank_ven\nB1;2024-01-01;12,50;ACME\n")

	ds, err := newTestLoader(profile).LoadBank(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, ds.Records, 1)
	assert.Equal(t, "12,50", ds.Records[0].RawAmount)
}

func TestLoadBank_XLSX(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := "Statement"
	_, err := f.NewSheet(sheet)
	require.NoError(t, err)
	require.NoError(t, f.DeleteSheet("Sheet1"))

	rows := [][]interface{}{
		{"bank_uid", "Date", "Withdrawal (Dr.)", "der_bank_ven"},
		{"B1", 45292, 100.5, "ACME"},
		{nil, nil, nil, nil},
		{"B2", "2024-01-03", 20, "GLOBEX"},
	}
	for i, row := range rows {
		cellName, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cellName, &row))
	}

	style, err := f.NewStyle(&excelize.Style{NumFmt: 14})
	require.NoError(t, err)
	require.NoError(t, f.SetCellStyle(sheet, "B2", "B2", style))

	path := filepath.Join(t.TempDir(), "bank.xlsx")
	require.NoError(t, f.SaveAs(path))

	ds, err := newTestLoader(nil).LoadBank(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, sheet, ds.Stats.Sheet)
	require.Len(t, ds.Records, 2)
	assert.Equal(t, "45292", ds.Records[0].RawDate)
	assert.Equal(t, "100.5", ds.Records[0].RawAmount)
	assert.Equal(t, "2024-01-03", ds.Records[1].RawDate)
	assert.Equal(t, 4, ds.Records[1].Line)
}

func TestLoad_XLSXMissingSheet(t *testing.T) {
	f := excelize.NewFile()
	path := filepath.Join(t.TempDir(), "bank.xlsx")
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	profile := DefaultColumnProfile()
	profile.Bank.Sheet = "Nope"

	_, err := newTestLoader(profile).LoadBank(context.Background(), path)
	assert.True(t, errors.HasCode(err, errors.CodeInvalidFormat))
}

func TestPayload_BlankHeaders(t *testing.T) {
	p := payload([]string{"a", ""}, []string{"1", "2", "3"})
	require.Len(t, p, 3)
	assert.Equal(t, "Column 2", p[1].Name)
	assert.Equal(t, "3", p.Value("Column 3"))
}
