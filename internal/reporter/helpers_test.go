package reporter

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"bank-fin-reconciler/internal/reconciler"
	"bank-fin-reconciler/pkg/logger"

	"github.com/stretchr/testify/require"
)

const bankCSV = `bank_uid,Date,Withdrawal (Dr.),der_bank_ven,Narration
B1,05/01/2024,100.00,Acme Corp,NEFT ACME
B2,06/01/2024,150.00,Globex,NEFT GLOBEX
B3,07/01/2024,75.00,Initech,CHQ 1123
`

const financeCSV = `fin_uid,Payment Date,Credit Amount,der_fin_ven,Voucher No,Receiver Name
F1,05/01/2024,100.00,Acme Corp,V1,Jane
F2,06/01/2024,100.00,Globex,V2,Joe
F3,06/01/2024,50.00,Globex,V3,Joe
F4,09/01/2024,20.00,Umbrella,V4,Ann
`

// runOutcome reconciles the given sources and returns the outcome
func runOutcome(t *testing.T, bank, finance string) *reconciler.Outcome {
	t.Helper()

	dir := t.TempDir()
	request := &reconciler.Request{
		BankFile:    filepath.Join(dir, "bank.csv"),
		FinanceFile: filepath.Join(dir, "finance.csv"),
	}
	require.NoError(t, os.WriteFile(request.BankFile, []byte(bank), 0o644))
	require.NoError(t, os.WriteFile(request.FinanceFile, []byte(finance), 0o644))

	service, err := reconciler.NewService(nil)
	require.NoError(t, err)
	service.WithLogger(logger.NewNopLogger())

	outcome, err := service.Process(context.Background(), request)
	require.NoError(t, err)
	return outcome
}

func sampleOutcome(t *testing.T) *reconciler.Outcome {
	t.Helper()
	return runOutcome(t, bankCSV, financeCSV)
}
