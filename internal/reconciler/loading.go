package reconciler

import (
	"context"
	"sync"
	"time"

	"bank-fin-reconciler/internal/parsers"
	"bank-fin-reconciler/pkg/errors"
	"bank-fin-reconciler/pkg/logger"
)

// load reads both sources at the same time. The first real failure cancels
// the other load and is the error reported.
func (s *Service) load(ctx context.Context, request *Request) (*parsers.BankDataset, *parsers.FinanceDataset, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg         sync.WaitGroup
		bank       *parsers.BankDataset
		finance    *parsers.FinanceDataset
		bankErr    error
		financeErr error
	)
	start := time.Now()

	wg.Add(2)
	go func() {
		defer wg.Done()
		bank, bankErr = s.loader.LoadBank(ctx, request.BankFile)
		if bankErr != nil {
			cancel()
		}
	}()
	go func() {
		defer wg.Done()
		finance, financeErr = s.loader.LoadFinance(ctx, request.FinanceFile)
		if financeErr != nil {
			cancel()
		}
	}()
	wg.Wait()

	if err := firstFailure(bankErr, financeErr); err != nil {
		return nil, nil, err
	}

	s.logger.WithFields(logger.Fields{
		"bank_records":    len(bank.Records),
		"finance_records": len(finance.Records),
		"elapsed":         time.Since(start).Round(time.Millisecond).String(),
	}).Info("Sources loaded")
	return bank, finance, nil
}

// firstFailure prefers an error that is not the cancellation it caused
func firstFailure(errs ...error) error {
	var cancelled error
	for _, err := range errs {
		if err == nil {
			continue
		}
		if errors.HasCode(err, errors.CodeCancelled) {
			if cancelled == nil {
				cancelled = err
			}
			continue
		}
		return err
	}
	return cancelled
}
