package reconciler

import (
	"bank-fin-reconciler/internal/models"
	"bank-fin-reconciler/internal/normalizer"
	"bank-fin-reconciler/pkg/logger"
)

// Preprocessor keys loaded records before matching. Cells that cannot be
// read are not errors: the record keeps a degraded key and the counts are
// logged once per dataset.
type Preprocessor struct {
	normalizer *normalizer.Normalizer
	logger     logger.Logger
}

// NewPreprocessor creates a new data preprocessor
func NewPreprocessor(config normalizer.Config, log logger.Logger) *Preprocessor {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Preprocessor{
		normalizer: normalizer.New(config),
		logger:     log.WithComponent("preprocessor"),
	}
}

// PreprocessBank keys the bank records in place
func (p *Preprocessor) PreprocessBank(records []*models.BankRecord) *normalizer.Report {
	report := p.normalizer.Bank(records)
	p.warn("bank", report)
	return report
}

// PreprocessFinance keys the finance records in place
func (p *Preprocessor) PreprocessFinance(records []*models.FinanceRecord) *normalizer.Report {
	report := p.normalizer.Finance(records)
	p.warn("finance", report)
	return report
}

func (p *Preprocessor) warn(dataset string, report *normalizer.Report) {
	fields := logger.Fields{
		"dataset": dataset,
		"records": report.Records,
	}
	if report.Degraded == 0 {
		p.logger.WithFields(fields).Debug("All keys normalized")
		return
	}

	for flag, count := range report.ByFlag {
		fields[flag] = count
	}
	fields["degraded"] = report.Degraded

	p.logger.WithFields(fields).Warn("Some records have degraded matching keys and can only match records degraded the same way")
}
