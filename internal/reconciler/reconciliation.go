// Package reconciler runs one bank-vs-finance reconciliation end to end.
//
// A Service loads both sources concurrently, keys every record with the
// normalizer, runs the matching engine and hands the finished Run to each
// configured Sink (workbook, result store). Progress is reported per step
// and per bank record.
//
// Example usage:
//
//	service, err := reconciler.NewService(reconciler.DefaultConfig(), workbookSink, storeSink)
//	service.AddProgressCallback(func(p reconciler.Progress) {
//		fmt.Printf("%.0f%% %s\n", p.PercentComplete, p.CurrentStep)
//	})
//	outcome, err := service.Process(ctx, &reconciler.Request{
//		BankFile:    "bank.xlsx",
//		FinanceFile: "finance.xlsx",
//	})
package reconciler

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"bank-fin-reconciler/internal/matcher"
	"bank-fin-reconciler/internal/normalizer"
	"bank-fin-reconciler/internal/parsers"
	"bank-fin-reconciler/pkg/errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Config holds configuration options for the reconciliation service
type Config struct {
	Matching   *matcher.MatchingConfig
	Normalizer normalizer.Config
	Columns    *parsers.ColumnProfile
	Parse      *parsers.ParseConfig

	// ProgressInterval throttles the per-record throughput log
	ProgressInterval time.Duration

	// Verify re-checks the partition invariants after matching
	Verify bool
}

// DefaultConfig returns a default configuration for the reconciliation service
func DefaultConfig() *Config {
	return &Config{
		Matching:         matcher.DefaultMatchingConfig(),
		Normalizer:       normalizer.DefaultConfig(),
		Columns:          parsers.DefaultColumnProfile(),
		Parse:            parsers.DefaultParseConfig(),
		ProgressInterval: 5 * time.Second,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Matching == nil {
		return errors.ConfigurationError(errors.CodeMissingConfig, "matching", nil, nil)
	}
	if err := c.Matching.Validate(); err != nil {
		return err
	}
	if c.Columns != nil {
		if err := c.Columns.Validate(); err != nil {
			return err
		}
	}

	err := validation.ValidateStruct(c,
		validation.Field(&c.ProgressInterval, validation.Min(time.Duration(0))),
		validation.Field(&c.Normalizer, validation.By(func(value interface{}) error {
			cfg, _ := value.(normalizer.Config)
			if cfg.VendorLength < 0 {
				return fmt.Errorf("vendor length must not be negative")
			}
			return nil
		})),
	)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "reconciler", err.Error(), err)
	}
	return nil
}

// Request names the two sources of one run
type Request struct {
	BankFile    string `json:"bank_file"`
	FinanceFile string `json:"finance_file"`
}

// Validate validates the reconciliation request
func (r *Request) Validate() error {
	err := validation.ValidateStruct(r,
		validation.Field(&r.BankFile, validation.Required, validation.By(supportedSource)),
		validation.Field(&r.FinanceFile, validation.Required, validation.By(supportedSource)),
	)
	if err != nil {
		return errors.ValidationError(errors.CodeMissingField, "request", err.Error(), err).
			WithSuggestion("Provide a bank file and a finance file in .csv or .xlsx format")
	}
	return nil
}

func supportedSource(value interface{}) error {
	path, _ := value.(string)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt", ".xlsx", ".xlsm":
		return nil
	}
	return fmt.Errorf("unsupported file type %q", filepath.Ext(path))
}

// Degradation holds the per-dataset normalization reports
type Degradation struct {
	Bank    *normalizer.Report `json:"bank"`
	Finance *normalizer.Report `json:"finance"`
}

// Run is one finished reconciliation: its inputs, the partition and timing.
// Sinks receive it read-only.
type Run struct {
	ID          string                  `json:"run_id"`
	StartedAt   time.Time               `json:"started_at"`
	FinishedAt  time.Time               `json:"finished_at"`
	Request     Request                 `json:"request"`
	Matching    *matcher.MatchingConfig `json:"-"`
	Bank        *parsers.BankDataset    `json:"bank"`
	Finance     *parsers.FinanceDataset `json:"finance"`
	Degradation Degradation             `json:"degradation"`
	Result      *matcher.Result         `json:"result"`
}

// MatchedRows is the number of rows a matched listing has: one per bank
// record plus one per finance member of each group.
func (r *Run) MatchedRows() int {
	if r.Result == nil {
		return 0
	}
	return r.Result.Summary.MatchedGroups + r.Result.Summary.ConsumedFinance
}

// Duration is the wall time of the run
func (r *Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Sink persists a finished run somewhere
type Sink interface {
	Name() string
	Save(ctx context.Context, run *Run) error
}

// StatusRecorder is implemented by sinks that keep the run status. Process
// calls it on the sinks that saved the run once the final status is known.
type StatusRecorder interface {
	RecordStatus(ctx context.Context, runID string, status Status) error
}

// Status is the final state of Process
type Status string

const (
	StatusCompleted    Status = "completed"
	StatusNotPersisted Status = "computed_not_persisted"
	StatusFailed       Status = "failed"
)

// SinkError records a sink that failed to save the run
type SinkError struct {
	Sink string `json:"sink"`
	Err  error  `json:"-"`
}

func (e SinkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Sink, e.Err)
}

// Outcome is what Process hands back. The Run is present whenever matching
// finished, even if some sinks failed.
type Outcome struct {
	Status     Status      `json:"status"`
	Run        *Run        `json:"run"`
	SinkErrors []SinkError `json:"sink_errors,omitempty"`
	Err        error       `json:"-"`
}

// Persisted reports whether every sink saved the run
func (o *Outcome) Persisted() bool {
	return o != nil && o.Status == StatusCompleted
}
