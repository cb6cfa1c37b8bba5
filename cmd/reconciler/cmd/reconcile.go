package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"bank-fin-reconciler/cmd/reconciler/config"
	"bank-fin-reconciler/internal/normalizer"
	"bank-fin-reconciler/internal/reconciler"
	"bank-fin-reconciler/internal/reporter"
	"bank-fin-reconciler/pkg/errors"
	"bank-fin-reconciler/pkg/logger"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// reconcileCmd represents the reconcile command
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Match bank debits against finance credits",
	Long: `Reconcile loads a bank statement and a finance ledger, pairs every bank
record with a finance record of the same date, vendor and amount, and then
looks for groups of finance records that add up to each remaining bank record.

Both files may be CSV or XLSX. The report is written to stdout unless
--output-file is given. --workbook writes the matched rows and the raw
sources to an XLSX workbook and --db stores the run in SQLite or PostgreSQL.

Examples:
  # Basic reconciliation
  reconciler reconcile --bank-file bank.csv --finance-file finance.csv

  # Larger groups, bounded search time, workbook output
  reconciler reconcile --bank-file bank.xlsx --finance-file fin.xlsx \
    --max-combination-size 6 --search-timeout 2s --workbook out/

  # JSON report and a stored run
  reconciler reconcile --bank-file bank.csv --finance-file fin.csv \
    --output-format json --output-file report.json --db runs.db

  # Ledgers with different header names
  reconciler reconcile --bank-file bank.csv --finance-file fin.csv --columns columns.yaml`,

	PreRunE: validateReconcileFlags,
	RunE:    runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	flags := reconcileCmd.Flags()

	// Sources
	flags.StringP(config.KeyBankFile, "b", "", "path to the bank statement, .csv or .xlsx (required)")
	flags.StringP(config.KeyFinanceFile, "f", "", "path to the finance ledger, .csv or .xlsx (required)")
	flags.String(config.KeyColumns, "", "YAML or JSON file mapping column names")
	flags.Bool(config.KeyDayFirst, false, "read ambiguous dates as DD/MM/YYYY")
	flags.Int(config.KeyVendorLength, normalizer.DefaultConfig().VendorLength, "vendor key length after normalisation")

	// Matching
	flags.String(config.KeyTolerance, "0.01", "largest allowed difference between a bank amount and a group total")
	flags.Int(config.KeyMaxCombinationSize, 10, "largest number of finance records in one group")
	flags.Duration(config.KeySearchTimeout, 0, "search budget per bank record, 0 disables it")
	flags.Bool(config.KeyNoPrune, false, "disable branch pruning in the group search")
	flags.Bool(config.KeyVerify, false, "re-check every match group after matching")

	// Output
	flags.StringP(config.KeyOutputFormat, "o", "console", "report format: console, json, csv")
	flags.String(config.KeyOutputFile, "", "report file path (default: stdout)")
	flags.String(config.KeyWorkbook, "", "write an XLSX workbook to this file or directory")
	flags.String(config.KeyDB, "", "store the run in this SQLite file or postgres:// database")
	flags.Bool(config.KeyProgress, false, "show progress on stderr")
	flags.Bool(config.KeyNoColor, false, "disable colored console output")

	for _, key := range []string{
		config.KeyBankFile, config.KeyFinanceFile, config.KeyColumns, config.KeyDayFirst,
		config.KeyVendorLength, config.KeyTolerance, config.KeyMaxCombinationSize,
		config.KeySearchTimeout, config.KeyNoPrune, config.KeyVerify, config.KeyOutputFormat,
		config.KeyOutputFile, config.KeyWorkbook, config.KeyDB, config.KeyProgress, config.KeyNoColor,
	} {
		viper.BindPFlag(key, flags.Lookup(key))
	}
}

// validateReconcileFlags reads the settings from viper so a config file or
// RECONCILER_ variables can stand in for flags
func validateReconcileFlags(cmd *cobra.Command, args []string) error {
	settings := config.FromViper(viper.GetViper())
	if err := settings.Validate(); err != nil {
		return err
	}

	if err := validateFileExists(settings.BankFile); err != nil {
		return err
	}
	if err := validateFileExists(settings.FinanceFile); err != nil {
		return err
	}
	if settings.Columns != "" {
		if err := validateFileExists(settings.Columns); err != nil {
			return err
		}
	}

	if settings.OutputFile != "" {
		dir := filepath.Dir(settings.OutputFile)
		if _, err := os.Stat(dir); err != nil {
			return errors.FileError(errors.CodeDirectoryError, dir, err).
				WithSuggestion("create the output directory first")
		}
	}
	return nil
}

func validateFileExists(filePath string) error {
	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return errors.FileError(errors.CodeFileNotFound, filePath, err).
			WithSuggestion(FormatFileError(filePath, err))
	}
	if os.IsPermission(err) {
		return errors.FileError(errors.CodeFilePermission, filePath, err)
	}
	if err != nil {
		return errors.FileError(errors.CodeFileNotFound, filePath, err)
	}

	if info.IsDir() {
		return errors.FileError(errors.CodeDirectoryError, filePath, nil).
			WithSuggestion("expected a file, got a directory")
	}

	file, err := os.Open(filePath)
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, filePath, err)
	}
	file.Close()
	return nil
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(contextOrBackground(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	settings := config.FromViper(viper.GetViper())
	log := logger.GetGlobalLogger().WithComponent("cli")

	log.WithFields(logger.Fields{
		"bank_file":     settings.BankFile,
		"finance_file":  settings.FinanceFile,
		"output_format": settings.OutputFormat,
	}).Debug("Starting reconciliation")

	reconcilerConfig, err := config.CreateReconcilerConfig(settings)
	if err != nil {
		return err
	}

	sinks, closeSinks := config.CreateSinks(settings, log)
	defer func() {
		if err := closeSinks(); err != nil {
			log.WithError(err).Warn("Failed to close store")
		}
	}()

	service, err := reconciler.NewService(reconcilerConfig, sinks...)
	if err != nil {
		return err
	}
	service.WithLogger(logger.GetGlobalLogger())

	progressOut := cmd.ErrOrStderr()
	if settings.Progress {
		service.AddProgressCallback(func(p reconciler.Progress) {
			fmt.Fprintf(progressOut, "\r[%d/%d] %s (%.1f%% complete)",
				p.CompletedSteps, p.TotalSteps, p.CurrentStep, p.PercentComplete)
		})
	}

	outcome, processErr := service.Process(ctx, &reconciler.Request{
		BankFile:    settings.BankFile,
		FinanceFile: settings.FinanceFile,
	})
	if settings.Progress {
		fmt.Fprintln(progressOut)
	}

	// a run that failed only to persist still has a result to show
	if outcome == nil {
		return processErr
	}

	if err := writeReport(cmd.OutOrStdout(), settings, outcome, log); err != nil {
		return err
	}

	for _, sink := range sinks {
		if wb, ok := sink.(*reporter.WorkbookSink); ok && !sinkFailed(outcome, wb.Name()) {
			fmt.Fprintf(cmd.ErrOrStderr(), "Workbook written: %s\n", wb.Path())
		}
	}
	return processErr
}

func sinkFailed(outcome *reconciler.Outcome, name string) bool {
	for _, se := range outcome.SinkErrors {
		if se.Sink == name {
			return true
		}
	}
	return false
}

func writeReport(stdout io.Writer, settings *config.Settings, outcome *reconciler.Outcome, log logger.Logger) error {
	// color.NoColor is set when stdout is not a terminal
	useColors := !settings.NoColor && !color.NoColor && settings.OutputFile == ""
	reportConfig := config.CreateReportConfig(settings.OutputFormat, useColors)
	generator, err := reporter.NewSafeReportGenerator(reportConfig, log)
	if err != nil {
		return err
	}

	if settings.OutputFile == "" {
		return generator.Generate(outcome, stdout)
	}

	output, err := os.Create(settings.OutputFile)
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, settings.OutputFile, err)
	}
	defer output.Close()

	if err := generator.Generate(outcome, output); err != nil {
		return err
	}
	log.WithField("output_file", settings.OutputFile).Info("Report written")
	return nil
}

// contextOrBackground keeps commands runnable from tests that call RunE
// directly
func contextOrBackground(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
