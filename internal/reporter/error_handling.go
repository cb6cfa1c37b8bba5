package reporter

import (
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"bank-fin-reconciler/internal/reconciler"
	"bank-fin-reconciler/pkg/errors"
	"bank-fin-reconciler/pkg/logger"
)

// SafeReportGenerator wraps ReportGenerator with logging and fallbacks. A
// report that cannot be produced in the requested format is written as a
// console report instead; a report whose file cannot be written goes to a
// _backup file next to it.
type SafeReportGenerator struct {
	*ReportGenerator
	logger logger.Logger
}

// NewSafeReportGenerator creates a new safe report generator
func NewSafeReportGenerator(config *ReportConfig, log logger.Logger) (*SafeReportGenerator, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	generator, err := NewReportGenerator(config)
	if err != nil {
		return nil, errors.ConfigurationError(
			errors.CodeInvalidConfig,
			"report",
			config,
			err,
		).WithSuggestion("Use one of the formats console, json or csv")
	}

	return &SafeReportGenerator{
		ReportGenerator: generator,
		logger:          log.WithComponent("reporter"),
	}, nil
}

// Generate writes the report of outcome to writer, falling back where it can
func (srg *SafeReportGenerator) Generate(outcome *reconciler.Outcome, writer io.Writer) error {
	log := srg.logger.WithFields(logger.Fields{
		"format": srg.config.Format,
		"output": describeWriter(writer),
	})
	log.Debug("Generating report")

	if err := srg.validateInputs(outcome, writer); err != nil {
		log.WithError(err).Error("Report not generated")
		return err
	}

	if err := srg.generateWithFallback(outcome, writer); err != nil {
		log.WithError(err).Error("Report generation failed")
		return err
	}

	log.Debug("Report generated")
	return nil
}

func (srg *SafeReportGenerator) validateInputs(outcome *reconciler.Outcome, writer io.Writer) error {
	if outcome == nil || outcome.Run == nil || outcome.Run.Result == nil {
		return errors.ValidationError(
			errors.CodeMissingField,
			"outcome",
			nil,
			nil,
		).WithSuggestion("Reports can only be generated for a run that finished matching")
	}
	if writer == nil {
		return errors.ValidationError(
			errors.CodeMissingField,
			"writer",
			nil,
			nil,
		).WithSuggestion("Provide a valid output writer")
	}
	return nil
}

func (srg *SafeReportGenerator) generateWithFallback(outcome *reconciler.Outcome, writer io.Writer) error {
	err := srg.GenerateReport(outcome, writer)
	if err == nil {
		return nil
	}

	srg.logger.WithError(err).Warn("Report generation failed, attempting fallback")

	if file, ok := writer.(*os.File); ok && file.Name() != "" && isFileError(err) {
		return srg.generateToBackup(outcome, file.Name(), err)
	}
	if srg.config.Format != FormatConsole {
		return srg.generateAsConsole(outcome, writer, err)
	}
	return wrapGenerationError(err)
}

func (srg *SafeReportGenerator) generateAsConsole(outcome *reconciler.Outcome, writer io.Writer, cause error) error {
	fallback := *srg.config
	fallback.Format = FormatConsole
	fallback.UseColors = false

	generator, err := NewReportGenerator(&fallback)
	if err != nil {
		return wrapGenerationError(cause)
	}

	srg.logger.WithField("fallback_format", FormatConsole).Info("Writing console report instead")
	fmt.Fprintf(writer, "NOTE: %s report could not be generated, showing console report\n", srg.config.Format)
	fmt.Fprintf(writer, "Original error: %v\n\n", cause)

	if err := generator.GenerateReport(outcome, writer); err != nil {
		return errors.InternalError(
			errors.CodeUnexpectedError,
			"report_fallback",
			fmt.Errorf("primary=%v, fallback=%v", cause, err),
		)
	}
	return nil
}

func (srg *SafeReportGenerator) generateToBackup(outcome *reconciler.Outcome, original string, cause error) error {
	backup := BackupPath(original)
	srg.logger.WithFields(logger.Fields{
		"original_file": original,
		"backup_file":   backup,
	}).Info("Writing report to backup file")

	f, err := os.Create(backup)
	if err != nil {
		return wrapGenerationError(cause)
	}
	defer f.Close()

	if err := srg.GenerateReport(outcome, f); err != nil {
		return errors.InternalError(
			errors.CodeUnexpectedError,
			"report_backup",
			fmt.Errorf("primary=%v, backup=%v", cause, err),
		)
	}

	fmt.Fprintf(os.Stderr, "Warning: could not write to %s, report saved to %s\n", original, backup)
	return nil
}

// BackupPath returns the _backup sibling of path
func BackupPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "_backup" + ext
}

func wrapGenerationError(err error) error {
	if re, ok := errors.AsReconcilerError(err); ok {
		return re
	}
	return errors.InternalError(
		errors.CodeUnexpectedError,
		"report_generation",
		err,
	).WithSuggestion("Check the output destination and report format settings")
}

func isFileError(err error) bool {
	for _, target := range []error{fs.ErrPermission, fs.ErrNotExist, fs.ErrClosed} {
		if stderrors.Is(err, target) {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no space left") || strings.Contains(msg, "disk full")
}

func describeWriter(writer io.Writer) string {
	if f, ok := writer.(*os.File); ok && f.Name() != "" {
		return "file:" + f.Name()
	}
	return fmt.Sprintf("writer:%T", writer)
}
