package cmd

import (
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"bank-fin-reconciler/pkg/errors"
	"bank-fin-reconciler/pkg/logger"

	"github.com/fatih/color"
	"github.com/spf13/viper"
)

// CLIErrorHandler turns command errors into a message on stderr and an
// exit code
type CLIErrorHandler struct {
	logger  logger.Logger
	out     io.Writer
	verbose bool
	label   *color.Color
}

// NewCLIErrorHandler creates a new CLI error handler
func NewCLIErrorHandler() *CLIErrorHandler {
	return newErrorHandler(os.Stderr, viper.GetBool("verbose"))
}

func newErrorHandler(out io.Writer, verbose bool) *CLIErrorHandler {
	label := color.New(color.FgRed, color.Bold)
	if _, isFile := out.(*os.File); !isFile || viper.GetBool("no-color") {
		label.DisableColor()
	}
	return &CLIErrorHandler{
		logger:  logger.GetGlobalLogger().WithComponent("cli"),
		out:     out,
		verbose: verbose,
		label:   label,
	}
}

// HandleError prints err and returns the process exit code
func (h *CLIErrorHandler) HandleError(err error) int {
	if err == nil {
		return 0
	}

	h.logger.WithError(err).Debug("Command failed")

	if !errors.IsReconcilerError(err) {
		if wrapped := wrapSystemError(err); wrapped != nil {
			err = wrapped
		}
	}
	if reconcilerErr, ok := errors.AsReconcilerError(err); ok {
		return h.handleReconcilerError(reconcilerErr)
	}
	return h.handleGenericError(err)
}

// wrapSystemError gives OS-level file failures a file category, or returns nil
func wrapSystemError(err error) *errors.ReconcilerError {
	switch {
	case isFileNotFoundError(err):
		return errors.WrapIfNeeded(err, errors.CategoryFile, errors.CodeFileNotFound, "File not found").
			WithSuggestion("Check if the file path is correct and the file exists")
	case isPermissionError(err):
		return errors.WrapIfNeeded(err, errors.CategoryFile, errors.CodeFilePermission, "Permission denied").
			WithSuggestion("Check file permissions and ensure you have read access")
	case isDiskFullError(err):
		return errors.WrapIfNeeded(err, errors.CategoryFile, errors.CodeDiskFull, "Insufficient disk space").
			WithSuggestion("Free up disk space and try again")
	}
	return nil
}

func (h *CLIErrorHandler) handleReconcilerError(err *errors.ReconcilerError) int {
	fmt.Fprintf(h.out, "%s %s\n", h.label.Sprint("Error:"), err.Message)

	if len(err.Context) > 0 {
		fmt.Fprintf(h.out, "\nContext:\n")
		for _, key := range err.SortedContextKeys() {
			fmt.Fprintf(h.out, "  %s: %v\n", key, err.Context[key])
		}
	}

	if err.Suggestion != "" {
		fmt.Fprintf(h.out, "\nSuggestion: %s\n", err.Suggestion)
	}

	fmt.Fprintf(h.out, "\n%s\n", getCategoryHelp(err.Category))

	if h.verbose && err.Cause != nil {
		fmt.Fprintf(h.out, "\nUnderlying error: %v\n", err.Cause)
	}

	return err.GetExitCode()
}

func (h *CLIErrorHandler) handleGenericError(err error) int {
	// cobra usage errors land here
	fmt.Fprintf(h.out, "%s %v\n", h.label.Sprint("Error:"), err)
	if h.verbose {
		fmt.Fprintf(h.out, "\nFor more details, check the logs\n")
	}
	return 1
}

func getCategoryHelp(category errors.ErrorCategory) string {
	switch category {
	case errors.CategoryFile:
		return `File error help:
• Check if the file exists and is readable
• Bank and finance files must be .csv or .xlsx
• Ensure you have proper permissions to access the file`

	case errors.CategoryParse:
		return `Parse error help:
• Bank files need bank_uid, Date, Withdrawal (Dr.) and der_bank_ven columns
• Finance files need fin_uid, Payment Date, Credit Amount and der_fin_ven columns
• Use --columns to map differently named headers
• Ensure the file uses UTF-8 encoding`

	case errors.CategoryValidation:
		return `Validation error help:
• Check that every record has a unique, non-empty ID
• Amounts must be plain decimal numbers
• Use --day-first for DD/MM dates`

	case errors.CategoryConfiguration:
		return `Configuration error help:
• Check your command-line flags and arguments
• Verify configuration file syntax if using --config
• Use 'reconciler reconcile --help' to see all available options`

	case errors.CategoryReconciliation:
		return `Reconciliation error help:
• Lower --max-combination-size or set --search-timeout for large candidate sets
• Run with --verbose to see the failing stage`

	case errors.CategoryPersistence:
		return `Persistence error help:
• The reconciliation result was computed and printed but not saved
• Check the --db connection string and that the database is reachable
• Check that the --workbook directory is writable`

	default:
		return `For more help:
• Use 'reconciler --help' for general help
• Use 'reconciler reconcile --help' for command-specific help`
	}
}

func isFileNotFoundError(err error) bool {
	return stderrors.Is(err, fs.ErrNotExist) || strings.Contains(err.Error(), "no such file or directory")
}

func isPermissionError(err error) bool {
	return stderrors.Is(err, fs.ErrPermission) ||
		strings.Contains(err.Error(), "permission denied") ||
		strings.Contains(err.Error(), "access denied")
}

func isDiskFullError(err error) bool {
	if stderrors.Is(err, syscall.ENOSPC) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no space left") ||
		strings.Contains(msg, "disk full")
}

// FormatFileError describes a file error and lists similarly named files
// next to the missing one
func FormatFileError(filePath string, err error) string {
	baseName := filepath.Base(filePath)
	dir := filepath.Dir(filePath)

	var message strings.Builder
	message.WriteString(fmt.Sprintf("Error with file '%s':\n", baseName))
	message.WriteString(fmt.Sprintf("  Path: %s\n", filePath))
	message.WriteString(fmt.Sprintf("  Error: %v\n", err))

	switch {
	case stderrors.Is(err, fs.ErrNotExist):
		message.WriteString("  Suggestion: Check if the file exists in the specified location\n")

		prefix := strings.ToLower(baseName[:min(len(baseName), 3)])
		if entries, dirErr := os.ReadDir(dir); dirErr == nil {
			var similar []string
			for _, entry := range entries {
				if !entry.IsDir() && strings.Contains(strings.ToLower(entry.Name()), prefix) {
					similar = append(similar, entry.Name())
				}
			}
			if len(similar) > 0 {
				message.WriteString("  Similar files found:\n")
				for _, name := range similar[:min(len(similar), 3)] {
					message.WriteString(fmt.Sprintf("    - %s\n", name))
				}
			}
		}
	case stderrors.Is(err, fs.ErrPermission):
		message.WriteString("  Suggestion: Check file permissions - you may need read access\n")
	}

	return message.String()
}
