package cmd

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"bank-fin-reconciler/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleError_ExitCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
		help string
	}{
		{"nil", nil, 0, ""},
		{"file", errors.FileError(errors.CodeFileNotFound, "bank.csv", fs.ErrNotExist), 2, "File error help"},
		{"parse", errors.ParseError(errors.CodeMissingColumn, "bank.csv", 1, "headers", "Date", nil), 3, "Parse error help"},
		{"config", errors.ConfigurationError(errors.CodeInvalidConfig, "tolerance", "x", nil), 4, "Configuration error help"},
		{"reconciliation", errors.ReconciliationError(errors.CodeMatchingFailed, "matching", nil), 5, "Reconciliation error help"},
		{"persistence", errors.PersistenceError(errors.CodeNotPersisted, "store", nil), 7, "Persistence error help"},
		{"wrapped not found", fmt.Errorf("open: %w", fs.ErrNotExist), 2, "File not found"},
		{"permission", &fs.PathError{Op: "open", Path: "out.xlsx", Err: fs.ErrPermission}, 2, "Permission denied"},
		{"disk full", fmt.Errorf("write report: %w", syscall.ENOSPC), 2, "Insufficient disk space"},
		{"usage", fmt.Errorf(`unknown flag: --bogus`), 1, "unknown flag"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			h := newErrorHandler(&out, false)

			assert.Equal(t, tt.code, h.HandleError(tt.err))
			assert.Contains(t, out.String(), tt.help)
		})
	}
}

func TestHandleError_ContextAndVerboseCause(t *testing.T) {
	var out bytes.Buffer
	h := newErrorHandler(&out, true)

	err := errors.PersistenceError(errors.CodeNotPersisted, "store", fmt.Errorf("connection refused")).
		WithContext("run_id", "r-1").
		WithContext("failed_sinks", 1)
	h.HandleError(err)

	text := out.String()
	assert.Contains(t, text, "Context:\n  failed_sinks: 1\n  run_id: r-1\n  sink: store\n")
	assert.Contains(t, text, "Underlying error: connection refused")
	assert.NotContains(t, text, "\x1b[", "buffers never get color")
}

func TestHandleError_SystemErrorsGetFileHelp(t *testing.T) {
	var out bytes.Buffer
	h := newErrorHandler(&out, true)

	code := h.HandleError(fmt.Errorf("load bank: %w", &fs.PathError{Op: "open", Path: "bank.csv", Err: fs.ErrNotExist}))

	text := out.String()
	assert.Equal(t, 2, code)
	assert.Contains(t, text, "Error: File not found\n")
	assert.Contains(t, text, "Suggestion: Check if the file path is correct and the file exists")
	assert.Contains(t, text, "File error help")
	assert.Contains(t, text, "Underlying error: load bank: open bank.csv: file does not exist")
}

func TestWrapSystemError(t *testing.T) {
	assert.Nil(t, wrapSystemError(fmt.Errorf("unknown flag: --bogus")))

	re := wrapSystemError(syscall.ENOSPC)
	require.NotNil(t, re)
	assert.Equal(t, errors.CategoryFile, re.Category)
	assert.Equal(t, errors.CodeDiskFull, re.Code)

	re = wrapSystemError(fs.ErrPermission)
	require.NotNil(t, re)
	assert.Equal(t, errors.CodeFilePermission, re.Code)
}

func TestFormatFileError_SuggestsSimilarFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bank_jan.csv"), []byte("x"), 0o644))

	missing := filepath.Join(dir, "bank.csv")
	_, err := os.Stat(missing)

	text := FormatFileError(missing, err)
	assert.Contains(t, text, "Error with file 'bank.csv'")
	assert.Contains(t, text, "Similar files found:\n    - bank_jan.csv")
}
