package errors

import (
	"fmt"
	"path/filepath"
	"strings"
)

// RowLocation pinpoints a cell in a source sheet
type RowLocation struct {
	File   string `json:"file"`
	Sheet  string `json:"sheet,omitempty"`
	Line   int    `json:"line"`
	Column string `json:"column,omitempty"`
	Value  string `json:"value,omitempty"`
}

func (l *RowLocation) String() string {
	location := filepath.Base(l.File)
	if l.Sheet != "" {
		location += "[" + l.Sheet + "]"
	}
	if l.Line > 0 {
		location += fmt.Sprintf(":%d", l.Line)
	}
	if l.Column != "" {
		location += fmt.Sprintf(" column '%s'", l.Column)
	}
	return location
}

// RowError is a ReconcilerError tied to one source row
type RowError struct {
	*ReconcilerError
	Location *RowLocation `json:"location"`
}

func (e *RowError) Error() string {
	if e.Location == nil {
		return e.ReconcilerError.Error()
	}
	return fmt.Sprintf("%s at %s", e.ReconcilerError.Error(), e.Location)
}

// Unwrap exposes the base error so AsReconcilerError sees through a RowError.
func (e *RowError) Unwrap() error {
	return e.ReconcilerError
}

// NewRowError attaches a location to an existing error.
func NewRowError(base *ReconcilerError, location *RowLocation) *RowError {
	if location != nil {
		base.WithContext("file", location.File).
			WithContext("line", location.Line)
		if location.Column != "" {
			base.WithContext("column", location.Column)
		}
	}
	return &RowError{ReconcilerError: base, Location: location}
}

// MissingIDError reports a row whose identifier cell is blank.
func MissingIDError(location *RowLocation) *RowError {
	return NewRowError(ValidationError(CodeMissingField, location.Column, "", nil), location).
		withSuggestion("every row needs a unique identifier; fill it in or delete the row")
}

// DuplicateIDError reports an identifier seen on an earlier row.
func DuplicateIDError(location *RowLocation, firstLine int) *RowError {
	err := NewRowError(ValidationError(CodeDuplicateID, location.Column, location.Value, nil), location)
	err.WithContext("first_seen_line", firstLine)
	return err
}

func (e *RowError) withSuggestion(suggestion string) *RowError {
	e.ReconcilerError.WithSuggestion(suggestion)
	return e
}

// RowErrorCollector gathers row errors up to a limit so a load can report
// several problems at once instead of stopping at the first.
type RowErrorCollector struct {
	errors    []*RowError
	maxErrors int
}

// NewRowErrorCollector creates a collector; maxErrors <= 0 means unlimited.
func NewRowErrorCollector(maxErrors int) *RowErrorCollector {
	return &RowErrorCollector{maxErrors: maxErrors}
}

// Add records err and reports whether loading should continue.
func (c *RowErrorCollector) Add(err *RowError) bool {
	if err == nil {
		return true
	}
	c.errors = append(c.errors, err)
	return c.maxErrors <= 0 || len(c.errors) < c.maxErrors
}

// HasErrors returns true if any errors have been collected
func (c *RowErrorCollector) HasErrors() bool {
	return len(c.errors) > 0
}

// Errors returns the collected errors in insertion order
func (c *RowErrorCollector) Errors() []*RowError {
	return c.errors
}

// Err folds the collected errors into a single error, or nil.
func (c *RowErrorCollector) Err() error {
	switch len(c.errors) {
	case 0:
		return nil
	case 1:
		return c.errors[0]
	}
	first := c.errors[0]
	merged := New(first.Category, first.Code, FormatRowErrors(c.errors)).
		WithSuggestion(first.Suggestion).
		WithContext("error_count", len(c.errors))
	return merged
}

// FormatRowErrors renders row errors grouped by file for terminal output.
func FormatRowErrors(errs []*RowError) string {
	if len(errs) == 0 {
		return "no row errors"
	}

	const maxPerFile = 3
	var lines []string
	lines = append(lines, fmt.Sprintf("found %d row errors:", len(errs)))

	var order []string
	byFile := make(map[string][]*RowError)
	for _, err := range errs {
		file := "unknown"
		if err.Location != nil {
			file = filepath.Base(err.Location.File)
		}
		if _, seen := byFile[file]; !seen {
			order = append(order, file)
		}
		byFile[file] = append(byFile[file], err)
	}

	for _, file := range order {
		fileErrors := byFile[file]
		lines = append(lines, fmt.Sprintf("  %s (%d errors)", file, len(fileErrors)))
		for i, err := range fileErrors {
			if i == maxPerFile {
				lines = append(lines, fmt.Sprintf("    ... and %d more", len(fileErrors)-maxPerFile))
				break
			}
			lines = append(lines, "    "+err.Error())
		}
	}

	return strings.Join(lines, "\n")
}
