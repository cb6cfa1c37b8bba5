package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestReconcilerErrorExitCodes(t *testing.T) {
	tests := []struct {
		name       string
		category   ErrorCategory
		code       ErrorCode
		cause      error
		expectCode int
	}{
		{"file error", CategoryFile, CodeFileNotFound, errors.New("no such file"), 2},
		{"parse error", CategoryParse, CodeInvalidFormat, nil, 3},
		{"validation error", CategoryValidation, CodeDuplicateID, nil, 3},
		{"configuration error", CategoryConfiguration, CodeInvalidConfig, errors.New("tolerance"), 4},
		{"cancelled", CategoryReconciliation, CodeCancelled, nil, 5},
		{"not persisted", CategoryPersistence, CodeNotPersisted, errors.New("disk full"), 7},
		{"unknown category", ErrorCategory("other"), CodeUnexpectedError, nil, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err *ReconcilerError
			if tt.cause != nil {
				err = Wrap(tt.cause, tt.category, tt.code, "message")
			} else {
				err = New(tt.category, tt.code, "message")
			}

			if err.GetExitCode() != tt.expectCode {
				t.Errorf("expected exit code %d, got %d", tt.expectCode, err.GetExitCode())
			}
			if err.StackTrace == nil {
				t.Error("expected stack trace to be captured")
			}
			if tt.cause != nil && !errors.Is(err, tt.cause) {
				t.Error("expected cause to be reachable through errors.Is")
			}
		})
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, CategoryFile, CodeFileNotFound, "x") != nil {
		t.Error("wrapping nil should return nil")
	}
	if WrapIfNeeded(nil, CategoryFile, CodeFileNotFound, "x") != nil {
		t.Error("WrapIfNeeded(nil) should return nil")
	}
}

func TestErrorMessageIncludesSuggestion(t *testing.T) {
	err := ConfigurationError(CodeInvalidConfig, "tolerance", "0", nil)

	if !strings.Contains(err.Error(), "invalid configuration for 'tolerance': 0") {
		t.Errorf("unexpected message: %s", err.Error())
	}
	if !strings.Contains(err.Error(), "(suggestion: ") {
		t.Errorf("expected suggestion in message: %s", err.Error())
	}
	if err.Context["setting"] != "tolerance" {
		t.Errorf("expected setting context, got %v", err.Context)
	}
}

func TestPersistenceError(t *testing.T) {
	cause := errors.New("database is locked")
	err := PersistenceError(CodeNotPersisted, "sqlite", cause)

	if err.Category != CategoryPersistence {
		t.Errorf("expected persistence category, got %s", err.Category)
	}
	if !strings.Contains(err.Message, "computed but not persisted") {
		t.Errorf("unexpected message: %s", err.Message)
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to be preserved")
	}
}

func TestAsReconcilerErrorThroughWrapping(t *testing.T) {
	base := CancelledError("matching", nil)
	wrapped := fmt.Errorf("run failed: %w", base)

	got, ok := AsReconcilerError(wrapped)
	if !ok {
		t.Fatal("expected to find ReconcilerError in chain")
	}
	if got.Code != CodeCancelled {
		t.Errorf("expected cancelled code, got %s", got.Code)
	}
	if !HasCode(wrapped, CodeCancelled) {
		t.Error("HasCode should see the wrapped code")
	}
	if HasCode(errors.New("plain"), CodeCancelled) {
		t.Error("HasCode should be false for plain errors")
	}
}

func TestWrapIfNeededKeepsExisting(t *testing.T) {
	original := ValidationError(CodeMissingField, "bank_uid", "", nil)
	got := WrapIfNeeded(original, CategoryInternal, CodeUnexpectedError, "other")
	if got != original {
		t.Error("expected existing ReconcilerError to be returned unchanged")
	}

	plain := errors.New("plain")
	got = WrapIfNeeded(plain, CategoryInternal, CodeUnexpectedError, "wrapped")
	if got.Category != CategoryInternal || got.Cause != plain {
		t.Errorf("expected plain error to be wrapped, got %+v", got)
	}
}

func TestRowErrorCollector(t *testing.T) {
	collector := NewRowErrorCollector(2)
	if collector.Err() != nil {
		t.Fatal("empty collector should have no error")
	}

	loc := &RowLocation{File: "/tmp/bank.csv", Line: 3, Column: "bank_uid"}
	if !collector.Add(MissingIDError(loc)) {
		t.Error("first error should allow continuing")
	}
	if collector.Add(DuplicateIDError(&RowLocation{File: "/tmp/bank.csv", Line: 5, Column: "bank_uid", Value: "B1"}, 2)) {
		t.Error("reaching the limit should stop loading")
	}

	err := collector.Err()
	if err == nil {
		t.Fatal("expected merged error")
	}
	if !strings.Contains(err.Error(), "found 2 row errors") || !strings.Contains(err.Error(), "bank.csv:5") {
		t.Errorf("unexpected merged message: %s", err.Error())
	}
	if len(collector.Errors()) != 2 {
		t.Errorf("expected 2 collected errors, got %d", len(collector.Errors()))
	}
}

func TestRowErrorUnwrapsToBase(t *testing.T) {
	rowErr := MissingIDError(&RowLocation{File: "fin.xlsx", Sheet: "Sheet1", Line: 9, Column: "fin_uid"})

	base, ok := AsReconcilerError(rowErr)
	if !ok {
		t.Fatal("expected RowError to expose its ReconcilerError")
	}
	if base.Code != CodeMissingField {
		t.Errorf("expected missing_field, got %s", base.Code)
	}
	if !strings.Contains(rowErr.Error(), "fin.xlsx[Sheet1]:9 column 'fin_uid'") {
		t.Errorf("unexpected location rendering: %s", rowErr.Error())
	}
}
