package reporter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"bank-fin-reconciler/internal/models"
	"bank-fin-reconciler/internal/reconciler"
	"bank-fin-reconciler/pkg/errors"
	"bank-fin-reconciler/pkg/logger"

	"github.com/xuri/excelize/v2"
)

// Sheet names of the reconciliation workbook, in tab order
const (
	SheetMatched          = "Matched"
	SheetUnmatchedBank    = "Unmatched_Bank"
	SheetUnmatchedFinance = "Unmatched_Finance"
	SheetBankMaster       = "Normalized_Bank_Master"
	SheetFinanceMaster    = "Normalized_Fin_Master"
)

// WorkbookSheets lists the sheets in the order they are written
var WorkbookSheets = []string{
	SheetMatched,
	SheetUnmatchedBank,
	SheetUnmatchedFinance,
	SheetBankMaster,
	SheetFinanceMaster,
}

// DefaultWorkbookName is the file name used when only a directory is given
func DefaultWorkbookName(t time.Time) string {
	return fmt.Sprintf("Reconciled_Bank_Fin_%s.xlsx", t.Format("20060102_150405"))
}

// WorkbookSink writes every run to an .xlsx workbook
type WorkbookSink struct {
	path   string
	dir    string
	logger logger.Logger

	mu      sync.Mutex
	written string
}

// NewWorkbookSink creates a sink for target. A target ending in .xlsx is
// used as the file path; anything else is a directory that receives a
// timestamped file per run.
func NewWorkbookSink(target string, log logger.Logger) *WorkbookSink {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	s := &WorkbookSink{logger: log.WithComponent("workbook")}
	if strings.EqualFold(filepath.Ext(target), ".xlsx") {
		s.path = target
	} else {
		s.dir = target
		if s.dir == "" {
			s.dir = "."
		}
	}
	return s
}

// Name implements reconciler.Sink
func (s *WorkbookSink) Name() string {
	return "workbook"
}

// Save implements reconciler.Sink
func (s *WorkbookSink) Save(ctx context.Context, run *reconciler.Run) error {
	if err := ctx.Err(); err != nil {
		return errors.CancelledError("writing workbook", err)
	}

	path := s.path
	if path == "" {
		path = filepath.Join(s.dir, DefaultWorkbookName(run.FinishedAt))
	}
	if err := WriteWorkbook(run, path); err != nil {
		return err
	}

	s.mu.Lock()
	s.written = path
	s.mu.Unlock()

	s.logger.WithFields(logger.Fields{
		"file_path": path,
		"run_id":    run.ID,
	}).Info("Workbook written")
	return nil
}

// Path returns the file written by the last successful Save
func (s *WorkbookSink) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// WriteWorkbook writes the five reconciliation sheets to path. Cells keep
// the raw text of the source rows.
func WriteWorkbook(run *reconciler.Run, path string) error {
	if run == nil || run.Result == nil {
		return errors.ValidationError(errors.CodeMissingField, "run", nil, nil)
	}

	matched, err := BuildMatchedRows(run)
	if err != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "workbook", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.FileError(errors.CodeDirectoryError, dir, err)
		}
	}

	f := excelize.NewFile()
	defer f.Close()

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "workbook", err)
	}

	sheets := workbookSheets(run, matched)
	for i, name := range WorkbookSheets {
		if i == 0 {
			err = f.SetSheetName(f.GetSheetName(0), name)
		} else {
			_, err = f.NewSheet(name)
		}
		if err != nil {
			return errors.InternalError(errors.CodeUnexpectedError, "workbook", err)
		}

		table := sheets[name]
		if err := writeSheet(f, name, table.headers, table.rows, bold); err != nil {
			return errors.InternalError(errors.CodeUnexpectedError, "workbook", err).
				WithContext("sheet", name)
		}
	}
	f.SetActiveSheet(0)

	if err := f.SaveAs(path); err != nil {
		if os.IsPermission(err) {
			return errors.FileError(errors.CodeFilePermission, path, err)
		}
		return errors.FileError(errors.CodeDirectoryError, path, err)
	}
	return nil
}

type sheetTable struct {
	headers []string
	rows    [][]interface{}
}

func workbookSheets(run *reconciler.Run, matched []MatchedRow) map[string]sheetTable {
	var bankHeaders, financeHeaders []string
	var allBank []*models.BankRecord
	var allFinance []*models.FinanceRecord
	if run.Bank != nil {
		bankHeaders, allBank = run.Bank.Headers, run.Bank.Records
	}
	if run.Finance != nil {
		financeHeaders, allFinance = run.Finance.Headers, run.Finance.Records
	}

	matchedRows := make([][]interface{}, len(matched))
	for i, r := range matched {
		matchedRows[i] = toCells(r.Values())
	}

	return map[string]sheetTable{
		SheetMatched:          {headers: MatchedHeaders, rows: matchedRows},
		SheetUnmatchedBank:    rawTable(bankHeaders, bankPayloads(run.Result.UnmatchedBank), true),
		SheetUnmatchedFinance: rawTable(financeHeaders, financePayloads(run.Result.UnmatchedFinance), true),
		SheetBankMaster:       rawTable(bankHeaders, bankPayloads(allBank), false),
		SheetFinanceMaster:    rawTable(financeHeaders, financePayloads(allFinance), false),
	}
}

// rawTable lays out source rows under their original headers, optionally
// followed by a false match flag.
func rawTable(headers []string, payloads []models.Payload, flag bool) sheetTable {
	cols := payloadHeaders(headers, payloads)
	out := sheetTable{headers: cols, rows: make([][]interface{}, len(payloads))}
	if flag {
		out.headers = append(append([]string(nil), cols...), MatchFlagColumn)
	}

	for i, p := range payloads {
		row := toCells(payloadValues(p, len(cols)))
		if flag {
			row = append(row, false)
		}
		out.rows[i] = row
	}
	return out
}

func toCells(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func writeSheet(f *excelize.File, sheet string, headers []string, rows [][]interface{}, headerStyle int) error {
	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return err
	}

	header := make([]interface{}, len(headers))
	for i, h := range headers {
		header[i] = excelize.Cell{StyleID: headerStyle, Value: h}
	}
	if err := sw.SetRow("A1", header); err != nil {
		return err
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, row); err != nil {
			return err
		}
	}
	return sw.Flush()
}
