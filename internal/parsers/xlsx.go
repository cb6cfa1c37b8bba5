package parsers

import (
	"fmt"
	"io"

	"bank-fin-reconciler/pkg/errors"
	"bank-fin-reconciler/pkg/logger"

	"github.com/xuri/excelize/v2"
)

// rawCells keeps numeric cells unformatted so dates arrive as Excel serials
// and amounts without display formatting.
var rawCells = excelize.Options{RawCellValue: true}

// xlsxTable reads one worksheet row by row
type xlsxTable struct {
	file      *excelize.File
	rows      *excelize.Rows
	pc        *ParseContext
	skipEmpty bool
	logger    logger.Logger
}

func openXLSX(pc *ParseContext, sheet string, skipEmpty bool, log logger.Logger) (*xlsxTable, error) {
	if err := statSource(pc.File); err != nil {
		return nil, err
	}

	file, err := excelize.OpenFile(pc.File, rawCells)
	if err != nil {
		return nil, errors.FileError(errors.CodeFileCorrupted, pc.File, err).
			WithSuggestion("make sure the file is a valid .xlsx workbook and not password protected")
	}

	sheets := file.GetSheetList()
	if sheet == "" {
		if len(sheets) == 0 {
			file.Close()
			return nil, errors.ParseError(errors.CodeInvalidFormat, pc.File, 0, "sheet", "", fmt.Errorf("workbook has no sheets"))
		}
		sheet = sheets[0]
	} else if idx, _ := file.GetSheetIndex(sheet); idx < 0 {
		file.Close()
		return nil, errors.ParseError(errors.CodeInvalidFormat, pc.File, 0, "sheet", sheet, fmt.Errorf("sheet %q not found", sheet)).
			WithSuggestion(fmt.Sprintf("available sheets: %v", sheets))
	}

	rows, err := file.Rows(sheet)
	if err != nil {
		file.Close()
		return nil, errors.ParseError(errors.CodeInvalidFormat, pc.File, 0, "sheet", sheet, err)
	}

	pc.Sheet = sheet
	log.WithFields(logger.Fields{"file_path": pc.File, "sheet": sheet}).Debug("Opened worksheet")
	return &xlsxTable{file: file, rows: rows, pc: pc, skipEmpty: skipEmpty, logger: log}, nil
}

func (t *xlsxTable) context() *ParseContext {
	return t.pc
}

func (t *xlsxTable) readHeaders() error {
	headers, err := t.next(false)
	if err == io.EOF {
		return errors.ValidationError(errors.CodeMissingField, "file_content", "empty", nil).
			WithContext("file", t.pc.File).
			WithSuggestion("Ensure the sheet contains a header row and data rows")
	}
	if err != nil {
		return err
	}
	t.pc.SetHeaders(headers)
	return nil
}

func (t *xlsxTable) readRecord() ([]string, error) {
	return t.next(t.skipEmpty)
}

func (t *xlsxTable) next(skipEmpty bool) ([]string, error) {
	for t.rows.Next() {
		if t.pc.IsCancelled() {
			return nil, errors.CancelledError("loading "+t.pc.File, t.pc.ctx.Err())
		}
		t.pc.LineNumber++

		record, err := t.rows.Columns(rawCells)
		if err != nil {
			return nil, errors.ParseError(errors.CodeInvalidData, t.pc.File, t.pc.LineNumber, "", "", err)
		}
		if skipEmpty && isEmptyRecord(record) {
			t.pc.Skipped++
			continue
		}
		return record, nil
	}
	if err := t.rows.Error(); err != nil {
		return nil, errors.FileError(errors.CodeFileCorrupted, t.pc.File, err)
	}
	return nil, io.EOF
}

func (t *xlsxTable) close() error {
	t.rows.Close()
	return t.file.Close()
}
