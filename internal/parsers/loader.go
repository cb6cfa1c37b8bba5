package parsers

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"bank-fin-reconciler/internal/models"
	"bank-fin-reconciler/pkg/errors"
	"bank-fin-reconciler/pkg/logger"
)

// table is a header row followed by data rows, from any supported source.
type table interface {
	context() *ParseContext
	readHeaders() error
	readRecord() ([]string, error)
	close() error
}

// csvTable adapts BaseParser to table
type csvTable struct {
	parser *BaseParser
	file   *os.File
	reader *csv.Reader
	pc     *ParseContext
}

func (t *csvTable) context() *ParseContext { return t.pc }
func (t *csvTable) readHeaders() error { return t.parser.ReadHeaders(t.reader, t.pc) }
func (t *csvTable) readRecord() ([]string, error) { return t.parser.ReadRecord(t.reader, t.pc) }
func (t *csvTable) close() error { return t.file.Close() }

// BankDataset is a loaded bank feed
type BankDataset struct {
	Headers []string             `json:"headers"`
	Records []*models.BankRecord `json:"-"`
	Stats   ParseStats           `json:"stats"`
}

// FinanceDataset is a loaded finance feed
type FinanceDataset struct {
	Headers      []string                `json:"headers"`
	Records      []*models.FinanceRecord `json:"-"`
	Stats        ParseStats              `json:"stats"`
	HasVoucherNo bool                    `json:"has_voucher_no"`
}

// Loader reads both feeds using one column profile.
type Loader struct {
	profile *ColumnProfile
	config  *ParseConfig
	parser  *BaseParser
	logger  logger.Logger
}

// NewLoader creates a loader. A nil profile means DefaultColumnProfile.
func NewLoader(profile *ColumnProfile, log logger.Logger) *Loader {
	if profile == nil {
		profile = DefaultColumnProfile()
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	config := DefaultParseConfig()
	config.Delimiter = profile.DelimiterRune()

	return &Loader{
		profile: profile,
		config:  config,
		parser:  NewBaseParser(config, log),
		logger:  log.WithComponent("loader"),
	}
}

// WithParseConfig overrides the CSV settings; the profile delimiter still applies.
func (l *Loader) WithParseConfig(config *ParseConfig) *Loader {
	if config != nil {
		c := *config
		c.Delimiter = l.profile.DelimiterRune()
		l.config = &c
		l.parser = NewBaseParser(&c, l.logger)
	}
	return l
}

// LoadBank reads the bank feed at path
func (l *Loader) LoadBank(ctx context.Context, path string) (*BankDataset, error) {
	cols := l.profile.Bank
	sheet, err := l.readSheet(ctx, path, cols, nil)
	if err != nil {
		return nil, err
	}

	records := make([]*models.BankRecord, len(sheet.rows))
	for i, row := range sheet.rows {
		records[i] = &models.BankRecord{
			ID:        cell(row.values, sheet.index[FieldID]),
			Line:      row.line,
			RawDate:   cell(row.values, sheet.index[FieldDate]),
			RawAmount: cell(row.values, sheet.index[FieldAmount]),
			RawVendor: cell(row.values, sheet.index[FieldVendor]),
			Payload:   payload(sheet.headers, row.values),
		}
	}

	return &BankDataset{Headers: sheet.headers, Records: records, Stats: sheet.stats}, nil
}

// LoadFinance reads the finance feed at path
func (l *Loader) LoadFinance(ctx context.Context, path string) (*FinanceDataset, error) {
	cols := l.profile.Finance
	optional := map[string][]string{
		FieldVoucherNo:    cols.Candidates(FieldVoucherNo, cols.VoucherNo),
		FieldReceiverName: cols.Candidates(FieldReceiverName, cols.ReceiverName),
	}
	sheet, err := l.readSheet(ctx, path, cols.SourceColumns, optional)
	if err != nil {
		return nil, err
	}

	records := make([]*models.FinanceRecord, len(sheet.rows))
	for i, row := range sheet.rows {
		records[i] = &models.FinanceRecord{
			ID:           cell(row.values, sheet.index[FieldID]),
			Line:         row.line,
			RawDate:      cell(row.values, sheet.index[FieldDate]),
			RawAmount:    cell(row.values, sheet.index[FieldAmount]),
			RawVendor:    cell(row.values, sheet.index[FieldVendor]),
			VoucherNo:    cell(row.values, sheet.index[FieldVoucherNo]),
			ReceiverName: cell(row.values, sheet.index[FieldReceiverName]),
			Payload:      payload(sheet.headers, row.values),
		}
	}

	_, hasVoucher := sheet.found[FieldVoucherNo]
	return &FinanceDataset{
		Headers:      sheet.headers,
		Records:      records,
		Stats:        sheet.stats,
		HasVoucherNo: hasVoucher,
	}, nil
}

type sheetRow struct {
	line   int
	values []string
}

type sheetData struct {
	headers []string
	rows    []sheetRow
	index   map[string]int
	found   map[string]string
	stats   ParseStats
}

// readSheet opens path, resolves the profile columns against the header
// row and reads every data row. Rows with a blank or repeated id are
// collected and returned together as one error.
func (l *Loader) readSheet(ctx context.Context, path string, cols SourceColumns, optional map[string][]string) (*sheetData, error) {
	t, err := l.open(ctx, path, cols.Sheet)
	if err != nil {
		return nil, err
	}
	defer t.close()

	pc := t.context()
	if err := t.readHeaders(); err != nil {
		return nil, err
	}

	data := &sheetData{
		headers: pc.Headers,
		index:   make(map[string]int),
		found:   make(map[string]string),
		stats:   ParseStats{File: path, Sheet: pc.Sheet},
	}

	required := []struct{ field, name string }{
		{FieldID, cols.ID},
		{FieldDate, cols.Date},
		{FieldAmount, cols.Amount},
		{FieldVendor, cols.Vendor},
	}
	var missing []string
	for _, c := range required {
		idx, header := pc.ResolveColumn(cols.Candidates(c.field, c.name)...)
		if idx < 0 {
			missing = append(missing, c.name)
			continue
		}
		data.index[c.field] = idx
		data.found[c.field] = header
	}
	if len(missing) > 0 {
		return nil, errors.ParseError(errors.CodeMissingColumn, path, pc.LineNumber, "headers", strings.Join(missing, ", "), nil).
			WithContext("available_headers", pc.Headers).
			WithSuggestion(fmt.Sprintf("add the columns %s or map them in a --columns profile", strings.Join(missing, ", ")))
	}

	for field, names := range optional {
		data.index[field] = -1
		if idx, header := pc.ResolveColumn(names...); idx >= 0 {
			data.index[field] = idx
			data.found[field] = header
		}
	}

	collector := errors.NewRowErrorCollector(l.config.MaxRowErrors)
	firstLine := make(map[string]int)
	idColumn := data.found[FieldID]

	for {
		record, err := t.readRecord()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		id := cell(record, data.index[FieldID])
		switch line, seen := firstLine[id]; {
		case id == "":
			if !collector.Add(errors.MissingIDError(pc.Location(idColumn, ""))) {
				return nil, collector.Err()
			}
			continue
		case seen:
			if !collector.Add(errors.DuplicateIDError(pc.Location(idColumn, id), line)) {
				return nil, collector.Err()
			}
			continue
		}

		firstLine[id] = pc.LineNumber
		data.rows = append(data.rows, sheetRow{line: pc.LineNumber, values: record})
	}

	data.stats.TotalLines = pc.LineNumber
	data.stats.RecordsParsed = len(data.rows)
	data.stats.EmptySkipped = pc.Skipped
	data.stats.ErrorCount = len(collector.Errors())

	if err := collector.Err(); err != nil {
		return nil, err
	}

	l.logger.WithFields(logger.Fields{
		"file_path": path,
		"sheet":     pc.Sheet,
		"records":   data.stats.RecordsParsed,
		"skipped":   data.stats.EmptySkipped,
	}).Info("Loaded source file")
	return data, nil
}

// open dispatches on the file extension
func (l *Loader) open(ctx context.Context, path, sheet string) (table, error) {
	pc := NewParseContext(ctx, path)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt":
		file, reader, err := l.parser.OpenFile(path)
		if err != nil {
			return nil, err
		}
		return &csvTable{parser: l.parser, file: file, reader: reader, pc: pc}, nil
	case ".xlsx", ".xlsm":
		return openXLSX(pc, sheet, l.config.SkipEmptyRows, l.logger)
	default:
		return nil, errors.FileError(errors.CodeUnsupportedExt, path, nil)
	}
}

// payload pairs every header with its cell. Blank headers get a positional
// name so no value is dropped.
func payload(headers []string, values []string) models.Payload {
	width := len(headers)
	if len(values) > width {
		width = len(values)
	}

	out := make(models.Payload, width)
	for i := 0; i < width; i++ {
		name := ""
		if i < len(headers) {
			name = headers[i]
		}
		if name == "" {
			name = fmt.Sprintf("Column %d", i+1)
		}
		out[i] = models.Field{Name: name, Value: cell(values, i)}
	}
	return out
}
