// Package parsers loads the bank and finance feeds from CSV or Excel files.
//
// Both feeds are tabular with a header row. Columns are located by name
// (case-insensitive, with aliases from the column profile), every row keeps
// its full payload in column order for pass-through output, and the date,
// amount and vendor cells are captured raw for the normalizer.
//
// Supported sources:
//   - .csv: read through BaseParser with UTF-8 validation
//   - .xlsx, .xlsm: read through excelize, first sheet unless the profile names one
//
// Example usage:
//
//	loader := NewLoader(DefaultColumnProfile(), nil)
//	bank, err := loader.LoadBank(ctx, "bank.xlsx")
//	finance, err := loader.LoadFinance(ctx, "finance.csv")
//	fmt.Println(bank.Stats)
//
// Row problems such as blank or repeated identifiers are collected up to a
// limit and reported together, so one run shows every bad line at once.
package parsers

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"bank-fin-reconciler/pkg/errors"
	"bank-fin-reconciler/pkg/logger"
)

// ParseConfig holds configuration for CSV parsing
type ParseConfig struct {
	Delimiter        rune
	Comment          rune
	TrimLeadingSpace bool
	SkipEmptyRows    bool
	MaxFieldSize     int
	ValidateEncoding bool
	MaxRowErrors     int
}

// DefaultParseConfig returns a configuration with sensible defaults
func DefaultParseConfig() *ParseConfig {
	return &ParseConfig{
		Delimiter:        ',',
		TrimLeadingSpace: true,
		SkipEmptyRows:    true,
		MaxFieldSize:     1000000, // 1MB per field
		ValidateEncoding: true,
		MaxRowErrors:     50,
	}
}

// BaseParser provides common CSV parsing functionality
type BaseParser struct {
	config *ParseConfig
	logger logger.Logger
}

// NewBaseParser creates a new BaseParser with the given configuration
func NewBaseParser(config *ParseConfig, log logger.Logger) *BaseParser {
	if config == nil {
		config = DefaultParseConfig()
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	log = log.WithComponent("base_parser")
	log.WithFields(logger.Fields{
		"delimiter":         string(config.Delimiter),
		"validate_encoding": config.ValidateEncoding,
		"max_field_size":    config.MaxFieldSize,
	}).Debug("Created base parser")

	return &BaseParser{
		config: config,
		logger: log,
	}
}

// ParseContext holds state during parsing operations
type ParseContext struct {
	File       string
	Sheet      string
	LineNumber int
	Skipped    int
	Headers    []string
	HeaderMap  map[string]int
	ctx        context.Context
}

// NewParseContext creates a new parsing context
func NewParseContext(ctx context.Context, file string) *ParseContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return &ParseContext{
		File:      file,
		Headers:   make([]string, 0),
		HeaderMap: make(map[string]int),
		ctx:       ctx,
	}
}

// IsCancelled checks if the parsing context has been cancelled
func (pc *ParseContext) IsCancelled() bool {
	select {
	case <-pc.ctx.Done():
		return true
	default:
		return false
	}
}

// SetHeaders trims the header cells and rebuilds the lookup map. The first
// occurrence wins when a header repeats.
func (pc *ParseContext) SetHeaders(headers []string) {
	pc.Headers = make([]string, len(headers))
	pc.HeaderMap = make(map[string]int, len(headers))
	for i, header := range headers {
		header = strings.TrimSpace(strings.TrimPrefix(header, "\ufeff"))
		pc.Headers[i] = header
		if _, exists := pc.HeaderMap[header]; !exists {
			pc.HeaderMap[header] = i
		}
	}
}

// GetColumnIndex returns the index of a column by name, or -1 if not found
func (pc *ParseContext) GetColumnIndex(name string) int {
	if index, exists := pc.HeaderMap[name]; exists {
		return index
	}

	// Try case-insensitive lookup
	for i, header := range pc.Headers {
		if strings.EqualFold(header, name) {
			return i
		}
	}

	return -1
}

// ResolveColumn finds the first of names present in the header row.
func (pc *ParseContext) ResolveColumn(names ...string) (int, string) {
	for _, name := range names {
		if name == "" {
			continue
		}
		if index := pc.GetColumnIndex(name); index >= 0 {
			return index, pc.Headers[index]
		}
	}
	return -1, ""
}

// Location builds a row location for errors
func (pc *ParseContext) Location(column, value string) *errors.RowLocation {
	return &errors.RowLocation{
		File:   pc.File,
		Sheet:  pc.Sheet,
		Line:   pc.LineNumber,
		Column: column,
		Value:  value,
	}
}

// OpenFile opens a CSV file and returns a csv.Reader
func (bp *BaseParser) OpenFile(filePath string) (*os.File, *csv.Reader, error) {
	bp.logger.WithField("file_path", filePath).Debug("Opening CSV file")

	file, err := openSource(filePath)
	if err != nil {
		bp.logger.WithError(err).WithField("file_path", filePath).Error("Failed to open CSV file")
		return nil, nil, err
	}

	if bp.config.ValidateEncoding {
		if err := bp.validateEncoding(file, filePath); err != nil {
			file.Close()
			bp.logger.WithError(err).WithField("file_path", filePath).Error("File encoding validation failed")
			return nil, nil, err
		}

		if _, err := file.Seek(0, io.SeekStart); err != nil {
			file.Close()
			return nil, nil, errors.FileError(errors.CodeFileCorrupted, filePath, err)
		}
	}

	reader := csv.NewReader(file)
	bp.configureReader(reader)
	return file, reader, nil
}

// openSource maps os errors to file errors
func openSource(filePath string) (*os.File, error) {
	file, err := os.Open(filePath)
	if err == nil {
		return file, nil
	}
	if os.IsNotExist(err) {
		return nil, errors.FileError(errors.CodeFileNotFound, filePath, err)
	}
	if os.IsPermission(err) {
		return nil, errors.FileError(errors.CodeFilePermission, filePath, err)
	}
	return nil, errors.FileError(errors.CodeDirectoryError, filePath, err)
}

// statSource checks that filePath can be opened for reading
func statSource(filePath string) error {
	file, err := openSource(filePath)
	if err != nil {
		return err
	}
	return file.Close()
}

// configureReader sets up the CSV reader with our configuration
func (bp *BaseParser) configureReader(reader *csv.Reader) {
	reader.Comma = bp.config.Delimiter
	reader.Comment = bp.config.Comment
	reader.TrimLeadingSpace = bp.config.TrimLeadingSpace
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
}

// validateEncoding checks if the file contains valid UTF-8 text
func (bp *BaseParser) validateEncoding(file *os.File, filePath string) error {
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), bp.config.MaxFieldSize+1)
	lineNum := 0

	for scanner.Scan() && lineNum < 100 { // Check first 100 lines
		lineNum++
		if !utf8.Valid(scanner.Bytes()) {
			return errors.ParseError(
				errors.CodeEncodingError,
				filePath,
				lineNum,
				"encoding",
				"",
				fmt.Errorf("invalid UTF-8 encoding detected"),
			)
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.FileError(errors.CodeFileCorrupted, filePath, err)
	}

	return nil
}

// ReadHeaders reads the header row
func (bp *BaseParser) ReadHeaders(reader *csv.Reader, parseCtx *ParseContext) error {
	headers, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return errors.ValidationError(errors.CodeMissingField, "file_content", "empty", nil).
				WithContext("file", parseCtx.File).
				WithSuggestion("Ensure the file contains a header row and data rows")
		}
		return errors.ParseError(errors.CodeInvalidFormat, parseCtx.File, 1, "headers", "", err).
			WithSuggestion("Check the file format and ensure it's a valid CSV")
	}

	parseCtx.LineNumber++
	parseCtx.SetHeaders(headers)
	bp.logger.WithField("headers", parseCtx.Headers).Debug("Successfully read headers")
	return nil
}

// ReadRecord reads the next non-empty record. It returns io.EOF at the end.
func (bp *BaseParser) ReadRecord(reader *csv.Reader, parseCtx *ParseContext) ([]string, error) {
	for {
		if parseCtx.IsCancelled() {
			return nil, errors.CancelledError("loading "+parseCtx.File, parseCtx.ctx.Err())
		}

		record, err := reader.Read()
		if err != nil {
			if err == io.EOF {
				return nil, err
			}
			return nil, errors.ParseError(errors.CodeInvalidFormat, parseCtx.File, parseCtx.LineNumber+1, "", "", err)
		}

		parseCtx.LineNumber++

		if bp.config.SkipEmptyRows && isEmptyRecord(record) {
			parseCtx.Skipped++
			continue
		}

		if bp.config.MaxFieldSize > 0 {
			for i, field := range record {
				if len(field) > bp.config.MaxFieldSize {
					return nil, errors.ParseError(
						errors.CodeInvalidData,
						parseCtx.File,
						parseCtx.LineNumber,
						fmt.Sprintf("field_%d", i),
						field[:50]+"...",
						fmt.Errorf("field size limit exceeded"),
					).WithSuggestion(fmt.Sprintf("Reduce field size to under %d bytes", bp.config.MaxFieldSize))
				}
			}
		}

		return record, nil
	}
}

// isEmptyRecord checks if all fields in a record are empty or whitespace
func isEmptyRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

// cell returns the trimmed value at index, or "" for short rows
func cell(record []string, index int) string {
	if index < 0 || index >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[index])
}

// ParseStats holds statistics about a load
type ParseStats struct {
	File          string `json:"file"`
	Sheet         string `json:"sheet,omitempty"`
	TotalLines    int    `json:"total_lines"`
	RecordsParsed int    `json:"records_parsed"`
	EmptySkipped  int    `json:"empty_skipped"`
	ErrorCount    int    `json:"error_count"`
}

// String returns a human-readable summary of parsing statistics
func (ps *ParseStats) String() string {
	return fmt.Sprintf("Parsed %d lines, %d records, %d errors",
		ps.TotalLines, ps.RecordsParsed, ps.ErrorCount)
}
