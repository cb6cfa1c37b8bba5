// Package reporter renders reconciliation runs for people and for other
// programs.
//
// Supported output formats:
//   - Console: sectioned text for a terminal, coloured when enabled
//   - JSON: the full run, for programmatic consumption
//   - CSV: the matched listing, one line per bank or finance row
//
// The workbook sink in this package writes the same run to an .xlsx file
// with the Matched, Unmatched_Bank, Unmatched_Finance and two master sheets.
//
// Example usage:
//
//	generator, err := reporter.NewReportGenerator(&reporter.ReportConfig{Format: reporter.FormatJSON})
//	err = generator.GenerateReport(outcome, os.Stdout)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"bank-fin-reconciler/internal/matcher"
	"bank-fin-reconciler/internal/normalizer"
	"bank-fin-reconciler/internal/reconciler"

	"github.com/fatih/color"
	"github.com/shopspring/decimal"
)

// OutputFormat represents the supported report output formats.
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV:
		return true
	default:
		return false
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format"`

	// Detail level options
	IncludeMatchedGroups    bool `json:"include_matched_groups"`
	IncludeUnmatchedBank    bool `json:"include_unmatched_bank"`
	IncludeUnmatchedFinance bool `json:"include_unmatched_finance"`
	IncludeDataQuality      bool `json:"include_data_quality"`
	IncludeProcessingStats  bool `json:"include_processing_stats"`

	// Console formatting options
	UseColors    bool `json:"use_colors"`
	MaxListItems int  `json:"max_list_items"`

	// CSV options
	CSVDelimiter rune `json:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:                  FormatConsole,
		IncludeMatchedGroups:    false,
		IncludeUnmatchedBank:    true,
		IncludeUnmatchedFinance: true,
		IncludeDataQuality:      true,
		IncludeProcessingStats:  true,
		UseColors:               true,
		MaxListItems:            10,
		CSVDelimiter:            ',',
		CSVHeaders:              true,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}
	if c.MaxListItems < 0 {
		return fmt.Errorf("max list items must not be negative, got %d", c.MaxListItems)
	}
	return nil
}

// ReportGenerator generates reconciliation reports in various formats
type ReportGenerator struct {
	config *ReportConfig

	title   *color.Color
	section *color.Color
	good    *color.Color
	warn    *color.Color
	bad     *color.Color
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}
	if config.CSVDelimiter == 0 {
		config.CSVDelimiter = ','
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}

	rg := &ReportGenerator{
		config:  config,
		title:   color.New(color.Bold),
		section: color.New(color.FgCyan, color.Bold),
		good:    color.New(color.FgGreen),
		warn:    color.New(color.FgYellow),
		bad:     color.New(color.FgRed, color.Bold),
	}
	for _, c := range []*color.Color{rg.title, rg.section, rg.good, rg.warn, rg.bad} {
		if config.UseColors {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return rg, nil
}

// GenerateReport writes a report of outcome to writer
func (rg *ReportGenerator) GenerateReport(outcome *reconciler.Outcome, writer io.Writer) error {
	if outcome == nil || outcome.Run == nil || outcome.Run.Result == nil {
		return fmt.Errorf("reconciliation outcome cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsoleReport(outcome, writer)
	case FormatJSON:
		return rg.generateJSONReport(outcome, writer)
	case FormatCSV:
		return rg.generateCSVReport(outcome, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

// generateConsoleReport generates a human-readable console report
func (rg *ReportGenerator) generateConsoleReport(outcome *reconciler.Outcome, writer io.Writer) error {
	run := outcome.Run
	summary := run.Result.Summary

	rg.title.Fprintf(writer, "BANK-FIN RECONCILIATION REPORT\n")
	fmt.Fprintf(writer, "Run ID:     %s\n", run.ID)
	fmt.Fprintf(writer, "Started:    %s\n", run.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(writer, "Duration:   %v\n", run.Duration().Round(time.Millisecond))
	fmt.Fprintf(writer, "Status:     %s\n", rg.status(outcome))
	fmt.Fprintf(writer, "Bank:       %s\n", run.Request.BankFile)
	fmt.Fprintf(writer, "Finance:    %s\n\n", run.Request.FinanceFile)

	rg.section.Fprintf(writer, "=== SUMMARY ===\n")
	rg.printSummaryTable(run, writer)
	fmt.Fprintf(writer, "\n")

	rg.section.Fprintf(writer, "=== FINANCIAL SUMMARY ===\n")
	rg.printFinancialSummary(summary, writer)
	fmt.Fprintf(writer, "\n")

	rg.section.Fprintf(writer, "=== MATCH TYPE BREAKDOWN ===\n")
	rg.printMatchTypeTable(summary, writer)
	fmt.Fprintf(writer, "\n")

	if rg.config.IncludeMatchedGroups && len(run.Result.Matched) > 0 {
		rg.section.Fprintf(writer, "=== MATCHED GROUPS ===\n")
		rg.printMatchedGroups(run.Result, writer)
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeUnmatchedBank && len(run.Result.UnmatchedBank) > 0 {
		rg.section.Fprintf(writer, "=== UNMATCHED BANK RECORDS ===\n")
		fmt.Fprintf(writer, "Total Unmatched Bank Records: %d\n\n", len(run.Result.UnmatchedBank))
		rg.printList(writer, len(run.Result.UnmatchedBank), func(i int) string {
			b := run.Result.UnmatchedBank[i]
			return fmt.Sprintf("UID: %s, Date: %s, Amount: %s, Vendor: %s", b.ID, b.RawDate, b.RawAmount, b.RawVendor)
		})
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeUnmatchedFinance && len(run.Result.UnmatchedFinance) > 0 {
		rg.section.Fprintf(writer, "=== UNMATCHED FINANCE RECORDS ===\n")
		fmt.Fprintf(writer, "Total Unmatched Finance Records: %d\n\n", len(run.Result.UnmatchedFinance))
		rg.printList(writer, len(run.Result.UnmatchedFinance), func(i int) string {
			f := run.Result.UnmatchedFinance[i]
			return fmt.Sprintf("UID: %s, Date: %s, Amount: %s, Vendor: %s", f.ID, f.RawDate, f.RawAmount, f.RawVendor)
		})
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeDataQuality && (summary.DegradedBank > 0 || summary.DegradedFinance > 0) {
		rg.section.Fprintf(writer, "=== DATA QUALITY ===\n")
		rg.printDataQuality(run, writer)
		fmt.Fprintf(writer, "\n")
	}

	if len(outcome.SinkErrors) > 0 {
		rg.section.Fprintf(writer, "=== PERSISTENCE ===\n")
		for _, se := range outcome.SinkErrors {
			rg.bad.Fprintf(writer, "  %s: not saved (%v)\n", se.Sink, se.Err)
		}
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeProcessingStats {
		rg.section.Fprintf(writer, "=== PROCESSING STATISTICS ===\n")
		rg.printProcessingStats(run, writer)
	}

	return nil
}

// generateJSONReport generates a structured JSON report
func (rg *ReportGenerator) generateJSONReport(outcome *reconciler.Outcome, writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(rg.filterResultForOutput(outcome))
}

// generateCSVReport writes the matched listing
func (rg *ReportGenerator) generateCSVReport(outcome *reconciler.Outcome, writer io.Writer) error {
	rows, err := BuildMatchedRows(outcome.Run)
	if err != nil {
		return err
	}

	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	if rg.config.CSVHeaders {
		if err := csvWriter.Write(MatchedHeaders); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}
	for _, row := range rows {
		if err := csvWriter.Write(row.Values()); err != nil {
			return fmt.Errorf("failed to write matched row %s/%s: %w", row.MatchID, row.UID, err)
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

// Helper methods for console output formatting

func (rg *ReportGenerator) status(outcome *reconciler.Outcome) string {
	switch outcome.Status {
	case reconciler.StatusCompleted:
		return rg.good.Sprint(outcome.Status)
	case reconciler.StatusNotPersisted:
		return rg.warn.Sprint(outcome.Status)
	default:
		return rg.bad.Sprint(outcome.Status)
	}
}

func (rg *ReportGenerator) printSummaryTable(run *reconciler.Run, writer io.Writer) {
	s := run.Result.Summary
	matchedBank := s.BankRecords - s.UnmatchedBankCount

	fmt.Fprintf(writer, "Bank Records:\n")
	fmt.Fprintf(writer, "  Total:     %d\n", s.BankRecords)
	fmt.Fprintf(writer, "  Matched:   %s\n", rg.good.Sprintf("%d (%.1f%%)", matchedBank, rg.calculatePercentage(matchedBank, s.BankRecords)))
	fmt.Fprintf(writer, "  Unmatched: %s\n", rg.warnIf(s.UnmatchedBankCount, rg.calculatePercentage(s.UnmatchedBankCount, s.BankRecords)))

	fmt.Fprintf(writer, "\nFinance Records:\n")
	fmt.Fprintf(writer, "  Total:     %d\n", s.FinanceRecords)
	fmt.Fprintf(writer, "  Matched:   %s\n", rg.good.Sprintf("%d (%.1f%%)", s.ConsumedFinance, rg.calculatePercentage(s.ConsumedFinance, s.FinanceRecords)))
	fmt.Fprintf(writer, "  Unmatched: %s\n", rg.warnIf(s.UnmatchedFinanceCount, rg.calculatePercentage(s.UnmatchedFinanceCount, s.FinanceRecords)))

	fmt.Fprintf(writer, "\nMatched Rows: %d\n", run.MatchedRows())
}

func (rg *ReportGenerator) warnIf(n int, pct float64) string {
	text := fmt.Sprintf("%d (%.1f%%)", n, pct)
	if n == 0 {
		return text
	}
	return rg.warn.Sprint(text)
}

func (rg *ReportGenerator) printFinancialSummary(s matcher.Summary, writer io.Writer) {
	fmt.Fprintf(writer, "Matched Bank Amount:      %s\n", s.MatchedBankTotal.StringFixed(2))
	fmt.Fprintf(writer, "Matched Finance Amount:   %s\n", s.MatchedFinanceTotal.StringFixed(2))
	fmt.Fprintf(writer, "Unmatched Bank Amount:    %s\n", s.UnmatchedBankTotal.StringFixed(2))
	fmt.Fprintf(writer, "Unmatched Finance Amount: %s\n", s.UnmatchedFinanceTotal.StringFixed(2))

	if diff := s.MatchedBankTotal.Sub(s.MatchedFinanceTotal); !diff.IsZero() {
		fmt.Fprintf(writer, "Tolerance Absorbed:       %s\n", diff.StringFixed(2))
	}
	if net := s.UnmatchedBankTotal.Sub(s.UnmatchedFinanceTotal); !net.IsZero() {
		fmt.Fprintf(writer, "Net Open Difference:      %s\n", rg.warn.Sprint(net.StringFixed(2)))
	}
}

func (rg *ReportGenerator) printMatchTypeTable(s matcher.Summary, writer io.Writer) {
	sizes := make([]int, 0, len(s.GroupsBySize))
	for size := range s.GroupsBySize {
		sizes = append(sizes, size)
	}
	sort.Ints(sizes)

	fmt.Fprintf(writer, "Groups:   %d\n", s.MatchedGroups)
	for _, size := range sizes {
		n := s.GroupsBySize[size]
		fmt.Fprintf(writer, "  1-to-%-3d %d (%.1f%%)\n", size, n, rg.calculatePercentage(n, s.MatchedGroups))
	}
	fmt.Fprintf(writer, "Match Rate: %.1f%%\n", s.MatchRate())
}

func (rg *ReportGenerator) printMatchedGroups(result *matcher.Result, writer io.Writer) {
	rg.printList(writer, len(result.Matched), func(i int) string {
		g := result.Matched[i]
		return fmt.Sprintf("%s %s bank=%s finance=[%s] amount=%s",
			g.MatchID, g.Type, g.BankID, strings.Join(g.FinanceIDs, ", "), g.BankAmount.StringFixed(2))
	})
}

func (rg *ReportGenerator) printDataQuality(run *reconciler.Run, writer io.Writer) {
	s := run.Result.Summary
	fmt.Fprintf(writer, "Degraded Bank Keys:    %s\n", rg.warnIf(s.DegradedBank, rg.calculatePercentage(s.DegradedBank, s.BankRecords)))
	fmt.Fprintf(writer, "Degraded Finance Keys: %s\n", rg.warnIf(s.DegradedFinance, rg.calculatePercentage(s.DegradedFinance, s.FinanceRecords)))

	for _, side := range []struct {
		name   string
		byFlag map[string]int
	}{
		{"bank", reportFlags(run.Degradation.Bank)},
		{"finance", reportFlags(run.Degradation.Finance)},
	} {
		flags := make([]string, 0, len(side.byFlag))
		for flag := range side.byFlag {
			flags = append(flags, flag)
		}
		sort.Strings(flags)
		for _, flag := range flags {
			fmt.Fprintf(writer, "  %s %s: %d\n", side.name, flag, side.byFlag[flag])
		}
	}
}

func (rg *ReportGenerator) printProcessingStats(run *reconciler.Run, writer io.Writer) {
	s := run.Result.Summary
	fmt.Fprintf(writer, "Matching Time:        %v\n", s.Duration.Round(time.Microsecond))
	fmt.Fprintf(writer, "Search Nodes:         %d\n", s.SearchNodes)
	fmt.Fprintf(writer, "Timed Out Searches:   %d\n", s.TimedOutSearches)
	if run.Matching != nil {
		fmt.Fprintf(writer, "Tolerance:            %s\n", run.Matching.Tolerance.StringFixed(2))
		fmt.Fprintf(writer, "Max Combination Size: %d\n", run.Matching.MaxCombinationSize)
	}
	if run.Bank != nil && run.Finance != nil {
		fmt.Fprintf(writer, "Empty Rows Skipped:   %d\n", run.Bank.Stats.EmptySkipped+run.Finance.Stats.EmptySkipped)
	}
}

func (rg *ReportGenerator) printList(writer io.Writer, n int, line func(i int) string) {
	limit := rg.config.MaxListItems
	for i := 0; i < n; i++ {
		if limit > 0 && i >= limit {
			fmt.Fprintf(writer, "  ... and %d more\n", n-limit)
			break
		}
		fmt.Fprintf(writer, "  %d. %s\n", i+1, line(i))
	}
}

// Helper methods

func (rg *ReportGenerator) calculatePercentage(part, total int) float64 {
	if total == 0 {
		return 0.0
	}
	return float64(part) / float64(total) * 100.0
}

func (rg *ReportGenerator) filterResultForOutput(outcome *reconciler.Outcome) map[string]interface{} {
	run := outcome.Run
	output := map[string]interface{}{
		"run_id":      run.ID,
		"status":      outcome.Status,
		"started_at":  run.StartedAt,
		"finished_at": run.FinishedAt,
		"request":     run.Request,
		"summary":     summaryOutput(run),
		"timed_out":   run.Result.TimedOut,
	}

	if run.Matching != nil {
		output["matching"] = map[string]interface{}{
			"tolerance":            run.Matching.Tolerance.StringFixed(2),
			"max_combination_size": run.Matching.MaxCombinationSize,
			"search_timeout":       run.Matching.SearchTimeout.String(),
		}
	}
	if rg.config.IncludeMatchedGroups {
		output["matched"] = run.Result.Matched
	}
	if rg.config.IncludeUnmatchedBank {
		output["unmatched_bank"] = run.Result.UnmatchedBank
	}
	if rg.config.IncludeUnmatchedFinance {
		output["unmatched_finance"] = run.Result.UnmatchedFinance
	}
	if rg.config.IncludeDataQuality {
		output["degradation"] = run.Degradation
	}
	if len(outcome.SinkErrors) > 0 {
		errs := make([]string, len(outcome.SinkErrors))
		for i, se := range outcome.SinkErrors {
			errs[i] = se.Error()
		}
		output["sink_errors"] = errs
	}

	return output
}

// summaryOutput renders the summary with fixed two-decimal amounts
func summaryOutput(run *reconciler.Run) map[string]interface{} {
	s := run.Result.Summary
	fixed := func(d decimal.Decimal) string { return d.StringFixed(2) }
	return map[string]interface{}{
		"bank_records":            s.BankRecords,
		"finance_records":         s.FinanceRecords,
		"matched_groups":          s.MatchedGroups,
		"one_to_one_groups":       s.OneToOneGroups,
		"one_to_n_groups":         s.OneToNGroups,
		"groups_by_size":          s.GroupsBySize,
		"matched_rows":            run.MatchedRows(),
		"unmatched_bank_count":    s.UnmatchedBankCount,
		"unmatched_finance_count": s.UnmatchedFinanceCount,
		"timed_out_searches":      s.TimedOutSearches,
		"degraded_bank":           s.DegradedBank,
		"degraded_finance":        s.DegradedFinance,
		"matched_bank_total":      fixed(s.MatchedBankTotal),
		"matched_finance_total":   fixed(s.MatchedFinanceTotal),
		"unmatched_bank_total":    fixed(s.UnmatchedBankTotal),
		"unmatched_finance_total": fixed(s.UnmatchedFinanceTotal),
		"match_rate":              s.MatchRate(),
		"duration":                s.Duration.String(),
	}
}

// UpdateConfiguration updates the report generator configuration
func (rg *ReportGenerator) UpdateConfiguration(config *ReportConfig) error {
	updated, err := NewReportGenerator(config)
	if err != nil {
		return err
	}
	*rg = *updated
	return nil
}

// GetConfiguration returns the current configuration
func (rg *ReportGenerator) GetConfiguration() *ReportConfig {
	return rg.config
}

func reportFlags(r *normalizer.Report) map[string]int {
	if r == nil {
		return nil
	}
	return r.ByFlag
}
