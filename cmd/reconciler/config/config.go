package config

import (
	"fmt"
	"strings"
	"time"

	"bank-fin-reconciler/internal/matcher"
	"bank-fin-reconciler/internal/models"
	"bank-fin-reconciler/internal/normalizer"
	"bank-fin-reconciler/internal/parsers"
	"bank-fin-reconciler/internal/reconciler"
	"bank-fin-reconciler/internal/reporter"
	"bank-fin-reconciler/internal/storage"
	"bank-fin-reconciler/pkg/errors"
	"bank-fin-reconciler/pkg/logger"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Viper keys shared by flags, the config file and RECONCILER_ env vars
const (
	KeyBankFile           = "bank-file"
	KeyFinanceFile        = "finance-file"
	KeyTolerance          = "tolerance"
	KeyMaxCombinationSize = "max-combination-size"
	KeySearchTimeout      = "search-timeout"
	KeyNoPrune            = "no-prune"
	KeyColumns            = "columns"
	KeyDayFirst           = "day-first"
	KeyVendorLength       = "vendor-length"
	KeyOutputFormat       = "output-format"
	KeyOutputFile         = "output-file"
	KeyWorkbook           = "workbook"
	KeyDB                 = "db"
	KeyProgress           = "progress"
	KeyVerify             = "verify"
	KeyNoColor            = "no-color"
	KeyVerbose            = "verbose"
	KeyLogLevel           = "log-level"
	KeyLogFormat          = "log-format"
	KeyLogFile            = "log-file"
)

// Settings are the resolved options of one reconcile invocation
type Settings struct {
	BankFile           string
	FinanceFile        string
	Tolerance          string
	MaxCombinationSize int
	SearchTimeout      time.Duration
	NoPrune            bool
	Columns            string
	DayFirst           bool
	VendorLength       int
	OutputFormat       string
	OutputFile         string
	Workbook           string
	DB                 string
	Progress           bool
	Verify             bool
	NoColor            bool
}

// FromViper reads the settings from v
func FromViper(v *viper.Viper) *Settings {
	return &Settings{
		BankFile:           v.GetString(KeyBankFile),
		FinanceFile:        v.GetString(KeyFinanceFile),
		Tolerance:          v.GetString(KeyTolerance),
		MaxCombinationSize: v.GetInt(KeyMaxCombinationSize),
		SearchTimeout:      v.GetDuration(KeySearchTimeout),
		NoPrune:            v.GetBool(KeyNoPrune),
		Columns:            v.GetString(KeyColumns),
		DayFirst:           v.GetBool(KeyDayFirst),
		VendorLength:       v.GetInt(KeyVendorLength),
		OutputFormat:       v.GetString(KeyOutputFormat),
		OutputFile:         v.GetString(KeyOutputFile),
		Workbook:           v.GetString(KeyWorkbook),
		DB:                 v.GetString(KeyDB),
		Progress:           v.GetBool(KeyProgress),
		Verify:             v.GetBool(KeyVerify),
		NoColor:            v.GetBool(KeyNoColor),
	}
}

// Validate checks the settings that can be checked without touching files
func (s *Settings) Validate() error {
	err := validation.ValidateStruct(s,
		validation.Field(&s.BankFile, validation.Required),
		validation.Field(&s.FinanceFile, validation.Required),
		validation.Field(&s.Tolerance, validation.Required, validation.By(positiveDecimal)),
		validation.Field(&s.MaxCombinationSize, validation.Min(1), validation.Max(matcher.MaxCombinationSizeLimit)),
		validation.Field(&s.SearchTimeout, validation.Min(time.Duration(0))),
		validation.Field(&s.VendorLength, validation.Min(0)),
		validation.Field(&s.OutputFormat, validation.Required, validation.By(outputFormat)),
	)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "flags", nil, err).
			WithSuggestion("Use 'reconciler reconcile --help' to see all available options")
	}
	if s.OutputFile != "" && s.OutputFile == s.Workbook {
		return errors.ConfigurationError(errors.CodeConfigConflict, "output-file", s.OutputFile, nil).
			WithSuggestion("--output-file and --workbook must name different files")
	}
	return nil
}

func positiveDecimal(value interface{}) error {
	s, _ := value.(string)
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("must be a decimal number")
	}
	if !d.IsPositive() {
		return fmt.Errorf("must be greater than zero")
	}
	if !models.AmountInRange(d) {
		return fmt.Errorf("must not exceed %s", decimal.New(models.MaxAmountCents, -2))
	}
	return nil
}

func outputFormat(value interface{}) error {
	s, _ := value.(string)
	if !reporter.OutputFormat(s).IsValid() {
		return fmt.Errorf("must be one of console, json, csv")
	}
	return nil
}

// CreateMatchingConfig creates the matcher configuration from the settings
func CreateMatchingConfig(s *Settings) (*matcher.MatchingConfig, error) {
	tolerance, err := decimal.NewFromString(strings.TrimSpace(s.Tolerance))
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, KeyTolerance, s.Tolerance, err)
	}

	config := matcher.DefaultMatchingConfig()
	config.Tolerance = tolerance
	config.MaxCombinationSize = s.MaxCombinationSize
	config.SearchTimeout = s.SearchTimeout
	config.Prune = !s.NoPrune
	return config, nil
}

// CreateReconcilerConfig creates the service configuration, loading the
// column profile when one is named
func CreateReconcilerConfig(s *Settings) (*reconciler.Config, error) {
	matching, err := CreateMatchingConfig(s)
	if err != nil {
		return nil, err
	}

	config := reconciler.DefaultConfig()
	config.Matching = matching
	config.Verify = s.Verify
	config.Normalizer = normalizer.Config{
		DayFirst:     s.DayFirst,
		VendorLength: s.VendorLength,
	}

	if s.Columns != "" {
		profile, err := parsers.LoadColumnProfile(s.Columns)
		if err != nil {
			return nil, err
		}
		config.Columns = profile
	}
	return config, config.Validate()
}

// CreateReportConfig creates a report configuration for the specified output format
func CreateReportConfig(format string, useColors bool) *reporter.ReportConfig {
	config := reporter.DefaultReportConfig()
	config.Format = reporter.OutputFormat(format)

	switch config.Format {
	case reporter.FormatConsole:
		config.UseColors = useColors
	case reporter.FormatJSON:
		config.UseColors = false
		config.IncludeMatchedGroups = true
	case reporter.FormatCSV:
		config.UseColors = false
		config.CSVHeaders = true
		config.CSVDelimiter = ','
	}
	return config
}

// CreateLoggerConfig creates the logger configuration. A log file switches
// the output to JSON lines in that file.
func CreateLoggerConfig(level, format, file string, verbose bool) *logger.Config {
	config := logger.DefaultConfig()
	if file != "" {
		config = logger.FileConfig(file)
	}
	if level != "" {
		config.Level = logger.Level(strings.ToLower(level))
	}
	if verbose {
		config.Level = logger.DebugLevel
	}
	if format != "" {
		config.Format = logger.Format(strings.ToLower(format))
	}
	return config
}

// CreateSinks builds the destinations named by the settings. The database
// is only opened when the first run is saved; the returned function closes
// it again.
func CreateSinks(s *Settings, log logger.Logger) ([]reconciler.Sink, func() error) {
	var sinks []reconciler.Sink
	closeAll := func() error { return nil }

	if s.Workbook != "" {
		sinks = append(sinks, reporter.NewWorkbookSink(s.Workbook, log))
	}
	if s.DB != "" {
		store := storage.NewLazySink(s.DB, log)
		sinks = append(sinks, store)
		closeAll = store.Close
	}
	return sinks, closeAll
}
