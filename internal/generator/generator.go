// Package generator builds paired bank and finance ledgers with a known
// answer. Every planted match sits on its own date and vendor, so a correct
// reconciliation reproduces Expected exactly.
//
//	gen := generator.New(generator.Config{Records: 200, Seed: 7})
//	data := gen.Generate()
//	bankPath, financePath, err := data.WriteCSV("demo")
package generator

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"bank-fin-reconciler/internal/models"
	"bank-fin-reconciler/internal/normalizer"
	"bank-fin-reconciler/internal/parsers"
	"bank-fin-reconciler/pkg/errors"

	"github.com/brianvoe/gofakeit/v6"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// Config controls the shape of a generated dataset
type Config struct {
	// Records is the number of bank records
	Records int
	Seed    int64
	// GroupRatio is the share of bank records matched by a group of two or
	// more finance records
	GroupRatio float64
	// UnmatchedRatio is the share of bank records with no counterpart. The
	// same number of stray finance records is added.
	UnmatchedRatio float64
	MaxGroupSize   int
	StartDate      time.Time
	Days           int
	VendorLength   int
}

// DefaultConfig returns a 100 record dataset starting 2024-01-01
func DefaultConfig() Config {
	return Config{
		Records:        100,
		Seed:           1,
		GroupRatio:     0.3,
		UnmatchedRatio: 0.1,
		MaxGroupSize:   4,
		StartDate:      time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		Days:           90,
		VendorLength:   models.VendorKeyLength,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.Records, validation.Min(1)),
		validation.Field(&c.GroupRatio, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&c.UnmatchedRatio, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&c.MaxGroupSize, validation.Min(2)),
		validation.Field(&c.Days, validation.Min(1)),
		validation.Field(&c.VendorLength, validation.Min(1)),
	)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "generator", nil, err)
	}
	if c.GroupRatio+c.UnmatchedRatio > 1 {
		return errors.ConfigurationError(errors.CodeConfigConflict, "generator", nil,
			fmt.Errorf("group ratio %.2f and unmatched ratio %.2f exceed 1", c.GroupRatio, c.UnmatchedRatio))
	}
	return nil
}

// Expected is the reconciliation a generated dataset should produce
type Expected struct {
	OneToOne         int         `json:"one_to_one"`
	OneToN           int         `json:"one_to_n"`
	GroupsBySize     map[int]int `json:"groups_by_size"`
	UnmatchedBank    int         `json:"unmatched_bank"`
	UnmatchedFinance int         `json:"unmatched_finance"`
}

// MatchedRows is the number of rows the matched table should hold
func (e Expected) MatchedRows() int {
	rows := 0
	for size, n := range e.GroupsBySize {
		rows += (size + 1) * n
	}
	return rows
}

// Dataset holds generated rows, header first
type Dataset struct {
	Bank     [][]string
	Finance  [][]string
	Expected Expected
}

// Generator produces datasets. The same Config always yields the same rows.
type Generator struct {
	config  Config
	faker   *gofakeit.Faker
	profile *parsers.ColumnProfile
	vendors *normalizer.Normalizer
	used    map[string]bool
}

// New creates a generator. Zero fields fall back to DefaultConfig.
func New(config Config) *Generator {
	defaults := DefaultConfig()
	if config.MaxGroupSize == 0 {
		config.MaxGroupSize = defaults.MaxGroupSize
	}
	if config.StartDate.IsZero() {
		config.StartDate = defaults.StartDate
	}
	if config.Days == 0 {
		config.Days = defaults.Days
	}
	if config.VendorLength == 0 {
		config.VendorLength = defaults.VendorLength
	}
	return &Generator{
		config:  config,
		faker:   gofakeit.New(config.Seed),
		profile: parsers.DefaultColumnProfile(),
		vendors: normalizer.New(normalizer.Config{VendorLength: config.VendorLength}),
		used:    make(map[string]bool),
	}
}

// Generate builds a dataset
func (g *Generator) Generate() *Dataset {
	cols := g.profile
	data := &Dataset{
		Bank: [][]string{{
			cols.Bank.ID, cols.Bank.Date, cols.Bank.Amount, cols.Bank.Vendor, "Narration",
		}},
		Finance: [][]string{{
			cols.Finance.ID, cols.Finance.Date, cols.Finance.Amount, cols.Finance.Vendor,
			cols.Finance.VoucherNo, cols.Finance.ReceiverName,
		}},
		Expected: Expected{GroupsBySize: make(map[int]int)},
	}

	total := g.config.Records
	groups := int(math.Round(float64(total) * g.config.GroupRatio))
	unmatched := int(math.Round(float64(total) * g.config.UnmatchedRatio))
	if groups+unmatched > total {
		unmatched = total - groups
	}
	singles := total - groups - unmatched

	bankSeq, finSeq := 0, 0
	addBank := func(date, vendor string, amount decimal.Decimal) {
		bankSeq++
		data.Bank = append(data.Bank, []string{
			fmt.Sprintf("B%05d", bankSeq), date, amount.StringFixed(2), vendor,
			"NEFT " + g.faker.Numerify("##########"),
		})
	}
	addFinance := func(date, vendor string, amount decimal.Decimal) {
		finSeq++
		data.Finance = append(data.Finance, []string{
			fmt.Sprintf("F%05d", finSeq), date, amount.StringFixed(2), vendor,
			fmt.Sprintf("PV-%06d", finSeq), g.faker.Name(),
		})
	}

	for i := 0; i < singles; i++ {
		date, vendor := g.uniqueKey()
		amount := g.amount(50, 50000)
		addBank(date, vendor, amount)
		addFinance(date, vendor, amount)
		data.Expected.OneToOne++
	}
	data.Expected.GroupsBySize[1] = data.Expected.OneToOne

	for i := 0; i < groups; i++ {
		date, vendor := g.uniqueKey()
		size := g.faker.IntRange(2, g.config.MaxGroupSize)
		parts := g.split(size)
		total := decimal.Zero
		for _, p := range parts {
			total = total.Add(p)
		}
		addBank(date, vendor, total)
		for _, p := range parts {
			addFinance(date, vendor, p)
		}
		data.Expected.OneToN++
		data.Expected.GroupsBySize[size]++
	}

	for i := 0; i < unmatched; i++ {
		date, vendor := g.uniqueKey()
		addBank(date, vendor, g.amount(50, 50000))
		data.Expected.UnmatchedBank++

		date, vendor = g.uniqueKey()
		addFinance(date, vendor, g.amount(50, 50000))
		data.Expected.UnmatchedFinance++
	}

	if data.Expected.GroupsBySize[1] == 0 {
		delete(data.Expected.GroupsBySize, 1)
	}
	return data
}

// uniqueKey returns a date and vendor whose normalised pair has not been
// handed out yet
func (g *Generator) uniqueKey() (string, string) {
	for {
		date := g.config.StartDate.AddDate(0, 0, g.faker.IntRange(0, g.config.Days-1)).Format(models.DateLayout)
		vendor := g.faker.Company()
		key := date + "|" + g.vendors.Vendor(vendor)
		if !g.used[key] {
			g.used[key] = true
			return date, vendor
		}
	}
}

func (g *Generator) amount(min, max float64) decimal.Decimal {
	return decimal.NewFromFloat(g.faker.Price(min, max)).Round(2)
}

// split returns size parts of at least 1.00 each. Dropping any part moves
// the sum by more than a cent, so only the full group matches.
func (g *Generator) split(size int) []decimal.Decimal {
	parts := make([]decimal.Decimal, size)
	for i := range parts {
		parts[i] = g.amount(1, 10000)
	}
	return parts
}

// WriteCSV writes bank.csv and finance.csv into dir
func (d *Dataset) WriteCSV(dir string) (string, string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", errors.FileError(errors.CodeDirectoryError, dir, err)
	}
	bankPath := filepath.Join(dir, "bank.csv")
	financePath := filepath.Join(dir, "finance.csv")
	if err := writeCSV(bankPath, d.Bank); err != nil {
		return "", "", err
	}
	if err := writeCSV(financePath, d.Finance); err != nil {
		return "", "", err
	}
	return bankPath, financePath, nil
}

func writeCSV(path string, rows [][]string) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, path, err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.WriteAll(rows); err != nil {
		return errors.FileError(errors.CodeFileCorrupted, path, err)
	}
	return nil
}

// WriteXLSX writes bank.xlsx and finance.xlsx into dir. Amounts are stored
// as text so they read back exactly.
func (d *Dataset) WriteXLSX(dir string) (string, string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", errors.FileError(errors.CodeDirectoryError, dir, err)
	}
	bankPath := filepath.Join(dir, "bank.xlsx")
	financePath := filepath.Join(dir, "finance.xlsx")
	if err := writeXLSX(bankPath, "Statement", d.Bank); err != nil {
		return "", "", err
	}
	if err := writeXLSX(financePath, "Payments", d.Finance); err != nil {
		return "", "", err
	}
	return bankPath, financePath, nil
}

func writeXLSX(path, sheet string, rows [][]string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return errors.FileError(errors.CodeFileCorrupted, path, err)
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return errors.FileError(errors.CodeFileCorrupted, path, err)
		}
		values := make([]interface{}, len(row))
		for j, v := range row {
			values[j] = v
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return errors.FileError(errors.CodeFileCorrupted, path, err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		return errors.FileError(errors.CodeFilePermission, path, err)
	}
	return nil
}
