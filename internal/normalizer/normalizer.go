// Package normalizer turns raw sheet cells into the NormalizedKey every
// comparison in the matcher runs on.
//
// Normalization never fails. A cell that cannot be read falls back to a
// sentinel (empty date, zero amount, empty vendor) and the matching
// Degradation flag is set on the key so the run summary can surface it.
//
//	n := normalizer.New(normalizer.DefaultConfig())
//	key := n.Key("45292", "1,250.00", " acme corporation ")
//	// key.Date == "2024-01-01", key.Amount == 1250.00, key.Vendor == "ACME CORPO"
package normalizer

import (
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"bank-fin-reconciler/internal/models"

	"github.com/shopspring/decimal"
)

// excelEpoch is day zero of the 1900 date system as Excel and pandas count it.
var excelEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

// maxExcelSerial is 9999-12-31, the last date Excel can represent.
const maxExcelSerial = 2958466

var monthFirstLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"2006/01/02",
	"2006.01.02",
	"01/02/2006 15:04:05",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"02-Jan-2006",
	"2-Jan-2006",
	"02-Jan-06",
	"2 Jan 2006",
	"02 January 2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"20060102",
}

var dayFirstLayouts = []string{
	"02/01/2006 15:04:05",
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"02.01.2006",
}

var currencyMarks = []string{"$", "€", "£", "¥", "₹", "Rp", "INR", "USD", "EUR"}

// Config controls how ambiguous cells are read
type Config struct {
	// DayFirst reads 03/04/2024 as 3 April instead of March 4.
	DayFirst bool `mapstructure:"day_first"`
	// VendorLength is the number of characters of vendor text that are kept.
	VendorLength int `mapstructure:"vendor_length"`
}

// DefaultConfig reads dates month-first and keeps ten vendor characters.
func DefaultConfig() Config {
	return Config{VendorLength: models.VendorKeyLength}
}

// Normalizer derives keys from raw cells
type Normalizer struct {
	layouts      []string
	vendorLength int
}

// New builds a normalizer; a non-positive VendorLength falls back to the default.
func New(config Config) *Normalizer {
	layouts := make([]string, 0, len(monthFirstLayouts)+len(dayFirstLayouts))
	if config.DayFirst {
		layouts = append(layouts, dayFirstLayouts...)
		layouts = append(layouts, monthFirstLayouts...)
	} else {
		layouts = append(layouts, monthFirstLayouts...)
		layouts = append(layouts, dayFirstLayouts...)
	}

	vendorLength := config.VendorLength
	if vendorLength <= 0 {
		vendorLength = models.VendorKeyLength
	}

	return &Normalizer{layouts: layouts, vendorLength: vendorLength}
}

// Key normalizes the three matching cells of a row
func (n *Normalizer) Key(rawDate, rawAmount, rawVendor string) models.NormalizedKey {
	var key models.NormalizedKey

	date, ok := n.Date(rawDate)
	if !ok {
		key.Degradation |= models.DateUnparsed
	}
	key.Date = date

	amount, flag := n.Amount(rawAmount)
	key.Amount = amount
	key.Degradation |= flag

	vendor := n.Vendor(rawVendor)
	if vendor == "" {
		key.Degradation |= models.VendorMissing
	}
	key.Vendor = vendor

	return key
}

// Date returns the calendar date as YYYY-MM-DD. Numeric cells are read as
// Excel day serials first; anything else is tried against the layout list.
func (n *Normalizer) Date(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || isNaN(raw) {
		return "", false
	}

	if serial, err := strconv.ParseFloat(raw, 64); err == nil {
		if serial >= 0 && serial < maxExcelSerial && !math.IsInf(serial, 0) {
			days := int(math.Floor(serial))
			return excelEpoch.AddDate(0, 0, days).Format(models.DateLayout), true
		}
	}

	for _, layout := range n.layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format(models.DateLayout), true
		}
	}

	return "", false
}

// Amount parses and rounds to two places, half away from zero. Blank cells
// give AmountMissing, unreadable ones AmountUnparsed; both yield zero.
// Amounts beyond models.MaxAmountCents count as unreadable.
func (n *Normalizer) Amount(raw string) (decimal.Decimal, models.Degradation) {
	s := strings.TrimSpace(raw)
	if s == "" || isNaN(s) {
		return decimal.Zero, models.AmountMissing
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	for _, mark := range currencyMarks {
		s = strings.ReplaceAll(s, mark, "")
	}
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, " ", "")

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, models.AmountUnparsed
	}
	if negative {
		d = d.Neg()
	}
	d = d.Round(2)
	if !models.AmountInRange(d) {
		return decimal.Zero, models.AmountUnparsed
	}
	return d, 0
}

// Vendor trims, uppercases and keeps the first VendorLength characters
func (n *Normalizer) Vendor(raw string) string {
	s := strings.TrimSpace(raw)
	if isNaN(s) {
		return ""
	}
	s = strings.ToUpper(s)
	if utf8.RuneCountInString(s) <= n.vendorLength {
		return s
	}
	return string([]rune(s)[:n.vendorLength])
}

// isNaN catches the literal left behind by spreadsheet exports of empty numeric cells.
func isNaN(s string) bool {
	return strings.EqualFold(s, "nan")
}
