package models

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// DateLayout is the canonical calendar-date form used in normalized keys.
const DateLayout = "2006-01-02"

// VendorKeyLength is how many characters of the vendor text take part in matching.
const VendorKeyLength = 10

// Field is one column of a source row
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Payload carries every column of a source row, in sheet order, untouched.
type Payload []Field

// Get returns the value of the named column
func (p Payload) Get(name string) (string, bool) {
	for _, f := range p {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// Value returns the named column or an empty string
func (p Payload) Value(name string) string {
	v, _ := p.Get(name)
	return v
}

// Map flattens the payload; column order is lost.
func (p Payload) Map() map[string]string {
	m := make(map[string]string, len(p))
	for _, f := range p {
		m[f.Name] = f.Value
	}
	return m
}

// Degradation flags record which parts of a key fell back to a sentinel.
type Degradation uint8

const (
	DateUnparsed Degradation = 1 << iota
	AmountMissing
	AmountUnparsed
	VendorMissing
)

var degradationNames = []struct {
	flag Degradation
	name string
}{
	{DateUnparsed, "date_unparsed"},
	{AmountMissing, "amount_missing"},
	{AmountUnparsed, "amount_unparsed"},
	{VendorMissing, "vendor_missing"},
}

// Has reports whether flag is set
func (d Degradation) Has(flag Degradation) bool {
	return d&flag != 0
}

// Flags lists the names of the set flags
func (d Degradation) Flags() []string {
	var names []string
	for _, dn := range degradationNames {
		if d.Has(dn.flag) {
			names = append(names, dn.name)
		}
	}
	return names
}

func (d Degradation) String() string {
	if d == 0 {
		return "none"
	}
	return strings.Join(d.Flags(), "|")
}

// AllDegradations lists every flag in display order
func AllDegradations() []Degradation {
	out := make([]Degradation, len(degradationNames))
	for i, dn := range degradationNames {
		out[i] = dn.flag
	}
	return out
}

// NormalizedKey is the canonical (date, amount, vendor) triple used for all
// comparisons. Date is "" when the source date could not be read.
type NormalizedKey struct {
	Date        string          `json:"date"`
	Amount      decimal.Decimal `json:"amount"`
	Vendor      string          `json:"vendor"`
	Degradation Degradation     `json:"-"`
}

// Slot is the (date, vendor) part of a key that candidate lookup groups by.
type Slot struct {
	Date   string
	Vendor string
}

// Slot returns the candidate-lookup part of the key
func (k NormalizedKey) Slot() Slot {
	return Slot{Date: k.Date, Vendor: k.Vendor}
}

// Equal compares date, amount and vendor. Degradation flags are ignored.
func (k NormalizedKey) Equal(other NormalizedKey) bool {
	return k.Date == other.Date && k.Vendor == other.Vendor && k.Amount.Equal(other.Amount)
}

// MaxAmountCents is the largest absolute amount, in cents, a key may carry.
// Group totals of up to a few thousand such amounts still fit in an int64.
const MaxAmountCents int64 = 1_000_000_000_000_000

// AmountInRange reports whether |amount| fits under MaxAmountCents.
func AmountInRange(amount decimal.Decimal) bool {
	return amount.Abs().Shift(2).LessThanOrEqual(decimal.NewFromInt(MaxAmountCents))
}

// Cents returns the amount as a whole number of cents. Keys are rounded to
// two places and bounded by MaxAmountCents on construction, so this is exact.
func (k NormalizedKey) Cents() int64 {
	return k.Amount.Shift(2).Round(0).IntPart()
}

// Degraded reports whether any part of the key fell back to a sentinel
func (k NormalizedKey) Degraded() bool {
	return k.Degradation != 0
}

func (k NormalizedKey) String() string {
	date := k.Date
	if date == "" {
		date = "<no date>"
	}
	return fmt.Sprintf("%s|%s|%s", date, k.Amount.StringFixed(2), k.Vendor)
}

// MarshalJSON renders the amount with two fixed decimals
func (k NormalizedKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Date        string   `json:"date"`
		Amount      string   `json:"amount"`
		Vendor      string   `json:"vendor"`
		Degradation []string `json:"degradation,omitempty"`
	}{k.Date, k.Amount.StringFixed(2), k.Vendor, k.Degradation.Flags()})
}

// BankRecord is one row of the bank withdrawal feed
type BankRecord struct {
	ID        string        `json:"bank_uid"`
	Line      int           `json:"line"`
	RawDate   string        `json:"raw_date"`
	RawAmount string        `json:"raw_amount"`
	RawVendor string        `json:"raw_vendor"`
	Payload   Payload       `json:"payload,omitempty"`
	Key       NormalizedKey `json:"key"`
}

func (b *BankRecord) String() string {
	return fmt.Sprintf("BankRecord{ID: %s, Key: %s}", b.ID, b.Key)
}

// FinanceRecord is one row of the finance credit feed
type FinanceRecord struct {
	ID           string        `json:"fin_uid"`
	Line         int           `json:"line"`
	RawDate      string        `json:"raw_date"`
	RawAmount    string        `json:"raw_amount"`
	RawVendor    string        `json:"raw_vendor"`
	VoucherNo    string        `json:"voucher_no,omitempty"`
	ReceiverName string        `json:"receiver_name,omitempty"`
	Payload      Payload       `json:"payload,omitempty"`
	Key          NormalizedKey `json:"key"`
}

func (f *FinanceRecord) String() string {
	return fmt.Sprintf("FinanceRecord{ID: %s, Key: %s}", f.ID, f.Key)
}

// MatchKind distinguishes single-record matches from split matches
type MatchKind int

const (
	KindOneToOne MatchKind = iota
	KindOneToN
)

// MatchType is OneToOne, or OneToN with the number of finance members.
type MatchType struct {
	Kind MatchKind
	Size int
}

// OneToOne is the type of a single-member group
func OneToOne() MatchType {
	return MatchType{Kind: KindOneToOne, Size: 1}
}

// OneToN is the type of a group with n finance members
func OneToN(n int) MatchType {
	return MatchType{Kind: KindOneToN, Size: n}
}

// String renders "1-to-1" or "1-to-n"
func (t MatchType) String() string {
	return fmt.Sprintf("1-to-%d", t.Size)
}

// MarshalJSON renders the type label
func (t MatchType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// ParseMatchType reverses MatchType.String.
func ParseMatchType(s string) (MatchType, error) {
	var n int
	if _, err := fmt.Sscanf(s, "1-to-%d", &n); err != nil || n < 1 {
		return MatchType{}, fmt.Errorf("invalid match type %q", s)
	}
	if n == 1 {
		return OneToOne(), nil
	}
	return OneToN(n), nil
}

// FormatMatchID renders the n-th match id: M0001, M0002, ...
func FormatMatchID(n int) string {
	return fmt.Sprintf("M%04d", n)
}

// MatchGroup binds one bank record to the finance records it was matched with.
type MatchGroup struct {
	MatchID      string          `json:"match_id"`
	Type         MatchType       `json:"type"`
	BankID       string          `json:"bank_uid"`
	FinanceIDs   []string        `json:"fin_uids"`
	BankAmount   decimal.Decimal `json:"bank_amount"`
	FinanceTotal decimal.Decimal `json:"finance_total"`
}

// Difference is bank amount minus finance total
func (g *MatchGroup) Difference() decimal.Decimal {
	return g.BankAmount.Sub(g.FinanceTotal)
}

// MarshalJSON renders amounts with two fixed decimals
func (g *MatchGroup) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		MatchID      string    `json:"match_id"`
		Type         MatchType `json:"type"`
		BankID       string    `json:"bank_uid"`
		FinanceIDs   []string  `json:"fin_uids"`
		BankAmount   string    `json:"bank_amount"`
		FinanceTotal string    `json:"finance_total"`
		Difference   string    `json:"difference"`
	}{
		MatchID:      g.MatchID,
		Type:         g.Type,
		BankID:       g.BankID,
		FinanceIDs:   g.FinanceIDs,
		BankAmount:   g.BankAmount.StringFixed(2),
		FinanceTotal: g.FinanceTotal.StringFixed(2),
		Difference:   g.Difference().StringFixed(2),
	})
}

func (g *MatchGroup) String() string {
	return fmt.Sprintf("MatchGroup{%s %s bank=%s finance=[%s]}",
		g.MatchID, g.Type, g.BankID, strings.Join(g.FinanceIDs, ","))
}
