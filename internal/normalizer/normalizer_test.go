package normalizer

import (
	"testing"

	"bank-fin-reconciler/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDate(t *testing.T) {
	n := New(DefaultConfig())

	tests := []struct {
		name string
		raw  string
		want string
		ok   bool
	}{
		{"excel serial", "45292", "2024-01-01", true},
		{"excel serial with time fraction", "45292.75", "2024-01-01", true},
		{"excel epoch", "0", "1899-12-30", true},
		{"iso date", "2024-03-15", "2024-03-15", true},
		{"iso datetime", "2024-03-15 17:45:00", "2024-03-15", true},
		{"rfc3339", "2024-03-15T23:10:00+07:00", "2024-03-15", true},
		{"month first slash", "03/04/2024", "2024-03-04", true},
		{"short month first", "3/4/2024", "2024-03-04", true},
		{"abbreviated month", "15-Mar-2024", "2024-03-15", true},
		{"compact digits beyond serial range", "20240315", "2024-03-15", true},
		{"surrounding spaces", "  2024-01-02 ", "2024-01-02", true},
		{"blank", "", "", false},
		{"nan literal", "NaN", "", false},
		{"garbage", "next tuesday", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := n.Date(tt.raw)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDateDayFirst(t *testing.T) {
	n := New(Config{DayFirst: true})

	got, ok := n.Date("03/04/2024")
	require.True(t, ok)
	assert.Equal(t, "2024-04-03", got)

	got, ok = n.Date("15/03/2024")
	require.True(t, ok)
	assert.Equal(t, "2024-03-15", got)
}

func TestAmount(t *testing.T) {
	n := New(DefaultConfig())

	tests := []struct {
		raw  string
		want string
		flag models.Degradation
	}{
		{"100", "100.00", 0},
		{"1,250.50", "1250.50", 0},
		{"$ 99.999", "100.00", 0},
		{"10.005", "10.01", 0},
		{"-10.005", "-10.01", 0},
		{"(45.10)", "-45.10", 0},
		{"Rp 15000", "15000.00", 0},
		{"", "0.00", models.AmountMissing},
		{"nan", "0.00", models.AmountMissing},
		{"twelve", "0.00", models.AmountUnparsed},
		{"10000000000000.00", "10000000000000.00", 0},
		{"-10000000000000.00", "-10000000000000.00", 0},
		{"10000000000000.01", "0.00", models.AmountUnparsed},
		{"184467440737095517.16", "0.00", models.AmountUnparsed},
		{"(92233720368547758.08)", "0.00", models.AmountUnparsed},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, flag := n.Amount(tt.raw)
			assert.Equal(t, tt.want, got.StringFixed(2))
			assert.Equal(t, tt.flag, flag)
		})
	}
}

func TestVendor(t *testing.T) {
	n := New(DefaultConfig())

	assert.Equal(t, "ACME CORPO", n.Vendor("  acme corporation ltd "))
	assert.Equal(t, "ACMECORP1", n.Vendor("AcmeCorp1"))
	assert.Equal(t, "ÉCOLE SUPÉ", n.Vendor("école supérieure"))
	assert.Equal(t, "", n.Vendor("   "))
	assert.Equal(t, "", n.Vendor("nan"))

	short := New(Config{VendorLength: 4})
	assert.Equal(t, "ACME", short.Vendor("acme corporation"))
}

func TestKeyDegradation(t *testing.T) {
	n := New(DefaultConfig())

	key := n.Key("45292", "100.00", "ACMECORP1")
	assert.False(t, key.Degraded())
	assert.Equal(t, "2024-01-01|100.00|ACMECORP1", key.String())

	key = n.Key("not a date", "", "")
	assert.True(t, key.Degradation.Has(models.DateUnparsed))
	assert.True(t, key.Degradation.Has(models.AmountMissing))
	assert.True(t, key.Degradation.Has(models.VendorMissing))
	assert.Equal(t, "", key.Date)
	assert.True(t, key.Amount.IsZero())
}

func TestDatasetReports(t *testing.T) {
	n := New(DefaultConfig())

	bank := []*models.BankRecord{
		{ID: "B1", RawDate: "45292", RawAmount: "100", RawVendor: "acme"},
		{ID: "B2", RawDate: "??", RawAmount: "50", RawVendor: "acme"},
	}
	report := n.Bank(bank)
	assert.Equal(t, 2, report.Records)
	assert.Equal(t, 1, report.Degraded)
	assert.Equal(t, 1, report.ByFlag["date_unparsed"])
	assert.Equal(t, "ACME", bank[0].Key.Vendor)

	finance := []*models.FinanceRecord{
		{ID: "F1", RawDate: "2024-01-01", RawAmount: "", RawVendor: ""},
	}
	report = n.Finance(finance)
	assert.Equal(t, 1, report.Degraded)
	assert.Equal(t, 1, report.ByFlag["amount_missing"])
	assert.Equal(t, 1, report.ByFlag["vendor_missing"])
}
