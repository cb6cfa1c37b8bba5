package parsers

import (
	"fmt"
	"os"
	"strings"

	"bank-fin-reconciler/pkg/errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
)

// Standard field names used as alias keys in a profile
const (
	FieldID           = "id"
	FieldDate         = "date"
	FieldAmount       = "amount"
	FieldVendor       = "vendor"
	FieldVoucherNo    = "voucher_no"
	FieldReceiverName = "receiver_name"
)

// SourceColumns names the columns of one feed.
type SourceColumns struct {
	Sheet   string              `yaml:"sheet,omitempty"`
	ID      string              `yaml:"id"`
	Date    string              `yaml:"date"`
	Amount  string              `yaml:"amount"`
	Vendor  string              `yaml:"vendor"`
	Aliases map[string][]string `yaml:"aliases,omitempty"`
}

// Validate checks that the four key columns are named
func (c SourceColumns) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.ID, validation.Required),
		validation.Field(&c.Date, validation.Required),
		validation.Field(&c.Amount, validation.Required),
		validation.Field(&c.Vendor, validation.Required),
		validation.Field(&c.Aliases, validation.By(validAliasKeys)),
	)
}

// Candidates returns the configured column name followed by its aliases.
func (c SourceColumns) Candidates(field, configured string) []string {
	return append([]string{configured}, c.Aliases[field]...)
}

// FinanceColumns adds the optional pass-through columns of the finance feed
type FinanceColumns struct {
	SourceColumns `yaml:",inline"`
	VoucherNo     string `yaml:"voucher_no,omitempty"`
	ReceiverName  string `yaml:"receiver_name,omitempty"`
}

// ColumnProfile describes both feeds. It is usually loaded from YAML:
//
//	bank:
//	  id: bank_uid
//	  date: Date
//	  amount: Withdrawal (Dr.)
//	  vendor: der_bank_ven
//	  aliases:
//	    amount: [Debit, Withdrawal]
//	finance:
//	  sheet: Payments
//	  id: fin_uid
//	  date: Payment Date
//	  amount: Credit Amount
//	  vendor: der_fin_ven
//	  voucher_no: Voucher No
//	  receiver_name: Receiver Name
//	delimiter: ";"
type ColumnProfile struct {
	Bank      SourceColumns  `yaml:"bank"`
	Finance   FinanceColumns `yaml:"finance"`
	Delimiter string         `yaml:"delimiter,omitempty"`
}

// DefaultColumnProfile returns the column names of the standard export.
func DefaultColumnProfile() *ColumnProfile {
	return &ColumnProfile{
		Bank: SourceColumns{
			ID:     "bank_uid",
			Date:   "Date",
			Amount: "Withdrawal (Dr.)",
			Vendor: "der_bank_ven",
		},
		Finance: FinanceColumns{
			SourceColumns: SourceColumns{
				ID:     "fin_uid",
				Date:   "Payment Date",
				Amount: "Credit Amount",
				Vendor: "der_fin_ven",
			},
			VoucherNo:    "Voucher No",
			ReceiverName: "Receiver Name",
		},
		Delimiter: ",",
	}
}

// Validate checks the profile
func (p *ColumnProfile) Validate() error {
	err := validation.ValidateStruct(p,
		validation.Field(&p.Bank),
		validation.Field(&p.Finance),
		validation.Field(&p.Delimiter, validation.By(singleRune)),
	)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "columns", err.Error(), err)
	}
	return nil
}

// DelimiterRune returns the CSV delimiter, ',' when unset
func (p *ColumnProfile) DelimiterRune() rune {
	switch {
	case p.Delimiter == "":
		return ','
	case strings.EqualFold(p.Delimiter, "tab"):
		return '\t'
	}
	return []rune(p.Delimiter)[0]
}

// LoadColumnProfile reads a YAML profile. Fields the file leaves out keep
// their default names.
func LoadColumnProfile(path string) (*ColumnProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileError(errors.CodeFileNotFound, path, err)
		}
		return nil, errors.FileError(errors.CodeFilePermission, path, err)
	}

	profile := DefaultColumnProfile()
	if err := yaml.Unmarshal(data, profile); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "columns", path, err).
			WithSuggestion("check the YAML syntax of the column profile")
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	return profile, nil
}

func validAliasKeys(value interface{}) error {
	aliases, _ := value.(map[string][]string)
	for field := range aliases {
		switch field {
		case FieldID, FieldDate, FieldAmount, FieldVendor, FieldVoucherNo, FieldReceiverName:
		default:
			return fmt.Errorf("unknown field %q, expected one of id, date, amount, vendor, voucher_no, receiver_name", field)
		}
	}
	return nil
}

func singleRune(value interface{}) error {
	s, _ := value.(string)
	if s != "" && len([]rune(s)) != 1 && !strings.EqualFold(s, "tab") {
		return fmt.Errorf("must be a single character")
	}
	return nil
}
