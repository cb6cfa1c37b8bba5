package reporter

import (
	"fmt"

	"bank-fin-reconciler/internal/models"
	"bank-fin-reconciler/internal/reconciler"
)

// Row roles in the matched listing
const (
	RoleBank    = "Bank"
	RoleFinance = "Finance"
)

// MatchFlagColumn marks unmatched rows in the unmatched sheets
const MatchFlagColumn = "der_bank_fin_match"

// MatchedHeaders is the column order of the matched listing
var MatchedHeaders = []string{
	"Match ID",
	"Type",
	"Role",
	"UID",
	"Date",
	"Vendor",
	"Amount",
	"Receiver Name",
	"der_bank_ven",
	"der_fin_ven",
	"Voucher No",
}

// MatchedRow is one line of the matched listing. Every group produces a
// bank line followed by one line per finance member, all carrying the raw
// cells of their source rows.
type MatchedRow struct {
	MatchID      string `json:"match_id"`
	Type         string `json:"type"`
	Role         string `json:"role"`
	UID          string `json:"uid"`
	Date         string `json:"date"`
	Vendor       string `json:"vendor"`
	Amount       string `json:"amount"`
	ReceiverName string `json:"receiver_name"`
	BankVendor   string `json:"der_bank_ven"`
	FinVendor    string `json:"der_fin_ven"`
	VoucherNo    string `json:"voucher_no"`
}

// Values returns the row in MatchedHeaders order
func (r MatchedRow) Values() []string {
	return []string{
		r.MatchID,
		r.Type,
		r.Role,
		r.UID,
		r.Date,
		r.Vendor,
		r.Amount,
		r.ReceiverName,
		r.BankVendor,
		r.FinVendor,
		r.VoucherNo,
	}
}

// BuildMatchedRows expands the groups of a run into listing rows, in match
// id order. The bank line of a 1-to-1 group repeats the finance vendor; on
// larger groups it is left blank because the members may differ.
func BuildMatchedRows(run *reconciler.Run) ([]MatchedRow, error) {
	if run == nil || run.Result == nil {
		return nil, nil
	}
	result := run.Result
	withVoucher := run.Finance == nil || run.Finance.HasVoucherNo

	rows := make([]MatchedRow, 0, run.MatchedRows())
	for _, g := range result.Matched {
		b, ok := result.Bank(g.BankID)
		if !ok {
			return nil, fmt.Errorf("match %s refers to unknown bank record %s", g.MatchID, g.BankID)
		}

		members := make([]*models.FinanceRecord, len(g.FinanceIDs))
		for i, id := range g.FinanceIDs {
			f, ok := result.Finance(id)
			if !ok {
				return nil, fmt.Errorf("match %s refers to unknown finance record %s", g.MatchID, id)
			}
			members[i] = f
		}

		bankRow := MatchedRow{
			MatchID:    g.MatchID,
			Type:       g.Type.String(),
			Role:       RoleBank,
			UID:        b.ID,
			Date:       b.RawDate,
			Vendor:     b.RawVendor,
			Amount:     b.RawAmount,
			BankVendor: b.RawVendor,
		}
		if g.Type.Kind == models.KindOneToOne {
			bankRow.FinVendor = members[0].RawVendor
		}
		rows = append(rows, bankRow)

		for _, f := range members {
			row := MatchedRow{
				MatchID:      g.MatchID,
				Type:         g.Type.String(),
				Role:         RoleFinance,
				UID:          f.ID,
				Date:         f.RawDate,
				Vendor:       f.RawVendor,
				Amount:       f.RawAmount,
				ReceiverName: f.ReceiverName,
				BankVendor:   b.RawVendor,
				FinVendor:    f.RawVendor,
			}
			if withVoucher {
				row.VoucherNo = f.VoucherNo
			}
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// payloadHeaders returns the column names for a sheet of raw rows. Rows can
// be wider than the header line; the extra cells get positional names the
// same way the loader names them.
func payloadHeaders(headers []string, payloads []models.Payload) []string {
	width := len(headers)
	for _, p := range payloads {
		if len(p) > width {
			width = len(p)
		}
	}

	out := make([]string, width)
	for i := range out {
		if i < len(headers) && headers[i] != "" {
			out[i] = headers[i]
			continue
		}
		out[i] = fmt.Sprintf("Column %d", i+1)
	}
	return out
}

// payloadValues lays a payload out under width columns
func payloadValues(p models.Payload, width int) []string {
	out := make([]string, width)
	for i := 0; i < width && i < len(p); i++ {
		out[i] = p[i].Value
	}
	return out
}

func bankPayloads(records []*models.BankRecord) []models.Payload {
	out := make([]models.Payload, len(records))
	for i, r := range records {
		out[i] = r.Payload
	}
	return out
}

func financePayloads(records []*models.FinanceRecord) []models.Payload {
	out := make([]models.Payload, len(records))
	for i, r := range records {
		out[i] = r.Payload
	}
	return out
}
