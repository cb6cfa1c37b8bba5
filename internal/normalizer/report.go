package normalizer

import (
	"bank-fin-reconciler/internal/models"
)

// Report counts the degraded keys of one dataset
type Report struct {
	Records  int            `json:"records"`
	Degraded int            `json:"degraded"`
	ByFlag   map[string]int `json:"by_flag,omitempty"`
}

func newReport() *Report {
	return &Report{ByFlag: make(map[string]int)}
}

func (r *Report) observe(key models.NormalizedKey) {
	r.Records++
	if !key.Degraded() {
		return
	}
	r.Degraded++
	for _, flag := range key.Degradation.Flags() {
		r.ByFlag[flag]++
	}
}

// Bank keys every bank record in place and reports degradation.
func (n *Normalizer) Bank(records []*models.BankRecord) *Report {
	report := newReport()
	for _, r := range records {
		r.Key = n.Key(r.RawDate, r.RawAmount, r.RawVendor)
		report.observe(r.Key)
	}
	return report
}

// Finance keys every finance record in place and reports degradation.
func (n *Normalizer) Finance(records []*models.FinanceRecord) *Report {
	report := newReport()
	for _, r := range records {
		r.Key = n.Key(r.RawDate, r.RawAmount, r.RawVendor)
		report.observe(r.Key)
	}
	return report
}
