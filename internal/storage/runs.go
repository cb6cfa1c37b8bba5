package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"bank-fin-reconciler/internal/matcher"
	"bank-fin-reconciler/internal/models"
	"bank-fin-reconciler/internal/reconciler"
	"bank-fin-reconciler/pkg/errors"
	"bank-fin-reconciler/pkg/logger"

	"github.com/shopspring/decimal"
)

// Raw record sources
const (
	SourceBank    = "bank"
	SourceFinance = "finance"
)

// RunRecord is the stored header of one run
type RunRecord struct {
	RunID              string          `json:"run_id"`
	Status             string          `json:"status"`
	BankFile           string          `json:"bank_file"`
	FinanceFile        string          `json:"finance_file"`
	StartedAt          time.Time       `json:"started_at"`
	FinishedAt         time.Time       `json:"finished_at"`
	Tolerance          decimal.Decimal `json:"tolerance"`
	MaxCombinationSize int             `json:"max_combination_size"`
	BankRecords        int             `json:"bank_records"`
	FinanceRecords     int             `json:"finance_records"`
	MatchedGroups      int             `json:"matched_groups"`
	MatchedRows        int             `json:"matched_rows"`
	UnmatchedBank      int             `json:"unmatched_bank"`
	UnmatchedFinance   int             `json:"unmatched_finance"`
	TimedOut           int             `json:"timed_out"`
	Summary            matcher.Summary `json:"summary"`
}

// Save implements reconciler.Sink
func (s *Store) Save(ctx context.Context, run *reconciler.Run) error {
	return s.SaveRun(ctx, run)
}

// RecordStatus implements reconciler.StatusRecorder
func (s *Store) RecordStatus(ctx context.Context, runID string, status reconciler.Status) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE runs SET status = ? WHERE run_id = ?`), string(status), runID)
	if err != nil {
		return errors.PersistenceError(errors.CodeNotPersisted, "store", err).
			WithContext("run_id", runID).
			WithContext("table", "runs")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.PersistenceError(errors.CodeRunNotFound, "store", nil).
			WithContext("run_id", runID)
	}
	return nil
}

// SaveRun writes run in one transaction. The run is stored as completed;
// RecordStatus corrects it when another sink fails.
func (s *Store) SaveRun(ctx context.Context, run *reconciler.Run) error {
	if run == nil || run.Result == nil {
		return errors.ValidationError(errors.CodeMissingField, "run", nil, nil)
	}

	start := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.saveError(run, "begin", err)
	}

	if err := s.writeRun(ctx, tx, run); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.WithError(rbErr).Warn("Rollback failed")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return s.saveError(run, "commit", err)
	}

	s.logger.WithFields(logger.Fields{
		"run_id":  run.ID,
		"groups":  len(run.Result.Matched),
		"elapsed": time.Since(start).Round(time.Millisecond).String(),
	}).Info("Run stored")
	return nil
}

func (s *Store) writeRun(ctx context.Context, tx *sql.Tx, run *reconciler.Run) error {
	result := run.Result
	summary, err := json.Marshal(result.Summary)
	if err != nil {
		return s.saveError(run, "summary", err)
	}

	tolerance := decimal.Zero
	maxSize := 0
	if run.Matching != nil {
		tolerance = run.Matching.Tolerance
		maxSize = run.Matching.MaxCombinationSize
	}

	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO runs (
			run_id, status, bank_file, finance_file, started_at, finished_at,
			tolerance, max_combination_size, bank_records, finance_records,
			matched_groups, matched_rows, unmatched_bank, unmatched_finance,
			timed_out, summary
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		run.ID, string(reconciler.StatusCompleted), run.Request.BankFile, run.Request.FinanceFile,
		run.StartedAt.UTC(), run.FinishedAt.UTC(),
		tolerance.StringFixed(2), maxSize, result.Summary.BankRecords, result.Summary.FinanceRecords,
		result.Summary.MatchedGroups, run.MatchedRows(), len(result.UnmatchedBank), len(result.UnmatchedFinance),
		len(result.TimedOut), string(summary),
	)
	if err != nil {
		return s.saveError(run, "runs", err)
	}

	for seq, g := range result.Matched {
		_, err = tx.ExecContext(ctx, s.rebind(`
			INSERT INTO match_groups (run_id, match_id, seq, match_type, size, bank_uid, bank_amount, finance_total)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			run.ID, g.MatchID, seq, g.Type.String(), len(g.FinanceIDs), g.BankID,
			g.BankAmount.StringFixed(2), g.FinanceTotal.StringFixed(2),
		)
		if err != nil {
			return s.saveError(run, "match_groups", err).WithContext("match_id", g.MatchID)
		}

		for i, id := range g.FinanceIDs {
			_, err = tx.ExecContext(ctx, s.rebind(`
				INSERT INTO match_members (run_id, match_id, position, fin_uid) VALUES (?, ?, ?, ?)`),
				run.ID, g.MatchID, i, id,
			)
			if err != nil {
				return s.saveError(run, "match_members", err).WithContext("match_id", g.MatchID)
			}
		}
	}

	timedOut := make(map[string]bool, len(result.TimedOut))
	for _, id := range result.TimedOut {
		timedOut[id] = true
	}
	for _, b := range result.UnmatchedBank {
		_, err = tx.ExecContext(ctx, s.rebind(`
			INSERT INTO unmatched_bank (run_id, bank_uid, line, amount, timed_out) VALUES (?, ?, ?, ?, ?)`),
			run.ID, b.ID, b.Line, b.Key.Amount.StringFixed(2), timedOut[b.ID],
		)
		if err != nil {
			return s.saveError(run, "unmatched_bank", err)
		}
	}
	for _, f := range result.UnmatchedFinance {
		_, err = tx.ExecContext(ctx, s.rebind(`
			INSERT INTO unmatched_finance (run_id, fin_uid, line, amount) VALUES (?, ?, ?, ?)`),
			run.ID, f.ID, f.Line, f.Key.Amount.StringFixed(2),
		)
		if err != nil {
			return s.saveError(run, "unmatched_finance", err)
		}
	}

	return s.writeRawRecords(ctx, tx, run)
}

func (s *Store) writeRawRecords(ctx context.Context, tx *sql.Tx, run *reconciler.Run) error {
	insert := s.rebind(`INSERT INTO raw_records (run_id, source, line, uid, payload) VALUES (?, ?, ?, ?, ?)`)

	write := func(source string, line int, uid string, payload models.Payload) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return s.saveError(run, "raw_records", err)
		}
		if _, err := tx.ExecContext(ctx, insert, run.ID, source, line, uid, string(data)); err != nil {
			return s.saveError(run, "raw_records", err).WithContext("source", source)
		}
		return nil
	}

	if run.Bank != nil {
		for _, b := range run.Bank.Records {
			if err := write(SourceBank, b.Line, b.ID, b.Payload); err != nil {
				return err
			}
		}
	}
	if run.Finance != nil {
		for _, f := range run.Finance.Records {
			if err := write(SourceFinance, f.Line, f.ID, f.Payload); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) saveError(run *reconciler.Run, table string, err error) *errors.ReconcilerError {
	return errors.PersistenceError(errors.CodeNotPersisted, "store", err).
		WithContext("run_id", run.ID).
		WithContext("table", table)
}

const runColumns = `run_id, status, bank_file, finance_file, started_at, finished_at,
	tolerance, max_combination_size, bank_records, finance_records,
	matched_groups, matched_rows, unmatched_bank, unmatched_finance,
	timed_out, summary`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	var (
		r         RunRecord
		tolerance string
		summary   string
	)
	err := row.Scan(
		&r.RunID, &r.Status, &r.BankFile, &r.FinanceFile, &r.StartedAt, &r.FinishedAt,
		&tolerance, &r.MaxCombinationSize, &r.BankRecords, &r.FinanceRecords,
		&r.MatchedGroups, &r.MatchedRows, &r.UnmatchedBank, &r.UnmatchedFinance,
		&r.TimedOut, &summary,
	)
	if err != nil {
		return nil, err
	}

	if r.Tolerance, err = decimal.NewFromString(tolerance); err != nil {
		return nil, fmt.Errorf("run %s: tolerance %q: %w", r.RunID, tolerance, err)
	}
	if err := json.Unmarshal([]byte(summary), &r.Summary); err != nil {
		return nil, fmt.Errorf("run %s: summary: %w", r.RunID, err)
	}
	return &r, nil
}

// GetRun reads the header of one run
func (s *Store) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+runColumns+` FROM runs WHERE run_id = ?`), runID)

	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, errors.PersistenceError(errors.CodeRunNotFound, "store", err).
			WithContext("run_id", runID)
	}
	if err != nil {
		return nil, errors.PersistenceError(errors.CodeStoreUnavailable, "store", err).
			WithContext("run_id", runID)
	}
	return r, nil
}

// ListRuns returns the most recent runs first. A limit of 0 or less
// returns every run.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, run_id`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, errors.PersistenceError(errors.CodeStoreUnavailable, "store", err)
	}
	defer rows.Close()

	runs := make([]*RunRecord, 0)
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, errors.PersistenceError(errors.CodeStoreUnavailable, "store", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.PersistenceError(errors.CodeStoreUnavailable, "store", err)
	}
	return runs, nil
}

// ListGroups returns the match groups of a run in the order they were formed
func (s *Store) ListGroups(ctx context.Context, runID string) ([]*models.MatchGroup, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT g.match_id, g.size, g.bank_uid, g.bank_amount, g.finance_total, m.fin_uid
		FROM match_groups g
		JOIN match_members m ON m.run_id = g.run_id AND m.match_id = g.match_id
		WHERE g.run_id = ?
		ORDER BY g.seq, m.position`), runID)
	if err != nil {
		return nil, errors.PersistenceError(errors.CodeStoreUnavailable, "store", err).
			WithContext("run_id", runID)
	}
	defer rows.Close()

	groups := make([]*models.MatchGroup, 0)
	var current *models.MatchGroup
	for rows.Next() {
		var (
			matchID, bankUID, finUID string
			bankAmount, financeTotal string
			size                     int
		)
		if err := rows.Scan(&matchID, &size, &bankUID, &bankAmount, &financeTotal, &finUID); err != nil {
			return nil, errors.PersistenceError(errors.CodeStoreUnavailable, "store", err)
		}

		if current == nil || current.MatchID != matchID {
			current = &models.MatchGroup{
				MatchID:    matchID,
				Type:       matchType(size),
				BankID:     bankUID,
				FinanceIDs: make([]string, 0, size),
			}
			current.BankAmount, _ = decimal.NewFromString(bankAmount)
			current.FinanceTotal, _ = decimal.NewFromString(financeTotal)
			groups = append(groups, current)
		}
		current.FinanceIDs = append(current.FinanceIDs, finUID)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.PersistenceError(errors.CodeStoreUnavailable, "store", err)
	}
	return groups, nil
}

func matchType(size int) models.MatchType {
	if size == 1 {
		return models.OneToOne()
	}
	return models.OneToN(size)
}
