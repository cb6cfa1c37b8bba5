package reconciler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"bank-fin-reconciler/internal/matcher"
	"bank-fin-reconciler/internal/parsers"
	"bank-fin-reconciler/pkg/errors"
	"bank-fin-reconciler/pkg/logger"

	"github.com/google/uuid"
)

// runLogTime is the timestamp layout of the run log lines
const runLogTime = "2006-01-02 15:04:05"

// Service orchestrates the complete reconciliation process.
//
// The lifecycle of one Process call:
//  1. validate the request
//  2. load the bank and finance sources concurrently
//  3. key every record (degraded cells are counted, not rejected)
//  4. run the matching engine, reporting each bank record
//  5. hand the run to every sink
//
// A Service holds no per-run state, so one value may process several
// requests at once. Progress callbacks must be registered before the first
// Process call.
type Service struct {
	config       *Config
	loader       *parsers.Loader
	preprocessor *Preprocessor
	engine       *matcher.Engine
	sinks        []Sink
	logger       logger.Logger

	callbacks []ProgressCallback
	now       func() time.Time
}

// Progress tracks the progress of one reconciliation
type Progress struct {
	RunID              string        `json:"run_id"`
	TotalSteps         int           `json:"total_steps"`
	CompletedSteps     int           `json:"completed_steps"`
	CurrentStep        string        `json:"current_step"`
	PercentComplete    float64       `json:"percent_complete"`
	StartTime          time.Time     `json:"start_time"`
	ElapsedTime        time.Duration `json:"elapsed_time"`
	EstimatedRemaining time.Duration `json:"estimated_remaining"`

	BankRecords      int `json:"bank_records"`
	FinanceRecords   int `json:"finance_records"`
	RecordsProcessed int `json:"records_processed"`
	MatchesFound     int `json:"matches_found"`

	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// ProgressCallback is called synchronously on every progress change
type ProgressCallback func(Progress)

// Step names reported in Progress.CurrentStep
const (
	StepValidating  = "Validating request"
	StepLoading     = "Loading sources"
	StepNormalizing = "Normalizing records"
	StepMatching    = "Matching"
	StepPersisting  = "Persisting results"
	StepCompleted   = "Completed"
	StepFailed      = "Failed"

	totalSteps = 5
)

// NewService creates a reconciliation service. A nil config means DefaultConfig.
func NewService(config *Config, sinks ...Sink) (*Service, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	s := &Service{
		config: config,
		sinks:  sinks,
		now:    time.Now,
	}
	if err := s.build(logger.GetGlobalLogger()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) build(log logger.Logger) error {
	engine, err := matcher.NewEngine(s.config.Matching)
	if err != nil {
		return err
	}

	s.logger = log.WithComponent("reconciler")
	s.engine = engine.WithLogger(log)
	s.loader = parsers.NewLoader(s.config.Columns, log).WithParseConfig(s.config.Parse)
	s.preprocessor = NewPreprocessor(s.config.Normalizer, log)
	return nil
}

// WithLogger replaces the logger of the service and its stages
func (s *Service) WithLogger(log logger.Logger) *Service {
	if log != nil {
		// the config was validated by NewService, so build cannot fail here
		_ = s.build(log)
	}
	return s
}

// AddProgressCallback adds a progress callback function
func (s *Service) AddProgressCallback(callback ProgressCallback) {
	s.callbacks = append(s.callbacks, callback)
}

// GetConfiguration returns the service configuration
func (s *Service) GetConfiguration() *Config {
	return s.config
}

// Process performs one reconciliation.
//
// When matching fails or ctx is cancelled the error is returned with a nil
// Outcome and nothing is persisted. When matching succeeds but a sink fails,
// the Outcome has StatusNotPersisted and carries the computed Run, and the
// same persistence error is also returned.
func (s *Service) Process(ctx context.Context, request *Request) (*Outcome, error) {
	runID := uuid.NewString()
	log := s.logger.WithField("run_id", runID)
	progress := newProgressState(runID, s.callbacks, s.now)

	started := s.now()
	log.Infof("Bank-Fin Reconciliation Started: %s", started.Format(runLogTime))

	progress.step(StepValidating, 0)
	if request == nil {
		err := errors.ValidationError(errors.CodeMissingField, "request", nil, nil)
		return nil, s.fail(log, progress, err)
	}
	if err := request.Validate(); err != nil {
		return nil, s.fail(log, progress, err)
	}
	log.WithFields(logger.Fields{
		"bank_file":    request.BankFile,
		"finance_file": request.FinanceFile,
	}).Info("Reconciliation request accepted")

	progress.step(StepLoading, 1)
	bank, finance, err := s.load(ctx, request)
	if err != nil {
		return nil, s.fail(log, progress, err)
	}
	progress.setTotals(len(bank.Records), len(finance.Records))

	progress.step(StepNormalizing, 2)
	degradation := Degradation{
		Bank:    s.preprocessor.PreprocessBank(bank.Records),
		Finance: s.preprocessor.PreprocessFinance(finance.Records),
	}
	if degradation.Bank.Degraded > 0 {
		progress.addWarning(fmt.Sprintf("%d bank records have degraded keys", degradation.Bank.Degraded))
	}
	if degradation.Finance.Degraded > 0 {
		progress.addWarning(fmt.Sprintf("%d finance records have degraded keys", degradation.Finance.Degraded))
	}

	progress.step(StepMatching, 3)
	result, err := s.match(ctx, log, progress, bank, finance)
	if err != nil {
		return nil, s.fail(log, progress, err)
	}

	run := &Run{
		ID:          runID,
		StartedAt:   started,
		FinishedAt:  s.now(),
		Request:     *request,
		Matching:    s.engine.GetConfiguration(),
		Bank:        bank,
		Finance:     finance,
		Degradation: degradation,
		Result:      result,
	}

	log.Infof("Bank-Fin Reconciliation Completed: %s", run.FinishedAt.Format(runLogTime))
	log.Infof("Matched Rows: %d", run.MatchedRows())
	log.Infof("Unmatched Bank Rows: %d", result.Summary.UnmatchedBankCount)
	log.Infof("Unmatched Finance Rows: %d", result.Summary.UnmatchedFinanceCount)

	progress.step(StepPersisting, 4)
	outcome := s.persist(ctx, log, run)
	for _, se := range outcome.SinkErrors {
		progress.addError(se.Error())
	}
	progress.step(StepCompleted, totalSteps)

	log.WithFields(logger.Fields{
		"status":   string(outcome.Status),
		"duration": run.Duration().String(),
	}).Info("Reconciliation finished")

	if outcome.Err != nil {
		return outcome, outcome.Err
	}
	return outcome, nil
}

func (s *Service) match(
	ctx context.Context,
	log logger.Logger,
	progress *progressState,
	bank *parsers.BankDataset,
	finance *parsers.FinanceDataset,
) (*matcher.Result, error) {
	tracker := logger.NewProgressTracker(logger.ProgressConfig{
		Operation:   "matching",
		Total:       int64(len(bank.Records)),
		LogInterval: s.config.ProgressInterval,
		Logger:      log,
	})

	result, err := s.engine.ReconcileWithProgress(ctx, bank.Records, finance.Records, func(ev matcher.ProgressEvent) {
		log.Debugf("Processing Bank UID: %s", ev.BankID)
		tracker.Increment()
		progress.record(ev)
	})
	if err != nil {
		return nil, err
	}
	tracker.Complete()

	for _, id := range result.TimedOut {
		progress.addWarning(fmt.Sprintf("combination search for bank record %s timed out", id))
	}

	if s.config.Verify {
		if err := matcher.Verify(result, s.config.Matching.Tolerance); err != nil {
			return nil, err
		}
		log.Debug("Partition verified")
	}
	return result, nil
}

// persist hands the run to every sink. A failing sink does not stop the
// others.
func (s *Service) persist(ctx context.Context, log logger.Logger, run *Run) *Outcome {
	outcome := &Outcome{Status: StatusCompleted, Run: run}

	var saved []Sink
	for _, sink := range s.sinks {
		if err := sink.Save(ctx, run); err != nil {
			log.WithError(err).WithField("sink", sink.Name()).Error("Failed to persist run")
			outcome.SinkErrors = append(outcome.SinkErrors, SinkError{Sink: sink.Name(), Err: err})
			continue
		}
		saved = append(saved, sink)
		log.WithField("sink", sink.Name()).Info("Run persisted")
	}

	if len(outcome.SinkErrors) == 0 {
		return outcome
	}

	// sinks that stored the run as completed learn that another sink failed
	for _, sink := range saved {
		recorder, ok := sink.(StatusRecorder)
		if !ok {
			continue
		}
		if err := recorder.RecordStatus(ctx, run.ID, StatusNotPersisted); err != nil {
			log.WithError(err).WithField("sink", sink.Name()).Error("Failed to record run status")
			outcome.SinkErrors = append(outcome.SinkErrors, SinkError{Sink: sink.Name(), Err: err})
		}
	}

	names := make([]string, len(outcome.SinkErrors))
	for i, se := range outcome.SinkErrors {
		names[i] = se.Sink
	}
	outcome.Status = StatusNotPersisted
	outcome.Err = errors.PersistenceError(errors.CodeNotPersisted, strings.Join(names, ", "), outcome.SinkErrors[0].Err).
		WithContext("run_id", run.ID).
		WithContext("failed_sinks", len(names))
	return outcome
}

func (s *Service) fail(log logger.Logger, progress *progressState, err error) error {
	progress.addError(err.Error())
	progress.step(StepFailed, progress.completed())
	log.WithError(err).WithField("status", string(StatusFailed)).Error("Bank-Fin Reconciliation Failed")
	return err
}

// progressState is the progress of a single Process call
type progressState struct {
	mu        sync.Mutex
	p         Progress
	callbacks []ProgressCallback
	now       func() time.Time
}

func newProgressState(runID string, callbacks []ProgressCallback, now func() time.Time) *progressState {
	return &progressState{
		p: Progress{
			RunID:      runID,
			TotalSteps: totalSteps,
			StartTime:  now(),
		},
		callbacks: callbacks,
		now:       now,
	}
}

func (ps *progressState) step(name string, completed int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.p.CurrentStep = name
	ps.p.CompletedSteps = completed
	ps.updateLocked(float64(completed))
}

// record advances the matching step by one bank record
func (ps *progressState) record(ev matcher.ProgressEvent) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.p.RecordsProcessed = ev.Index
	if ev.Outcome == matcher.OutcomeExact || ev.Outcome == matcher.OutcomeCombination {
		ps.p.MatchesFound++
	}

	done := float64(ps.p.CompletedSteps)
	if ev.Total > 0 {
		done += float64(ev.Index) / float64(ev.Total)
	}
	ps.updateLocked(done)
}

func (ps *progressState) setTotals(bank, finance int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.p.BankRecords = bank
	ps.p.FinanceRecords = finance
}

func (ps *progressState) addWarning(message string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.p.Warnings = append(ps.p.Warnings, message)
}

func (ps *progressState) addError(message string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.p.Errors = append(ps.p.Errors, message)
}

func (ps *progressState) completed() int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.p.CompletedSteps
}

func (ps *progressState) updateLocked(done float64) {
	elapsed := ps.now().Sub(ps.p.StartTime)
	ps.p.ElapsedTime = elapsed
	ps.p.PercentComplete = done / float64(ps.p.TotalSteps) * 100

	ps.p.EstimatedRemaining = 0
	if done > 0 && done < float64(ps.p.TotalSteps) {
		perStep := float64(elapsed) / done
		ps.p.EstimatedRemaining = time.Duration(perStep * (float64(ps.p.TotalSteps) - done))
	}

	if len(ps.callbacks) == 0 {
		return
	}
	snapshot := ps.p
	snapshot.Errors = append([]string(nil), ps.p.Errors...)
	snapshot.Warnings = append([]string(nil), ps.p.Warnings...)
	for _, callback := range ps.callbacks {
		callback(snapshot)
	}
}
