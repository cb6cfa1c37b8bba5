package storage

import (
	"context"
	"sync"

	"bank-fin-reconciler/internal/reconciler"
	"bank-fin-reconciler/pkg/logger"
)

// LazySink opens the store on the first Save, so an unreachable database
// costs the run its persistence but not its result.
type LazySink struct {
	dsn    string
	logger logger.Logger

	mu    sync.Mutex
	store *Store
}

// NewLazySink creates a sink for dsn without connecting
func NewLazySink(dsn string, log logger.Logger) *LazySink {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &LazySink{dsn: dsn, logger: log}
}

// Name implements reconciler.Sink
func (s *LazySink) Name() string {
	return "store"
}

// Save implements reconciler.Sink
func (s *LazySink) Save(ctx context.Context, run *reconciler.Run) error {
	store, err := s.open(ctx)
	if err != nil {
		return err
	}
	return store.SaveRun(ctx, run)
}

// RecordStatus implements reconciler.StatusRecorder
func (s *LazySink) RecordStatus(ctx context.Context, runID string, status reconciler.Status) error {
	store, err := s.open(ctx)
	if err != nil {
		return err
	}
	return store.RecordStatus(ctx, runID, status)
}

func (s *LazySink) open(ctx context.Context) (*Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.store != nil {
		return s.store, nil
	}
	store, err := Open(ctx, s.dsn, s.logger)
	if err != nil {
		return nil, err
	}
	s.store = store
	return store, nil
}

// Close closes the store if it was opened
func (s *LazySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.store == nil {
		return nil
	}
	err := s.store.Close()
	s.store = nil
	return err
}
