package attendance

import (
	"context"
	"sync"
)

type WriteResult struct {
	Database Database
	Outcome  Outcome
	Source   Source
}

// Service applies mutations as load, apply, save cycles. Cycles are serialized
// within the process; separate processes sharing a store are last-write-wins.
type Service struct {
	coordinator *Coordinator
	logger      Logger
	metrics     *Metrics

	writeMu sync.Mutex
}

func NewService(coordinator *Coordinator, logger Logger, metrics *Metrics) *Service {
	return &Service{coordinator: coordinator, logger: logger, metrics: metrics}
}

func (s *Service) Coordinator() *Coordinator {
	return s.coordinator
}

func (s *Service) State(ctx context.Context) (LoadResult, error) {
	return s.coordinator.Load(ctx)
}

// Apply persists the result even when the mutation changed nothing, so a
// snapshot served from the fallback file is pushed back to the durable store.
func (s *Service) Apply(ctx context.Context, m Mutation) (WriteResult, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	loaded, err := s.coordinator.Load(ctx)
	if err != nil {
		return WriteResult{}, err
	}
	next, outcome := Apply(loaded.Database, m)
	s.metrics.observeMutation(m.Kind(), outcome)
	switch outcome {
	case OutcomeLocked:
		s.logf("[attendsync] attempt to clear records blocked, history is preserved")
	case OutcomeDuplicate:
		if add, ok := m.(AddRecord); ok {
			s.logf("[attendsync] duplicate check-in ignored student=%s session=%s", add.Record.StudentID, add.Record.SessionID)
		}
	}
	if err := s.coordinator.Save(ctx, next); err != nil {
		return WriteResult{}, err
	}
	return WriteResult{Database: next, Outcome: outcome, Source: loaded.Source}, nil
}

func (s *Service) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}
