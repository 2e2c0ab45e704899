package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"vitalred_worker/core/domain"
	"vitalred_worker/pkg/apperr"
)

// maxErrorLog bounds the retained error entries; ErrorsCount keeps the total.
const maxErrorLog = 100

// Session is the state of one extraction run. Counters are written only by
// the session's orchestrating goroutine and read lock-free by Snapshot.
type Session struct {
	id        string
	startedAt time.Time
	now       func() time.Time

	status     atomic.Value // domain.SessionStatus
	total      atomic.Int64
	succeeded  atomic.Int64
	failed     atomic.Int64
	errorCount atomic.Int64
	current    atomic.Pointer[string]
	eta        atomic.Int64 // unix nanos, 0 when unknown
	finishedAt atomic.Int64 // unix nanos, 0 while active

	mu            sync.Mutex
	gate          chan struct{} // closed while not paused
	stopRequested bool
	errors        []domain.ErrorEntry

	done chan struct{}
}

func newSession(id string, now func() time.Time) *Session {
	gate := make(chan struct{})
	close(gate)
	s := &Session{
		id:        id,
		startedAt: now(),
		now:       now,
		gate:      gate,
		done:      make(chan struct{}),
	}
	s.status.Store(domain.SessionRunning)
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) Status() domain.SessionStatus {
	return s.status.Load().(domain.SessionStatus)
}

// Done is closed once the session reaches a terminal status.
func (s *Session) Done() <-chan struct{} { return s.done }

// =============================================================================
// Control
// =============================================================================

func (s *Session) pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch st := s.Status(); {
	case st == domain.SessionPaused:
		return nil
	case st != domain.SessionRunning || s.stopRequested:
		return apperr.SessionInvalidState("pause", s.describe())
	}
	s.gate = make(chan struct{})
	s.status.Store(domain.SessionPaused)
	return nil
}

func (s *Session) resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch st := s.Status(); st {
	case domain.SessionRunning:
		return nil
	case domain.SessionPaused:
		close(s.gate)
		s.status.Store(domain.SessionRunning)
		return nil
	default:
		return apperr.SessionInvalidState("resume", string(st))
	}
}

// requestStop is honoured at the next batch boundary.
func (s *Session) requestStop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st := s.Status(); st != domain.SessionRunning {
		return apperr.SessionInvalidState("stop", string(st))
	}
	s.stopRequested = true
	return nil
}

func (s *Session) stopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopRequested
}

func (s *Session) describe() string {
	if s.stopRequested {
		return "stopping"
	}
	return string(s.Status())
}

// waitResumed blocks while the session is paused.
func (s *Session) waitResumed(ctx context.Context) error {
	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()

	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// =============================================================================
// Orchestrator writes
// =============================================================================

func (s *Session) setTotal(n int) { s.total.Store(int64(n)) }

func (s *Session) setCurrent(id string) { s.current.Store(&id) }

func (s *Session) recordSuccess() { s.succeeded.Add(1) }

func (s *Session) recordFailure(itemID, message string) {
	s.failed.Add(1)
	s.logError(itemID, message)
}

func (s *Session) logError(itemID, message string) {
	s.errorCount.Add(1)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, domain.ErrorEntry{At: s.now(), ItemID: itemID, Message: message})
	if len(s.errors) > maxErrorLog {
		s.errors = s.errors[len(s.errors)-maxErrorLog:]
	}
}

// updateETA projects the completion time from the average time per item.
func (s *Session) updateETA() {
	processed := s.succeeded.Load() + s.failed.Load()
	remaining := s.total.Load() - processed
	if processed == 0 || remaining <= 0 {
		s.eta.Store(0)
		return
	}
	now := s.now()
	perItem := now.Sub(s.startedAt) / time.Duration(processed)
	s.eta.Store(now.Add(perItem * time.Duration(remaining)).UnixNano())
}

// finish moves the session to a terminal status and wakes a paused gate.
// Only the first call has any effect.
func (s *Session) finish(status domain.SessionStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Status().IsTerminal() {
		return false
	}
	if s.Status() == domain.SessionPaused {
		close(s.gate)
	}
	s.finishedAt.Store(s.now().UnixNano())
	s.eta.Store(0)
	s.status.Store(status)
	close(s.done)
	return true
}

func (s *Session) fail(itemID, message string) bool {
	s.logError(itemID, message)
	return s.finish(domain.SessionFailed)
}

// =============================================================================
// Snapshot
// =============================================================================

// Snapshot returns the current progress. ProcessedEmails is derived from
// the two outcome counters so it always equals their sum.
func (s *Session) Snapshot() domain.Progress {
	succeeded := int(s.succeeded.Load())
	failed := int(s.failed.Load())

	end := s.now()
	if f := s.finishedAt.Load(); f != 0 {
		end = time.Unix(0, f)
	}

	p := domain.Progress{
		SessionID:             s.id,
		Status:                s.Status(),
		TotalEmails:           int(s.total.Load()),
		ProcessedEmails:       succeeded + failed,
		SuccessfulExtractions: succeeded,
		FailedExtractions:     failed,
		StartedAt:             s.startedAt,
		ElapsedSeconds:        end.Sub(s.startedAt).Seconds(),
		ErrorsCount:           int(s.errorCount.Load()),
	}
	if cur := s.current.Load(); cur != nil {
		p.CurrentEmailID = *cur
	}
	if eta := s.eta.Load(); eta != 0 {
		t := time.Unix(0, eta)
		p.EstimatedCompletion = &t
	}

	s.mu.Lock()
	p.Errors = append([]domain.ErrorEntry(nil), s.errors...)
	s.mu.Unlock()
	return p
}
