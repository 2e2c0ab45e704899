// Package session runs mailbox extraction sessions: authenticate, enumerate,
// then process messages in fixed-size batches with bounded concurrency.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"vitalred_worker/core/domain"
	"vitalred_worker/core/port/in"
	"vitalred_worker/core/port/out"
	"vitalred_worker/pkg/apperr"
	"vitalred_worker/pkg/logger"
	"vitalred_worker/pkg/metrics"

	"github.com/go-pkgz/pool"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var _ in.ExtractionService = (*Manager)(nil)

// Deps are the collaborators of every session. Annotator and Latency are
// optional.
type Deps struct {
	Mail       out.MailSessionFactory
	Parser     Parser
	Extractor  TextExtractor
	Classifier Classifier
	Annotator  out.Annotator
	Sink       out.RecordSink
	Latency    *metrics.PipelineLatency
}

func (d Deps) validate() error {
	switch {
	case d.Mail == nil:
		return apperr.ConfigError("session: mail session factory is required")
	case d.Parser == nil:
		return apperr.ConfigError("session: parser is required")
	case d.Extractor == nil:
		return apperr.ConfigError("session: extractor is required")
	case d.Classifier == nil:
		return apperr.ConfigError("session: classifier is required")
	case d.Sink == nil:
		return apperr.ConfigError("session: record sink is required")
	}
	return nil
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type ManagerOption func(*Manager)

func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

func WithSleeper(sleep Sleeper) ManagerOption {
	return func(m *Manager) { m.sleep = sleep }
}

func WithIDGenerator(newID func() string) ManagerOption {
	return func(m *Manager) { m.newID = newID }
}

func WithLogger(log zerolog.Logger) ManagerOption {
	return func(m *Manager) { m.log = log }
}

// OnBatch registers a callback run after every batch with a fresh snapshot.
func OnBatch(fn func(domain.Progress)) ManagerOption {
	return func(m *Manager) { m.onBatch = append(m.onBatch, fn) }
}

// OnComplete registers a callback run once a session reaches a terminal
// status.
func OnComplete(fn func(domain.Progress)) ManagerOption {
	return func(m *Manager) { m.onComplete = append(m.onComplete, fn) }
}

// Manager owns at most one active session per process and keeps finished
// sessions for progress queries.
type Manager struct {
	deps  Deps
	opts  Options
	now   func() time.Time
	sleep Sleeper
	newID func() string
	log   zerolog.Logger

	onBatch    []func(domain.Progress)
	onComplete []func(domain.Progress)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	active   *Session
	sessions map[string]*Session
}

func NewManager(deps Deps, opts Options, mopts ...ManagerOption) (*Manager, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		deps:     deps,
		opts:     opts,
		now:      time.Now,
		sleep:    sleepContext,
		newID:    uuid.NewString,
		log:      logger.Component("extraction_session"),
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*Session),
	}
	for _, o := range mopts {
		o(m)
	}
	return m, nil
}

// StartExtraction implements in.ExtractionService.
func (m *Manager) StartExtraction(ctx context.Context, account, secret string, maxEmails int) (string, error) {
	return m.Start(ctx, domain.Credentials{Account: account, Secret: secret}, maxEmails)
}

// Start fails synchronously with SESSION_CONFLICT while another session is
// active. Authentication and processing continue in the background; their
// outcome is visible through GetProgress.
func (m *Manager) Start(_ context.Context, creds domain.Credentials, maxItems int) (string, error) {
	if creds.Account == "" {
		return "", apperr.InvalidInput("account", "is required")
	}
	if maxItems < 1 {
		return "", apperr.InvalidInput("max_emails", "must be at least 1")
	}

	m.mu.Lock()
	if m.active != nil && !m.active.Status().IsTerminal() {
		id := m.active.ID()
		m.mu.Unlock()
		return "", apperr.SessionConflict(id)
	}
	s := newSession(m.newID(), m.now)
	m.active = s
	m.sessions[s.ID()] = s
	m.mu.Unlock()

	m.log.Info().
		Str("session_id", s.ID()).
		Str("account", creds.Account).
		Int("max_items", maxItems).
		Msg("extraction session started")

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(m.ctx, s, creds, maxItems)
	}()
	return s.ID(), nil
}

func (m *Manager) lookup(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, apperr.SessionNotFound(id)
	}
	return s, nil
}

func (m *Manager) Pause(id string) error {
	s, err := m.lookup(id)
	if err != nil {
		return err
	}
	if err := s.pause(); err != nil {
		return err
	}
	m.log.Info().Str("session_id", id).Msg("session paused")
	return nil
}

func (m *Manager) Resume(id string) error {
	s, err := m.lookup(id)
	if err != nil {
		return err
	}
	if err := s.resume(); err != nil {
		return err
	}
	m.log.Info().Str("session_id", id).Msg("session resumed")
	return nil
}

// Stop asks a running session to stop at the next batch boundary. In-flight
// items finish first.
func (m *Manager) Stop(id string) error {
	s, err := m.lookup(id)
	if err != nil {
		return err
	}
	if err := s.requestStop(); err != nil {
		return err
	}
	m.log.Info().Str("session_id", id).Msg("stop requested")
	return nil
}

func (m *Manager) GetProgress(id string) (domain.Progress, error) {
	s, err := m.lookup(id)
	if err != nil {
		return domain.Progress{}, err
	}
	return s.Snapshot(), nil
}

// Active returns the most recently started session, if any.
func (m *Manager) Active() (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active, m.active != nil
}

// ActiveID returns the id of the most recently started session.
func (m *Manager) ActiveID() (string, bool) {
	s, ok := m.Active()
	if !ok {
		return "", false
	}
	return s.ID(), true
}

// Wait blocks until the session is terminal or ctx is done.
func (m *Manager) Wait(ctx context.Context, id string) (domain.Progress, error) {
	s, err := m.lookup(id)
	if err != nil {
		return domain.Progress{}, err
	}
	select {
	case <-s.Done():
		return s.Snapshot(), nil
	case <-ctx.Done():
		return s.Snapshot(), ctx.Err()
	}
}

// Shutdown cancels every running session and waits for their goroutines.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// =============================================================================
// Session loop
// =============================================================================

func (m *Manager) run(ctx context.Context, s *Session, creds domain.Credentials, maxItems int) {
	log := m.log.With().Str("session_id", s.ID()).Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("panic", fmt.Sprint(r)).Msg("session loop crashed")
			s.fail("", fmt.Sprintf("session loop crashed: %v", r))
		}
		m.complete(s, log)
	}()

	mail, err := m.deps.Mail.Open(ctx)
	if err != nil {
		log.Error().Err(err).Msg("browser session could not be opened")
		s.fail("", err.Error())
		return
	}
	defer func() {
		if err := mail.Close(); err != nil {
			log.Warn().Err(err).Msg("browser session close failed")
		}
	}()

	if err := mail.Authenticate(ctx, creds); err != nil {
		log.Error().Err(err).Msg("authentication failed")
		s.fail("", err.Error())
		return
	}

	var handles []domain.RawMessageHandle
	for h, err := range mail.ListMessageIDs(ctx, maxItems) {
		if err != nil {
			log.Error().Err(err).Msg("message enumeration failed")
			s.fail("", err.Error())
			return
		}
		handles = append(handles, h)
	}
	s.setTotal(len(handles))
	log.Info().Int("total", len(handles)).Msg("messages enumerated")

	p := &pipeline{
		mail:       mail,
		parser:     m.deps.Parser,
		extractor:  m.deps.Extractor,
		classifier: m.deps.Classifier,
		annotator:  m.deps.Annotator,
		sink:       m.deps.Sink,
		latency:    m.deps.Latency,
		now:        m.now,
		log:        log,
	}

	batches := 0
	for start := 0; start < len(handles); start += m.opts.BatchSize {
		if s.stopping() {
			break
		}
		batch := handles[start:min(start+m.opts.BatchSize, len(handles))]
		if err := m.runBatch(ctx, s, p, batch); err != nil {
			log.Error().Err(err).Msg("batch aborted")
			s.fail("", err.Error())
			return
		}
		batches++
		s.updateETA()
		m.notify(m.onBatch, s.Snapshot())

		snap := s.Snapshot()
		log.Info().
			Int("batch", batches).
			Int("size", len(batch)).
			Int("processed", snap.ProcessedEmails).
			Int("failed", snap.FailedExtractions).
			Msg("batch completed")

		if start+m.opts.BatchSize < len(handles) {
			if err := m.sleep(ctx, m.opts.BatchDelay); err != nil {
				s.fail("", err.Error())
				return
			}
		}
	}

	if s.stopping() {
		s.finish(domain.SessionStopped)
		return
	}
	s.finish(domain.SessionCompleted)
}

type outcome struct {
	id       string
	err      error
	attempts int
}

// runBatch dispatches one batch to a worker group and applies outcomes as
// they arrive. This goroutine is the only writer of the session counters.
func (m *Manager) runBatch(ctx context.Context, s *Session, p *pipeline, batch []domain.RawMessageHandle) error {
	outcomes := make(chan outcome, len(batch))

	worker := pool.WorkerFunc[domain.RawMessageHandle](func(ctx context.Context, h domain.RawMessageHandle) error {
		if err := s.waitResumed(ctx); err != nil {
			return err
		}
		s.setCurrent(h.ID)
		outcomes <- m.processWithRetry(ctx, s.ID(), p, h)
		return nil
	})

	wg := pool.New[domain.RawMessageHandle](m.opts.Concurrency, worker).
		WithBatchSize(1).
		WithContinueOnError()
	if err := wg.Go(ctx); err != nil {
		return fmt.Errorf("start workers: %w", err)
	}
	// Submit blocks while every worker is held by the pause gate, so it runs
	// beside the loop below and in-flight outcomes are still applied.
	closed := make(chan error, 1)
	go func() {
		for _, h := range batch {
			wg.Submit(h)
		}
		closed <- wg.Close(ctx)
	}()

	apply := func(o outcome) {
		if o.err != nil {
			s.recordFailure(o.id, fmt.Sprintf("after %d attempts: %v", o.attempts, o.err))
			return
		}
		s.recordSuccess()
	}

	for {
		select {
		case o := <-outcomes:
			apply(o)
		case <-closed:
			for {
				select {
				case o := <-outcomes:
					apply(o)
				default:
					return ctx.Err()
				}
			}
		}
	}
}

// processWithRetry makes up to RetryCount attempts with exponential backoff
// between them. Only the final error is reported.
func (m *Manager) processWithRetry(ctx context.Context, sessionID string, p *pipeline, h domain.RawMessageHandle) outcome {
	var lastErr error
	attempt := 0
	for attempt < m.opts.RetryCount {
		attempt++
		err := m.attempt(ctx, sessionID, p, h)
		if err == nil {
			return outcome{id: h.ID, attempts: attempt}
		}
		lastErr = err

		p.log.Warn().Err(err).
			Str("message_id", h.ID).
			Int("attempt", attempt).
			Int("max_attempts", m.opts.RetryCount).
			Msg("message processing failed")

		if attempt == m.opts.RetryCount {
			break
		}
		if err := m.sleep(ctx, m.opts.Backoff(attempt)); err != nil {
			lastErr = err
			break
		}
	}
	return outcome{id: h.ID, err: lastErr, attempts: attempt}
}

// attempt runs the pipeline once. A panic in any collaborator becomes the
// attempt's error; pool workers have no recover of their own.
func (m *Manager) attempt(ctx context.Context, sessionID string, p *pipeline, h domain.RawMessageHandle) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().
				Str("message_id", h.ID).
				Str("panic", fmt.Sprint(r)).
				Msg("message processing panicked")
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	_, err = p.process(ctx, sessionID, h)
	return err
}

func (m *Manager) complete(s *Session, log zerolog.Logger) {
	snap := s.Snapshot()
	ev := log.Info().
		Str("status", string(snap.Status)).
		Int("processed", snap.ProcessedEmails).
		Int("succeeded", snap.SuccessfulExtractions).
		Int("failed", snap.FailedExtractions).
		Float64("elapsed_seconds", snap.ElapsedSeconds)
	for stage, st := range m.deps.Latency.Snapshot() {
		ev = ev.Interface("latency_"+string(stage), st.ToMap())
	}
	ev.Msg("extraction session finished")

	m.notify(m.onComplete, snap)
}

func (m *Manager) notify(fns []func(domain.Progress), p domain.Progress) {
	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.log.Error().Str("panic", fmt.Sprint(r)).Msg("progress callback panicked")
				}
			}()
			fn(p)
		}()
	}
}
