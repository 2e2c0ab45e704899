package session

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"testing"
	"time"

	"vitalred_worker/core/domain"
	"vitalred_worker/core/port/out"
	"vitalred_worker/pkg/apperr"
	"vitalred_worker/pkg/metrics"
)

// =============================================================================
// Test doubles
// =============================================================================

type fakeMail struct {
	mu          sync.Mutex
	ids         []string
	authErr     error
	authGate    chan struct{}
	fetch       func(id string) (string, error)
	fetchCalls  map[string]int
	attachments map[string][]byte
	closed      int
}

func newFakeMail(n int) *fakeMail {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("m%02d", i)
	}
	return &fakeMail{ids: ids, fetchCalls: make(map[string]int)}
}

func (f *fakeMail) Authenticate(ctx context.Context, _ domain.Credentials) error {
	if f.authGate != nil {
		select {
		case <-f.authGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.authErr
}

func (f *fakeMail) ListMessageIDs(_ context.Context, max int) iter.Seq2[domain.RawMessageHandle, error] {
	return func(yield func(domain.RawMessageHandle, error) bool) {
		for i, id := range f.ids {
			if i >= max {
				return
			}
			if !yield(domain.RawMessageHandle{ID: id, ThreadID: "t-" + id}, nil) {
				return
			}
		}
	}
}

func (f *fakeMail) FetchMessage(_ context.Context, h domain.RawMessageHandle) (string, error) {
	f.mu.Lock()
	f.fetchCalls[h.ID]++
	fetch := f.fetch
	f.mu.Unlock()
	if fetch != nil {
		return fetch(h.ID)
	}
	return "cuerpo " + h.ID, nil
}

func (f *fakeMail) FetchAttachment(_ context.Context, url string) ([]byte, error) {
	if data, ok := f.attachments[url]; ok {
		return data, nil
	}
	return nil, apperr.FetchNotFound(url)
}

func (f *fakeMail) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeMail) calls(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls[id]
}

func (f *fakeMail) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.fetchCalls {
		n += c
	}
	return n
}

type fakeParser struct {
	attachments []domain.AttachmentDescriptor
}

func (p fakeParser) Parse(h domain.RawMessageHandle, page string) (*domain.ParsedMessage, error) {
	return &domain.ParsedMessage{
		ID:          h.ID,
		ThreadID:    h.ThreadID,
		Subject:     "Remisión " + h.ID,
		Sender:      domain.Address{Email: "ips@example.com"},
		Recipients:  []domain.Address{{Email: "vitalred@example.com"}},
		BodyText:    page,
		Attachments: p.attachments,
	}, nil
}

type fakeExtractor struct{}

func (fakeExtractor) Extract(_ context.Context, data []byte, att domain.AttachmentDescriptor) (domain.ExtractedDocument, bool) {
	return domain.ExtractedDocument{Source: att, Text: string(data), Method: domain.MethodPDFText, Confidence: 0.9}, true
}

type fakeClassifier struct {
	mu    sync.Mutex
	texts []string
	panic bool
}

func (c *fakeClassifier) Classify(text, filename string) domain.ClassificationResult {
	if c.panic {
		panic("vocabulary not loaded")
	}
	c.mu.Lock()
	c.texts = append(c.texts, text+"|"+filename)
	c.mu.Unlock()
	return domain.ClassificationResult{IsReferral: true, ReferralType: domain.ReferralUrgent, UrgencyLevel: domain.UrgencyHigh, DocumentType: domain.DocReferral, Score: 0.8}
}

func (c *fakeClassifier) ExtractPatientInfo(string) *domain.PatientInfo {
	return &domain.PatientInfo{DocumentID: "CC 12345678"}
}

type memSink struct {
	mu      sync.Mutex
	records map[string]*domain.ProcessedRecord
}

func (s *memSink) Save(_ context.Context, r *domain.ProcessedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.records == nil {
		s.records = make(map[string]*domain.ProcessedRecord)
	}
	s.records[r.ID] = r
	return nil
}

func (s *memSink) get(id string) *domain.ProcessedRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[id]
}

type failingAnnotator struct{}

func (failingAnnotator) Annotate(context.Context, *domain.ProcessedRecord) (map[string]any, error) {
	return nil, errors.New("llm unavailable")
}

type sleepLog struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (l *sleepLog) sleep(ctx context.Context, d time.Duration) error {
	l.mu.Lock()
	l.delays = append(l.delays, d)
	l.mu.Unlock()
	return ctx.Err()
}

func (l *sleepLog) all() []time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]time.Duration(nil), l.delays...)
}

type harness struct {
	mgr    *Manager
	mail   *fakeMail
	sink   *memSink
	sleeps *sleepLog
	class  *fakeClassifier
}

func newHarness(t *testing.T, mail *fakeMail, opts Options, deps func(*Deps), extra ...ManagerOption) *harness {
	t.Helper()
	h := &harness{mail: mail, sink: &memSink{}, sleeps: &sleepLog{}, class: &fakeClassifier{}}
	d := Deps{
		Mail:       out.MailSessionFactoryFunc(func(context.Context) (out.MailSession, error) { return mail, nil }),
		Parser:     fakeParser{},
		Extractor:  fakeExtractor{},
		Classifier: h.class,
		Sink:       h.sink,
		Latency:    metrics.NewPipelineLatency(100),
	}
	if deps != nil {
		deps(&d)
	}
	mopts := append([]ManagerOption{WithSleeper(h.sleeps.sleep)}, extra...)
	mgr, err := NewManager(d, opts, mopts...)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mgr.Shutdown(ctx)
	})
	h.mgr = mgr
	return h
}

func (h *harness) start(t *testing.T, max int) string {
	t.Helper()
	id, err := h.mgr.Start(context.Background(), domain.Credentials{Account: "vitalred@example.com", Secret: "x"}, max)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return id
}

func (h *harness) wait(t *testing.T, id string) domain.Progress {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p, err := h.mgr.Wait(ctx, id)
	if err != nil {
		t.Fatalf("session %s did not finish: %v (status %s)", id, err, p.Status)
	}
	return p
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testOptions() Options {
	o := DefaultOptions()
	o.BatchDelay = 100 * time.Millisecond
	return o
}

// =============================================================================
// Tests
// =============================================================================

func TestSessionProcessesBatchesInOrder(t *testing.T) {
	var (
		mu      sync.Mutex
		batches []domain.Progress
	)
	h := newHarness(t, newFakeMail(30), testOptions(), nil, OnBatch(func(p domain.Progress) {
		mu.Lock()
		batches = append(batches, p)
		mu.Unlock()
	}))

	id := h.start(t, 25)
	p := h.wait(t, id)

	if p.Status != domain.SessionCompleted {
		t.Fatalf("Status = %s, want completed", p.Status)
	}
	if p.TotalEmails != 25 || p.ProcessedEmails != 25 || p.SuccessfulExtractions != 25 {
		t.Errorf("progress = %+v", p)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []int{10, 20, 25}
	if len(batches) != len(want) {
		t.Fatalf("batches = %d, want %d", len(batches), len(want))
	}
	for i, b := range batches {
		if b.ProcessedEmails != want[i] {
			t.Errorf("batch %d processed = %d, want %d", i+1, b.ProcessedEmails, want[i])
		}
		if b.ProcessedEmails != b.SuccessfulExtractions+b.FailedExtractions {
			t.Errorf("batch %d: processed %d != success %d + failed %d", i+1,
				b.ProcessedEmails, b.SuccessfulExtractions, b.FailedExtractions)
		}
	}
	if batches[0].EstimatedCompletion == nil {
		t.Error("ETA should be set after the first batch")
	}

	delays := h.sleeps.all()
	if len(delays) != 2 || delays[0] != 100*time.Millisecond {
		t.Errorf("inter-batch delays = %v, want two of 100ms", delays)
	}
	if h.sink.get("m24") == nil || h.sink.get("m25") != nil {
		t.Error("exactly the first 25 messages should be saved")
	}

	_ = h.mgr.Shutdown(context.Background())
	if h.mail.closed != 1 {
		t.Errorf("browser closed %d times, want 1", h.mail.closed)
	}
}

func TestSessionRetryThenGiveUp(t *testing.T) {
	mail := newFakeMail(3)
	mail.fetch = func(id string) (string, error) {
		if id == "m01" {
			return "", apperr.FetchTimeout("fetch message", errors.New("content marker not visible"))
		}
		return "cuerpo " + id, nil
	}
	h := newHarness(t, mail, testOptions(), nil)

	p := h.wait(t, h.start(t, 3))

	if got := mail.calls("m01"); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
	if p.FailedExtractions != 1 || p.SuccessfulExtractions != 2 || p.ProcessedEmails != 3 {
		t.Errorf("progress = %+v", p)
	}
	if p.ErrorsCount != 1 || len(p.Errors) != 1 || p.Errors[0].ItemID != "m01" {
		t.Errorf("errors = %+v", p.Errors)
	}
	if p.Status != domain.SessionCompleted {
		t.Errorf("Status = %s", p.Status)
	}

	delays := h.sleeps.all()
	want := []time.Duration{5 * time.Second, 10 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("backoff = %v, want %v", delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("backoff[%d] = %v, want %v", i, delays[i], want[i])
		}
	}
}

func TestSessionPauseMidBatch(t *testing.T) {
	mail := newFakeMail(10)
	started := make(chan string, 10)
	release := make(chan struct{})
	mail.fetch = func(id string) (string, error) {
		started <- id
		<-release
		return "cuerpo " + id, nil
	}
	h := newHarness(t, mail, testOptions(), nil)
	id := h.start(t, 10)

	<-started
	<-started
	if err := h.mgr.Pause(id); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	close(release)

	eventually(t, "in-flight items to be counted", func() bool {
		p, _ := h.mgr.GetProgress(id)
		return p.ProcessedEmails == 2
	})
	time.Sleep(50 * time.Millisecond)

	p, _ := h.mgr.GetProgress(id)
	if p.Status != domain.SessionPaused {
		t.Errorf("Status = %s, want paused", p.Status)
	}
	if n := mail.totalCalls(); n != 2 {
		t.Errorf("fetches while paused = %d, want 2", n)
	}

	if err := h.mgr.Resume(id); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	p = h.wait(t, id)
	if p.Status != domain.SessionCompleted || p.ProcessedEmails != 10 {
		t.Errorf("after resume: %+v", p)
	}
}

func TestSessionStopAtBatchBoundary(t *testing.T) {
	mail := newFakeMail(25)
	started := make(chan string, 25)
	release := make(chan struct{})
	mail.fetch = func(id string) (string, error) {
		started <- id
		<-release
		return "cuerpo " + id, nil
	}
	h := newHarness(t, mail, testOptions(), nil)
	id := h.start(t, 25)

	<-started
	if err := h.mgr.Stop(id); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := h.mgr.Pause(id); !apperr.IsCode(err, apperr.CodeSessionInvalidState) {
		t.Errorf("Pause while stopping = %v, want invalid state", err)
	}
	close(release)

	p := h.wait(t, id)
	if p.Status != domain.SessionStopped {
		t.Fatalf("Status = %s, want stopped", p.Status)
	}
	if p.ProcessedEmails != 10 {
		t.Errorf("processed = %d, want the first batch only", p.ProcessedEmails)
	}
	if err := h.mgr.Stop(id); !apperr.IsCode(err, apperr.CodeSessionInvalidState) {
		t.Errorf("Stop on stopped session = %v", err)
	}
	if err := h.mgr.Resume(id); !apperr.IsCode(err, apperr.CodeSessionInvalidState) {
		t.Errorf("Resume on stopped session = %v", err)
	}
}

func TestSessionStopWhilePausedRejected(t *testing.T) {
	mail := newFakeMail(3)
	mail.authGate = make(chan struct{})
	h := newHarness(t, mail, testOptions(), nil)
	id := h.start(t, 3)

	if err := h.mgr.Pause(id); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := h.mgr.Pause(id); err != nil {
		t.Errorf("second Pause should be a no-op, got %v", err)
	}
	if err := h.mgr.Stop(id); !apperr.IsCode(err, apperr.CodeSessionInvalidState) {
		t.Errorf("Stop while paused = %v, want invalid state", err)
	}
	if err := h.mgr.Resume(id); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	close(mail.authGate)

	if p := h.wait(t, id); p.Status != domain.SessionCompleted {
		t.Errorf("Status = %s", p.Status)
	}
}

func TestSessionConflict(t *testing.T) {
	mail := newFakeMail(1)
	mail.authGate = make(chan struct{})
	h := newHarness(t, mail, testOptions(), nil)
	first := h.start(t, 1)

	_, err := h.mgr.Start(context.Background(), domain.Credentials{Account: "a@example.com"}, 1)
	if !apperr.IsCode(err, apperr.CodeSessionConflict) {
		t.Fatalf("second Start = %v, want conflict", err)
	}

	close(mail.authGate)
	h.wait(t, first)

	if _, err := h.mgr.Start(context.Background(), domain.Credentials{Account: "a@example.com"}, 1); err != nil {
		t.Errorf("Start after completion: %v", err)
	}
}

func TestSessionAuthFailure(t *testing.T) {
	mail := newFakeMail(5)
	mail.authErr = apperr.InvalidCredentials("vitalred@example.com")
	h := newHarness(t, mail, testOptions(), nil)

	var completed domain.Progress
	done := make(chan struct{})
	h.mgr.onComplete = append(h.mgr.onComplete, func(p domain.Progress) {
		completed = p
		close(done)
	})

	p := h.wait(t, h.start(t, 5))
	if p.Status != domain.SessionFailed {
		t.Fatalf("Status = %s, want failed", p.Status)
	}
	if p.ErrorsCount != 1 || p.ProcessedEmails != 0 {
		t.Errorf("progress = %+v", p)
	}
	if mail.totalCalls() != 0 {
		t.Error("nothing should be fetched after auth failure")
	}

	<-done
	if completed.Status != domain.SessionFailed {
		t.Errorf("OnComplete saw %s", completed.Status)
	}
}

func TestSessionUnknownID(t *testing.T) {
	h := newHarness(t, newFakeMail(0), testOptions(), nil)
	for name, fn := range map[string]func(string) error{
		"pause":  h.mgr.Pause,
		"resume": h.mgr.Resume,
		"stop":   h.mgr.Stop,
	} {
		t.Run(name, func(t *testing.T) {
			if err := fn("missing"); !apperr.IsCode(err, apperr.CodeSessionNotFound) {
				t.Errorf("err = %v, want not found", err)
			}
		})
	}
	if _, err := h.mgr.GetProgress("missing"); !apperr.IsCode(err, apperr.CodeSessionNotFound) {
		t.Errorf("GetProgress err = %v", err)
	}
}

func TestSessionBuildsRecord(t *testing.T) {
	mail := newFakeMail(1)
	mail.attachments = map[string][]byte{"https://mail/att/1": []byte("Hoja de remisión a cardiología")}
	parser := fakeParser{attachments: []domain.AttachmentDescriptor{
		{Filename: "remision.pdf", MimeType: "application/pdf", DownloadURL: "https://mail/att/1"},
		{Filename: "perdido.pdf", MimeType: "application/pdf", DownloadURL: "https://mail/att/2"},
	}}
	h := newHarness(t, mail, testOptions(), func(d *Deps) {
		d.Parser = parser
		d.Annotator = failingAnnotator{}
	})

	p := h.wait(t, h.start(t, 1))
	if p.SuccessfulExtractions != 1 {
		t.Fatalf("progress = %+v", p)
	}

	rec := h.sink.get("m00")
	if rec == nil {
		t.Fatal("record not saved")
	}
	if rec.SessionID != p.SessionID || rec.ThreadID != "t-m00" {
		t.Errorf("ids = %s/%s", rec.SessionID, rec.ThreadID)
	}
	if len(rec.Attachments) != 2 {
		t.Fatalf("attachments = %+v", rec.Attachments)
	}
	if rec.Attachments[0].ExtractedText != "Hoja de remisión a cardiología" || rec.Attachments[0].SizeBytes == 0 {
		t.Errorf("first attachment = %+v", rec.Attachments[0])
	}
	if rec.Attachments[1].ExtractedText != "" || rec.Attachments[1].Method != domain.MethodNone {
		t.Errorf("failed download should keep an empty attachment: %+v", rec.Attachments[1])
	}
	if rec.ExtractionMethod != domain.MethodPDFText {
		t.Errorf("ExtractionMethod = %s", rec.ExtractionMethod)
	}
	if rec.AIAnalysis != nil {
		t.Error("failed annotation should leave AIAnalysis empty")
	}
	if rec.PatientInfo == nil || rec.PatientInfo.DocumentID != "CC 12345678" {
		t.Errorf("PatientInfo = %+v", rec.PatientInfo)
	}

	h.class.mu.Lock()
	defer h.class.mu.Unlock()
	want := "Remisión m00\ncuerpo m00\nHoja de remisión a cardiología|remision.pdf"
	if len(h.class.texts) != 1 || h.class.texts[0] != want {
		t.Errorf("classifier input = %q, want %q", h.class.texts, want)
	}
}

func TestSessionClassifierPanicUsesDefault(t *testing.T) {
	h := newHarness(t, newFakeMail(1), testOptions(), func(d *Deps) {
		d.Classifier = &fakeClassifier{panic: true}
	})

	p := h.wait(t, h.start(t, 1))
	if p.SuccessfulExtractions != 1 {
		t.Fatalf("classifier panic should not fail the item: %+v", p)
	}
	rec := h.sink.get("m00")
	if rec.Classification != domain.DefaultClassification() {
		t.Errorf("Classification = %+v", rec.Classification)
	}
}

type panickingSink struct{}

func (panickingSink) Save(context.Context, *domain.ProcessedRecord) error {
	panic("driver bug")
}

func TestSessionCollaboratorPanicFailsItem(t *testing.T) {
	opts := testOptions()
	opts.RetryCount = 2
	h := newHarness(t, newFakeMail(3), opts, func(d *Deps) {
		d.Sink = panickingSink{}
	})

	p := h.wait(t, h.start(t, 3))
	if p.Status != domain.SessionCompleted {
		t.Errorf("Status = %s, want completed", p.Status)
	}
	if p.ProcessedEmails != 3 || p.FailedExtractions != 3 || p.SuccessfulExtractions != 0 {
		t.Errorf("progress = %+v", p)
	}
	if len(p.Errors) == 0 || !strings.Contains(p.Errors[0].Message, "panic: driver bug") {
		t.Errorf("errors = %+v, want the panic text", p.Errors)
	}
	if got := h.mail.calls("m00"); got != 2 {
		t.Errorf("fetches of m00 = %d, want one per attempt", got)
	}
}

func TestStartValidation(t *testing.T) {
	h := newHarness(t, newFakeMail(1), testOptions(), nil)
	tests := []struct {
		name  string
		creds domain.Credentials
		max   int
	}{
		{"missing account", domain.Credentials{}, 10},
		{"zero max", domain.Credentials{Account: "a@example.com"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := h.mgr.Start(context.Background(), tt.creds, tt.max); !apperr.IsCode(err, apperr.CodeInvalidInput) {
				t.Errorf("err = %v, want invalid input", err)
			}
		})
	}
}

func TestOptions(t *testing.T) {
	o := DefaultOptions()
	if err := o.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	for attempt, want := range map[int]time.Duration{1: 5 * time.Second, 2: 10 * time.Second, 3: 20 * time.Second} {
		if got := o.Backoff(attempt); got != want {
			t.Errorf("Backoff(%d) = %v, want %v", attempt, got, want)
		}
	}

	for _, attempt := range []int{10, 40, 64, 1000} {
		if got := o.Backoff(attempt); got != MaxBackoff {
			t.Errorf("Backoff(%d) = %v, want cap %v", attempt, got, MaxBackoff)
		}
	}
	zero := o
	zero.BackoffBase = 0
	if got := zero.Backoff(50); got != 0 {
		t.Errorf("zero base Backoff(50) = %v, want 0", got)
	}

	bad := o
	bad.Concurrency = 0
	if err := bad.Validate(); err == nil {
		t.Error("zero concurrency should be rejected")
	}
}
