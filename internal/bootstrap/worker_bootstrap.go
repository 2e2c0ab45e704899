// Package bootstrap wires configuration into the extraction pipeline.
package bootstrap

import (
	"context"
	"time"

	"vitalred_worker/adapter/out/browser"
	"vitalred_worker/adapter/out/ocr"
	"vitalred_worker/adapter/out/persistence"
	"vitalred_worker/config"
	"vitalred_worker/core/domain"
	"vitalred_worker/core/service/classification"
	"vitalred_worker/core/service/extraction"
	"vitalred_worker/core/service/parser"
	"vitalred_worker/core/service/session"
	"vitalred_worker/pkg/logger"
)

const progressWriteTimeout = 2 * time.Second

func SessionOptions(cfg *config.Config) session.Options {
	return session.Options{
		BatchSize:   cfg.BatchSize,
		Concurrency: cfg.Concurrency,
		RetryCount:  cfg.RetryCount,
		BackoffBase: cfg.BackoffBase(),
		BatchDelay:  cfg.BatchDelay(),
	}
}

func BrowserConfig(cfg *config.Config) browser.Config {
	bc := browser.DefaultConfig()
	bc.LoginURL = cfg.MailboxLoginURL
	bc.InboxURL = cfg.MailboxInboxURL
	bc.Headless = cfg.Headless
	bc.ExecPath = cfg.BrowserExecPath
	bc.UserAgent = cfg.BrowserUserAgent
	bc.TypingDelay = cfg.TypingDelay()
	bc.AuthTimeout = cfg.AuthTimeout()
	bc.FetchTimeout = cfg.FetchTimeout()
	if cfg.AttachmentMaxBytes > 0 {
		bc.AttachmentMaxBytes = cfg.AttachmentMaxBytes
	}
	return bc
}

// NewTextExtractor enables Tesseract OCR for images and scanned PDFs.
func NewTextExtractor(cfg *config.Config) *extraction.Extractor {
	return extraction.NewExtractor(
		extraction.WithOCR(ocr.NewTesseract(cfg.OCRLanguage), ocr.NewPDFRenderer()),
		extraction.WithMinPDFTextLen(cfg.PDFMinTextLen),
	)
}

func NewParser(cfg *config.Config) *parser.ContentParser {
	return parser.NewContentParser(parser.WithLocation(cfg.Location()))
}

// NewSink writes to the SQL store and, for whichever secondary stores are
// connected, the body archive, referral graph and event stream.
func NewSink(deps *Dependencies) *persistence.FanoutSink {
	var opts []persistence.FanoutOption
	if deps.Bodies != nil {
		opts = append(opts, persistence.WithBodyStore(deps.Bodies))
	}
	if deps.Graph != nil {
		opts = append(opts, persistence.WithReferralGraph(deps.Graph))
	}
	if deps.Producer != nil {
		opts = append(opts, persistence.WithEventPublisher(deps.Producer))
	}
	return persistence.NewFanoutSink(deps.Records, opts...)
}

// NewExtractionService builds the session manager. Progress snapshots are
// mirrored to Redis after every batch when Redis is connected.
func NewExtractionService(deps *Dependencies) (*session.Manager, error) {
	cfg := deps.Config

	sd := session.Deps{
		Mail:       browser.NewFactory(BrowserConfig(cfg)),
		Parser:     NewParser(cfg),
		Extractor:  NewTextExtractor(cfg),
		Classifier: classification.NewMedicalClassifier(),
		Sink:       NewSink(deps),
		Latency:    deps.Latency,
	}
	if deps.Annotator != nil {
		sd.Annotator = deps.Annotator
	}

	mopts := []session.ManagerOption{
		session.OnBatch(deps.saveProgress),
		session.OnComplete(deps.saveProgress),
		session.OnComplete(deps.logUsage),
		session.OnComplete(deps.logPoolStats),
	}
	return session.NewManager(sd, SessionOptions(cfg), mopts...)
}

func (d *Dependencies) saveProgress(p domain.Progress) {
	if d.Producer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), progressWriteTimeout)
	defer cancel()
	if err := d.Producer.SaveProgress(ctx, p); err != nil {
		logger.WithError(err).WithField("session_id", p.SessionID).Warn("[Bootstrap] progress snapshot not saved")
	}
}

func (d *Dependencies) logUsage(p domain.Progress) {
	if d.Annotator == nil {
		return
	}
	u := d.Annotator.Usage()
	logger.WithFields(map[string]any{
		"session_id":   p.SessionID,
		"requests":     u.RequestCount,
		"total_tokens": u.TotalTokens,
		"total_cost":   u.TotalCost,
	}).Info("[Bootstrap] AI annotation usage")
}

func (d *Dependencies) logPoolStats(p domain.Progress) {
	stats := d.SQL.PgxPoolStats()
	if stats == nil {
		return
	}
	logger.WithFields(map[string]any{
		"session_id":          p.SessionID,
		"total_conns":         stats.TotalConns,
		"acquired_conns":      stats.AcquiredConns,
		"acquire_count":       stats.AcquireCount,
		"acquire_duration_ms": stats.AcquireDuration,
	}).Info("[Bootstrap] postgres pool after session")
}
