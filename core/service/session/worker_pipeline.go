package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"vitalred_worker/core/domain"
	"vitalred_worker/core/port/out"
	"vitalred_worker/pkg/metrics"

	"github.com/rs/zerolog"
)

// Parser turns a fetched message page into a ParsedMessage.
type Parser interface {
	Parse(handle domain.RawMessageHandle, page string) (*domain.ParsedMessage, error)
}

// TextExtractor recovers attachment text; ok is false when there is none.
type TextExtractor interface {
	Extract(ctx context.Context, data []byte, att domain.AttachmentDescriptor) (domain.ExtractedDocument, bool)
}

// Classifier scores combined message text.
type Classifier interface {
	Classify(text, filename string) domain.ClassificationResult
	ExtractPatientInfo(text string) *domain.PatientInfo
}

// pipeline processes one message end to end against a live mail session.
type pipeline struct {
	mail       out.MailSession
	parser     Parser
	extractor  TextExtractor
	classifier Classifier
	annotator  out.Annotator
	sink       out.RecordSink
	latency    *metrics.PipelineLatency
	now        func() time.Time
	log        zerolog.Logger
}

func (p *pipeline) process(ctx context.Context, sessionID string, h domain.RawMessageHandle) (*domain.ProcessedRecord, error) {
	done := p.latency.Start(metrics.StageFetch)
	page, err := p.mail.FetchMessage(ctx, h)
	done()
	if err != nil {
		return nil, err
	}

	done = p.latency.Start(metrics.StageParse)
	msg, err := p.parser.Parse(h, page)
	done()
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", h.ID, err)
	}

	done = p.latency.Start(metrics.StageAttachment)
	attachments, method := p.attachments(ctx, msg)
	done()

	parts := []string{msg.Subject, msg.BodyText}
	for _, a := range attachments {
		if a.ExtractedText != "" {
			parts = append(parts, a.ExtractedText)
		}
	}
	text := strings.Join(parts, "\n")
	var filename string
	if len(msg.Attachments) > 0 {
		filename = msg.Attachments[0].Filename
	}

	done = p.latency.Start(metrics.StageClassify)
	classification, patient := p.classify(text, filename)
	done()

	rec := &domain.ProcessedRecord{
		ID:               msg.ID,
		ThreadID:         msg.ThreadID,
		SessionID:        sessionID,
		Subject:          msg.Subject,
		Sender:           msg.Sender,
		Recipients:       msg.Recipients,
		Date:             msg.Timestamp,
		BodyText:         msg.BodyText,
		BodyHTML:         msg.BodyHTML,
		Attachments:      attachments,
		Classification:   classification,
		PatientInfo:      patient,
		ProcessedAt:      p.now(),
		ExtractionMethod: method,
	}

	if p.annotator != nil {
		done = p.latency.Start(metrics.StageAnnotate)
		analysis, err := p.annotator.Annotate(ctx, rec)
		done()
		if err != nil {
			p.log.Warn().Err(err).Str("message_id", rec.ID).Msg("annotation skipped")
		} else {
			rec.AIAnalysis = analysis
		}
	}

	done = p.latency.Start(metrics.StageSave)
	err = p.sink.Save(ctx, rec)
	done()
	if err != nil {
		return nil, fmt.Errorf("save %s: %w", rec.ID, err)
	}
	return rec, nil
}

// attachments downloads and extracts every attachment. A failed download
// leaves that attachment without text; it never fails the message. The
// returned method is the first successful extraction's, or "none".
func (p *pipeline) attachments(ctx context.Context, msg *domain.ParsedMessage) ([]domain.AttachmentRecord, domain.ExtractionMethod) {
	records := make([]domain.AttachmentRecord, 0, len(msg.Attachments))
	method := domain.MethodNone

	for _, att := range msg.Attachments {
		rec := domain.AttachmentRecord{
			Filename:  att.Filename,
			MimeType:  att.MimeType,
			SizeBytes: att.SizeBytes,
			Method:    domain.MethodNone,
		}

		data, err := p.mail.FetchAttachment(ctx, att.DownloadURL)
		if err != nil {
			p.log.Warn().Err(err).
				Str("message_id", msg.ID).
				Str("filename", att.Filename).
				Msg("attachment download failed")
			records = append(records, rec)
			continue
		}
		if rec.SizeBytes == 0 {
			rec.SizeBytes = int64(len(data))
		}

		if doc, ok := p.extractor.Extract(ctx, data, att); ok {
			rec.ExtractedText = doc.Text
			rec.Method = doc.Method
			if method == domain.MethodNone {
				method = doc.Method
			}
		}
		records = append(records, rec)
	}
	return records, method
}

// classify falls back to the default classification if the classifier
// panics.
func (p *pipeline) classify(text, filename string) (result domain.ClassificationResult, patient *domain.PatientInfo) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Str("panic", fmt.Sprint(r)).Msg("classifier panicked, using default classification")
			result = domain.DefaultClassification()
			patient = nil
		}
	}()
	return p.classifier.Classify(text, filename), p.classifier.ExtractPatientInfo(text)
}
