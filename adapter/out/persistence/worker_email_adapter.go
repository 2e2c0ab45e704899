// Package persistence stores processed records in SQL (Postgres through the
// pgx stdlib driver, or SQLite) and fans them out to secondary stores.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"vitalred_worker/core/domain"
	"vitalred_worker/core/port/out"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// EmailAdapter implements out.RecordSink on the email_messages and
// email_attachments tables.
type EmailAdapter struct {
	db *sqlx.DB
}

var _ out.RecordSink = (*EmailAdapter)(nil)

func NewEmailAdapter(db *sqlx.DB) *EmailAdapter {
	return &EmailAdapter{db: db}
}

// =============================================================================
// Database Row Mapping
// =============================================================================

type messageRow struct {
	ID                string         `db:"id"`
	ThreadID          string         `db:"thread_id"`
	SessionID         string         `db:"session_id"`
	Subject           string         `db:"subject"`
	SenderEmail       string         `db:"sender_email"`
	SenderName        string         `db:"sender_name"`
	Recipients        pq.StringArray `db:"recipients"`
	SentAt            time.Time      `db:"sent_at"`
	BodyText          string         `db:"body_text"`
	BodyHTML          string         `db:"body_html"`
	IsReferral        bool           `db:"is_referral"`
	ReferralType      string         `db:"referral_type"`
	UrgencyLevel      string         `db:"urgency_level"`
	UrgencyConfidence float64        `db:"urgency_confidence"`
	DocumentType      string         `db:"document_type"`
	Specialty         string         `db:"specialty"`
	Score             float64        `db:"score"`
	PatientInfo       sql.NullString `db:"patient_info"`
	AIAnalysis        sql.NullString `db:"ai_analysis"`
	ExtractionMethod  string         `db:"extraction_method"`
	ProcessedAt       time.Time      `db:"processed_at"`
}

type attachmentRow struct {
	MessageID        string `db:"message_id"`
	Position         int    `db:"position"`
	Filename         string `db:"filename"`
	MimeType         string `db:"mime_type"`
	SizeBytes        int64  `db:"size_bytes"`
	ExtractedText    string `db:"extracted_text"`
	ExtractionMethod string `db:"extraction_method"`
}

func jsonColumn(v any, empty bool) (sql.NullString, error) {
	if empty {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func toMessageRow(r *domain.ProcessedRecord) (*messageRow, error) {
	patient, err := jsonColumn(r.PatientInfo, r.PatientInfo == nil)
	if err != nil {
		return nil, fmt.Errorf("encode patient info: %w", err)
	}
	analysis, err := jsonColumn(r.AIAnalysis, len(r.AIAnalysis) == 0)
	if err != nil {
		return nil, fmt.Errorf("encode ai analysis: %w", err)
	}
	c := r.Classification
	return &messageRow{
		ID:                r.ID,
		ThreadID:          r.ThreadID,
		SessionID:         r.SessionID,
		Subject:           r.Subject,
		SenderEmail:       r.Sender.Email,
		SenderName:        r.Sender.Name,
		Recipients:        pq.StringArray(r.RecipientEmails()),
		SentAt:            r.Date.UTC(),
		BodyText:          r.BodyText,
		BodyHTML:          r.BodyHTML,
		IsReferral:        c.IsReferral,
		ReferralType:      string(c.ReferralType),
		UrgencyLevel:      string(c.UrgencyLevel),
		UrgencyConfidence: c.UrgencyConfidence,
		DocumentType:      string(c.DocumentType),
		Specialty:         c.Specialty,
		Score:             c.Score,
		PatientInfo:       patient,
		AIAnalysis:        analysis,
		ExtractionMethod:  string(r.ExtractionMethod),
		ProcessedAt:       r.ProcessedAt.UTC(),
	}, nil
}

func (row *messageRow) toRecord(atts []attachmentRow) (*domain.ProcessedRecord, error) {
	rec := &domain.ProcessedRecord{
		ID:        row.ID,
		ThreadID:  row.ThreadID,
		SessionID: row.SessionID,
		Subject:   row.Subject,
		Sender:    domain.Address{Email: row.SenderEmail, Name: row.SenderName},
		Date:      row.SentAt,
		BodyText:  row.BodyText,
		BodyHTML:  row.BodyHTML,
		Classification: domain.ClassificationResult{
			IsReferral:        row.IsReferral,
			ReferralType:      domain.ReferralType(row.ReferralType),
			UrgencyLevel:      domain.UrgencyLevel(row.UrgencyLevel),
			UrgencyConfidence: row.UrgencyConfidence,
			DocumentType:      domain.DocumentType(row.DocumentType),
			Specialty:         row.Specialty,
			Score:             row.Score,
		},
		ProcessedAt:      row.ProcessedAt,
		ExtractionMethod: domain.ExtractionMethod(row.ExtractionMethod),
		Recipients:       make([]domain.Address, 0, len(row.Recipients)),
		Attachments:      make([]domain.AttachmentRecord, 0, len(atts)),
	}
	for _, email := range row.Recipients {
		rec.Recipients = append(rec.Recipients, domain.Address{Email: email})
	}
	for _, a := range atts {
		rec.Attachments = append(rec.Attachments, domain.AttachmentRecord{
			Filename:      a.Filename,
			MimeType:      a.MimeType,
			SizeBytes:     a.SizeBytes,
			ExtractedText: a.ExtractedText,
			Method:        domain.ExtractionMethod(a.ExtractionMethod),
		})
	}
	if row.PatientInfo.Valid {
		rec.PatientInfo = &domain.PatientInfo{}
		if err := json.Unmarshal([]byte(row.PatientInfo.String), rec.PatientInfo); err != nil {
			return nil, fmt.Errorf("decode patient info: %w", err)
		}
	}
	if row.AIAnalysis.Valid {
		if err := json.Unmarshal([]byte(row.AIAnalysis.String), &rec.AIAnalysis); err != nil {
			return nil, fmt.Errorf("decode ai analysis: %w", err)
		}
	}
	return rec, nil
}

// =============================================================================
// Operations
// =============================================================================

const upsertMessage = `
	INSERT INTO email_messages (
		id, thread_id, session_id, subject, sender_email, sender_name, recipients,
		sent_at, body_text, body_html, is_referral, referral_type, urgency_level,
		urgency_confidence, document_type, specialty, score, patient_info,
		ai_analysis, extraction_method, processed_at
	) VALUES (
		:id, :thread_id, :session_id, :subject, :sender_email, :sender_name, :recipients,
		:sent_at, :body_text, :body_html, :is_referral, :referral_type, :urgency_level,
		:urgency_confidence, :document_type, :specialty, :score, :patient_info,
		:ai_analysis, :extraction_method, :processed_at
	)
	ON CONFLICT (id) DO UPDATE SET
		thread_id = excluded.thread_id,
		session_id = excluded.session_id,
		subject = excluded.subject,
		sender_email = excluded.sender_email,
		sender_name = excluded.sender_name,
		recipients = excluded.recipients,
		sent_at = excluded.sent_at,
		body_text = excluded.body_text,
		body_html = excluded.body_html,
		is_referral = excluded.is_referral,
		referral_type = excluded.referral_type,
		urgency_level = excluded.urgency_level,
		urgency_confidence = excluded.urgency_confidence,
		document_type = excluded.document_type,
		specialty = excluded.specialty,
		score = excluded.score,
		patient_info = excluded.patient_info,
		ai_analysis = excluded.ai_analysis,
		extraction_method = excluded.extraction_method,
		processed_at = excluded.processed_at`

const insertAttachment = `
	INSERT INTO email_attachments (
		message_id, position, filename, mime_type, size_bytes, extracted_text, extraction_method
	) VALUES (
		:message_id, :position, :filename, :mime_type, :size_bytes, :extracted_text, :extraction_method
	)`

// Save upserts the message and replaces its attachments in one transaction.
func (a *EmailAdapter) Save(ctx context.Context, r *domain.ProcessedRecord) error {
	row, err := toMessageRow(r)
	if err != nil {
		return err
	}

	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.NamedExecContext(ctx, upsertMessage, row); err != nil {
		return fmt.Errorf("upsert message %s: %w", r.ID, err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM email_attachments WHERE message_id = ?`), r.ID); err != nil {
		return fmt.Errorf("clear attachments %s: %w", r.ID, err)
	}
	for i, att := range r.Attachments {
		arow := attachmentRow{
			MessageID:        r.ID,
			Position:         i,
			Filename:         att.Filename,
			MimeType:         att.MimeType,
			SizeBytes:        att.SizeBytes,
			ExtractedText:    att.ExtractedText,
			ExtractionMethod: string(att.Method),
		}
		if _, err := tx.NamedExecContext(ctx, insertAttachment, arow); err != nil {
			return fmt.Errorf("insert attachment %s/%d: %w", r.ID, i, err)
		}
	}
	return tx.Commit()
}

// GetByID loads a stored record with its attachments.
func (a *EmailAdapter) GetByID(ctx context.Context, id string) (*domain.ProcessedRecord, error) {
	var row messageRow
	err := a.db.GetContext(ctx, &row, a.db.Rebind(`SELECT * FROM email_messages WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var atts []attachmentRow
	err = a.db.SelectContext(ctx, &atts,
		a.db.Rebind(`SELECT * FROM email_attachments WHERE message_id = ? ORDER BY position`), id)
	if err != nil {
		return nil, err
	}
	return row.toRecord(atts)
}

// CountReferrals returns the number of stored messages classified as
// referrals.
func (a *EmailAdapter) CountReferrals(ctx context.Context) (int, error) {
	var n int
	err := a.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM email_messages WHERE is_referral`)
	return n, err
}

// Ping checks the connection, for readiness probes.
func (a *EmailAdapter) Ping(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

// DB exposes the handle for pool statistics.
func (a *EmailAdapter) DB() *sql.DB {
	return a.db.DB
}
