package domain

import (
	"time"
)

// =============================================================================
// Mailbox Messages
// =============================================================================

// RawMessageHandle identifies a message inside one authenticated mail session.
// Handles are only valid for the lifetime of the session that issued them.
type RawMessageHandle struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id"`
}

// Credentials for the webmail login form.
type Credentials struct {
	Account string
	Secret  string
}

// Address is a mailbox address with an optional display name.
type Address struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

func (a Address) String() string {
	if a.Name == "" {
		return a.Email
	}
	return a.Name + " <" + a.Email + ">"
}

// AttachmentDescriptor describes an attachment found while parsing. The bytes
// are fetched lazily through DownloadURL and never retained.
type AttachmentDescriptor struct {
	Filename    string `json:"filename"`
	MimeType    string `json:"mime_type"`
	SizeBytes   int64  `json:"size_bytes"`
	DownloadURL string `json:"download_url"`
}

// ParsedMessage is the structured form of a message page.
type ParsedMessage struct {
	ID         string    `json:"id"`
	ThreadID   string    `json:"thread_id"`
	Subject    string    `json:"subject"`
	Sender     Address   `json:"sender"`
	Recipients []Address `json:"recipients"`
	Timestamp  time.Time `json:"timestamp"`

	// DateFallback is set when no known date layout matched and Timestamp
	// holds the parse time instead.
	DateFallback bool `json:"date_fallback,omitempty"`

	BodyText    string                 `json:"body_text"`
	BodyHTML    string                 `json:"body_html"`
	Snippet     string                 `json:"snippet"`
	Attachments []AttachmentDescriptor `json:"attachments"`
}

// =============================================================================
// Extracted Documents
// =============================================================================

type ExtractionMethod string

const (
	MethodPDFText   ExtractionMethod = "pdf_text"
	MethodPDFOCR    ExtractionMethod = "pdf_ocr"
	MethodDOCX      ExtractionMethod = "docx"
	MethodImageOCR  ExtractionMethod = "image_ocr"
	MethodMessage   ExtractionMethod = "rfc822"
	MethodPlainText ExtractionMethod = "plain_text"
	MethodNone      ExtractionMethod = "none"
)

// Confidence values are fixed per extraction method. They are placeholders,
// not a measurement of the extracted text quality.
var methodConfidence = map[ExtractionMethod]float64{
	MethodPDFText:   0.90,
	MethodPDFOCR:    0.70,
	MethodDOCX:      0.95,
	MethodImageOCR:  0.70,
	MethodMessage:   0.90,
	MethodPlainText: 0.50,
}

// ConfidenceFor returns the placeholder confidence for a method.
func ConfidenceFor(m ExtractionMethod) float64 {
	return methodConfidence[m]
}

// ExtractedDocument holds the text recovered from one attachment.
type ExtractedDocument struct {
	Source     AttachmentDescriptor `json:"source"`
	Text       string               `json:"text"`
	Method     ExtractionMethod     `json:"method"`
	Confidence float64              `json:"confidence"`
}

// =============================================================================
// Output Record
// =============================================================================

// AttachmentRecord is the persisted view of an attachment.
type AttachmentRecord struct {
	Filename      string           `json:"filename"`
	MimeType      string           `json:"mime_type"`
	SizeBytes     int64            `json:"size_bytes"`
	ExtractedText string           `json:"extracted_text"`
	Method        ExtractionMethod `json:"extraction_method"`
}

// ProcessedRecord is handed to the persistence sink for every message that
// made it through the pipeline.
type ProcessedRecord struct {
	ID             string               `json:"id"`
	ThreadID       string               `json:"thread_id"`
	SessionID      string               `json:"session_id"`
	Subject        string               `json:"subject"`
	Sender         Address              `json:"sender"`
	Recipients     []Address            `json:"recipients"`
	Date           time.Time            `json:"date"`
	BodyText       string               `json:"body_text"`
	BodyHTML       string               `json:"body_html"`
	Attachments    []AttachmentRecord   `json:"attachments"`
	Classification ClassificationResult `json:"classification"`
	PatientInfo    *PatientInfo         `json:"patient_info,omitempty"`
	AIAnalysis     map[string]any       `json:"ai_analysis,omitempty"`
	ProcessedAt    time.Time            `json:"processed_at"`

	// ExtractionMethod summarizes how attachment text was obtained; "none"
	// when the message had no readable attachments.
	ExtractionMethod ExtractionMethod `json:"extraction_method"`
}

// RecipientEmails returns the bare addresses of all recipients.
func (r *ProcessedRecord) RecipientEmails() []string {
	out := make([]string, 0, len(r.Recipients))
	for _, a := range r.Recipients {
		out = append(out, a.Email)
	}
	return out
}

// ArchivedBody is the archived copy of a message body and its attachment
// texts.
type ArchivedBody struct {
	MessageID   string             `json:"message_id"`
	SessionID   string             `json:"session_id"`
	HTML        string             `json:"html"`
	Text        string             `json:"text"`
	Attachments []AttachmentRecord `json:"attachments"`
	ArchivedAt  time.Time          `json:"archived_at"`
}
