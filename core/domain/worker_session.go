package domain

import (
	"time"
)

// =============================================================================
// Extraction Session State
// =============================================================================

type SessionStatus string

const (
	SessionIdle      SessionStatus = "idle"
	SessionRunning   SessionStatus = "running"
	SessionPaused    SessionStatus = "paused"
	SessionStopped   SessionStatus = "stopped"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// IsTerminal reports whether no further transition is possible.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStopped || s == SessionCompleted || s == SessionFailed
}

// ErrorEntry is one line of a session's error log.
type ErrorEntry struct {
	At      time.Time `json:"at"`
	ItemID  string    `json:"item_id,omitempty"`
	Message string    `json:"message"`
}

// Progress is a point-in-time snapshot of a session.
type Progress struct {
	SessionID             string        `json:"session_id"`
	Status                SessionStatus `json:"status"`
	TotalEmails           int           `json:"total_emails"`
	ProcessedEmails       int           `json:"processed_emails"`
	SuccessfulExtractions int           `json:"successful_extractions"`
	FailedExtractions     int           `json:"failed_extractions"`
	CurrentEmailID        string        `json:"current_email_id,omitempty"`
	StartedAt             time.Time     `json:"started_at"`
	ElapsedSeconds        float64       `json:"elapsed_time_seconds"`
	EstimatedCompletion   *time.Time    `json:"estimated_completion,omitempty"`
	ErrorsCount           int           `json:"errors_count"`
	Errors                []ErrorEntry  `json:"errors,omitempty"`
}

// SuccessRate is the share of processed items that succeeded, in percent.
func (p Progress) SuccessRate() float64 {
	if p.ProcessedEmails == 0 {
		return 0
	}
	return float64(p.SuccessfulExtractions) / float64(p.ProcessedEmails) * 100
}

// Remaining returns how many items are still to be processed.
func (p Progress) Remaining() int {
	if r := p.TotalEmails - p.ProcessedEmails; r > 0 {
		return r
	}
	return 0
}
