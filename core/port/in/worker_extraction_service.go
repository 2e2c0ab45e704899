package in

import (
	"context"

	"vitalred_worker/core/domain"
)

// ExtractionService is the contract the rest of the application uses to run
// and observe mailbox extraction. At most one session runs per process.
type ExtractionService interface {
	StartExtraction(ctx context.Context, account, secret string, maxEmails int) (string, error)
	Pause(sessionID string) error
	Resume(sessionID string) error
	Stop(sessionID string) error
	GetProgress(sessionID string) (domain.Progress, error)
}
