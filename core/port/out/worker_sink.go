package out

import (
	"context"

	"vitalred_worker/core/domain"
)

// RecordSink receives processed records. Save must be an idempotent upsert
// keyed by message id; a retried item can be saved more than once.
type RecordSink interface {
	Save(ctx context.Context, record *domain.ProcessedRecord) error
}

// BodyStore archives message bodies and extracted attachment text.
type BodyStore interface {
	SaveBody(ctx context.Context, record *domain.ProcessedRecord) error
}

// ReferralGraph links senders, referrals and specialties.
type ReferralGraph interface {
	UpsertReferral(ctx context.Context, record *domain.ProcessedRecord) error
}

// EventPublisher announces detected referrals to downstream consumers.
type EventPublisher interface {
	PublishReferral(ctx context.Context, record *domain.ProcessedRecord) error
}

// ProgressStore keeps the latest progress snapshot outside the process.
type ProgressStore interface {
	SaveProgress(ctx context.Context, progress domain.Progress) error
	GetProgress(ctx context.Context, sessionID string) (*domain.Progress, error)
}
