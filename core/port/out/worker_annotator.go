package out

import (
	"context"

	"vitalred_worker/core/domain"
)

// Annotator enriches a record with free-form analysis. Callers treat every
// error as non-fatal.
type Annotator interface {
	Annotate(ctx context.Context, record *domain.ProcessedRecord) (map[string]any, error)
}
