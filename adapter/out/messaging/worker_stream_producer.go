// Package messaging publishes referral events and session progress to Redis.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"vitalred_worker/core/domain"
	"vitalred_worker/core/port/out"

	"github.com/redis/go-redis/v9"
)

// Stream names
const (
	StreamReferralDetected = "referral:detected"
)

// ReferralEvent is the payload of StreamReferralDetected.
type ReferralEvent struct {
	MessageID    string              `json:"message_id"`
	SessionID    string              `json:"session_id"`
	Subject      string              `json:"subject"`
	Sender       string              `json:"sender"`
	Date         time.Time           `json:"date"`
	ReferralType domain.ReferralType `json:"referral_type"`
	Urgency      domain.UrgencyLevel `json:"urgency_level"`
	Specialty    string              `json:"specialty,omitempty"`
	Patient      *domain.PatientInfo `json:"patient,omitempty"`
}

func newReferralEvent(r *domain.ProcessedRecord) ReferralEvent {
	return ReferralEvent{
		MessageID:    r.ID,
		SessionID:    r.SessionID,
		Subject:      r.Subject,
		Sender:       r.Sender.Email,
		Date:         r.Date,
		ReferralType: r.Classification.ReferralType,
		Urgency:      r.Classification.UrgencyLevel,
		Specialty:    r.Classification.Specialty,
		Patient:      r.PatientInfo,
	}
}

// RedisProducer implements out.EventPublisher and out.ProgressStore.
type RedisProducer struct {
	client *redis.Client
	maxLen int64
}

// NewRedisProducer creates a new RedisProducer. Streams are trimmed to
// roughly maxLen entries; zero disables trimming.
func NewRedisProducer(client *redis.Client, maxLen int64) *RedisProducer {
	return &RedisProducer{client: client, maxLen: maxLen}
}

const (
	announcedKeyPrefix = "referral:announced:"
	announcedTTL       = 7 * 24 * time.Hour
)

// PublishReferral announces a detected referral once per message within
// announcedTTL; re-extracting the same inbox does not repeat the event.
func (p *RedisProducer) PublishReferral(ctx context.Context, r *domain.ProcessedRecord) error {
	key := announcedKeyPrefix + r.ID
	first, err := p.client.SetNX(ctx, key, r.SessionID, announcedTTL).Result()
	if err != nil {
		return fmt.Errorf("failed to mark referral %s: %w", r.ID, err)
	}
	if !first {
		return nil
	}
	if err := p.publish(ctx, StreamReferralDetected, newReferralEvent(r)); err != nil {
		// let a later session retry the announcement
		p.client.Del(ctx, key)
		return err
	}
	return nil
}

// =============================================================================
// Session Progress (Redis Hash)
// =============================================================================

const (
	progressKeyPrefix = "extraction:session:"
	progressTTL       = 24 * time.Hour
)

func progressKey(sessionID string) string {
	return progressKeyPrefix + sessionID
}

// SaveProgress stores the latest snapshot of a session.
func (p *RedisProducer) SaveProgress(ctx context.Context, progress domain.Progress) error {
	fields, err := progressFields(progress)
	if err != nil {
		return err
	}
	key := progressKey(progress.SessionID)

	pipe := p.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, progressTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save progress: %w", err)
	}
	return nil
}

// GetProgress returns nil when the session is unknown or expired.
func (p *RedisProducer) GetProgress(ctx context.Context, sessionID string) (*domain.Progress, error) {
	result, err := p.client.HGetAll(ctx, progressKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get progress: %w", err)
	}
	if len(result) == 0 {
		return nil, nil
	}
	return parseProgress(sessionID, result)
}

func progressFields(p domain.Progress) (map[string]any, error) {
	errs, err := json.Marshal(p.Errors)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal errors: %w", err)
	}
	fields := map[string]any{
		"status":          string(p.Status),
		"total":           p.TotalEmails,
		"processed":       p.ProcessedEmails,
		"succeeded":       p.SuccessfulExtractions,
		"failed":          p.FailedExtractions,
		"current":         p.CurrentEmailID,
		"started_at":      p.StartedAt.UTC().Format(time.RFC3339Nano),
		"elapsed_seconds": strconv.FormatFloat(p.ElapsedSeconds, 'f', 3, 64),
		"eta":             "",
		"errors_count":    p.ErrorsCount,
		"errors":          string(errs),
	}
	if p.EstimatedCompletion != nil {
		fields["eta"] = p.EstimatedCompletion.UTC().Format(time.RFC3339Nano)
	}
	return fields, nil
}

func parseProgress(sessionID string, h map[string]string) (*domain.Progress, error) {
	p := &domain.Progress{
		SessionID:      sessionID,
		Status:         domain.SessionStatus(h["status"]),
		CurrentEmailID: h["current"],
	}

	ints := []struct {
		field string
		dst   *int
	}{
		{"total", &p.TotalEmails},
		{"processed", &p.ProcessedEmails},
		{"succeeded", &p.SuccessfulExtractions},
		{"failed", &p.FailedExtractions},
		{"errors_count", &p.ErrorsCount},
	}
	var errs []error
	for _, f := range ints {
		v, ok := h[f.field]
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f.field, err))
			continue
		}
		*f.dst = n
	}

	if v := h["elapsed_seconds"]; v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("elapsed_seconds: %w", err))
		}
		p.ElapsedSeconds = f
	}
	if v := h["started_at"]; v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			errs = append(errs, fmt.Errorf("started_at: %w", err))
		}
		p.StartedAt = t
	}
	if v := h["eta"]; v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			errs = append(errs, fmt.Errorf("eta: %w", err))
		} else {
			p.EstimatedCompletion = &t
		}
	}
	if v := h["errors"]; v != "" && v != "null" {
		if err := json.Unmarshal([]byte(v), &p.Errors); err != nil {
			errs = append(errs, fmt.Errorf("errors: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("corrupt progress for %s: %w", sessionID, err)
	}
	return p, nil
}

// publish publishes an event to a stream using go-redis.
func (p *RedisProducer) publish(ctx context.Context, stream string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: stream,
		ID:     "*",
		Values: map[string]any{
			"data": string(data),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", stream, err)
	}
	return nil
}

func (p *RedisProducer) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

var (
	_ out.EventPublisher = (*RedisProducer)(nil)
	_ out.ProgressStore  = (*RedisProducer)(nil)
)
