package persistence

import (
	"context"

	"vitalred_worker/core/domain"
	"vitalred_worker/core/port/out"
	"vitalred_worker/pkg/apperr"
	"vitalred_worker/pkg/logger"

	"github.com/rs/zerolog"
)

// FanoutSink writes to a primary sink and then, best effort, to the
// secondary stores. Only a primary failure fails Save.
type FanoutSink struct {
	primary out.RecordSink
	bodies  out.BodyStore
	graph   out.ReferralGraph
	events  out.EventPublisher
	log     zerolog.Logger
}

var _ out.RecordSink = (*FanoutSink)(nil)

type FanoutOption func(*FanoutSink)

func WithBodyStore(b out.BodyStore) FanoutOption {
	return func(f *FanoutSink) { f.bodies = b }
}

func WithReferralGraph(g out.ReferralGraph) FanoutOption {
	return func(f *FanoutSink) { f.graph = g }
}

func WithEventPublisher(p out.EventPublisher) FanoutOption {
	return func(f *FanoutSink) { f.events = p }
}

func NewFanoutSink(primary out.RecordSink, opts ...FanoutOption) *FanoutSink {
	f := &FanoutSink{primary: primary, log: logger.Component("record_sink")}
	for _, o := range opts {
		o(f)
	}
	return f
}

func (f *FanoutSink) Save(ctx context.Context, r *domain.ProcessedRecord) error {
	if err := f.primary.Save(ctx, r); err != nil {
		return apperr.DatabaseError("save record", err)
	}

	if f.bodies != nil {
		if err := f.bodies.SaveBody(ctx, r); err != nil {
			f.warn(err, r, "body archive")
		}
	}
	if !r.Classification.IsReferral {
		return nil
	}
	if f.graph != nil {
		if err := f.graph.UpsertReferral(ctx, r); err != nil {
			f.warn(err, r, "referral graph")
		}
	}
	if f.events != nil {
		if err := f.events.PublishReferral(ctx, r); err != nil {
			f.warn(err, r, "referral event")
		}
	}
	return nil
}

func (f *FanoutSink) warn(err error, r *domain.ProcessedRecord, target string) {
	f.log.Warn().Err(err).
		Str("message_id", r.ID).
		Str("session_id", r.SessionID).
		Str("target", target).
		Msg("secondary write failed")
}
