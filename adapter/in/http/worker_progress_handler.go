package http

import (
	"context"

	"vitalred_worker/core/domain"
	"vitalred_worker/pkg/apperr"
	"vitalred_worker/pkg/metrics"

	"github.com/gofiber/fiber/v2"
)

// ProgressSource is the in-process session registry.
type ProgressSource interface {
	GetProgress(sessionID string) (domain.Progress, error)
	ActiveID() (string, bool)
}

// ProgressArchive holds snapshots of sessions that ran in other processes
// or before a restart.
type ProgressArchive interface {
	GetProgress(ctx context.Context, sessionID string) (*domain.Progress, error)
}

type ProgressHandler struct {
	sessions ProgressSource
	archive  ProgressArchive
	latency  *metrics.PipelineLatency
}

func NewProgressHandler(sessions ProgressSource, archive ProgressArchive, latency *metrics.PipelineLatency) *ProgressHandler {
	return &ProgressHandler{sessions: sessions, archive: archive, latency: latency}
}

func (h *ProgressHandler) Register(app *fiber.App) {
	app.Get("/progress", h.Current)
	app.Get("/progress/:id", h.ByID)
	app.Get("/metrics/latency", h.Latency)
}

// progressView adds derived figures to a snapshot.
type progressView struct {
	domain.Progress
	SuccessRate float64 `json:"success_rate"`
	Remaining   int     `json:"remaining"`
}

func viewOf(p domain.Progress) progressView {
	return progressView{Progress: p, SuccessRate: p.SuccessRate(), Remaining: p.Remaining()}
}

func (h *ProgressHandler) Current(c *fiber.Ctx) error {
	id, ok := h.sessions.ActiveID()
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "no extraction session has been started")
	}
	p, err := h.sessions.GetProgress(id)
	if err != nil {
		return err
	}
	return c.JSON(viewOf(p))
}

func (h *ProgressHandler) ByID(c *fiber.Ctx) error {
	id := c.Params("id")
	p, err := h.sessions.GetProgress(id)
	if err == nil {
		return c.JSON(viewOf(p))
	}
	if !apperr.IsCode(err, apperr.CodeSessionNotFound) || h.archive == nil {
		return err
	}

	archived, aerr := h.archive.GetProgress(c.Context(), id)
	if aerr != nil {
		return apperr.ExternalError("progress archive", aerr)
	}
	if archived == nil {
		return err
	}
	return c.JSON(viewOf(*archived))
}

func (h *ProgressHandler) Latency(c *fiber.Ctx) error {
	snap := h.latency.Snapshot()
	out := make(fiber.Map, len(snap))
	for stage, stats := range snap {
		out[string(stage)] = stats.ToMap()
	}
	return c.JSON(out)
}
