package http

import (
	"context"

	"vitalred_worker/core/domain"
	"vitalred_worker/pkg/apperr"

	"github.com/gofiber/fiber/v2"
)

// BodyArchive returns nil when the message was never archived.
type BodyArchive interface {
	GetBody(ctx context.Context, messageID string) (*domain.ArchivedBody, error)
}

// BodyHandler serves archived message bodies and attachment texts.
type BodyHandler struct {
	archive BodyArchive
}

func NewBodyHandler(archive BodyArchive) *BodyHandler {
	return &BodyHandler{archive: archive}
}

func (h *BodyHandler) Register(app *fiber.App) {
	app.Get("/bodies/:id", h.ByID)
}

func (h *BodyHandler) ByID(c *fiber.Ctx) error {
	id := c.Params("id")
	body, err := h.archive.GetBody(c.Context(), id)
	if err != nil {
		return apperr.ExternalError("mongodb", err)
	}
	if body == nil {
		return fiber.NewError(fiber.StatusNotFound, "no archived body for message "+id)
	}
	return c.JSON(body)
}
