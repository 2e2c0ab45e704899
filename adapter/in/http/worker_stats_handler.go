package http

import (
	"context"

	"vitalred_worker/core/domain"
	"vitalred_worker/pkg/apperr"

	"github.com/gofiber/fiber/v2"
)

type ReferralCounter interface {
	CountReferrals(ctx context.Context) (int, error)
}

type SpecialtyCounter interface {
	CountBySpecialty(ctx context.Context, limit int) ([]domain.SpecialtyCount, error)
}

// StatsHandler reports stored referral volume. The specialty breakdown is
// only available when the referral graph is configured.
type StatsHandler struct {
	referrals   ReferralCounter
	specialties SpecialtyCounter
}

func NewStatsHandler(referrals ReferralCounter, specialties SpecialtyCounter) *StatsHandler {
	return &StatsHandler{referrals: referrals, specialties: specialties}
}

func (h *StatsHandler) Register(app *fiber.App) {
	app.Get("/stats", h.Stats)
}

func (h *StatsHandler) Stats(c *fiber.Ctx) error {
	n, err := h.referrals.CountReferrals(c.Context())
	if err != nil {
		return apperr.DatabaseError("count referrals", err)
	}
	body := fiber.Map{"referrals": n}

	if h.specialties != nil {
		counts, err := h.specialties.CountBySpecialty(c.Context(), c.QueryInt("limit", 20))
		if err != nil {
			return apperr.ExternalError("neo4j", err)
		}
		body["specialties"] = counts
	}
	return c.JSON(body)
}
