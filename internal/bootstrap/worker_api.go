package bootstrap

import (
	httpin "vitalred_worker/adapter/in/http"
	"vitalred_worker/core/service/session"

	"github.com/gofiber/fiber/v2"
)

// NewStatusAPI exposes health, readiness, progress and referral statistics.
func NewStatusAPI(deps *Dependencies, mgr *session.Manager) *fiber.App {
	health := httpin.NewHealthHandler(deps.SQL.DB.DB).
		Check("sql", deps.Records)
	// typed nils must not reach the handler as non-nil interfaces
	if deps.Producer != nil {
		health.Check("redis", deps.Producer)
	} else {
		health.Check("redis", nil)
	}
	if deps.Bodies != nil {
		health.Check("mongodb", deps.Bodies)
	} else {
		health.Check("mongodb", nil)
	}
	if deps.Graph != nil {
		health.Check("neo4j", deps.Graph)
	} else {
		health.Check("neo4j", nil)
	}

	var archive httpin.ProgressArchive
	if deps.Producer != nil {
		archive = deps.Producer
	}
	var specialties httpin.SpecialtyCounter
	if deps.Graph != nil {
		specialties = deps.Graph
	}

	handlers := []httpin.Registrar{
		health,
		httpin.NewProgressHandler(mgr, archive, deps.Latency),
		httpin.NewStatsHandler(deps.Records, specialties),
	}
	if deps.Bodies != nil {
		handlers = append(handlers, httpin.NewBodyHandler(deps.Bodies))
	}
	return httpin.NewApp(handlers...)
}
