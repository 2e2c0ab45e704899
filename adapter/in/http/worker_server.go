package http

import (
	"context"
	"time"

	"vitalred_worker/infra/middleware"
	"vitalred_worker/pkg/logger"

	"github.com/gofiber/fiber/v2"
)

type Registrar interface {
	Register(app *fiber.App)
}

func NewApp(handlers ...Registrar) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "vitalred-worker",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler:          middleware.ErrorHandler(),
	})
	app.Use(middleware.RequestID())
	app.Use(middleware.Recover())
	app.Use(middleware.RequestLogger())

	for _, h := range handlers {
		h.Register(app)
	}
	return app
}

// Serve listens on addr until ctx is cancelled.
func Serve(ctx context.Context, app *fiber.App, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("[HTTP] status API listening on %s", addr)
		errCh <- app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return app.ShutdownWithTimeout(5 * time.Second)
	}
}
