package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	httpin "vitalred_worker/adapter/in/http"
	"vitalred_worker/adapter/in/tui"
	"vitalred_worker/core/domain"
	"vitalred_worker/core/service/session"
	"vitalred_worker/internal/bootstrap"
	"vitalred_worker/pkg/apperr"
	"vitalred_worker/pkg/credential"
	"vitalred_worker/pkg/logger"

	"github.com/spf13/cobra"
)

const pollInterval = 2 * time.Second

func extractCmd(opts *rootOptions) *cobra.Command {
	var (
		maxEmails int
		account   string
		useTUI    bool
	)
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Run one extraction session against the configured mailbox",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			if err := cfg.Validate(); err != nil {
				return apperr.ConfigError(err.Error())
			}
			if account == "" {
				account = cfg.MailboxAddress
			}
			if maxEmails == 0 {
				maxEmails = cfg.MaxEmails
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			secret, err := resolveSecret(cfg.MailboxSecret, account)
			if err != nil {
				return err
			}

			deps, cleanup, err := bootstrap.NewDependencies(ctx, cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			mgr, err := bootstrap.NewExtractionService(deps)
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := mgr.Shutdown(shutdownCtx); err != nil {
					logger.WithError(err).Warn("[CLI] session shutdown incomplete")
				}
			}()

			if cfg.HealthAddr != "" {
				app := bootstrap.NewStatusAPI(deps, mgr)
				go func() {
					if err := httpin.Serve(ctx, app, cfg.HealthAddr); err != nil {
						logger.WithError(err).Error("[CLI] status API stopped")
					}
				}()
			}

			id, err := mgr.StartExtraction(ctx, account, secret, maxEmails)
			if err != nil {
				return err
			}

			var final domain.Progress
			if useTUI {
				final, err = runMonitor(ctx, mgr, id)
			} else {
				final, err = pollUntilDone(ctx, mgr, id, cmd.ErrOrStderr())
			}
			if err != nil {
				return err
			}

			printSummary(cmd.OutOrStdout(), final)
			if final.Status == domain.SessionFailed {
				return fmt.Errorf("session %s failed", id)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&maxEmails, "max", 0, "maximum number of messages (default EXTRACT_MAX_EMAILS)")
	cmd.Flags().StringVar(&account, "account", "", "mailbox address (default MAILBOX_ADDRESS)")
	cmd.Flags().BoolVar(&useTUI, "tui", false, "show the interactive monitor")
	return cmd
}

// resolveSecret prefers the configured secret and falls back to the keyring.
func resolveSecret(configured, account string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	store, err := openCredentials()
	if err != nil {
		return "", apperr.ConfigError("MAILBOX_SECRET is empty and the keyring is unavailable: " + err.Error())
	}
	secret, err := credential.Resolve(configured, account, store)
	if errors.Is(err, credential.ErrNotFound) {
		return "", apperr.ConfigError("no mailbox secret for " + account + "; run `vitalred credentials set`")
	}
	return secret, err
}

// runMonitor drives the TUI. A signal while the TUI runs stops the session
// and waits for it to settle.
func runMonitor(ctx context.Context, mgr *session.Manager, id string) (domain.Progress, error) {
	if _, err := tui.Run(mgr, id); err != nil {
		return domain.Progress{}, err
	}
	if ctx.Err() != nil {
		requestStop(mgr, id)
	}
	return mgr.Wait(context.Background(), id)
}

// pollUntilDone logs progress every pollInterval. The first signal stops the
// session gracefully; the session then finishes its in-flight batch.
func pollUntilDone(ctx context.Context, mgr *session.Manager, id string, w io.Writer) (domain.Progress, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	stopping := false
	for {
		waitCtx := ctx
		if stopping {
			waitCtx = context.Background()
		}
		select {
		case <-ticker.C:
			p, err := mgr.GetProgress(id)
			if err != nil {
				return domain.Progress{}, err
			}
			fmt.Fprintf(w, "%s  %d/%d processed, %d ok, %d failed\n",
				p.Status, p.ProcessedEmails, p.TotalEmails, p.SuccessfulExtractions, p.FailedExtractions)
			if p.Status.IsTerminal() {
				return p, nil
			}
		case <-waitCtx.Done():
			logger.Info("[CLI] interrupt received, stopping session %s", id)
			requestStop(mgr, id)
			stopping = true
		}
	}
}

// requestStop resumes a paused session first, since stop is rejected while
// paused.
func requestStop(mgr *session.Manager, id string) {
	p, err := mgr.GetProgress(id)
	if err != nil || p.Status.IsTerminal() {
		return
	}
	if p.Status == domain.SessionPaused {
		if err := mgr.Resume(id); err != nil {
			logger.WithError(err).Warn("[CLI] resume before stop failed")
		}
	}
	if err := mgr.Stop(id); err != nil && !apperr.IsCode(err, apperr.CodeSessionInvalidState) {
		logger.WithError(err).Warn("[CLI] stop failed")
	}
}

func printSummary(w io.Writer, p domain.Progress) {
	fmt.Fprintf(w, "Sesión %s: %s\n", p.SessionID, p.Status)
	fmt.Fprintf(w, "  correos procesados: %d de %d\n", p.ProcessedEmails, p.TotalEmails)
	fmt.Fprintf(w, "  exitosos: %d  fallidos: %d  (%.1f%%)\n", p.SuccessfulExtractions, p.FailedExtractions, p.SuccessRate())
	fmt.Fprintf(w, "  duración: %s\n", time.Duration(p.ElapsedSeconds*float64(time.Second)).Round(time.Second))
	for _, e := range p.Errors {
		if e.ItemID != "" {
			fmt.Fprintf(w, "  error [%s]: %s\n", e.ItemID, e.Message)
		} else {
			fmt.Fprintf(w, "  error: %s\n", e.Message)
		}
	}
}
