package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vitalred_worker/core/domain"
	"vitalred_worker/pkg/apperr"

	"github.com/chromedp/chromedp"
)

const (
	selEmailInput    = `input[type="email"]`
	selEmailNext     = `#identifierNext`
	selPasswordInput = `input[type="password"]`
	selPasswordNext  = `#passwordNext`
)

// authState is reported by authProbe while the login flow settles.
type authState string

const (
	authPending       authState = "pending"
	authInbox         authState = "inbox"
	authChallenge     authState = "challenge"
	authCaptcha       authState = "captcha"
	authWrongPassword authState = "wrong_password"
	authUnknownUser   authState = "unknown_user"
)

// authProbe inspects the current page after credentials were submitted.
const authProbe = `(() => {
	const href = location.href;
	if (href.startsWith("https://mail.google.com/") && document.querySelector('div[role="main"]')) return "inbox";
	if (document.querySelector('#captchaimg, iframe[title*="reCAPTCHA"]')) return "captcha";
	if (href.includes("/challenge/") && !href.includes("/challenge/pwd")) return "challenge";
	if (document.querySelector('input[type="password"][aria-invalid="true"]')) return "wrong_password";
	if (document.querySelector('input[type="email"][aria-invalid="true"]')) return "unknown_user";
	return "pending";
})()`

const authPollInterval = 500 * time.Millisecond

// Authenticate signs in by typing into the login form at human pace. It
// fails with AUTH_CHALLENGE_REQUIRED when the provider asks for a second
// factor or captcha.
func (s *Session) Authenticate(ctx context.Context, creds domain.Credentials) error {
	if creds.Account == "" || creds.Secret == "" {
		return apperr.InvalidCredentials(creds.Account)
	}

	authCtx, cancel := context.WithTimeout(s.ctx, s.cfg.AuthTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	s.log.Info().Str("account", creds.Account).Msg("signing in")

	err := chromedp.Run(authCtx,
		chromedp.Navigate(s.cfg.LoginURL),
		chromedp.WaitVisible(selEmailInput, chromedp.ByQuery),
		typeSlowly(selEmailInput, creds.Account, s.cfg.TypingDelay),
		chromedp.Click(selEmailNext, chromedp.ByQuery),
	)
	if err != nil {
		return authError(authCtx, creds.Account, fmt.Errorf("account step: %w", err))
	}

	// The password field only appears if the account is known.
	if err := s.waitFor(authCtx, selPasswordInput, creds.Account); err != nil {
		return authError(authCtx, creds.Account, err)
	}

	err = chromedp.Run(authCtx,
		typeSlowly(selPasswordInput, creds.Secret, s.cfg.TypingDelay),
		chromedp.Click(selPasswordNext, chromedp.ByQuery),
	)
	if err != nil {
		return authError(authCtx, creds.Account, fmt.Errorf("password step: %w", err))
	}

	if err := chromedp.Run(authCtx, chromedp.Navigate(s.cfg.InboxURL)); err != nil {
		return authError(authCtx, creds.Account, fmt.Errorf("open inbox: %w", err))
	}
	return s.waitInbox(authCtx, creds.Account)
}

// waitFor polls until sel is visible or the probe reports a terminal state.
func (s *Session) waitFor(ctx context.Context, sel, account string) error {
	for {
		var visible bool
		err := chromedp.Run(ctx, chromedp.Evaluate(
			fmt.Sprintf(`!!document.querySelector(%q)`, sel), &visible))
		if err != nil {
			return err
		}
		if visible {
			return nil
		}
		var state string
		if err := chromedp.Run(ctx, chromedp.Evaluate(authProbe, &state)); err != nil {
			return err
		}
		if err := stateError(authState(state), account); err != nil {
			return err
		}
		if err := sleepCtx(ctx, authPollInterval); err != nil {
			return err
		}
	}
}

func (s *Session) waitInbox(ctx context.Context, account string) error {
	for {
		var state string
		if err := chromedp.Run(ctx, chromedp.Evaluate(authProbe, &state)); err != nil {
			return authError(ctx, account, err)
		}
		if authState(state) == authInbox {
			s.log.Info().Str("account", account).Msg("signed in")
			return nil
		}
		if err := stateError(authState(state), account); err != nil {
			return err
		}
		if err := sleepCtx(ctx, authPollInterval); err != nil {
			return authError(ctx, account, err)
		}
	}
}

// stateError maps a probe result to an auth error; nil while undecided.
func stateError(state authState, account string) error {
	switch state {
	case authChallenge:
		return apperr.ChallengeRequired("two_step")
	case authCaptcha:
		return apperr.ChallengeRequired("captcha")
	case authWrongPassword, authUnknownUser:
		return apperr.InvalidCredentials(account)
	}
	return nil
}

func authError(ctx context.Context, account string, err error) error {
	if apperr.IsAuthError(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperr.AuthTimeout(err)
	}
	return apperr.ExternalError("browser", fmt.Errorf("sign-in for %s: %w", account, err))
}

// typeSlowly types text one character at a time with delay between keys.
func typeSlowly(sel, text string, delay time.Duration) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		for _, r := range text {
			if err := chromedp.SendKeys(sel, string(r), chromedp.ByQuery).Do(ctx); err != nil {
				return err
			}
			if err := sleepCtx(ctx, delay); err != nil {
				return err
			}
		}
		return nil
	})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
