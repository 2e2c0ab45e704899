package browser

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"vitalred_worker/pkg/apperr"
	"vitalred_worker/pkg/httputil"
	"vitalred_worker/pkg/resilience"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
)

// FetchAttachment downloads an attachment outside the browser, replaying the
// browser's cookies on a plain HTTP client.
func (s *Session) FetchAttachment(ctx context.Context, downloadURL string) ([]byte, error) {
	if err := s.syncCookies(ctx); err != nil {
		return nil, apperr.FetchNetwork("read browser cookies", err)
	}

	res, err := s.breaker.Execute(func() (any, error) {
		return httputil.GetBytes(ctx, s.client, downloadURL, s.cfg.AttachmentMaxBytes)
	})
	if err != nil {
		return nil, downloadError(downloadURL, err)
	}
	return res.([]byte), nil
}

func (s *Session) syncCookies(ctx context.Context) error {
	var cookies []*network.Cookie
	err := s.run(ctx, s.cfg.FetchTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = storage.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return err
	}
	for origin, jarCookies := range jarEntries(cookies) {
		if err := httputil.SetCookies(s.client, origin, jarCookies); err != nil {
			return err
		}
	}
	return nil
}

// jarEntries groups browser cookies by the origin they belong to.
func jarEntries(cookies []*network.Cookie) map[string][]*http.Cookie {
	out := make(map[string][]*http.Cookie)
	for _, c := range cookies {
		host := strings.TrimPrefix(c.Domain, ".")
		if host == "" {
			continue
		}
		origin := (&url.URL{Scheme: "https", Host: host, Path: "/"}).String()
		hc := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}
		// A leading dot marks a domain cookie; without it the cookie is
		// host-only.
		if strings.HasPrefix(c.Domain, ".") {
			hc.Domain = host
		}
		out[origin] = append(out[origin], hc)
	}
	return out
}

func downloadError(u string, err error) error {
	var status *httputil.StatusError
	switch {
	case errors.As(err, &status) && (status.StatusCode == http.StatusNotFound || status.StatusCode == http.StatusGone):
		return apperr.FetchNotFound(u)
	case errors.Is(err, context.DeadlineExceeded):
		return apperr.FetchTimeout("download attachment", err)
	case resilience.IsOpen(err):
		return apperr.FetchNetwork("download attachment (circuit open)", err)
	}
	return apperr.FetchNetwork("download attachment", err)
}
