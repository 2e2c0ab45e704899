// Package browser drives the webmail UI with a headless Chrome through
// chromedp. It implements out.MailSession.
package browser

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"vitalred_worker/core/port/out"
	"vitalred_worker/pkg/httputil"
	"vitalred_worker/pkg/logger"
	"vitalred_worker/pkg/resilience"

	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// Config holds browser and pacing settings.
type Config struct {
	LoginURL string
	InboxURL string

	Headless    bool
	ExecPath    string
	UserAgent   string
	TypingDelay time.Duration

	AuthTimeout  time.Duration
	FetchTimeout time.Duration

	// ScrollPause is the wait after each scroll of the message list.
	ScrollPause time.Duration

	AttachmentMaxBytes int64
}

func DefaultConfig() Config {
	return Config{
		LoginURL:           "https://accounts.google.com/ServiceLogin?service=mail",
		InboxURL:           "https://mail.google.com/mail/u/0/#inbox",
		Headless:           true,
		TypingDelay:        120 * time.Millisecond,
		AuthTimeout:        30 * time.Second,
		FetchTimeout:       20 * time.Second,
		ScrollPause:        1500 * time.Millisecond,
		AttachmentMaxBytes: 25 << 20,
	}
}

// Session is one browser process with one authenticated profile. Every
// FetchMessage opens its own tab, so concurrent fetches share cookies but
// never a page.
type Session struct {
	cfg Config
	log zerolog.Logger

	allocCancel context.CancelFunc
	ctx         context.Context // main tab
	cancel      context.CancelFunc

	client  *http.Client
	breaker *gobreaker.CircuitBreaker

	closeOnce sync.Once
}

var _ out.MailSession = (*Session)(nil)

// Open starts the browser. The process lives until Close, independent of
// ctx.
func Open(ctx context.Context, cfg Config) (*Session, error) {
	log := logger.Component("browser_session")

	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1366, 900),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, cancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) { log.Debug().Msgf(format, args...) }),
		chromedp.WithErrorf(func(format string, args ...any) { log.Warn().Msgf(format, args...) }),
	)

	// The first Run launches the process.
	startCtx, startCancel := context.WithTimeout(tabCtx, cfg.AuthTimeout)
	defer startCancel()
	stop := context.AfterFunc(ctx, startCancel)
	defer stop()
	if err := chromedp.Run(startCtx); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	clientCfg := httputil.AttachmentClientConfig(cfg.FetchTimeout)
	clientCfg.UserAgent = cfg.UserAgent

	log.Info().Bool("headless", cfg.Headless).Msg("browser started")
	return &Session{
		cfg:         cfg,
		log:         log,
		allocCancel: allocCancel,
		ctx:         tabCtx,
		cancel:      cancel,
		client:      httputil.NewOptimizedClient(clientCfg),
		breaker:     resilience.NewBreaker(resilience.DefaultBreakerConfig("attachment-download"), log),
	}, nil
}

// NewFactory returns a factory that starts a fresh browser per session.
func NewFactory(cfg Config) out.MailSessionFactory {
	return out.MailSessionFactoryFunc(func(ctx context.Context) (out.MailSession, error) {
		return Open(ctx, cfg)
	})
}

// run executes actions on the main tab, bounded by both ctx and timeout.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

// Close shuts the browser down. Safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		stop := context.AfterFunc(closeCtx, s.cancel)
		defer stop()

		err = chromedp.Cancel(s.ctx)
		s.cancel()
		s.allocCancel()
		s.client.CloseIdleConnections()
		s.log.Info().Msg("browser closed")
	})
	return err
}

// messageURL builds the permalink of a message from the inbox URL.
func messageURL(inboxURL, id string) string {
	base, _, _ := strings.Cut(inboxURL, "#")
	return base + "#all/" + id
}
