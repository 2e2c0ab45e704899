package browser

import (
	"context"
	"errors"
	"iter"

	"vitalred_worker/core/domain"
	"vitalred_worker/pkg/apperr"

	"github.com/chromedp/chromedp"
)

const selMessageRow = `tr.zA`

// listRows returns the message and thread ids of every visible row.
const listRows = `Array.from(document.querySelectorAll('tr.zA')).map(r => {
	const m = r.querySelector('[data-legacy-message-id]');
	const t = r.querySelector('[data-thread-id], [data-legacy-thread-id]');
	let thread = "";
	if (t) thread = (t.getAttribute('data-thread-id') || t.getAttribute('data-legacy-thread-id') || "").replace(/^#/, "");
	return {id: m ? m.getAttribute('data-legacy-message-id') : thread, thread: thread};
})`

// scrollList scrolls the list to the bottom and, when the list is paged,
// presses the enabled "older" button. It reports whether anything moved.
const scrollList = `(() => {
	const main = document.querySelector('div[role="main"]') || document.scrollingElement;
	const before = main.scrollTop;
	main.scrollTop = main.scrollHeight;
	window.scrollTo(0, document.body.scrollHeight);
	const older = document.querySelector('div[aria-label="Older"]:not([aria-disabled="true"]), div[aria-label="Más antiguos"]:not([aria-disabled="true"])');
	if (older) { older.click(); return true; }
	return main.scrollTop !== before;
})()`

type row struct {
	ID     string `json:"id"`
	Thread string `json:"thread"`
}

// newHandles returns rows not yet in seen, in page order, and marks them.
func newHandles(rows []row, seen map[string]struct{}) []domain.RawMessageHandle {
	var out []domain.RawMessageHandle
	for _, r := range rows {
		if r.ID == "" {
			continue
		}
		if _, dup := seen[r.ID]; dup {
			continue
		}
		seen[r.ID] = struct{}{}
		thread := r.Thread
		if thread == "" {
			thread = r.ID
		}
		out = append(out, domain.RawMessageHandle{ID: r.ID, ThreadID: thread})
	}
	return out
}

// ListMessageIDs opens the inbox and yields message handles, scrolling
// until max handles were produced or a scroll brings no new rows.
func (s *Session) ListMessageIDs(ctx context.Context, max int) iter.Seq2[domain.RawMessageHandle, error] {
	return func(yield func(domain.RawMessageHandle, error) bool) {
		if max <= 0 {
			return
		}
		err := s.run(ctx, s.cfg.FetchTimeout,
			chromedp.Navigate(s.cfg.InboxURL),
			chromedp.WaitVisible(selMessageRow, chromedp.ByQuery),
		)
		if err != nil {
			yield(domain.RawMessageHandle{}, fetchError("open inbox", "inbox", err))
			return
		}

		seen := make(map[string]struct{})
		produced := 0
		for {
			var rows []row
			if err := s.run(ctx, s.cfg.FetchTimeout, chromedp.Evaluate(listRows, &rows)); err != nil {
				yield(domain.RawMessageHandle{}, fetchError("list messages", "inbox", err))
				return
			}

			fresh := newHandles(rows, seen)
			for _, h := range fresh {
				if !yield(h, nil) {
					return
				}
				if produced++; produced >= max {
					return
				}
			}
			if len(fresh) == 0 && len(seen) > 0 {
				s.log.Debug().Int("ids", produced).Msg("message list exhausted")
				return
			}

			var moved bool
			if err := s.run(ctx, s.cfg.FetchTimeout, chromedp.Evaluate(scrollList, &moved)); err != nil {
				yield(domain.RawMessageHandle{}, fetchError("scroll message list", "inbox", err))
				return
			}
			if !moved {
				return
			}
			if err := sleepCtx(ctx, s.cfg.ScrollPause); err != nil {
				yield(domain.RawMessageHandle{}, err)
				return
			}
		}
	}
}

const selMessageContent = `h2.hP`

// FetchMessage opens the message permalink in a new tab and returns the
// page HTML once the subject header is rendered.
func (s *Session) FetchMessage(ctx context.Context, h domain.RawMessageHandle) (string, error) {
	tabCtx, closeTab := chromedp.NewContext(s.ctx)
	defer closeTab()

	fetchCtx, cancel := context.WithTimeout(tabCtx, s.cfg.FetchTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var page string
	err := chromedp.Run(fetchCtx,
		chromedp.Navigate(messageURL(s.cfg.InboxURL, h.ID)),
		chromedp.WaitVisible(selMessageContent, chromedp.ByQuery),
		chromedp.OuterHTML("html", &page, chromedp.ByQuery),
	)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fetchError("fetch message", h.ID, err)
	}
	return page, nil
}

// fetchError maps a browser failure: a content wait that timed out means
// the item did not render and is reported as not found.
func fetchError(op, id string, err error) error {
	if apperr.IsAppError(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.FetchNotFound(id).WithError(err)
	}
	return apperr.FetchNetwork(op, err)
}
