// Package parser turns a rendered webmail message page into a ParsedMessage.
package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"vitalred_worker/core/domain"
	"vitalred_worker/pkg/apperr"
	"vitalred_worker/pkg/logger"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
)

const snippetLength = 200

// Selectors for the Gmail conversation view.
const (
	selSubject    = "h2.hP"
	selSender     = "span.gD"
	selRecipients = "span.g2"
	selDate       = "span.g3"
	selAttachment = "[download_url]"
	selAltAttach  = "[data-download-url]"
)

// bodySelectors are tried in order; the first one that matches wins.
var bodySelectors = []string{"div.a3s", "div.ii.gt", "[data-message-body]"}

var sizePattern = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*(bytes|b|kb|k|mb|m|gb)\b`)

// ContentParser is deterministic for a fixed input and clock.
type ContentParser struct {
	now      func() time.Time
	location *time.Location
	log      zerolog.Logger
}

type Option func(*ContentParser)

// WithClock sets the clock used for the date fallback.
func WithClock(now func() time.Time) Option {
	return func(p *ContentParser) { p.now = now }
}

// WithLocation sets the zone for dates that carry none.
func WithLocation(loc *time.Location) Option {
	return func(p *ContentParser) { p.location = loc }
}

func WithLogger(log zerolog.Logger) Option {
	return func(p *ContentParser) { p.log = log }
}

func NewContentParser(opts ...Option) *ContentParser {
	p := &ContentParser{
		now:      time.Now,
		location: time.UTC,
		log:      logger.Component("content_parser"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse structures one message page.
func (p *ContentParser) Parse(handle domain.RawMessageHandle, page string) (*domain.ParsedMessage, error) {
	if strings.TrimSpace(page) == "" {
		return nil, apperr.InvalidInput("html", "empty message page")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil, apperr.InvalidInput("html", err.Error())
	}

	msg := &domain.ParsedMessage{
		ID:          handle.ID,
		ThreadID:    handle.ThreadID,
		Subject:     p.subject(doc),
		Sender:      p.sender(doc),
		Recipients:  p.recipients(doc),
		Attachments: p.attachments(doc),
	}

	rawDate := p.rawDate(doc)
	if ts, ok := parseDate(rawDate, p.location); ok {
		msg.Timestamp = ts
	} else {
		msg.Timestamp = p.now()
		msg.DateFallback = true
		p.log.Warn().
			Str("message_id", handle.ID).
			Str("raw_date", rawDate).
			Msg("unparseable message date, using current time")
	}

	msg.BodyHTML, msg.BodyText = p.body(doc)
	msg.Snippet = snippet(msg.BodyText, snippetLength)
	if msg.Attachments == nil {
		msg.Attachments = []domain.AttachmentDescriptor{}
	}
	if msg.Recipients == nil {
		msg.Recipients = []domain.Address{}
	}
	return msg, nil
}

func (p *ContentParser) subject(doc *goquery.Document) string {
	if s := strings.TrimSpace(doc.Find(selSubject).First().Text()); s != "" {
		return s
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	// "Subject - account@example.com - Gmail"
	if i := strings.Index(title, " - "); i > 0 {
		return strings.TrimSpace(title[:i])
	}
	return title
}

func addressFrom(sel *goquery.Selection) domain.Address {
	email, _ := sel.Attr("email")
	name, ok := sel.Attr("name")
	if !ok || name == "" {
		name = strings.TrimSpace(sel.Text())
	}
	email = strings.TrimSpace(email)
	if name == email {
		name = ""
	}
	return domain.Address{Email: email, Name: name}
}

func (p *ContentParser) sender(doc *goquery.Document) domain.Address {
	sel := doc.Find(selSender).First()
	if sel.Length() == 0 {
		sel = doc.Find("span[email]").First()
	}
	if sel.Length() == 0 {
		return domain.Address{}
	}
	return addressFrom(sel)
}

func (p *ContentParser) recipients(doc *goquery.Document) []domain.Address {
	var out []domain.Address
	seen := make(map[string]bool)
	doc.Find(selRecipients).Each(func(_ int, sel *goquery.Selection) {
		addr := addressFrom(sel)
		if addr.Email == "" || seen[addr.Email] {
			return
		}
		seen[addr.Email] = true
		out = append(out, addr)
	})
	return out
}

func (p *ContentParser) rawDate(doc *goquery.Document) string {
	sel := doc.Find(selDate).First()
	if title, ok := sel.Attr("title"); ok && strings.TrimSpace(title) != "" {
		return title
	}
	if sel.Length() > 0 {
		return strings.TrimSpace(sel.Text())
	}
	if v, ok := doc.Find("[data-date]").First().Attr("data-date"); ok {
		return v
	}
	return ""
}

// body concatenates every content block in document order.
func (p *ContentParser) body(doc *goquery.Document) (string, string) {
	var blocks *goquery.Selection
	for _, s := range bodySelectors {
		if found := doc.Find(s); found.Length() > 0 {
			blocks = found
			break
		}
	}
	if blocks == nil {
		blocks = doc.Find("body")
	}

	var htmlParts, textParts []string
	blocks.Each(func(_ int, sel *goquery.Selection) {
		// nested a3s blocks are already covered by their parent
		if sel.ParentsFiltered("div.a3s").Length() > 0 {
			return
		}
		if h, err := goquery.OuterHtml(sel); err == nil {
			htmlParts = append(htmlParts, h)
		}
		for _, n := range sel.Nodes {
			if t := nodeText(n); t != "" {
				textParts = append(textParts, t)
			}
		}
	})
	return strings.Join(htmlParts, "\n"), strings.Join(textParts, "\n\n")
}

func (p *ContentParser) attachments(doc *goquery.Document) []domain.AttachmentDescriptor {
	var out []domain.AttachmentDescriptor
	seen := make(map[string]bool)

	add := func(sel *goquery.Selection, spec string) {
		// "mime/type:filename:https://...", the URL keeps its own colons
		parts := strings.SplitN(spec, ":", 3)
		if len(parts) != 3 || parts[2] == "" || seen[parts[2]] {
			return
		}
		seen[parts[2]] = true
		out = append(out, domain.AttachmentDescriptor{
			Filename:    parts[1],
			MimeType:    strings.ToLower(parts[0]),
			SizeBytes:   attachmentSize(sel),
			DownloadURL: parts[2],
		})
	}

	doc.Find(selAttachment).Each(func(_ int, sel *goquery.Selection) {
		v, _ := sel.Attr("download_url")
		add(sel, v)
	})
	doc.Find(selAltAttach).Each(func(_ int, sel *goquery.Selection) {
		v, _ := sel.Attr("data-download-url")
		add(sel, v)
	})
	return out
}

func attachmentSize(sel *goquery.Selection) int64 {
	if v, ok := sel.Attr("data-size"); ok {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return n
		}
	}
	return parseHumanSize(sel.Text())
}

// parseHumanSize reads sizes such as "245 KB" or "1,2 MB".
func parseHumanSize(s string) int64 {
	m := sizePattern.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	n, err := strconv.ParseFloat(strings.Replace(m[1], ",", ".", 1), 64)
	if err != nil {
		return 0
	}
	switch strings.ToLower(m[2]) {
	case "kb", "k":
		n *= 1 << 10
	case "mb", "m":
		n *= 1 << 20
	case "gb":
		n *= 1 << 30
	}
	return int64(n)
}
