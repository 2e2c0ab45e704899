// Package extraction recovers plain text from message attachments.
//
// Every failure is absorbed here: callers get (document, false) and the
// owning message keeps going without that attachment's text.
package extraction

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"vitalred_worker/core/domain"
	"vitalred_worker/pkg/logger"

	"github.com/rs/zerolog"
)

const DefaultMinPDFTextLen = 100

// OCREngine recognizes text in a single image.
type OCREngine interface {
	Recognize(ctx context.Context, image []byte) (string, error)
}

// PageRenderer rasterizes PDF pages for OCR.
type PageRenderer interface {
	RenderPages(ctx context.Context, pdf []byte) ([][]byte, error)
}

type kind int

const (
	kindUnknown kind = iota
	kindPDF
	kindDOCX
	kindImage
	kindMessage
	kindHTML
	kindText
)

var mimeKinds = map[string]kind{
	"application/pdf": kindPDF,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": kindDOCX,
	"message/rfc822": kindMessage,
	"text/html":      kindHTML,
	"text/plain":     kindText,
	"text/csv":       kindText,
}

var extKinds = map[string]kind{
	".pdf":  kindPDF,
	".docx": kindDOCX,
	".jpg":  kindImage,
	".jpeg": kindImage,
	".png":  kindImage,
	".tif":  kindImage,
	".tiff": kindImage,
	".bmp":  kindImage,
	".gif":  kindImage,
	".eml":  kindMessage,
	".htm":  kindHTML,
	".html": kindHTML,
	".txt":  kindText,
	".csv":  kindText,
}

// Extractor dispatches on MIME type, falling back to the file extension
// when the declared type is missing or generic.
type Extractor struct {
	ocr           OCREngine
	renderer      PageRenderer
	minPDFTextLen int
	pdfText       func([]byte) (string, error)
	preprocess    func([]byte) ([]byte, error)
	log           zerolog.Logger
}

type Option func(*Extractor)

// WithOCR enables OCR for images and scanned PDFs.
func WithOCR(engine OCREngine, renderer PageRenderer) Option {
	return func(e *Extractor) {
		e.ocr = engine
		e.renderer = renderer
	}
}

func WithMinPDFTextLen(n int) Option {
	return func(e *Extractor) { e.minPDFTextLen = n }
}

// WithPDFTextReader replaces the embedded-text reader.
func WithPDFTextReader(fn func([]byte) (string, error)) Option {
	return func(e *Extractor) { e.pdfText = fn }
}

// WithoutPreprocessing sends images to OCR unchanged.
func WithoutPreprocessing() Option {
	return func(e *Extractor) { e.preprocess = nil }
}

func WithLogger(log zerolog.Logger) Option {
	return func(e *Extractor) { e.log = log }
}

func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{
		minPDFTextLen: DefaultMinPDFTextLen,
		pdfText:       readPDFText,
		preprocess:    PreprocessForOCR,
		log:           logger.Component("text_extractor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func classify(att domain.AttachmentDescriptor) kind {
	mt := strings.ToLower(strings.TrimSpace(att.MimeType))
	if parsed, _, err := mime.ParseMediaType(mt); err == nil {
		mt = parsed
	}
	if k, ok := mimeKinds[mt]; ok {
		return k
	}
	if strings.HasPrefix(mt, "image/") {
		return kindImage
	}
	if k, ok := extKinds[strings.ToLower(filepath.Ext(att.Filename))]; ok {
		return k
	}
	if strings.HasPrefix(mt, "text/") {
		return kindText
	}
	return kindUnknown
}

// Extract returns the best-effort text of one attachment. ok is false when
// no text could be recovered.
func (e *Extractor) Extract(ctx context.Context, data []byte, att domain.AttachmentDescriptor) (doc domain.ExtractedDocument, ok bool) {
	doc = domain.ExtractedDocument{Source: att, Method: domain.MethodNone}
	if len(data) == 0 {
		return doc, false
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().
				Str("filename", att.Filename).
				Str("panic", fmt.Sprint(r)).
				Msg("extraction panicked")
			doc = domain.ExtractedDocument{Source: att, Method: domain.MethodNone}
			ok = false
		}
	}()

	var (
		text   string
		method domain.ExtractionMethod
		err    error
	)
	switch classify(att) {
	case kindPDF:
		text, method, err = e.extractPDF(ctx, data)
	case kindDOCX:
		text, err = extractDOCX(data)
		method = domain.MethodDOCX
	case kindImage:
		text, err = e.extractImage(ctx, data)
		method = domain.MethodImageOCR
	case kindMessage:
		text, err = extractMessage(data)
		method = domain.MethodMessage
	case kindHTML:
		text = htmlText(data)
		method = domain.MethodPlainText
	default:
		text = decodeText(data)
		method = domain.MethodPlainText
	}

	if err != nil {
		e.log.Warn().Err(err).
			Str("filename", att.Filename).
			Str("mime_type", att.MimeType).
			Msg("text extraction failed")
		return doc, false
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return doc, false
	}

	e.log.Debug().
		Str("filename", att.Filename).
		Str("method", string(method)).
		Int("chars", len(text)).
		Dur("took", time.Since(start)).
		Msg("text extracted")

	doc.Text = text
	doc.Method = method
	doc.Confidence = domain.ConfidenceFor(method)
	return doc, true
}

// extractPDF reads the embedded text layer first and only falls back to OCR
// when that layer is shorter than minPDFTextLen.
func (e *Extractor) extractPDF(ctx context.Context, data []byte) (string, domain.ExtractionMethod, error) {
	text, textErr := e.pdfText(data)
	text = strings.TrimSpace(text)
	if textErr == nil && len([]rune(text)) >= e.minPDFTextLen {
		return text, domain.MethodPDFText, nil
	}

	if e.ocr == nil || e.renderer == nil {
		if textErr != nil {
			return "", domain.MethodNone, textErr
		}
		return text, domain.MethodPDFText, nil
	}

	ocrText, err := e.ocrPDF(ctx, data)
	if err != nil {
		e.log.Warn().Err(err).Msg("pdf ocr failed, keeping text layer")
		if textErr != nil {
			return "", domain.MethodNone, textErr
		}
		return text, domain.MethodPDFText, nil
	}
	if len([]rune(ocrText)) > len([]rune(text)) {
		return ocrText, domain.MethodPDFOCR, nil
	}
	return text, domain.MethodPDFText, nil
}

func (e *Extractor) ocrPDF(ctx context.Context, data []byte) (string, error) {
	pages, err := e.renderer.RenderPages(ctx, data)
	if err != nil {
		return "", fmt.Errorf("render pages: %w", err)
	}
	var parts []string
	for i, page := range pages {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		t, err := e.recognize(ctx, page)
		if err != nil {
			return "", fmt.Errorf("ocr page %d: %w", i+1, err)
		}
		if t = strings.TrimSpace(t); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

func (e *Extractor) extractImage(ctx context.Context, data []byte) (string, error) {
	if e.ocr == nil {
		return "", fmt.Errorf("no OCR engine configured")
	}
	return e.recognize(ctx, data)
}

// recognize preprocesses an image and runs OCR on it. Images that cannot be
// decoded are handed to the engine unchanged.
func (e *Extractor) recognize(ctx context.Context, img []byte) (string, error) {
	if e.preprocess != nil {
		if prepared, err := e.preprocess(img); err == nil {
			img = prepared
		} else {
			e.log.Debug().Err(err).Msg("image preprocessing skipped")
		}
	}
	return e.ocr.Recognize(ctx, img)
}

// Per-MB processing estimates used for progress display only.
var secondsPerMB = map[kind]float64{
	kindPDF:     2.0,
	kindDOCX:    1.0,
	kindImage:   5.0,
	kindMessage: 0.5,
	kindHTML:    0.5,
	kindText:    0.5,
	kindUnknown: 0.5,
}

const (
	minEstimate = time.Second
	maxEstimate = 300 * time.Second
)

// EstimateProcessingTime is a linear size heuristic clamped to [1s, 300s].
func EstimateProcessingTime(sizeBytes int64, att domain.AttachmentDescriptor) time.Duration {
	mb := float64(sizeBytes) / (1 << 20)
	d := time.Duration(mb * secondsPerMB[classify(att)] * float64(time.Second))
	if d < minEstimate {
		return minEstimate
	}
	if d > maxEstimate {
		return maxEstimate
	}
	return d
}
