// Package ocr adapts Tesseract and MuPDF to the extraction OCR ports. Both
// need their C libraries at build time.
package ocr

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"vitalred_worker/core/service/extraction"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"
	"github.com/otiai10/gosseract/v2"
)

var (
	_ extraction.OCREngine    = (*Tesseract)(nil)
	_ extraction.PageRenderer = (*PDFRenderer)(nil)
)

// Tesseract recognizes text with a fresh client per call; clients are not
// safe for concurrent use.
type Tesseract struct {
	languages []string
}

// NewTesseract takes a Tesseract language spec such as "spa" or "spa+eng".
func NewTesseract(lang string) *Tesseract {
	if lang == "" {
		lang = "spa"
	}
	return &Tesseract{languages: strings.Split(lang, "+")}
}

func (t *Tesseract) Recognize(ctx context.Context, image []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(t.languages...); err != nil {
		return "", fmt.Errorf("tesseract language: %w", err)
	}
	if err := client.SetImageFromBytes(image); err != nil {
		return "", fmt.Errorf("tesseract image: %w", err)
	}
	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("tesseract: %w", err)
	}
	return text, nil
}

const (
	DefaultDPI      = 300
	DefaultMaxPages = 50
)

// PDFRenderer rasterizes PDF pages to PNG with MuPDF.
type PDFRenderer struct {
	DPI      float64
	MaxPages int
}

func NewPDFRenderer() *PDFRenderer {
	return &PDFRenderer{DPI: DefaultDPI, MaxPages: DefaultMaxPages}
}

func (r *PDFRenderer) RenderPages(ctx context.Context, pdf []byte) ([][]byte, error) {
	doc, err := fitz.NewFromMemory(pdf)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close()

	n := doc.NumPage()
	if r.MaxPages > 0 && n > r.MaxPages {
		n = r.MaxPages
	}

	pages := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := doc.ImageDPI(i, r.DPI)
		if err != nil {
			return nil, fmt.Errorf("render page %d: %w", i+1, err)
		}
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
			return nil, fmt.Errorf("encode page %d: %w", i+1, err)
		}
		pages = append(pages, buf.Bytes())
	}
	return pages, nil
}
