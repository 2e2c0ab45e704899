package extraction

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"unicode"

	"vitalred_worker/core/service/parser"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/ledongthuc/pdf"
)

// =============================================================================
// PDF
// =============================================================================

func readPDFText(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return buf.String(), nil
}

// =============================================================================
// DOCX
// =============================================================================

const docxBody = "word/document.xml"

// extractDOCX walks word/document.xml. Paragraphs become lines; table rows
// become one line with cells joined by " | ".
func extractDOCX(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	var f *zip.File
	for _, zf := range zr.File {
		if zf.Name == docxBody {
			f = zf
			break
		}
	}
	if f == nil {
		return "", fmt.Errorf("docx: %s missing", docxBody)
	}
	rc, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("docx: %w", err)
	}
	defer rc.Close()

	return walkDocumentXML(rc)
}

func walkDocumentXML(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)

	var (
		lines      []string
		para       strings.Builder
		cell       []string
		row        []string
		tableDepth int
	)

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("docx xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "tbl":
				tableDepth++
			case "tr":
				row = row[:0]
			case "tc":
				cell = cell[:0]
			case "p":
				para.Reset()
			case "t":
				var s string
				if err := dec.DecodeElement(&s, &t); err != nil {
					return "", fmt.Errorf("docx text: %w", err)
				}
				para.WriteString(s)
			case "tab":
				para.WriteByte('\t')
			case "br", "cr":
				para.WriteByte(' ')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "p":
				text := strings.TrimSpace(para.String())
				if tableDepth > 0 {
					if text != "" {
						cell = append(cell, text)
					}
				} else if text != "" {
					lines = append(lines, text)
				}
			case "tc":
				row = append(row, strings.Join(cell, " "))
			case "tr":
				if strings.TrimSpace(strings.Join(row, "")) != "" {
					lines = append(lines, strings.Join(row, " | "))
				}
			case "tbl":
				tableDepth--
			}
		}
	}
	return strings.Join(lines, "\n"), nil
}

// =============================================================================
// message/rfc822
// =============================================================================

// extractMessage returns the subject and text parts of a forwarded message.
func extractMessage(data []byte) (string, error) {
	mr, err := mail.CreateReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("parse message: %w", err)
	}
	defer mr.Close()

	var parts []string
	if subject, err := mr.Header.Subject(); err == nil && subject != "" {
		parts = append(parts, "Asunto: "+subject)
	}

	var htmlFallback string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if len(parts) > 0 {
				break
			}
			return "", fmt.Errorf("read message part: %w", err)
		}

		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := h.ContentType()
		body, err := io.ReadAll(p.Body)
		if err != nil {
			continue
		}
		switch ct {
		case "text/plain", "":
			if t := strings.TrimSpace(decodeText(body)); t != "" {
				parts = append(parts, t)
			}
		case "text/html":
			if htmlFallback == "" {
				htmlFallback = htmlText(body)
			}
		}
	}

	if len(parts) <= 1 && htmlFallback != "" {
		parts = append(parts, htmlFallback)
	}
	return strings.Join(parts, "\n\n"), nil
}

// =============================================================================
// Plain text
// =============================================================================

func htmlText(data []byte) string {
	return parser.HTMLToText(decodeText(data))
}

// decodeText treats data as UTF-8, dropping invalid sequences and control
// characters other than line breaks and tabs.
func decodeText(data []byte) string {
	s := strings.ToValidUTF8(string(data), "")
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || r == '\r' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}
