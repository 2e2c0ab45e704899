package extraction

import (
	"archive/zip"
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
	"time"

	"vitalred_worker/core/domain"
)

type fakeOCR struct {
	calls  int
	text   string
	inputs [][]byte
}

func (f *fakeOCR) Recognize(_ context.Context, img []byte) (string, error) {
	f.calls++
	f.inputs = append(f.inputs, img)
	return f.text, nil
}

type fakeRenderer struct {
	calls int
	pages int
}

func (f *fakeRenderer) RenderPages(_ context.Context, _ []byte) ([][]byte, error) {
	f.calls++
	out := make([][]byte, f.pages)
	for i := range out {
		out[i] = []byte("page")
	}
	return out, nil
}

func textLayer(s string) func([]byte) (string, error) {
	return func([]byte) (string, error) { return s, nil }
}

var pdfAttachment = domain.AttachmentDescriptor{Filename: "remision.pdf", MimeType: "application/pdf"}

func TestPDFOCRFallback(t *testing.T) {
	long := strings.Repeat("a", 150)
	short := strings.Repeat("b", 40)

	tests := []struct {
		name       string
		layer      string
		ocrText    string
		wantOCR    bool
		wantMethod domain.ExtractionMethod
		wantText   string
	}{
		{
			name:       "text layer long enough skips OCR",
			layer:      long,
			ocrText:    strings.Repeat("z", 500),
			wantOCR:    false,
			wantMethod: domain.MethodPDFText,
			wantText:   long,
		},
		{
			name:       "short text layer replaced by longer OCR",
			layer:      short,
			ocrText:    "texto reconocido por ocr que es bastante más largo que la capa de texto",
			wantOCR:    true,
			wantMethod: domain.MethodPDFOCR,
		},
		{
			name:       "OCR shorter than text layer keeps text layer",
			layer:      short,
			ocrText:    "x",
			wantOCR:    true,
			wantMethod: domain.MethodPDFText,
			wantText:   short,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ocr := &fakeOCR{text: tt.ocrText}
			renderer := &fakeRenderer{pages: 2}
			e := NewExtractor(
				WithOCR(ocr, renderer),
				WithPDFTextReader(textLayer(tt.layer)),
				WithoutPreprocessing(),
			)

			doc, ok := e.Extract(context.Background(), []byte("%PDF-1.4"), pdfAttachment)
			if !ok {
				t.Fatal("expected text")
			}
			if tt.wantOCR && (renderer.calls != 1 || ocr.calls != 2) {
				t.Errorf("OCR calls: render=%d recognize=%d, want 1/2", renderer.calls, ocr.calls)
			}
			if !tt.wantOCR && (renderer.calls != 0 || ocr.calls != 0) {
				t.Errorf("OCR should not run: render=%d recognize=%d", renderer.calls, ocr.calls)
			}
			if doc.Method != tt.wantMethod {
				t.Errorf("Method = %s, want %s", doc.Method, tt.wantMethod)
			}
			if tt.wantText != "" && doc.Text != tt.wantText {
				t.Errorf("Text = %q", doc.Text)
			}
			if doc.Confidence != domain.ConfidenceFor(tt.wantMethod) {
				t.Errorf("Confidence = %v", doc.Confidence)
			}
		})
	}
}

func TestPDFWithoutOCRKeepsShortText(t *testing.T) {
	e := NewExtractor(WithPDFTextReader(textLayer("corto")))
	doc, ok := e.Extract(context.Background(), []byte("%PDF"), pdfAttachment)
	if !ok || doc.Text != "corto" || doc.Method != domain.MethodPDFText {
		t.Errorf("got %+v ok=%v", doc, ok)
	}
}

func TestExtractRecoversFromPanic(t *testing.T) {
	e := NewExtractor(WithPDFTextReader(func([]byte) (string, error) {
		panic("malformed xref")
	}))
	doc, ok := e.Extract(context.Background(), []byte("%PDF"), pdfAttachment)
	if ok {
		t.Error("panic should degrade to no text")
	}
	if doc.Method != domain.MethodNone || doc.Source.Filename != "remision.pdf" {
		t.Errorf("doc = %+v", doc)
	}
}

func buildDOCX(t *testing.T, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatal(err)
	}
	doc := `<?xml version="1.0" encoding="UTF-8"?>` +
		`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
		body + `</w:body></w:document>`
	if _, err := w.Write([]byte(doc)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestExtractDOCX(t *testing.T) {
	data := buildDOCX(t,
		`<w:p><w:r><w:t>Hoja de </w:t></w:r><w:r><w:t>remisión</w:t></w:r></w:p>`+
			`<w:tbl>`+
			`<w:tr><w:tc><w:p><w:r><w:t>Nombre</w:t></w:r></w:p></w:tc><w:tc><w:p><w:r><w:t>Juan Pérez</w:t></w:r></w:p></w:tc></w:tr>`+
			`<w:tr><w:tc><w:p><w:r><w:t>Edad</w:t></w:r></w:p></w:tc><w:tc><w:p><w:r><w:t>54</w:t></w:r></w:p></w:tc></w:tr>`+
			`</w:tbl>`+
			`<w:p><w:r><w:t>Firma</w:t></w:r></w:p>`)

	e := NewExtractor()
	att := domain.AttachmentDescriptor{Filename: "remision.docx", MimeType: "application/octet-stream"}
	doc, ok := e.Extract(context.Background(), data, att)
	if !ok {
		t.Fatal("expected text")
	}
	want := "Hoja de remisión\nNombre | Juan Pérez\nEdad | 54\nFirma"
	if doc.Text != want {
		t.Errorf("Text = %q, want %q", doc.Text, want)
	}
	if doc.Method != domain.MethodDOCX || doc.Confidence != 0.95 {
		t.Errorf("Method/Confidence = %s/%v", doc.Method, doc.Confidence)
	}
}

func TestExtractForwardedMessage(t *testing.T) {
	raw := "From: ips@example.com\r\n" +
		"Subject: Remision paciente\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/alternative; boundary=XX\r\n" +
		"\r\n" +
		"--XX\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"Se remite paciente a cardiología.\r\n" +
		"--XX\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<p>Se remite paciente a cardiología.</p>\r\n" +
		"--XX--\r\n"

	e := NewExtractor()
	att := domain.AttachmentDescriptor{Filename: "fw.eml", MimeType: "message/rfc822"}
	doc, ok := e.Extract(context.Background(), []byte(raw), att)
	if !ok {
		t.Fatal("expected text")
	}
	if !strings.Contains(doc.Text, "Asunto: Remision paciente") {
		t.Errorf("subject missing: %q", doc.Text)
	}
	if strings.Count(doc.Text, "Se remite paciente a cardiología.") != 1 {
		t.Errorf("plain part should be used once: %q", doc.Text)
	}
}

func TestExtractUnknownBinary(t *testing.T) {
	e := NewExtractor()
	data := []byte("Hola\xff\xfe mundo\x00\x01")
	doc, ok := e.Extract(context.Background(), data, domain.AttachmentDescriptor{Filename: "blob.bin", MimeType: "application/x-unknown"})
	if !ok {
		t.Fatal("expected best-effort text")
	}
	if doc.Text != "Hola mundo" {
		t.Errorf("Text = %q", doc.Text)
	}
	if doc.Method != domain.MethodPlainText {
		t.Errorf("Method = %s", doc.Method)
	}
}

func TestExtractHTMLAttachment(t *testing.T) {
	e := NewExtractor()
	doc, ok := e.Extract(context.Background(), []byte("<html><body><p>Uno</p><p>Dos</p></body></html>"),
		domain.AttachmentDescriptor{Filename: "nota.html", MimeType: "text/html"})
	if !ok || doc.Text != "Uno\nDos" {
		t.Errorf("got %q ok=%v", doc.Text, ok)
	}
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 40, 40))
	for y := 0; y < 40; y++ {
		for x := 0; x < 40; x++ {
			c := color.NRGBA{R: 240, G: 240, B: 240, A: 255}
			if x >= 15 && x < 25 && y >= 15 && y < 25 {
				c = color.NRGBA{R: 20, G: 20, B: 20, A: 255}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestExtractImage(t *testing.T) {
	att := domain.AttachmentDescriptor{Filename: "orden.png", MimeType: "image/png"}

	if _, ok := NewExtractor().Extract(context.Background(), testPNG(t), att); ok {
		t.Error("image without OCR engine should yield no text")
	}

	ocr := &fakeOCR{text: "  Orden médica  "}
	e := NewExtractor(WithOCR(ocr, &fakeRenderer{}))
	doc, ok := e.Extract(context.Background(), testPNG(t), att)
	if !ok {
		t.Fatal("expected text")
	}
	if doc.Text != "Orden médica" || doc.Method != domain.MethodImageOCR || doc.Confidence != 0.7 {
		t.Errorf("doc = %+v", doc)
	}

	prepared, _, err := image.Decode(bytes.NewReader(ocr.inputs[0]))
	if err != nil {
		t.Fatalf("OCR input is not an image: %v", err)
	}
	if prepared.Bounds().Dx() != 40 {
		t.Errorf("preprocessed width = %d", prepared.Bounds().Dx())
	}
}

func TestPreprocessRejectsGarbage(t *testing.T) {
	if _, err := PreprocessForOCR([]byte("not an image")); err == nil {
		t.Error("expected decode error")
	}
}

func TestExtractEmptyData(t *testing.T) {
	if _, ok := NewExtractor().Extract(context.Background(), nil, pdfAttachment); ok {
		t.Error("empty data should yield no text")
	}
}

func TestEstimateProcessingTime(t *testing.T) {
	const mb = 1 << 20
	tests := []struct {
		name string
		size int64
		att  domain.AttachmentDescriptor
		want time.Duration
	}{
		{"tiny file clamps to 1s", 100, pdfAttachment, time.Second},
		{"10MB pdf", 10 * mb, pdfAttachment, 20 * time.Second},
		{"4MB docx", 4 * mb, domain.AttachmentDescriptor{Filename: "a.docx"}, 4 * time.Second},
		{"huge image clamps to 300s", 1000 * mb, domain.AttachmentDescriptor{MimeType: "image/jpeg"}, 300 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EstimateProcessingTime(tt.size, tt.att); got != tt.want {
				t.Errorf("EstimateProcessingTime() = %v, want %v", got, tt.want)
			}
		})
	}
}
