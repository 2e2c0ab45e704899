package mongodb

import (
	"strings"
	"testing"
	"time"

	"vitalred_worker/core/domain"
)

func TestBodyDocumentCompression(t *testing.T) {
	now := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	long := strings.Repeat("Paciente remitido a cardiología. ", 100)

	tests := []struct {
		name           string
		body           string
		wantCompressed bool
	}{
		{"small body stays plain", "Se remite paciente.", false},
		{"large body is gzipped", long, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &domain.ProcessedRecord{
				ID:        "m1",
				SessionID: "s1",
				BodyText:  tt.body,
				BodyHTML:  "<p>" + tt.body + "</p>",
				Attachments: []domain.AttachmentRecord{
					{Filename: "hc.pdf", MimeType: "application/pdf", SizeBytes: 10, ExtractedText: "historia", Method: domain.MethodPDFText},
				},
			}
			doc, err := toDocument(rec, now)
			if err != nil {
				t.Fatalf("toDocument: %v", err)
			}
			if doc.IsCompressed != tt.wantCompressed {
				t.Fatalf("IsCompressed = %v", doc.IsCompressed)
			}
			if tt.wantCompressed && doc.CompressedSize >= doc.OriginalSize {
				t.Errorf("compressed %d >= original %d", doc.CompressedSize, doc.OriginalSize)
			}

			body, err := doc.toBody()
			if err != nil {
				t.Fatalf("toBody: %v", err)
			}
			if body.Text != rec.BodyText || body.HTML != rec.BodyHTML {
				t.Error("body did not survive the archive")
			}
			if len(body.Attachments) != 1 || body.Attachments[0] != rec.Attachments[0] {
				t.Errorf("attachments = %+v", body.Attachments)
			}
		})
	}
}
