package parser

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"vitalred_worker/core/domain"
)

const messagePage = `<html><head><title>Remisión urgente - vitalred@example.com - Gmail</title>
<style>.a3s{color:red}</style></head>
<body>
<h2 class="hP">Remisión urgente cardiología</h2>
<span class="gD" email="ips.norte@example.com" name="IPS Norte">IPS Norte</span>
<span class="g2" email="vitalred@example.com" name="Vital Red">Vital Red</span>
<span class="g2" email="coordinacion@example.com">coordinacion@example.com</span>
<span class="g2" email="vitalred@example.com" name="Vital Red">Vital Red</span>
<span class="g3" title="mar, 4 mar 2025, 10:15">10:15</span>
<div class="a3s aiL">
  <p>Buenos días,</p>
  <p>Se remite <b>paciente</b> para valoración.<br>Diagnóstico: HTA</p>
  <script>alert(1)</script>
</div>
<div class="a3s">Firma IPS Norte</div>
<span download_url="application/pdf:remision.pdf:https://mail.google.com/mail/u/0/?ui=2&amp;attid=0.1" data-size="2048">remision.pdf</span>
<div download_url="image/jpeg:orden.jpg:https://mail.google.com/mail/u/0/?ui=2&amp;attid=0.2"><span>orden.jpg</span><span>1,5 MB</span></div>
<div download_url="image/jpeg:orden.jpg:https://mail.google.com/mail/u/0/?ui=2&amp;attid=0.2"></div>
</body></html>`

func fixedClock() time.Time {
	return time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
}

func TestParseMessagePage(t *testing.T) {
	p := NewContentParser(WithClock(fixedClock))
	handle := domain.RawMessageHandle{ID: "18c1", ThreadID: "18c0"}

	msg, err := p.Parse(handle, messagePage)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if msg.ID != "18c1" || msg.ThreadID != "18c0" {
		t.Errorf("handle not copied: %s/%s", msg.ID, msg.ThreadID)
	}
	if msg.Subject != "Remisión urgente cardiología" {
		t.Errorf("Subject = %q", msg.Subject)
	}
	wantSender := domain.Address{Email: "ips.norte@example.com", Name: "IPS Norte"}
	if msg.Sender != wantSender {
		t.Errorf("Sender = %+v", msg.Sender)
	}
	wantRecipients := []domain.Address{
		{Email: "vitalred@example.com", Name: "Vital Red"},
		{Email: "coordinacion@example.com"},
	}
	if !reflect.DeepEqual(msg.Recipients, wantRecipients) {
		t.Errorf("Recipients = %+v", msg.Recipients)
	}

	wantDate := time.Date(2025, 3, 4, 10, 15, 0, 0, time.UTC)
	if !msg.Timestamp.Equal(wantDate) || msg.DateFallback {
		t.Errorf("Timestamp = %v (fallback %v), want %v", msg.Timestamp, msg.DateFallback, wantDate)
	}

	wantText := "Buenos días,\nSe remite paciente para valoración.\nDiagnóstico: HTA\n\nFirma IPS Norte"
	if msg.BodyText != wantText {
		t.Errorf("BodyText = %q, want %q", msg.BodyText, wantText)
	}
	if strings.Contains(msg.BodyText, "alert") {
		t.Error("script content leaked into body text")
	}
	if !strings.Contains(msg.BodyHTML, "<b>paciente</b>") {
		t.Errorf("BodyHTML lost markup: %q", msg.BodyHTML)
	}
	if !strings.HasPrefix(msg.Snippet, "Buenos días, Se remite paciente") {
		t.Errorf("Snippet = %q", msg.Snippet)
	}

	if len(msg.Attachments) != 2 {
		t.Fatalf("attachments = %d, want 2 (duplicate URL dropped)", len(msg.Attachments))
	}
	pdf := msg.Attachments[0]
	if pdf.Filename != "remision.pdf" || pdf.MimeType != "application/pdf" || pdf.SizeBytes != 2048 {
		t.Errorf("pdf attachment = %+v", pdf)
	}
	if pdf.DownloadURL != "https://mail.google.com/mail/u/0/?ui=2&attid=0.1" {
		t.Errorf("DownloadURL = %q", pdf.DownloadURL)
	}
	if img := msg.Attachments[1]; img.SizeBytes != int64(1.5*(1<<20)) {
		t.Errorf("image size = %d", img.SizeBytes)
	}
}

func TestParseIsIdempotent(t *testing.T) {
	p := NewContentParser(WithClock(fixedClock))
	handle := domain.RawMessageHandle{ID: "a", ThreadID: "b"}

	first, err := p.Parse(handle, messagePage)
	if err != nil {
		t.Fatal(err)
	}
	second, err := p.Parse(handle, messagePage)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Parse is not deterministic:\n%+v\n%+v", first, second)
	}
}

func TestParseDateFallback(t *testing.T) {
	p := NewContentParser(WithClock(fixedClock))
	page := `<h2 class="hP">Sin fecha</h2><span class="g3" title="hace un rato">hace un rato</span><div class="a3s">texto</div>`

	msg, err := p.Parse(domain.RawMessageHandle{ID: "x"}, page)
	if err != nil {
		t.Fatal(err)
	}
	if !msg.DateFallback {
		t.Error("DateFallback should be set")
	}
	if !msg.Timestamp.Equal(fixedClock()) {
		t.Errorf("Timestamp = %v, want clock time", msg.Timestamp)
	}
}

func TestParseEmptyBody(t *testing.T) {
	p := NewContentParser(WithClock(fixedClock))
	msg, err := p.Parse(domain.RawMessageHandle{ID: "x"}, `<html><body></body></html>`)
	if err != nil {
		t.Fatal(err)
	}
	if msg.BodyText != "" {
		t.Errorf("BodyText = %q, want empty", msg.BodyText)
	}
	if msg.Attachments == nil || msg.Recipients == nil {
		t.Error("slices should be empty, not nil")
	}

	if _, err := p.Parse(domain.RawMessageHandle{ID: "x"}, "   "); err == nil {
		t.Error("blank page should be rejected")
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Time
	}{
		{"4 mar 2025, 10:15", time.Date(2025, 3, 4, 10, 15, 0, 0, time.UTC)},
		{"mar, 4 de marzo de 2025, 10:15 p. m.", time.Date(2025, 3, 4, 22, 15, 0, 0, time.UTC)},
		{"Mon, Mar 3, 2025, 9:05 AM", time.Date(2025, 3, 3, 9, 5, 0, 0, time.UTC)},
		{"Mar 3, 2025, 9:05 AM", time.Date(2025, 3, 3, 9, 5, 0, 0, time.UTC)},
		{"sáb, 12 sept 2024, 08:00", time.Date(2024, 9, 12, 8, 0, 0, 0, time.UTC)},
		{"25/12/2024 14:30", time.Date(2024, 12, 25, 14, 30, 0, 0, time.UTC)},
		{"2024-06-01T08:30:00Z", time.Date(2024, 6, 1, 8, 30, 0, 0, time.UTC)},
		{"1 de diciembre de 2024", time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, ok := parseDate(tt.raw, time.UTC)
		if !ok {
			t.Errorf("parseDate(%q) failed (normalized %q)", tt.raw, normalizeDate(tt.raw))
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("parseDate(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}

	for _, raw := range []string{"", "ayer", "13/13/2024"} {
		if _, ok := parseDate(raw, time.UTC); ok {
			t.Errorf("parseDate(%q) should fail", raw)
		}
	}
}

func TestParseHumanSize(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"245 KB", 245 * 1024},
		{"1,5 MB", 1572864},
		{"812 bytes", 812},
		{"sin tamaño", 0},
	}
	for _, tt := range tests {
		if got := parseHumanSize(tt.in); got != tt.want {
			t.Errorf("parseHumanSize(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
