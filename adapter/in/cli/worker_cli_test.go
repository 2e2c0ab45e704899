package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"vitalred_worker/core/domain"
	"vitalred_worker/pkg/apperr"
	"vitalred_worker/pkg/credential"

	"github.com/99designs/keyring"
)

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("LOG_LEVEL", "error")

	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestClassifyFromStdin(t *testing.T) {
	text := "Paciente Juan Pérez, CC 12345678, Diagnóstico: Hipertensión arterial. Motivo: Valoración por cardiología urgente."

	out, err := runCLI(t, text, "classify", "-")
	if err != nil {
		t.Fatalf("classify: %v", err)
	}

	var got classifyOutput
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if !got.Classification.IsReferral {
		t.Errorf("IsReferral = false, want true")
	}
	if got.Classification.UrgencyLevel.Rank() < domain.UrgencyHigh.Rank() {
		t.Errorf("UrgencyLevel = %s, want high or critical", got.Classification.UrgencyLevel)
	}
	if got.PatientInfo == nil || got.PatientInfo.DocumentID != "12345678" {
		t.Errorf("PatientInfo = %+v, want document 12345678", got.PatientInfo)
	}
}

func TestClassifyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nota.txt")
	if err := os.WriteFile(path, []byte("Reunión de equipo el viernes a las 3pm."), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, "", "classify", path)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	var got classifyOutput
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if got.Classification.IsReferral {
		t.Errorf("IsReferral = true for a meeting note")
	}
	if got.PatientInfo != nil {
		t.Errorf("PatientInfo = %+v, want nil", got.PatientInfo)
	}
}

func TestExtractTextPlainFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "remision.txt")
	if err := os.WriteFile(path, []byte("  Remisión a neurología  \n"), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, "", "extract-text", path)
	if err != nil {
		t.Fatalf("extract-text: %v", err)
	}
	var got extractTextOutput
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if got.Text != "Remisión a neurología" {
		t.Errorf("Text = %q", got.Text)
	}
	if got.Method != domain.MethodPlainText {
		t.Errorf("Method = %s, want %s", got.Method, domain.MethodPlainText)
	}
}

func TestExtractTextEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vacio.txt")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := runCLI(t, "", "extract-text", path)
	if !apperr.IsCode(err, apperr.CodeExtractionFailed) {
		t.Fatalf("err = %v, want %s", err, apperr.CodeExtractionFailed)
	}
}

func TestGuessMimeType(t *testing.T) {
	tests := []struct {
		filename string
		data     []byte
		want     string
	}{
		{"a.pdf", nil, "application/pdf"},
		{"sin_extension", []byte("%PDF-1.4\n"), "application/pdf"},
		{"sin_extension", []byte("hola"), "text/plain; charset=utf-8"},
	}
	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			if got := guessMimeType(tt.filename, tt.data); got != tt.want {
				t.Errorf("guessMimeType(%q) = %q, want %q", tt.filename, got, tt.want)
			}
		})
	}
}

func TestCredentialsSetAndDelete(t *testing.T) {
	ring := keyring.NewArrayKeyring(nil)
	store := credential.NewStore(ring)
	prev := openCredentials
	openCredentials = func() (*credential.Store, error) { return store, nil }
	t.Cleanup(func() { openCredentials = prev })

	if _, err := runCLI(t, "s3cret\n", "credentials", "set", "--account", "remisiones@hospital.org"); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := store.Get("remisiones@hospital.org")
	if err != nil || got != "s3cret" {
		t.Fatalf("Get = %q, %v; want s3cret", got, err)
	}

	secret, err := resolveSecret("", "remisiones@hospital.org")
	if err != nil || secret != "s3cret" {
		t.Errorf("resolveSecret = %q, %v", secret, err)
	}
	if secret, _ := resolveSecret("from-env", "remisiones@hospital.org"); secret != "from-env" {
		t.Errorf("configured secret not preferred: %q", secret)
	}

	if _, err := runCLI(t, "", "credentials", "delete", "--account", "remisiones@hospital.org"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get("remisiones@hospital.org"); err == nil {
		t.Error("secret still present after delete")
	}
	if _, err := resolveSecret("", "remisiones@hospital.org"); err == nil {
		t.Error("resolveSecret succeeded without a stored secret")
	}
}

func TestCredentialsSetRejectsEmptySecret(t *testing.T) {
	prev := openCredentials
	openCredentials = func() (*credential.Store, error) {
		return credential.NewStore(keyring.NewArrayKeyring(nil)), nil
	}
	t.Cleanup(func() { openCredentials = prev })

	if _, err := runCLI(t, "\n", "credentials", "set", "--account", "a@b.co"); err == nil {
		t.Fatal("expected an error for an empty secret")
	}
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, domain.Progress{
		SessionID:             "s-1",
		Status:                domain.SessionCompleted,
		TotalEmails:           4,
		ProcessedEmails:       4,
		SuccessfulExtractions: 3,
		FailedExtractions:     1,
		ElapsedSeconds:        12.4,
		Errors:                []domain.ErrorEntry{{ItemID: "m-9", Message: "fetch timeout"}},
	})
	out := buf.String()
	for _, want := range []string{"s-1", "completed", "4 de 4", "75.0%", "12s", "[m-9]: fetch timeout"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}
