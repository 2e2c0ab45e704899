package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"vitalred_worker/core/domain"
	"vitalred_worker/core/port/out"
	"vitalred_worker/pkg/apperr"
	"vitalred_worker/pkg/logger"
	"vitalred_worker/pkg/resilience"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

const (
	maxBodyChars       = 4000
	maxAttachmentChars = 2000
)

const annotateSystemPrompt = `Eres un asistente de triaje para un centro de referencia.
Analiza el correo de remisión y sus adjuntos. Responde solo con un objeto JSON:
{
  "summary": "resumen clínico breve",
  "suggested_specialty": "especialidad",
  "urgency": "critical|high|medium|low|routine",
  "key_findings": ["hallazgo"],
  "requested_action": "lo que solicita la institución remitente",
  "missing_information": ["dato faltante"]
}
No inventes datos que no estén en el texto.`

// Annotator implements out.Annotator. Calls go through a circuit breaker so
// an unavailable API is skipped quickly for the rest of the session.
type Annotator struct {
	client  *Client
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

var _ out.Annotator = (*Annotator)(nil)

func NewAnnotator(client *Client) *Annotator {
	log := logger.Component("annotator")
	return &Annotator{
		client:  client,
		breaker: resilience.NewBreaker(resilience.DefaultBreakerConfig("openai"), log),
		log:     log,
	}
}

func (a *Annotator) Annotate(ctx context.Context, r *domain.ProcessedRecord) (map[string]any, error) {
	prompt := buildPrompt(r)

	raw, err := a.breaker.Execute(func() (any, error) {
		return a.client.CompleteJSON(ctx, annotateSystemPrompt, prompt)
	})
	if err != nil {
		return nil, apperr.ExternalError("openai", err).
			WithDetail("circuit_open", resilience.IsOpen(err))
	}

	analysis, err := parseAnalysis(raw.(string))
	if err != nil {
		return nil, apperr.ExternalError("openai", fmt.Errorf("unparseable annotation: %w", err))
	}
	analysis["model"] = a.client.Model()

	a.log.Debug().
		Str("message_id", r.ID).
		Int("fields", len(analysis)).
		Msg("record annotated")
	return analysis, nil
}

func (a *Annotator) Usage() CostStats {
	return a.client.Costs().Stats()
}

func buildPrompt(r *domain.ProcessedRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Asunto: %s\n", r.Subject)
	fmt.Fprintf(&b, "Remitente: %s\n", r.Sender)
	if !r.Date.IsZero() {
		fmt.Fprintf(&b, "Fecha: %s\n", r.Date.Format("2006-01-02 15:04"))
	}
	c := r.Classification
	fmt.Fprintf(&b, "Clasificación previa: tipo=%s urgencia=%s documento=%s",
		c.ReferralType, c.UrgencyLevel, c.DocumentType)
	if c.Specialty != "" {
		fmt.Fprintf(&b, " especialidad=%s", c.Specialty)
	}
	b.WriteString("\n\nCuerpo:\n")
	b.WriteString(truncateBody(r.BodyText, maxBodyChars))

	for _, att := range r.Attachments {
		if att.ExtractedText == "" {
			continue
		}
		fmt.Fprintf(&b, "\n\nAdjunto %s:\n%s", att.Filename, truncateBody(att.ExtractedText, maxAttachmentChars))
	}
	return b.String()
}

func parseAnalysis(raw string) (map[string]any, error) {
	var analysis map[string]any
	if err := json.Unmarshal([]byte(trimFences(raw)), &analysis); err != nil {
		return nil, err
	}
	if len(analysis) == 0 {
		return nil, fmt.Errorf("empty analysis")
	}
	return analysis, nil
}
