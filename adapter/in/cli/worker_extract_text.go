package cli

import (
	"errors"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"vitalred_worker/core/domain"
	"vitalred_worker/internal/bootstrap"
	"vitalred_worker/pkg/apperr"

	"github.com/spf13/cobra"
)

type extractTextOutput struct {
	Filename   string                  `json:"filename"`
	MimeType   string                  `json:"mime_type"`
	Method     domain.ExtractionMethod `json:"method"`
	Confidence float64                 `json:"confidence"`
	Text       string                  `json:"text"`
}

func extractTextCmd(opts *rootOptions) *cobra.Command {
	var mimeType string
	cmd := &cobra.Command{
		Use:   "extract-text <file>",
		Short: "Extract text from a local attachment (PDF, DOCX, image, .eml, HTML, text)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			att := domain.AttachmentDescriptor{
				Filename:  filepath.Base(args[0]),
				MimeType:  mimeType,
				SizeBytes: int64(len(data)),
			}
			if att.MimeType == "" {
				att.MimeType = guessMimeType(att.Filename, data)
			}

			doc, ok := bootstrap.NewTextExtractor(opts.cfg).Extract(cmd.Context(), data, att)
			if !ok {
				return apperr.ExtractionFailed(att.Filename, errors.New("no text recovered"))
			}
			return writeJSON(cmd.OutOrStdout(), extractTextOutput{
				Filename:   att.Filename,
				MimeType:   att.MimeType,
				Method:     doc.Method,
				Confidence: doc.Confidence,
				Text:       doc.Text,
			})
		},
	}
	cmd.Flags().StringVar(&mimeType, "mime", "", "declared MIME type (default: guessed from extension and content)")
	return cmd
}

func guessMimeType(filename string, data []byte) string {
	if t := mime.TypeByExtension(filepath.Ext(filename)); t != "" {
		return t
	}
	return http.DetectContentType(data)
}
