package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"

	"vitalred_worker/core/domain"
	"vitalred_worker/core/service/classification"

	"github.com/spf13/cobra"
)

type classifyOutput struct {
	Classification domain.ClassificationResult `json:"classification"`
	PatientInfo    *domain.PatientInfo         `json:"patient_info,omitempty"`
}

func classifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify [file|-]",
		Short: "Classify referral text read from a file or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				r        io.Reader = cmd.InOrStdin()
				filename string
			)
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r, filename = f, filepath.Base(args[0])
			}
			text, err := io.ReadAll(r)
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}

			c := classification.NewMedicalClassifier()
			out := classifyOutput{Classification: c.Classify(string(text), filename)}
			if info := c.ExtractPatientInfo(string(text)); !info.Empty() {
				out.PatientInfo = info
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
