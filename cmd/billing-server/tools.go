package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/serenity/billing/internal/config"
	"github.com/serenity/billing/internal/platform/db"
	"github.com/serenity/billing/internal/platform/x12"
)

func generateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate <claims.json>",
		Short: "Render claims as an 837P interchange on stdout",
		Long: "Reads one claim object or an array of claims and writes an 837P.\n" +
			"Envelope identities and usage come from the X12_* settings in .env or the environment.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			controlNumber, _ := cmd.Flags().GetInt("control-number")
			production, _ := cmd.Flags().GetBool("production")

			env, err := envelopeFromConfig(production)
			if err != nil {
				return err
			}
			env.ControlNumber = controlNumber

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			return generateClaims(f, cmd.OutOrStdout(), env)
		},
	}
	cmd.Flags().Int("control-number", 1, "Interchange control number (ISA13)")
	cmd.Flags().Bool("production", false, "Mark the interchange for production use (ISA15=P) regardless of X12_USAGE")
	return cmd
}

func parse835Cmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse-835 <file>",
		Short: "Decode an 835 remittance and print it as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			return parseRemittance(f, cmd.OutOrStdout())
		},
	}
}

// envelopeFromConfig reads the X12 settings without requiring a database.
// production forces ISA15=P; otherwise X12_USAGE decides.
func envelopeFromConfig(production bool) (x12.GeneratorConfig, error) {
	cfg, err := config.Read()
	if err != nil {
		return x12.GeneratorConfig{}, err
	}
	env := cfg.Envelope()
	if production {
		env.IsTest = false
	}
	return env, nil
}

// decodeClaims accepts a single claim object or an array of claims.
func decodeClaims(data []byte) ([]*x12.Claim, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("no claims in input")
	}
	if data[0] == '[' {
		var claims []*x12.Claim
		if err := json.Unmarshal(data, &claims); err != nil {
			return nil, fmt.Errorf("decode claims: %w", err)
		}
		if len(claims) == 0 {
			return nil, errors.New("no claims in input")
		}
		return claims, nil
	}
	var claim x12.Claim
	if err := json.Unmarshal(data, &claim); err != nil {
		return nil, fmt.Errorf("decode claim: %w", err)
	}
	return []*x12.Claim{&claim}, nil
}

func generateClaims(r io.Reader, w io.Writer, env x12.GeneratorConfig) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	claims, err := decodeClaims(data)
	if err != nil {
		return err
	}

	v := x12.NewValidator()
	var errs []error
	for i, c := range claims {
		res := v.Validate(c)
		for _, msg := range res.Errors {
			errs = append(errs, fmt.Errorf("claim %d (%s): %s", i, c.ID, msg))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	_, err = io.WriteString(w, x12.NewGenerator(env).Generate837PBatch(claims))
	return err
}

func parseRemittance(r io.Reader, w io.Writer) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	remit, err := x12.Parse835(string(data))
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		*x12.EDI835Data
		PaidTotal float64 `json:"paid_total"`
		Balanced  bool    `json:"balanced"`
	}{remit, remit.TotalPaid(), x12.ValidatePaymentAmount(remit)})
}

func printMigrationStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}
