package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/veridical/pact/internal/auditpack"
	"github.com/veridical/pact/internal/journal"
	"github.com/veridical/pact/internal/plan"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	JournalPath string
	PackPath    string
	SignKey     string
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a journal chain or an audit pack offline",
		Long: `Verify run artifacts without any live state.

With --journal, the NDJSON file is loaded and every hash and parent
link from genesis is recomputed. With --pack, the bundle's attestation
digest, journal slice, PCAP content addresses, and derivable metrics
are all rechecked; --sign-key additionally verifies the attestation
signature. Any broken link or altered byte exits with code 1.

Example:
  pact verify --journal ./out/journal.ndjson
  pact verify --pack ./out/pack.json --sign-key s3cret`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.JournalPath, "journal", "", "path to a journal NDJSON file")
	cmd.Flags().StringVar(&opts.PackPath, "pack", "", "path to an audit pack JSON file")
	cmd.Flags().StringVar(&opts.SignKey, "sign-key", "", "HMAC key to verify the attestation signature")

	return cmd
}

// verifySummary is the verify command's output payload.
type verifySummary struct {
	Target  string `json:"target"`
	Entries int    `json:"entries"`
	PCAPs   int    `json:"pcaps,omitempty"`
	Digest  string `json:"digest,omitempty"`
	Signed  bool   `json:"signed,omitempty"`
}

func runVerify(cmd *cobra.Command, opts *VerifyOptions) error {
	configureLogging(opts.Verbose)

	if (opts.JournalPath == "") == (opts.PackPath == "") {
		return NewExitError(ExitCommandError, "exactly one of --journal or --pack is required")
	}

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if opts.JournalPath != "" {
		j, err := journal.Load(opts.JournalPath)
		if err != nil {
			_ = formatter.Error("E_CHAIN", "journal verification failed", err.Error())
			return WrapExitError(ExitFailure, "journal verification failed", err)
		}
		summary := &verifySummary{Target: opts.JournalPath, Entries: j.Len()}
		if opts.Format == "json" {
			return formatter.Success(summary)
		}
		return formatter.Success(fmt.Sprintf("journal %s verified: %d entries, chain intact",
			opts.JournalPath, summary.Entries))
	}

	pack, err := auditpack.LoadPack(opts.PackPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load pack", err)
	}

	var signer auditpack.Signer
	if opts.SignKey != "" {
		s, err := auditpack.NewHMACSigner([]byte(opts.SignKey))
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to build signer", err)
		}
		signer = s
	}

	if err := auditpack.VerifyPack(pack, signer); err != nil {
		_ = formatter.Error("E_PACK", "pack verification failed", err.Error())
		return WrapExitError(ExitFailure, "pack verification failed", err)
	}

	summary := &verifySummary{
		Target:  opts.PackPath,
		Entries: len(pack.Entries),
		PCAPs:   len(pack.PCAPs),
		Digest:  pack.Attestation.Digest,
		Signed:  pack.Attestation.Signature != "",
	}
	if opts.Format == "json" {
		return formatter.Success(summary)
	}
	return formatter.Success(fmt.Sprintf(
		"pack %s verified: %d entries, %d pcaps, digest %s",
		opts.PackPath, summary.Entries, summary.PCAPs, summary.Digest))
}

// loadScriptOrExit loads a script, mapping failures onto the command
// error exit code.
func loadScriptOrExit(path string) (*plan.Script, error) {
	script, err := plan.LoadScript(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load script", err)
	}
	return script, nil
}
