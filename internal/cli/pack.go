package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/veridical/pact/internal/auditpack"
	"github.com/veridical/pact/internal/journal"
	"github.com/veridical/pact/internal/pcap"
)

// PackOptions holds flags for the pack command.
type PackOptions struct {
	*RootOptions
	Dir       string
	Out       string
	BuilderID string
	SignKey   string
}

// NewPackCommand creates the pack command.
func NewPackCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PackOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "pack <script.yaml>",
		Short: "Assemble an audit pack from an existing run directory",
		Long: `Assemble an audit pack from a run directory produced by pact run.

The journal chain is re-verified before assembly; a pack is never
built over a broken chain. The script supplies the plan and seed
recorded alongside the evidence.

Example:
  pact pack --dir ./out --pack-out ./out/pack.json demo.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPack(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Dir, "dir", "", "run directory containing journal.ndjson and pcaps/ (required)")
	cmd.Flags().StringVar(&opts.Out, "pack-out", "", "output pack path (default <dir>/pack.json)")
	cmd.Flags().StringVar(&opts.BuilderID, "builder-id", "pact-cli", "builder identity recorded in the attestation")
	cmd.Flags().StringVar(&opts.SignKey, "sign-key", "", "HMAC key to sign the pack attestation")
	_ = cmd.MarkFlagRequired("dir")

	return cmd
}

func runPack(cmd *cobra.Command, opts *PackOptions, scriptPath string) error {
	configureLogging(opts.Verbose)

	script, err := loadScriptOrExit(scriptPath)
	if err != nil {
		return err
	}

	j, err := journal.Load(filepath.Join(opts.Dir, "journal.ndjson"))
	if err != nil {
		return WrapExitError(ExitFailure, "journal verification failed", err)
	}

	pcaps, err := pcap.OpenStore(filepath.Join(opts.Dir, "pcaps"))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open pcap store", err)
	}

	asmOpts := []auditpack.AssemblerOption{}
	if opts.SignKey != "" {
		signer, err := auditpack.NewHMACSigner([]byte(opts.SignKey))
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to build signer", err)
		}
		asmOpts = append(asmOpts, auditpack.WithSigner(signer))
	}
	assembler, err := auditpack.NewAssembler(j, pcaps, opts.BuilderID, asmOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build assembler", err)
	}

	pack, err := assembler.Assemble(script.RunID, script.Seed, script.Plan, nil)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to assemble pack", err)
	}

	out := opts.Out
	if out == "" {
		out = filepath.Join(opts.Dir, "pack.json")
	}
	if err := auditpack.WritePack(pack, out); err != nil {
		return WrapExitError(ExitCommandError, "failed to write pack", err)
	}

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	if opts.Format == "json" {
		return formatter.Success(map[string]any{
			"run_id":  script.RunID,
			"pack":    out,
			"entries": len(pack.Entries),
			"pcaps":   len(pack.PCAPs),
			"digest":  pack.Attestation.Digest,
		})
	}
	return formatter.Success(fmt.Sprintf("pack %s assembled: %d entries, %d pcaps, digest %s",
		out, len(pack.Entries), len(pack.PCAPs), pack.Attestation.Digest))
}
