package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/veridical/pact/internal/auditpack"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	Entries bool
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect <pack.json>",
		Short: "Summarize an audit pack",
		Long: `Print a pack's run metrics and, with --entries, the journal timeline.

Inspect does not verify; use pact verify for trust decisions.

Example:
  pact inspect ./out/pack.json
  pact inspect ./out/pack.json --entries`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd, opts, args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.Entries, "entries", false, "list journal entries")

	return cmd
}

func runInspect(cmd *cobra.Command, opts *InspectOptions, path string) error {
	configureLogging(opts.Verbose)

	pack, err := auditpack.LoadPack(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load pack", err)
	}

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if opts.Format == "json" {
		payload := map[string]any{
			"run_id":      pack.RunID,
			"goal":        pack.Plan.Goal,
			"status":      pack.Plan.Status,
			"metrics":     pack.Metrics,
			"attestation": pack.Attestation,
		}
		if opts.Entries {
			payload["entries"] = pack.Entries
		}
		return formatter.Success(payload)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "run %s (%s)\n", pack.RunID, pack.Plan.Status)
	fmt.Fprintf(&b, "goal: %s\n", pack.Plan.Goal)
	fmt.Fprintf(&b, "commits %d, rollbacks %d, terminals %d, replans %d\n",
		pack.Metrics.Commits, pack.Metrics.Rollbacks, pack.Metrics.Terminals, pack.Metrics.Replans)
	fmt.Fprintf(&b, "success rate: %d/1000\n", pack.Metrics.SuccessRateMillis)
	c := pack.Metrics.TotalCost
	fmt.Fprintf(&b, "total cost: time=%dms retries=%d backtracks=%d audit=%d risk=%d/1000 debt=%d\n",
		c.TimeMS, c.Retries, c.Backtracks, c.AuditCost, c.RiskMillis, c.TechDebt)
	fmt.Fprintf(&b, "attested by %s at %s, digest %s",
		pack.Attestation.BuilderID,
		pack.Attestation.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
		pack.Attestation.Digest)
	if pack.Attestation.Signature != "" {
		b.WriteString(" (signed)")
	}

	if opts.Entries {
		b.WriteString("\n\nentries:")
		for _, e := range pack.Entries {
			fmt.Fprintf(&b, "\n  %s %-10s %-7s %s", e.ID, e.ActionType, e.Result, e.Notes)
			if e.MerkleRootDay != "" {
				fmt.Fprintf(&b, " [anchor %s]", e.MerkleRootDay[:12])
			}
		}
	}

	return formatter.Success(b.String())
}
