package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	OutDir string
	Lambda float64
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <script.yaml>",
		Short: "Run a script twice and check the runs are identical",
		Long: `Execute a scripted run twice from the same seed and compare the
outcomes: final state hash, journal entry hashes, and pack digest.

Replay is the determinism check: any divergence between the two runs
means some nondeterminism leaked into the loop, and the command exits
with code 1.

Example:
  pact replay --out ./replay demo.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return replayScript(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.OutDir, "out", "", "output directory (required)")
	cmd.Flags().Float64Var(&opts.Lambda, "lambda", 0.5, "risk-aversion coefficient in the utility formula")
	_ = cmd.MarkFlagRequired("out")

	return cmd
}

// replaySummary is the replay command's output payload.
type replaySummary struct {
	RunID          string `json:"run_id"`
	Deterministic  bool   `json:"deterministic"`
	FinalStateHash string `json:"final_state_hash"`
	PackDigest     string `json:"pack_digest"`
	Entries        int    `json:"entries"`
	Divergence     string `json:"divergence,omitempty"`
}

func replayScript(cmd *cobra.Command, opts *ReplayOptions, scriptPath string) error {
	configureLogging(opts.Verbose)

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}

	first, err := replayOnce(parent, opts, scriptPath, "run-a")
	if err != nil {
		return err
	}
	second, err := replayOnce(parent, opts, scriptPath, "run-b")
	if err != nil {
		return err
	}

	summary := &replaySummary{
		RunID:          first.RunID,
		Deterministic:  true,
		FinalStateHash: first.FinalStateHash,
		PackDigest:     first.PackDigest,
		Entries:        first.Entries,
	}
	switch {
	case first.FinalStateHash != second.FinalStateHash:
		summary.Deterministic = false
		summary.Divergence = fmt.Sprintf("final state hash: %s vs %s",
			first.FinalStateHash, second.FinalStateHash)
	case first.PackDigest != second.PackDigest:
		summary.Deterministic = false
		summary.Divergence = fmt.Sprintf("pack digest: %s vs %s",
			first.PackDigest, second.PackDigest)
	case first.Entries != second.Entries:
		summary.Deterministic = false
		summary.Divergence = fmt.Sprintf("entry count: %d vs %d",
			first.Entries, second.Entries)
	}

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if !summary.Deterministic {
		if opts.Format == "json" {
			_ = formatter.Success(summary)
		} else {
			_ = formatter.Error("E_REPLAY", "replay diverged", summary.Divergence)
		}
		return NewExitError(ExitFailure, "replay diverged: "+summary.Divergence)
	}

	if opts.Format == "json" {
		return formatter.Success(summary)
	}
	return formatter.Success(fmt.Sprintf(
		"replay of %s is deterministic: %d entries, final state %s, pack digest %s",
		summary.RunID, summary.Entries, summary.FinalStateHash, summary.PackDigest))
}

// replayOnce executes the script into a subdirectory of the replay
// output dir. The script is reloaded each time so no state can leak
// between the two runs.
func replayOnce(ctx context.Context, opts *ReplayOptions, scriptPath, sub string) (*runSummary, error) {
	script, err := loadScriptOrExit(scriptPath)
	if err != nil {
		return nil, err
	}
	runOpts := &RunOptions{
		RootOptions: opts.RootOptions,
		OutDir:      filepath.Join(opts.OutDir, sub),
		Lambda:      opts.Lambda,
		BuilderID:   "pact-replay",
	}
	return executeScript(ctx, script, runOpts)
}
