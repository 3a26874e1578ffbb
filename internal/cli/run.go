package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/veridical/pact/internal/auditpack"
	"github.com/veridical/pact/internal/cost"
	"github.com/veridical/pact/internal/journal"
	"github.com/veridical/pact/internal/pcap"
	"github.com/veridical/pact/internal/plan"
	"github.com/veridical/pact/internal/policy"
	"github.com/veridical/pact/internal/proof"
	"github.com/veridical/pact/internal/snapshot"
	"github.com/veridical/pact/internal/testutil"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	OutDir    string
	Lambda    float64
	BuilderID string
	SignKey   string
	Prune     bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <script.yaml>",
		Short: "Execute a scripted plan and assemble its audit pack",
		Long: `Execute a scripted run document through the control loop.

Every step is snapshotted, proposed, scored, executed, and verified.
Passing steps commit; failing steps roll back to the snapshot and
replan under an incident-derived obligation, bounded by max_replans.
The run leaves a journal (NDJSON), a PCAP per attempt, a snapshot
database, and an attested audit pack under the output directory.

Example:
  pact run --out ./out demo.yaml
  pact run --out ./out --sign-key s3cret demo.yaml --verbose`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScript(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.OutDir, "out", "", "output directory (required)")
	cmd.Flags().Float64Var(&opts.Lambda, "lambda", 0.5, "risk-aversion coefficient in the utility formula")
	cmd.Flags().StringVar(&opts.BuilderID, "builder-id", "pact-cli", "builder identity recorded in the attestation")
	cmd.Flags().StringVar(&opts.SignKey, "sign-key", "", "HMAC key to sign the pack attestation")
	cmd.Flags().BoolVar(&opts.Prune, "prune", false, "delete run snapshots after the pack is assembled")
	_ = cmd.MarkFlagRequired("out")

	return cmd
}

// runSummary is the run command's output payload.
type runSummary struct {
	RunID          string      `json:"run_id"`
	Status         plan.Status `json:"status"`
	StepsCommitted int         `json:"steps_committed"`
	Replans        int         `json:"replans"`
	Entries        int         `json:"entries"`
	FinalStateHash string      `json:"final_state_hash"`
	PackDigest     string      `json:"pack_digest"`
	PackPath       string      `json:"pack_path"`
	JournalPath    string      `json:"journal_path"`
}

func runScript(cmd *cobra.Command, opts *RunOptions, scriptPath string) error {
	configureLogging(opts.Verbose)

	script, err := plan.LoadScript(scriptPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load script", err)
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := executeScript(ctx, script, opts)
	if err != nil {
		return err
	}

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	if opts.Format == "json" {
		return formatter.Success(summary)
	}
	return formatter.Success(fmt.Sprintf(
		"run %s %s: %d step(s) committed, %d replan(s), %d journal entries\nfinal state %s\npack %s (digest %s)",
		summary.RunID, summary.Status, summary.StepsCommitted, summary.Replans,
		summary.Entries, summary.FinalStateHash, summary.PackPath, summary.PackDigest))
}

// executeScript drives one scripted run end to end: collaborators,
// control loop, daily anchor, pack assembly. All timestamps and
// elapsed measurements come from a stepped logical clock, so two
// executions of the same script produce byte-identical artifacts.
func executeScript(ctx context.Context, script *plan.Script, opts *RunOptions) (*runSummary, error) {
	if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create output directory", err)
	}

	journalPath := filepath.Join(opts.OutDir, "journal.ndjson")
	packPath := filepath.Join(opts.OutDir, "pack.json")

	clock := testutil.NewSteppedClock(testutil.Epoch, time.Millisecond)

	j, err := journal.Open(journalPath, journal.WithNow(clock.Now))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open journal", err)
	}

	snaps, err := snapshot.Open(filepath.Join(opts.OutDir, "snapshots.db"))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open snapshot store", err)
	}
	defer func() {
		if closeErr := snaps.Close(); closeErr != nil {
			slog.Error("error closing snapshot store", "error", closeErr)
		}
	}()

	pcaps, err := pcap.OpenStore(filepath.Join(opts.OutDir, "pcaps"))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open pcap store", err)
	}

	verifier, err := buildVerifier(script)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to build verifier", err)
	}

	costs, err := cost.NewEngine(cost.DefaultWeights, opts.Lambda, nil)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to build cost engine", err)
	}

	builder := pcap.NewBuilder(j, pcaps, script.Actor)
	loop, err := plan.NewLoop(j, snaps, verifier, costs, builder,
		script.Generator(), script.Executor(), script.RequiredKinds(), script.RunID,
		plan.WithClock(clock.Now))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to build control loop", err)
	}

	st, err := script.InitialState()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to build initial state", err)
	}

	result, err := loop.Run(ctx, &script.Plan, st)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "run aborted", err)
	}

	if last := j.Len(); last > 0 {
		entry, err := j.Get(int64(last - 1))
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to read journal tip", err)
		}
		if _, err := j.AnchorDay(entry.Day()); err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to anchor day", err)
		}
	}
	if err := j.Close(); err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to close journal", err)
	}

	asmOpts := []auditpack.AssemblerOption{auditpack.WithAssemblyClock(clock.Now)}
	if opts.SignKey != "" {
		signer, err := auditpack.NewHMACSigner([]byte(opts.SignKey))
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to build signer", err)
		}
		asmOpts = append(asmOpts, auditpack.WithSigner(signer))
	}
	assembler, err := auditpack.NewAssembler(j, pcaps, opts.BuilderID, asmOpts...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to build assembler", err)
	}

	pack, err := assembler.Assemble(script.RunID, script.Seed, script.Plan, result)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to assemble pack", err)
	}
	if err := auditpack.WritePack(pack, packPath); err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to write pack", err)
	}

	if opts.Prune {
		n, err := snaps.Prune(ctx, script.RunID)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to prune snapshots", err)
		}
		slog.Info("snapshots pruned", "run_id", script.RunID, "deleted", n)
	}

	finalHash, err := result.Final.Hash()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to hash final state", err)
	}

	return &runSummary{
		RunID:          script.RunID,
		Status:         result.Status,
		StepsCommitted: result.StepsCommitted,
		Replans:        result.Replans,
		Entries:        len(pack.Entries),
		FinalStateHash: finalHash,
		PackDigest:     pack.Attestation.Digest,
		PackPath:       packPath,
		JournalPath:    journalPath,
	}, nil
}

// buildVerifier registers the script's evaluators, replacing the
// scripted policy evaluator with the rule-backed one when the script
// carries CUE rules.
func buildVerifier(script *plan.Script) (*proof.Verifier, error) {
	verifier := proof.NewVerifier(script.Seed)

	evals := script.Evaluators()
	if len(script.Rules) > 0 {
		rules := make([]policy.Rule, len(script.Rules))
		for i, r := range script.Rules {
			rules[i] = policy.Rule{ID: r.ID, Source: r.Source, Reason: r.Reason}
		}
		pe, err := policy.New(rules...)
		if err != nil {
			return nil, err
		}
		evals[proof.KindPolicy] = policy.NewProofEvaluator(pe)
	}

	for _, kind := range script.RequiredKinds() {
		if e, ok := evals[kind]; ok {
			if err := verifier.Register(kind, e); err != nil {
				return nil, err
			}
		}
	}
	return verifier, nil
}

// configureLogging routes slog to stderr at the level the verbose flag
// selects.
func configureLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}
