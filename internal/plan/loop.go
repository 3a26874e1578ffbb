package plan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/veridical/pact/internal/cost"
	"github.com/veridical/pact/internal/journal"
	"github.com/veridical/pact/internal/pcap"
	"github.com/veridical/pact/internal/proof"
	"github.com/veridical/pact/internal/snapshot"
	"github.com/veridical/pact/internal/state"
)

// StepRecord is the loop's account of one step attempt.
type StepRecord struct {
	Step       int          `json:"step"`
	Attempt    int          `json:"attempt"`
	Action     proof.Action `json:"action"`
	Committed  bool         `json:"committed"`
	PCAPID     string       `json:"pcap_id"`
	EntrySeq   int64        `json:"entry_seq"`
	SnapshotID string       `json:"snapshot_id"`
	Cost       cost.Vector  `json:"cost"`

	// DeltaMillis is the measured divergence between the actual and
	// intended post-states, in thousandths. Zero when the generator
	// made no prediction or the attempt rolled back.
	DeltaMillis int64 `json:"delta_millis"`

	Failure *proof.FailReason `json:"failure,omitempty"`
}

// RunResult summarizes a finished run: terminal status, per-attempt
// records, and accumulated cost.
type RunResult struct {
	Goal           string       `json:"goal"`
	Status         Status       `json:"status"`
	StepsCommitted int          `json:"steps_committed"`
	Replans        int          `json:"replans"`
	Records        []StepRecord `json:"records"`
	TotalCost      cost.Vector  `json:"total_cost"`
	Final          *state.State `json:"-"`
}

// Loop drives a plan through the per-step state machine. One loop
// serves one run; it is not safe for concurrent Run calls.
type Loop struct {
	journal  *journal.Journal
	snaps    *snapshot.Store
	verifier *proof.Verifier
	costs    *cost.Engine
	builder  *pcap.Builder
	gen      Generator
	exec     Executor
	required []proof.Kind
	runID    string
	clock    func() time.Time
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithClock overrides the time source used to measure step elapsed
// time. Deterministic runs use a stepped clock so measured time_ms is
// reproducible.
func WithClock(clock func() time.Time) LoopOption {
	return func(l *Loop) {
		l.clock = clock
	}
}

// NewLoop wires a control loop from its collaborators. required fixes
// the proof kinds demanded of every action in the run.
func NewLoop(
	j *journal.Journal,
	snaps *snapshot.Store,
	verifier *proof.Verifier,
	costs *cost.Engine,
	builder *pcap.Builder,
	gen Generator,
	exec Executor,
	required []proof.Kind,
	runID string,
	opts ...LoopOption,
) (*Loop, error) {
	if len(required) == 0 {
		return nil, fmt.Errorf("loop: no required proof kinds")
	}
	for _, k := range required {
		if err := proof.ValidateKind(k); err != nil {
			return nil, fmt.Errorf("loop: %w", err)
		}
	}
	if runID == "" {
		return nil, fmt.Errorf("loop: empty run ID")
	}

	l := &Loop{
		journal:  j,
		snaps:    snaps,
		verifier: verifier,
		costs:    costs,
		builder:  builder,
		gen:      gen,
		exec:     exec,
		required: required,
		runID:    runID,
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Run executes the plan to a terminal status. Every attempt leaves a
// PCAP and a journal entry; a run that gives up leaves a terminal
// entry explaining why. The returned error reports infrastructure
// failures only - a plan that fails verification is a normal outcome
// with Status failed.
func (l *Loop) Run(ctx context.Context, p *Plan, st *state.State) (*RunResult, error) {
	res := &RunResult{Goal: p.Goal, Status: StatusFailed}

	if err := p.Validate(); err != nil {
		fr := proof.NewFailReason(proof.FailTypeError, err.Error())
		if _, serr := l.sealTerminal(st, fr, "plan rejected before execution"); serr != nil {
			return res, serr
		}
		p.Status = StatusFailed
		res.Final = st
		return res, nil
	}

	p.Status = StatusRunning
	slog.Info("run started", "run_id", l.runID, "goal", p.Goal, "steps", len(p.Steps))

	var prior *proof.FailReason
	replans := 0
	backtracks := int64(0)
	attempt := 0

	for i := 0; i < len(p.Steps); {
		out, err := l.runStep(ctx, p, i, attempt, replans, backtracks, st, prior)
		if err != nil {
			return res, err
		}

		res.TotalCost = res.TotalCost.Add(out.record.Cost)
		res.Records = append(res.Records, out.record)

		if out.record.Committed {
			st = out.post
			prior = nil
			attempt = 0
			i++
			res.StepsCommitted++
		} else {
			backtracks++
			st = out.post
			prior = out.record.Failure

			if out.terminal {
				p.Status = StatusFailed
				res.Replans = replans
				res.Final = st
				return res, nil
			}

			replans++
			if err := l.deriveConstraint(st, prior, replans); err != nil {
				return res, err
			}
			attempt++
		}

		if fr := l.overBudget(p.Budgets, res.TotalCost); fr != nil {
			if _, err := l.sealTerminal(st, fr, "resource budget exhausted"); err != nil {
				return res, err
			}
			p.Status = StatusFailed
			res.Replans = replans
			res.Final = st
			return res, nil
		}
	}

	p.Status = StatusCompleted
	res.Status = StatusCompleted
	res.Replans = replans
	res.Final = st
	slog.Info("run completed",
		"run_id", l.runID,
		"steps", res.StepsCommitted,
		"replans", replans,
	)
	return res, nil
}

type stepOutcome struct {
	record   StepRecord
	post     *state.State
	terminal bool
}

// runStep drives one attempt at one step through
// Propose -> Score -> Execute -> Verify -> {Commit | Rollback}.
// When a failed attempt cannot be replanned - the failure is fatal or
// the replan budget is spent - the attempt seals a terminal entry in
// place of a rollback, so the journal never carries more rollback
// entries than the budget allows.
func (l *Loop) runStep(ctx context.Context, p *Plan, stepIdx, attempt, replans int, backtracks int64, st *state.State, prior *proof.FailReason) (stepOutcome, error) {
	step := p.Steps[stepIdx]
	tip, tipSeq := l.journal.Tip()

	// Snapshot before anything executes. Rollback restores exactly
	// this state, byte for byte.
	snapID, err := l.snaps.Snapshot(ctx, st, l.runID, tipSeq+1)
	if err != nil {
		return stepOutcome{}, fmt.Errorf("step %d: %w", stepIdx, err)
	}

	proposals, err := l.gen.Propose(ctx, ProposeRequest{
		Goal:         p.Goal,
		Step:         step,
		Attempt:      attempt,
		Constraints:  st.Constraints,
		PriorFailure: prior,
	})
	if err != nil {
		return stepOutcome{}, fmt.Errorf("step %d: propose: %w", stepIdx, err)
	}
	if len(proposals) == 0 {
		return stepOutcome{}, fmt.Errorf("step %d: generator proposed no candidates", stepIdx)
	}

	candidates := make([]cost.Candidate, len(proposals))
	for i, pr := range proposals {
		candidates[i] = cost.Candidate{Action: pr.Action, Reward: pr.Reward, Expected: pr.Expected}
	}
	best, err := l.costs.Rank(candidates)
	if err != nil {
		return stepOutcome{}, fmt.Errorf("step %d: %w", stepIdx, err)
	}
	chosen := proposals[best]
	slog.Debug("candidate selected",
		"step", stepIdx,
		"attempt", attempt,
		"action", chosen.Action.Name,
		"candidates", len(proposals),
	)

	started := l.clock()
	working := st.Clone()

	var outcome proof.Outcome
	result, err := l.exec.Execute(ctx, chosen.Action, working)
	if err != nil {
		fr, ok := proof.AsFailReason(err)
		if !ok {
			code := proof.FailParseError
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				code = proof.FailVerificationTimeout
			}
			fr = proof.NewFailReason(code, err.Error())
		}
		outcome = proof.Outcome{
			Verdict:     proof.VerdictFail,
			Failures:    []*proof.FailReason{fr},
			Fingerprint: proof.Fingerprint(st.Env),
		}
	} else {
		outcome = l.verifier.Verify(ctx, result, working.Constraints, l.required, st.Env)
	}

	v := l.costs.Cost(cost.Trace{
		Elapsed:     l.clock().Sub(started),
		Retries:     int64(attempt),
		Backtracks:  backtracks,
		ProofsRun:   outcome.Proofs,
		Obligations: working.Constraints,
		Failures:    outcome.Failures,
	})

	pass := outcome.Verdict == proof.VerdictPass
	l.costs.Observe(chosen.Action, pass)

	record := StepRecord{
		Step:       stepIdx,
		Attempt:    attempt,
		Action:     chosen.Action,
		SnapshotID: snapID,
		Cost:       v,
	}

	if pass {
		if chosen.Intended != nil {
			intended, err := chosen.Intended(st)
			if err != nil {
				return stepOutcome{}, fmt.Errorf("step %d: intended post-state: %w", stepIdx, err)
			}
			_, dm := l.costs.Delta(working, intended)
			record.DeltaMillis = dm
		}
		rec, entry, err := l.builder.Build(pcap.SealParams{
			Action:      chosen.Action,
			Pre:         st,
			Post:        working,
			Outcome:     outcome,
			Cost:        v,
			EntryType:   journal.TypeCommit,
			ExpectedTip: tip,
			Notes:       fmt.Sprintf("step %d: %s", stepIdx, step.Operator),
		})
		if err != nil {
			return stepOutcome{}, fmt.Errorf("step %d: %w", stepIdx, err)
		}
		working.JournalTip = entry.Hash
		claimArtifacts(working, result.ArtifactIDs, rec.ID)

		record.Committed = true
		record.PCAPID = rec.ID
		record.EntrySeq = entry.Seq
		return stepOutcome{record: record, post: working}, nil
	}

	restored, err := l.snaps.Restore(ctx, snapID)
	if err != nil {
		return stepOutcome{}, fmt.Errorf("step %d: rollback: %w", stepIdx, err)
	}

	failure := outcome.Failures[0]
	entryType := journal.TypeRollback
	notes := fmt.Sprintf("step %d rolled back: %s", stepIdx, failure.Message)
	terminal := false
	switch {
	case proof.IsFatal(failure):
		// The action itself is malformed; replanning cannot repair it.
		entryType = journal.TypeTerminal
		notes = fmt.Sprintf("step %d: replanning skipped, fatal failure: %s", stepIdx, failure.Message)
		terminal = true
	case replans+1 > p.Budgets.MaxReplans:
		entryType = journal.TypeTerminal
		notes = fmt.Sprintf("step %d: replan budget %d exhausted: %s", stepIdx, p.Budgets.MaxReplans, failure.Message)
		terminal = true
	}

	rec, entry, err := l.builder.Build(pcap.SealParams{
		Action:      chosen.Action,
		Pre:         st,
		Post:        restored,
		Outcome:     outcome,
		Cost:        v,
		EntryType:   entryType,
		ExtraRefs:   []string{snapID},
		ExpectedTip: tip,
		Notes:       notes,
	})
	if err != nil {
		return stepOutcome{}, fmt.Errorf("step %d: rollback: %w", stepIdx, err)
	}
	restored.JournalTip = entry.Hash

	if terminal {
		slog.Warn("run terminated",
			"run_id", l.runID,
			"step", stepIdx,
			"code", failure.Code,
			"reason", failure.Message,
		)
	} else {
		slog.Warn("step rolled back",
			"step", stepIdx,
			"attempt", attempt,
			"code", failure.Code,
			"snapshot", snapID[:12],
		)
	}

	record.PCAPID = rec.ID
	record.EntrySeq = entry.Seq
	record.Failure = failure
	return stepOutcome{record: record, post: restored, terminal: terminal}, nil
}

// sealTerminal writes the terminal PCAP and journal entry for a run
// that is giving up. Pre and post state are the same: terminal entries
// record a decision, not a mutation.
func (l *Loop) sealTerminal(st *state.State, fr *proof.FailReason, notes string) (journal.Entry, error) {
	tip, _ := l.journal.Tip()

	outcome := proof.Outcome{
		Verdict:     proof.VerdictFail,
		Failures:    []*proof.FailReason{fr},
		Fingerprint: proof.Fingerprint(st.Env),
	}
	_, entry, err := l.builder.Build(pcap.SealParams{
		Action:      proof.Action{Name: "terminate", Target: l.runID},
		Pre:         st,
		Post:        st,
		Outcome:     outcome,
		Cost:        cost.Vector{},
		EntryType:   journal.TypeTerminal,
		ExpectedTip: tip,
		Notes:       fmt.Sprintf("%s: %s", notes, fr.Message),
	})
	if err != nil {
		return journal.Entry{}, fmt.Errorf("terminal entry: %w", err)
	}
	st.JournalTip = entry.Hash

	slog.Warn("run terminated", "run_id", l.runID, "code", fr.Code, "reason", fr.Message)
	return entry, nil
}

// deriveConstraint converts a rollback's failure into an incident
// obligation on the surviving state, so the replan is constrained by
// what just went wrong.
func (l *Loop) deriveConstraint(st *state.State, fr *proof.FailReason, replan int) error {
	k := state.Constraint{
		ID:         fmt.Sprintf("incident/%s/%03d", fr.Code, replan),
		Rule:       fr.Message,
		Provenance: state.ProvenanceIncident,
		Critical:   fr.Code == proof.FailPolicyViolation,
	}
	if err := st.AddConstraint(k); err != nil {
		return fmt.Errorf("derive constraint: %w", err)
	}
	slog.Info("incident constraint derived", "id", k.ID, "critical", k.Critical)
	return nil
}

// overBudget checks accumulated cost against the plan budgets.
// Zero budgets are unlimited.
func (l *Loop) overBudget(b Budgets, total cost.Vector) *proof.FailReason {
	if b.TimeMS > 0 && total.TimeMS > b.TimeMS {
		return proof.NewFailReason(proof.FailBudgetExceeded,
			fmt.Sprintf("time budget %dms exhausted (spent %dms)", b.TimeMS, total.TimeMS))
	}
	if b.AuditCost > 0 && total.AuditCost > b.AuditCost {
		return proof.NewFailReason(proof.FailBudgetExceeded,
			fmt.Sprintf("audit budget %d exhausted (spent %d)", b.AuditCost, total.AuditCost))
	}
	return nil
}

// claimArtifacts stamps PCAP ownership onto the artifacts an action
// produced. Ownership is recorded after sealing because the PCAP ID is
// itself derived from the post-state hash.
func claimArtifacts(st *state.State, artifactIDs []string, pcapID string) {
	for _, id := range artifactIDs {
		for i := range st.Artifacts {
			if st.Artifacts[i].ID == id && st.Artifacts[i].PCAPID == "" {
				st.Artifacts[i].PCAPID = pcapID
			}
		}
	}
}
