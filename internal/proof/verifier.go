package proof

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/veridical/pact/internal/state"
)

// DefaultProofTimeout bounds a single proof evaluation.
// A proof that exceeds it fails the whole action with
// verification_timeout rather than stalling the run.
const DefaultProofTimeout = 30 * time.Second

// Request is the input to a single proof evaluation. Evaluations are
// hermetic: the evaluator sees the action result, the obligations, the
// fixed seed context, and nothing else. No ambient network access, no
// shared mutable state.
type Request struct {
	Result      Result
	Obligations []state.Constraint
	Seed        state.Seed
	Fingerprint string
}

// Finding is what an evaluator reports back: a verdict plus evidence
// references. FailCode is optional; when empty the verifier assigns a
// default code for the kind.
type Finding struct {
	Verdict  Verdict
	Evidence []string
	Detail   string
	FailCode FailCode
}

// Evaluator is the contract every external proof collaborator
// implements. Evaluate must be deterministic given identical inputs
// and must respect context cancellation.
type Evaluator interface {
	Evaluate(ctx context.Context, req Request) (Finding, error)
}

// Outcome aggregates the proofs of one verification call.
// Verdict is pass iff every required proof passed; a single fail or
// deny fails the whole action, and the failing proofs are preserved
// for diagnosis.
type Outcome struct {
	Verdict     Verdict       `json:"verdict"`
	Proofs      []Proof       `json:"proofs"`
	Failures    []*FailReason `json:"failures,omitempty"`
	Fingerprint string        `json:"fingerprint"`
}

// Verifier runs the required proof kinds against an action result and
// aggregates their verdicts.
//
// Verification is idempotent: re-running on the same inputs and seed
// yields the same outcome, because evaluators are deterministic and
// the iteration order over kinds is the caller-supplied order.
type Verifier struct {
	evaluators  map[Kind]Evaluator
	timeout     time.Duration
	fingerprint string
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithProofTimeout overrides the per-proof evaluation timeout.
func WithProofTimeout(d time.Duration) VerifierOption {
	return func(v *Verifier) {
		v.timeout = d
	}
}

// NewVerifier creates a verifier whose environment fingerprint is
// derived from the seed context and the Go runtime identity.
func NewVerifier(env state.Seed, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		evaluators:  make(map[Kind]Evaluator),
		timeout:     DefaultProofTimeout,
		fingerprint: Fingerprint(env),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Fingerprint derives the execution environment identity recorded on
// every proof outcome and PCAP.
func Fingerprint(env state.Seed) string {
	return fmt.Sprintf("%s/%s/%s rev=%s toolchain=%s",
		runtime.Version(), runtime.GOOS, runtime.GOARCH, env.Revision, env.Toolchain)
}

// Register installs the evaluator for a proof kind.
// Each kind has exactly one handler; re-registration is rejected.
func (v *Verifier) Register(k Kind, e Evaluator) error {
	if err := ValidateKind(k); err != nil {
		return err
	}
	if _, exists := v.evaluators[k]; exists {
		return fmt.Errorf("evaluator for kind %q already registered", k)
	}
	v.evaluators[k] = e
	return nil
}

// Verify runs each required proof kind in order and aggregates the
// verdicts. The overall verdict is pass iff every proof passed.
//
// A missing evaluator for a required kind is a missing_obligation
// failure. A per-proof timeout is a verification_timeout failure.
// Both count as a failure of the whole action.
func (v *Verifier) Verify(ctx context.Context, res Result, obligations []state.Constraint, required []Kind, env state.Seed) Outcome {
	outcome := Outcome{
		Verdict:     VerdictPass,
		Proofs:      make([]Proof, 0, len(required)),
		Fingerprint: v.fingerprint,
	}

	for _, kind := range required {
		p, fr := v.runProof(ctx, kind, res, obligations, env)
		outcome.Proofs = append(outcome.Proofs, p)
		if fr != nil {
			outcome.Verdict = VerdictFail
			outcome.Failures = append(outcome.Failures, fr)
			slog.Debug("proof failed",
				"kind", kind,
				"code", fr.Code,
				"message", fr.Message,
			)
		}
	}

	return outcome
}

// runProof evaluates a single proof kind under the configured timeout.
func (v *Verifier) runProof(ctx context.Context, kind Kind, res Result, obligations []state.Constraint, env state.Seed) (Proof, *FailReason) {
	if err := ValidateKind(kind); err != nil {
		fr := NewFailReason(FailTypeError, err.Error()).WithKind(kind)
		return Proof{Kind: kind, Verdict: VerdictFail}, fr
	}

	eval, ok := v.evaluators[kind]
	if !ok {
		fr := NewFailReason(FailMissingObligation,
			fmt.Sprintf("no evaluator registered for required proof kind %q", kind)).WithKind(kind)
		return Proof{Kind: kind, Verdict: VerdictFail}, fr
	}

	evalCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	finding, err := eval.Evaluate(evalCtx, Request{
		Result:      res,
		Obligations: obligations,
		Seed:        env,
		Fingerprint: v.fingerprint,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			fr := NewFailReason(FailVerificationTimeout,
				fmt.Sprintf("proof kind %q timed out after %s", kind, v.timeout)).WithKind(kind)
			return Proof{Kind: kind, Verdict: VerdictFail}, fr
		}
		if fr, ok := AsFailReason(err); ok {
			return Proof{Kind: kind, Verdict: VerdictFail, Evidence: fr.Evidence, Detail: fr.Message}, fr
		}
		fr := NewFailReason(defaultFailCode(kind), err.Error()).WithKind(kind)
		return Proof{Kind: kind, Verdict: VerdictFail, Detail: err.Error()}, fr
	}

	p := Proof{
		Kind:     kind,
		Verdict:  finding.Verdict,
		Evidence: finding.Evidence,
		Detail:   finding.Detail,
	}

	if finding.Verdict == VerdictPass {
		return p, nil
	}

	code := finding.FailCode
	if code == "" {
		code = defaultFailCode(kind)
	}
	fr := NewFailReason(code, failMessage(kind, finding)).WithKind(kind)
	fr.Evidence = append(fr.Evidence, finding.Evidence...)
	return p, fr
}

// defaultFailCode maps a proof kind to its characteristic failure code
// when the evaluator does not supply one.
func defaultFailCode(kind Kind) FailCode {
	switch kind {
	case KindUnit, KindProperty:
		return FailTestFailure
	case KindPolicy:
		return FailPolicyViolation
	case KindStatic:
		return FailParseError
	default:
		return FailTypeError
	}
}

func failMessage(kind Kind, finding Finding) string {
	if finding.Detail != "" {
		return finding.Detail
	}
	return fmt.Sprintf("proof kind %q returned %s", kind, finding.Verdict)
}
