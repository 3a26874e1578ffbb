package proof

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridical/pact/internal/state"
)

func testSeed() state.Seed {
	return state.Seed{Random: 42, Revision: "rev-1", Toolchain: "go-test"}
}

func testResult(name string) Result {
	return Result{Action: Action{Name: name, Target: "src/x.go"}}
}

func TestRegister_RejectsDuplicateKind(t *testing.T) {
	v := NewVerifier(testSeed())
	require.NoError(t, v.Register(KindUnit, NewRecordedEvaluator()))

	err := v.Register(KindUnit, NewRecordedEvaluator())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegister_RejectsUnknownKind(t *testing.T) {
	v := NewVerifier(testSeed())
	require.Error(t, v.Register(Kind("fuzz"), NewRecordedEvaluator()))
}

func TestVerify_AllPass(t *testing.T) {
	v := NewVerifier(testSeed())
	require.NoError(t, v.Register(KindUnit, NewRecordedEvaluator()))
	require.NoError(t, v.Register(KindStatic, NewRecordedEvaluator()))

	out := v.Verify(context.Background(), testResult("apply_patch"), nil,
		[]Kind{KindUnit, KindStatic}, testSeed())

	assert.Equal(t, VerdictPass, out.Verdict)
	assert.Len(t, out.Proofs, 2)
	assert.Empty(t, out.Failures)
	assert.NotEmpty(t, out.Fingerprint)
}

func TestVerify_SingleFailureFailsAction(t *testing.T) {
	unit := NewRecordedEvaluator()
	unit.Record("apply_patch", Finding{
		Verdict:  VerdictFail,
		Detail:   "TestRouter fails",
		Evidence: []string{"runs/unit-1.log"},
	})

	v := NewVerifier(testSeed())
	require.NoError(t, v.Register(KindUnit, unit))
	require.NoError(t, v.Register(KindStatic, NewRecordedEvaluator()))

	out := v.Verify(context.Background(), testResult("apply_patch"), nil,
		[]Kind{KindUnit, KindStatic}, testSeed())

	assert.Equal(t, VerdictFail, out.Verdict)
	require.Len(t, out.Failures, 1)
	assert.Equal(t, FailTestFailure, out.Failures[0].Code)
	assert.Equal(t, KindUnit, out.Failures[0].Kind)
	assert.Equal(t, []string{"runs/unit-1.log"}, out.Failures[0].Evidence)

	// The passing proof is still recorded alongside the failing one.
	assert.Len(t, out.Proofs, 2)
}

func TestVerify_PolicyDenyDefaultCode(t *testing.T) {
	policy := NewRecordedEvaluator()
	policy.Record("write_config", Finding{Verdict: VerdictDeny, Detail: "secret detected"})

	v := NewVerifier(testSeed())
	require.NoError(t, v.Register(KindPolicy, policy))

	out := v.Verify(context.Background(), testResult("write_config"), nil,
		[]Kind{KindPolicy}, testSeed())

	assert.Equal(t, VerdictFail, out.Verdict)
	require.Len(t, out.Failures, 1)
	assert.Equal(t, FailPolicyViolation, out.Failures[0].Code)
	assert.Equal(t, VerdictDeny, out.Proofs[0].Verdict)
}

func TestVerify_MissingEvaluator(t *testing.T) {
	v := NewVerifier(testSeed())
	require.NoError(t, v.Register(KindUnit, NewRecordedEvaluator()))

	out := v.Verify(context.Background(), testResult("apply_patch"), nil,
		[]Kind{KindUnit, KindProperty}, testSeed())

	assert.Equal(t, VerdictFail, out.Verdict)
	require.Len(t, out.Failures, 1)
	assert.Equal(t, FailMissingObligation, out.Failures[0].Code)
	assert.Equal(t, KindProperty, out.Failures[0].Kind)
}

// slowEvaluator blocks until its context is cancelled.
type slowEvaluator struct{}

func (slowEvaluator) Evaluate(ctx context.Context, req Request) (Finding, error) {
	<-ctx.Done()
	return Finding{}, ctx.Err()
}

func TestVerify_Timeout(t *testing.T) {
	v := NewVerifier(testSeed(), WithProofTimeout(10*time.Millisecond))
	require.NoError(t, v.Register(KindProperty, slowEvaluator{}))

	out := v.Verify(context.Background(), testResult("apply_patch"), nil,
		[]Kind{KindProperty}, testSeed())

	assert.Equal(t, VerdictFail, out.Verdict)
	require.Len(t, out.Failures, 1)
	assert.Equal(t, FailVerificationTimeout, out.Failures[0].Code)
	assert.True(t, IsTimeout(out.Failures[0]))
}

// errEvaluator returns a plain error from evaluation.
type errEvaluator struct{ err error }

func (e errEvaluator) Evaluate(ctx context.Context, req Request) (Finding, error) {
	return Finding{}, e.err
}

func TestVerify_EvaluatorErrorMapsToKindDefault(t *testing.T) {
	v := NewVerifier(testSeed())
	require.NoError(t, v.Register(KindStatic, errEvaluator{err: fmt.Errorf("bad syntax at line 3")}))

	out := v.Verify(context.Background(), testResult("apply_patch"), nil,
		[]Kind{KindStatic}, testSeed())

	require.Len(t, out.Failures, 1)
	assert.Equal(t, FailParseError, out.Failures[0].Code)
}

func TestVerify_StructuredFailReasonPreserved(t *testing.T) {
	fr := NewFailReason(FailInsufficientCoverage, "coverage 40% below floor").
		WithEvidence("runs/coverage.json")

	v := NewVerifier(testSeed())
	require.NoError(t, v.Register(KindUnit, errEvaluator{err: fr}))

	out := v.Verify(context.Background(), testResult("apply_patch"), nil,
		[]Kind{KindUnit}, testSeed())

	require.Len(t, out.Failures, 1)
	assert.Equal(t, FailInsufficientCoverage, out.Failures[0].Code)
	assert.Equal(t, []string{"runs/coverage.json"}, out.Failures[0].Evidence)
}

func TestVerify_Idempotent(t *testing.T) {
	unit := NewRecordedEvaluator()
	unit.Record("flaky_looking", Finding{Verdict: VerdictFail, Detail: "assertion failed"})

	v := NewVerifier(testSeed())
	require.NoError(t, v.Register(KindUnit, unit))
	require.NoError(t, v.Register(KindPolicy, NewRecordedEvaluator()))

	required := []Kind{KindUnit, KindPolicy}
	first := v.Verify(context.Background(), testResult("flaky_looking"), nil, required, testSeed())
	second := v.Verify(context.Background(), testResult("flaky_looking"), nil, required, testSeed())

	assert.Equal(t, first.Verdict, second.Verdict)
	assert.Equal(t, first.Proofs, second.Proofs)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	require.Len(t, second.Failures, 1)
	assert.Equal(t, first.Failures[0].Code, second.Failures[0].Code)
}

func TestFailReason_Predicates(t *testing.T) {
	assert.True(t, IsFatal(NewFailReason(FailTypeError, "nil action")))
	assert.False(t, IsFatal(NewFailReason(FailTestFailure, "boom")))

	wrapped := fmt.Errorf("verify: %w", NewFailReason(FailTypeError, "nil action"))
	assert.True(t, IsFatal(wrapped))

	fr, ok := AsFailReason(wrapped)
	require.True(t, ok)
	assert.Equal(t, FailTypeError, fr.Code)

	_, ok = AsFailReason(fmt.Errorf("plain"))
	assert.False(t, ok)
}

func TestValidateKind(t *testing.T) {
	for k := range ValidKinds {
		assert.NoError(t, ValidateKind(k))
	}
	assert.Error(t, ValidateKind(Kind("mutation")))
}
