package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridical/pact/internal/proof"
	"github.com/veridical/pact/internal/state"
)

func noSecretsRule() Rule {
	return Rule{
		ID:     "no-secrets",
		Source: `action: params: content: !~ "(?i)api[_-]?key"`,
		Reason: "secret detected in action content",
	}
}

func TestNew_CompileErrors(t *testing.T) {
	_, err := New(Rule{ID: "broken", Source: `action: {{{`})
	require.Error(t, err)
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "broken", ce.RuleID)

	_, err = New(Rule{Source: `action: name: string`})
	require.Error(t, err, "empty rule ID")

	_, err = New(noSecretsRule(), noSecretsRule())
	require.Error(t, err, "duplicate rule ID")
}

func TestCheck_AllowAndDeny(t *testing.T) {
	e, err := New(noSecretsRule())
	require.NoError(t, err)

	clean, err := e.Check(map[string]any{
		"action": map[string]any{
			"name":   "write_config",
			"target": "config/app.yaml",
			"params": map[string]any{"content": "timeout: 30s"},
		},
	})
	require.NoError(t, err)
	assert.True(t, clean.Allow)
	assert.Empty(t, clean.Deny)

	leaky, err := e.Check(map[string]any{
		"action": map[string]any{
			"name":   "write_config",
			"target": "config/app.yaml",
			"params": map[string]any{"content": "API_KEY=sk-123"},
		},
	})
	require.NoError(t, err)
	assert.False(t, leaky.Allow)
	require.Len(t, leaky.Deny, 1)
	assert.Equal(t, "no-secrets: secret detected in action content", leaky.Deny[0])
}

func TestCheck_DenyWithoutReasonUsesCUEDetails(t *testing.T) {
	e, err := New(Rule{
		ID:     "name-required",
		Source: `action: name: !=""`,
	})
	require.NoError(t, err)

	d, err := e.Check(map[string]any{
		"action": map[string]any{"name": "", "target": "x"},
	})
	require.NoError(t, err)
	assert.False(t, d.Allow)
	require.Len(t, d.Deny, 1)
	assert.Contains(t, d.Deny[0], "name-required: ")
}

func TestCheck_MultipleRulesCollectAllDenials(t *testing.T) {
	e, err := New(
		noSecretsRule(),
		Rule{
			ID:     "no-prod-target",
			Source: `action: target: !~ "^deploy/prod"`,
			Reason: "direct production writes are forbidden",
		},
	)
	require.NoError(t, err)

	d, err := e.Check(map[string]any{
		"action": map[string]any{
			"name":   "write_config",
			"target": "deploy/prod/app.yaml",
			"params": map[string]any{"content": "API_KEY=sk-123"},
		},
	})
	require.NoError(t, err)
	assert.False(t, d.Allow)
	// Deny messages come back in rule declaration order.
	require.Len(t, d.Deny, 2)
	assert.Contains(t, d.Deny[0], "no-secrets")
	assert.Contains(t, d.Deny[1], "no-prod-target")
}

func TestProofEvaluator(t *testing.T) {
	e, err := New(noSecretsRule())
	require.NoError(t, err)
	pe := NewProofEvaluator(e)

	obligations := []state.Constraint{{ID: "k-no-secrets", Critical: true}}

	pass, err := pe.Evaluate(context.Background(), proof.Request{
		Result: proof.Result{Action: proof.Action{
			Name:   "write_config",
			Target: "config/app.yaml",
			Params: map[string]any{"content": "timeout: 30s"},
		}},
		Obligations: obligations,
	})
	require.NoError(t, err)
	assert.Equal(t, proof.VerdictPass, pass.Verdict)

	deny, err := pe.Evaluate(context.Background(), proof.Request{
		Result: proof.Result{Action: proof.Action{
			Name:   "write_config",
			Target: "config/app.yaml",
			Params: map[string]any{"content": "api-key: sk-456"},
		}},
		Obligations: obligations,
	})
	require.NoError(t, err)
	assert.Equal(t, proof.VerdictDeny, deny.Verdict)
	assert.Equal(t, proof.FailPolicyViolation, deny.FailCode)
	assert.Contains(t, deny.Detail, "no-secrets")
}

func TestProofEvaluator_RespectsCancelledContext(t *testing.T) {
	e, err := New(noSecretsRule())
	require.NoError(t, err)
	pe := NewProofEvaluator(e)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = pe.Evaluate(ctx, proof.Request{
		Result: proof.Result{Action: proof.Action{Name: "x", Target: "y"}},
	})
	require.Error(t, err)
}
