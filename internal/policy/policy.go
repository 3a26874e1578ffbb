package policy

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

// Rule is a named CUE constraint over the input facts.
//
// Example:
//
//	Rule{
//		ID:     "no-secrets",
//		Source: `action: params: content: !~ "(?i)api[_-]?key"`,
//		Reason: "secret detected in action content",
//	}
type Rule struct {
	ID     string
	Source string
	Reason string
}

// Decision is the outcome of checking all rules against one fact set.
type Decision struct {
	Allow bool     `json:"allow"`
	Deny  []string `json:"deny,omitempty"`
}

// Evaluator checks input facts against a fixed, ordered rule set.
// Rules are compiled once at construction; evaluation is deterministic
// in rule declaration order.
type Evaluator struct {
	ctx      *cue.Context
	compiled []compiledRule
}

type compiledRule struct {
	rule  Rule
	value cue.Value
}

// New compiles the given rules. A rule that fails to compile is a
// configuration error, reported immediately rather than at first use.
func New(rules ...Rule) (*Evaluator, error) {
	ctx := cuecontext.New()

	e := &Evaluator{ctx: ctx}
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if r.ID == "" {
			return nil, fmt.Errorf("policy rule with empty ID")
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("duplicate policy rule ID: %s", r.ID)
		}
		seen[r.ID] = true

		v := ctx.CompileString(r.Source)
		if err := v.Err(); err != nil {
			return nil, &CompileError{RuleID: r.ID, Message: cueerrors.Details(err, nil)}
		}
		e.compiled = append(e.compiled, compiledRule{rule: r, value: v})
	}

	return e, nil
}

// Check unifies the facts with every rule and collects a deny message
// for each rule the facts violate. Allow is true iff no rule denies.
func (e *Evaluator) Check(facts map[string]any) (Decision, error) {
	factsVal := e.ctx.Encode(facts)
	if err := factsVal.Err(); err != nil {
		return Decision{}, fmt.Errorf("encode policy facts: %w", err)
	}

	d := Decision{Allow: true}
	for _, cr := range e.compiled {
		unified := cr.value.Unify(factsVal)
		if err := unified.Validate(cue.Concrete(false)); err != nil {
			d.Allow = false
			d.Deny = append(d.Deny, denyMessage(cr.rule, err))
		}
	}
	return d, nil
}

// denyMessage prefers the rule's configured reason; without one it
// falls back to the CUE unification error.
func denyMessage(r Rule, err error) string {
	if r.Reason != "" {
		return fmt.Sprintf("%s: %s", r.ID, r.Reason)
	}
	return fmt.Sprintf("%s: %s", r.ID, cueerrors.Details(err, nil))
}

// CompileError reports a rule that failed to compile.
type CompileError struct {
	RuleID  string
	Message string
}

// Error implements the error interface.
func (e *CompileError) Error() string {
	return fmt.Sprintf("policy rule %s: %s", e.RuleID, e.Message)
}
