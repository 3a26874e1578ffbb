package plan

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/veridical/pact/internal/cost"
	"github.com/veridical/pact/internal/proof"
	"github.com/veridical/pact/internal/state"
)

// Script is a fully scripted run document: the plan plus fixed
// candidates, executor effects, and proof findings. Scripted runs are
// the reference collaborators - everything a run needs with no live
// toolchain behind it, so two executions of the same script replay
// identically.
type Script struct {
	RunID    string     `yaml:"run_id"`
	Actor    string     `yaml:"actor"`
	Seed     state.Seed `yaml:"seed"`
	Required []string   `yaml:"required"`
	Rules    []RuleDoc  `yaml:"rules,omitempty"`

	// Initial seeds the starting state: the obligations, evidence, and
	// hypotheses in force before the first step runs.
	Initial EffectsDoc `yaml:"initial,omitempty"`

	Plan  Plan      `yaml:"plan"`
	Steps []StepDoc `yaml:"candidates"`
}

// RuleDoc is a policy rule as authored in a script. The CLI compiles
// these into the policy evaluator; the planner treats them as data.
type RuleDoc struct {
	ID     string `yaml:"id"`
	Source string `yaml:"source"`
	Reason string `yaml:"reason,omitempty"`
}

// StepDoc scripts the candidate variants for one plan step.
type StepDoc struct {
	Step     int          `yaml:"step"`
	Variants []VariantDoc `yaml:"variants"`
}

// VariantDoc is one scripted candidate: the action, its scoring
// inputs, the state effects its execution applies, and the proof
// findings each verification call consumes in order.
type VariantDoc struct {
	Action   ActionDoc               `yaml:"action"`
	Reward   float64                 `yaml:"reward"`
	Expected VectorDoc               `yaml:"expected"`
	Effects  EffectsDoc              `yaml:"effects,omitempty"`
	Findings map[string][]FindingDoc `yaml:"findings,omitempty"`
}

// ActionDoc mirrors proof.Action for YAML authoring.
type ActionDoc struct {
	Name   string         `yaml:"name"`
	Target string         `yaml:"target"`
	Params map[string]any `yaml:"params,omitempty"`
}

// VectorDoc mirrors cost.Vector for YAML authoring.
type VectorDoc struct {
	TimeMS     int64 `yaml:"time_ms,omitempty"`
	Retries    int64 `yaml:"retries,omitempty"`
	Backtracks int64 `yaml:"backtracks,omitempty"`
	AuditCost  int64 `yaml:"audit_cost,omitempty"`
	RiskMillis int64 `yaml:"risk_millis,omitempty"`
	TechDebt   int64 `yaml:"tech_debt,omitempty"`
}

// EffectsDoc lists the state mutations a scripted execution applies.
type EffectsDoc struct {
	Hypotheses []state.Hypothesis `yaml:"hypotheses,omitempty"`
	Evidence   []state.Evidence   `yaml:"evidence,omitempty"`
	Artifacts  []state.Artifact   `yaml:"artifacts,omitempty"`
	OutputRefs []string           `yaml:"output_refs,omitempty"`
}

// FindingDoc is one scripted proof finding. A variant retried after a
// rollback consumes the next finding in the sequence; the last one
// repeats once the sequence is exhausted.
type FindingDoc struct {
	Verdict  string   `yaml:"verdict"`
	Detail   string   `yaml:"detail,omitempty"`
	Code     string   `yaml:"code,omitempty"`
	Evidence []string `yaml:"evidence,omitempty"`
}

// LoadScript parses and validates a run script. Unknown fields are
// rejected so a typo in a script fails loudly instead of silently
// scripting nothing.
func LoadScript(path string) (*Script, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load script: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	var s Script
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("load script %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("load script %s: %w", path, err)
	}
	return &s, nil
}

// Validate checks the script's internal consistency.
func (s *Script) Validate() error {
	if s.RunID == "" {
		return fmt.Errorf("script has no run_id")
	}
	if s.Actor == "" {
		return fmt.Errorf("script has no actor")
	}
	if len(s.Required) == 0 {
		return fmt.Errorf("script requires no proof kinds")
	}
	for _, k := range s.Required {
		if err := proof.ValidateKind(proof.Kind(k)); err != nil {
			return err
		}
	}
	if err := s.Plan.Validate(); err != nil {
		return err
	}

	scripted := make(map[int]bool, len(s.Steps))
	// Action names key the executor's effects and the evaluators'
	// finding sequences, so a name may appear only once in a script.
	names := make(map[string]int)
	for _, sd := range s.Steps {
		if sd.Step < 0 || sd.Step >= len(s.Plan.Steps) {
			return fmt.Errorf("candidates reference step %d, plan has %d steps", sd.Step, len(s.Plan.Steps))
		}
		if scripted[sd.Step] {
			return fmt.Errorf("step %d has duplicate candidate blocks", sd.Step)
		}
		scripted[sd.Step] = true
		if len(sd.Variants) == 0 {
			return fmt.Errorf("step %d has no variants", sd.Step)
		}
		for _, v := range sd.Variants {
			if v.Action.Name == "" {
				return fmt.Errorf("step %d: variant with empty action name", sd.Step)
			}
			if prev, ok := names[v.Action.Name]; ok {
				return fmt.Errorf("step %d: action name %q already used by step %d", sd.Step, v.Action.Name, prev)
			}
			names[v.Action.Name] = sd.Step
			for kind, seq := range v.Findings {
				if err := proof.ValidateKind(proof.Kind(kind)); err != nil {
					return fmt.Errorf("step %d: action %s: %w", sd.Step, v.Action.Name, err)
				}
				for _, fd := range seq {
					switch proof.Verdict(fd.Verdict) {
					case proof.VerdictPass, proof.VerdictFail, proof.VerdictDeny:
					default:
						return fmt.Errorf("step %d: action %s: unknown verdict %q", sd.Step, v.Action.Name, fd.Verdict)
					}
				}
			}
		}
	}
	for i := range s.Plan.Steps {
		if !scripted[i] {
			return fmt.Errorf("step %d has no candidate block", i)
		}
	}
	return nil
}

// InitialState builds the starting state from the script's seed and
// initial effects.
func (s *Script) InitialState() (*state.State, error) {
	st := state.New(s.Seed)
	if err := applyEffects(st, s.Initial); err != nil {
		return nil, fmt.Errorf("initial state: %w", err)
	}
	return st, nil
}

// RequiredKinds returns the proof kinds the script demands.
func (s *Script) RequiredKinds() []proof.Kind {
	out := make([]proof.Kind, len(s.Required))
	for i, k := range s.Required {
		out[i] = proof.Kind(k)
	}
	return out
}

func (a ActionDoc) action() proof.Action {
	return proof.Action{Name: a.Name, Target: a.Target, Params: a.Params}
}

func (v VectorDoc) vector() cost.Vector {
	return cost.Vector{
		TimeMS:     v.TimeMS,
		Retries:    v.Retries,
		Backtracks: v.Backtracks,
		AuditCost:  v.AuditCost,
		RiskMillis: v.RiskMillis,
		TechDebt:   v.TechDebt,
	}
}

// Generator returns the static generator serving the script's
// candidate variants, the same list on every attempt at a step.
func (s *Script) Generator() Generator {
	byStep := make(map[int][]Proposal, len(s.Steps))
	for _, sd := range s.Steps {
		props := make([]Proposal, len(sd.Variants))
		for i, v := range sd.Variants {
			eff := v.Effects
			props[i] = Proposal{
				Action:   v.Action.action(),
				Reward:   v.Reward,
				Expected: v.Expected.vector(),
				Intended: func(pre *state.State) (*state.State, error) {
					intended := pre.Clone()
					if err := applyEffects(intended, eff); err != nil {
						return nil, fmt.Errorf("predict post-state: %w", err)
					}
					return intended, nil
				},
			}
		}
		byStep[sd.Step] = props
	}
	return &staticGenerator{plan: s.Plan, byStep: byStep}
}

type staticGenerator struct {
	plan   Plan
	byStep map[int][]Proposal
}

func (g *staticGenerator) Propose(ctx context.Context, req ProposeRequest) ([]Proposal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for i, step := range g.plan.Steps {
		if step.Operator == req.Step.Operator && sameRefs(step.InputRefs, req.Step.InputRefs) {
			if props, ok := g.byStep[i]; ok {
				return props, nil
			}
		}
	}
	return nil, fmt.Errorf("no scripted candidates for operator %q", req.Step.Operator)
}

func sameRefs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Executor returns the scripted executor: executing an action applies
// the effects its variant declares, nothing else.
func (s *Script) Executor() Executor {
	// Validate guarantees action names are unique across the script.
	effects := make(map[string]EffectsDoc)
	for _, sd := range s.Steps {
		for _, v := range sd.Variants {
			effects[v.Action.Name] = v.Effects
		}
	}
	return &scriptedExecutor{effects: effects}
}

type scriptedExecutor struct {
	effects map[string]EffectsDoc
}

func (e *scriptedExecutor) Execute(ctx context.Context, action proof.Action, st *state.State) (proof.Result, error) {
	if err := ctx.Err(); err != nil {
		return proof.Result{}, err
	}

	eff, ok := e.effects[action.Name]
	if !ok {
		return proof.Result{}, fmt.Errorf("no scripted effects for action %q", action.Name)
	}

	if err := applyEffects(st, eff); err != nil {
		return proof.Result{}, fmt.Errorf("execute %s: %w", action.Name, err)
	}

	artifactIDs := make([]string, 0, len(eff.Artifacts))
	for _, a := range eff.Artifacts {
		artifactIDs = append(artifactIDs, a.ID)
	}

	return proof.Result{
		Action:      action,
		OutputRefs:  eff.OutputRefs,
		ArtifactIDs: artifactIDs,
	}, nil
}

// applyEffects mutates a state with a variant's declared effects.
// Shared by the scripted executor and the intended-state predictor, so
// a faithful scripted execution always measures zero divergence.
func applyEffects(st *state.State, eff EffectsDoc) error {
	for _, h := range eff.Hypotheses {
		st.SetHypothesis(h)
	}
	for _, ev := range eff.Evidence {
		if err := st.AddEvidence(ev); err != nil {
			return err
		}
	}
	for _, a := range eff.Artifacts {
		if err := st.AddArtifact(a); err != nil {
			return err
		}
	}
	return nil
}

// Evaluators returns one scripted evaluator per required proof kind.
// Actions without scripted findings for a kind pass, so a script only
// spells out the interesting verdicts. Callers that compile policy
// rules replace the policy entry with the rule-backed evaluator.
func (s *Script) Evaluators() map[proof.Kind]proof.Evaluator {
	perKind := make(map[proof.Kind]map[string][]proof.Finding)
	for _, k := range s.RequiredKinds() {
		perKind[k] = make(map[string][]proof.Finding)
	}
	for _, sd := range s.Steps {
		for _, v := range sd.Variants {
			for kindStr, seq := range v.Findings {
				kind := proof.Kind(kindStr)
				if perKind[kind] == nil {
					perKind[kind] = make(map[string][]proof.Finding)
				}
				findings := make([]proof.Finding, len(seq))
				for i, fd := range seq {
					findings[i] = proof.Finding{
						Verdict:  proof.Verdict(fd.Verdict),
						Detail:   fd.Detail,
						Evidence: fd.Evidence,
						FailCode: proof.FailCode(fd.Code),
					}
				}
				perKind[kind][v.Action.Name] = findings
			}
		}
	}

	out := make(map[proof.Kind]proof.Evaluator, len(perKind))
	for kind, byAction := range perKind {
		out[kind] = &sequencedEvaluator{
			findings: byAction,
			calls:    make(map[string]int),
		}
	}
	return out
}

// sequencedEvaluator replays a per-action finding sequence: each call
// for an action consumes the next finding, and the last finding
// repeats once the sequence is exhausted. Actions with no scripted
// sequence pass.
type sequencedEvaluator struct {
	findings map[string][]proof.Finding
	calls    map[string]int
}

func (e *sequencedEvaluator) Evaluate(ctx context.Context, req proof.Request) (proof.Finding, error) {
	if err := ctx.Err(); err != nil {
		return proof.Finding{}, err
	}

	name := req.Result.Action.Name
	seq, ok := e.findings[name]
	if !ok || len(seq) == 0 {
		return proof.Finding{Verdict: proof.VerdictPass}, nil
	}

	i := e.calls[name]
	e.calls[name]++
	if i >= len(seq) {
		i = len(seq) - 1
	}
	return seq[i], nil
}
