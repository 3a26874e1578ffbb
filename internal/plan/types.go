package plan

import "fmt"

// Status tracks the lifecycle of a plan.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ValidStatuses defines the allowed plan statuses.
var ValidStatuses = map[Status]bool{
	StatusPending:   true,
	StatusRunning:   true,
	StatusCompleted: true,
	StatusFailed:    true,
}

// Step is one unit of work in a plan: which operator runs and which
// refs it consumes and produces.
type Step struct {
	Operator   string   `yaml:"operator" json:"operator"`
	InputRefs  []string `yaml:"input_refs,omitempty" json:"input_refs,omitempty"`
	OutputRefs []string `yaml:"output_refs,omitempty" json:"output_refs,omitempty"`
}

// Budgets bound a plan's resource consumption. Zero means unlimited
// for time_ms and audit_cost; max_replans is an exact count and zero
// means no replanning at all.
type Budgets struct {
	TimeMS     int64 `yaml:"time_ms,omitempty" json:"time_ms,omitempty"`
	AuditCost  int64 `yaml:"audit_cost,omitempty" json:"audit_cost,omitempty"`
	MaxReplans int   `yaml:"max_replans" json:"max_replans"`
}

// Plan is a goal with an ordered step list and resource budgets.
type Plan struct {
	Goal    string  `yaml:"goal" json:"goal"`
	Status  Status  `yaml:"status,omitempty" json:"status"`
	Steps   []Step  `yaml:"steps" json:"steps"`
	Budgets Budgets `yaml:"budgets" json:"budgets"`
}

// Validate checks the plan is structurally sound before any step runs.
// A plan that fails validation never touches the journal beyond its
// terminal entry.
func (p *Plan) Validate() error {
	if p.Goal == "" {
		return fmt.Errorf("plan has no goal")
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("plan %q has no steps", p.Goal)
	}
	for i, s := range p.Steps {
		if s.Operator == "" {
			return fmt.Errorf("plan %q: step %d has no operator", p.Goal, i)
		}
	}
	if p.Budgets.TimeMS < 0 {
		return fmt.Errorf("plan %q: negative time_ms budget %d", p.Goal, p.Budgets.TimeMS)
	}
	if p.Budgets.AuditCost < 0 {
		return fmt.Errorf("plan %q: negative audit_cost budget %d", p.Goal, p.Budgets.AuditCost)
	}
	if p.Budgets.MaxReplans < 0 {
		return fmt.Errorf("plan %q: negative max_replans budget %d", p.Goal, p.Budgets.MaxReplans)
	}
	if p.Status != "" && !ValidStatuses[p.Status] {
		return fmt.Errorf("plan %q: unknown status %q", p.Goal, p.Status)
	}
	return nil
}
