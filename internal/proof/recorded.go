package proof

import "context"

// RecordedEvaluator replays pre-recorded findings keyed by action name.
// It is the reference collaborator used by scripted runs and tests:
// deterministic by construction, hermetic by having no inputs beyond
// the request.
type RecordedEvaluator struct {
	// Findings maps action name to the finding to report.
	Findings map[string]Finding

	// Default is returned for actions without a recorded finding.
	Default Finding
}

// NewRecordedEvaluator creates an evaluator that passes everything
// unless a specific finding is recorded.
func NewRecordedEvaluator() *RecordedEvaluator {
	return &RecordedEvaluator{
		Findings: make(map[string]Finding),
		Default:  Finding{Verdict: VerdictPass},
	}
}

// Record sets the finding for an action name.
func (r *RecordedEvaluator) Record(actionName string, f Finding) {
	r.Findings[actionName] = f
}

// Evaluate implements Evaluator.
func (r *RecordedEvaluator) Evaluate(ctx context.Context, req Request) (Finding, error) {
	if err := ctx.Err(); err != nil {
		return Finding{}, err
	}
	if f, ok := r.Findings[req.Result.Action.Name]; ok {
		return f, nil
	}
	return r.Default, nil
}
