package proof

import (
	"errors"
	"fmt"
)

// FailCode categorizes verification and planning failures.
type FailCode string

const (
	FailParseError           FailCode = "parse_error"
	FailTestFailure          FailCode = "test_failure"
	FailPolicyViolation      FailCode = "policy_violation"
	FailBudgetExceeded       FailCode = "budget_exceeded"
	FailVerificationTimeout  FailCode = "verification_timeout"
	FailTypeError            FailCode = "type_error"
	FailMissingObligation    FailCode = "missing_obligation"
	FailInsufficientCoverage FailCode = "insufficient_coverage"
)

// ValidFailCodes defines the closed failure taxonomy.
var ValidFailCodes = map[FailCode]bool{
	FailParseError:           true,
	FailTestFailure:          true,
	FailPolicyViolation:      true,
	FailBudgetExceeded:       true,
	FailVerificationTimeout:  true,
	FailTypeError:            true,
	FailMissingObligation:    true,
	FailInsufficientCoverage: true,
}

// FailReason is a structured verification failure. It carries the
// evidence references a reviewer needs to diagnose the failure, and it
// is what the planner converts into a new obligation on rollback.
type FailReason struct {
	Code     FailCode `json:"code"`
	Message  string   `json:"message"`
	Evidence []string `json:"evidence,omitempty"`

	// Kind is the proof kind that produced the failure, when one did.
	Kind Kind `json:"kind,omitempty"`
}

// Error implements the error interface.
func (f *FailReason) Error() string {
	if f.Kind != "" {
		return fmt.Sprintf("%s: %s (kind=%s)", f.Code, f.Message, f.Kind)
	}
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

// NewFailReason creates a FailReason with the given code and message.
func NewFailReason(code FailCode, message string) *FailReason {
	return &FailReason{Code: code, Message: message}
}

// WithEvidence attaches evidence references.
func (f *FailReason) WithEvidence(refs ...string) *FailReason {
	f.Evidence = append(f.Evidence, refs...)
	return f
}

// WithKind attaches the originating proof kind.
func (f *FailReason) WithKind(k Kind) *FailReason {
	f.Kind = k
	return f
}

// AsFailReason extracts a FailReason from a (possibly wrapped) error.
func AsFailReason(err error) (*FailReason, bool) {
	var fr *FailReason
	if errors.As(err, &fr) {
		return fr, true
	}
	return nil, false
}

// IsFatal reports whether the failure bypasses replanning.
// A type error in plan structure indicates a programming error rather
// than a proof failure, so it terminates the plan immediately.
func IsFatal(err error) bool {
	fr, ok := AsFailReason(err)
	return ok && fr.Code == FailTypeError
}

// IsTimeout reports whether the failure is a verification timeout.
func IsTimeout(err error) bool {
	fr, ok := AsFailReason(err)
	return ok && fr.Code == FailVerificationTimeout
}

// CanonicalMap returns the canonical form of the failure for hashing
// and journal persistence.
func (f *FailReason) CanonicalMap() map[string]any {
	m := map[string]any{
		"code":    string(f.Code),
		"message": f.Message,
	}
	if len(f.Evidence) > 0 {
		m["evidence"] = f.Evidence
	}
	if f.Kind != "" {
		m["kind"] = string(f.Kind)
	}
	return m
}
