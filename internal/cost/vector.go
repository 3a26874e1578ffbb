package cost

import "fmt"

// Millis is the fixed-point unit for ratios in hashed records:
// 0..1000 maps to 0.0..1.0.
const MillisScale = 1000

// Vector is the measured cost of an action. All components are
// non-negative; RiskMillis is a ratio in thousandths.
type Vector struct {
	TimeMS     int64 `json:"time_ms"`
	Retries    int64 `json:"retries"`
	Backtracks int64 `json:"backtracks"`
	AuditCost  int64 `json:"audit_cost"`
	RiskMillis int64 `json:"risk_millis"`
	TechDebt   int64 `json:"tech_debt"`
}

// Validate rejects negative components and out-of-range risk.
func (v Vector) Validate() error {
	for name, c := range map[string]int64{
		"time_ms":     v.TimeMS,
		"retries":     v.Retries,
		"backtracks":  v.Backtracks,
		"audit_cost":  v.AuditCost,
		"risk_millis": v.RiskMillis,
		"tech_debt":   v.TechDebt,
	} {
		if c < 0 {
			return fmt.Errorf("cost component %s is negative: %d", name, c)
		}
	}
	if v.RiskMillis > MillisScale {
		return fmt.Errorf("risk_millis %d exceeds scale %d", v.RiskMillis, MillisScale)
	}
	return nil
}

// Add accumulates another vector for run-level reporting. Additive
// components sum; risk is a ratio, so the accumulated risk is the
// maximum observed.
func (v Vector) Add(o Vector) Vector {
	risk := v.RiskMillis
	if o.RiskMillis > risk {
		risk = o.RiskMillis
	}
	return Vector{
		TimeMS:     v.TimeMS + o.TimeMS,
		Retries:    v.Retries + o.Retries,
		Backtracks: v.Backtracks + o.Backtracks,
		AuditCost:  v.AuditCost + o.AuditCost,
		RiskMillis: risk,
		TechDebt:   v.TechDebt + o.TechDebt,
	}
}

// CanonicalMap returns the canonical form of the vector for hashing.
func (v Vector) CanonicalMap() map[string]any {
	return map[string]any{
		"time_ms":     v.TimeMS,
		"retries":     v.Retries,
		"backtracks":  v.Backtracks,
		"audit_cost":  v.AuditCost,
		"risk_millis": v.RiskMillis,
		"tech_debt":   v.TechDebt,
	}
}

// Scalar collapses the vector into a single expected-cost figure for
// utility scoring. The collapse weights are fixed for a run; they are
// a ranking device, not part of any hashed record.
func (v Vector) Scalar() float64 {
	return float64(v.TimeMS)/1000 +
		float64(v.AuditCost) +
		float64(v.RiskMillis)/MillisScale +
		float64(v.TechDebt)
}
