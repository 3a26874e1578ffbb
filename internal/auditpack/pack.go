package auditpack

import (
	"fmt"
	"time"

	"github.com/veridical/pact/internal/canon"
	"github.com/veridical/pact/internal/cost"
	"github.com/veridical/pact/internal/journal"
	"github.com/veridical/pact/internal/pcap"
	"github.com/veridical/pact/internal/plan"
	"github.com/veridical/pact/internal/state"
)

// Metrics summarizes a run for auditors.
//
// Commits, Rollbacks, Terminals, SuccessRateMillis, and TotalCost are
// derivable from the pack contents and are re-derived during
// verification. Replans and DeltaMillis come from the loop's run
// record; they are attested but cannot be recomputed from the pack
// alone.
type Metrics struct {
	Commits           int64       `json:"commits"`
	Rollbacks         int64       `json:"rollbacks"`
	Terminals         int64       `json:"terminals"`
	SuccessRateMillis int64       `json:"success_rate_millis"`
	Replans           int64       `json:"replans"`
	TotalCost         cost.Vector `json:"total_cost"`
	DeltaMillis       []int64     `json:"delta_millis,omitempty"`
}

// Attestation binds the pack contents to a digest at assembly time.
// The digest covers everything in the pack except the attestation
// itself; the signature, when present, covers the digest.
type Attestation struct {
	ID        string    `json:"id"`
	Digest    string    `json:"digest"`
	Algorithm string    `json:"algorithm"`
	BuilderID string    `json:"builder_id"`
	Timestamp time.Time `json:"timestamp"`
	Signature string    `json:"signature,omitempty"`
}

// Pack is the assembled audit bundle for one run.
type Pack struct {
	RunID       string          `json:"run_id"`
	Seed        state.Seed      `json:"seed"`
	Plan        plan.Plan       `json:"plan"`
	Entries     []journal.Entry `json:"entries"`
	PCAPs       []pcap.PCAP     `json:"pcaps"`
	Metrics     Metrics         `json:"metrics"`
	Attestation Attestation     `json:"attestation"`
}

// digestMap is the canonical form of the attested content: the whole
// pack minus the attestation. Entry timestamps are serialized as
// RFC 3339 strings so the map stays within canonical JSON types.
func (p *Pack) digestMap() map[string]any {
	entries := make([]any, len(p.Entries))
	for i, e := range p.Entries {
		m := map[string]any{
			"id":          e.ID,
			"seq":         e.Seq,
			"timestamp":   e.Timestamp.UTC().Format(time.RFC3339Nano),
			"actor":       e.Actor,
			"action_type": e.ActionType,
			"result":      string(e.Result),
			"hash":        e.Hash,
			"parent_hash": e.ParentHash,
		}
		if len(e.InputRefs) > 0 {
			m["input_refs"] = e.InputRefs
		}
		if len(e.OutputRefs) > 0 {
			m["output_refs"] = e.OutputRefs
		}
		if len(e.ObligationsChecked) > 0 {
			m["obligations_checked"] = e.ObligationsChecked
		}
		if len(e.InvariantsChecked) > 0 {
			m["invariants_checked"] = e.InvariantsChecked
		}
		if len(e.VerifiersRun) > 0 {
			m["verifiers_run"] = e.VerifiersRun
		}
		if e.Notes != "" {
			m["notes"] = e.Notes
		}
		if e.MerkleRootDay != "" {
			m["merkle_root_day"] = e.MerkleRootDay
		}
		entries[i] = m
	}

	pcaps := make([]any, len(p.PCAPs))
	for i, rec := range p.PCAPs {
		m := rec.CanonicalMap()
		m["id"] = rec.ID
		pcaps[i] = m
	}

	steps := make([]any, len(p.Plan.Steps))
	for i, s := range p.Plan.Steps {
		m := map[string]any{"operator": s.Operator}
		if len(s.InputRefs) > 0 {
			m["input_refs"] = s.InputRefs
		}
		if len(s.OutputRefs) > 0 {
			m["output_refs"] = s.OutputRefs
		}
		steps[i] = m
	}

	deltas := make([]any, len(p.Metrics.DeltaMillis))
	for i, d := range p.Metrics.DeltaMillis {
		deltas[i] = d
	}

	return map[string]any{
		"run_id": p.RunID,
		"seed": map[string]any{
			"random":    p.Seed.Random,
			"revision":  p.Seed.Revision,
			"toolchain": p.Seed.Toolchain,
		},
		"plan": map[string]any{
			"goal":   p.Plan.Goal,
			"status": string(p.Plan.Status),
			"steps":  steps,
			"budgets": map[string]any{
				"time_ms":     p.Plan.Budgets.TimeMS,
				"audit_cost":  p.Plan.Budgets.AuditCost,
				"max_replans": int64(p.Plan.Budgets.MaxReplans),
			},
		},
		"entries": entries,
		"pcaps":   pcaps,
		"metrics": map[string]any{
			"commits":             p.Metrics.Commits,
			"rollbacks":           p.Metrics.Rollbacks,
			"terminals":           p.Metrics.Terminals,
			"success_rate_millis": p.Metrics.SuccessRateMillis,
			"replans":             p.Metrics.Replans,
			"total_cost":          p.Metrics.TotalCost.CanonicalMap(),
			"delta_millis":        deltas,
		},
	}
}

// Digest computes the content digest of the attested pack body.
func (p *Pack) Digest() (string, error) {
	return canon.Hash(canon.DomainPack, p.digestMap())
}

// VerifyPack checks a pack end to end without any external state:
// attestation digest, signature (when a verifying signer is given),
// journal chain, PCAP content addresses, and the derivable metrics.
func VerifyPack(p *Pack, signer Signer) error {
	digest, err := p.Digest()
	if err != nil {
		return fmt.Errorf("verify pack: %w", err)
	}
	if digest != p.Attestation.Digest {
		return fmt.Errorf("verify pack: digest %s does not match attestation %s",
			digest, p.Attestation.Digest)
	}
	if p.Attestation.Algorithm != canon.Algorithm {
		return fmt.Errorf("verify pack: unknown attestation algorithm %q", p.Attestation.Algorithm)
	}

	if signer != nil {
		if p.Attestation.Signature == "" {
			return fmt.Errorf("verify pack: attestation is unsigned")
		}
		if err := signer.Verify(digest, p.Attestation.Signature); err != nil {
			return fmt.Errorf("verify pack: %w", err)
		}
	}

	if err := journal.VerifyEntries(p.Entries); err != nil {
		return fmt.Errorf("verify pack: journal: %w", err)
	}

	for i := range p.PCAPs {
		if err := p.PCAPs[i].Verify(); err != nil {
			return fmt.Errorf("verify pack: %w", err)
		}
	}

	derived := deriveMetrics(p.Entries, p.PCAPs)
	if derived.Commits != p.Metrics.Commits ||
		derived.Rollbacks != p.Metrics.Rollbacks ||
		derived.Terminals != p.Metrics.Terminals ||
		derived.SuccessRateMillis != p.Metrics.SuccessRateMillis ||
		derived.TotalCost != p.Metrics.TotalCost {
		return fmt.Errorf("verify pack: recorded metrics do not match pack contents")
	}

	return nil
}

// deriveMetrics recomputes the derivable metrics from pack contents.
func deriveMetrics(entries []journal.Entry, pcaps []pcap.PCAP) Metrics {
	var m Metrics
	for _, e := range entries {
		switch e.ActionType {
		case journal.TypeCommit:
			m.Commits++
		case journal.TypeRollback:
			m.Rollbacks++
		case journal.TypeTerminal:
			m.Terminals++
		}
	}
	if attempts := m.Commits + m.Rollbacks; attempts > 0 {
		m.SuccessRateMillis = m.Commits * cost.MillisScale / attempts
	}
	for i := range pcaps {
		m.TotalCost = m.TotalCost.Add(pcaps[i].Cost)
	}
	return m
}
