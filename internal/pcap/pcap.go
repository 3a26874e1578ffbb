package pcap

import (
	"fmt"

	"github.com/veridical/pact/internal/canon"
	"github.com/veridical/pact/internal/cost"
	"github.com/veridical/pact/internal/proof"
)

// PCAP is one Proof-Carrying Action record, immutable once written.
//
// The ID is the content hash of the record, so any mutation of any
// field is detectable by recomputing it - this is what pack
// verification leans on.
type PCAP struct {
	ID          string        `json:"id"`
	Action      proof.Action  `json:"action"`
	PreHash     string        `json:"pre_hash"`
	PostHash    string        `json:"post_hash"`
	Obligations []string      `json:"obligations,omitempty"`
	Cost        cost.Vector   `json:"justification"`
	Proofs      []proof.Proof `json:"proofs"`
	Verdict     proof.Verdict `json:"verdict"`
	Toolchain   string        `json:"toolchain"`
}

// CanonicalMap is the canonical form of the record minus the ID field
// (the ID is the hash of this map). Pack attestation reuses it.
func (p *PCAP) CanonicalMap() map[string]any {
	proofs := make([]any, len(p.Proofs))
	for i, pr := range p.Proofs {
		m := map[string]any{
			"kind":    string(pr.Kind),
			"verdict": string(pr.Verdict),
		}
		if len(pr.Evidence) > 0 {
			m["evidence"] = pr.Evidence
		}
		if pr.Detail != "" {
			m["detail"] = pr.Detail
		}
		proofs[i] = m
	}

	m := map[string]any{
		"action":        p.Action.CanonicalMap(),
		"pre_hash":      p.PreHash,
		"post_hash":     p.PostHash,
		"justification": p.Cost.CanonicalMap(),
		"proofs":        proofs,
		"verdict":       string(p.Verdict),
		"toolchain":     p.Toolchain,
	}
	if len(p.Obligations) > 0 {
		m["obligations"] = p.Obligations
	}
	return m
}

// ComputeID returns the content-addressed identifier of the record.
func (p *PCAP) ComputeID() (string, error) {
	return canon.Hash(canon.DomainPCAP, p.CanonicalMap())
}

// Verify recomputes the ID and reports whether it matches. A mismatch
// means some field was altered after the record was sealed.
func (p *PCAP) Verify() error {
	id, err := p.ComputeID()
	if err != nil {
		return fmt.Errorf("verify pcap %s: %w", p.ID, err)
	}
	if id != p.ID {
		return fmt.Errorf("pcap %s content does not match its id (recomputed %s)", p.ID, id)
	}
	return nil
}
