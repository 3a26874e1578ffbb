package state

import (
	"encoding/json"
	"fmt"
)

// wireState mirrors the canonical map layout for decoding.
// Kept separate from State so the canonical key set stays explicit.
type wireState struct {
	Hypotheses []struct {
		ID        string `json:"id"`
		Statement string `json:"statement"`
		Status    string `json:"status"`
	} `json:"hypotheses"`
	Evidence []struct {
		ID   string `json:"id"`
		Kind string `json:"kind"`
		Ref  string `json:"ref"`
	} `json:"evidence"`
	Constraints []struct {
		ID         string `json:"id"`
		Rule       string `json:"rule"`
		Provenance string `json:"provenance"`
		Critical   bool   `json:"critical"`
	} `json:"constraints"`
	Artifacts []struct {
		ID     string `json:"id"`
		Path   string `json:"path"`
		Digest string `json:"digest"`
		PCAPID string `json:"pcap_id"`
	} `json:"artifacts"`
	JournalTip string `json:"journal_tip"`
	Env        struct {
		Random    int64  `json:"random"`
		Revision  string `json:"revision"`
		Toolchain string `json:"toolchain"`
	} `json:"env"`
}

// FromCanonicalBytes reconstructs a state from its canonical
// serialization. Round-trip invariant: for any state s,
// FromCanonicalBytes(s.CanonicalBytes()) hashes identically to s.
func FromCanonicalBytes(data []byte) (*State, error) {
	var w wireState
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}

	s := New(Seed{
		Random:    w.Env.Random,
		Revision:  w.Env.Revision,
		Toolchain: w.Env.Toolchain,
	})
	s.JournalTip = w.JournalTip

	for _, h := range w.Hypotheses {
		s.Hypotheses = append(s.Hypotheses, Hypothesis{
			ID:        h.ID,
			Statement: h.Statement,
			Status:    HypothesisStatus(h.Status),
		})
	}
	for _, e := range w.Evidence {
		s.Evidence = append(s.Evidence, Evidence{
			ID:   e.ID,
			Kind: EvidenceKind(e.Kind),
			Ref:  e.Ref,
		})
	}
	for _, k := range w.Constraints {
		s.Constraints = append(s.Constraints, Constraint{
			ID:         k.ID,
			Rule:       k.Rule,
			Provenance: ConstraintProvenance(k.Provenance),
			Critical:   k.Critical,
		})
	}
	for _, a := range w.Artifacts {
		s.Artifacts = append(s.Artifacts, Artifact{
			ID:     a.ID,
			Path:   a.Path,
			Digest: a.Digest,
			PCAPID: a.PCAPID,
		})
	}

	return s, nil
}
