package journal

import (
	"fmt"
	"time"

	"github.com/veridical/pact/internal/canon"
	"github.com/veridical/pact/internal/proof"
)

// GenesisParent is the fixed sentinel parent hash of the first entry.
const GenesisParent = "genesis"

// Entry action types. The set is small and closed; the control loop
// appends commit/rollback/terminal entries, operators append
// corrections.
const (
	TypeCommit     = "commit"
	TypeRollback   = "rollback"
	TypeCorrection = "correction"
	TypeTerminal   = "terminal"
	TypePlan       = "plan"
)

// Entry is one immutable record in the journal.
//
// Seq is the logical clock position (genesis is 0). ID is derived from
// Seq so replayed journals are bit-identical. Timestamp is wall-clock
// for human audit only and is excluded from the entry hash.
type Entry struct {
	ID                 string        `json:"id"`
	Seq                int64         `json:"seq"`
	Timestamp          time.Time     `json:"timestamp"`
	Actor              string        `json:"actor"`
	ActionType         string        `json:"action_type"`
	InputRefs          []string      `json:"input_refs,omitempty"`
	OutputRefs         []string      `json:"output_refs,omitempty"`
	ObligationsChecked []string      `json:"obligations_checked,omitempty"`
	InvariantsChecked  []string      `json:"invariants_checked,omitempty"`
	VerifiersRun       []string      `json:"verifiers_run,omitempty"`
	Result             proof.Verdict `json:"result"`
	Notes              string        `json:"notes,omitempty"`
	Hash               string        `json:"hash"`
	ParentHash         string        `json:"parent_hash"`
	MerkleRootDay      string        `json:"merkle_root_day,omitempty"`
}

// EntryID derives the deterministic entry identifier for a position.
func EntryID(seq int64) string {
	return fmt.Sprintf("entry-%06d", seq)
}

// hashableMap is the canonical form of the entry that feeds the chain
// hash. It excludes Hash (self), Timestamp, and MerkleRootDay; it
// includes ParentHash so each hash commits to the whole prefix.
func (e *Entry) hashableMap() map[string]any {
	m := map[string]any{
		"id":          e.ID,
		"seq":         e.Seq,
		"actor":       e.Actor,
		"action_type": e.ActionType,
		"result":      string(e.Result),
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
	return m
}

// ComputeHash returns the content hash of the entry under the entry
// domain. The ParentHash field must already be set.
func (e *Entry) ComputeHash() (string, error) {
	return canon.Hash(canon.DomainEntry, e.hashableMap())
}

// Day returns the UTC calendar day of the entry, the granularity used
// for Merkle anchoring.
func (e *Entry) Day() string {
	return e.Timestamp.UTC().Format("2006-01-02")
}
