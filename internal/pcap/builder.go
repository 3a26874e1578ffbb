package pcap

import (
	"fmt"
	"log/slog"

	"github.com/veridical/pact/internal/cost"
	"github.com/veridical/pact/internal/journal"
	"github.com/veridical/pact/internal/proof"
	"github.com/veridical/pact/internal/state"
)

// Builder seals executed actions into PCAPs and records them in the
// journal. It is the only component that writes commit, rollback, and
// terminal entries for actions.
type Builder struct {
	journal *journal.Journal
	store   *Store
	actor   string
}

// NewBuilder creates a builder bound to a journal and a PCAP store.
func NewBuilder(j *journal.Journal, s *Store, actor string) *Builder {
	return &Builder{journal: j, store: s, actor: actor}
}

// SealParams carries everything Build needs for one action.
type SealParams struct {
	Action  proof.Action
	Pre     *state.State
	Post    *state.State
	Outcome proof.Outcome
	Cost    cost.Vector

	// EntryType is the journal entry type to append: commit for a
	// passing action, rollback when the planner restores a snapshot,
	// terminal when a plan gives up.
	EntryType string

	// ExtraRefs are appended to the entry's output refs, e.g. the
	// restored snapshot ID on a rollback.
	ExtraRefs []string

	// ExpectedTip is the journal tip hash the caller last read.
	ExpectedTip string

	Notes string
}

// Build computes pre/post state hashes, assembles the PCAP, persists
// it, and appends its journal entry atomically with respect to the
// journal tip. The returned entry is the action's durable record.
func (b *Builder) Build(p SealParams) (PCAP, journal.Entry, error) {
	if err := p.Cost.Validate(); err != nil {
		return PCAP{}, journal.Entry{}, fmt.Errorf("build pcap: %w", err)
	}

	preHash, err := p.Pre.Hash()
	if err != nil {
		return PCAP{}, journal.Entry{}, fmt.Errorf("build pcap: pre state: %w", err)
	}
	postHash, err := p.Post.Hash()
	if err != nil {
		return PCAP{}, journal.Entry{}, fmt.Errorf("build pcap: post state: %w", err)
	}

	obligations := make([]string, 0, len(p.Pre.Constraints))
	for _, k := range p.Pre.Constraints {
		obligations = append(obligations, k.ID)
	}

	record := PCAP{
		Action:      p.Action,
		PreHash:     preHash,
		PostHash:    postHash,
		Obligations: obligations,
		Cost:        p.Cost,
		Proofs:      p.Outcome.Proofs,
		Verdict:     p.Outcome.Verdict,
		Toolchain:   p.Outcome.Fingerprint,
	}
	record.ID, err = record.ComputeID()
	if err != nil {
		return PCAP{}, journal.Entry{}, fmt.Errorf("build pcap: %w", err)
	}

	if err := b.store.Write(record); err != nil {
		return PCAP{}, journal.Entry{}, fmt.Errorf("build pcap: %w", err)
	}

	verifiers := make([]string, 0, len(p.Outcome.Proofs))
	for _, pr := range p.Outcome.Proofs {
		verifiers = append(verifiers, string(pr.Kind))
	}

	entry, err := b.journal.Append(journal.Draft{
		Actor:              b.actor,
		ActionType:         p.EntryType,
		InputRefs:          []string{p.Action.Target},
		OutputRefs:         append([]string{record.ID}, p.ExtraRefs...),
		ObligationsChecked: obligations,
		VerifiersRun:       verifiers,
		Result:             p.Outcome.Verdict,
		Notes:              p.Notes,
	}, p.ExpectedTip)
	if err != nil {
		return PCAP{}, journal.Entry{}, fmt.Errorf("build pcap: journal append: %w", err)
	}

	slog.Info("pcap sealed",
		"pcap_id", record.ID[:12],
		"action", p.Action.Name,
		"verdict", record.Verdict,
		"entry", entry.ID,
	)

	return record, entry, nil
}
