package journal

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/veridical/pact/internal/canon"
	"github.com/veridical/pact/internal/proof"
)

// Draft is an entry before the journal assigns position, parent, and
// hash. Callers never set those fields: append computes them
// atomically so the chain stays linear.
type Draft struct {
	Actor              string
	ActionType         string
	InputRefs          []string
	OutputRefs         []string
	ObligationsChecked []string
	InvariantsChecked  []string
	VerifiersRun       []string
	Result             proof.Verdict
	Notes              string
}

// Journal is the append-only chained log.
//
// Entries are stored by value in an arena slice and never handed out
// as pointers. All mutation goes through Append under the write lock;
// reads take the read lock and copy.
type Journal struct {
	mu           sync.RWMutex
	entries      []Entry
	anchoredDays map[string]bool
	now          func() time.Time
	sink         *lineSink
	readOnly     bool
}

// Option configures a Journal.
type Option func(*Journal)

// WithNow overrides the timestamp source. Tests use a fixed clock so
// golden journals are stable.
func WithNow(now func() time.Time) Option {
	return func(j *Journal) {
		j.now = now
	}
}

// New creates an empty in-memory journal.
func New(opts ...Option) *Journal {
	j := &Journal{
		anchoredDays: make(map[string]bool),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Tip returns the hash and seq of the latest entry. An empty journal
// reports the genesis sentinel and seq -1.
func (j *Journal) Tip() (hash string, seq int64) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.tipLocked()
}

func (j *Journal) tipLocked() (string, int64) {
	if len(j.entries) == 0 {
		return GenesisParent, -1
	}
	last := j.entries[len(j.entries)-1]
	return last.Hash, last.Seq
}

// Append computes hash and parent_hash for the draft and appends it
// atomically. expectedTip must be the tip hash the caller last read;
// if the tip has moved the append is rejected with ErrStaleTip. This
// optimistic concurrency check guarantees a single linear chain even
// under concurrent writers.
func (j *Journal) Append(d Draft, expectedTip string) (Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.readOnly {
		return Entry{}, fmt.Errorf("append %s: %w", d.ActionType, ErrReadOnly)
	}

	tip, tipSeq := j.tipLocked()
	if expectedTip != tip {
		return Entry{}, fmt.Errorf("append %s: %w (expected %s, actual %s)",
			d.ActionType, ErrStaleTip, shortHash(expectedTip), shortHash(tip))
	}

	seq := tipSeq + 1
	e := Entry{
		ID:                 EntryID(seq),
		Seq:                seq,
		Timestamp:          j.now().UTC(),
		Actor:              d.Actor,
		ActionType:         d.ActionType,
		InputRefs:          d.InputRefs,
		OutputRefs:         d.OutputRefs,
		ObligationsChecked: d.ObligationsChecked,
		InvariantsChecked:  d.InvariantsChecked,
		VerifiersRun:       d.VerifiersRun,
		Result:             d.Result,
		Notes:              d.Notes,
		ParentHash:         tip,
	}

	hash, err := e.ComputeHash()
	if err != nil {
		return Entry{}, fmt.Errorf("append %s: %w", d.ActionType, err)
	}
	e.Hash = hash

	// Flush entries that can no longer be anchored. The last entry of
	// each open day stays buffered so AnchorDay can still set its
	// merkle root before the line reaches the append-only file.
	if j.sink != nil {
		if err := j.sink.flush(j.entries, j.anchoredDays); err != nil {
			return Entry{}, fmt.Errorf("append %s: %w", d.ActionType, err)
		}
	}

	j.entries = append(j.entries, e)

	slog.Debug("journal entry appended",
		"id", e.ID,
		"action_type", e.ActionType,
		"result", e.Result,
		"hash", shortHash(e.Hash),
	)

	return e, nil
}

// Correct appends a Correction entry that logically refutes the entry
// at refutedSeq. The refuted entry itself is untouched; WORM
// discipline forbids mutating history.
func (j *Journal) Correct(actor string, refutedSeq int64, notes string, expectedTip string) (Entry, error) {
	j.mu.RLock()
	known := refutedSeq >= 0 && refutedSeq < int64(len(j.entries))
	j.mu.RUnlock()
	if !known {
		return Entry{}, fmt.Errorf("correct: no entry at seq %d", refutedSeq)
	}

	return j.Append(Draft{
		Actor:      actor,
		ActionType: TypeCorrection,
		InputRefs:  []string{EntryID(refutedSeq)},
		Result:     proof.VerdictPass,
		Notes:      notes,
	}, expectedTip)
}

// AnchorDay computes a Merkle root over all entries whose timestamp
// falls in the given UTC day and stores it on the last entry of that
// day. Callable at most once per day per run.
//
// The merkle root field is excluded from entry hashes, so anchoring
// does not break the chain.
func (j *Journal) AnchorDay(day string) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.readOnly {
		return "", fmt.Errorf("anchor %s: %w", day, ErrReadOnly)
	}
	if j.anchoredDays[day] {
		return "", fmt.Errorf("anchor %s: %w", day, ErrDayAnchored)
	}

	var leaves []string
	lastIdx := -1
	for i := range j.entries {
		if j.entries[i].Day() == day {
			leaves = append(leaves, j.entries[i].Hash)
			lastIdx = i
		}
	}
	if lastIdx == -1 {
		return "", fmt.Errorf("anchor %s: no entries for day", day)
	}

	root, err := canon.MerkleRoot(leaves)
	if err != nil {
		return "", fmt.Errorf("anchor %s: %w", day, err)
	}

	// The single sanctioned post-append write: the anchor slot,
	// which is outside the hashed content.
	j.entries[lastIdx].MerkleRootDay = root
	j.anchoredDays[day] = true

	// The anchored entry is now final; release it (and anything it was
	// holding back) to the file.
	if j.sink != nil {
		if err := j.sink.flush(j.entries, j.anchoredDays); err != nil {
			return "", fmt.Errorf("anchor %s: %w", day, err)
		}
	}

	slog.Info("day anchored",
		"day", day,
		"entries", len(leaves),
		"merkle_root", shortHash(root),
	)

	return root, nil
}

// VerifyChain recomputes every hash and parent link in [from, to]
// (inclusive seq range) and reports the first broken link as an
// IntegrityError. A nil return means the range is intact.
func (j *Journal) VerifyChain(from, to int64) error {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if from < 0 || to >= int64(len(j.entries)) || from > to {
		return fmt.Errorf("verify chain: invalid range [%d, %d] for %d entries", from, to, len(j.entries))
	}

	return verifyEntries(j.entries, from, to)
}

// VerifyEntries checks a detached entry slice from genesis, for
// verifiers that hold pack contents rather than a live journal.
func VerifyEntries(entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	return verifyEntries(entries, 0, int64(len(entries)-1))
}

// verifyEntries checks hashes and parent links over a seq range.
// Shared by the journal and by offline pack verification.
func verifyEntries(entries []Entry, from, to int64) error {
	for seq := from; seq <= to; seq++ {
		e := entries[seq]

		if e.Seq != seq {
			return &IntegrityError{Seq: seq, Reason: fmt.Sprintf("seq field %d does not match position %d", e.Seq, seq)}
		}
		if e.ID != EntryID(seq) {
			return &IntegrityError{Seq: seq, Reason: fmt.Sprintf("id %q does not match position", e.ID)}
		}

		want := GenesisParent
		if seq > 0 {
			want = entries[seq-1].Hash
		}
		if e.ParentHash != want {
			return &IntegrityError{Seq: seq, Reason: fmt.Sprintf("parent hash %s does not match predecessor %s", shortHash(e.ParentHash), shortHash(want))}
		}

		recomputed, err := e.ComputeHash()
		if err != nil {
			return &IntegrityError{Seq: seq, Reason: fmt.Sprintf("recompute hash: %v", err)}
		}
		if recomputed != e.Hash {
			return &IntegrityError{Seq: seq, Reason: fmt.Sprintf("stored hash %s does not match content %s", shortHash(e.Hash), shortHash(recomputed))}
		}
	}
	return nil
}

// Entries returns a copy of all entries.
func (j *Journal) Entries() []Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()

	out := make([]Entry, len(j.entries))
	copy(out, j.entries)
	return out
}

// EntriesSince returns a copy of all entries with seq > after.
func (j *Journal) EntriesSince(after int64) []Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var out []Entry
	for _, e := range j.entries {
		if e.Seq > after {
			out = append(out, e)
		}
	}
	return out
}

// Get returns the entry at seq.
func (j *Journal) Get(seq int64) (Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if seq < 0 || seq >= int64(len(j.entries)) {
		return Entry{}, fmt.Errorf("no entry at seq %d", seq)
	}
	return j.entries[seq], nil
}

// Len returns the number of entries.
func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.entries)
}

// Close flushes every buffered entry to the NDJSON sink and closes it.
// Days still open at close time are persisted unanchored.
// In-memory journals close trivially.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.sink == nil {
		return nil
	}
	if err := j.sink.flushAll(j.entries); err != nil {
		return err
	}
	return j.sink.close()
}

// shortHash abbreviates a hash for log output.
func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
