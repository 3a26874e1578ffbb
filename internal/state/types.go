package state

// HypothesisStatus tracks the lifecycle of a hypothesis.
type HypothesisStatus string

const (
	HypothesisOpen      HypothesisStatus = "open"
	HypothesisSupported HypothesisStatus = "supported"
	HypothesisRefuted   HypothesisStatus = "refuted"
)

// Hypothesis is a statement under investigation.
type Hypothesis struct {
	ID        string           `json:"id"`
	Statement string           `json:"statement"`
	Status    HypothesisStatus `json:"status"`
}

// EvidenceKind categorizes an evidence reference.
type EvidenceKind string

const (
	EvidenceDoc     EvidenceKind = "doc"
	EvidenceCode    EvidenceKind = "code"
	EvidenceTest    EvidenceKind = "test"
	EvidencePolicy  EvidenceKind = "policy"
	EvidenceDataset EvidenceKind = "dataset"
	EvidenceRunlog  EvidenceKind = "runlog"
)

// Evidence is a typed reference to supporting material.
// The ID is stable for the lifetime of a run.
type Evidence struct {
	ID   string       `json:"id"`
	Kind EvidenceKind `json:"kind"`
	Ref  string       `json:"ref"`
}

// ConstraintProvenance records where an obligation came from.
type ConstraintProvenance string

const (
	ProvenanceInternal   ConstraintProvenance = "internal"
	ProvenanceRegulatory ConstraintProvenance = "regulatory"
	ProvenanceIncident   ConstraintProvenance = "incident"
)

// Constraint is an obligation the verifier must check before an action
// is accepted. Constraints are ordered and grow monotonically: rules are
// added, never silently removed.
type Constraint struct {
	ID         string               `json:"id"`
	Rule       string               `json:"rule"`
	Provenance ConstraintProvenance `json:"provenance"`

	// Critical obligations weigh more in the risk estimate.
	Critical bool `json:"critical"`
}

// Artifact is a generated file or patch. Each artifact is owned by
// exactly one PCAP once that PCAP is written.
type Artifact struct {
	ID     string `json:"id"`
	Path   string `json:"path"`
	Digest string `json:"digest"`
	PCAPID string `json:"pcap_id,omitempty"`
}

// Seed is the reproducibility context: random seed, repository revision,
// and toolchain identity. Immutable once a run starts.
type Seed struct {
	Random    int64  `json:"random"`
	Revision  string `json:"revision"`
	Toolchain string `json:"toolchain"`
}

// State is the run's evolving belief/evidence/constraint/artifact state.
//
// State is a pure function of the journal prefix replayed from genesis
// plus the seed context; no hidden state may influence a verdict.
type State struct {
	Hypotheses  []Hypothesis `json:"hypotheses"`
	Evidence    []Evidence   `json:"evidence"`
	Constraints []Constraint `json:"constraints"`
	Artifacts   []Artifact   `json:"artifacts"`

	// JournalTip is the hash of the latest journal entry reflected in
	// this state. Empty before the first append.
	JournalTip string `json:"journal_tip"`

	Env Seed `json:"env"`
}
