package auditpack

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/veridical/pact/internal/canon"
	"github.com/veridical/pact/internal/journal"
	"github.com/veridical/pact/internal/pcap"
	"github.com/veridical/pact/internal/plan"
	"github.com/veridical/pact/internal/state"
)

// Signer signs and verifies pack digests. Signing is optional; an
// unsigned pack still carries a verifiable digest, a signature
// additionally binds it to a key holder.
type Signer interface {
	Sign(digest string) (string, error)
	Verify(digest, signature string) error
}

// HMACSigner signs digests with HMAC-SHA256 under a shared key.
type HMACSigner struct {
	key []byte
}

// NewHMACSigner creates a signer over the given key.
func NewHMACSigner(key []byte) (*HMACSigner, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("hmac signer: empty key")
	}
	return &HMACSigner{key: key}, nil
}

// Sign implements Signer.
func (s *HMACSigner) Sign(digest string) (string, error) {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(digest))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify implements Signer.
func (s *HMACSigner) Verify(digest, signature string) error {
	want, err := s.Sign(digest)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(want), []byte(signature)) {
		return fmt.Errorf("signature does not match digest")
	}
	return nil
}

// Assembler builds audit packs from a finished run's journal and PCAP
// store.
type Assembler struct {
	journal   *journal.Journal
	pcaps     *pcap.Store
	builderID string
	signer    Signer
	now       func() time.Time
	newID     func() string
}

// AssemblerOption configures an Assembler.
type AssemblerOption func(*Assembler)

// WithSigner adds a signature over the attestation digest.
func WithSigner(s Signer) AssemblerOption {
	return func(a *Assembler) {
		a.signer = s
	}
}

// WithAssemblyClock overrides the attestation timestamp source.
func WithAssemblyClock(now func() time.Time) AssemblerOption {
	return func(a *Assembler) {
		a.now = now
	}
}

// WithAttestationID overrides the attestation ID source. Tests use a
// fixed source; production IDs are time-ordered UUIDs.
func WithAttestationID(newID func() string) AssemblerOption {
	return func(a *Assembler) {
		a.newID = newID
	}
}

// NewAssembler creates an assembler over a run's journal and PCAP
// store. builderID identifies the assembling host or service in the
// attestation.
func NewAssembler(j *journal.Journal, pcaps *pcap.Store, builderID string, opts ...AssemblerOption) (*Assembler, error) {
	if builderID == "" {
		return nil, fmt.Errorf("assembler: empty builder ID")
	}
	a := &Assembler{
		journal:   j,
		pcaps:     pcaps,
		builderID: builderID,
		now:       time.Now,
		newID: func() string {
			id, err := uuid.NewV7()
			if err != nil {
				return uuid.New().String()
			}
			return id.String()
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Assemble collects the run's journal entries and PCAPs, derives
// metrics, and seals the bundle under an attestation digest. The
// journal chain is verified before assembly: a pack is never built
// over a broken chain.
func (a *Assembler) Assemble(runID string, seed state.Seed, p plan.Plan, result *plan.RunResult) (*Pack, error) {
	entries := a.journal.Entries()
	if len(entries) == 0 {
		return nil, fmt.Errorf("assemble %s: journal is empty", runID)
	}
	if err := journal.VerifyEntries(entries); err != nil {
		return nil, fmt.Errorf("assemble %s: %w", runID, err)
	}

	records, err := a.pcaps.List()
	if err != nil {
		return nil, fmt.Errorf("assemble %s: %w", runID, err)
	}

	metrics := deriveMetrics(entries, records)
	if result != nil {
		metrics.Replans = int64(result.Replans)
		for _, r := range result.Records {
			metrics.DeltaMillis = append(metrics.DeltaMillis, r.DeltaMillis)
		}
	}

	pack := &Pack{
		RunID:   runID,
		Seed:    seed,
		Plan:    p,
		Entries: entries,
		PCAPs:   records,
		Metrics: metrics,
	}

	digest, err := pack.Digest()
	if err != nil {
		return nil, fmt.Errorf("assemble %s: %w", runID, err)
	}

	att := Attestation{
		ID:        a.newID(),
		Digest:    digest,
		Algorithm: canon.Algorithm,
		BuilderID: a.builderID,
		Timestamp: a.now().UTC(),
	}
	if a.signer != nil {
		sig, err := a.signer.Sign(digest)
		if err != nil {
			return nil, fmt.Errorf("assemble %s: sign: %w", runID, err)
		}
		att.Signature = sig
	}
	pack.Attestation = att

	slog.Info("audit pack assembled",
		"run_id", runID,
		"entries", len(entries),
		"pcaps", len(records),
		"digest", digest[:12],
	)
	return pack, nil
}

// WritePack serializes a pack to a JSON file.
func WritePack(p *Pack, path string) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("write pack: %w", err)
	}
	data = append(data, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write pack %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("write pack %s: %w", path, err)
	}
	return nil
}

// LoadPack reads a pack file without verifying it. Callers that need
// trust call VerifyPack on the result.
func LoadPack(path string) (*Pack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load pack %s: %w", path, err)
	}
	var p Pack
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("load pack %s: %w", path, err)
	}
	return &p, nil
}
