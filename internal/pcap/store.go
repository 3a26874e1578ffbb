package pcap

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Store persists PCAPs as individual JSON documents under a directory,
// one file per record, named by the record's ID.
type Store struct {
	dir string
}

// OpenStore creates or opens a PCAP document directory.
func OpenStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("open pcap store %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Write persists a record. Write-once semantics: an existing document
// with identical content is an idempotent no-op; different content for
// the same ID is a protocol violation.
func (s *Store) Write(p PCAP) error {
	if err := p.Verify(); err != nil {
		return fmt.Errorf("write pcap: %w", err)
	}

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("write pcap %s: %w", p.ID, err)
	}
	data = append(data, '\n')

	path := s.path(p.ID)
	if existing, err := os.ReadFile(path); err == nil {
		if bytes.Equal(existing, data) {
			return nil
		}
		return fmt.Errorf("pcap %s already exists with different content", p.ID)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write pcap %s: %w", p.ID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("write pcap %s: %w", p.ID, err)
	}
	return nil
}

// Load reads a record by ID and verifies its content hash.
func (s *Store) Load(id string) (PCAP, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		return PCAP{}, fmt.Errorf("load pcap %s: %w", id, err)
	}

	var p PCAP
	if err := json.Unmarshal(data, &p); err != nil {
		return PCAP{}, fmt.Errorf("load pcap %s: %w", id, err)
	}
	if err := p.Verify(); err != nil {
		return PCAP{}, fmt.Errorf("load pcap: %w", err)
	}
	return p, nil
}

// List returns all stored records ordered by ID. Binary ID order keeps
// the listing deterministic across replays.
func (s *Store) List() ([]PCAP, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list pcaps: %w", err)
	}

	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)

	records := make([]PCAP, 0, len(ids))
	for _, id := range ids {
		p, err := s.Load(id)
		if err != nil {
			return nil, err
		}
		records = append(records, p)
	}
	return records, nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}
