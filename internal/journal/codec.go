package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

// lineSink writes entries to an append-only NDJSON file, one record
// per line. An entry trails in memory while it may still receive a day
// anchor - the last entry of a not-yet-anchored UTC day - so the
// merkle root reaches the file before its line is written. Close
// flushes the remainder unconditionally.
type lineSink struct {
	f       *os.File
	flushed int
}

// flush writes entries in seq order, stopping at the first entry still
// eligible for a day anchor.
func (s *lineSink) flush(entries []Entry, anchored map[string]bool) error {
	for s.flushed < len(entries) {
		e := entries[s.flushed]
		if lastOfDay(entries, s.flushed) && !anchored[e.Day()] {
			break
		}
		if err := s.writeLine(e); err != nil {
			return err
		}
		s.flushed++
	}
	return s.f.Sync()
}

// flushAll writes every remaining entry, anchored or not.
func (s *lineSink) flushAll(entries []Entry) error {
	for ; s.flushed < len(entries); s.flushed++ {
		if err := s.writeLine(entries[s.flushed]); err != nil {
			return err
		}
	}
	return s.f.Sync()
}

func (s *lineSink) writeLine(e Entry) error {
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode entry %s: %w", e.ID, err)
	}
	if _, err := s.f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write entry %s: %w", e.ID, err)
	}
	return nil
}

// lastOfDay reports whether entries[i] is the newest entry of its UTC
// day. Timestamps never decrease, so only the successor needs checking.
func lastOfDay(entries []Entry, i int) bool {
	return i == len(entries)-1 || entries[i+1].Day() != entries[i].Day()
}

func (s *lineSink) close() error {
	return s.f.Close()
}

// Open creates a file-backed journal at path. The file must not
// already exist: a journal file is written exactly once, by one run.
// Use Load to read an existing journal.
func Open(path string, opts ...Option) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}

	j := New(opts...)
	j.sink = &lineSink{f: f}
	return j, nil
}

// Load reads an NDJSON journal file, verifies the full chain, and
// returns a read-only journal. Any broken link fails the load: a
// journal that does not verify must not be extended or trusted.
func Load(path string) (*Journal, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load journal %s: %w", path, err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("load journal %s line %d: %w", path, lineNo, err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("load journal %s: %w", path, err)
	}

	if len(entries) > 0 {
		if err := verifyEntries(entries, 0, int64(len(entries)-1)); err != nil {
			return nil, fmt.Errorf("load journal %s: %w", path, err)
		}
	}

	j := New()
	j.entries = entries
	j.readOnly = true
	for _, e := range entries {
		if e.MerkleRootDay != "" {
			j.anchoredDays[e.Day()] = true
		}
	}
	return j, nil
}
