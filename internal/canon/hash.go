package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainEntry      = "pact/entry/v1"
	DomainPCAP       = "pact/pcap/v1"
	DomainState      = "pact/state/v1"
	DomainSnapshot   = "pact/snapshot/v1"
	DomainPack       = "pact/pack/v1"
	DomainMerkleLeaf = "pact/merkle/leaf/v1"
	DomainMerkleNode = "pact/merkle/node/v1"
)

// Algorithm names the digest scheme used throughout the audit chain.
// Recorded in attestations so verifiers know what to recompute.
const Algorithm = "sha256-jcs-v1"

// HashBytes computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func HashBytes(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Hash canonically marshals v and hashes it under the given domain.
// The result is stable across restarts and replays given the same input.
func Hash(domain string, v any) (string, error) {
	canonical, err := Marshal(v)
	if err != nil {
		return "", fmt.Errorf("canonical hash under %s: %w", domain, err)
	}
	return HashBytes(domain, canonical), nil
}

// MustHash is like Hash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustHash(domain string, v any) string {
	h, err := Hash(domain, v)
	if err != nil {
		panic(err)
	}
	return h
}

// MerkleRoot computes a Merkle root over an ordered list of hex-encoded
// leaf hashes. Leaves and interior nodes use distinct domains so a leaf
// can never be confused with a node. An odd node at any level is
// promoted unpaired. An empty list has no root.
func MerkleRoot(leaves []string) (string, error) {
	if len(leaves) == 0 {
		return "", fmt.Errorf("merkle root of empty leaf set")
	}

	level := make([]string, len(leaves))
	for i, leaf := range leaves {
		level[i] = HashBytes(DomainMerkleLeaf, []byte(leaf))
	}

	for len(level) > 1 {
		next := make([]string, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			next = append(next, HashBytes(DomainMerkleNode, []byte(level[i]+level[i+1])))
		}
		level = next
	}
	return level[0], nil
}
