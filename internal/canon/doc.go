// Package canon provides canonical JSON serialization and content hashing
// for every record that participates in the audit chain.
//
// All content-addressed identity in pact is computed the same way:
// RFC 8785 canonical JSON of the record, hashed with SHA-256 under a
// domain-separation prefix. The canonical form forbids floats and nulls,
// sorts object keys by UTF-16 code units, and NFC-normalizes strings, so
// the same logical record always produces the same bytes.
//
// This package imports nothing internal. All other internal packages
// import canon; canon stays the foundational layer with no cycles.
//
// Key constraints:
//   - NO float types in hashed content - scaled int64 (thousandths) instead
//   - NO null values - omit absent fields from the canonical map
//   - Wall-clock timestamps are never part of a canonical map
package canon
