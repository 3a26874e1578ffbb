// Package auditpack assembles a finished run into a single
// self-verifying bundle: every PCAP, the journal slice from genesis,
// summary metrics, and an attestation over the whole content.
//
// A pack is verifiable offline. VerifyPack needs nothing but the pack
// bytes: it recomputes the attestation digest, re-walks the journal
// chain, recomputes every PCAP ID, and re-derives the derivable
// metrics. Flipping a single byte anywhere in the attested content
// changes the digest and fails verification.
package auditpack
