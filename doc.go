// Package tagsync replicates small per-player identity profiles across
// an open set of peers sharing a narrow, rate-limited broadcast channel
// with no central server and no delivery guarantees.
//
// # Protocol
//
// Every message is a CBOR map, optionally snappy-compressed, armored in
// base64, framed as [version][flags][payload], and capped at 255 bytes.
// Wire keys have a short form ("bt") and a verbose form ("battleTag");
// inbound maps are normalized once at the decode boundary.
//
// Message kinds, by type tag:
//
//	m  MANIFEST        broadcast of one's own profile summary
//	rc REQUEST_CHARS   ask a peer for their characters after a cutoff
//	au ALIAS_UPDATE    replicated alias for any profile, LWW-merged
//	cu CHARS_UPDATE    replicated characters, merged by set union
//	gd GOSSIP_DIGEST   summary of third-party profiles the sender holds
//	gr GOSSIP_REQUEST  ask for a profile the digest showed us missing
//	by GOODBYE         logout notice, prunes the roster promptly
//
// # Convergence
//
// Profiles converge because every merge is commutative and idempotent:
// aliases are timestamp-gated overwrites, character sets only grow.
// The gossip ledger records what each peer has been told about each
// profile, suppressing redundant digests; stale digests trigger either
// a delta request or an unsolicited correction, deduplicated per
// session. Loss anywhere degrades to "nothing happened this round" and
// the periodic manifest re-announce tries again.
package tagsync
