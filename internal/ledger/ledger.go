// Package ledger implements the prime-partitioned custody chain for a
// virtual case file.
//
// Identifiers live in one half of the integers and proof-of-work nonces in
// the other: every case and entry id is prime, every mined nonce is not.
// The spaces never overlap, so an identifier can never be mistaken for a
// nonce no matter where it turns up.
//
// Entries are hash-linked. The genesis entry anchors on ZeroDigest (64 hex
// zeros) and every later entry records its predecessor's digest. Validate
// walks the whole chain and reports every broken predicate; an invalid
// chain is evidence to present, not an error to throw.
package ledger
