package querykey

import "github.com/cespare/xxhash/v2"

// Hash returns a 64-bit non-cryptographic fingerprint of sql. Callers
// normalize first — Hash itself does not normalize — so that
// Hash(Normalize(a)) == Hash(Normalize(b)) whenever Normalize(a) ==
// Normalize(b), per the normalizer's contract.
func Hash(sql string) uint64 {
	return xxhash.Sum64String(sql)
}

// Fingerprint hashes an already-JSON-encoded row for the evaluator's
// identity-less multiset diff (§4.5): two rows with byte-identical
// canonical encodings fingerprint the same, and the diff is then over
// multiset occurrence counts, never row identity, per the "distinct"
// interpretation chosen for content-identical rows.
func Fingerprint(canonicalRowJSON []byte) uint64 {
	return xxhash.Sum64(canonicalRowJSON)
}
