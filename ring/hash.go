package ring

import "hash/fnv"

// maxProbe bounds header-dictionary linear probing (spec §9: "bound the
// probe count and fail Corrupt beyond a threshold").
const maxProbe = 4096

// hashHeader computes the deterministic 32-bit header hash (spec §3/§4.2.6).
//
// cloudwego-gopkg's hash/xfnv computes an FNV-family hash eight bytes at a
// time via an unsafe pointer cast, but its doc comment says outright that
// the result "doesn't generate the same result for diff cpu arch" — fatal
// for a hash this module persists to disk and reads back from a different
// process or machine. The standard library's byte-at-a-time FNV-1a
// (hash/fnv) gives the same 32-bit value everywhere, which is what spec §3
// ("identical text yields identical hash") actually requires.
func hashHeader(text string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(text))
	return h.Sum32()
}
