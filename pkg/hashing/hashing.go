package hashing

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"strconv"

	"github.com/dmitrymomot/flagkit/pkg/identity"
)

// Algorithm identifies the hash scheme used for gate and config names on the
// wire. The server echoes back the scheme it applied, and cached entries may
// have been written under any of them, so the store supports all three
// simultaneously.
type Algorithm string

const (
	// AlgorithmNone leaves names unhashed.
	AlgorithmNone Algorithm = "none"
	// AlgorithmDJB2 is a 32-bit non-cryptographic hash, cheap enough for
	// per-lookup use.
	AlgorithmDJB2 Algorithm = "djb2"
	// AlgorithmSHA256 is the cryptographic scheme, base64-encoded.
	AlgorithmSHA256 Algorithm = "sha256"
)

// Algorithms lists every supported scheme, newest first. Lookups that must
// tolerate mixed-scheme caches iterate this slice.
var Algorithms = []Algorithm{AlgorithmDJB2, AlgorithmSHA256, AlgorithmNone}

// Digest hashes a gate/config name under the given algorithm. Unknown
// algorithms fall back to the unhashed name so a newer server scheme degrades
// to a cache miss rather than an error.
func Digest(name string, algo Algorithm) string {
	switch algo {
	case AlgorithmDJB2:
		return DJB2(name)
	case AlgorithmSHA256:
		return SHA256Base64(name)
	default:
		return name
	}
}

// DJB2 computes the classic djb2 hash of s and returns it as a decimal
// string, matching the wire representation of hashed keys.
func DJB2(s string) string {
	var h uint32 = 0
	for i := 0; i < len(s); i++ {
		h = (h << 5) - h + uint32(s[i])
	}
	return strconv.FormatUint(uint64(h), 10)
}

// SHA256Base64 returns the base64-encoded SHA-256 digest of s.
func SHA256Base64(s string) string {
	sum := sha256.Sum256([]byte(s))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// BucketHash maps s onto a 64-bit space for deterministic bucketing. The
// first eight bytes of the SHA-256 digest are interpreted big-endian; callers
// reduce the result mod 10000 (rule pass percentage) or mod 1000 (user
// bucket conditions).
func BucketHash(s string) uint64 {
	sum := sha256.Sum256([]byte(s))
	return binary.BigEndian.Uint64(sum[:8])
}

// KeySet holds the cache key for one identity under every historical key
// scheme, oldest to newest. All three are retained indefinitely: a cache
// written by an old SDK build must stay readable, and migration happens
// lazily on access rather than as a batch job.
type KeySet struct {
	V1 string
	V2 string
	V3 string
}

// All returns the keys newest-first, the order reads should probe them in.
func (k KeySet) All() []string {
	return []string{k.V3, k.V2, k.V1}
}

// CacheKeys derives the per-identity cache keys. The identity subset is
// serialized canonically (sorted custom IDs) before hashing; see
// identity.CanonicalIdentity. Scheme history:
//
//	v1: identity + stable ID + SDK key, djb2 over a pipe-joined tuple
//	v2: dropped the SDK key (multiple SDK keys then collided on one entry)
//	v3: SDK key restored, fields labeled so empty segments cannot alias
func CacheKeys(stableID string, user *identity.User, sdkKey string) KeySet {
	canon := user.CanonicalIdentity()
	return KeySet{
		V1: DJB2(canon + "|" + stableID + "|" + sdkKey),
		V2: DJB2(canon + "|" + stableID),
		V3: DJB2("ids:" + canon + "|sid:" + stableID + "|k:" + sdkKey),
	}
}
