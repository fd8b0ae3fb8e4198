package bitgrind

import (
	"crypto/sha256"
	"encoding/hex"
	"math/bits"
)

// HashBits is the digest width in bits. An all-zero digest scores the full
// width.
const HashBits = 256

// Score hashes previousHash+identity+nonce and returns the hex digest along
// with its difficulty (leading zero bits). The concatenation order and the
// exact string form of the nonce are part of the wire contract shared with
// the ledger service: the chain file stores this very concatenation, so
// changing it here would invalidate every recorded chain.
func Score(previousHash, identity, nonce string) (string, int) {
	return ScoreLine(previousHash + identity + nonce)
}

// ScoreLine scores a pre-concatenated block line. The ledger resume path
// uses it to recompute the difficulty of a recorded block.
func ScoreLine(line string) (string, int) {
	digest := sha256.Sum256([]byte(line))
	return hex.EncodeToString(digest[:]), LeadingZeroBits(digest[:])
}

// LeadingZeroBits counts the leading zero bits of a digest, scanning from
// the most significant bit of the first byte.
func LeadingZeroBits(digest []byte) int {
	count := 0
	for _, b := range digest {
		if b == 0 {
			count += 8
			continue
		}
		count += bits.LeadingZeros8(b)
		break
	}
	return count
}
