package keys

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/crypto/sha3"
)

// Keccak256 is the legacy Keccak hash used for addresses and signing digests.
func Keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

// Address derives the EIP-55 checksummed address of pub.
func Address(pub *secp256k1.PublicKey) string {
	uncompressed := pub.SerializeUncompressed()
	raw := Keccak256(uncompressed[1:])[12:]
	return checksum(hex.EncodeToString(raw))
}

// checksum applies EIP-55 mixed-case encoding to a 40-char lowercase hex
// address without prefix.
func checksum(lower string) string {
	hash := hex.EncodeToString(Keccak256([]byte(lower)))
	var b strings.Builder
	b.Grow(42)
	b.WriteString("0x")
	for i, c := range lower {
		if c >= 'a' && c <= 'f' && hash[i] >= '8' {
			b.WriteRune(c - 'a' + 'A')
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

// ValidChecksum reports whether a mixed-case address carries a correct
// EIP-55 checksum. All-lowercase and all-uppercase addresses carry none and
// are accepted.
func ValidChecksum(addr string) bool {
	body, ok := strings.CutPrefix(addr, "0x")
	if !ok || len(body) != 40 {
		return false
	}
	if _, err := hex.DecodeString(body); err != nil {
		return false
	}
	if body == strings.ToLower(body) || body == strings.ToUpper(body) {
		return true
	}
	return checksum(strings.ToLower(body)) == addr
}

// Fingerprint returns the first 8 bytes of SHA-256 over the compressed public
// key, formatted as XXXX:XXXX:XXXX:XXXX.
func Fingerprint(pub *secp256k1.PublicKey) string {
	sum := sha256.Sum256(pub.SerializeCompressed())
	h := strings.ToUpper(hex.EncodeToString(sum[:8]))
	return h[0:4] + ":" + h[4:8] + ":" + h[8:12] + ":" + h[12:16]
}
