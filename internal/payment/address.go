package payment

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/sha3"
)

// ValidAddress reports whether s is a 20-byte hex address. Mixed-case input
// must carry a correct EIP-55 checksum.
func ValidAddress(s string) bool {
	hexPart, ok := strings.CutPrefix(s, "0x")
	if !ok || len(hexPart) != 40 {
		return false
	}
	if _, err := hex.DecodeString(hexPart); err != nil {
		return false
	}
	lower, upper := strings.ToLower(hexPart), strings.ToUpper(hexPart)
	if hexPart == lower || hexPart == upper {
		return true
	}
	return ChecksumAddress(s) == s
}

// ChecksumAddress returns the EIP-55 mixed-case form of a hex address.
// Input that is not a 20-byte hex address is returned unchanged.
func ChecksumAddress(s string) string {
	hexPart, ok := strings.CutPrefix(s, "0x")
	if !ok || len(hexPart) != 40 {
		return s
	}
	lower := strings.ToLower(hexPart)
	if _, err := hex.DecodeString(lower); err != nil {
		return s
	}

	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(lower))
	digest := h.Sum(nil)

	out := []byte(lower)
	for i, c := range out {
		if c < 'a' || c > 'f' {
			continue
		}
		nibble := digest[i/2]
		if i%2 == 0 {
			nibble >>= 4
		}
		if nibble&0x0f >= 8 {
			out[i] = c - 'a' + 'A'
		}
	}
	return "0x" + string(out)
}
