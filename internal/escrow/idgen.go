package escrow

import (
	"crypto/rand"
)

// IDAlphabet drops I, O, 0 and 1 so ids survive being read aloud or retyped.
const IDAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// IDLength is the number of symbols in a trade id.
const IDLength = 8

// RandomIDs draws ids from crypto/rand.
type RandomIDs struct{}

// NewID returns IDLength symbols from IDAlphabet. The alphabet has 32
// entries, so masking a random byte to 5 bits is unbiased.
func (RandomIDs) NewID() string {
	var buf [IDLength]byte
	_, _ = rand.Read(buf[:])
	for i, b := range buf {
		buf[i] = IDAlphabet[b&31]
	}
	return string(buf[:])
}

// ValidID reports whether s could have been issued by RandomIDs.
func ValidID(s string) bool {
	if len(s) != IDLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		found := false
		for j := 0; j < len(IDAlphabet); j++ {
			if s[i] == IDAlphabet[j] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
