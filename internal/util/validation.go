package util

import "unicode"

const maxSessionIDLength = 128

// IsValidSessionID accepts any non-empty opaque identifier made of printable,
// non-space characters.
func IsValidSessionID(s string) bool {
	if s == "" || len(s) > maxSessionIDLength {
		return false
	}
	for _, r := range s {
		if !unicode.IsPrint(r) || unicode.IsSpace(r) {
			return false
		}
	}
	return true
}
