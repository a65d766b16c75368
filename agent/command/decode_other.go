//go:build !windows

package command

import (
	"strings"
	"unicode/utf8"
)

// decodeOutput returns command output as UTF-8, replacing any invalid
// sequences.
func decodeOutput(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return strings.ToValidUTF8(string(b), "�")
}
