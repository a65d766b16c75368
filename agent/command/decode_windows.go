//go:build windows

package command

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/simplifiedchinese"
)

// decodeOutput returns command output as UTF-8. Console programs on
// localized Windows installs emit the OEM code page; GBK is tried before
// falling back to a lossy conversion.
func decodeOutput(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	if decoded, err := simplifiedchinese.GBK.NewDecoder().Bytes(b); err == nil {
		return string(decoded)
	}
	return strings.ToValidUTF8(string(b), "�")
}
