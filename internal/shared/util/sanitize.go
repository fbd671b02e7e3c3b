package util

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var unsafeFileChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// SanitizeMapImageName converts an uploaded file name into a storage-safe
// ASCII name: diacritics are stripped (Vietnamese names are common here),
// remaining non-ASCII runes dropped, and anything outside [a-zA-Z0-9._-]
// replaced with an underscore.
func SanitizeMapImageName(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	ascii, _, err := transform.String(t, strings.TrimSpace(name))
	if err != nil {
		ascii = strings.TrimSpace(name)
	}

	var b strings.Builder
	for _, r := range ascii {
		switch r {
		case 'đ':
			b.WriteRune('d')
		case 'Đ':
			b.WriteRune('D')
		default:
			if r < 128 {
				b.WriteRune(r)
			}
		}
	}

	out := unsafeFileChars.ReplaceAllString(b.String(), "_")
	if out == "" || strings.Trim(out, "._") == "" {
		return "image"
	}
	return out
}
