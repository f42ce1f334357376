package export

import (
	"strings"
	"unicode"
)

// SanitizeName drops control characters and replaces anything outside a
// conservative set with '_', for EDL fields and download file names.
func SanitizeName(s string, maxLen int) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsControl(r) {
			continue
		}
		if isAllowedNameRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}

	cleaned := strings.TrimSpace(b.String())
	if maxLen > 0 {
		runes := []rune(cleaned)
		if len(runes) > maxLen {
			cleaned = string(runes[:maxLen])
		}
	}
	return cleaned
}

func isAllowedNameRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case ' ', '-', '_', '.', ',', '(', ')':
		return true
	default:
		return false
	}
}

// FileName turns a composition title into a download file name.
func FileName(title, ext string) string {
	name := SanitizeName(title, 80)
	name = strings.Join(strings.Fields(name), "_")
	name = strings.Trim(name, "._")
	if name == "" {
		name = "composition"
	}
	return name + ext
}
