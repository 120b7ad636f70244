package export

import "strings"

const maxFilenameLen = 50

// sanitizeFilename keeps ASCII letters, digits, '-' and '_' and maps spaces
// to '-'. Empty results fall back to "document".
func sanitizeFilename(title string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r == ' ':
			return '-'
		}
		return -1
	}, title)
	if len(name) > maxFilenameLen {
		name = name[:maxFilenameLen]
	}
	if name == "" {
		return "document"
	}
	return name
}
