package ocr

import (
	"strings"
	"unicode"
)

// CleanField normalizes recognized text according to the field name.
//
// Names are matched case-insensitively by substring:
//   - "sbd", "id" or "code": keep digits only
//   - "name" or "ten": drop punctuation, collapse spaces, title case
//   - anything else: collapse runs of whitespace to one space
//
// Example:
//
//	CleanField("student_id", " 12-34 5\n")   // "12345"
//	CleanField("full_name", "nguyen VAN a.") // "Nguyen Van A"
func CleanField(name, raw string) string {
	key := strings.ToLower(name)
	text := strings.TrimSpace(raw)

	switch {
	case strings.Contains(key, "sbd"), strings.Contains(key, "id"), strings.Contains(key, "code"):
		return digitsOnly(text)
	case strings.Contains(key, "name"), strings.Contains(key, "ten"):
		return titleCase(collapseSpace(stripPunct(text)))
	default:
		return collapseSpace(text)
	}
}

func digitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}

// stripPunct keeps letters, digits, combining marks, underscores and spaces.
func stripPunct(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r) || unicode.IsSpace(r) || r == '_' {
			return r
		}
		return -1
	}, s)
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// titleCase upper-cases the first letter of every word and lower-cases the rest.
func titleCase(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	inWord := false
	for _, r := range s {
		switch {
		case unicode.IsLetter(r):
			if inWord {
				sb.WriteRune(unicode.ToLower(r))
			} else {
				sb.WriteRune(unicode.ToUpper(r))
			}
			inWord = true
		case unicode.IsMark(r):
			sb.WriteRune(r)
		default:
			sb.WriteRune(r)
			inWord = false
		}
	}
	return sb.String()
}
