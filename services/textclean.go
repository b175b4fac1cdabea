package services

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	ligatures = strings.NewReplacer(
		"ﬁ", "fi",
		"ﬂ", "fl",
		"ﬀ", "ff",
		"ﬃ", "ffi",
		"ﬄ", "ffl",
		"\u200b", "",
		"\ufeff", "",
	)
	spaceRE       = regexp.MustCompile(`[\t\f\v]+`)
	multiSpaceRE  = regexp.MustCompile(` {2,}`)
	multiNewlines = regexp.MustCompile(`\n{3,}`)
)

// CleanText normalisiert Unicode (NFKC), ersetzt Ligaturen und reduziert Leerraum.
// Absätze (doppelte Zeilenumbrüche) bleiben erhalten.
func CleanText(s string) string {
	if s == "" {
		return ""
	}
	s = ligatures.Replace(s)
	s, _, _ = transform.String(norm.NFKC, s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = spaceRE.ReplaceAllString(s, " ")
	s = multiSpaceRE.ReplaceAllString(s, " ")

	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimFunc(lines[i], unicode.IsSpace)
	}
	s = strings.Join(lines, "\n")
	s = multiNewlines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// Truncate kürzt s auf höchstens maxRunes Zeichen, ohne ein UTF-8-Zeichen zu zerschneiden.
func Truncate(s string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	i := 0
	for pos := range s {
		if i == maxRunes {
			return s[:pos]
		}
		i++
	}
	return s
}
