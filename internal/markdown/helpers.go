package markdown

import "strings"

const altSpecialChars = `\[]`

// Image renders an inline Markdown image. Brackets in alt are escaped so they cannot close the label.
func Image(alt, src string) string {
	return "![" + EscapeAlt(alt) + "](" + escapeDestination(src) + ")"
}

func EscapeAlt(input string) string {
	input = strings.Join(strings.Fields(input), " ")

	charsToEscape := 0
	for i := range input {
		if strings.IndexByte(altSpecialChars, input[i]) >= 0 {
			charsToEscape++
		}
	}
	if charsToEscape == 0 {
		return input
	}

	var b strings.Builder
	b.Grow(len(input) + charsToEscape)

	for i := range input {
		c := input[i]
		if strings.IndexByte(altSpecialChars, c) >= 0 {
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}

	return b.String()
}

// escapeDestination keeps src literal. Destinations with spaces, parentheses or angle
// brackets use the <...> form, where only the angle brackets need escaping.
func escapeDestination(src string) string {
	src = strings.TrimSpace(src)
	if !strings.ContainsAny(src, " ()<>") {
		return src
	}

	return "<" + strings.NewReplacer("<", `\<`, ">", `\>`).Replace(src) + ">"
}

// Paragraphs splits Markdown into blank-line separated blocks, dropping empty ones.
func Paragraphs(input string) []string {
	input = strings.ReplaceAll(input, "\r\n", "\n")

	var out []string
	for _, p := range strings.Split(input, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}

	return out
}

// Join glues blocks back together with one blank line between them.
func Join(blocks ...string) string {
	var out []string
	for _, b := range blocks {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}

	return strings.Join(out, "\n\n")
}
