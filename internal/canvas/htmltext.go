package canvas

import (
	"regexp"
	"strings"
)

var (
	tagPattern        = regexp.MustCompile(`<[^>]*>`)
	whitespacePattern = regexp.MustCompile(`\s+`)

	// The fixed entity table the app has always decoded. Entities outside
	// this table pass through verbatim.
	entityReplacer = strings.NewReplacer(
		"&nbsp;", " ",
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
	)
)

// CleanDescription converts an HTML assignment description to plain text.
// Tags are replaced with a single space so words on either side of a tag
// boundary stay separated, the fixed entity table is decoded, whitespace
// runs collapse to one space and the result is trimmed. The function is
// total: any input yields a string, never an error.
func CleanDescription(raw string) string {
	if raw == "" {
		return ""
	}
	withoutTags := tagPattern.ReplaceAllString(raw, " ")
	decoded := entityReplacer.Replace(withoutTags)
	collapsed := whitespacePattern.ReplaceAllString(decoded, " ")
	return strings.TrimSpace(collapsed)
}
