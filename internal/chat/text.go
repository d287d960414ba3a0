package chat

import "regexp"

var whitespaceRun = regexp.MustCompile(`\s+`)

// CleanText collapses whitespace runs, newlines included, into single
// spaces. Inbound text is normalized before it reaches the models so
// copy-pasted documents do not carry layout artifacts into the analysis.
func CleanText(text string) string {
	return whitespaceRun.ReplaceAllString(text, " ")
}
