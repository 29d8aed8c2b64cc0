package oracle

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	tripleNewlines = regexp.MustCompile(`\n{3,}`)
)

// StripFences removes a surrounding ```json or ``` markdown fence.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, "```json"):
		s = s[len("```json"):]
	case strings.HasPrefix(s, "```"):
		s = s[len("```"):]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// Tidy normalises a finished narrative: blank-line runs become single line
// breaks.
func Tidy(text string) string {
	text = tripleNewlines.ReplaceAllString(text, "\n\n")
	text = strings.ReplaceAll(text, "\n\n", "\n")
	return strings.TrimSpace(text)
}

// newlineCollapser forwards streamed tokens to a sink, folding every run of
// newlines into a single one even when the run spans tokens.
type newlineCollapser struct {
	sink    TokenSink
	pending bool
	started bool
}

func (c *newlineCollapser) Write(token string) {
	if c.sink == nil || token == "" {
		return
	}
	var b strings.Builder
	for _, r := range token {
		if r == '\n' {
			c.pending = true
			continue
		}
		if c.pending && c.started {
			b.WriteByte('\n')
		}
		c.pending = false
		c.started = true
		b.WriteRune(r)
	}
	if b.Len() > 0 {
		c.sink(b.String())
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func parseInt(s string) (int64, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return n, err == nil
}
