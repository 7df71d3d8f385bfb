package chat

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Filter masks forbidden substrings regardless of case.
type Filter struct {
	re *regexp.Regexp
}

// NewFilter compiles words into a filter. Blank words are ignored.
func NewFilter(words []string) *Filter {
	var quoted []string
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		quoted = append(quoted, regexp.QuoteMeta(w))
	}
	if len(quoted) == 0 {
		return &Filter{}
	}
	return &Filter{re: regexp.MustCompile(`(?i)` + strings.Join(quoted, "|"))}
}

// Apply returns content with every forbidden match replaced by asterisks, and whether
// anything was masked.
func (f *Filter) Apply(content string) (string, bool) {
	if f == nil || f.re == nil {
		return content, false
	}
	censored := false
	out := f.re.ReplaceAllStringFunc(content, func(m string) string {
		censored = true
		return strings.Repeat("*", utf8.RuneCountInString(m))
	})
	return out, censored
}
