// Package match implements shell-style file name patterns with fnmatch semantics:
// unlike path.Match, "*" and "?" also match "/", so "*.srt" matches "Subs/en.srt".
package match

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

var cache sync.Map // pattern -> *regexp.Regexp

// Matches reports whether name matches pattern. Matching is case-sensitive. A
// pattern that does not compile, such as "[z-a]", matches nothing; use Validate to
// reject those up front.
func Matches(name, pattern string) bool {
	re, err := compile(pattern)
	if err != nil {
		return false
	}

	return re.MatchString(name)
}

// Validate returns an error naming the first pattern that cannot be compiled.
func Validate(patterns []string) error {
	for _, p := range patterns {
		if _, err := compile(p); err != nil {
			return err
		}
	}

	return nil
}

// Any reports whether name matches at least one of patterns.
func Any(name string, patterns []string) bool {
	for _, p := range patterns {
		if Matches(name, p) {
			return true
		}
	}

	return false
}

func compile(pattern string) (*regexp.Regexp, error) {
	if re, ok := cache.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}

	re, err := regexp.Compile(translate(pattern))
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}

	cache.Store(pattern, re)

	return re, nil
}

// translate converts a glob into an anchored regular expression.
func translate(pattern string) string {
	var sb strings.Builder

	sb.WriteString(`(?s)^`)

	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		switch c := runes[i]; c {
		case '*':
			sb.WriteString(`.*`)
		case '?':
			sb.WriteString(`.`)
		case '[':
			class, next, ok := bracket(runes, i)
			if !ok {
				sb.WriteString(`\[`)

				continue
			}

			sb.WriteString(class)
			i = next
		default:
			sb.WriteString(regexp.QuoteMeta(string(c)))
		}
	}

	sb.WriteString(`$`)

	return sb.String()
}

// bracket parses the character class starting at runes[start] == '['. It returns
// the regexp class, the index of the closing bracket, and false when the class is
// never closed (in which case '[' is literal).
func bracket(runes []rune, start int) (string, int, bool) {
	j := start + 1
	if j < len(runes) && runes[j] == '!' {
		j++
	}

	if j < len(runes) && runes[j] == ']' {
		j++
	}

	for j < len(runes) && runes[j] != ']' {
		j++
	}

	if j >= len(runes) {
		return "", 0, false
	}

	body := runes[start+1 : j]

	var sb strings.Builder

	sb.WriteString("[")

	if len(body) > 0 && body[0] == '!' {
		sb.WriteString("^")
		body = body[1:]
	} else if len(body) > 0 && body[0] == '^' {
		sb.WriteString(`\^`)
		body = body[1:]
	}

	for _, r := range body {
		if r == '\\' || r == '[' || r == ']' {
			sb.WriteRune('\\')
		}

		sb.WriteRune(r)
	}

	sb.WriteString("]")

	return sb.String(), j, true
}
