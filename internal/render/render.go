// Package render expands user supplied templates (paths, file names, daemon option
// values) against the fields of a fetch request.
package render

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

// Error is returned when a template cannot be parsed or executed.
type Error struct {
	Template string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("unable to render %q: %v", e.Template, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Context holds the values a template can reference, e.g. {{ .title }}.
type Context map[string]any

var funcs = template.FuncMap{
	"lower": strings.ToLower,
	"upper": strings.ToUpper,
	"trim":  strings.TrimSpace,
	"scrub": ScrubPath,
}

// Render executes tmpl against ctx. Strings without template actions are returned
// untouched. Referencing a key that is not in ctx is an error.
func Render(tmpl string, ctx Context) (string, error) {
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil
	}

	t, err := template.New("value").Funcs(funcs).Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return "", &Error{Template: tmpl, Err: err}
	}

	var sb strings.Builder
	if err := t.Execute(&sb, map[string]any(ctx)); err != nil {
		return "", &Error{Template: tmpl, Err: err}
	}

	return sb.String(), nil
}

// illegalPathChars are rejected by at least one of the filesystems downloads end up on.
var illegalPathChars = strings.NewReplacer(
	"<", "", ">", "", ":", "", "\"", "", "|", "", "?", "", "*", "",
)

// ScrubPath removes characters that are not valid in file names on common
// filesystems and trims trailing dots and spaces from every path element.
func ScrubPath(p string) string {
	if p == "" {
		return p
	}

	volume := filepath.VolumeName(p)
	rest := illegalPathChars.Replace(p[len(volume):])

	parts := strings.Split(rest, "/")
	for i, part := range parts {
		if part == "." || part == ".." {
			continue
		}

		parts[i] = strings.TrimRight(part, ". ")
	}

	return volume + strings.Join(parts, "/")
}

// ExpandUser replaces a leading "~" with the current user's home directory.
func ExpandUser(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}

	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
