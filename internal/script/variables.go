package script

import (
	"encoding/json"
	"regexp"
	"strings"
)

var placeholder = regexp.MustCompile(`(\\?)\{([a-zA-Z0-9_.]+)\}`)

// metaChars are significant to the directive parser.
const metaChars = "{}():|"

// Parse substitutes {variable} placeholders in template with values from
// blocks. Substituted values are escaped so the directive parser treats them
// as plain text. Unknown placeholders are left as written.
func Parse(template string, blocks ...Block) string {
	return substitute(normalize(template), NewEnvironment(blocks...), escapeDirective)
}

// ParseJSON is Parse for templates that are JSON documents: values are
// escaped as JSON string content instead.
func ParseJSON(template string, blocks ...Block) string {
	return substitute(normalize(template), NewEnvironment(blocks...), escapeJSON)
}

// normalize gives a bare {embed} an argument slot.
func normalize(template string) string {
	return strings.ReplaceAll(template, "{embed}", "{embed:0}")
}

func substitute(template string, env Environment, escape func(string) string) string {
	matches := placeholder.FindAllStringSubmatchIndex(template, -1)
	if len(matches) == 0 {
		return template
	}

	var sb strings.Builder
	sb.Grow(len(template))
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		sb.WriteString(template[last:start])
		last = end
		if m[3] > m[2] {
			// \{name} is an escaped literal.
			sb.WriteString(template[start:end])
			continue
		}
		value, ok := env[alias(template[m[4]:m[5]])]
		if !ok {
			sb.WriteString(template[start:end])
			continue
		}
		sb.WriteString(escape(value))
	}
	sb.WriteString(template[last:])
	return sb.String()
}

// alias maps {author.*} and {member.*} onto the user namespace.
func alias(name string) string {
	root, rest, dotted := strings.Cut(name, ".")
	if root != "author" && root != "member" {
		return name
	}
	if !dotted {
		return "user"
	}
	return "user." + rest
}

// escapeDirective backslash-escapes directive meta characters and the
// backslash itself, so any value survives the node parser unchanged.
func escapeDirective(s string) string {
	if !strings.ContainsAny(s, metaChars+`\`) {
		return s
	}
	var sb strings.Builder
	sb.Grow(len(s) + 8)
	for _, r := range s {
		if r == '\\' || strings.ContainsRune(metaChars, r) {
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// unescapeDirective reverses escapeDirective. A backslash before anything
// other than a meta character or another backslash is kept.
func unescapeDirective(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) && (s[i+1] == '\\' || strings.IndexByte(metaChars, s[i+1]) >= 0) {
			i++
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}

func escapeJSON(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return s
	}
	return string(b[1 : len(b)-1])
}
