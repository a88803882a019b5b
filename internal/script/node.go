package script

import "strings"

// Node is one {name: value} directive. Value has surrounding whitespace
// trimmed and escapes removed.
type Node struct {
	Name  string
	Value string
}

// FindNodes scans text left to right and returns its directives in source
// order. Directives do not nest: an unescaped '{' inside a value abandons the
// current candidate and scanning resumes from that brace.
func FindNodes(text string) []Node {
	var nodes []Node
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '\\':
			i++
		case '{':
			node, end, ok := scanNode(text, i)
			if ok {
				nodes = append(nodes, node)
				i = end
			}
		}
	}
	return nodes
}

// scanNode reads a directive starting at the '{' at start and returns the
// index of its closing brace.
func scanNode(text string, start int) (Node, int, bool) {
	i := start + 1
	for i < len(text) && isNameByte(text[i]) {
		i++
	}
	if i == start+1 {
		return Node{}, 0, false
	}
	name := strings.ToLower(text[start+1 : i])

	for i < len(text) && text[i] == ' ' {
		i++
	}
	if i >= len(text) || text[i] != ':' {
		return Node{}, 0, false
	}

	valueStart := i + 1
	for p := valueStart; p < len(text); p++ {
		switch text[p] {
		case '\\':
			p++
		case '{':
			return Node{}, 0, false
		case '}':
			value := unescapeDirective(strings.TrimSpace(text[valueStart:p]))
			return Node{Name: name, Value: value}, p, true
		}
	}
	return Node{}, 0, false
}

func isNameByte(c byte) bool {
	return c == '_' ||
		('a' <= c && c <= 'z') ||
		('A' <= c && c <= 'Z') ||
		('0' <= c && c <= '9')
}

// splitArgs splits a multi-part directive value on && and trims each part.
func splitArgs(value string, n int) []string {
	parts := strings.SplitN(value, "&&", n)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
