package vehicle

import "strings"

// normalizeJSON5 rewrites the small subset of JSON5 the bus actually emits
// (unquoted object keys, trailing commas, `//` comments) into strict JSON
// that encoding/json can parse. It is not a general JSON5 parser — the bus
// contract only ever uses these three relaxations, so that's all this
// handles.
func normalizeJSON5(in []byte) []byte {
	s := stripComments(string(in))
	s = quoteBareKeys(s)
	s = stripTrailingCommas(s)
	return []byte(s)
}

func stripComments(s string) string {
	var b strings.Builder
	inString := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
			if c == '\\' && i+1 < len(s) {
				i++
				b.WriteByte(s[i])
				continue
			}
			if c == '"' {
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			b.WriteByte(c)
			continue
		}
		if c == '/' && i+1 < len(s) && s[i+1] == '/' {
			for i < len(s) && s[i] != '\n' {
				i++
			}
			if i < len(s) {
				b.WriteByte('\n')
			}
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// quoteBareKeys wraps unquoted object keys (`key:` preceded by `{` or `,`)
// in double quotes.
func quoteBareKeys(s string) string {
	var b strings.Builder
	inString := false
	i := 0
	for i < len(s) {
		c := s[i]
		if inString {
			b.WriteByte(c)
			if c == '\\' && i+1 < len(s) {
				i++
				b.WriteByte(s[i])
			} else if c == '"' {
				inString = false
			}
			i++
			continue
		}
		if c == '"' {
			inString = true
			b.WriteByte(c)
			i++
			continue
		}
		if c == '{' || c == ',' {
			b.WriteByte(c)
			i++
			// skip whitespace
			for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\n' || s[i] == '\r') {
				b.WriteByte(s[i])
				i++
			}
			if i < len(s) && s[i] != '"' && s[i] != '}' && isIdentStart(s[i]) {
				start := i
				for i < len(s) && isIdentPart(s[i]) {
					i++
				}
				b.WriteByte('"')
				b.WriteString(s[start:i])
				b.WriteByte('"')
			}
			continue
		}
		b.WriteByte(c)
		i++
	}
	return b.String()
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// stripTrailingCommas removes a comma that appears immediately before a
// closing `}` or `]`, ignoring whitespace between them.
func stripTrailingCommas(s string) string {
	var b strings.Builder
	inString := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
			if c == '\\' && i+1 < len(s) {
				i++
				b.WriteByte(s[i])
				continue
			}
			if c == '"' {
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			b.WriteByte(c)
			continue
		}
		if c == ',' {
			j := i + 1
			for j < len(s) && (s[j] == ' ' || s[j] == '\t' || s[j] == '\n' || s[j] == '\r') {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}
