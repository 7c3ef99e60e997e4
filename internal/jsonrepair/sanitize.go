package jsonrepair

import (
	"encoding/json"
	"regexp"
	"strings"
)

// sensitiveValueRe matches unquoted values of fields whose values look like
// identifiers (A-105, 01-002, 3B) and break strict JSON.
var sensitiveValueRe = regexp.MustCompile(
	`("(?:line_number|item_number|item_no|revision|rev|spec|specification|standard|grade|size|size1|size2)"\s*:\s*)` +
		`([A-Za-z0-9][A-Za-z0-9 ._/#\-]*?)` +
		`(\s*(?:[,}\]\r\n]|$))`)

// Sanitize strips comments and trailing commas and quotes unquoted
// identifier-like values in known fields. It is idempotent on text already
// free of comments and trailing commas.
func Sanitize(s string) string {
	s = stripComments(s)
	s = stripTrailingCommas(s)
	return quoteSensitiveValues(s)
}

func stripComments(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			b.WriteByte(c)
			continue
		}
		if c == '"' {
			inString = true
			b.WriteByte(c)
			continue
		}
		if c == '/' && i+1 < len(s) {
			switch s[i+1] {
			case '/':
				// scheme separators such as http:// stay
				if i > 0 && s[i-1] == ':' {
					b.WriteByte(c)
					continue
				}
				for i < len(s) && s[i] != '\n' {
					i++
				}
				if i < len(s) {
					b.WriteByte('\n')
				}
				continue
			case '*':
				end := strings.Index(s[i+2:], "*/")
				if end < 0 {
					return b.String()
				}
				i += end + 3
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

func stripTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			b.WriteByte(c)
			continue
		}
		if c == '"' {
			inString = true
		}
		if c == ',' {
			j := i + 1
			for j < len(s) && isSpace(s[j]) {
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

func quoteSensitiveValues(s string) string {
	return sensitiveValueRe.ReplaceAllStringFunc(s, func(m string) string {
		sub := sensitiveValueRe.FindStringSubmatch(m)
		if len(sub) != 4 || isJSONLiteral(sub[2]) {
			return m
		}
		return sub[1] + `"` + sub[2] + `"` + sub[3]
	})
}

func isJSONLiteral(v string) bool {
	switch v {
	case "true", "false", "null":
		return true
	}
	var f float64
	return json.Unmarshal([]byte(v), &f) == nil
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
