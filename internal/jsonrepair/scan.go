package jsonrepair

// scanBalanced returns the index just past the bracket that closes the one
// at s[start]. String literals and escapes are respected.
func scanBalanced(s string, start int) (int, bool) {
	if start < 0 || start >= len(s) || (s[start] != '{' && s[start] != '[') {
		return 0, false
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
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
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}

// closersFor returns the brackets needed to balance prefix. It fails when
// prefix ends inside a string literal or closes more than it opens.
func closersFor(prefix string) (string, bool) {
	var stack []byte
	inString, escaped := false, false
	for i := 0; i < len(prefix); i++ {
		c := prefix[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return "", false
			}
			stack = stack[:len(stack)-1]
		}
	}
	if inString {
		return "", false
	}
	out := make([]byte, len(stack))
	for i := range stack {
		out[i] = stack[len(stack)-1-i]
	}
	return string(out), true
}

// lastCompleteElement scans the array opened at s[open] and returns the index
// just past its last fully closed object element. When the array itself is
// closed, the index just past its ']' is returned. With no complete element
// the index just past '[' is returned.
func lastCompleteElement(s string, open int) int {
	depth := 0
	lastEnd := open + 1
	inString, escaped := false, false
	for i := open + 1; i < len(s); i++ {
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
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth < 0 {
				return i + 1
			}
			if depth == 0 && c == '}' {
				lastEnd = i + 1
			}
		}
	}
	return lastEnd
}

// lastCloseOutsideString returns the index just past the last '}' or ']'
// that is not inside a string literal, or -1.
func lastCloseOutsideString(s string) int {
	last := -1
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
			continue
		}
		switch c {
		case '"':
			inString = true
		case '}', ']':
			last = i + 1
		}
	}
	return last
}
