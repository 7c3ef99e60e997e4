// Package jsonrepair turns best-effort JSON from a generative model into
// parseable JSON through an ordered series of repair stages.
package jsonrepair

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ErrUnrecoverable is returned when no repair stage yields valid JSON.
// Callers should not retry the same request on it.
var ErrUnrecoverable = errors.New("unrecoverable parse failure")

// Stage names the repair step that produced a result.
type Stage string

const (
	StageDirect      Stage = "direct"
	StageSanitized   Stage = "sanitized"
	StageUnfenced    Stage = "unfenced"
	StageBraceMatch  Stage = "brace_match"
	StageTruncation  Stage = "truncation_repair"
	StageItemSalvage Stage = "item_salvage"
)

// Result is parseable JSON recovered from model output.
type Result struct {
	Text  string
	Value any
	Stage Stage
	// Salvaged is the number of item objects recovered by StageItemSalvage.
	Salvaged int
}

// Repaired reports whether any stage beyond a direct parse was needed.
func (r *Result) Repaired() bool {
	return r.Stage != StageDirect
}

var (
	fenceRe     = regexp.MustCompile("(?s)```[A-Za-z]*[ \t]*\r?\n?(.*?)```")
	openFenceRe = regexp.MustCompile("^\\s*```[A-Za-z]*[ \t]*\r?\n?")
	itemsKeyRe  = regexp.MustCompile(`"(?:line_items|lineItems|items)"\s*:\s*\[`)
	itemStartRe = regexp.MustCompile(`\{\s*"(?:line_number|item_number|item_no|description)"\s*:`)
)

// Repair runs the stages in order and returns the first that parses.
func Repair(raw string) (*Result, error) {
	if v, ok := parse(raw); ok {
		return &Result{Text: strings.TrimSpace(raw), Value: v, Stage: StageDirect}, nil
	}

	sanitized := Sanitize(raw)
	if v, ok := parse(sanitized); ok {
		return &Result{Text: strings.TrimSpace(sanitized), Value: v, Stage: StageSanitized}, nil
	}

	unfenced := StripFences(sanitized)
	if v, ok := parse(unfenced); ok {
		return &Result{Text: unfenced, Value: v, Stage: StageUnfenced}, nil
	}

	if text, ok := extractBalanced(unfenced); ok {
		if v, ok := parse(text); ok {
			return &Result{Text: text, Value: v, Stage: StageBraceMatch}, nil
		}
	}

	if text, ok := repairTruncated(unfenced); ok {
		if v, ok := parse(text); ok {
			return &Result{Text: text, Value: v, Stage: StageTruncation}, nil
		}
	}

	if text, n := salvageItems(unfenced); n > 0 {
		if v, ok := parse(text); ok {
			return &Result{Text: text, Value: v, Stage: StageItemSalvage, Salvaged: n}, nil
		}
	}

	return nil, ErrUnrecoverable
}

// parse accepts only JSON objects and arrays.
func parse(s string) (any, bool) {
	s = strings.TrimSpace(s)
	if s == "" || (s[0] != '{' && s[0] != '[') {
		return nil, false
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	return v, true
}

// StripFences removes a markdown code fence around s. An unterminated
// opening fence (truncated output) is removed as well.
func StripFences(s string) string {
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(openFenceRe.ReplaceAllString(s, ""))
}

func extractBalanced(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	end, ok := scanBalanced(s, start)
	if !ok {
		return "", false
	}
	return s[start:end], true
}

// repairTruncated cuts s back to the last complete line item and appends the
// closers needed to balance what remains.
func repairTruncated(s string) (string, bool) {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return "", false
	}
	body := s[start:]

	// The last items array is the one the cut falls in; earlier ones, such
	// as those of previous sections, are already closed.
	var cut int
	if locs := itemsKeyRe.FindAllStringIndex(body, -1); locs != nil {
		cut = lastCompleteElement(body, locs[len(locs)-1][1]-1)
	} else {
		cut = lastCloseOutsideString(body)
		if cut < 0 {
			return "", false
		}
	}

	prefix := strings.TrimRight(body[:cut], " \t\r\n")
	prefix = strings.TrimRight(strings.TrimSuffix(prefix, ","), " \t\r\n")
	closers, ok := closersFor(prefix)
	if !ok {
		return "", false
	}
	return stripTrailingCommas(prefix + closers), true
}

// salvageItems collects every complete, individually valid item object and
// wraps them in a minimal envelope.
func salvageItems(s string) (string, int) {
	var items []string
	consumed := 0
	for _, loc := range itemStartRe.FindAllStringIndex(s, -1) {
		if loc[0] < consumed {
			continue
		}
		end, ok := scanBalanced(s, loc[0])
		if !ok {
			continue
		}
		candidate := s[loc[0]:end]
		var obj map[string]any
		if err := json.Unmarshal([]byte(candidate), &obj); err != nil {
			continue
		}
		items = append(items, candidate)
		consumed = end
	}
	if len(items) == 0 {
		return "", 0
	}
	return `{"line_items":[` + strings.Join(items, ",") + `]}`, len(items)
}
