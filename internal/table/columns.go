package table

import (
	"fmt"
	"regexp"

	"github.com/agext/levenshtein"

	"smartmetal/internal/domain"
)

// maxHeaderScan is how many rows after the first may hold the real header
// when title rows precede it.
const maxHeaderScan = 3

// DefaultFuzzyThreshold is the minimum similarity for a fuzzy role match.
const DefaultFuzzyThreshold = 0.6

type roleRule struct {
	role       domain.ColumnRole
	patterns   []*regexp.Regexp
	vocabulary []string
}

func patterns(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}

// roleRules is evaluated in domain.RolePriority order against normalized
// header text.
var roleRules = []roleRule{
	{
		role: domain.RoleItemNumber,
		patterns: patterns(
			`^(item|itm|pos|position|serial|sr|sl|s)\.?\s*(no|nos|num|number|#)?$`,
			`^line\s*item(\s*(no|#|number))?$`,
			`^(no|#|s/n|sn)$`,
		),
		vocabulary: []string{"item", "item no", "s no", "sr no", "sl no", "pos"},
	},
	{
		role: domain.RoleDescription,
		patterns: patterns(
			`\bdesc(ription|r)?\b`,
			`^(details?|particulars|nomenclature|item\s+details|material\s+details|item\s+name|product\s+name)$`,
		),
		vocabulary: []string{"description", "item description", "material description", "details", "particulars"},
	},
	{
		role: domain.RoleQuantity,
		patterns: patterns(
			`^(qty|qnty|qnt|quantity|quan)\b`,
			`\b(qty|quantity)$`,
			`^(nos|no\s+of\s+(units|pcs|items))$`,
			`^(total|grand\s+total)(\s+(req(uired)?|nos|pcs))?$`,
		),
		vocabulary: []string{"qty", "quantity", "total qty", "required qty"},
	},
	{
		role: domain.RoleUnit,
		patterns: patterns(
			`^(unit|units|uom|u\.?o\.?m|u/m|um|measure|unit\s+of\s+measure(ment)?)$`,
		),
		vocabulary: []string{"unit", "uom", "units"},
	},
	{
		role: domain.RoleSize1,
		patterns: patterns(
			`^(size|sizes|size\s*(1|a)|main\s+size|nominal\s+size|nom\.?\s*size|nps|nb|dn|od|dia|diameter)$`,
		),
		vocabulary: []string{"size", "nominal size"},
	},
	{
		role: domain.RoleSize2,
		patterns: patterns(
			`^(size\s*(2|b)|branch\s+size|red(ucing|\.)?\s*size|run\s+size|second\s+size)$`,
		),
		vocabulary: []string{"size 2", "branch size"},
	},
	{
		role: domain.RoleSpecification,
		patterns: patterns(
			`\bspec(ification)?s?\b`,
			`^(standard|std|stds|grade|material|material\s+grade|moc|class|rating|schedule|sch|thk|thickness|wall\s+thk|end\s+type|ends|mds|pms|piping\s+class|material\s+of\s+construction)$`,
		),
		vocabulary: []string{"specification", "standard", "grade", "material"},
	},
	{
		role: domain.RoleNotes,
		patterns: patterns(
			`^(note|notes|remark|remarks|comment|comments|observations?|additional\s+info(rmation)?)$`,
		),
		vocabulary: []string{"notes", "remarks", "comments"},
	},
	{
		role: domain.RoleRevision,
		patterns: patterns(
			`^(rev|revision)(\s*(no|#))?$`,
		),
		vocabulary: []string{"revision", "rev"},
	},
	{
		role: domain.RoleGroup,
		patterns: patterns(
			`^(group|grp|section|category|cat|area|system|sub\s*system|discipline|commodity\s+group)$`,
		),
		vocabulary: []string{"group", "section", "category"},
	},
}

// matchRole returns the first role, in priority order, whose patterns match
// the normalized header h.
func matchRole(h string) (domain.ColumnRole, bool) {
	if h == "" {
		return "", false
	}
	for _, rule := range roleRules {
		for _, p := range rule.patterns {
			if p.MatchString(h) {
				return rule.role, true
			}
		}
	}
	return "", false
}

// fuzzyRole scores h against every role vocabulary and returns the best role
// at or above threshold.
func fuzzyRole(h string, threshold float64) (domain.ColumnRole, float64, bool) {
	if len(h) < 3 {
		return "", 0, false
	}
	var best domain.ColumnRole
	bestScore := 0.0
	for _, rule := range roleRules {
		for _, term := range rule.vocabulary {
			if s := levenshtein.Similarity(h, term, nil); s > bestScore {
				best, bestScore = rule.role, s
			}
		}
	}
	if bestScore < threshold {
		return "", bestScore, false
	}
	return best, bestScore, true
}

// HeaderMatch is the result of mapping a table's header.
type HeaderMatch struct {
	HeaderRow int
	DataStart int
	Columns   domain.ColumnMap
	Headers   []string
	Fuzzy     bool
}

// strictAssign maps one header row using the pattern tables only.
func strictAssign(row []string) map[domain.ColumnRole]int {
	assign := make(map[domain.ColumnRole]int)
	for col, cell := range row {
		role, ok := matchRole(NormalizeHeader(cell))
		if !ok {
			continue
		}
		if _, taken := assign[role]; taken {
			if role != domain.RoleSize1 {
				continue
			}
			role = domain.RoleSize2
			if _, taken := assign[role]; taken {
				continue
			}
		}
		assign[role] = col
	}
	return assign
}

// fuzzyFill assigns still-missing roles to unassigned columns by vocabulary
// similarity. Higher priority roles claim columns first.
func fuzzyFill(row []string, assign map[domain.ColumnRole]int, threshold float64) bool {
	used := make(map[int]bool, len(assign))
	for _, col := range assign {
		used[col] = true
	}
	type hit struct {
		col   int
		score float64
	}
	best := make(map[domain.ColumnRole]hit)
	for col, cell := range row {
		if used[col] {
			continue
		}
		role, score, ok := fuzzyRole(NormalizeHeader(cell), threshold)
		if !ok {
			continue
		}
		if _, have := assign[role]; have {
			continue
		}
		if cur, seen := best[role]; !seen || score > cur.score {
			best[role] = hit{col: col, score: score}
		}
	}
	added := false
	for _, role := range domain.RolePriority {
		h, ok := best[role]
		if !ok || used[h.col] {
			continue
		}
		assign[role] = h.col
		used[h.col] = true
		added = true
	}
	return added
}

func complete(assign map[domain.ColumnRole]int) bool {
	_, d := assign[domain.RoleDescription]
	_, q := assign[domain.RoleQuantity]
	return d && q
}

// detectHeader finds the header row among the first rows of t. It returns
// the best partial assignment even when mapping is incomplete.
func detectHeader(t *domain.Table, fuzzyThreshold float64) (int, map[domain.ColumnRole]int, bool, bool) {
	last := maxHeaderScan
	if last > len(t.Rows)-1 {
		last = len(t.Rows) - 1
	}

	bestRow, bestAssign := 0, map[domain.ColumnRole]int{}
	for r := 0; r <= last; r++ {
		assign := strictAssign(t.Rows[r])
		if complete(assign) {
			return r, assign, false, true
		}
		if len(assign) > len(bestAssign) {
			bestRow, bestAssign = r, assign
		}
	}

	for r := 0; r <= last; r++ {
		assign := strictAssign(t.Rows[r])
		if fuzzyFill(t.Rows[r], assign, fuzzyThreshold) && complete(assign) {
			return r, assign, true, true
		}
	}
	return bestRow, bestAssign, false, false
}

// MapHeader builds the ColumnMap for table index idx. It returns a
// *domain.TableRejectedError when neither strict nor fuzzy matching finds
// both a description and a quantity column.
func MapHeader(t *domain.Table, idx int, fuzzyThreshold float64) (*HeaderMatch, error) {
	if len(t.Rows) == 0 {
		return nil, &domain.TableRejectedError{TableIndex: idx, Reason: "empty table"}
	}
	if fuzzyThreshold <= 0 {
		fuzzyThreshold = DefaultFuzzyThreshold
	}
	row, assign, fuzzy, ok := detectHeader(t, fuzzyThreshold)
	if !ok {
		return nil, &domain.TableRejectedError{
			TableIndex: idx,
			Reason:     fmt.Sprintf("no description and quantity columns (found %d roles)", len(assign)),
		}
	}
	headers := make([]string, len(t.Rows[row]))
	for i := range headers {
		headers[i] = t.Cell(row, i)
	}
	return &HeaderMatch{
		HeaderRow: row,
		DataStart: row + 1,
		Columns:   domain.NewColumnMap(assign),
		Headers:   headers,
		Fuzzy:     fuzzy,
	}, nil
}
