package table

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"smartmetal/internal/domain"
)

// DefaultScoreThreshold is the minimum score for a table to be mapped.
const DefaultScoreThreshold = 5.0

// fullConfidenceScore is the score at which table confidence saturates.
const fullConfidenceScore = 12.0

var roleWeights = map[domain.ColumnRole]float64{
	domain.RoleItemNumber:  3,
	domain.RoleDescription: 3,
	domain.RoleQuantity:    3,
	domain.RoleUnit:        2,
}

const (
	otherRoleWeight   = 1.0
	adminPenalty      = -6.0
	degeneratePenalty = -10.0
)

type adminFamily struct {
	name    string
	pattern *regexp.Regexp
	// lineItemSafe families are not penalized when the table maps both a
	// description and a quantity column.
	lineItemSafe bool
}

// adminFamilies are header signatures of administrative tables that are
// never line-item tables.
var adminFamilies = []adminFamily{
	{"document_register", regexp.MustCompile(`\b(document|doc|drawing|dwg)\.?\s*(no|number|title)\b|\btransmittal\b|\bdocument\s+register\b`), true},
	{"approval_matrix", regexp.MustCompile(`\b(prepared|checked|approved|reviewed|verified|authori[sz]ed)\s+by\b|\bsignature\b|\bchk'?d\b|\bapp'?d\b`), false},
	{"revision_history", regexp.MustCompile(`\brevision\s+(history|record|log)\b|\brev\.?\s+date\b|\bdate\s+of\s+issue\b|\bissued?\s+for\b`), false},
}

// Candidate is a table accepted for line-item extraction.
type Candidate struct {
	Index       int
	Table       *domain.Table
	HeaderRow   int
	DataStart   int
	Columns     domain.ColumnMap
	Headers     []string
	Score       float64
	NumericRows int
	Fuzzy       bool
}

// DataRows returns the number of rows after the header.
func (c *Candidate) DataRows() int {
	if n := len(c.Table.Rows) - c.DataStart; n > 0 {
		return n
	}
	return 0
}

// SelectOptions tunes table selection.
type SelectOptions struct {
	ScoreThreshold float64
	FuzzyThreshold float64
}

func (o SelectOptions) withDefaults() SelectOptions {
	if o.ScoreThreshold == 0 {
		o.ScoreThreshold = DefaultScoreThreshold
	}
	if o.FuzzyThreshold == 0 {
		o.FuzzyThreshold = DefaultFuzzyThreshold
	}
	return o
}

// Selector scores detected tables and maps the qualifying ones.
type Selector struct {
	opts   SelectOptions
	logger *zap.Logger
}

// NewSelector creates a Selector. A nil logger disables logging.
func NewSelector(opts SelectOptions, logger *zap.Logger) *Selector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{opts: opts.withDefaults(), logger: logger}
}

// Score computes a table's line-item likelihood and the reasons behind it.
func (s *Selector) Score(t *domain.Table) (float64, []string, int) {
	var reasons []string
	score := 0.0

	if len(t.Rows) < 2 || t.Width() < 2 {
		score += degeneratePenalty
		reasons = append(reasons, "degenerate_shape")
		if len(t.Rows) == 0 {
			return score, reasons, 0
		}
	}

	hdr, assign, _, _ := detectHeader(t, s.opts.FuzzyThreshold)
	for _, role := range domain.RolePriority {
		if _, ok := assign[role]; !ok {
			continue
		}
		w, ok := roleWeights[role]
		if !ok {
			w = otherRoleWeight
		}
		score += w
		reasons = append(reasons, fmt.Sprintf("header:%s(+%g)", role, w))
	}

	numeric := countNumericRows(t, hdr+1, assign)
	switch {
	case numeric >= 3:
		score += 2
		reasons = append(reasons, fmt.Sprintf("numeric_rows:%d(+2)", numeric))
	case numeric >= 1:
		score++
		reasons = append(reasons, fmt.Sprintf("numeric_rows:%d(+1)", numeric))
	}

	text := headerText(t, hdr)
	_, hasDesc := assign[domain.RoleDescription]
	_, hasQty := assign[domain.RoleQuantity]
	for _, fam := range adminFamilies {
		if fam.lineItemSafe && hasDesc && hasQty {
			continue
		}
		if fam.pattern.MatchString(text) {
			score += adminPenalty
			reasons = append(reasons, fmt.Sprintf("admin:%s(%g)", fam.name, adminPenalty))
		}
	}
	return score, reasons, numeric
}

// headerText joins the normalized cells of every row up to and including the
// header row, so title rows above the header count too.
func headerText(t *domain.Table, hdr int) string {
	var parts []string
	for r := 0; r <= hdr && r < len(t.Rows); r++ {
		for c := range t.Rows[r] {
			if h := normalizeHeader(t.Cell(r, c), false); h != "" {
				parts = append(parts, h)
			}
		}
	}
	return strings.Join(parts, " | ")
}

func countNumericRows(t *domain.Table, start int, assign map[domain.ColumnRole]int) int {
	col, ok := assign[domain.RoleItemNumber]
	if !ok {
		col, ok = assign[domain.RoleQuantity]
	}
	if !ok {
		return 0
	}
	n := 0
	for r := start; r < len(t.Rows); r++ {
		if _, ok := ParsePositiveInt(t.Cell(r, col)); ok {
			n++
		}
	}
	return n
}

// ParsePositiveInt parses an item-number-like cell ("12", "12.") as a
// positive integer.
func ParsePositiveInt(s string) (int, bool) {
	s = strings.TrimSuffix(strings.TrimSpace(s), ".")
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// Select ranks all tables, maps every table scoring at or above the
// threshold, and returns the accepted candidates in source order together
// with the ranked diagnostics.
func (s *Selector) Select(tables []domain.Table) ([]*Candidate, []domain.TableDiagnostic) {
	diags := make([]domain.TableDiagnostic, len(tables))
	scored := make([]*Candidate, len(tables))
	for i := range tables {
		t := &tables[i]
		score, reasons, numeric := s.Score(t)
		diags[i] = domain.TableDiagnostic{TableIndex: i, Score: score, Reasons: reasons, Pages: t.PageNumbers}
		scored[i] = &Candidate{Index: i, Table: t, Score: score, NumericRows: numeric}
	}

	order := make([]int, len(tables))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scored[order[a]].Score > scored[order[b]].Score })

	var accepted []*Candidate
	for _, i := range order {
		c := scored[i]
		if c.Score < s.opts.ScoreThreshold {
			diags[i].Reasons = append(diags[i].Reasons, "below_threshold")
			continue
		}
		m, err := MapHeader(c.Table, i, s.opts.FuzzyThreshold)
		if err != nil {
			var rej *domain.TableRejectedError
			if errors.As(err, &rej) {
				diags[i].Reasons = append(diags[i].Reasons, "rejected:"+rej.Reason)
			}
			s.logger.Info("table.Selector: table rejected", zap.Int("table", i), zap.Float64("score", c.Score), zap.Error(err))
			continue
		}
		c.HeaderRow, c.DataStart, c.Columns, c.Headers, c.Fuzzy = m.HeaderRow, m.DataStart, m.Columns, m.Headers, m.Fuzzy
		diags[i].Accepted = true
		accepted = append(accepted, c)
	}

	sort.Slice(accepted, func(a, b int) bool { return accepted[a].Index < accepted[b].Index })
	domain.SortDiagnostics(diags)
	for _, d := range diags {
		s.logger.Debug("table.Selector: ranked table",
			zap.Int("table", d.TableIndex),
			zap.Float64("score", d.Score),
			zap.Bool("accepted", d.Accepted),
			zap.Strings("reasons", d.Reasons),
		)
	}
	return accepted, diags
}

// Confidence is the mean saturated score of the accepted candidates, in [0,1].
func Confidence(cands []*Candidate) float64 {
	if len(cands) == 0 {
		return 0
	}
	sum := 0.0
	for _, c := range cands {
		v := c.Score / fullConfidenceScore
		if v > 1 {
			v = 1
		}
		if v < 0 {
			v = 0
		}
		sum += v
	}
	return sum / float64(len(cands))
}
