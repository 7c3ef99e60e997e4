// Package lineitem walks merged tables and emits typed raw line items with
// per-field confidence.
package lineitem

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"smartmetal/internal/domain"
	"smartmetal/internal/table"
)

var (
	separatorRe    = regexp.MustCompile(`^(?:[-=_*~]{3,}|(?i:(?:section|part|group)\s+[a-z0-9]+(?:\s*[:\-].*)?))$`)
	sectionTitleRe = regexp.MustCompile(`^(?:pipes?|piping|fittings?|flanges?|valves?|gaskets?|bolts?|bolting|fasteners?|instruments?|instrumentation|structurals?|steel|plates?|supports?|miscellaneous|misc|consumables?|electricals?|civil|spares?|accessories|studs?(?:\s+bolts?)?|tubing|cables?|(?:section|part|group|area)\s+\w+)(?:\s*[:\-].*)?$`)
	totalRowRe     = regexp.MustCompile(`^(?:sub\s*-?\s*total|grand\s+total|total)\b`)
	optionalRoles  = []domain.ColumnRole{domain.RoleSpecification, domain.RoleSize1, domain.RoleSize2, domain.RoleNotes, domain.RoleRevision}
)

// Extraction is the raw extraction of a whole document.
type Extraction struct {
	Items    []domain.RawLineItem
	Skipped  map[string]int
	Warnings []string
}

// Extractor turns merged tables into raw line items.
type Extractor struct {
	logger *zap.Logger
}

// NewExtractor creates an Extractor. A nil logger disables logging.
func NewExtractor(logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{logger: logger}
}

type rowKind int

const (
	rowData rowKind = iota
	rowEmpty
	rowSeparator
	rowSection
	rowRepeatedHeader
	rowTotal
	rowNoise
)

func (k rowKind) String() string {
	switch k {
	case rowEmpty:
		return "empty"
	case rowSeparator:
		return "separator"
	case rowSection:
		return "section_header"
	case rowRepeatedHeader:
		return "repeated_header"
	case rowTotal:
		return "total"
	case rowNoise:
		return "noise"
	default:
		return "data"
	}
}

// pending is an item awaiting line-number allocation.
type pending struct {
	item     domain.RawLineItem
	original int
	position int
	numeric  bool
	optional []string
}

// ExtractAll extracts every merged table and allocates unique line numbers
// across the document.
func (e *Extractor) ExtractAll(tables []*table.MergedTable) *Extraction {
	out := &Extraction{Skipped: make(map[string]int)}
	var items []pending
	position := 0
	for _, m := range tables {
		items = append(items, e.extract(m, &position, out.Skipped)...)
	}
	out.Warnings = allocateLineNumbers(items)
	out.Items = make([]domain.RawLineItem, len(items))
	for i := range items {
		scoreItem(&items[i].item, items[i].numeric, items[i].optional)
		out.Items[i] = items[i].item
	}
	e.logger.Info("lineitem.Extractor: extracted raw items",
		zap.Int("tables", len(tables)),
		zap.Int("items", len(out.Items)),
		zap.Any("skipped", out.Skipped),
	)
	return out
}

// Extract extracts a single merged table.
func (e *Extractor) Extract(m *table.MergedTable) *Extraction {
	return e.ExtractAll([]*table.MergedTable{m})
}

func (e *Extractor) extract(m *table.MergedTable, position *int, skipped map[string]int) []pending {
	var out []pending
	group := ""
	headers := make([]string, len(m.Headers))
	for i, h := range m.Headers {
		headers[i] = table.NormalizeHeader(h)
	}

	for _, row := range m.Rows {
		*position++
		kind, label := classify(m, row, headers)
		switch kind {
		case rowSeparator, rowSection:
			if label != "" {
				group = label
			}
			skipped[kind.String()]++
			continue
		case rowData:
		default:
			skipped[kind.String()]++
			continue
		}

		p := buildItem(m, row, group)
		p.position = *position
		out = append(out, p)
	}
	return out
}

// classify decides whether a row is a line item and, for section rows,
// returns the new section label.
func classify(m *table.MergedTable, row table.Row, headers []string) (rowKind, string) {
	item := m.Cell(row, domain.RoleItemNumber)
	desc := m.Cell(row, domain.RoleDescription)
	qty := m.Cell(row, domain.RoleQuantity)

	filled := 0
	var only string
	for _, c := range row.Cells {
		if c = strings.TrimSpace(c); c != "" {
			filled++
			only = c
		}
	}
	if filled == 0 {
		return rowEmpty, ""
	}

	if item != "" && separatorRe.MatchString(item) {
		if desc != "" {
			return rowSeparator, desc
		}
		if strings.Trim(item, "-=_*~") == "" {
			return rowSeparator, ""
		}
		return rowSeparator, item
	}

	if isRepeatedHeader(row, headers) {
		return rowRepeatedHeader, ""
	}

	if qty == "" {
		norm := strings.ToLower(strings.Join(strings.Fields(desc), " "))
		if item == "" && desc != "" && sectionTitleRe.MatchString(norm) {
			return rowSection, desc
		}
		if filled == 1 && isTitleCase(only) {
			return rowSection, only
		}
	}

	if item == "" {
		for _, c := range row.Cells {
			if totalRowRe.MatchString(strings.ToLower(strings.TrimSpace(c))) {
				return rowTotal, ""
			}
		}
	}

	if _, ok := table.ParsePositiveInt(item); ok {
		return rowData, ""
	}
	// Without a usable number a row needs both a description and a quantity.
	if item != "" && desc != "" && qty != "" {
		return rowData, ""
	}
	if validDescription(desc) {
		if v, _, ok := ParseQuantity(qty); ok && *v > 0 {
			return rowData, ""
		}
	}
	return rowNoise, ""
}

// isTitleCase reports an upper-case label with no digits, as used for
// section headings in take-offs.
func isTitleCase(s string) bool {
	letters := 0
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			return false
		case unicode.IsLetter(r):
			if unicode.IsLower(r) {
				return false
			}
			letters++
		}
	}
	return letters >= 3
}

func isRepeatedHeader(row table.Row, headers []string) bool {
	matches, filled := 0, 0
	for i, c := range row.Cells {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		filled++
		if i < len(headers) && headers[i] != "" && table.NormalizeHeader(c) == headers[i] {
			matches++
		}
	}
	return matches >= 2 && matches*2 >= filled
}

func validDescription(s string) bool {
	if len([]rune(s)) < 2 {
		return false
	}
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

func buildItem(m *table.MergedTable, row table.Row, group string) pending {
	itemCell := m.Cell(row, domain.RoleItemNumber)
	n, numeric := table.ParsePositiveInt(itemCell)

	item := domain.RawLineItem{
		ItemNumber:    itemCell,
		Description:   strings.Join(strings.Fields(m.Cell(row, domain.RoleDescription)), " "),
		Unit:          m.Cell(row, domain.RoleUnit),
		Specification: m.Cell(row, domain.RoleSpecification),
		Size1:         m.Cell(row, domain.RoleSize1),
		Size2:         m.Cell(row, domain.RoleSize2),
		Notes:         m.Cell(row, domain.RoleNotes),
		Revision:      m.Cell(row, domain.RoleRevision),
		Group:         group,
		SourcePage:    row.SourcePage,
		SourceTable:   row.SourceTable,
		RowIndex:      row.RowIndex,
	}
	if g := m.Cell(row, domain.RoleGroup); g != "" {
		item.Group = g
	}

	if qty := m.Cell(row, domain.RoleQuantity); qty != "" {
		v, rest, ok := ParseQuantity(qty)
		if ok {
			item.Quantity = v
			if item.Unit == "" && rest != "" {
				item.Unit = rest
			}
		} else {
			item.Confidence.Warnings = append(item.Confidence.Warnings, fmt.Sprintf("quantity not numeric: %q", qty))
		}
	}
	if item.Unit != "" && IsKnownUnit(item.Unit) {
		item.Unit = CanonicalUnit(item.Unit)
	}

	switch {
	case item.Size1 != "" && item.Size2 != "":
		item.Size = item.Size1 + " x " + item.Size2
	case item.Size1 != "":
		item.Size = item.Size1
	default:
		item.Size = item.Size2
	}

	item.ExtraFields = extraFields(m, row)

	var optional []string
	for _, r := range optionalRoles {
		if m.Columns.Has(r) {
			optional = append(optional, m.Cell(row, r))
		}
	}

	p := pending{item: item, numeric: numeric, optional: optional}
	if numeric {
		p.original = n
	} else {
		p.item.Synthetic = true
	}
	return p
}

// extraFields keeps unmapped columns verbatim, keyed by header slug.
func extraFields(m *table.MergedTable, row table.Row) map[string]string {
	var extra map[string]string
	for i, c := range row.Cells {
		if _, mapped := m.Columns.RoleAt(i); mapped {
			continue
		}
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		key := ""
		if i < len(m.Headers) {
			key = table.Slug(m.Headers[i])
		}
		if key == "" {
			key = fmt.Sprintf("column_%d", i+1)
		}
		if extra == nil {
			extra = make(map[string]string)
		}
		if _, dup := extra[key]; dup {
			key = fmt.Sprintf("%s_%d", key, i+1)
		}
		extra[key] = c
	}
	return extra
}

// allocateLineNumbers gives every item a positive line number unique in the
// document. Original numbers are kept on first use; synthetic items use
// their row position when free; anything else goes above the maximum.
func allocateLineNumbers(items []pending) []string {
	used := make(map[int]bool)
	maxUsed := 0
	conflict := make([]bool, len(items))
	for i := range items {
		p := &items[i]
		if !p.numeric {
			continue
		}
		if used[p.original] {
			conflict[i] = true
			continue
		}
		used[p.original] = true
		p.item.LineNumber = p.original
		if p.original > maxUsed {
			maxUsed = p.original
		}
	}

	var warnings []string
	for i := range items {
		p := &items[i]
		if p.item.LineNumber > 0 {
			continue
		}
		candidate := p.position
		if conflict[i] || candidate <= 0 || used[candidate] {
			maxUsed++
			for used[maxUsed] {
				maxUsed++
			}
			candidate = maxUsed
		}
		used[candidate] = true
		if candidate > maxUsed {
			maxUsed = candidate
		}
		p.item.LineNumber = candidate
		if conflict[i] {
			msg := fmt.Sprintf("duplicate item number %d reassigned to line %d", p.original, candidate)
			p.item.Confidence.Warnings = append(p.item.Confidence.Warnings, msg)
			warnings = append(warnings, msg)
		}
	}
	return warnings
}
