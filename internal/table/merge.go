package table

import (
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"smartmetal/internal/domain"
)

// descKeyLen is how many runes of the normalized description take part in
// the duplicate key.
const descKeyLen = 40

// Row is one data row of a merged table, re-indexed to the canonical schema.
type Row struct {
	Cells       []string
	SourceTable int
	SourcePage  int
	RowIndex    int
}

// MergedTable is the union of a group of related candidates under one
// canonical ColumnMap, with duplicate rows removed.
type MergedTable struct {
	Columns    domain.ColumnMap
	Headers    []string
	Rows       []Row
	Sources    []int
	SourceRows int
	Duplicates int
	// Sectioned is set when item numbering restarts, in which case rows keep
	// source order.
	Sectioned bool
}

// Cell returns the trimmed cell for role in row, or "".
func (m *MergedTable) Cell(row Row, role domain.ColumnRole) string {
	col, ok := m.Columns.Index(role)
	if !ok || col >= len(row.Cells) {
		return ""
	}
	return strings.TrimSpace(row.Cells[col])
}

// canonical picks the group member with the most mapped roles, then the
// most data rows, then the earliest source position.
func canonical(group []*Candidate) *Candidate {
	best := group[0]
	for _, c := range group[1:] {
		switch {
		case c.Columns.Len() > best.Columns.Len():
			best = c
		case c.Columns.Len() == best.Columns.Len() && c.DataRows() > best.DataRows():
			best = c
		}
	}
	return best
}

// remap returns, for each column of c, the canonical column it maps to or -1.
// Columns are matched role-for-role first, then by exact header text.
func remap(c, canon *Candidate) []int {
	width := c.Table.Width()
	out := make([]int, width)
	for i := range out {
		out[i] = -1
	}
	if c == canon {
		for i := range out {
			out[i] = i
		}
		return out
	}

	taken := make(map[int]bool)
	for _, role := range c.Columns.Roles() {
		src, _ := c.Columns.Index(role)
		dst, ok := canon.Columns.Index(role)
		if !ok || src >= width {
			continue
		}
		out[src] = dst
		taken[dst] = true
	}

	for src := 0; src < width; src++ {
		if out[src] >= 0 || src >= len(c.Headers) {
			continue
		}
		h := NormalizeHeader(c.Headers[src])
		if h == "" {
			continue
		}
		for dst, ch := range canon.Headers {
			if !taken[dst] && NormalizeHeader(ch) == h {
				out[src] = dst
				taken[dst] = true
				break
			}
		}
	}
	return out
}

// rowPage estimates the page a row sits on. Only single-page tables give a
// certain answer.
func rowPage(t *domain.Table, row int) (int, bool) {
	first, last := t.FirstPage(), t.LastPage()
	if first == 0 {
		return 0, false
	}
	if first == last || len(t.Rows) == 0 {
		return first, true
	}
	span := last - first + 1
	return first + row*span/len(t.Rows), false
}

// itemKey canonicalizes an item-number cell: integers lose formatting,
// anything else is normalized text.
func itemKey(s string) string {
	if n, ok := ParsePositiveInt(s); ok {
		return strconv.Itoa(n)
	}
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func descKey(s string) string {
	s = strings.ToLower(strings.Join(strings.Fields(s), " "))
	if utf8.RuneCountInString(s) <= descKeyLen {
		return s
	}
	return string([]rune(s)[:descKeyLen])
}

func nonEmpty(cells []string) int {
	n := 0
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			n++
		}
	}
	return n
}

func (m *MergedTable) dedupKey(r Row) string {
	item := itemKey(m.Cell(r, domain.RoleItemNumber))
	key := item + "\x1f" + descKey(m.Cell(r, domain.RoleDescription))
	if item != "" {
		return key
	}
	// Unnumbered rows only collapse when every cell matches.
	for _, c := range r.Cells {
		key += "\x1f" + strings.ToLower(strings.TrimSpace(c))
	}
	return key
}

// measureRoles must agree, when both sides are filled, for two rows with the
// same key to be the same line.
var measureRoles = []domain.ColumnRole{
	domain.RoleSize1, domain.RoleSize2, domain.RoleQuantity, domain.RoleUnit,
}

func foldCell(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// sameLine reports whether a and b are one line item seen twice. Rows on two
// known, different pages are distinct, and so are rows whose filled size,
// quantity or unit cells disagree.
func (m *MergedTable) sameLine(a, b Row, aKnown, bKnown bool) bool {
	if aKnown && bKnown && a.SourcePage != b.SourcePage {
		return false
	}
	for _, role := range measureRoles {
		x, y := foldCell(m.Cell(a, role)), foldCell(m.Cell(b, role))
		if x != "" && y != "" && x != y {
			return false
		}
	}
	return true
}

// mergeCells fills empty cells of winner from other.
func mergeCells(winner, other []string) []string {
	out := make([]string, len(winner))
	copy(out, winner)
	for i := range out {
		if strings.TrimSpace(out[i]) == "" && i < len(other) {
			out[i] = other[i]
		}
	}
	return out
}

// Merge unions the rows of a group of related candidates.
func Merge(group []*Candidate) *MergedTable {
	if len(group) == 0 {
		return &MergedTable{}
	}
	canon := canonical(group)
	width := len(canon.Headers)
	if w := canon.Table.Width(); w > width {
		width = w
	}
	headers := make([]string, width)
	copy(headers, canon.Headers)

	m := &MergedTable{Columns: canon.Columns, Headers: headers}
	index := make(map[string][]int)
	var pageKnown []bool

	for _, c := range group {
		m.Sources = append(m.Sources, c.Index)
		cols := remap(c, canon)
		for r := c.DataStart; r < len(c.Table.Rows); r++ {
			src := c.Table.Rows[r]
			if nonEmpty(src) == 0 {
				continue
			}
			m.SourceRows++
			cells := make([]string, width)
			for i, v := range src {
				if i < len(cols) && cols[i] >= 0 && cols[i] < width {
					cells[cols[i]] = strings.TrimSpace(v)
				}
			}
			page, known := rowPage(c.Table, r)
			row := Row{Cells: cells, SourceTable: c.Index, SourcePage: page, RowIndex: r}

			key := m.dedupKey(row)
			at := -1
			for _, i := range index[key] {
				if m.sameLine(m.Rows[i], row, pageKnown[i], known) {
					at = i
					break
				}
			}
			if at >= 0 {
				m.Duplicates++
				kept := m.Rows[at]
				if nonEmpty(row.Cells) > nonEmpty(kept.Cells) {
					row.Cells = mergeCells(row.Cells, kept.Cells)
					if !known && pageKnown[at] {
						row.SourcePage = kept.SourcePage
					}
					m.Rows[at] = row
				} else {
					kept.Cells = mergeCells(kept.Cells, row.Cells)
					m.Rows[at] = kept
				}
				pageKnown[at] = pageKnown[at] || known
				continue
			}
			index[key] = append(index[key], len(m.Rows))
			pageKnown = append(pageKnown, known)
			m.Rows = append(m.Rows, row)
		}
	}

	m.sortRows()
	return m
}

// sortRows orders rows by item number. Unnumbered rows are anchored to the
// next numbered row so section headers stay above their items.
func (m *MergedTable) sortRows() {
	if _, ok := m.Columns.Index(domain.RoleItemNumber); !ok {
		return
	}
	nums := make([]int, len(m.Rows))
	for i, r := range m.Rows {
		nums[i] = -1
		if n, ok := ParsePositiveInt(m.Cell(r, domain.RoleItemNumber)); ok {
			nums[i] = n
		}
	}
	if m.restartsNumbering(nums) {
		m.Sectioned = true
		return
	}

	keys := make([]int, len(nums))
	next := int(^uint(0) >> 1)
	for i := len(nums) - 1; i >= 0; i-- {
		if nums[i] >= 0 {
			next = nums[i]
		}
		keys[i] = next
	}
	order := make([]int, len(m.Rows))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return keys[order[a]] < keys[order[b]] })
	sorted := make([]Row, len(m.Rows))
	for i, o := range order {
		sorted[i] = m.Rows[o]
	}
	m.Rows = sorted
}

// restartsNumbering reports a decrease inside one source table, or a
// return to 1 anywhere.
func (m *MergedTable) restartsNumbering(nums []int) bool {
	lastBySource := make(map[int]int)
	prev := -1
	for i, n := range nums {
		if n < 0 {
			continue
		}
		src := m.Rows[i].SourceTable
		if last, ok := lastBySource[src]; ok && n < last {
			return true
		}
		if n == 1 && prev > 1 {
			return true
		}
		lastBySource[src] = n
		prev = n
	}
	return false
}

// MergeAll groups candidates and merges each group.
func MergeAll(cands []*Candidate, opts GroupOptions) []*MergedTable {
	groups := Group(cands, opts)
	out := make([]*MergedTable, 0, len(groups))
	for _, g := range groups {
		out = append(out, Merge(g))
	}
	return out
}
