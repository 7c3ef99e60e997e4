package table

import (
	"sort"

	"smartmetal/internal/domain"
)

// DefaultMinJaccard is the minimum role-set similarity for two candidates to
// be fragments of one logical table.
const DefaultMinJaccard = 0.6

// GroupOptions tunes fragment grouping.
type GroupOptions struct {
	MinJaccard float64
	// MaxPageGap bounds the page distance between related fragments.
	// Zero disables the constraint.
	MaxPageGap int
}

// Signature is the set of roles present in a candidate's ColumnMap.
type Signature map[domain.ColumnRole]bool

// SignatureOf returns c's role set.
func SignatureOf(c *Candidate) Signature {
	sig := make(Signature)
	for _, r := range c.Columns.Roles() {
		sig[r] = true
	}
	return sig
}

// Jaccard returns |a∩b| / |a∪b|.
func Jaccard(a, b Signature) float64 {
	inter, union := 0, len(a)
	for r := range b {
		if a[r] {
			inter++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func (s Signature) hasCore() bool {
	return s[domain.RoleItemNumber] && s[domain.RoleDescription] && s[domain.RoleQuantity]
}

// Related reports whether a and b look like fragments of the same table.
func Related(a, b *Candidate, opts GroupOptions) bool {
	if opts.MinJaccard == 0 {
		opts.MinJaccard = DefaultMinJaccard
	}
	sa, sb := SignatureOf(a), SignatureOf(b)
	if !sa.hasCore() || !sb.hasCore() {
		return false
	}
	if Jaccard(sa, sb) < opts.MinJaccard {
		return false
	}
	if opts.MaxPageGap > 0 {
		if gap, known := pageGap(a.Table, b.Table); known && gap > opts.MaxPageGap {
			return false
		}
	}
	return true
}

// pageGap is the distance between the page ranges of two tables; zero when
// they overlap.
func pageGap(a, b *domain.Table) (int, bool) {
	af, al, bf, bl := a.FirstPage(), a.LastPage(), b.FirstPage(), b.LastPage()
	if af == 0 || bf == 0 {
		return 0, false
	}
	switch {
	case bf > al:
		return bf - al, true
	case af > bl:
		return af - bl, true
	default:
		return 0, true
	}
}

// Group partitions candidates into connected components of the Related
// relation. Groups and their members are ordered by source index.
func Group(cands []*Candidate, opts GroupOptions) [][]*Candidate {
	parent := make([]int, len(cands))
	for i := range parent {
		parent[i] = i
	}
	find := func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}

	for i := 0; i < len(cands); i++ {
		for j := i + 1; j < len(cands); j++ {
			if Related(cands[i], cands[j], opts) {
				ri, rj := find(i), find(j)
				if ri != rj {
					parent[rj] = ri
				}
			}
		}
	}

	byRoot := make(map[int][]*Candidate)
	var roots []int
	for i, c := range cands {
		r := find(i)
		if _, seen := byRoot[r]; !seen {
			roots = append(roots, r)
		}
		byRoot[r] = append(byRoot[r], c)
	}

	groups := make([][]*Candidate, 0, len(roots))
	for _, r := range roots {
		g := byRoot[r]
		sort.Slice(g, func(a, b int) bool { return g[a].Index < g[b].Index })
		groups = append(groups, g)
	}
	sort.Slice(groups, func(a, b int) bool { return groups[a][0].Index < groups[b][0].Index })
	return groups
}
