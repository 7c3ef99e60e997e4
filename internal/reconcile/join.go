package reconcile

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"smartmetal/internal/domain"
	"smartmetal/internal/lineitem"
)

// join pairs model items with raw items by line number. Raw-only input
// passes the raw items through unchanged.
func (r *Reconciler) join(in *Input) ([]domain.LineItem, []string) {
	if in.Mode == domain.ModeRawOnly {
		items := make([]domain.LineItem, 0, len(in.Raw))
		for i := range in.Raw {
			items = append(items, fromRaw(&in.Raw[i], domain.SourceRaw))
		}
		return items, nil
	}

	rawByLine := make(map[int]*domain.RawLineItem, len(in.Raw))
	for i := range in.Raw {
		rawByLine[in.Raw[i].LineNumber] = &in.Raw[i]
	}

	var warnings []string
	items := make([]domain.LineItem, 0, len(in.Model))
	seen := make(map[int]bool, len(in.Model))
	for i := range in.Model {
		m := &in.Model[i]
		raw, known := rawByLine[m.LineNumber]
		switch {
		case m.LineNumber > 0 && seen[m.LineNumber]:
			warnings = append(warnings, fmt.Sprintf("model returned line %d twice; keeping the first", m.LineNumber))
			continue
		case known:
			items = append(items, r.merge(raw, m))
		case in.Mode == domain.ModeHybrid && m.LineNumber <= 0:
			warnings = append(warnings, fmt.Sprintf("model item %q has no line number; dropped", clip(m.Description, 40)))
			continue
		case in.Mode == domain.ModeHybrid:
			warnings = append(warnings, fmt.Sprintf("model returned unknown line %d; dropped", m.LineNumber))
			continue
		default:
			items = append(items, fromModel(m))
		}
		if m.LineNumber > 0 {
			seen[m.LineNumber] = true
		}
	}
	return items, warnings
}

// merge combines one raw item with its model counterpart field by field.
// The model's value wins where it has one; the raw value fills the rest.
func (r *Reconciler) merge(raw *domain.RawLineItem, m *domain.NormalizedLineItem) domain.LineItem {
	sources := make(map[string]domain.ItemSource)
	var warnings []string
	pick := func(field, modelVal, rawVal string) string {
		switch {
		case modelVal != "":
			sources[field] = domain.SourceModel
			return modelVal
		case rawVal != "":
			sources[field] = domain.SourceRaw
			return rawVal
		}
		return ""
	}

	item := domain.LineItem{
		LineNumber:    raw.LineNumber,
		Description:   pick("description", m.Description, raw.Description),
		Unit:          pick("unit", m.Unit, raw.Unit),
		Specification: pick("specification", m.Specification, raw.Specification),
		Size1:         pick("size1", m.Size1, raw.Size1),
		Size2:         pick("size2", m.Size2, raw.Size2),
		Notes:         pick("notes", m.Notes, raw.Notes),
		Revision:      pick("revision", m.Revision, raw.Revision),
		Group:         pick("group", m.Group, raw.Group),
		ItemType:      m.ItemType,
		ExtraFields:   mergeExtras(raw.ExtraFields, m.ExtraFields),
	}

	// An empty source quantity stays empty: the model normalizes, it does
	// not invent.
	switch {
	case raw.Quantity == nil:
		if m.Quantity != nil {
			warnings = append(warnings, fmt.Sprintf("model quantity %g ignored; source row has no quantity", *m.Quantity))
		}
		sources["quantity"] = domain.SourceRaw
	case m.Quantity == nil:
		item.Quantity = copyQuantity(raw.Quantity)
		sources["quantity"] = domain.SourceRaw
	case *m.Quantity == *raw.Quantity:
		item.Quantity = copyQuantity(m.Quantity)
		sources["quantity"] = domain.SourceModel
	case raw.Confidence.Fields["quantity"] >= r.opts.RawQuantityTrust:
		item.Quantity = copyQuantity(raw.Quantity)
		sources["quantity"] = domain.SourceRaw
		warnings = append(warnings, fmt.Sprintf("model quantity %g overruled by source quantity %g", *m.Quantity, *raw.Quantity))
	default:
		item.Quantity = copyQuantity(m.Quantity)
		sources["quantity"] = domain.SourceModel
		warnings = append(warnings, fmt.Sprintf("model quantity %g replaces low-confidence source quantity %g", *m.Quantity, *raw.Quantity))
	}

	source := domain.SourceRaw
	for _, s := range sources {
		if s == domain.SourceModel {
			source = domain.SourceMerged
			break
		}
	}
	item.Confidence = domain.ItemConfidence{
		Score:        raw.Confidence.Overall,
		Source:       source,
		Fields:       copyFields(raw.Confidence.Fields),
		FieldSources: sources,
		Warnings:     append(append([]string(nil), raw.Confidence.Warnings...), warnings...),
	}
	return item
}

func fromRaw(raw *domain.RawLineItem, source domain.ItemSource) domain.LineItem {
	return domain.LineItem{
		LineNumber:    raw.LineNumber,
		Description:   raw.Description,
		Quantity:      copyQuantity(raw.Quantity),
		Unit:          raw.Unit,
		Specification: raw.Specification,
		Size1:         raw.Size1,
		Size2:         raw.Size2,
		Notes:         raw.Notes,
		Revision:      raw.Revision,
		Group:         raw.Group,
		ExtraFields:   mergeExtras(raw.ExtraFields, nil),
		Confidence: domain.ItemConfidence{
			Score:    raw.Confidence.Overall,
			Source:   source,
			Fields:   copyFields(raw.Confidence.Fields),
			Warnings: append([]string(nil), raw.Confidence.Warnings...),
		},
	}
}

// fromModel builds an item the model extracted on its own. It is scored with
// the same field rules as a table row.
func fromModel(m *domain.NormalizedLineItem) domain.LineItem {
	scored := domain.RawLineItem{
		LineNumber:    m.LineNumber,
		Description:   m.Description,
		Quantity:      m.Quantity,
		Unit:          m.Unit,
		Specification: m.Specification,
		Size1:         m.Size1,
		Size2:         m.Size2,
		Notes:         m.Notes,
		Revision:      m.Revision,
	}
	lineitem.Score(&scored)
	return domain.LineItem{
		LineNumber:    m.LineNumber,
		Description:   m.Description,
		Quantity:      copyQuantity(m.Quantity),
		Unit:          m.Unit,
		Specification: m.Specification,
		Size1:         m.Size1,
		Size2:         m.Size2,
		Notes:         m.Notes,
		Revision:      m.Revision,
		Group:         m.Group,
		ItemType:      m.ItemType,
		ExtraFields:   mergeExtras(m.ExtraFields, nil),
		Confidence: domain.ItemConfidence{
			Score:    scored.Confidence.Overall,
			Source:   domain.SourceModel,
			Fields:   scored.Confidence.Fields,
			Warnings: scored.Confidence.Warnings,
		},
	}
}

// backfill appends every raw item whose line number is missing from items.
func backfill(items []domain.LineItem, raw []domain.RawLineItem) ([]domain.LineItem, int) {
	present := make(map[int]bool, len(items))
	for i := range items {
		present[items[i].LineNumber] = true
	}
	n := 0
	for i := range raw {
		if present[raw[i].LineNumber] {
			continue
		}
		item := fromRaw(&raw[i], domain.SourceBackfill)
		item.Confidence.Warnings = append(item.Confidence.Warnings, "missing from model output; restored from source table")
		items = append(items, item)
		present[raw[i].LineNumber] = true
		n++
	}
	return items, n
}

// assignMissingNumbers gives items without a line number the next numbers
// above the current maximum, in their current order.
func assignMissingNumbers(items []domain.LineItem) []string {
	next := 0
	for i := range items {
		if items[i].LineNumber > next {
			next = items[i].LineNumber
		}
	}
	var warnings []string
	for i := range items {
		if items[i].LineNumber > 0 {
			continue
		}
		next++
		items[i].LineNumber = next
		items[i].Confidence.Warnings = append(items[i].Confidence.Warnings, "line number assigned")
		warnings = append(warnings, fmt.Sprintf("item %q had no line number; assigned %d", clip(items[i].Description, 40), next))
	}
	return warnings
}

// sortItems orders items by line number. When the raw numbering restarts,
// raw extraction order is kept instead so sections do not interleave, and
// items with no raw counterpart follow in line number order.
func sortItems(items []domain.LineItem, raw []domain.RawLineItem) {
	if !restartsNumbering(raw) {
		sort.SliceStable(items, func(i, j int) bool { return items[i].LineNumber < items[j].LineNumber })
		return
	}
	rank := make(map[int]int, len(raw))
	for i := range raw {
		rank[raw[i].LineNumber] = i
	}
	key := func(it *domain.LineItem) (int, int) {
		if r, ok := rank[it.LineNumber]; ok {
			return 0, r
		}
		return 1, it.LineNumber
	}
	sort.SliceStable(items, func(i, j int) bool {
		gi, ki := key(&items[i])
		gj, kj := key(&items[j])
		if gi != gj {
			return gi < gj
		}
		return ki < kj
	})
}

// restartsNumbering reports whether the raw sequence goes backwards at some
// point, as sectioned take-offs do.
func restartsNumbering(raw []domain.RawLineItem) bool {
	for i := 1; i < len(raw); i++ {
		if raw[i].LineNumber < raw[i-1].LineNumber {
			return true
		}
	}
	return false
}

// Numbering classifies the line-number sequence of items. For a dense
// sequence it also returns the interior numbers that are missing.
func Numbering(items []domain.LineItem) (domain.NumberingPattern, []int) {
	seen := make(map[int]bool, len(items))
	var nums []int
	for i := range items {
		n := items[i].LineNumber
		if n > 0 && !seen[n] {
			seen[n] = true
			nums = append(nums, n)
		}
	}
	if len(nums) < 2 {
		return domain.NumberingNone, nil
	}
	sort.Ints(nums)
	lo, hi := nums[0], nums[len(nums)-1]
	span := hi - lo + 1
	if float64(span) > 1.5*float64(len(nums)) {
		return domain.NumberingSparse, nil
	}
	var gaps []int
	for n := lo + 1; n < hi; n++ {
		if !seen[n] {
			gaps = append(gaps, n)
		}
	}
	return domain.NumberingDense, gaps
}

func formatGaps(gaps []int) string {
	const show = 10
	parts := make([]string, 0, show+1)
	for i, g := range gaps {
		if i == show {
			parts = append(parts, "...")
			break
		}
		parts = append(parts, strconv.Itoa(g))
	}
	return strings.Join(parts, ", ")
}

func mergeExtras(base, add map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(add))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range add {
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}
	return out
}

func copyQuantity(q *float64) *float64 {
	if q == nil {
		return nil
	}
	v := *q
	return &v
}

func copyFields(f map[string]float64) map[string]float64 {
	if f == nil {
		return nil
	}
	out := make(map[string]float64, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
