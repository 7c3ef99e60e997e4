package table_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartmetal/internal/domain"
	"smartmetal/internal/table"
)

func selectAll(t *testing.T, tables ...domain.Table) []*table.Candidate {
	t.Helper()
	cands, _ := table.NewSelector(table.SelectOptions{}, nil).Select(tables)
	require.Len(t, cands, len(tables))
	return cands
}

func itemNumbers(m *table.MergedTable) []string {
	out := make([]string, len(m.Rows))
	for i, r := range m.Rows {
		out[i] = m.Cell(r, domain.RoleItemNumber)
	}
	return out
}

func TestMergeAll_ContinuationAcrossPages(t *testing.T) {
	cands := selectAll(t,
		lineItemTable([]int{1},
			[]string{"1", "Flange", "10", "EA"},
			[]string{"2", "Gasket", "20", "EA"},
			[]string{"3", "Bolt", "40", "EA"},
		),
		lineItemTable([]int{2},
			[]string{"4", "Valve", "2", "EA"},
			[]string{"5", "Elbow", "6", "EA"},
		),
	)

	merged := table.MergeAll(cands, table.GroupOptions{})

	require.Len(t, merged, 1)
	m := merged[0]
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, itemNumbers(m))
	assert.Equal(t, 5, m.SourceRows)
	assert.Equal(t, 0, m.Duplicates)
	assert.Equal(t, []int{0, 1}, m.Sources)
	assert.Equal(t, 2, m.Rows[4].SourcePage)
}

func TestMerge_OverlappingFragmentsAreNotDoubleCounted(t *testing.T) {
	cands := selectAll(t,
		lineItemTable([]int{1, 2},
			[]string{"1", "Flange", "10", "EA"},
			[]string{"2", "Gasket", "20", "EA"},
			[]string{"3", "Bolt", "40", ""},
		),
		lineItemTable([]int{2},
			[]string{"3", "Bolt", "40", "EA"},
			[]string{"4", "Valve", "2", "EA"},
		),
	)

	merged := table.MergeAll(cands, table.GroupOptions{})

	require.Len(t, merged, 1)
	m := merged[0]
	assert.Equal(t, []string{"1", "2", "3", "4"}, itemNumbers(m))
	assert.Equal(t, 1, m.Duplicates)
	assert.LessOrEqual(t, len(m.Rows), m.SourceRows)
	assert.Equal(t, "EA", m.Cell(m.Rows[2], domain.RoleUnit))
}

func sizedTable(page int, rows ...[]string) domain.Table {
	all := append([][]string{{"Item", "Description", "Size", "Qty", "Unit"}}, rows...)
	return domain.Table{Rows: all, PageNumbers: []int{page}}
}

func TestMerge_RepeatedLinesAreKeptApart(t *testing.T) {
	tests := []struct {
		name       string
		tables     []domain.Table
		wantRows   int
		wantDups   int
		wantQtyCol []string
	}{
		{
			name: "same number and description on different pages",
			tables: []domain.Table{
				sizedTable(1, []string{"1", "Pipe seamless", "2\"", "12", "M"}, []string{"2", "Elbow 90 LR", "2\"", "4", "EA"}),
				sizedTable(4, []string{"1", "Pipe seamless", "4\"", "30", "M"}, []string{"2", "Elbow 90 LR", "4\"", "8", "EA"}),
			},
			wantRows:   4,
			wantQtyCol: []string{"12", "4", "30", "8"},
		},
		{
			name: "identical lines on different pages",
			tables: []domain.Table{
				sizedTable(1, []string{"1", "Pipe seamless", "2\"", "12", "M"}),
				sizedTable(2, []string{"1", "Pipe seamless", "2\"", "12", "M"}),
			},
			wantRows:   2,
			wantQtyCol: []string{"12", "12"},
		},
		{
			name: "same page but different size",
			tables: []domain.Table{
				sizedTable(3, []string{"1", "Pipe seamless", "2\"", "12", "M"}),
				sizedTable(3, []string{"1", "Pipe seamless", "4\"", "12", "M"}),
			},
			wantRows:   2,
			wantQtyCol: []string{"12", "12"},
		},
		{
			name: "same page with a missing cell",
			tables: []domain.Table{
				sizedTable(3, []string{"1", "Pipe seamless", "2\"", "12", ""}),
				sizedTable(3, []string{"1", "Pipe seamless", "2\"", "12", "M"}),
			},
			wantRows:   1,
			wantDups:   1,
			wantQtyCol: []string{"12"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := table.Merge(selectAll(t, tt.tables...))

			require.Len(t, m.Rows, tt.wantRows)
			assert.Equal(t, tt.wantDups, m.Duplicates)
			qty := make([]string, len(m.Rows))
			for i, r := range m.Rows {
				qty[i] = m.Cell(r, domain.RoleQuantity)
			}
			assert.Equal(t, tt.wantQtyCol, qty)
		})
	}
}

func TestMerge_RemapsByRoleAndHeaderText(t *testing.T) {
	first := domain.Table{Rows: [][]string{
		{"Item", "Description", "Qty", "Heat No"},
		{"1", "Flange", "10", "H-1"},
		{"2", "Gasket", "20", "H-2"},
	}}
	second := domain.Table{Rows: [][]string{
		{"Item", "Heat No", "Description", "Qty"},
		{"3", "H-3", "Bolt", "40"},
		{"4", "H-4", "Nut", "40"},
	}}
	cands := selectAll(t, first, second)

	m := table.Merge(cands)

	require.Len(t, m.Rows, 4)
	row := m.Rows[2]
	assert.Equal(t, "3", m.Cell(row, domain.RoleItemNumber))
	assert.Equal(t, "Bolt", m.Cell(row, domain.RoleDescription))
	assert.Equal(t, "40", m.Cell(row, domain.RoleQuantity))
	assert.Equal(t, "H-3", row.Cells[3])
}

func TestMerge_UnnumberedRowsOnlyCollapseWhenIdentical(t *testing.T) {
	cands := selectAll(t, domain.Table{Rows: [][]string{
		{"Item", "Description", "Qty", "Size"},
		{"", "Elbow 90 LR", "4", "6\""},
		{"", "Elbow 90 LR", "2", "4\""},
		{"", "Elbow 90 LR", "2", "4\""},
	}, PageNumbers: []int{3}})

	m := table.Merge(cands)

	assert.Len(t, m.Rows, 2)
	assert.Equal(t, 1, m.Duplicates)
}

func TestMerge_SortsFragmentsByItemNumber(t *testing.T) {
	cands := selectAll(t,
		lineItemTable([]int{2}, []string{"4", "Valve", "2", "EA"}, []string{"5", "Elbow", "6", "EA"}),
		lineItemTable([]int{1}, []string{"2", "Gasket", "20", "EA"}, []string{"3", "Bolt", "40", "EA"}),
	)

	m := table.Merge(cands)

	assert.False(t, m.Sectioned)
	assert.Equal(t, []string{"2", "3", "4", "5"}, itemNumbers(m))
}

func TestMerge_SectionedNumberingKeepsSourceOrder(t *testing.T) {
	cands := selectAll(t, lineItemTable(nil,
		[]string{"", "PIPES", "", ""},
		[]string{"1", "Pipe 2\"", "12", "M"},
		[]string{"2", "Pipe 3\"", "6", "M"},
		[]string{"", "FITTINGS", "", ""},
		[]string{"1", "Elbow", "4", "EA"},
		[]string{"2", "Tee", "2", "EA"},
	))

	m := table.Merge(cands)

	assert.True(t, m.Sectioned)
	assert.Equal(t, []string{"", "1", "2", "", "1", "2"}, itemNumbers(m))
}

func TestMerge_AnchorsUnnumberedRowsToNextItem(t *testing.T) {
	cands := selectAll(t,
		lineItemTable([]int{2}, []string{"", "VALVES", "", ""}, []string{"4", "Gate valve", "2", "EA"}),
		lineItemTable([]int{1}, []string{"2", "Flange", "10", "EA"}, []string{"3", "Gasket", "20", "EA"}),
	)

	m := table.Merge(cands)

	assert.False(t, m.Sectioned)
	assert.Equal(t, []string{"2", "3", "", "4"}, itemNumbers(m))
}

func TestGroup_RespectsPageGapAndCoreRoles(t *testing.T) {
	a := lineItemTable([]int{1}, []string{"1", "Flange", "10", "EA"})
	b := lineItemTable([]int{5}, []string{"2", "Valve", "1", "EA"})
	noItem := domain.Table{Rows: [][]string{
		{"Description", "Qty", "Unit"},
		{"Bolt", "4", "EA"},
	}, PageNumbers: []int{1}}
	cands := selectAll(t, a, b, noItem)

	assert.Len(t, table.Group(cands, table.GroupOptions{}), 2)
	assert.Len(t, table.Group(cands, table.GroupOptions{MaxPageGap: 2}), 3)
}

func TestJaccard(t *testing.T) {
	a := table.Signature{domain.RoleItemNumber: true, domain.RoleDescription: true, domain.RoleQuantity: true, domain.RoleUnit: true}
	b := table.Signature{domain.RoleItemNumber: true, domain.RoleDescription: true, domain.RoleQuantity: true, domain.RoleNotes: true}

	assert.InDelta(t, 3.0/5.0, table.Jaccard(a, b), 1e-9)
	assert.Equal(t, 0.0, table.Jaccard(table.Signature{}, table.Signature{}))
}
