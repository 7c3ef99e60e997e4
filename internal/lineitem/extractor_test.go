package lineitem_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartmetal/internal/domain"
	"smartmetal/internal/lineitem"
	"smartmetal/internal/table"
)

func merged(t *testing.T, rows ...[]string) *table.MergedTable {
	t.Helper()
	tbl := &domain.Table{Rows: rows, PageNumbers: []int{1}}
	hm, err := table.MapHeader(tbl, 0, 0)
	require.NoError(t, err)
	m := &table.MergedTable{Columns: hm.Columns, Headers: hm.Headers}
	for i := hm.DataStart; i < len(rows); i++ {
		m.Rows = append(m.Rows, table.Row{Cells: rows[i], SourcePage: 1, RowIndex: i})
	}
	return m
}

var header = []string{"Item", "Description", "Qty", "Unit"}

func TestExtract_QuantityWithEmbeddedUnit(t *testing.T) {
	m := merged(t,
		[]string{"Item", "Description", "Qty"},
		[]string{"1", "Flange", "10 EA"},
	)

	out := lineitem.NewExtractor(nil).Extract(m)

	require.Len(t, out.Items, 1)
	item := out.Items[0]
	require.NotNil(t, item.Quantity)
	assert.Equal(t, 10.0, *item.Quantity)
	assert.Equal(t, "EA", item.Unit)
	assert.Equal(t, 1, item.LineNumber)
	assert.False(t, item.Synthetic)
}

func TestExtract_TracksSectionsAndSkipsNonDataRows(t *testing.T) {
	m := merged(t,
		header,
		[]string{"", "PIPES", "", ""},
		[]string{"1", "Pipe 2\" SCH 40", "12", "M"},
		[]string{"Item", "Description", "Qty", "Unit"},
		[]string{"---", "", "", ""},
		[]string{"", "", "", ""},
		[]string{"", "Fittings", "", ""},
		[]string{"2", "Elbow 90 LR", "4", "EA"},
		[]string{"SECTION C", "", "", ""},
		[]string{"3", "Gate valve", "2", "EA"},
		[]string{"", "Total", "18", ""},
	)

	out := lineitem.NewExtractor(nil).Extract(m)

	require.Len(t, out.Items, 3)
	assert.Equal(t, "PIPES", out.Items[0].Group)
	assert.Equal(t, "Fittings", out.Items[1].Group)
	assert.Equal(t, "SECTION C", out.Items[2].Group)
	assert.Equal(t, 2, out.Skipped["section_header"])
	assert.Equal(t, 2, out.Skipped["separator"])
	assert.Equal(t, 1, out.Skipped["repeated_header"])
	assert.Equal(t, 1, out.Skipped["empty"])
	assert.Equal(t, 1, out.Skipped["total"])
}

func TestExtract_SynthesizesLineNumberFromPosition(t *testing.T) {
	m := merged(t,
		header,
		[]string{"", "Gate valve 2\"", "3", "EA"},
		[]string{"1", "Flange", "10", "EA"},
		[]string{"", "Ball valve", "1", "EA"},
	)

	out := lineitem.NewExtractor(nil).Extract(m)

	require.Len(t, out.Items, 3)
	assert.True(t, out.Items[0].Synthetic)
	assert.Equal(t, 2, out.Items[0].LineNumber)
	assert.Equal(t, 1, out.Items[1].LineNumber)
	assert.True(t, out.Items[2].Synthetic)
	assert.Equal(t, 3, out.Items[2].LineNumber)
	assert.Contains(t, out.Items[0].Confidence.Warnings, "synthetic line number")
}

func TestExtract_DropsRowsWithoutNumberOrQuantity(t *testing.T) {
	m := merged(t,
		header,
		[]string{"", "continued from previous page", "", ""},
		[]string{"1", "Flange", "10", "EA"},
	)

	out := lineitem.NewExtractor(nil).Extract(m)

	require.Len(t, out.Items, 1)
	assert.Equal(t, 1, out.Skipped["noise"])
}

func TestExtract_NonNumericItemNeedsQuantity(t *testing.T) {
	tests := []struct {
		name     string
		row      []string
		wantData bool
	}{
		{name: "tag with quantity", row: []string{"A-1", "Gate valve", "2", "EA"}, wantData: true},
		{name: "tag with unparsed quantity", row: []string{"A-2", "Gate valve", "lot", ""}, wantData: true},
		{name: "tag without quantity", row: []string{"A-3", "Refer to datasheet", "", "EA"}},
		{name: "tag without description", row: []string{"A-4", "", "", "EA"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := lineitem.NewExtractor(nil).Extract(merged(t, header, tt.row))

			if !tt.wantData {
				assert.Empty(t, out.Items)
				assert.Equal(t, 1, out.Skipped["noise"])
				return
			}
			require.Len(t, out.Items, 1)
			assert.True(t, out.Items[0].Synthetic)
			assert.Equal(t, tt.row[0], out.Items[0].ItemNumber)
		})
	}
}

func TestExtractAll_LineNumbersUniqueAcrossRestartedNumbering(t *testing.T) {
	first := merged(t, header, []string{"1", "A pipe", "1", "M"}, []string{"2", "B pipe", "2", "M"})
	second := merged(t, header, []string{"1", "C elbow", "3", "EA"}, []string{"2", "D tee", "4", "EA"})

	out := lineitem.NewExtractor(nil).ExtractAll([]*table.MergedTable{first, second})

	require.Len(t, out.Items, 4)
	seen := map[int]bool{}
	for _, it := range out.Items {
		assert.Positive(t, it.LineNumber)
		assert.False(t, seen[it.LineNumber], "duplicate line number %d", it.LineNumber)
		seen[it.LineNumber] = true
	}
	assert.Equal(t, "1", out.Items[2].ItemNumber)
	assert.Equal(t, 3, out.Items[2].LineNumber)
	assert.Equal(t, 4, out.Items[3].LineNumber)
	assert.Len(t, out.Warnings, 2)
}

func TestExtract_NullQuantityIsKept(t *testing.T) {
	m := merged(t, header, []string{"3", "Valve", "", "EA"}, []string{"4", "Plug", "N/A", "EA"})

	out := lineitem.NewExtractor(nil).Extract(m)

	require.Len(t, out.Items, 2)
	assert.Nil(t, out.Items[0].Quantity)
	assert.Contains(t, out.Items[0].Confidence.Warnings, "missing quantity")
	assert.Nil(t, out.Items[1].Quantity)
	assert.Contains(t, out.Items[1].Confidence.Warnings, `quantity not numeric: "N/A"`)
}

func TestExtract_ExtraFieldsAndSizes(t *testing.T) {
	m := merged(t,
		[]string{"Item", "Description", "Qty", "Unit", "Size", "Size", "Heat No.", ""},
		[]string{"1", "Reducer", "2", "nos", "6\"", "4\"", "H-77", "x"},
	)

	out := lineitem.NewExtractor(nil).Extract(m)

	require.Len(t, out.Items, 1)
	item := out.Items[0]
	assert.Equal(t, "NOS", item.Unit)
	assert.Equal(t, "6\" x 4\"", item.Size)
	assert.Equal(t, map[string]string{"heat_no": "H-77", "column_8": "x"}, item.ExtraFields)
}

func TestExtract_Confidence(t *testing.T) {
	m := merged(t,
		header,
		[]string{"1", "Carbon steel flange WN", "10", "EA"},
		[]string{"2", "Flange", "44", "EA"},
		[]string{"3", "Flange", "5", "bundle"},
	)

	out := lineitem.NewExtractor(nil).Extract(m)

	require.Len(t, out.Items, 3)
	assert.Equal(t, 1.0, out.Items[0].Confidence.Overall)

	dup := out.Items[1]
	assert.Equal(t, 44.0, *dup.Quantity)
	assert.Equal(t, 0.6, dup.Confidence.Fields["quantity"])
	assert.Equal(t, 0.51, dup.Confidence.Fields["description"])
	assert.InDelta(t, 0.2+0.25*0.51+0.25*0.6+0.15+0.15, dup.Confidence.Overall, 0.001)
	require.NotEmpty(t, dup.Confidence.Warnings)
	assert.Contains(t, dup.Confidence.Warnings[0], "repeated digits")

	assert.Equal(t, 0.6, out.Items[2].Confidence.Fields["unit"])
}
