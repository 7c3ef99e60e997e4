package table_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartmetal/internal/domain"
	"smartmetal/internal/table"
)

func lineItemTable(pages []int, rows ...[]string) domain.Table {
	all := append([][]string{{"Item", "Description", "Qty", "Unit"}}, rows...)
	return domain.Table{Rows: all, PageNumbers: pages}
}

func hasReason(reasons []string, prefix string) bool {
	for _, r := range reasons {
		if strings.HasPrefix(r, prefix) {
			return true
		}
	}
	return false
}

func TestSelector_Score_LineItemTable(t *testing.T) {
	tbl := lineItemTable(nil,
		[]string{"1", "Flange", "10", "EA"},
		[]string{"2", "Gasket", "20", "EA"},
		[]string{"3", "Bolt", "40", "EA"},
	)
	s := table.NewSelector(table.SelectOptions{}, nil)

	score, reasons, numeric := s.Score(&tbl)

	assert.Equal(t, 13.0, score)
	assert.Equal(t, 3, numeric)
	assert.True(t, hasReason(reasons, "header:item_number"))
	assert.True(t, hasReason(reasons, "numeric_rows:3"))
}

func TestSelector_Score_PenalizesApprovalMatrix(t *testing.T) {
	tbl := domain.Table{Rows: [][]string{
		{"Rev", "Date", "Description", "Prepared By", "Checked By", "Approved By"},
		{"A", "01.02.2024", "Issued for review", "AB", "CD", "EF"},
	}}
	s := table.NewSelector(table.SelectOptions{}, nil)

	score, reasons, _ := s.Score(&tbl)

	assert.Less(t, score, table.DefaultScoreThreshold)
	assert.True(t, hasReason(reasons, "admin:approval_matrix"))
}

func TestSelector_Score_PenalizesDocumentRegister(t *testing.T) {
	tbl := domain.Table{Rows: [][]string{
		{"Sr No", "Document No", "Document Title", "Qty"},
		{"1", "DOC-001", "P&ID", "1"},
	}}
	s := table.NewSelector(table.SelectOptions{}, nil)

	score, reasons, _ := s.Score(&tbl)

	assert.Less(t, score, table.DefaultScoreThreshold)
	assert.True(t, hasReason(reasons, "admin:document_register"))
}

func TestSelector_Score_DrawingNumberColumnInLineItemTable(t *testing.T) {
	tbl := domain.Table{Rows: [][]string{
		{"Item", "Drawing No", "Description", "Qty", "Unit"},
		{"1", "ISO-1001", "Pipe 2\" SCH 40", "12", "M"},
		{"2", "ISO-1001", "Elbow 90 LR 2\"", "4", "EA"},
		{"3", "ISO-1002", "Gate valve 2\"", "1", "EA"},
	}}
	s := table.NewSelector(table.SelectOptions{}, nil)

	score, reasons, _ := s.Score(&tbl)

	assert.False(t, hasReason(reasons, "admin:document_register"))
	assert.GreaterOrEqual(t, score, table.DefaultScoreThreshold)
	cands, _ := s.Select([]domain.Table{tbl})
	assert.Len(t, cands, 1)
}

func TestSelector_Score_DegenerateTable(t *testing.T) {
	tbl := domain.Table{Rows: [][]string{{"Item", "Description", "Qty", "Unit"}}}
	s := table.NewSelector(table.SelectOptions{}, nil)

	score, reasons, _ := s.Score(&tbl)

	assert.Equal(t, 1.0, score)
	assert.True(t, hasReason(reasons, "degenerate_shape"))
}

func TestSelector_Select_AcceptsAllQualifyingTablesInSourceOrder(t *testing.T) {
	tables := []domain.Table{
		{Rows: [][]string{
			{"Rev", "Date", "Description", "Approved By"},
			{"0", "2024", "IFC", "XY"},
		}},
		lineItemTable([]int{1}, []string{"1", "Flange", "10", "EA"}),
		{Rows: [][]string{
			{"Item No", "Description", "Unit", "Size"},
			{"1", "Pipe", "M", "2\""},
			{"2", "Pipe", "M", "3\""},
			{"3", "Pipe", "M", "4\""},
		}},
		lineItemTable([]int{2}, []string{"2", "Valve", "2", "EA"}),
	}
	s := table.NewSelector(table.SelectOptions{}, nil)

	cands, diags := s.Select(tables)

	require.Len(t, cands, 2)
	assert.Equal(t, 1, cands[0].Index)
	assert.Equal(t, 3, cands[1].Index)
	require.Len(t, diags, 4)
	for i := 1; i < len(diags); i++ {
		assert.GreaterOrEqual(t, diags[i-1].Score, diags[i].Score)
	}
	for _, d := range diags {
		switch d.TableIndex {
		case 0:
			assert.False(t, d.Accepted)
			assert.True(t, hasReason(d.Reasons, "below_threshold"))
		case 2:
			assert.False(t, d.Accepted)
			assert.True(t, hasReason(d.Reasons, "rejected:"))
		default:
			assert.True(t, d.Accepted)
		}
	}
}

func TestConfidence(t *testing.T) {
	assert.Equal(t, 0.0, table.Confidence(nil))
	cands := []*table.Candidate{{Score: 12}, {Score: 6}, {Score: 30}}
	assert.InDelta(t, (1+0.5+1)/3.0, table.Confidence(cands), 1e-9)
}

func TestParsePositiveInt(t *testing.T) {
	n, ok := table.ParsePositiveInt(" 12. ")
	assert.True(t, ok)
	assert.Equal(t, 12, n)
	for _, s := range []string{"", "0", "-3", "A1", "1.5"} {
		_, ok := table.ParsePositiveInt(s)
		assert.False(t, ok, s)
	}
}
