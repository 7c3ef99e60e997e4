package table_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartmetal/internal/domain"
	"smartmetal/internal/table"
)

func idx(t *testing.T, m domain.ColumnMap, role domain.ColumnRole) int {
	t.Helper()
	i, ok := m.Index(role)
	require.True(t, ok, "role %s not mapped", role)
	return i
}

func TestMapHeader_BasicHeader(t *testing.T) {
	tbl := &domain.Table{Rows: [][]string{
		{"Item", "Description", "Qty", "Unit"},
		{"1", "Flange", "10", "EA"},
	}}

	m, err := table.MapHeader(tbl, 0, 0)

	require.NoError(t, err)
	assert.Equal(t, 0, m.HeaderRow)
	assert.Equal(t, 1, m.DataStart)
	assert.False(t, m.Fuzzy)
	assert.Equal(t, 0, idx(t, m.Columns, domain.RoleItemNumber))
	assert.Equal(t, 1, idx(t, m.Columns, domain.RoleDescription))
	assert.Equal(t, 2, idx(t, m.Columns, domain.RoleQuantity))
	assert.Equal(t, 3, idx(t, m.Columns, domain.RoleUnit))
}

func TestMapHeader_SkipsTitleRowsAndSplitsSizes(t *testing.T) {
	tbl := &domain.Table{Rows: [][]string{
		{"MATERIAL TAKE-OFF", "", "", "", "", "", ""},
		{"S.No.", "Material Description", "Qty (Nos)", "UOM", "Size", "Size", "Remarks"},
		{"1", "Elbow 90 LR", "4", "NOS", "6\"", "4\"", ""},
	}}

	m, err := table.MapHeader(tbl, 0, 0)

	require.NoError(t, err)
	assert.Equal(t, 1, m.HeaderRow)
	assert.Equal(t, 2, m.DataStart)
	assert.Equal(t, 0, idx(t, m.Columns, domain.RoleItemNumber))
	assert.Equal(t, 1, idx(t, m.Columns, domain.RoleDescription))
	assert.Equal(t, 2, idx(t, m.Columns, domain.RoleQuantity))
	assert.Equal(t, 3, idx(t, m.Columns, domain.RoleUnit))
	assert.Equal(t, 4, idx(t, m.Columns, domain.RoleSize1))
	assert.Equal(t, 5, idx(t, m.Columns, domain.RoleSize2))
	assert.Equal(t, 6, idx(t, m.Columns, domain.RoleNotes))
}

func TestMapHeader_ColumnGetsOnlyFirstMatchingRole(t *testing.T) {
	tbl := &domain.Table{Rows: [][]string{
		{"Item Description", "Qty", "Description"},
		{"Flange", "2", "dup"},
	}}

	m, err := table.MapHeader(tbl, 0, 0)

	require.NoError(t, err)
	assert.False(t, m.Columns.Has(domain.RoleItemNumber))
	assert.Equal(t, 0, idx(t, m.Columns, domain.RoleDescription))
	assert.Equal(t, 1, idx(t, m.Columns, domain.RoleQuantity))
	_, ok := m.Columns.RoleAt(2)
	assert.False(t, ok)
}

func TestMapHeader_FuzzyFallback(t *testing.T) {
	tbl := &domain.Table{Rows: [][]string{
		{"Itm", "Descrption", "Quantiy", "Unit"},
		{"1", "Flange", "10", "EA"},
	}}

	m, err := table.MapHeader(tbl, 0, 0)

	require.NoError(t, err)
	assert.True(t, m.Fuzzy)
	assert.Equal(t, 1, idx(t, m.Columns, domain.RoleDescription))
	assert.Equal(t, 2, idx(t, m.Columns, domain.RoleQuantity))
}

func TestMapHeader_RejectsTableWithoutCoreRoles(t *testing.T) {
	tbl := &domain.Table{Rows: [][]string{
		{"Rev", "Date", "Prepared By"},
		{"A", "2024-01-01", "JS"},
	}}

	m, err := table.MapHeader(tbl, 7, 0)

	assert.Nil(t, m)
	assert.ErrorIs(t, err, domain.ErrTableRejected)
	var rej *domain.TableRejectedError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, 7, rej.TableIndex)
}

func TestNormalizeHeader(t *testing.T) {
	cases := map[string]string{
		"  Qty.\n(Nos) ":    "qty",
		"Ｑｔｙ":               "qty",
		"Material   Desc:":  "material desc",
		"(mm)":              "(mm)",
		"Size [inch] (NPS)": "size",
		"Unit of Measure":   "unit of measure",
	}
	for in, want := range cases {
		assert.Equal(t, want, table.NormalizeHeader(in), in)
	}
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "heat_no", table.Slug("Heat No."))
	assert.Equal(t, "weight_kg", table.Slug("Weight (kg)"))
	assert.Equal(t, "", table.Slug("  "))
}
