package export

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"smartmetal/internal/domain"
)

const (
	itemsSheet   = "Line Items"
	summarySheet = "Summary"
)

// WriteXLSX renders res as a workbook with a line-item sheet and a summary
// sheet holding metadata and confidence.
func WriteXLSX(res *domain.ExtractionResult) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", itemsSheet); err != nil {
		return nil, err
	}
	for i, h := range columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(itemsSheet, cell, h)
	}

	for r := range res.LineItems {
		it := &res.LineItems[r]
		row := r + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(itemsSheet, cell, v)
		}
		values := itemToRow(it)
		for c, v := range values {
			write(c+1, v)
		}
		// Numeric cells stay numeric in the workbook.
		write(1, it.LineNumber)
		if it.Quantity != nil {
			write(3, *it.Quantity)
		}
		write(14, it.Confidence.Score)
	}

	_ = f.SetColWidth(itemsSheet, "A", "A", 8)
	_ = f.SetColWidth(itemsSheet, "B", "B", 48)
	_ = f.SetColWidth(itemsSheet, "C", "D", 10)
	_ = f.SetColWidth(itemsSheet, "E", "K", 16)
	_ = f.SetColWidth(itemsSheet, "L", "L", 32)
	_ = f.SetColWidth(itemsSheet, "O", "O", 60)
	if err := f.SetPanes(itemsSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return nil, err
	}

	if _, err := f.NewSheet(summarySheet); err != nil {
		return nil, err
	}
	conf := res.Confidence
	summary := [][2]any{
		{"Client", res.Metadata.ClientName},
		{"Reference", res.Metadata.Reference},
		{"Date", res.Metadata.Date},
		{"Payment Terms", res.Metadata.PaymentTerms},
		{"Delivery Terms", res.Metadata.DeliveryTerms},
		{"Remarks", res.Metadata.Remarks},
		{"Mode", string(conf.Mode)},
		{"Model Backend", conf.ModelBackend},
		{"Extraction Score", conf.ExtractionScore},
		{"Coverage Ratio", conf.CoverageRatio},
		{"Expected Rows", conf.ExpectedRows},
		{"Actual Rows", conf.ActualRows},
		{"Backfilled", conf.Backfilled},
		{"Numbering", string(conf.NumberingPattern)},
		{"Warnings", strings.Join(conf.Warnings, "\n")},
	}
	for i, kv := range summary {
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", i+1), kv[0])
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", i+1), kv[1])
	}
	_ = f.SetColWidth(summarySheet, "A", "A", 18)
	_ = f.SetColWidth(summarySheet, "B", "B", 80)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}
