package export

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"smartmetal/internal/domain"
)

func qty(v float64) *float64 { return &v }

func sampleResult() *domain.ExtractionResult {
	return &domain.ExtractionResult{
		Metadata: domain.Metadata{ClientName: "ACME", Reference: "RFQ-7"},
		LineItems: []domain.LineItem{
			{
				LineNumber:  1,
				Description: "Flange WN 2\"",
				Quantity:    qty(10),
				Unit:        "EA",
				ExtraFields: map[string]string{"weight": "4.2", "heat": "H1"},
				Confidence:  domain.ItemConfidence{Score: 0.9, Source: domain.SourceMerged},
			},
			{
				LineNumber:  2,
				Description: "Gasket",
				Unit:        "EA",
				Confidence: domain.ItemConfidence{
					Score:    0.55,
					Source:   domain.SourceBackfill,
					Warnings: []string{"missing quantity", "restored"},
				},
			},
		},
		Confidence: domain.ConfidenceSummary{
			ExtractionScore: 0.81,
			CoverageRatio:   1,
			Mode:            domain.ModeHybrid,
			Warnings:        []string{"1 line item(s) missing from model output were restored from the source tables"},
		},
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleResult()))

	data := buf.Bytes()
	require.True(t, bytes.HasPrefix(data, BOM))

	rows, err := csv.NewReader(bytes.NewReader(data[len(BOM):])).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, columns, rows[0])

	assert.Equal(t, []string{"1", "Flange WN 2\"", "10", "EA", "", "", "", "", "", "", "", "heat=H1; weight=4.2", "merged", "0.900", ""}, rows[1])
	assert.Equal(t, "", rows[2][2], "missing quantity must stay empty, not 0")
	assert.Equal(t, "backfill", rows[2][12])
	assert.Equal(t, "missing quantity; restored", rows[2][14])
}

func TestWriteXLSX(t *testing.T) {
	b, err := WriteXLSX(sampleResult())
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(b))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	rows, err := f.GetRows(itemsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Line", rows[0][0])
	assert.Equal(t, "Flange WN 2\"", rows[1][1])
	assert.Equal(t, "10", rows[1][2])
	assert.Equal(t, "", rows[2][2])

	client, err := f.GetCellValue(summarySheet, "B1")
	require.NoError(t, err)
	assert.Equal(t, "ACME", client)
	mode, err := f.GetCellValue(summarySheet, "B7")
	require.NoError(t, err)
	assert.Equal(t, "hybrid", mode)
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    domain.ExportFormat
		wantErr bool
	}{
		{"csv", domain.ExportFormatCSV, false},
		{"XLSX", domain.ExportFormatXLSX, false},
		{"", domain.ExportFormatCSV, false},
		{"pdf", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrUnsupportedExportFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWrite_UnsupportedFormat(t *testing.T) {
	var buf bytes.Buffer
	err := Write(&buf, sampleResult(), "pdf")
	assert.ErrorIs(t, err, domain.ErrUnsupportedExportFormat)
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "text/csv; charset=utf-8", ContentType(domain.ExportFormatCSV))
	assert.Contains(t, ContentType(domain.ExportFormatXLSX), "spreadsheetml")
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"simple", "RFQ 2024 Piping", "RFQ_2024_Piping"},
		{"s3 reference", "s3://ocr/in/rfq-7.json", "s3_ocr_in_rfq-7_json"},
		{"hyphens and underscores preserved", "mto-rev_B", "mto-rev_B"},
		{"consecutive underscores collapsed", "test___doc", "test_doc"},
		{"leading/trailing cleaned", "  hello  ", "hello"},
		{"empty", "", "line_items"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeFilename(tt.input))
		})
	}
}

func TestBuildFilename(t *testing.T) {
	today := time.Now().Format("2006-01-02")
	assert.Equal(t, "RFQ-7_"+today+".xlsx", BuildFilename("RFQ-7", domain.ExportFormatXLSX))
}
