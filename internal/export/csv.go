// Package export renders extraction results as CSV or XLSX.
package export

import (
	"encoding/csv"
	"io"
	"sort"
	"strconv"
	"strings"

	"smartmetal/internal/domain"
)

// UTF-8 BOM bytes for Excel compatibility on Windows.
var BOM = []byte{0xEF, 0xBB, 0xBF}

// columns defines the line-item header row.
var columns = []string{
	"Line",
	"Description",
	"Quantity",
	"Unit",
	"Specification",
	"Size 1",
	"Size 2",
	"Notes",
	"Revision",
	"Group",
	"Item Type",
	"Extra Fields",
	"Source",
	"Confidence",
	"Warnings",
}

// Writer wraps csv.Writer for exporting line items as CSV.
type Writer struct {
	csv *csv.Writer
}

// NewWriter creates a Writer that writes CSV to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{csv: csv.NewWriter(w)}
}

// WriteHeader writes the header row.
func (w *Writer) WriteHeader() error {
	return w.csv.Write(columns)
}

// WriteItems converts line items to CSV rows and writes them.
func (w *Writer) WriteItems(items []domain.LineItem) error {
	for i := range items {
		if err := w.csv.Write(itemToRow(&items[i])); err != nil {
			return err
		}
	}
	return nil
}

// Flush flushes the underlying csv.Writer buffer.
func (w *Writer) Flush() {
	w.csv.Flush()
}

// Error returns any error from the underlying csv.Writer.
func (w *Writer) Error() error {
	return w.csv.Error()
}

// WriteCSV writes res as a BOM-prefixed CSV document.
func WriteCSV(out io.Writer, res *domain.ExtractionResult) error {
	if _, err := out.Write(BOM); err != nil {
		return err
	}
	w := NewWriter(out)
	if err := w.WriteHeader(); err != nil {
		return err
	}
	if err := w.WriteItems(res.LineItems); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

// itemToRow converts a line item to one row. A missing quantity stays an
// empty cell.
func itemToRow(it *domain.LineItem) []string {
	return []string{
		strconv.Itoa(it.LineNumber),
		it.Description,
		formatQuantity(it.Quantity),
		it.Unit,
		it.Specification,
		it.Size1,
		it.Size2,
		it.Notes,
		it.Revision,
		it.Group,
		it.ItemType,
		formatExtras(it.ExtraFields),
		string(it.Confidence.Source),
		strconv.FormatFloat(it.Confidence.Score, 'f', 3, 64),
		strings.Join(it.Confidence.Warnings, "; "),
	}
}

func formatQuantity(q *float64) string {
	if q == nil {
		return ""
	}
	return strconv.FormatFloat(*q, 'f', -1, 64)
}

// formatExtras renders extra fields as "key=value" pairs in key order.
func formatExtras(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + m[k]
	}
	return strings.Join(parts, "; ")
}
