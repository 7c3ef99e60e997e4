package domain

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Table is one detected table grid as produced by the OCR collaborator.
type Table struct {
	Rows        [][]string `json:"rows"`
	RowCount    int        `json:"rowCount,omitempty"`
	ColumnCount int        `json:"columnCount,omitempty"`
	PageNumbers []int      `json:"pageNumbers,omitempty"`
}

// Cell returns the trimmed cell at (row, col), or "" when out of range.
func (t *Table) Cell(row, col int) string {
	if row < 0 || row >= len(t.Rows) || col < 0 || col >= len(t.Rows[row]) {
		return ""
	}
	return strings.TrimSpace(t.Rows[row][col])
}

// Width returns the widest row length. ColumnCount is advisory only.
func (t *Table) Width() int {
	w := 0
	for _, r := range t.Rows {
		if len(r) > w {
			w = len(r)
		}
	}
	return w
}

// FirstPage returns the lowest page number the table spans, or 0 if unknown.
func (t *Table) FirstPage() int {
	first := 0
	for _, p := range t.PageNumbers {
		if p > 0 && (first == 0 || p < first) {
			first = p
		}
	}
	return first
}

// LastPage returns the highest page number the table spans, or 0 if unknown.
func (t *Table) LastPage() int {
	last := 0
	for _, p := range t.PageNumbers {
		if p > last {
			last = p
		}
	}
	return last
}

// Document is the OCR input: raw text plus detected tables.
type Document struct {
	Text   string  `json:"text"`
	Tables []Table `json:"tables"`
}

// Validate rejects documents with nothing to extract from.
func (d *Document) Validate() error {
	if strings.TrimSpace(d.Text) == "" && len(d.Tables) == 0 {
		return ErrInvalidDocument
	}
	return nil
}

// ColumnMap maps semantic roles to zero-based column indexes. It is built
// once and never mutated; use NewColumnMap to derive a new one.
type ColumnMap struct {
	idx map[ColumnRole]int
}

// NewColumnMap copies assign into a new ColumnMap. Negative indexes are
// treated as unassigned.
func NewColumnMap(assign map[ColumnRole]int) ColumnMap {
	m := ColumnMap{idx: make(map[ColumnRole]int, len(assign))}
	for r, i := range assign {
		if i >= 0 {
			m.idx[r] = i
		}
	}
	return m
}

// Index returns the column assigned to role.
func (m ColumnMap) Index(role ColumnRole) (int, bool) {
	i, ok := m.idx[role]
	return i, ok
}

// Has reports whether role is assigned.
func (m ColumnMap) Has(role ColumnRole) bool {
	_, ok := m.idx[role]
	return ok
}

// RoleAt returns the role assigned to column col.
func (m ColumnMap) RoleAt(col int) (ColumnRole, bool) {
	for r, i := range m.idx {
		if i == col {
			return r, true
		}
	}
	return "", false
}

// Roles returns the assigned roles in priority order.
func (m ColumnMap) Roles() []ColumnRole {
	out := make([]ColumnRole, 0, len(m.idx))
	for _, r := range RolePriority {
		if _, ok := m.idx[r]; ok {
			out = append(out, r)
		}
	}
	return out
}

// Len returns the number of assigned roles.
func (m ColumnMap) Len() int {
	return len(m.idx)
}

// Assignments returns a copy of the role to column assignments.
func (m ColumnMap) Assignments() map[ColumnRole]int {
	out := make(map[ColumnRole]int, len(m.idx))
	for r, i := range m.idx {
		out[r] = i
	}
	return out
}

func (m ColumnMap) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.idx)
}

// FieldConfidence holds per-field scores in [0,1] plus validation warnings.
type FieldConfidence struct {
	Fields   map[string]float64 `json:"fields"`
	Overall  float64            `json:"overall"`
	Warnings []string           `json:"warnings,omitempty"`
}

// RawLineItem is a line item extracted deterministically from a table row.
// It is the source of truth used for reconciliation.
type RawLineItem struct {
	LineNumber    int               `json:"line_number"`
	ItemNumber    string            `json:"item_number,omitempty"`
	Synthetic     bool              `json:"synthetic,omitempty"`
	Description   string            `json:"description"`
	Quantity      *float64          `json:"quantity"`
	Unit          string            `json:"unit"`
	Specification string            `json:"specification"`
	Size1         string            `json:"size1"`
	Size2         string            `json:"size2"`
	Size          string            `json:"size,omitempty"`
	Notes         string            `json:"notes"`
	Revision      string            `json:"revision"`
	Group         string            `json:"group,omitempty"`
	ExtraFields   map[string]string `json:"extra_fields,omitempty"`
	SourcePage    int               `json:"source_page,omitempty"`
	SourceTable   int               `json:"source_table"`
	RowIndex      int               `json:"row_index"`
	Confidence    FieldConfidence   `json:"_confidence"`
}

// NormalizedLineItem is the model-normalized counterpart of a RawLineItem,
// joined back by LineNumber.
type NormalizedLineItem struct {
	LineNumber    int               `json:"line_number"`
	Description   string            `json:"description"`
	Quantity      *float64          `json:"quantity"`
	Unit          string            `json:"unit"`
	Specification string            `json:"specification"`
	Size1         string            `json:"size1"`
	Size2         string            `json:"size2"`
	Notes         string            `json:"notes"`
	Revision      string            `json:"revision"`
	Group         string            `json:"group,omitempty"`
	ItemType      string            `json:"item_type,omitempty"`
	ExtraFields   map[string]string `json:"extra_fields,omitempty"`
}

// ItemConfidence is the _confidence block attached to every final line item.
type ItemConfidence struct {
	Score        float64               `json:"score"`
	Source       ItemSource            `json:"source"`
	Fields       map[string]float64    `json:"fields,omitempty"`
	FieldSources map[string]ItemSource `json:"field_sources,omitempty"`
	Warnings     []string              `json:"warnings,omitempty"`
}

// LineItem is a final, reconciled line item.
type LineItem struct {
	LineNumber    int               `json:"line_number"`
	Description   string            `json:"description"`
	Quantity      *float64          `json:"quantity"`
	Unit          string            `json:"unit"`
	Specification string            `json:"specification"`
	Size1         string            `json:"size1"`
	Size2         string            `json:"size2"`
	Notes         string            `json:"notes"`
	Revision      string            `json:"revision"`
	Group         string            `json:"group,omitempty"`
	ItemType      string            `json:"item_type,omitempty"`
	ExtraFields   map[string]string `json:"extra_fields"`
	Confidence    ItemConfidence    `json:"_confidence"`
}

// Metadata is document-level information.
type Metadata struct {
	ClientName    string `json:"client_name"`
	Reference     string `json:"reference"`
	Date          string `json:"date"`
	PaymentTerms  string `json:"payment_terms"`
	DeliveryTerms string `json:"delivery_terms"`
	Remarks       string `json:"remarks"`
}

// IsZero reports whether no metadata field is set.
func (m Metadata) IsZero() bool {
	return m == Metadata{}
}

// ConfidenceSummary is the document-level _confidence block.
type ConfidenceSummary struct {
	ExtractionScore  float64          `json:"extraction_score"`
	CoverageRatio    float64          `json:"coverage_ratio"`
	ExpectedRows     int              `json:"expected_rows"`
	ActualRows       int              `json:"actual_rows"`
	TableConfidence  float64          `json:"table_confidence"`
	NumberingPattern NumberingPattern `json:"numbering_pattern"`
	Mode             ExtractionMode   `json:"mode"`
	Backfilled       int              `json:"backfilled"`
	ModelBackend     string           `json:"model_backend,omitempty"`
	Warnings         []string         `json:"warnings"`
}

// ExtractionResult is the engine's output for one document.
type ExtractionResult struct {
	Metadata   Metadata          `json:"metadata"`
	LineItems  []LineItem        `json:"line_items"`
	Confidence ConfidenceSummary `json:"_confidence"`
}

// TableDiagnostic is one entry in the ranked table-scoring report.
type TableDiagnostic struct {
	TableIndex int      `json:"table_index"`
	Score      float64  `json:"score"`
	Accepted   bool     `json:"accepted"`
	Reasons    []string `json:"reasons"`
	Pages      []int    `json:"pages,omitempty"`
}

// SortDiagnostics orders diagnostics by score descending, then table index.
func SortDiagnostics(d []TableDiagnostic) {
	sort.SliceStable(d, func(i, j int) bool {
		if d[i].Score != d[j].Score {
			return d[i].Score > d[j].Score
		}
		return d[i].TableIndex < d[j].TableIndex
	})
}

// ExtractionRun is the audit record of one extraction.
type ExtractionRun struct {
	ID               uuid.UUID       `db:"id" json:"id"`
	DocumentRef      string          `db:"document_ref" json:"document_ref"`
	Status           RunStatus       `db:"status" json:"status"`
	Mode             ExtractionMode  `db:"mode" json:"mode"`
	ExpectedRows     int             `db:"expected_rows" json:"expected_rows"`
	ActualRows       int             `db:"actual_rows" json:"actual_rows"`
	CoverageRatio    float64         `db:"coverage_ratio" json:"coverage_ratio"`
	ExtractionScore  float64         `db:"extraction_score" json:"extraction_score"`
	ModelBackend     string          `db:"model_backend" json:"model_backend"`
	ErrorKind        string          `db:"error_kind" json:"error_kind"`
	ErrorMessage     string          `db:"error_message" json:"error_message"`
	TableDiagnostics json.RawMessage `db:"table_diagnostics" json:"table_diagnostics"`
	Warnings         json.RawMessage `db:"warnings" json:"warnings"`
	DurationMS       int64           `db:"duration_ms" json:"duration_ms"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
}
