package domain

// ColumnRole is the semantic meaning assigned to a table column.
type ColumnRole string

const (
	RoleItemNumber    ColumnRole = "item_number"
	RoleDescription   ColumnRole = "description"
	RoleQuantity      ColumnRole = "quantity"
	RoleUnit          ColumnRole = "unit"
	RoleSize1         ColumnRole = "size1"
	RoleSize2         ColumnRole = "size2"
	RoleSpecification ColumnRole = "specification"
	RoleNotes         ColumnRole = "notes"
	RoleRevision      ColumnRole = "revision"
	RoleGroup         ColumnRole = "group"
)

// RolePriority is the order in which roles claim columns. A column is
// assigned to the first role that matches it.
var RolePriority = []ColumnRole{
	RoleItemNumber,
	RoleDescription,
	RoleQuantity,
	RoleUnit,
	RoleSize1,
	RoleSize2,
	RoleSpecification,
	RoleNotes,
	RoleRevision,
	RoleGroup,
}

// ExtractionMode records how the model was used for a document.
type ExtractionMode string

const (
	// ModeHybrid: raw items were extracted and the model only normalized them.
	ModeHybrid ExtractionMode = "hybrid"
	// ModeFull: no raw items, the model extracted from text and tables.
	ModeFull ExtractionMode = "full"
	// ModeRawOnly: no model configured, raw items are the result.
	ModeRawOnly ExtractionMode = "raw_only"
)

// NumberingPattern classifies the item-number scheme of a document.
type NumberingPattern string

const (
	NumberingDense  NumberingPattern = "dense"
	NumberingSparse NumberingPattern = "sparse"
	NumberingNone   NumberingPattern = "none"
)

// ItemSource records where a final line item came from.
type ItemSource string

const (
	SourceModel    ItemSource = "model"
	SourceRaw      ItemSource = "raw"
	SourceMerged   ItemSource = "merged"
	SourceBackfill ItemSource = "backfill"
)

// RunStatus is the outcome of an extraction run.
type RunStatus string

const (
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// ExportFormat is a supported result export format.
type ExportFormat string

const (
	ExportFormatCSV  ExportFormat = "csv"
	ExportFormatXLSX ExportFormat = "xlsx"
)
