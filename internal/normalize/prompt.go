package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"smartmetal/internal/domain"
	"smartmetal/internal/port"
)

const (
	maxPromptTextRunes = 20000
	maxCellRunes       = 80
)

const outputSchema = `{
  "metadata": {
    "client_name": "", "reference": "", "date": "",
    "payment_terms": "", "delivery_terms": "", "remarks": ""
  },
  "line_items": [
    {
      "line_number": 1,
      "description": "",
      "quantity": 0, "unit": "",
      "specification": "",
      "size1": "", "size2": "",
      "notes": "", "revision": "",
      "item_type": "",
      "extra_fields": {}
    }
  ]
}`

// PromptInput is everything a normalization request is built from.
type PromptInput struct {
	Mode       domain.ExtractionMode
	Text       string
	Tables     []domain.Table
	Items      []domain.RawLineItem
	Vocabulary *Vocabulary
	// Part describes a chunk, e.g. "pages 4-6"; empty for a whole document.
	Part string
	// WantMetadata asks the model for document metadata.
	WantMetadata bool
}

// BuildPrompt returns the system and user messages for one request.
func BuildPrompt(in PromptInput) []port.Message {
	return []port.Message{
		{Role: port.RoleSystem, Content: systemPrompt(in)},
		{Role: port.RoleUser, Content: userPrompt(in)},
	}
}

func systemPrompt(in PromptInput) string {
	var sb strings.Builder
	sb.WriteString("You are a procurement document assistant. You turn requests for quotation, material take-offs and purchase orders into structured line items.\n\n")
	sb.WriteString("IMPORTANT INSTRUCTIONS:\n")

	if in.Mode == domain.ModeHybrid {
		fmt.Fprintf(&sb, "- The %d RAW LINE ITEMS below were already extracted from the document tables. Your job is normalization only.\n", len(in.Items))
		sb.WriteString("- Return exactly one line_items entry per raw item, with the same line_number. Do not add, merge, split, reorder or drop items.\n")
		sb.WriteString("- Keep quantity null when the raw quantity is null. Never invent a quantity and never replace a missing quantity with 0.\n")
		sb.WriteString("- Clean descriptions (fix OCR spacing, expand obvious abbreviations) without changing their meaning.\n")
	} else {
		sb.WriteString("- Extract EVERY purchasable line item from every table and page. Do not skip, summarize or omit any items.\n")
		sb.WriteString("- Ignore administrative tables (document registers, approval or revision matrices) and total/summary rows.\n")
		sb.WriteString("- Use the item number printed in the document as line_number. When there is none, number items in document order.\n")
		sb.WriteString("- Use null for a quantity that is not printed.\n")
	}
	sb.WriteString("- Move standards, grades, schedules and pressure classes into specification; keep sizes in size1/size2.\n")
	sb.WriteString("- Write units in their canonical form from the vocabulary.\n")
	sb.WriteString("- Keep columns you cannot place in extra_fields with their original header as key.\n")
	if in.WantMetadata {
		sb.WriteString("- Fill metadata from the document text; leave a field empty when it is not stated.\n")
	} else {
		sb.WriteString("- Return an empty metadata object; only line items are needed from this part.\n")
	}

	sb.WriteString("\nReturn ONLY valid JSON with no markdown formatting, no code fences, no comments and no explanation.\n")
	sb.WriteString("The JSON object must follow this schema:\n")
	sb.WriteString(outputSchema)
	sb.WriteString("\n")

	if in.Vocabulary != nil {
		sb.WriteString("\n")
		sb.WriteString(in.Vocabulary.Render())
	}
	return sb.String()
}

func userPrompt(in PromptInput) string {
	var sb strings.Builder
	if in.Part != "" {
		fmt.Fprintf(&sb, "This request covers %s of a larger document.\n\n", in.Part)
	}

	if in.Text != "" {
		sb.WriteString("DOCUMENT TEXT:\n")
		sb.WriteString(clip(in.Text, maxPromptTextRunes))
		sb.WriteString("\n\n")
	}

	if len(in.Tables) > 0 {
		sb.WriteString("TABLES:\n")
		for i := range in.Tables {
			sb.WriteString(RenderTable(&in.Tables[i], i+1))
		}
		sb.WriteString("\n")
	}

	if len(in.Items) > 0 {
		sb.WriteString("RAW LINE ITEMS (one JSON object per line):\n")
		for i := range in.Items {
			sb.WriteString(renderItem(&in.Items[i]))
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// RenderTable formats a table as compact pipe-separated rows.
func RenderTable(t *domain.Table, n int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[Table %d", n)
	if len(t.PageNumbers) > 0 {
		pages := make([]string, len(t.PageNumbers))
		for i, p := range t.PageNumbers {
			pages[i] = strconv.Itoa(p)
		}
		fmt.Fprintf(&sb, ", page %s", strings.Join(pages, ","))
	}
	sb.WriteString("]\n")
	for _, row := range t.Rows {
		cells := make([]string, len(row))
		for i, c := range row {
			cells[i] = clip(strings.Join(strings.Fields(c), " "), maxCellRunes)
		}
		sb.WriteString("| ")
		sb.WriteString(strings.Join(cells, " | "))
		sb.WriteString(" |\n")
	}
	return sb.String()
}

// promptItem is the compact view of a raw item sent to the model.
type promptItem struct {
	LineNumber    int               `json:"line_number"`
	Description   string            `json:"description"`
	Quantity      *float64          `json:"quantity"`
	Unit          string            `json:"unit,omitempty"`
	Specification string            `json:"specification,omitempty"`
	Size1         string            `json:"size1,omitempty"`
	Size2         string            `json:"size2,omitempty"`
	Notes         string            `json:"notes,omitempty"`
	Revision      string            `json:"revision,omitempty"`
	Group         string            `json:"group,omitempty"`
	ExtraFields   map[string]string `json:"extra_fields,omitempty"`
}

func renderItem(it *domain.RawLineItem) string {
	b, err := json.Marshal(promptItem{
		LineNumber:    it.LineNumber,
		Description:   it.Description,
		Quantity:      it.Quantity,
		Unit:          it.Unit,
		Specification: it.Specification,
		Size1:         it.Size1,
		Size2:         it.Size2,
		Notes:         it.Notes,
		Revision:      it.Revision,
		Group:         it.Group,
		ExtraFields:   it.ExtraFields,
	})
	if err != nil {
		return fmt.Sprintf(`{"line_number":%d}`, it.LineNumber)
	}
	return string(b)
}

func clip(s string, maxRunes int) string {
	r := []rune(s)
	if len(r) <= maxRunes {
		return s
	}
	return string(r[:maxRunes]) + " ..."
}

// OutputBudget returns the max output tokens for a request covering items
// line items: a base allowance plus a per-item allowance, clamped to maxTokens.
func OutputBudget(items, base, perItem, maxTokens int) int {
	if items < 0 {
		items = 0
	}
	budget := base + perItem*items
	if maxTokens > 0 && budget > maxTokens {
		budget = maxTokens
	}
	return budget
}
