package normalize

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"smartmetal/internal/domain"
	"smartmetal/internal/lineitem"
	"smartmetal/internal/table"
)

// Shape names the top-level layout a response arrived in.
type Shape string

const (
	ShapeLineItems Shape = "line_items"
	ShapeSections  Shape = "sections"
	ShapeArray     Shape = "array"
	ShapeNoItems   Shape = "no_items"
)

var (
	itemListKeys = []string{"line_items", "items", "lineItems"}
	metadataKeys = []string{"metadata", "header", "rfq_metadata"}
	sectionKeys  = []string{"sections"}

	metadataAliases = map[string][]string{
		"client_name":    {"client_name", "customer_name", "customer", "client", "buyer"},
		"reference":      {"reference", "reference_number", "rfq_number", "rfq_no", "po_number", "document_number"},
		"date":           {"date", "rfq_date", "document_date", "po_date"},
		"payment_terms":  {"payment_terms", "payment"},
		"delivery_terms": {"delivery_terms", "delivery", "incoterms"},
		"remarks":        {"remarks", "notes", "comments"},
	}

	// itemFields are the keys consumed into typed fields; everything else on
	// an item object lands in ExtraFields.
	itemFields = map[string][]string{
		"line_number":   {"line_number", "item_number", "item_no", "line_no", "item"},
		"description":   {"description", "desc", "material_description"},
		"quantity":      {"quantity", "qty"},
		"unit":          {"unit", "uom"},
		"specification": {"specification", "spec", "material", "standard", "grade"},
		"size1":         {"size1", "size", "size_1"},
		"size2":         {"size2", "size_2"},
		"notes":         {"notes", "remarks", "note"},
		"revision":      {"revision", "rev"},
		"group":         {"group", "section"},
		"item_type":     {"item_type", "type", "category"},
	}
	sectionNameKeys = []string{"name", "title", "section", "group"}
)

// Decoded is a response normalized into canonical records.
type Decoded struct {
	Shape    Shape
	Metadata domain.Metadata
	Items    []domain.NormalizedLineItem
	// Rejected holds one warning per item object that failed validation.
	Rejected []string
}

// HasItems reports whether the response carried an item list at all,
// even an empty one.
func (d *Decoded) HasItems() bool {
	return d.Shape != ShapeNoItems
}

// Decode converts a parsed response of any known variant into canonical
// records. validator may be nil.
func Decode(v any, validator *ItemValidator) (*Decoded, error) {
	d := &Decoded{}
	var rawItems []itemWithGroup

	switch root := v.(type) {
	case []any:
		d.Shape = ShapeArray
		rawItems = wrap(root, "")
	case map[string]any:
		d.Metadata = decodeMetadata(root)
		if list, ok := firstList(root, itemListKeys); ok {
			d.Shape = ShapeLineItems
			rawItems = wrap(list, "")
		} else if sections, ok := firstList(root, sectionKeys); ok {
			d.Shape = ShapeSections
			rawItems = flattenSections(sections)
		} else {
			d.Shape = ShapeNoItems
		}
	default:
		return nil, fmt.Errorf("unexpected response type %T", v)
	}

	for i, raw := range rawItems {
		if validator != nil {
			if err := validator.Validate(raw.value); err != nil {
				d.Rejected = append(d.Rejected, fmt.Sprintf("model item %d dropped: %v", i+1, err))
				continue
			}
		}
		obj, ok := raw.value.(map[string]any)
		if !ok {
			d.Rejected = append(d.Rejected, fmt.Sprintf("model item %d dropped: not an object", i+1))
			continue
		}
		d.Items = append(d.Items, decodeItem(obj, raw.group))
	}
	return d, nil
}

type itemWithGroup struct {
	value any
	group string
}

func wrap(list []any, group string) []itemWithGroup {
	out := make([]itemWithGroup, len(list))
	for i, v := range list {
		out[i] = itemWithGroup{value: v, group: group}
	}
	return out
}

func firstList(obj map[string]any, keys []string) ([]any, bool) {
	for _, k := range keys {
		if v, ok := obj[k]; ok {
			if list, ok := v.([]any); ok {
				return list, true
			}
		}
	}
	return nil, false
}

func flattenSections(sections []any) []itemWithGroup {
	var out []itemWithGroup
	for _, s := range sections {
		obj, ok := s.(map[string]any)
		if !ok {
			continue
		}
		name := ""
		for _, k := range sectionNameKeys {
			if n := asString(obj[k]); n != "" {
				name = n
				break
			}
		}
		if list, ok := firstList(obj, itemListKeys); ok {
			out = append(out, wrap(list, name)...)
		}
	}
	return out
}

func decodeMetadata(root map[string]any) domain.Metadata {
	var src map[string]any
	for _, k := range metadataKeys {
		if obj, ok := root[k].(map[string]any); ok {
			src = obj
			break
		}
	}
	if src == nil {
		return domain.Metadata{}
	}
	get := func(field string) string {
		for _, k := range metadataAliases[field] {
			if s := asString(src[k]); s != "" {
				return s
			}
		}
		return ""
	}
	return domain.Metadata{
		ClientName:    get("client_name"),
		Reference:     get("reference"),
		Date:          get("date"),
		PaymentTerms:  get("payment_terms"),
		DeliveryTerms: get("delivery_terms"),
		Remarks:       get("remarks"),
	}
}

func decodeItem(obj map[string]any, group string) domain.NormalizedLineItem {
	field := func(name string) any {
		for _, k := range itemFields[name] {
			if v, ok := obj[k]; ok && v != nil {
				return v
			}
		}
		return nil
	}
	str := func(name string) string {
		return asString(field(name))
	}

	item := domain.NormalizedLineItem{
		LineNumber:    asLineNumber(field("line_number")),
		Description:   str("description"),
		Quantity:      asQuantity(field("quantity")),
		Unit:          str("unit"),
		Specification: str("specification"),
		Size1:         str("size1"),
		Size2:         str("size2"),
		Notes:         str("notes"),
		Revision:      str("revision"),
		Group:         str("group"),
		ItemType:      strings.ToLower(str("item_type")),
	}
	if item.Group == "" {
		item.Group = group
	}
	if item.Unit != "" {
		item.Unit = lineitem.CanonicalUnit(item.Unit)
	}

	consumed := make(map[string]bool)
	for _, aliases := range itemFields {
		for _, k := range aliases {
			if _, ok := obj[k]; ok {
				consumed[k] = true
			}
		}
	}

	extras := make(map[string]string)
	if nested, ok := obj["extra_fields"].(map[string]any); ok {
		for k, v := range nested {
			if s := asString(v); s != "" {
				extras[k] = s
			}
		}
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if consumed[k] || k == "extra_fields" || strings.HasPrefix(k, "_") {
			continue
		}
		if s := asString(obj[k]); s != "" {
			extras[k] = s
		}
	}
	if len(extras) > 0 {
		item.ExtraFields = extras
	}
	return item
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func asLineNumber(v any) int {
	switch t := v.(type) {
	case float64:
		if t > 0 && t == math.Trunc(t) {
			return int(t)
		}
	case string:
		if n, ok := table.ParsePositiveInt(t); ok {
			return n
		}
	}
	return 0
}

// asQuantity keeps an absent or null quantity as nil, never 0.
func asQuantity(v any) *float64 {
	switch t := v.(type) {
	case float64:
		q := t
		return &q
	case string:
		if q, _, ok := lineitem.ParseQuantity(t); ok {
			return q
		}
	}
	return nil
}
