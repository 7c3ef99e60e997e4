package lineitem

import (
	"fmt"
	"math"
	"unicode/utf8"

	"smartmetal/internal/domain"
)

const (
	weightLineNumber  = 0.20
	weightDescription = 0.25
	weightQuantity    = 0.25
	weightUnit        = 0.15
	weightOther       = 0.15

	// descFullLength is the description length that earns full confidence.
	descFullLength = 20
)

// scoreItem fills item.Confidence from the parsed fields. optional holds the
// values of the mapped optional columns (specification, sizes, notes,
// revision).
func scoreItem(item *domain.RawLineItem, numericItem bool, optional []string) {
	fields := make(map[string]float64, 5)
	var warnings []string

	switch {
	case item.Synthetic:
		fields["line_number"] = 0.5
		warnings = append(warnings, "synthetic line number")
	case numericItem:
		fields["line_number"] = 1.0
	default:
		fields["line_number"] = 0.7
	}

	if n := utf8.RuneCountInString(item.Description); n == 0 {
		fields["description"] = 0
		warnings = append(warnings, "missing description")
	} else {
		if n > descFullLength {
			n = descFullLength
		}
		fields["description"] = 0.3 + 0.7*float64(n)/descFullLength
	}

	switch {
	case item.Quantity == nil:
		fields["quantity"] = 0
		warnings = append(warnings, "missing quantity")
	case *item.Quantity <= 0:
		fields["quantity"] = 0.3
		warnings = append(warnings, fmt.Sprintf("non-positive quantity %g", *item.Quantity))
	case hasRepeatedDigits(*item.Quantity):
		fields["quantity"] = 0.6
		warnings = append(warnings, fmt.Sprintf("quantity %g has repeated digits; verify against source", *item.Quantity))
	default:
		fields["quantity"] = 1.0
	}

	switch {
	case item.Unit == "":
		fields["unit"] = 0
		if item.Quantity != nil {
			warnings = append(warnings, "missing unit")
		}
	case IsKnownUnit(item.Unit):
		fields["unit"] = 1.0
	default:
		fields["unit"] = 0.6
	}

	other := 1.0
	if len(optional) > 0 {
		filled := 0
		for _, v := range optional {
			if v != "" {
				filled++
			}
		}
		other = 0.5 + 0.5*float64(filled)/float64(len(optional))
	}
	fields["other"] = other

	overall := weightLineNumber*fields["line_number"] +
		weightDescription*fields["description"] +
		weightQuantity*fields["quantity"] +
		weightUnit*fields["unit"] +
		weightOther*other

	for k, v := range fields {
		fields[k] = round3(v)
	}
	item.Confidence = domain.FieldConfidence{
		Fields:   fields,
		Overall:  round3(overall),
		Warnings: append(item.Confidence.Warnings, warnings...),
	}
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// Score fills item.Confidence for an item that did not come from a table row,
// such as a model-extracted item. Every optional field counts toward the
// "other" score.
func Score(item *domain.RawLineItem) {
	scoreItem(item, item.LineNumber > 0 && !item.Synthetic, []string{
		item.Specification, item.Size1, item.Size2, item.Notes, item.Revision,
	})
}
