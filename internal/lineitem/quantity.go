package lineitem

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	thousandsRe = regexp.MustCompile(`^([+-]?\d{1,3}(?:,\d{3})+(?:\.\d+)?)\s*(.*)$`)
	decimalRe   = regexp.MustCompile(`^([+-]?\d+(?:[.,]\d+)?)\s*(.*)$`)
)

// ParseQuantity splits a quantity cell into its leading number and any
// trailing text ("10 EA" -> 10, "EA"). Thousands separators and decimal
// commas are accepted.
func ParseQuantity(s string) (*float64, string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, "", false
	}

	var num, rest string
	if m := thousandsRe.FindStringSubmatch(s); m != nil {
		num, rest = strings.ReplaceAll(m[1], ",", ""), m[2]
	} else if m := decimalRe.FindStringSubmatch(s); m != nil {
		num, rest = strings.Replace(m[1], ",", ".", 1), m[2]
	} else {
		return nil, s, false
	}

	d, err := decimal.NewFromString(num)
	if err != nil {
		return nil, s, false
	}
	v := d.InexactFloat64()
	return &v, strings.TrimSpace(strings.Trim(rest, " .-/")), true
}

// hasRepeatedDigits flags two-digit quantities like 44 that OCR sometimes
// produces from a single digit.
func hasRepeatedDigits(v float64) bool {
	if v != float64(int(v)) || v < 11 || v > 99 {
		return false
	}
	n := int(v)
	return n/10 == n%10
}

// knownUnits are common procurement units of measure.
var knownUnits = map[string]bool{
	"EA": true, "EACH": true, "NO": true, "NOS": true, "PC": true, "PCS": true,
	"SET": true, "SETS": true, "LOT": true, "LS": true, "JOB": true,
	"M": true, "MTR": true, "MTRS": true, "MM": true, "LM": true, "RM": true, "FT": true, "IN": true,
	"KG": true, "KGS": true, "TON": true, "MT": true, "G": true,
	"L": true, "LTR": true, "M2": true, "SQM": true, "M3": true, "CUM": true,
	"PR": true, "PAIR": true, "BOX": true, "ROLL": true, "BAG": true, "DRUM": true,
	"CAN": true, "COIL": true, "SHEET": true, "LENGTH": true, "LEN": true,
}

// CanonicalUnit upper-cases a unit and drops trailing dots.
func CanonicalUnit(u string) string {
	return strings.TrimRight(strings.ToUpper(strings.TrimSpace(u)), ".")
}

// IsKnownUnit reports whether u is in the known-units set.
func IsKnownUnit(u string) bool {
	return knownUnits[CanonicalUnit(u)]
}
