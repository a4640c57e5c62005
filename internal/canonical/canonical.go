// Package canonical reduces raw spreadsheet cell text to comparable
// identifiers and numbers. Workbook tabs are maintained by hand, so the
// same logical value shows up as "003", "3", "3.0" or "3e0" depending on
// how the cell was last edited; every coercion is centralized here.
package canonical

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var nullMarkers = map[string]struct{}{
	"":     {},
	"nan":  {},
	"none": {},
}

var truthyTokens = map[string]struct{}{
	"x":    {},
	"1":    {},
	"true": {},
	"yes":  {},
	"oui":  {},
}

// Text trims the cell and collapses null markers to nil.
func Text(cell string) *string {
	trimmed := strings.TrimSpace(cell)
	if _, isNull := nullMarkers[strings.ToLower(trimmed)]; isNull {
		return nil
	}
	return &trimmed
}

// Code normalizes a numeric code that may have been serialized as a float
// or in scientific notation ("200068000.0", "2.00068e8") back to its plain
// decimal integer string. Non-integral text passes through trimmed.
func Code(cell string) *string {
	text := Text(cell)
	if text == nil {
		return nil
	}
	if number, err := strconv.ParseInt(*text, 10, 64); err == nil {
		rendered := strconv.FormatInt(number, 10)
		return &rendered
	}
	if parsed, err := decimal.NewFromString(*text); err == nil && parsed.IsInteger() {
		rendered := strconv.FormatInt(parsed.IntPart(), 10)
		return &rendered
	}
	return text
}

// IndicatorID renders any spelling of an indicator id ("i7", "I 007", "7")
// as the canonical i### form. Ids that are not plain integers are returned
// lower-cased and trimmed, so legacy non-numeric ids survive verbatim.
func IndicatorID(cell string) *string {
	text := Text(cell)
	if text == nil {
		return nil
	}
	lowered := strings.ToLower(*text)
	if suffix, hadPrefix := strings.CutPrefix(lowered, "i"); hadPrefix {
		suffix = strings.ReplaceAll(strings.TrimSpace(suffix), " ", "")
		if number, err := strconv.Atoi(suffix); err == nil {
			rendered := fmt.Sprintf("i%03d", number)
			return &rendered
		}
	}
	if number, err := strconv.Atoi(lowered); err == nil {
		rendered := fmt.Sprintf("i%03d", number)
		return &rendered
	}
	return &lowered
}

// Int coerces a cell to an integer, truncating float-serialized values.
func Int(cell string) *int {
	text := Text(cell)
	if text == nil {
		return nil
	}
	parsed, err := decimal.NewFromString(*text)
	if err != nil {
		return nil
	}
	number := int(parsed.IntPart())
	return &number
}

// Float coerces a cell to a float64, nil on any parse failure. Decimal
// commas ("7,2") are accepted: the source tabs are edited under a French
// locale.
func Float(cell string) *float64 {
	text := Text(cell)
	if text == nil {
		return nil
	}
	number, err := strconv.ParseFloat(strings.Replace(*text, ",", ".", 1), 64)
	if err != nil {
		return nil
	}
	return &number
}

// Flag reports whether the cell is one of the ad hoc truthy encodings used
// by the correspondence tabs. Everything else, including blank, is false.
func Flag(cell string) bool {
	text := Text(cell)
	if text == nil {
		return false
	}
	_, truthy := truthyTokens[strings.ToLower(*text)]
	return truthy
}
