package workbook

import (
	"fmt"
	"strings"

	"diag360/api/internal/canonical"
)

// SchemaError marks a tab whose required structure is missing. It aborts the
// whole ingestion run; there is no per-row recovery from a missing id column.
type SchemaError struct {
	Sheet  string
	Column string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("sheet %s: required column %s not found", e.Sheet, e.Column)
}

var unitIDCandidates = map[string]struct{}{
	"id_epci":   {},
	"code_epci": {},
}

var unitLabelCandidates = map[string]struct{}{
	"libelle_epci": {},
}

// DetectUnitIDColumn finds the territorial-unit id column among the folded
// header names. Its absence in a value matrix is fatal for the run.
func DetectUnitIDColumn(sheet *Sheet) (string, error) {
	for _, column := range sheet.Columns {
		if _, match := unitIDCandidates[foldColumnName(column)]; match {
			return column, nil
		}
	}
	return "", &SchemaError{Sheet: sheet.Name, Column: "ID_EPCI"}
}

// DetectUnitLabelColumn finds the unit label column; "" when the tab carries
// no label, which is tolerated.
func DetectUnitLabelColumn(sheet *Sheet) string {
	for _, column := range sheet.Columns {
		if _, match := unitLabelCandidates[foldColumnName(column)]; match {
			return column
		}
	}
	return ""
}

// DetectIndicatorColumns returns every column whose trimmed name starts with
// the indicator prefix, in header order. The unit id and label columns also
// start with the prefix letter ("ID_EPCI") and are metadata, not values, so
// they are excluded here.
func DetectIndicatorColumns(sheet *Sheet) []string {
	var columns []string
	for _, column := range sheet.Columns {
		if column == "" {
			continue
		}
		folded := foldColumnName(column)
		if _, meta := unitIDCandidates[folded]; meta {
			continue
		}
		if _, meta := unitLabelCandidates[folded]; meta {
			continue
		}
		if strings.HasPrefix(strings.ToLower(column), "i") {
			columns = append(columns, column)
		}
	}
	return columns
}

// LongRow is one (unit, indicator, value) triple produced by Melt. UnitID,
// UnitLabel and Value are raw cell text; canonicalization happens in the
// builders so that skip decisions stay in one place.
type LongRow struct {
	UnitID    string
	UnitLabel string
	Indicator string
	Value     string
}

// Melt reshapes a wide matrix into long rows. Pairs with a blank value or a
// blank unit id are dropped. labelColumn may be "".
func Melt(sheet *Sheet, idColumn, labelColumn string, valueColumns []string) []LongRow {
	rows := make([]LongRow, 0, len(sheet.Rows))
	for i := range sheet.Rows {
		unitID := sheet.Cell(i, idColumn)
		if canonical.Text(unitID) == nil {
			continue
		}
		label := ""
		if labelColumn != "" {
			label = sheet.Cell(i, labelColumn)
		}
		for _, column := range valueColumns {
			value := sheet.Cell(i, column)
			if canonical.Text(value) == nil {
				continue
			}
			rows = append(rows, LongRow{
				UnitID:    unitID,
				UnitLabel: label,
				Indicator: column,
				Value:     value,
			})
		}
	}
	return rows
}
