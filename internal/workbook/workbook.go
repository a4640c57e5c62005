// Package workbook reads the Diag360 reference workbook and reshapes its
// wide value matrices into long rows.
package workbook

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

type Workbook struct {
	file *excelize.File
}

// Sheet is one tab, header row split off and trimmed. Rows shorter than the
// header are padded on read, so Cell never goes out of range.
type Sheet struct {
	Name    string
	Columns []string
	Rows    [][]string

	index      map[string]int
	lowerIndex map[string]int
}

func Open(path string) (*Workbook, error) {
	file, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}
	return &Workbook{file: file}, nil
}

func (w *Workbook) Close() error {
	return w.file.Close()
}

// Sheet returns the named tab, or false when the tab is absent from the file.
func (w *Workbook) Sheet(name string) (*Sheet, bool) {
	index, err := w.file.GetSheetIndex(name)
	if err != nil || index < 0 {
		return nil, false
	}
	rows, err := w.file.GetRows(name)
	if err != nil || len(rows) == 0 {
		return nil, false
	}
	return NewSheet(name, rows[0], rows[1:]), true
}

func NewSheet(name string, columns []string, rows [][]string) *Sheet {
	trimmed := make([]string, len(columns))
	index := make(map[string]int, len(columns))
	lowerIndex := make(map[string]int, len(columns))
	for i, column := range columns {
		trimmed[i] = strings.TrimSpace(column)
		if _, taken := index[trimmed[i]]; !taken {
			index[trimmed[i]] = i
		}
		lowered := strings.ToLower(trimmed[i])
		if _, taken := lowerIndex[lowered]; !taken {
			lowerIndex[lowered] = i
		}
	}
	return &Sheet{Name: name, Columns: trimmed, Rows: rows, index: index, lowerIndex: lowerIndex}
}

// Cell returns the raw text of row i under the given column, "" when the
// column is unknown or the row is shorter than the header.
func (s *Sheet) Cell(i int, column string) string {
	at, known := s.index[column]
	if !known || i < 0 || i >= len(s.Rows) || at >= len(s.Rows[i]) {
		return ""
	}
	return s.Rows[i][at]
}

// CellFold is Cell with case-insensitive column matching. The EPCI reference
// tab spells its headers inconsistently across workbook revisions.
func (s *Sheet) CellFold(i int, column string) string {
	at, known := s.lowerIndex[strings.ToLower(column)]
	if !known || i < 0 || i >= len(s.Rows) || at >= len(s.Rows[i]) {
		return ""
	}
	return s.Rows[i][at]
}

var accentStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// foldColumnName makes header spellings comparable: accents dropped, spaces
// and hyphens become underscores, repeated underscores collapse, lower-cased.
// "Libellé EPCI" and "libelle_epci" fold to the same key.
func foldColumnName(name string) string {
	folded, _, err := transform.String(accentStripper, name)
	if err != nil {
		folded = name
	}
	folded = strings.ToLower(folded)
	folded = strings.NewReplacer(" ", "_", "-", "_").Replace(folded)
	for strings.Contains(folded, "__") {
		folded = strings.ReplaceAll(folded, "__", "_")
	}
	return folded
}
