package workbook

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ErrSheetNotFound is returned by Workbook.Sheet for an unknown sheet name.
var ErrSheetNotFound = errors.New("sheet not found")

// Row maps a column header to its typed cell value: string, float64, bool,
// time.Time or nil for an empty cell.
type Row map[string]interface{}

// Sheet is one named table. Rows exclude the header row and blank rows;
// Lines[i] is the 1-based spreadsheet row Rows[i] was read from.
type Sheet struct {
	Name    string
	Headers []string
	Rows    []Row
	Lines   []int
}

// RowNumber returns the 1-based spreadsheet row of Rows[i]. Sheets built
// without Lines are assumed to have no blank rows.
func (s *Sheet) RowNumber(i int) int {
	if i < len(s.Lines) {
		return s.Lines[i]
	}
	return i + 2
}

// Workbook is an ordered collection of sheets plus the raw bytes it was read from.
type Workbook struct {
	Name   string
	Sheets []*Sheet
	Raw    []byte
}

// Sheet looks a sheet up by exact name.
func (w *Workbook) Sheet(name string) (*Sheet, error) {
	for _, s := range w.Sheets {
		if s.Name == name {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %q in %s", ErrSheetNotFound, name, w.Name)
}

// SheetsWithPrefix returns the sheets whose name starts with prefix, in workbook order.
func (w *Workbook) SheetsWithPrefix(prefix string) []*Sheet {
	var out []*Sheet
	for _, s := range w.Sheets {
		if strings.HasPrefix(s.Name, prefix) {
			out = append(out, s)
		}
	}
	return out
}

// Fingerprint returns the content digest of the workbook bytes.
func (w *Workbook) Fingerprint() string { return Fingerprint(w.Raw) }

// Fingerprint returns the hex sha256 of data.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Open reads the workbook at path.
func Open(path string) (*Workbook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workbook %s: %w", path, err)
	}
	return Parse(baseName(path), data)
}

// Read consumes r fully and parses it.
func Read(name string, r io.Reader) (*Workbook, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read workbook %s: %w", name, err)
	}
	return Parse(name, data)
}

// Parse decodes an xlsx payload.
func Parse(name string, data []byte) (*Workbook, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook %s: %w", name, err)
	}
	defer f.Close()

	wb := &Workbook{Name: name, Raw: data}
	for _, sheetName := range f.GetSheetList() {
		sheet, err := readSheet(f, sheetName)
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %q of %s: %w", sheetName, name, err)
		}
		wb.Sheets = append(wb.Sheets, sheet)
	}
	return wb, nil
}

func readSheet(f *excelize.File, name string) (*Sheet, error) {
	rows, err := f.GetRows(name, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, err
	}
	sheet := &Sheet{Name: name}
	if len(rows) == 0 {
		return sheet, nil
	}
	for _, h := range rows[0] {
		sheet.Headers = append(sheet.Headers, strings.TrimSpace(h))
	}

	for r := 1; r < len(rows); r++ {
		raw := rows[r]
		if blank(raw) {
			continue
		}
		row := make(Row, len(sheet.Headers))
		for c, header := range sheet.Headers {
			if header == "" {
				continue
			}
			if c >= len(raw) || raw[c] == "" {
				row[header] = nil
				continue
			}
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				return nil, err
			}
			kind, err := f.GetCellType(name, cell)
			if err != nil {
				return nil, err
			}
			row[header] = typed(kind, raw[c])
		}
		sheet.Rows = append(sheet.Rows, row)
		sheet.Lines = append(sheet.Lines, r+1)
	}
	return sheet, nil
}

func typed(kind excelize.CellType, raw string) interface{} {
	switch kind {
	case excelize.CellTypeBool:
		return raw == "1" || strings.EqualFold(raw, "true")
	case excelize.CellTypeDate:
		if t, err := excelize.ExcelDateToTime(mustFloat(raw), false); err == nil {
			return t
		}
		return raw
	case excelize.CellTypeUnset, excelize.CellTypeNumber, excelize.CellTypeFormula:
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
		return raw
	default:
		return raw
	}
}

func mustFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func baseName(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}
