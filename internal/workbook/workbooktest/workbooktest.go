// Package workbooktest builds xlsx fixtures in memory.
package workbooktest

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

// Sheet is a fixture sheet; Rows[0] is the header.
type Sheet struct {
	Name string
	Rows [][]interface{}
}

// Build writes sheets, in order, into an xlsx payload.
func Build(t testing.TB, sheets ...Sheet) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, s := range sheets {
		if i == 0 {
			require.NoError(t, f.SetSheetName("Sheet1", s.Name))
		} else {
			_, err := f.NewSheet(s.Name)
			require.NoError(t, err)
		}
		for r, row := range s.Rows {
			for c, v := range row {
				cell, err := excelize.CoordinatesToCellName(c+1, r+1)
				require.NoError(t, err)
				require.NoError(t, f.SetCellValue(s.Name, cell, v))
			}
		}
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

// Write saves the payload under dir with the given file name and returns its path.
func Write(t testing.TB, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

// Structural returns the six reference sheets of a small dataset: two
// countries, two surveys, one characteristic group with two characteristics
// and two indicators.
func Structural() []Sheet {
	return []Sheet{
		{Name: "geography", Rows: [][]interface{}{
			{"code", "order", "label", "type"},
			{"national", 1, "National", "country"},
			{"subnational", 2, "Subnational", "region"},
		}},
		{Name: "country", Rows: [][]interface{}{
			{"code", "order", "label", "region"},
			{"KE", 1, "Kenya", "East Africa"},
			{"UG", 2, "Uganda", "East Africa"},
		}},
		{Name: "survey", Rows: [][]interface{}{
			{"code", "order", "label", "country_code", "geography_code", "partner", "year", "round", "start_date"},
			{"PMA2019_KE_R1", 1, "Kenya 2019 Round 1", "KE", "national", "ICRHK", 2019, 1, "2019-06-01"},
			{"PMA2019_UG_R1", 2, "Uganda 2019 Round 1", "UG", "", "", 2019, 1, ""},
		}},
		{Name: "char_grp", Rows: [][]interface{}{
			{"code", "order", "label", "definition"},
			{"wealth", 1, "Wealth quintile", "Household wealth"},
		}},
		{Name: "char", Rows: [][]interface{}{
			{"code", "order", "label", "char_grp_code"},
			{"lowest", 1, "Lowest", "wealth"},
			{"highest", 2, "Highest", "wealth"},
		}},
		{Name: "indicator", Rows: [][]interface{}{
			{"code", "order", "label", "definition", "type", "is_favorite"},
			{"mcp_aw", 1, "Modern contraceptive prevalence", "Percent of women using a modern method", "percent", true},
			{"unmet_aw", 2, "Unmet need", "Percent of women with unmet need", "percent", false},
		}},
	}
}

// DataSheet returns a data sheet of n rows alternating between the fixture surveys.
func DataSheet(name string, n int) Sheet {
	rows := [][]interface{}{{"survey_code", "indicator_code", "char1_code", "char2_code", "value", "lower_ci", "upper_ci", "precision", "is_total"}}
	surveys := []string{"PMA2019_KE_R1", "PMA2019_UG_R1"}
	chars := []interface{}{"lowest", "highest", ""}
	for i := 0; i < n; i++ {
		rows = append(rows, []interface{}{
			surveys[i%2], "mcp_aw", chars[i%3], "", float64(i) + 0.5, float64(i), float64(i) + 1, 1, i%3 == 2,
		})
	}
	return Sheet{Name: name, Rows: rows}
}

// TranslationSheet returns an api-side translation sheet.
func TranslationSheet() Sheet {
	return Sheet{Name: "translation", Rows: [][]interface{}{
		{"english", "fr"},
		{"Kenya", "Kenya"},
		{"Uganda", "Ouganda"},
		{"Unmet need", "Besoins non satisfaits"},
	}}
}

// API builds a complete api workbook with one data sheet of dataRows rows.
func API(t testing.TB, dataRows int) []byte {
	sheets := append(Structural(), DataSheet("data_pma", dataRows), TranslationSheet())
	return Build(t, sheets...)
}

// UI builds a ui workbook with one sheet of interface strings.
func UI(t testing.TB, labels ...string) []byte {
	rows := [][]interface{}{{"english", "fr", "es"}}
	for i, l := range labels {
		rows = append(rows, []interface{}{l, fmt.Sprintf("%s (fr %d)", l, i), fmt.Sprintf("%s (es %d)", l, i)})
	}
	return Build(t, Sheet{Name: "ui", Rows: rows})
}
