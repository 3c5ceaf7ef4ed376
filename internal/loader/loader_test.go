package loader

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"datalab-service/internal/database/dbtest"
	"datalab-service/internal/models"
	"datalab-service/internal/workbook"
	"datalab-service/internal/workbook/workbooktest"
)

func parse(t *testing.T, sheets ...workbooktest.Sheet) *workbook.Workbook {
	t.Helper()
	wb, err := workbook.Parse("api.xlsx", workbooktest.Build(t, sheets...))
	require.NoError(t, err)
	workbook.Normalize(wb, workbook.DefaultNormalizeOptions())
	return wb
}

func loadStructural(t *testing.T, db *gorm.DB, wb *workbook.Workbook) {
	t.Helper()
	_, err := NewStructural(Overwrite, nil, nil).Load(context.Background(), db, wb, DefaultQueue())
	require.NoError(t, err)
}

func TestStructuralResolvesCodes(t *testing.T) {
	db := dbtest.New(t)
	wb := parse(t, workbooktest.Structural()...)

	counts, err := NewStructural(Overwrite, nil, nil).Load(context.Background(), db, wb, DefaultQueue())
	require.NoError(t, err)
	assert.Equal(t, 2, counts[EntityCountry])
	assert.Equal(t, 2, counts[EntityChar])

	var countries []models.Country
	require.NoError(t, db.Find(&countries).Error)
	byCode := map[string]uint{}
	for _, c := range countries {
		byCode[c.Code] = c.ID
	}

	var surveys []models.Survey
	require.NoError(t, db.Order("ordering").Find(&surveys).Error)
	require.Len(t, surveys, 2)
	assert.Equal(t, byCode["KE"], surveys[0].CountryID)
	assert.Equal(t, byCode["UG"], surveys[1].CountryID)
	assert.Equal(t, 2019, surveys[0].Year)
	require.NotNil(t, surveys[0].StartDate)
	assert.Equal(t, "2019-06-01", surveys[0].StartDate.Format("2006-01-02"))
	assert.NotNil(t, surveys[0].GeographyID)
	assert.Nil(t, surveys[1].GeographyID, "empty optional reference is null")
	assert.Nil(t, surveys[1].PartnerID)

	var grp models.CharacteristicGroup
	require.NoError(t, db.Where("code = ?", "wealth").First(&grp).Error)
	var chars []models.Characteristic
	require.NoError(t, db.Find(&chars).Error)
	for _, c := range chars {
		assert.Equal(t, grp.ID, c.CharGrpID)
	}

	var ind models.Indicator
	require.NoError(t, db.Where("code = ?", "mcp_aw").First(&ind).Error)
	assert.True(t, ind.IsFavorite)
	require.NotNil(t, ind.DefinitionID)

	var label models.EnglishString
	require.NoError(t, db.First(&label, ind.LabelID).Error)
	assert.Equal(t, "Modern contraceptive prevalence", label.English)
}

func TestStructuralDeduplicatesEnglishText(t *testing.T) {
	db := dbtest.New(t)
	wb := parse(t,
		workbooktest.Sheet{Name: "country", Rows: [][]interface{}{
			{"code", "order", "label"},
			{"KE", 1, "East Africa"},
			{"UG", 2, "East Africa"},
		}},
	)
	_, err := NewStructural(Overwrite, nil, nil).Load(context.Background(), db, wb, []Entry{{Sheet: "country", Entity: EntityCountry}})
	require.NoError(t, err)

	var n int64
	require.NoError(t, db.Model(&models.EnglishString{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestStructuralUnresolvedRequiredCode(t *testing.T) {
	db := dbtest.New(t)
	wb := parse(t,
		workbooktest.Sheet{Name: "country", Rows: [][]interface{}{
			{"code", "order", "label"},
			{"KE", 1, "Kenya"},
		}},
		workbooktest.Sheet{Name: "survey", Rows: [][]interface{}{
			{"code", "order", "label", "country_code"},
			{"S1", 1, "Kenya survey", "KE"},
			{"S2", 2, "Tanzania survey", "TZ"},
		}},
	)
	queue := []Entry{{Sheet: "country", Entity: EntityCountry}, {Sheet: "survey", Entity: EntitySurvey}}
	_, err := NewStructural(Overwrite, nil, nil).Load(context.Background(), db, wb, queue)

	var vErr *models.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "survey", vErr.Sheet)
	assert.Equal(t, 3, vErr.Row)
	assert.Equal(t, "TZ", vErr.Values["country_code"])
	assert.Contains(t, err.Error(), `unresolved country code "TZ"`)

	var n int64
	require.NoError(t, db.Model(&models.Country{}).Count(&n).Error)
	assert.Zero(t, n, "structural load is all or nothing")
}

func TestStructuralMissingSheet(t *testing.T) {
	db := dbtest.New(t)
	wb := parse(t, workbooktest.Sheet{Name: "country", Rows: [][]interface{}{{"code", "label"}, {"KE", "Kenya"}}})
	_, err := NewStructural(Overwrite, nil, nil).Load(context.Background(), db, wb, DefaultQueue())
	assert.True(t, errors.Is(err, workbook.ErrSheetNotFound))
}

func TestStructuralUpdateModeSkipsExisting(t *testing.T) {
	db := dbtest.New(t)
	loadStructural(t, db, parse(t, workbooktest.Structural()...))

	sheets := workbooktest.Structural()
	sheets[1].Rows = append(sheets[1].Rows, []interface{}{"TZ", 3, "Tanzania", "East Africa"})
	counts, err := NewStructural(Update, nil, nil).Load(context.Background(), db, parse(t, sheets...), DefaultQueue())
	require.NoError(t, err)
	assert.Equal(t, 1, counts[EntityCountry])
	assert.Equal(t, 0, counts[EntitySurvey])

	var n int64
	require.NoError(t, db.Model(&models.Country{}).Count(&n).Error)
	assert.Equal(t, int64(3), n)
}

func TestStructuralOverwriteRejectsDuplicateCode(t *testing.T) {
	db := dbtest.New(t)
	wb := parse(t, workbooktest.Sheet{Name: "country", Rows: [][]interface{}{
		{"code", "order", "label"},
		{"KE", 1, "Kenya"},
		{"KE", 2, "Kenya again"},
	}})
	_, err := NewStructural(Overwrite, nil, nil).Load(context.Background(), db, wb, []Entry{{Sheet: "country", Entity: EntityCountry}})
	var vErr *models.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, 3, vErr.Row)
}

func TestStructuralAssignsMissingOrder(t *testing.T) {
	db := dbtest.New(t)
	wb := parse(t, workbooktest.Sheet{Name: "country", Rows: [][]interface{}{
		{"code", "label"},
		{"KE", "Kenya"},
		{"UG", "Uganda"},
	}})
	_, err := NewStructural(Overwrite, nil, nil).Load(context.Background(), db, wb, []Entry{{Sheet: "country", Entity: EntityCountry}})
	require.NoError(t, err)

	var countries []models.Country
	require.NoError(t, db.Order("ordering").Find(&countries).Error)
	require.Len(t, countries, 2)
	assert.Equal(t, 1, countries[0].Order)
	assert.Equal(t, 2, countries[1].Order)
}

func TestStructuralMissingOrderAvoidsExplicitOrders(t *testing.T) {
	db := dbtest.New(t)
	wb := parse(t, workbooktest.Sheet{Name: "country", Rows: [][]interface{}{
		{"code", "order", "label"},
		{"KE", "", "Kenya"},
		{"UG", 1, "Uganda"},
		{"TZ", "", "Tanzania"},
	}})
	_, err := NewStructural(Overwrite, nil, nil).Load(context.Background(), db, wb, []Entry{{Sheet: "country", Entity: EntityCountry}})
	require.NoError(t, err)

	orders := map[string]int{}
	var countries []models.Country
	require.NoError(t, db.Find(&countries).Error)
	for _, c := range countries {
		orders[c.Code] = c.Order
	}
	assert.Equal(t, map[string]int{"UG": 1, "KE": 2, "TZ": 3}, orders)
}

func TestDataResolvesReferences(t *testing.T) {
	db := dbtest.New(t)
	wb := parse(t, append(workbooktest.Structural(), workbooktest.DataSheet("data_pma", 6))...)
	loadStructural(t, db, wb)

	var seen []string
	data := NewData("data", nil, nil)
	data.OnSheet = func(s string) { seen = append(seen, s) }
	n, err := data.Load(context.Background(), db, wb)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, []string{"data_pma"}, seen)

	var ke models.Survey
	require.NoError(t, db.Where("code = ?", "PMA2019_KE_R1").First(&ke).Error)
	var lowest models.Characteristic
	require.NoError(t, db.Where("code = ?", "lowest").First(&lowest).Error)

	var rows []models.Datum
	require.NoError(t, db.Order("id").Find(&rows).Error)
	require.Len(t, rows, 6)
	assert.Equal(t, ke.ID, rows[0].SurveyID)
	require.NotNil(t, rows[0].Char1ID)
	assert.Equal(t, lowest.ID, *rows[0].Char1ID)
	assert.Nil(t, rows[2].Char1ID, "blank optional characteristic is null")
	assert.Nil(t, rows[0].Char2ID)
	require.NotNil(t, rows[0].Value)
	assert.Equal(t, 0.5, *rows[0].Value)
	require.NotNil(t, rows[0].Precision)
	assert.Equal(t, 1, *rows[0].Precision)
	assert.True(t, rows[2].IsTotal)

	codes := map[string]bool{}
	for _, r := range rows {
		assert.Len(t, r.Code, 8)
		assert.Regexp(t, `^[A-Za-z0-9_-]{8}$`, r.Code)
		codes[r.Code] = true
	}
	assert.Len(t, codes, 6)
}

func TestDataUnresolvedOptionalCharacteristicIsNull(t *testing.T) {
	db := dbtest.New(t)
	sheets := append(workbooktest.Structural(), workbooktest.Sheet{Name: "data_x", Rows: [][]interface{}{
		{"survey_code", "indicator_code", "char1_code", "value"},
		{"PMA2019_KE_R1", "mcp_aw", "no_such_char", 12.5},
	}})
	wb := parse(t, sheets...)
	loadStructural(t, db, wb)

	_, err := NewData("data", nil, nil).Load(context.Background(), db, wb)
	require.NoError(t, err)
	var d models.Datum
	require.NoError(t, db.First(&d).Error)
	assert.Nil(t, d.Char1ID)
}

func TestDataUnresolvedSurveyIsFatal(t *testing.T) {
	db := dbtest.New(t)
	sheets := append(workbooktest.Structural(), workbooktest.Sheet{Name: "data_x", Rows: [][]interface{}{
		{"survey_code", "indicator_code", "value"},
		{"PMA2019_KE_R1", "mcp_aw", 1.0},
		{"PMA2030_XX", "mcp_aw", 2.0},
	}})
	wb := parse(t, sheets...)
	loadStructural(t, db, wb)

	_, err := NewData("data", nil, nil).Load(context.Background(), db, wb)
	var vErr *models.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "data_x", vErr.Sheet)
	assert.Equal(t, 3, vErr.Row)
	assert.Equal(t, "PMA2030_XX", vErr.Values["survey_code"])
}

func TestDataRowNumberSkipsBlankRows(t *testing.T) {
	db := dbtest.New(t)
	sheets := append(workbooktest.Structural(), workbooktest.Sheet{Name: "data_x", Rows: [][]interface{}{
		{"survey_code", "indicator_code", "value"},
		{"PMA2019_KE_R1", "mcp_aw", 1.0},
		{"", "", ""},
		{"PMA2030_XX", "mcp_aw", 2.0},
	}})
	wb := parse(t, sheets...)
	loadStructural(t, db, wb)

	_, err := NewData("data", nil, nil).Load(context.Background(), db, wb)
	var vErr *models.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, 4, vErr.Row)
	assert.Equal(t, "PMA2030_XX", vErr.Values["survey_code"])
}

func TestDataCoercionFailure(t *testing.T) {
	db := dbtest.New(t)
	sheets := append(workbooktest.Structural(), workbooktest.Sheet{Name: "data_x", Rows: [][]interface{}{
		{"survey_code", "indicator_code", "value", "precision"},
		{"PMA2019_KE_R1", "mcp_aw", 1.0, 1.5},
	}})
	wb := parse(t, sheets...)
	loadStructural(t, db, wb)

	_, err := NewData("data", nil, nil).Load(context.Background(), db, wb)
	var vErr *models.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Error(), `column "precision"`)
}

func TestDataNormalizedTokenStoredAsNull(t *testing.T) {
	db := dbtest.New(t)
	rows := [][]interface{}{{"survey_code", "indicator_code", "value"}}
	for i := 0; i < 5; i++ {
		rows = append(rows, []interface{}{"PMA2019_KE_R1", "mcp_aw", float64(i)})
	}
	rows = append(rows, []interface{}{"PMA2019_KE_R1", "mcp_aw", "."})
	wb := parse(t, append(workbooktest.Structural(), workbooktest.Sheet{Name: "data_x", Rows: rows})...)
	loadStructural(t, db, wb)

	n, err := NewData("data", nil, nil).Load(context.Background(), db, wb)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	var nulls int64
	require.NoError(t, db.Model(&models.Datum{}).Where("value IS NULL").Count(&nulls).Error)
	assert.Equal(t, int64(1), nulls)
}

func TestTranslationsUpsert(t *testing.T) {
	db := dbtest.New(t)
	wb := parse(t, append(workbooktest.Structural(), workbooktest.TranslationSheet())...)
	loadStructural(t, db, wb)
	sheets := wb.SheetsWithPrefix("translation")

	n, err := NewTranslations(nil, nil).Load(context.Background(), db, sheets)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	var uganda models.EnglishString
	require.NoError(t, db.Where("english = ?", "Uganda").First(&uganda).Error)
	var tr models.Translation
	require.NoError(t, db.Where("english_id = ? AND language_code = ?", uganda.ID, "fr").First(&tr).Error)
	assert.Equal(t, "Ouganda", tr.Translation)

	// a second load updates in place
	_, err = NewTranslations(nil, nil).Load(context.Background(), db, sheets)
	require.NoError(t, err)
	var count int64
	require.NoError(t, db.Model(&models.Translation{}).Count(&count).Error)
	assert.Equal(t, int64(3), count)
}

func TestTranslationsCodeColumnUpdatesEnglish(t *testing.T) {
	db := dbtest.New(t)
	require.NoError(t, db.Create(&models.EnglishString{Code: "btn_ok", English: "Ok"}).Error)

	wb := parse(t, workbooktest.Sheet{Name: "ui", Rows: [][]interface{}{
		{"code", "english", "fr"},
		{"btn_ok", "OK", "D'accord"},
		{"btn_new", "New", "Nouveau"},
	}})
	_, err := NewTranslations(nil, nil).Load(context.Background(), db, wb.Sheets)
	require.NoError(t, err)

	var ok models.EnglishString
	require.NoError(t, db.Where("code = ?", "btn_ok").First(&ok).Error)
	assert.Equal(t, "OK", ok.English)
	var created models.EnglishString
	require.NoError(t, db.Where("code = ?", "btn_new").First(&created).Error)
	assert.Equal(t, "New", created.English)
}

func TestTranslationsMissingEnglish(t *testing.T) {
	db := dbtest.New(t)
	wb := parse(t, workbooktest.Sheet{Name: "ui", Rows: [][]interface{}{
		{"english", "fr"},
		{"", "Vide"},
	}})
	_, err := NewTranslations(nil, nil).Load(context.Background(), db, wb.Sheets)
	var vErr *models.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, 2, vErr.Row)
}
