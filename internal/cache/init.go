package cache

import (
	"encoding/json"

	"gorm.io/gorm"

	"datalab-service/internal/models"
)

// InitKey is the cache key of the application bootstrap payload.
const InitKey = "datalab/init"

type labelled struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type initSurvey struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Country string `json:"country"`
	Year    int    `json:"year"`
	Round   int    `json:"round"`
}

type initCharGroup struct {
	ID              string     `json:"id"`
	Label           string     `json:"label"`
	Characteristics []labelled `json:"characteristics"`
}

// InitPayload is the bootstrap document clients load once per dataset.
type InitPayload struct {
	Countries  []labelled        `json:"countries"`
	Surveys    []initSurvey      `json:"surveys"`
	Indicators []labelled        `json:"indicators"`
	CharGroups []initCharGroup   `json:"characteristic_groups"`
	Languages  []string          `json:"languages"`
	Strings    map[string]string `json:"strings"`
	Counts     map[string]int64  `json:"counts"`
}

// ComputeInit builds InitPayload from the store.
func ComputeInit(tx *gorm.DB) ([]byte, string, error) {
	var englishes []models.EnglishString
	if err := tx.Find(&englishes).Error; err != nil {
		return nil, "", err
	}
	text := make(map[uint]string, len(englishes))
	codes := make(map[string]string, len(englishes))
	for _, e := range englishes {
		text[e.ID] = e.English
		codes[e.Code] = e.English
	}

	p := InitPayload{Strings: codes, Counts: map[string]int64{}}

	var countries []models.Country
	if err := tx.Order("ordering").Find(&countries).Error; err != nil {
		return nil, "", err
	}
	countryCode := make(map[uint]string, len(countries))
	for _, c := range countries {
		countryCode[c.ID] = c.Code
		p.Countries = append(p.Countries, labelled{ID: c.Code, Label: text[c.LabelID]})
	}

	var surveys []models.Survey
	if err := tx.Order("ordering").Find(&surveys).Error; err != nil {
		return nil, "", err
	}
	for _, s := range surveys {
		p.Surveys = append(p.Surveys, initSurvey{
			ID: s.Code, Label: text[s.LabelID], Country: countryCode[s.CountryID], Year: s.Year, Round: s.Round,
		})
	}

	var indicators []models.Indicator
	if err := tx.Order("ordering").Find(&indicators).Error; err != nil {
		return nil, "", err
	}
	for _, i := range indicators {
		p.Indicators = append(p.Indicators, labelled{ID: i.Code, Label: text[i.LabelID]})
	}

	var groups []models.CharacteristicGroup
	if err := tx.Order("ordering").Find(&groups).Error; err != nil {
		return nil, "", err
	}
	var chars []models.Characteristic
	if err := tx.Order("ordering").Find(&chars).Error; err != nil {
		return nil, "", err
	}
	byGroup := map[uint][]labelled{}
	for _, c := range chars {
		byGroup[c.CharGrpID] = append(byGroup[c.CharGrpID], labelled{ID: c.Code, Label: text[c.LabelID]})
	}
	for _, g := range groups {
		p.CharGroups = append(p.CharGroups, initCharGroup{ID: g.Code, Label: text[g.LabelID], Characteristics: byGroup[g.ID]})
	}

	if err := tx.Model(&models.Translation{}).Distinct().Order("language_code").Pluck("language_code", &p.Languages).Error; err != nil {
		return nil, "", err
	}

	var n int64
	if err := tx.Model(&models.Datum{}).Count(&n).Error; err != nil {
		return nil, "", err
	}
	p.Counts["data"] = n

	body, err := json.Marshal(p)
	if err != nil {
		return nil, "", err
	}
	return body, "application/json", nil
}
