package loader

import (
	"gorm.io/gorm"

	"datalab-service/internal/models"
)

// Strings deduplicates localized strings by exact English text during one run.
type Strings struct {
	byText map[string]uint
	byCode map[string]*models.EnglishString
	codes  *CodeScope
}

func NewStrings(tx *gorm.DB) (*Strings, error) {
	var existing []models.EnglishString
	if err := tx.Find(&existing).Error; err != nil {
		return nil, err
	}
	s := &Strings{
		byText: make(map[string]uint, len(existing)),
		byCode: make(map[string]*models.EnglishString, len(existing)),
		codes:  NewCodeScope(),
	}
	for i := range existing {
		e := &existing[i]
		s.byText[e.English] = e.ID
		s.byCode[e.Code] = e
		s.codes.Reserve(e.Code)
	}
	return s, nil
}

// Resolve returns the id of the string whose English text is text, creating it if needed.
func (s *Strings) Resolve(tx *gorm.DB, text string) (uint, error) {
	if id, ok := s.byText[text]; ok {
		return id, nil
	}
	code, err := s.codes.Next()
	if err != nil {
		return 0, err
	}
	return s.create(tx, code, text)
}

// Upsert makes code map to text. A new code is created; a known code whose
// English text changed is updated in place.
func (s *Strings) Upsert(tx *gorm.DB, code, text string) (uint, error) {
	if e, ok := s.byCode[code]; ok {
		if e.English != text {
			if err := tx.Model(e).Update("english", text).Error; err != nil {
				return 0, err
			}
			delete(s.byText, e.English)
			e.English = text
			s.byText[text] = e.ID
		}
		return e.ID, nil
	}
	if !s.codes.Reserve(code) {
		return 0, &duplicateCodeError{code: code}
	}
	return s.create(tx, code, text)
}

func (s *Strings) create(tx *gorm.DB, code, text string) (uint, error) {
	e := &models.EnglishString{Code: code, English: text}
	if err := tx.Create(e).Error; err != nil {
		return 0, err
	}
	s.byText[text] = e.ID
	s.byCode[code] = e
	return e.ID, nil
}

type duplicateCodeError struct{ code string }

func (e *duplicateCodeError) Error() string { return "duplicate code " + e.code }
