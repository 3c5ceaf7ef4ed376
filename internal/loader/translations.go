package loader

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"datalab-service/internal/models"
	"datalab-service/internal/workbook"
)

const (
	columnEnglish = "english"
	columnCode    = "code"
)

// Translations loads localized-string tables. Each sheet has an english
// column, an optional code column and one column per language code.
type Translations struct {
	Strings *Strings
	OnSheet func(sheet string)
	Log     logrus.FieldLogger
}

func NewTranslations(strs *Strings, log logrus.FieldLogger) *Translations {
	return &Translations{Strings: strs, Log: log}
}

// Load upserts the strings and translations of sheets and returns the number
// of translation rows written.
func (t *Translations) Load(ctx context.Context, tx *gorm.DB, sheets []*workbook.Sheet) (int, error) {
	written := 0
	err := tx.Transaction(func(tx *gorm.DB) error {
		tx = tx.WithContext(ctx)
		if t.Strings == nil {
			strs, err := NewStrings(tx)
			if err != nil {
				return err
			}
			t.Strings = strs
		}
		for _, sheet := range sheets {
			if t.OnSheet != nil {
				t.OnSheet(sheet.Name)
			}
			langs := languages(sheet.Headers)
			for i, row := range sheet.Rows {
				n, err := t.loadRow(tx, row, langs)
				if err != nil {
					return rowError(sheet.Name, sheet.RowNumber(i), row, err)
				}
				written += n
			}
			t.logger().WithFields(logrus.Fields{"sheet": sheet.Name, "languages": langs}).Info("Loaded translation sheet")
		}
		return nil
	})
	return written, err
}

func (t *Translations) loadRow(tx *gorm.DB, row workbook.Row, langs []string) (int, error) {
	english := emptyToNull(row[columnEnglish])
	if english == nil {
		return 0, fmt.Errorf("column %q is required", columnEnglish)
	}
	text := asString(english)

	var (
		id  uint
		err error
	)
	if code := emptyToNull(row[columnCode]); code != nil {
		id, err = t.Strings.Upsert(tx, asString(code), text)
	} else {
		id, err = t.Strings.Resolve(tx, text)
	}
	if err != nil {
		return 0, err
	}

	var batch []models.Translation
	for _, lang := range langs {
		v := emptyToNull(row[lang])
		if v == nil {
			continue
		}
		batch = append(batch, models.Translation{EnglishID: id, LanguageCode: lang, Translation: asString(v)})
	}
	if len(batch) == 0 {
		return 0, nil
	}
	err = tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "english_id"}, {Name: "language_code"}},
		DoUpdates: clause.AssignmentColumns([]string{"translation"}),
	}).Create(&batch).Error
	return len(batch), err
}

func languages(headers []string) []string {
	var out []string
	for _, h := range headers {
		if h == "" || h == columnEnglish || h == columnCode {
			continue
		}
		out = append(out, h)
	}
	return out
}

func (t *Translations) logger() logrus.FieldLogger {
	if t.Log == nil {
		return logrus.StandardLogger()
	}
	return t.Log
}
