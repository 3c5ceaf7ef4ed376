package loader

import (
	"context"
	"fmt"
	"reflect"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"datalab-service/internal/models"
	"datalab-service/internal/workbook"
)

// Mode selects how rows whose code already exists are handled.
type Mode int

const (
	// Overwrite expects empty tables; a repeated code is a row error.
	Overwrite Mode = iota
	// Update leaves existing rows in place and inserts only new codes.
	Update
)

// Structural loads reference entities from a workbook.
type Structural struct {
	Maps    map[string]FieldMap
	Mode    Mode
	Strings *Strings
	// OnSheet is called before each queue entry is loaded.
	OnSheet func(entry Entry)
	Log     logrus.FieldLogger
}

func NewStructural(mode Mode, strs *Strings, log logrus.FieldLogger) *Structural {
	return &Structural{Maps: DefaultFieldMaps(), Mode: mode, Strings: strs, Log: log}
}

// Load inserts every row of every queued sheet, in queue order, inside one
// transaction. It returns the number of records created per entity.
func (s *Structural) Load(ctx context.Context, tx *gorm.DB, wb *workbook.Workbook, queue []Entry) (map[string]int, error) {
	counts := make(map[string]int, len(queue))
	err := tx.Transaction(func(tx *gorm.DB) error {
		tx = tx.WithContext(ctx)
		if s.Strings == nil {
			strs, err := NewStrings(tx)
			if err != nil {
				return err
			}
			s.Strings = strs
		}
		lookups, err := BuildLookups(tx, allEntities()...)
		if err != nil {
			return err
		}
		rc := &resolveContext{tx: tx, lookups: lookups, strings: s.Strings}

		for _, entry := range queue {
			if s.OnSheet != nil {
				s.OnSheet(entry)
			}
			sheet, err := wb.Sheet(entry.Sheet)
			if err != nil {
				return &models.ValidationError{Sheet: entry.Sheet, Err: err}
			}
			fm, ok := s.Maps[entry.Entity]
			if !ok {
				return &models.ValidationError{Sheet: entry.Sheet, Err: fmt.Errorf("unknown entity %q", entry.Entity)}
			}
			n, err := s.loadSheet(rc, fm, sheet)
			if err != nil {
				return err
			}
			counts[entry.Entity] += n
			s.logger().WithFields(logrus.Fields{"sheet": sheet.Name, "entity": entry.Entity, "rows": n}).Info("Loaded structural sheet")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

func (s *Structural) loadSheet(rc *resolveContext, fm FieldMap, sheet *workbook.Sheet) (int, error) {
	created := 0
	nextOrder, err := orderBase(rc.tx, fm.Entity, sheet)
	if err != nil {
		return 0, err
	}
	for i, row := range sheet.Rows {
		rowNum := sheet.RowNumber(i)
		if raw := emptyToNull(row["code"]); raw != nil {
			code := asString(raw)
			if _, exists := rc.lookups.ID(fm.Entity, code); exists {
				if s.Mode == Update {
					continue
				}
				return created, rowError(sheet.Name, rowNum, row, fmt.Errorf("duplicate %s code %q", fm.Entity, code))
			}
		}

		record, err := fm.Translate(row, rc)
		if err != nil {
			return created, rowError(sheet.Name, rowNum, row, err)
		}
		rv := reflect.ValueOf(record).Elem()
		if emptyToNull(row["order"]) == nil {
			nextOrder++
			rv.FieldByName("Order").SetInt(int64(nextOrder))
		}
		if err := rc.tx.Create(record).Error; err != nil {
			return created, rowError(sheet.Name, rowNum, row, err)
		}
		rc.lookups.Add(fm.Entity, rv.FieldByName("Code").String(), uint(rv.FieldByName("ID").Uint()))
		created++
	}
	return created, nil
}

// orderBase returns the highest ordering already stored for entity or given
// explicitly anywhere in sheet. Rows without an order are numbered after it.
func orderBase(tx *gorm.DB, entity string, sheet *workbook.Sheet) (int, error) {
	model, err := newModel(entity)
	if err != nil {
		return 0, err
	}
	var stored int
	if err := tx.Model(model).Select("COALESCE(MAX(ordering), 0)").Scan(&stored).Error; err != nil {
		return 0, err
	}
	base := stored
	for _, row := range sheet.Rows {
		raw := emptyToNull(row["order"])
		if raw == nil {
			continue
		}
		if n, err := parseInt(raw); err == nil && n > base {
			base = n
		}
	}
	return base, nil
}

func (s *Structural) logger() logrus.FieldLogger {
	if s.Log == nil {
		return logrus.StandardLogger()
	}
	return s.Log
}
