package loader

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"datalab-service/internal/models"
	"datalab-service/internal/workbook"
)

// Data loads measurement rows from every data sheet of a workbook.
type Data struct {
	SheetPrefix string
	Map         FieldMap
	// Codes is the run's code scope. When nil, Load seeds one from the stored data codes.
	Codes   *CodeScope
	OnSheet func(sheet string)
	// OnRow is called after each staged row.
	OnRow func(sheet string, row int)
	Log   logrus.FieldLogger
}

func NewData(prefix string, codes *CodeScope, log logrus.FieldLogger) *Data {
	return &Data{SheetPrefix: prefix, Map: DatumFieldMap(), Codes: codes, Log: log}
}

// Load stages one Datum per data row and returns the number created.
func (d *Data) Load(ctx context.Context, tx *gorm.DB, wb *workbook.Workbook) (int, error) {
	tx = tx.WithContext(ctx)
	lookups, err := BuildLookups(tx, EntitySurvey, EntityIndicator, EntityChar, EntityGeography)
	if err != nil {
		return 0, err
	}
	if d.Codes == nil {
		if d.Codes, err = SeedCodeScope(tx, &models.Datum{}); err != nil {
			return 0, err
		}
	}
	rc := &resolveContext{tx: tx, lookups: lookups}

	total := 0
	for _, sheet := range d.Sheets(wb) {
		if d.OnSheet != nil {
			d.OnSheet(sheet.Name)
		}
		for i, row := range sheet.Rows {
			rowNum := sheet.RowNumber(i)
			if err := d.loadRow(rc, sheet.Name, rowNum, row); err != nil {
				return total, err
			}
			total++
			if d.OnRow != nil {
				d.OnRow(sheet.Name, rowNum)
			}
		}
		d.logger().WithFields(logrus.Fields{"sheet": sheet.Name, "rows": len(sheet.Rows)}).Info("Loaded data sheet")
	}
	return total, nil
}

// Sheets returns the data sheets Load would read.
func (d *Data) Sheets(wb *workbook.Workbook) []*workbook.Sheet {
	return wb.SheetsWithPrefix(d.SheetPrefix)
}

func (d *Data) loadRow(rc *resolveContext, sheet string, rowNum int, row workbook.Row) error {
	record, err := d.Map.Translate(row, rc)
	if err != nil {
		return rowError(sheet, rowNum, row, err)
	}
	datum, ok := record.(*models.Datum)
	if !ok {
		return rowError(sheet, rowNum, row, fmt.Errorf("field map built %T, want *models.Datum", record))
	}
	if datum.Code, err = d.Codes.Next(); err != nil {
		return rowError(sheet, rowNum, row, err)
	}
	if err := rc.tx.Create(datum).Error; err != nil {
		return rowError(sheet, rowNum, row, err)
	}
	return nil
}

func (d *Data) logger() logrus.FieldLogger {
	if d.Log == nil {
		return logrus.StandardLogger()
	}
	return d.Log
}
