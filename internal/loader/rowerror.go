package loader

import (
	"fmt"

	"datalab-service/internal/database"
	"datalab-service/internal/models"
	"datalab-service/internal/workbook"
)

// rowError classifies a failure on one spreadsheet row. Connectivity failures
// stay operational; everything else is a validation failure of that row.
func rowError(sheet string, row int, values workbook.Row, err error) error {
	if database.IsOperational(err) {
		return &models.StoreOperationalError{Err: fmt.Errorf("sheet %q row %d: %w", sheet, row, err)}
	}
	return &models.ValidationError{Sheet: sheet, Row: row, Values: copyRow(values), Err: err}
}

func copyRow(r workbook.Row) map[string]interface{} {
	out := make(map[string]interface{}, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
