package workbook

import "time"

// Kind is the coarse type of a cell value used for majority sampling.
type Kind int

const (
	KindEmpty Kind = iota
	KindNumber
	KindString
	KindBool
	KindDate
)

// KindOf classifies a cell value.
func KindOf(v interface{}) Kind {
	switch v.(type) {
	case nil:
		return KindEmpty
	case float64, float32, int, int64:
		return KindNumber
	case bool:
		return KindBool
	case time.Time:
		return KindDate
	default:
		return KindString
	}
}

type NormalizeOptions struct {
	DataSheetPrefix string
	Token           string
	SampleSize      int
}

// DefaultNormalizeOptions matches the published dataset convention.
func DefaultNormalizeOptions() NormalizeOptions {
	return NormalizeOptions{DataSheetPrefix: "data", Token: ".", SampleSize: 50}
}

// Normalize replaces the undefined-data token with nil in every numeric column
// of every data sheet. It returns the number of cells replaced.
func Normalize(wb *Workbook, opts NormalizeOptions) int {
	if opts.SampleSize <= 0 {
		opts.SampleSize = DefaultNormalizeOptions().SampleSize
	}
	replaced := 0
	for _, sheet := range wb.SheetsWithPrefix(opts.DataSheetPrefix) {
		for _, header := range sheet.Headers {
			if header == "" || ColumnKind(sheet, header, opts.SampleSize) != KindNumber {
				continue
			}
			for _, row := range sheet.Rows {
				if s, ok := row[header].(string); ok && s == opts.Token {
					row[header] = nil
					replaced++
				}
			}
		}
	}
	return replaced
}

// ColumnKind returns the majority kind among the first n non-empty cells of
// the column. Ties favor the kind seen first.
func ColumnKind(sheet *Sheet, header string, n int) Kind {
	counts := map[Kind]int{}
	var order []Kind
	sampled := 0
	for _, row := range sheet.Rows {
		if sampled >= n {
			break
		}
		k := KindOf(row[header])
		if k == KindEmpty {
			continue
		}
		if counts[k] == 0 {
			order = append(order, k)
		}
		counts[k]++
		sampled++
	}

	best := KindEmpty
	for _, k := range order {
		if best == KindEmpty || counts[k] > counts[best] {
			best = k
		}
	}
	return best
}
