package loader

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"

	"datalab-service/internal/workbook"
)

// ResolverKind selects how a source cell becomes a record field.
type ResolverKind int

const (
	// DirectCopy assigns the cell value as is.
	DirectCopy ResolverKind = iota
	// EmptyToNull assigns the cell value, leaving the field unset for blank cells.
	EmptyToNull
	// ForeignKeyByCode resolves a code into the referenced entity's surrogate id.
	ForeignKeyByCode
	// LocalizedText resolves English text into a localized string id, creating it on first encounter.
	LocalizedText
	DateParse
	IntParse
	FloatParse
	BoolParse
)

func (k ResolverKind) String() string {
	switch k {
	case DirectCopy:
		return "direct"
	case EmptyToNull:
		return "empty_to_null"
	case ForeignKeyByCode:
		return "foreign_key"
	case LocalizedText:
		return "localized_text"
	case DateParse:
		return "date"
	case IntParse:
		return "int"
	case FloatParse:
		return "float"
	case BoolParse:
		return "bool"
	default:
		return fmt.Sprintf("resolver(%d)", int(k))
	}
}

type Resolver struct {
	Kind ResolverKind
	// Target is the referenced entity of a ForeignKeyByCode resolver.
	Target   string
	Required bool
}

// Field maps one source column onto one struct field of the record.
type Field struct {
	Column   string
	Field    string
	Resolver Resolver
}

// FieldMap is the declarative row-to-record mapping of one entity type.
type FieldMap struct {
	Entity string
	New    func() interface{}
	Fields []Field
}

// resolveContext carries the per-run state resolvers read from.
type resolveContext struct {
	tx      *gorm.DB
	lookups Lookups
	strings *Strings
}

// Translate builds a new record from row. The returned value is a pointer to
// the model struct New produced.
func (m *FieldMap) Translate(row workbook.Row, rc *resolveContext) (interface{}, error) {
	record := m.New()
	rv := reflect.ValueOf(record).Elem()
	for _, f := range m.Fields {
		v, err := rc.resolve(f, row[f.Column])
		if err != nil {
			return nil, err
		}
		if v == nil {
			continue
		}
		if err := assign(rv, f.Field, v); err != nil {
			return nil, fmt.Errorf("column %q: %w", f.Column, err)
		}
	}
	return record, nil
}

func (rc *resolveContext) resolve(f Field, raw interface{}) (interface{}, error) {
	v := emptyToNull(raw)
	if v == nil {
		if f.Resolver.Required {
			return nil, fmt.Errorf("column %q is required", f.Column)
		}
		return nil, nil
	}

	switch f.Resolver.Kind {
	case DirectCopy, EmptyToNull:
		return v, nil
	case ForeignKeyByCode:
		code := asString(v)
		id, ok := rc.lookups.ID(f.Resolver.Target, code)
		if !ok {
			if f.Resolver.Required {
				return nil, fmt.Errorf("column %q: unresolved %s code %q", f.Column, f.Resolver.Target, code)
			}
			return nil, nil
		}
		return id, nil
	case LocalizedText:
		return rc.strings.Resolve(rc.tx, asString(v))
	case DateParse:
		t, err := parseDate(v)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", f.Column, err)
		}
		return t, nil
	case IntParse:
		n, err := parseInt(v)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", f.Column, err)
		}
		return n, nil
	case FloatParse:
		n, err := parseFloat(v)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", f.Column, err)
		}
		return n, nil
	case BoolParse:
		b, err := parseBool(v)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", f.Column, err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("column %q: unknown resolver %s", f.Column, f.Resolver.Kind)
	}
}

func assign(rv reflect.Value, name string, v interface{}) error {
	field := rv.FieldByName(name)
	if !field.IsValid() || !field.CanSet() {
		return fmt.Errorf("record has no settable field %s", name)
	}
	if field.Kind() == reflect.Ptr {
		elem := reflect.New(field.Type().Elem())
		if err := setScalar(elem.Elem(), v); err != nil {
			return err
		}
		field.Set(elem)
		return nil
	}
	return setScalar(field, v)
}

func setScalar(dst reflect.Value, v interface{}) error {
	if dst.Kind() == reflect.String {
		dst.SetString(asString(v))
		return nil
	}
	src := reflect.ValueOf(v)
	if src.Type().AssignableTo(dst.Type()) {
		dst.Set(src)
		return nil
	}
	if isNumeric(src.Kind()) && isNumeric(dst.Kind()) {
		dst.Set(src.Convert(dst.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", v, dst.Type())
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func emptyToNull(v interface{}) interface{} {
	if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
		return nil
	}
	return v
}

func asString(v interface{}) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case time.Time:
		return x.Format("2006-01-02")
	default:
		return fmt.Sprint(x)
	}
}

var dateLayouts = []string{"2006-01-02", "2006.01.02", "2006/01/02", "01/02/2006", "2006-01-02T15:04:05Z07:00"}

func parseDate(v interface{}) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x, nil
	case float64:
		return excelize.ExcelDateToTime(x, false)
	case string:
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, strings.TrimSpace(x)); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("cannot parse %q as a date", x)
	default:
		return time.Time{}, fmt.Errorf("cannot parse %T as a date", v)
	}
}

func parseInt(v interface{}) (int, error) {
	switch x := v.(type) {
	case float64:
		if x != float64(int(x)) {
			return 0, fmt.Errorf("%v is not an integer", x)
		}
		return int(x), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0, fmt.Errorf("cannot parse %q as an integer", x)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("cannot parse %T as an integer", v)
	}
}

func parseFloat(v interface{}) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, fmt.Errorf("cannot parse %q as a number", x)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("cannot parse %T as a number", v)
	}
}

func parseBool(v interface{}) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case float64:
		return x != 0, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "yes", "y", "1":
			return true, nil
		case "false", "no", "n", "0":
			return false, nil
		}
		return false, fmt.Errorf("cannot parse %q as a boolean", x)
	default:
		return false, fmt.Errorf("cannot parse %T as a boolean", v)
	}
}
