package loader

import (
	"fmt"

	"gorm.io/gorm"

	"datalab-service/internal/models"
)

// Entity names used in queues and foreign key targets.
const (
	EntityGeography = "geography"
	EntityCountry   = "country"
	EntitySurvey    = "survey"
	EntityCharGrp   = "char_grp"
	EntityChar      = "char"
	EntityIndicator = "indicator"
)

// Entry is one (sheet, entity) pair of a structural queue.
type Entry struct {
	Sheet  string
	Entity string
}

// DefaultQueue loads every structural entity from the sheet of the same name,
// parents before children.
func DefaultQueue() []Entry {
	return []Entry{
		{Sheet: EntityGeography, Entity: EntityGeography},
		{Sheet: EntityCountry, Entity: EntityCountry},
		{Sheet: EntitySurvey, Entity: EntitySurvey},
		{Sheet: EntityCharGrp, Entity: EntityCharGrp},
		{Sheet: EntityChar, Entity: EntityChar},
		{Sheet: EntityIndicator, Entity: EntityIndicator},
	}
}

func newModel(entity string) (interface{}, error) {
	switch entity {
	case EntityGeography:
		return &models.Geography{}, nil
	case EntityCountry:
		return &models.Country{}, nil
	case EntitySurvey:
		return &models.Survey{}, nil
	case EntityCharGrp:
		return &models.CharacteristicGroup{}, nil
	case EntityChar:
		return &models.Characteristic{}, nil
	case EntityIndicator:
		return &models.Indicator{}, nil
	default:
		return nil, fmt.Errorf("unknown entity %q", entity)
	}
}

func required(kind ResolverKind) Resolver { return Resolver{Kind: kind, Required: true} }

func optional(kind ResolverKind) Resolver { return Resolver{Kind: kind} }

func fk(target string, req bool) Resolver {
	return Resolver{Kind: ForeignKeyByCode, Target: target, Required: req}
}

func common() []Field {
	return []Field{
		{Column: "code", Field: "Code", Resolver: required(DirectCopy)},
		{Column: "order", Field: "Order", Resolver: optional(IntParse)},
		{Column: "label", Field: "LabelID", Resolver: required(LocalizedText)},
	}
}

// DefaultFieldMaps returns the column conventions of the published workbooks.
func DefaultFieldMaps() map[string]FieldMap {
	return map[string]FieldMap{
		EntityGeography: {
			Entity: EntityGeography,
			New:    func() interface{} { return &models.Geography{} },
			Fields: append(common(),
				Field{Column: "type", Field: "Type", Resolver: optional(EmptyToNull)},
				Field{Column: "subclass", Field: "Subclass", Resolver: optional(EmptyToNull)},
			),
		},
		EntityCountry: {
			Entity: EntityCountry,
			New:    func() interface{} { return &models.Country{} },
			Fields: append(common(),
				Field{Column: "region", Field: "Region", Resolver: optional(EmptyToNull)},
				Field{Column: "subregion", Field: "Subregion", Resolver: optional(EmptyToNull)},
			),
		},
		EntitySurvey: {
			Entity: EntitySurvey,
			New:    func() interface{} { return &models.Survey{} },
			Fields: append(common(),
				Field{Column: "country_code", Field: "CountryID", Resolver: fk(EntityCountry, true)},
				Field{Column: "geography_code", Field: "GeographyID", Resolver: fk(EntityGeography, false)},
				Field{Column: "partner", Field: "PartnerID", Resolver: optional(LocalizedText)},
				Field{Column: "type", Field: "Type", Resolver: optional(EmptyToNull)},
				Field{Column: "year", Field: "Year", Resolver: optional(IntParse)},
				Field{Column: "round", Field: "Round", Resolver: optional(IntParse)},
				Field{Column: "start_date", Field: "StartDate", Resolver: optional(DateParse)},
				Field{Column: "end_date", Field: "EndDate", Resolver: optional(DateParse)},
			),
		},
		EntityCharGrp: {
			Entity: EntityCharGrp,
			New:    func() interface{} { return &models.CharacteristicGroup{} },
			Fields: append(common(),
				Field{Column: "definition", Field: "DefinitionID", Resolver: optional(LocalizedText)},
			),
		},
		EntityChar: {
			Entity: EntityChar,
			New:    func() interface{} { return &models.Characteristic{} },
			Fields: append(common(),
				Field{Column: "char_grp_code", Field: "CharGrpID", Resolver: fk(EntityCharGrp, true)},
			),
		},
		EntityIndicator: {
			Entity: EntityIndicator,
			New:    func() interface{} { return &models.Indicator{} },
			Fields: append(common(),
				Field{Column: "definition", Field: "DefinitionID", Resolver: optional(LocalizedText)},
				Field{Column: "domain", Field: "DomainID", Resolver: optional(LocalizedText)},
				Field{Column: "type", Field: "Type", Resolver: optional(EmptyToNull)},
				Field{Column: "measurement_type", Field: "MeasurementType", Resolver: optional(EmptyToNull)},
				Field{Column: "abbreviation", Field: "Abbreviation", Resolver: optional(EmptyToNull)},
				Field{Column: "is_favorite", Field: "IsFavorite", Resolver: optional(BoolParse)},
			),
		},
	}
}

// DatumFieldMap is the column convention of data sheets.
func DatumFieldMap() FieldMap {
	return FieldMap{
		Entity: "datum",
		New:    func() interface{} { return &models.Datum{} },
		Fields: []Field{
			{Column: "survey_code", Field: "SurveyID", Resolver: fk(EntitySurvey, true)},
			{Column: "indicator_code", Field: "IndicatorID", Resolver: fk(EntityIndicator, true)},
			{Column: "char1_code", Field: "Char1ID", Resolver: fk(EntityChar, false)},
			{Column: "char2_code", Field: "Char2ID", Resolver: fk(EntityChar, false)},
			{Column: "geo_code", Field: "GeographyID", Resolver: fk(EntityGeography, false)},
			{Column: "value", Field: "Value", Resolver: optional(FloatParse)},
			{Column: "lower_ci", Field: "LowerCI", Resolver: optional(FloatParse)},
			{Column: "upper_ci", Field: "UpperCI", Resolver: optional(FloatParse)},
			{Column: "level_ci", Field: "LevelCI", Resolver: optional(FloatParse)},
			{Column: "precision", Field: "Precision", Resolver: optional(IntParse)},
			{Column: "is_total", Field: "IsTotal", Resolver: optional(BoolParse)},
			{Column: "denom_w", Field: "DenomW", Resolver: optional(FloatParse)},
			{Column: "denom_uw", Field: "DenomUW", Resolver: optional(FloatParse)},
		},
	}
}

// Lookups maps entity name to code to surrogate id.
type Lookups map[string]map[string]uint

func (l Lookups) ID(entity, code string) (uint, bool) {
	id, ok := l[entity][code]
	return id, ok
}

func (l Lookups) Add(entity, code string, id uint) {
	m, ok := l[entity]
	if !ok {
		m = make(map[string]uint)
		l[entity] = m
	}
	m[code] = id
}

type codeRow struct {
	ID   uint
	Code string
}

// BuildLookups queries each entity table once and returns its code to id map.
func BuildLookups(tx *gorm.DB, entities ...string) (Lookups, error) {
	lookups := make(Lookups, len(entities))
	for _, entity := range entities {
		model, err := newModel(entity)
		if err != nil {
			return nil, err
		}
		var rows []codeRow
		if err := tx.Model(model).Select("id", "code").Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("failed to read %s codes: %w", entity, err)
		}
		m := make(map[string]uint, len(rows))
		for _, r := range rows {
			m[r.Code] = r.ID
		}
		lookups[entity] = m
	}
	return lookups, nil
}

func allEntities() []string {
	return []string{EntityGeography, EntityCountry, EntitySurvey, EntityCharGrp, EntityChar, EntityIndicator}
}
