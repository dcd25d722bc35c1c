// Package model holds the records shared by the crawler, the extractor and the stores.
package model

// Field names one extractable resort attribute.
type Field string

// Extractable fields, in extraction order.
const (
	FieldName        Field = "name"
	FieldCountry     Field = "country"
	FieldContinent   Field = "continent"
	FieldLatitude    Field = "latitude"
	FieldLongitude   Field = "longitude"
	FieldSnowfall    Field = "snowfall"
	FieldOpeningDate Field = "opening_date"
	FieldClosingDate Field = "closing_date"
	FieldLiftCount   Field = "lift_count"
	FieldRuns        Field = "runs_breakdown"
	FieldDayPass     Field = "day_pass_price"
	FieldSeasonPass  Field = "season_pass_price"
)

var allFields = []Field{
	FieldName,
	FieldCountry,
	FieldContinent,
	FieldLatitude,
	FieldLongitude,
	FieldSnowfall,
	FieldOpeningDate,
	FieldClosingDate,
	FieldLiftCount,
	FieldRuns,
	FieldDayPass,
	FieldSeasonPass,
}

// AllFields returns every extractable field in extraction order.
func AllFields() []Field {
	return append([]Field(nil), allFields...)
}

// ParseField resolves a field name, reporting false for unknown names.
func ParseField(name string) (Field, bool) {
	for _, f := range allFields {
		if string(f) == name {
			return f, true
		}
	}
	return "", false
}

// Structural reports whether the field is matched against raw markup instead of visible text.
func (f Field) Structural() bool {
	switch f {
	case FieldName, FieldLatitude, FieldLongitude:
		return true
	default:
		return false
	}
}

// Method identifies the cascade stage that produced a value.
type Method string

// Cascade stages.
const (
	MethodPattern   Method = "pattern"
	MethodEntity    Method = "entity"
	MethodHeuristic Method = "heuristic"
)

// Confidence tiers attached to every extracted value.
const (
	ConfidencePattern   = 0.8
	ConfidenceEntity    = 0.6
	ConfidenceHeuristic = 0.4
)

// Confidence returns the fixed tier for the stage.
func (m Method) Confidence() float64 {
	switch m {
	case MethodPattern:
		return ConfidencePattern
	case MethodEntity:
		return ConfidenceEntity
	case MethodHeuristic:
		return ConfidenceHeuristic
	default:
		return 0
	}
}
