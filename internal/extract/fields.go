package extract

import (
	"strings"
	"time"

	"github.com/JakeFAU/ski-resort-crawler/internal/model"
	"github.com/JakeFAU/ski-resort-crawler/internal/nlp"
)

// EntityMapper converts one recognized entity into a value for a field.
type EntityMapper func(e nlp.Entity, ref time.Time) (model.Value, bool)

// FieldSpec describes how one field is extracted.
type FieldSpec struct {
	Field   model.Field
	Convert Converter

	// Keywords anchor heuristic mining. Token is the capture appended to a learned pattern;
	// an empty Token disables mining for the field.
	Keywords []string
	Token    string

	// Labels lists the entity types tried by the entity stage, in order.
	Labels []nlp.Label
	Entity EntityMapper
}

// Structural reports whether patterns run against raw markup.
func (s FieldSpec) Structural() bool { return s.Field.Structural() }

const (
	snowToken  = `([0-9]{1,5}(?:\.[0-9]+)?)\s*(cm|inches|inch|in|m)?\b`
	countToken = `([0-9]{1,3})\b`
	heurPrice  = `\$?\s*` + priceToken
	properName = `(?-i:([A-Z][\p{L}]+(?:\s[A-Z][\p{L}]+)?))`
)

// Registry returns the specs for every field, in extraction order.
func Registry() []FieldSpec {
	specs := map[model.Field]FieldSpec{
		model.FieldName: {
			Convert: convertName,
		},
		model.FieldCountry: {
			Convert:  convertCountry,
			Keywords: []string{"located in", "country", "address"},
			Token:    properName,
			Labels:   []nlp.Label{nlp.LabelGPE},
			Entity:   entityCountry,
		},
		model.FieldContinent: {
			Convert:  convertContinent,
			Keywords: []string{"continent", "region"},
			Token:    properName,
			Labels:   []nlp.Label{nlp.LabelLoc, nlp.LabelGPE},
			Entity:   entityContinent,
		},
		model.FieldLatitude: {
			Convert:  coordinate(90),
			Keywords: []string{"latitude", "gps"},
			Token:    coordToken,
		},
		model.FieldLongitude: {
			Convert:  coordinate(180),
			Keywords: []string{"longitude", "gps"},
			Token:    coordToken,
		},
		model.FieldSnowfall: {
			Convert:  convertSnowfall,
			Keywords: []string{"snowfall", "annual snow", "average snowfall", "avg snowfall", "annual snowfall", "snow depth"},
			Token:    snowToken,
		},
		model.FieldOpeningDate: {
			Convert:  convertDate,
			Keywords: []string{"season opens", "opens on", "season starts", "opening day", "open from"},
			Token:    dateToken,
			Labels:   []nlp.Label{nlp.LabelDate},
			Entity:   entityDate,
		},
		model.FieldClosingDate: {
			Convert:  convertDate,
			Keywords: []string{"season ends", "closes on", "closing day", "season closes", "close on"},
			Token:    dateToken,
			Labels:   []nlp.Label{nlp.LabelDate},
			Entity:   entityDate,
		},
		model.FieldLiftCount: {
			Convert:  convertCount,
			Keywords: []string{"total lifts", "number of lifts", "lift count", "chairlifts", "lifts"},
			Token:    countToken,
		},
		model.FieldRuns: {
			Convert: convertRuns,
		},
		model.FieldDayPass: {
			Convert:  convertPrice,
			Keywords: []string{"day pass", "day ticket", "lift ticket", "daily rate"},
			Token:    heurPrice,
			Labels:   []nlp.Label{nlp.LabelMoney},
			Entity:   entityPrice,
		},
		model.FieldSeasonPass: {
			Convert:  convertPrice,
			Keywords: []string{"season pass", "season ticket", "season price", "annual pass"},
			Token:    heurPrice,
			Labels:   []nlp.Label{nlp.LabelMoney},
			Entity:   entityPrice,
		},
	}
	out := make([]FieldSpec, 0, len(specs))
	for _, f := range model.AllFields() {
		spec := specs[f]
		spec.Field = f
		out = append(out, spec)
	}
	return out
}

func entityDate(e nlp.Entity, ref time.Time) (model.Value, bool) {
	t, ok := parseDate(e.Text, ref)
	if !ok {
		return model.Value{}, false
	}
	return model.DateValue(t), true
}

var foreignCurrency = []string{"€", "£", "eur", "chf", "cad", "aud", "gbp", "euro"}

// entityPrice accepts dollar amounts only; stored prices are USD and no conversion is done.
func entityPrice(e nlp.Entity, _ time.Time) (model.Value, bool) {
	lower := strings.ToLower(e.Text)
	for _, c := range foreignCurrency {
		if strings.Contains(lower, c) {
			return model.Value{}, false
		}
	}
	return convertPrice(Capture{Match: e.Text, Groups: []string{e.Text}}, time.Time{})
}

func entityCountry(e nlp.Entity, _ time.Time) (model.Value, bool) {
	country, ok := nlp.CountryOf(e.Text)
	if !ok {
		return model.Value{}, false
	}
	return model.TextValue(country), true
}

func entityContinent(e nlp.Entity, _ time.Time) (model.Value, bool) {
	if continent, ok := nlp.Continent(e.Text); ok {
		return model.TextValue(continent), true
	}
	continent, ok := nlp.ContinentOf(e.Text)
	if !ok {
		return model.Value{}, false
	}
	return model.TextValue(continent), true
}
