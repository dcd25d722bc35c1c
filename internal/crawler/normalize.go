package crawler

import (
	"time"

	"github.com/JakeFAU/ski-resort-crawler/internal/model"
)

// Normalize maps extracted fields onto a Resort for url. Fields absent from ex stay nil so an
// upsert never clears previously stored values. Raw carries the provenance of every field set.
func Normalize(url string, ex model.Extractions, now time.Time) model.Resort {
	r := model.Resort{URL: url, UpdatedAt: now.UTC()}
	for field, e := range ex {
		if !assign(&r, field, e.Value) {
			continue
		}
		if r.Raw == nil {
			r.Raw = make(map[string]model.Provenance, len(ex))
		}
		r.Raw[string(field)] = model.Provenance{
			Value:      e.Value.String(),
			Snippet:    e.Snippet,
			Method:     e.Method,
			Confidence: e.Confidence,
		}
	}
	return r
}

// assign sets the Resort column backing field, reporting false when the value kind does not
// fit the column.
func assign(r *model.Resort, field model.Field, v model.Value) bool {
	switch field {
	case model.FieldName:
		return setText(&r.Name, v)
	case model.FieldCountry:
		return setText(&r.Country, v)
	case model.FieldContinent:
		return setText(&r.Continent, v)
	case model.FieldLatitude:
		return setNumber(&r.Latitude, v)
	case model.FieldLongitude:
		return setNumber(&r.Longitude, v)
	case model.FieldSnowfall:
		return setNumber(&r.SnowfallInches, v)
	case model.FieldDayPass:
		return setNumber(&r.DayPassUSD, v)
	case model.FieldSeasonPass:
		return setNumber(&r.SeasonPassUSD, v)
	case model.FieldOpeningDate:
		return setDate(&r.OpeningDate, v)
	case model.FieldClosingDate:
		return setDate(&r.ClosingDate, v)
	case model.FieldLiftCount:
		switch v.Kind {
		case model.KindInteger:
			n := v.Int
			r.LiftCount = &n
			return true
		case model.KindNumber:
			n := int(v.Number)
			r.LiftCount = &n
			return true
		}
		return false
	case model.FieldRuns:
		if v.Kind != model.KindRuns {
			return false
		}
		easy, mid, adv := v.Runs.Easy, v.Runs.Intermediate, v.Runs.Advanced
		r.RunsEasy, r.RunsIntermediate, r.RunsAdvanced = &easy, &mid, &adv
		return true
	default:
		return false
	}
}

func setText(dst **string, v model.Value) bool {
	if v.Kind != model.KindText || v.Text == "" {
		return false
	}
	s := v.Text
	*dst = &s
	return true
}

func setNumber(dst **float64, v model.Value) bool {
	var f float64
	switch v.Kind {
	case model.KindNumber:
		f = v.Number
	case model.KindInteger:
		f = float64(v.Int)
	default:
		return false
	}
	*dst = &f
	return true
}

func setDate(dst **time.Time, v model.Value) bool {
	if v.Kind != model.KindDate || v.Date.IsZero() {
		return false
	}
	d := v.Date
	*dst = &d
	return true
}
