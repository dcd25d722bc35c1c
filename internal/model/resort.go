package model

import "time"

// Provenance records where a stored field value came from.
type Provenance struct {
	Value      string  `json:"value"`
	Snippet    string  `json:"snippet"`
	Method     Method  `json:"method"`
	Confidence float64 `json:"confidence"`
}

// Resort is the canonical output record. URL is the identity; nil fields are unknown.
type Resort struct {
	URL              string
	Name             *string
	Country          *string
	Continent        *string
	Latitude         *float64
	Longitude        *float64
	SnowfallInches   *float64
	OpeningDate      *time.Time
	ClosingDate      *time.Time
	LiftCount        *int
	RunsEasy         *int
	RunsIntermediate *int
	RunsAdvanced     *int
	DayPassUSD       *float64
	SeasonPassUSD    *float64
	Raw              map[string]Provenance
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Merge copies every non-nil field of incoming onto r. Known values are never cleared.
func (r *Resort) Merge(incoming Resort) {
	mergeString(&r.Name, incoming.Name)
	mergeString(&r.Country, incoming.Country)
	mergeString(&r.Continent, incoming.Continent)
	mergeFloat(&r.Latitude, incoming.Latitude)
	mergeFloat(&r.Longitude, incoming.Longitude)
	mergeFloat(&r.SnowfallInches, incoming.SnowfallInches)
	mergeTime(&r.OpeningDate, incoming.OpeningDate)
	mergeTime(&r.ClosingDate, incoming.ClosingDate)
	mergeInt(&r.LiftCount, incoming.LiftCount)
	mergeInt(&r.RunsEasy, incoming.RunsEasy)
	mergeInt(&r.RunsIntermediate, incoming.RunsIntermediate)
	mergeInt(&r.RunsAdvanced, incoming.RunsAdvanced)
	mergeFloat(&r.DayPassUSD, incoming.DayPassUSD)
	mergeFloat(&r.SeasonPassUSD, incoming.SeasonPassUSD)
	if len(incoming.Raw) > 0 {
		if r.Raw == nil {
			r.Raw = make(map[string]Provenance, len(incoming.Raw))
		}
		for k, v := range incoming.Raw {
			r.Raw[k] = v
		}
	}
	if !incoming.UpdatedAt.IsZero() {
		r.UpdatedAt = incoming.UpdatedAt
	}
}

// Empty reports whether no data field is set.
func (r Resort) Empty() bool {
	return r.Name == nil && r.Country == nil && r.Continent == nil &&
		r.Latitude == nil && r.Longitude == nil && r.SnowfallInches == nil &&
		r.OpeningDate == nil && r.ClosingDate == nil && r.LiftCount == nil &&
		r.RunsEasy == nil && r.RunsIntermediate == nil && r.RunsAdvanced == nil &&
		r.DayPassUSD == nil && r.SeasonPassUSD == nil
}

func mergeString(dst **string, src *string) {
	if src != nil {
		v := *src
		*dst = &v
	}
}

func mergeFloat(dst **float64, src *float64) {
	if src != nil {
		v := *src
		*dst = &v
	}
}

func mergeInt(dst **int, src *int) {
	if src != nil {
		v := *src
		*dst = &v
	}
}

func mergeTime(dst **time.Time, src *time.Time) {
	if src != nil {
		v := *src
		*dst = &v
	}
}

// RawPage is the write-once audit row for one fetch that returned HTML.
type RawPage struct {
	ID           string
	URL          string
	Domain       string
	StatusCode   int
	HTML         string
	DiscoveredAt time.Time
	Processed    bool
}

// PatternSource distinguishes curated patterns from mined ones.
type PatternSource string

// Pattern sources.
const (
	SourceSeed    PatternSource = "seed"
	SourceLearned PatternSource = "learned"
)

// ExtractionPattern is a stored matcher for one field. (Field, Pattern) is unique.
type ExtractionPattern struct {
	ID         string
	Field      Field
	Pattern    string
	Source     PatternSource
	Confidence float64
	CreatedAt  time.Time
}

// ExtractionLog is the append-only audit row for one (URL, field) outcome.
type ExtractionLog struct {
	ID         string
	URL        string
	Field      Field
	Value      string
	Method     Method
	Confidence float64
	Timestamp  time.Time
}
