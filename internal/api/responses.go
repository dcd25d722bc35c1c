package api

import (
	"time"

	"github.com/JakeFAU/ski-resort-crawler/internal/model"
	"github.com/JakeFAU/ski-resort-crawler/internal/store"
)

type resortResponse struct {
	URL              string                      `json:"url"`
	Name             *string                     `json:"name,omitempty"`
	Country          *string                     `json:"country,omitempty"`
	Continent        *string                     `json:"continent,omitempty"`
	Latitude         *float64                    `json:"latitude,omitempty"`
	Longitude        *float64                    `json:"longitude,omitempty"`
	SnowfallInches   *float64                    `json:"snowfall_inches,omitempty"`
	OpeningDate      *string                     `json:"opening_date,omitempty"`
	ClosingDate      *string                     `json:"closing_date,omitempty"`
	LiftCount        *int                        `json:"lift_count,omitempty"`
	RunsEasy         *int                        `json:"runs_easy,omitempty"`
	RunsIntermediate *int                        `json:"runs_intermediate,omitempty"`
	RunsAdvanced     *int                        `json:"runs_advanced,omitempty"`
	DayPassUSD       *float64                    `json:"day_pass_usd,omitempty"`
	SeasonPassUSD    *float64                    `json:"season_pass_usd,omitempty"`
	Raw              map[string]model.Provenance `json:"raw,omitempty"`
	CreatedAt        time.Time                   `json:"created_at"`
	UpdatedAt        time.Time                   `json:"updated_at"`
}

func toResortResponse(r model.Resort) resortResponse {
	return resortResponse{
		URL:              r.URL,
		Name:             r.Name,
		Country:          r.Country,
		Continent:        r.Continent,
		Latitude:         r.Latitude,
		Longitude:        r.Longitude,
		SnowfallInches:   r.SnowfallInches,
		OpeningDate:      formatDate(r.OpeningDate),
		ClosingDate:      formatDate(r.ClosingDate),
		LiftCount:        r.LiftCount,
		RunsEasy:         r.RunsEasy,
		RunsIntermediate: r.RunsIntermediate,
		RunsAdvanced:     r.RunsAdvanced,
		DayPassUSD:       r.DayPassUSD,
		SeasonPassUSD:    r.SeasonPassUSD,
		Raw:              r.Raw,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

func formatDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(model.DateLayout)
	return &s
}

type runResponse struct {
	ID            string     `json:"id"`
	Status        string     `json:"status"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	Discovered    int        `json:"discovered"`
	Succeeded     int        `json:"succeeded"`
	Blocked       int        `json:"blocked"`
	Failed        int        `json:"failed"`
	Skipped       int        `json:"skipped"`
	PersistErrors int        `json:"persist_errors"`
	ErrorMessage  *string    `json:"error_message,omitempty"`
}

func toRunResponse(r store.CrawlRun) runResponse {
	return runResponse{
		ID:            r.ID.String(),
		Status:        string(r.Status),
		StartedAt:     r.StartedAt,
		FinishedAt:    r.FinishedAt,
		Discovered:    r.Counts.Discovered,
		Succeeded:     r.Counts.Succeeded,
		Blocked:       r.Counts.Blocked,
		Failed:        r.Counts.Failed,
		Skipped:       r.Counts.Skipped,
		PersistErrors: r.Counts.PersistErrors,
		ErrorMessage:  r.ErrorMessage,
	}
}

type patternResponse struct {
	ID         string    `json:"id"`
	Pattern    string    `json:"pattern"`
	Source     string    `json:"source"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}
