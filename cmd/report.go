package cmd

import (
	"io"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/JakeFAU/ski-resort-crawler/internal/crawler"
	"github.com/JakeFAU/ski-resort-crawler/internal/model"
	"github.com/JakeFAU/ski-resort-crawler/internal/store"
)

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

// renderReport prints the outcome totals of one run.
func renderReport(w io.Writer, run store.CrawlRun, r crawler.RunReport) {
	t := newTable(w)
	t.SetTitle("Crawl run " + run.ID.String())
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Status", string(run.Status)},
		{"Discovered", r.Discovered},
		{"Succeeded", r.Succeeded},
		{"Blocked", r.Blocked},
		{"Failed", r.Failed},
		{"Skipped", r.Skipped},
		{"Persist errors", r.PersistErrors},
		{"Fields found", r.FieldsFound},
		{"Duration", r.Duration().Round(time.Millisecond).String()},
	})
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})
	t.Render()
}

func renderRuns(w io.Writer, runs []store.CrawlRun) {
	t := newTable(w)
	t.AppendHeader(table.Row{"ID", "Status", "Started", "Finished", "Discovered", "Succeeded", "Blocked", "Failed", "Skipped", "Error"})
	for _, r := range runs {
		finished := ""
		if r.FinishedAt != nil {
			finished = r.FinishedAt.Format(time.RFC3339)
		}
		t.AppendRow(table.Row{
			r.ID.String(), string(r.Status), r.StartedAt.Format(time.RFC3339), finished,
			r.Counts.Discovered, r.Counts.Succeeded, r.Counts.Blocked, r.Counts.Failed, r.Counts.Skipped,
			deref(r.ErrorMessage),
		})
	}
	t.Render()
}

func renderResorts(w io.Writer, resorts []model.Resort) {
	t := newTable(w)
	t.AppendHeader(table.Row{"URL", "Name", "Country", "Snowfall (in)", "Lifts", "Day pass (USD)", "Updated"})
	for _, r := range resorts {
		t.AppendRow(table.Row{
			r.URL, deref(r.Name), deref(r.Country), formatFloat(r.SnowfallInches),
			formatInt(r.LiftCount), formatFloat(r.DayPassUSD), r.UpdatedAt.Format(time.RFC3339),
		})
	}
	t.Render()
}

func renderPatterns(w io.Writer, patterns []model.ExtractionPattern) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Field", "Source", "Confidence", "Pattern"})
	for _, p := range patterns {
		t.AppendRow(table.Row{string(p.Field), string(p.Source), strconv.FormatFloat(p.Confidence, 'f', 2, 64), p.Pattern})
	}
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 4, WidthMax: 80}})
	t.Render()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func formatInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}
