package model

import (
	"fmt"
	"strconv"
	"time"
)

// Kind tags the payload carried by a Value.
type Kind string

// Value kinds.
const (
	KindText    Kind = "text"
	KindNumber  Kind = "number"
	KindInteger Kind = "integer"
	KindDate    Kind = "date"
	KindRuns    Kind = "runs"
)

// DateLayout is the calendar-date layout used for dates in stores and audit rows.
const DateLayout = "2006-01-02"

// RunBreakdown counts runs by difficulty. Percent is set when the source gave shares instead of counts.
type RunBreakdown struct {
	Easy         int  `json:"easy"`
	Intermediate int  `json:"intermediate"`
	Advanced     int  `json:"advanced"`
	Percent      bool `json:"percent,omitempty"`
}

// Value is a typed extraction result. Only the payload matching Kind is meaningful.
type Value struct {
	Kind   Kind
	Text   string
	Number float64
	Int    int
	Date   time.Time
	Runs   RunBreakdown
}

// TextValue wraps a string.
func TextValue(s string) Value { return Value{Kind: KindText, Text: s} }

// NumberValue wraps a float.
func NumberValue(f float64) Value { return Value{Kind: KindNumber, Number: f} }

// IntValue wraps an integer.
func IntValue(i int) Value { return Value{Kind: KindInteger, Int: i} }

// DateValue wraps a calendar date, dropping the time of day.
func DateValue(t time.Time) Value {
	return Value{Kind: KindDate, Date: time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)}
}

// RunsValue wraps a run breakdown.
func RunsValue(r RunBreakdown) Value { return Value{Kind: KindRuns, Runs: r} }

// String renders the value the way it is written to audit rows.
func (v Value) String() string {
	switch v.Kind {
	case KindText:
		return v.Text
	case KindNumber:
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	case KindInteger:
		return strconv.Itoa(v.Int)
	case KindDate:
		return v.Date.Format(DateLayout)
	case KindRuns:
		suffix := ""
		if v.Runs.Percent {
			suffix = "%"
		}
		return fmt.Sprintf("easy=%d%s intermediate=%d%s advanced=%d%s",
			v.Runs.Easy, suffix, v.Runs.Intermediate, suffix, v.Runs.Advanced, suffix)
	default:
		return ""
	}
}

// Extraction is the outcome of the cascade for one field of one document.
type Extraction struct {
	Field      Field
	Value      Value
	Snippet    string
	Confidence float64
	Method     Method
	Pattern    string
}

// Extractions maps fields to their extracted values. Missing fields were not found.
type Extractions map[Field]Extraction
