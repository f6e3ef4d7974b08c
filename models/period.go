package models

import (
	"errors"
	"time"
)

// DateLayout is the fixed-width ISO layout of date keys. Keys in this layout
// order lexicographically the same way they order in time.
const DateLayout = "2006-01-02"

// Period is an inclusive date range. An empty bound is unbounded on that side.
type Period struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Contains reports whether date lies within the period.
func (p Period) Contains(date string) bool {
	if date == "" {
		return false
	}
	if p.From != "" && date < p.From {
		return false
	}
	if p.To != "" && date > p.To {
		return false
	}
	return true
}

// Complete reports whether both bounds are set.
func (p Period) Complete() bool {
	return p.From != "" && p.To != ""
}

// Validate checks the bounds that are set and their order.
func (p Period) Validate() error {
	var flds []FieldError
	if p.From != "" && !ValidDate(p.From) {
		flds = append(flds, FieldError{Field: "from", Error: "must be a YYYY-MM-DD date"})
	}
	if p.To != "" && !ValidDate(p.To) {
		flds = append(flds, FieldError{Field: "to", Error: "must be a YYYY-MM-DD date"})
	}
	if len(flds) > 0 {
		return NewValidationError(errors.New("invalid period"), flds...)
	}
	if p.Complete() && p.To < p.From {
		return NewValidationError(
			errors.New("invalid period"),
			FieldError{Field: "to", Error: "must not be earlier than from"},
		)
	}
	return nil
}

// ValidateComplete is Validate plus both bounds being required.
func (p Period) ValidateComplete() error {
	var flds []FieldError
	if p.From == "" {
		flds = append(flds, FieldError{Field: "from", Error: "this field is required"})
	}
	if p.To == "" {
		flds = append(flds, FieldError{Field: "to", Error: "this field is required"})
	}
	if len(flds) > 0 {
		return NewValidationError(errors.New("period is incomplete"), flds...)
	}
	return p.Validate()
}

// ValidDate reports whether s is a real calendar date in DateLayout.
func ValidDate(s string) bool {
	if len(s) != len(DateLayout) {
		return false
	}
	_, err := time.Parse(DateLayout, s)
	return err == nil
}

// DateKey formats t as a date key in loc, so a class taken late in the
// evening does not land on the next UTC day.
func DateKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DateLayout)
}

// LastDays is the period covering the n days up to and including now.
func LastDays(now time.Time, loc *time.Location, n int) Period {
	return Period{
		From: DateKey(now.AddDate(0, 0, -n), loc),
		To:   DateKey(now, loc),
	}
}
