// Package observations selects dated notes by student within a period.
package observations

import (
	"sort"
	"strings"
	"time"

	"rollbook-server-go/models"
)

// Order of entries in a student's list.
type Order int

const (
	// NewestFirst is used by the interactive history.
	NewestFirst Order = iota
	// OldestFirst is used by printed term reports.
	OldestFirst
)

// ParseOrder reads "asc"/"oldest" as OldestFirst; anything else is NewestFirst.
func ParseOrder(s string) Order {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "asc", "oldest", "oldest-first":
		return OldestFirst
	default:
		return NewestFirst
	}
}

// HistoryDays is the span of the default history period.
const HistoryDays = 90

// DefaultHistoryPeriod covers the last HistoryDays days up to today.
func DefaultHistoryPeriod(now time.Time, loc *time.Location) models.Period {
	return models.LastDays(now, loc, HistoryDays)
}

// ByStudent groups the notes within period by student. Blank notes are not
// observations and are left out.
func ByStudent(obs models.ObservationsByDate, period models.Period, order Order) map[string][]models.ObservationEntry {
	out := map[string][]models.ObservationEntry{}
	for date, perStudent := range obs {
		if !period.Contains(date) {
			continue
		}
		for sid, text := range perStudent {
			text = strings.TrimSpace(text)
			if text == "" {
				continue
			}
			out[sid] = append(out[sid], models.ObservationEntry{Date: date, Text: text})
		}
	}
	for sid := range out {
		sortEntries(out[sid], order)
	}
	return out
}

// History lists the notes of one student within period.
func History(obs models.ObservationsByDate, studentID string, period models.Period, order Order) []models.ObservationEntry {
	entries := []models.ObservationEntry{}
	for date, perStudent := range obs {
		if !period.Contains(date) {
			continue
		}
		if text := strings.TrimSpace(perStudent[studentID]); text != "" {
			entries = append(entries, models.ObservationEntry{Date: date, Text: text})
		}
	}
	sortEntries(entries, order)
	return entries
}

func sortEntries(entries []models.ObservationEntry, order Order) {
	sort.Slice(entries, func(i, j int) bool {
		if order == OldestFirst {
			return entries[i].Date < entries[j].Date
		}
		return entries[i].Date > entries[j].Date
	})
}
