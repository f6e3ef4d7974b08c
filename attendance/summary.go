// Package attendance reduces per-date attendance marks into per-student
// statistics.
//
// Every date key present for a course is one class held, no matter how many
// students were marked that day. A student with no mark on a held date is
// counted absent.
package attendance

import (
	"math"
	"sort"

	"rollbook-server-go/models"
)

// Dates returns the class dates of att within period, ascending.
func Dates(att models.AttendanceByDate, period models.Period) []string {
	dates := make([]string, 0, len(att))
	for d := range att {
		if period.Contains(d) {
			dates = append(dates, d)
		}
	}
	sort.Strings(dates)
	return dates
}

// FilterDates keeps the dates of att that lie within period. Filtering an
// already filtered map with the same period returns the same map.
func FilterDates(att models.AttendanceByDate, period models.Period) models.AttendanceByDate {
	out := make(models.AttendanceByDate, len(att))
	for d, marks := range att {
		if period.Contains(d) {
			out[d] = marks
		}
	}
	return out
}

// Summarize computes the statistics of every roster student over the class
// dates within period. Marks of students missing from the roster are ignored.
func Summarize(att models.AttendanceByDate, roster map[string]models.Student, period models.Period) models.AttendanceSummary {
	dates := Dates(att, period)
	total := len(dates)

	byStudent := make(map[string]models.StudentSummary, len(roster))
	for sid := range roster {
		presents := 0
		for _, d := range dates {
			if att[d][sid] {
				presents++
			}
		}
		byStudent[sid] = models.StudentSummary{
			Presents:     presents,
			Absences:     total - presents,
			TotalClasses: total,
			Percent:      Percent(presents, total),
		}
	}

	return models.AttendanceSummary{
		Dates:        dates,
		TotalClasses: total,
		ByStudent:    byStudent,
	}
}

// Percent is presents over total as a rounded percentage; 0 when no class
// was held.
func Percent(presents, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(presents) / float64(total) * 100))
}

// Marks lists the state of one student on each of dates.
func Marks(att models.AttendanceByDate, dates []string, studentID string) []models.AttendanceMark {
	marks := make([]models.AttendanceMark, 0, len(dates))
	for _, d := range dates {
		marks = append(marks, models.AttendanceMark{Date: d, Present: att[d][studentID]})
	}
	return marks
}
