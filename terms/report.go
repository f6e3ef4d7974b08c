package terms

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"rollbook-server-go/attendance"
	"rollbook-server-go/db"
	"rollbook-server-go/models"
	"rollbook-server-go/observations"
)

// ReportInput is everything a term report is computed from.
type ReportInput struct {
	Course       models.Course
	Term         models.Term
	Period       models.Period
	Roster       map[string]models.Student
	Attendance   models.AttendanceByDate
	Observations models.ObservationsByDate
	Grades       map[string]int
	IssuedAt     time.Time
}

// BuildReport assembles the report handed to renderers. Rows follow the
// roster order; each student's observations are chronological.
func BuildReport(in ReportInput) models.TermReport {
	summary := attendance.Summarize(in.Attendance, in.Roster, in.Period)
	notes := observations.ByStudent(in.Observations, in.Period, observations.OldestFirst)
	students := db.SortedStudents(in.Roster)

	report := models.TermReport{
		Course: models.CourseRef{
			ID:       in.Course.ID,
			SchoolID: in.Course.SchoolID,
			Name:     in.Course.Name,
		},
		TermID:       in.Term.ID,
		Period:       in.Period,
		IssuedAt:     in.IssuedAt,
		Closed:       in.Term.Closed,
		Notes:        in.Term.Notes,
		TotalClasses: summary.TotalClasses,
		Dates:        summary.Dates,
		Rows:         make([]models.ReportRow, 0, len(students)),
		Observations: make([]models.StudentObservations, 0, len(students)),
	}

	for _, st := range students {
		stats := summary.ByStudent[st.ID]
		row := models.ReportRow{
			StudentID:   st.ID,
			StudentName: st.DisplayName(),
			DNI:         st.DNI,
			Presents:    stats.Presents,
			Absences:    stats.Absences,
			Percent:     stats.Percent,
			Marks:       attendance.Marks(in.Attendance, summary.Dates, st.ID),
		}
		if g, ok := in.Grades[st.ID]; ok {
			g := g
			row.Grade = &g
		}
		report.Rows = append(report.Rows, row)

		items := notes[st.ID]
		if items == nil {
			items = []models.ObservationEntry{}
		}
		report.Observations = append(report.Observations, models.StudentObservations{
			StudentID:   st.ID,
			StudentName: st.DisplayName(),
			Items:       items,
		})
	}
	return report
}

// ReportRequest tunes a report. The zero value reports the stored period and
// grades for the whole roster.
type ReportRequest struct {
	// Period replaces the stored period when set.
	Period *models.Period
	// Edits are unsaved grade inputs; they win over the stored grades.
	Edits map[string]string
	// StudentID restricts the report to one student.
	StudentID string
}

// Report reads the course, term, roster, attendance and observations and
// builds the term report. The result reflects Edits, so it may differ from
// what is stored.
func (m *Manager) Report(ctx context.Context, t models.Teacher, courseID, termID string, req ReportRequest) (models.TermReport, error) {
	courseID, termID, err := termKeys(courseID, termID)
	if err != nil {
		return models.TermReport{}, err
	}
	course, err := m.svc.GetCourse(ctx, t, courseID)
	if err != nil {
		return models.TermReport{}, err
	}
	term, err := m.svc.GetTerm(ctx, t, courseID, termID)
	if err != nil {
		return models.TermReport{}, err
	}

	period := term.Period
	if req.Period != nil {
		period = *req.Period
	}
	if err := period.ValidateComplete(); err != nil {
		return models.TermReport{}, err
	}

	roster, err := m.svc.Roster(ctx, t, courseID)
	if err != nil {
		return models.TermReport{}, err
	}
	if req.StudentID != "" {
		st, ok := roster[req.StudentID]
		if !ok {
			return models.TermReport{}, errors.Wrapf(models.ErrNotFound, "student %s", req.StudentID)
		}
		roster = map[string]models.Student{st.ID: st}
	}

	att, err := m.svc.GetAttendance(ctx, t, courseID)
	if err != nil {
		return models.TermReport{}, err
	}
	obs, err := m.svc.GetObservations(ctx, t, courseID)
	if err != nil {
		return models.TermReport{}, err
	}

	return BuildReport(ReportInput{
		Course:       course,
		Term:         term,
		Period:       period,
		Roster:       roster,
		Attendance:   att,
		Observations: obs,
		Grades:       MergeGrades(term.Grades, req.Edits),
		IssuedAt:     m.now(),
	}), nil
}
