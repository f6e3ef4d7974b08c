package terms

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollbook-server-go/models"
)

func TestBuildReport(t *testing.T) {
	issued := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	report := BuildReport(ReportInput{
		Course: models.Course{ID: "c1", SchoolID: "s1", Name: "3° A"},
		Term:   models.Term{ID: "T1", Closed: true, Notes: "ok"},
		Period: models.Period{From: "2025-03-01", To: "2025-03-31"},
		Roster: map[string]models.Student{
			"a": {ID: "a", FirstName: "Zoe", LastName: "Ruiz"},
			"b": {ID: "b", FirstName: "Ana", LastName: "Gil"},
		},
		Attendance: models.AttendanceByDate{
			"2025-03-10": {"a": true, "b": true},
			"2025-03-11": {"a": false, "b": true},
			"2025-04-01": {"a": true},
		},
		Observations: models.ObservationsByDate{
			"2025-03-20": {"b": "second"},
			"2025-03-05": {"b": "first"},
			"2025-04-02": {"a": "outside"},
		},
		Grades:   map[string]int{"b": 9},
		IssuedAt: issued,
	})

	assert.Equal(t, models.CourseRef{ID: "c1", SchoolID: "s1", Name: "3° A"}, report.Course)
	assert.Equal(t, "T1", report.TermID)
	assert.True(t, report.Closed)
	assert.Equal(t, 2, report.TotalClasses)
	assert.Equal(t, []string{"2025-03-10", "2025-03-11"}, report.Dates)

	require.Len(t, report.Rows, 2)
	gil, ruiz := report.Rows[0], report.Rows[1]
	assert.Equal(t, "Gil, Ana", gil.StudentName)
	require.NotNil(t, gil.Grade)
	assert.Equal(t, 9, *gil.Grade)
	assert.Equal(t, 100, gil.Percent)
	assert.Equal(t, "Ruiz, Zoe", ruiz.StudentName)
	assert.Nil(t, ruiz.Grade)
	assert.Equal(t, 1, ruiz.Presents)
	assert.Equal(t, 1, ruiz.Absences)
	assert.Equal(t, 50, ruiz.Percent)
	assert.Equal(t, []models.AttendanceMark{
		{Date: "2025-03-10", Present: true},
		{Date: "2025-03-11", Present: false},
	}, ruiz.Marks)

	require.Len(t, report.Observations, 2)
	assert.Equal(t, []models.ObservationEntry{
		{Date: "2025-03-05", Text: "first"},
		{Date: "2025-03-20", Text: "second"},
	}, report.Observations[0].Items)
	assert.NotNil(t, report.Observations[1].Items)
	assert.Empty(t, report.Observations[1].Items)
}

func TestManager_Report(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.mgr.Report(ctx, teacher, f.courseID, "T1", ReportRequest{})
	require.True(t, models.IsValidation(err), "a report needs a period")

	require.NoError(t, f.svc.SaveAttendance(ctx, teacher, f.courseID, "2025-03-10", map[string]bool{
		f.id("Ana"): true, f.id("Bo"): false, f.id("Carla"): true,
	}))
	require.NoError(t, f.svc.SaveObservation(ctx, teacher, f.courseID, "2025-03-10", f.id("Bo"), "late"))
	_, err = f.mgr.SaveGrades(ctx, teacher, f.courseID, "T1", map[string]string{f.id("Ana"): "6", f.id("Bo"): "7"})
	require.NoError(t, err)
	require.NoError(t, f.mgr.SavePeriod(ctx, teacher, f.courseID, "T1", firstTerm))

	report, err := f.mgr.Report(ctx, teacher, f.courseID, "T1", ReportRequest{
		Edits: map[string]string{f.id("Ana"): "9", f.id("Bo"): ""},
	})
	require.NoError(t, err)
	assert.Equal(t, "3° A", report.Course.Name)
	assert.Equal(t, firstTerm, report.Period)
	assert.Equal(t, 1, report.TotalClasses)

	grades := map[string]*int{}
	for _, row := range report.Rows {
		grades[row.StudentID] = row.Grade
	}
	require.NotNil(t, grades[f.id("Ana")])
	assert.Equal(t, 9, *grades[f.id("Ana")])
	assert.Nil(t, grades[f.id("Bo")])

	// The edits were not saved.
	stored, err := f.mgr.Get(ctx, teacher, f.courseID, "T1")
	require.NoError(t, err)
	assert.Equal(t, 6, stored.Grades[f.id("Ana")])

	one, err := f.mgr.Report(ctx, teacher, f.courseID, "T1", ReportRequest{
		StudentID: f.id("Bo"),
		Period:    &models.Period{From: "2025-04-01", To: "2025-04-30"},
	})
	require.NoError(t, err)
	require.Len(t, one.Rows, 1)
	assert.Equal(t, "Diaz, Bo", one.Rows[0].StudentName)
	assert.Equal(t, 0, one.TotalClasses)
	assert.Empty(t, one.Observations[0].Items)

	_, err = f.mgr.Report(ctx, teacher, f.courseID, "T1", ReportRequest{StudentID: "nobody"})
	assert.True(t, errors.Is(err, models.ErrNotFound))

	_, err = f.mgr.Report(ctx, teacher, "missing", "T1", ReportRequest{})
	assert.True(t, errors.Is(err, models.ErrNotFound))
}
