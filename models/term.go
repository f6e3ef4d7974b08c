package models

import "time"

// TermState is the lifecycle state of a grading period.
type TermState int

const (
	TermNonExistent TermState = iota
	TermDraft
	TermClosed
)

func (s TermState) String() string {
	switch s {
	case TermDraft:
		return "draft"
	case TermClosed:
		return "closed"
	default:
		return "nonexistent"
	}
}

// Term is a grading period of one course (T1, T2, T3 or free text).
type Term struct {
	CourseID   string         `json:"courseId"`
	ID         string         `json:"id"`
	Period     Period         `json:"period"`
	Grades     map[string]int `json:"grades"`
	Notes      string         `json:"notes"`
	Closed     bool           `json:"closed"`
	UpdatedAt  time.Time      `json:"updatedAt,omitempty"`
	ClosedAt   time.Time      `json:"closedAt,omitempty"`
	ReopenedAt time.Time      `json:"reopenedAt,omitempty"`

	// Stored is false when nothing has been written for the term yet.
	Stored bool `json:"stored"`
}

// State derives the lifecycle state from the stored record.
func (t Term) State() TermState {
	switch {
	case !t.Stored:
		return TermNonExistent
	case t.Closed:
		return TermClosed
	default:
		return TermDraft
	}
}

// CourseRef identifies the course a report is about.
type CourseRef struct {
	ID       string `json:"id"`
	SchoolID string `json:"schoolId"`
	Name     string `json:"name"`
}

// ReportRow is one student line of a term report. Grade is nil when the
// student has no grade.
type ReportRow struct {
	StudentID   string           `json:"studentId"`
	StudentName string           `json:"studentName"`
	DNI         string           `json:"dni,omitempty"`
	Grade       *int             `json:"grade"`
	Presents    int              `json:"presents"`
	Absences    int              `json:"absences"`
	Percent     int              `json:"percent"`
	Marks       []AttendanceMark `json:"marks"`
}

// StudentObservations groups a student's notes in chronological order.
type StudentObservations struct {
	StudentID   string             `json:"studentId"`
	StudentName string             `json:"studentName"`
	Items       []ObservationEntry `json:"items"`
}

// TermReport is the plain structure handed to document renderers.
type TermReport struct {
	Course       CourseRef             `json:"course"`
	TermID       string                `json:"termId"`
	Period       Period                `json:"period"`
	IssuedAt     time.Time             `json:"issuedAt"`
	Closed       bool                  `json:"closed"`
	Notes        string                `json:"notes,omitempty"`
	TotalClasses int                   `json:"totalClasses"`
	Dates        []string              `json:"dates"`
	Rows         []ReportRow           `json:"rows"`
	Observations []StudentObservations `json:"observations"`
}
