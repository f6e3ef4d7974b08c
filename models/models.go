package models

import (
	"fmt"
	"strings"
	"time"
)

// Teacher identifies the namespace every record lives under. The ID is the
// opaque identifier handed out by the external auth provider.
type Teacher struct {
	ID string `json:"id"`
}

// Anonymous reports whether there is no signed-in identity.
func (t Teacher) Anonymous() bool {
	return strings.TrimSpace(t.ID) == ""
}

// School is the root entity of a teacher's data
type School struct {
	ID        string    `json:"id"`
	Name      string    `json:"name" validate:"required"`
	CreatedAt time.Time `json:"createdAt"`
}

// Course belongs to exactly one School
type Course struct {
	ID        string    `json:"id"`
	SchoolID  string    `json:"schoolId" validate:"required"`
	Year      string    `json:"year" validate:"required"`
	Division  string    `json:"division" validate:"required"`
	Name      string    `json:"name"` // Derived from Year and Division
	CreatedAt time.Time `json:"createdAt"`
}

// CourseName derives the display name of a course, e.g. "3° B".
func CourseName(year, division string) string {
	return fmt.Sprintf("%s° %s", strings.TrimSpace(year), strings.TrimSpace(division))
}

// StudentTermGrade is the copy of a closed term grade kept on the student record
type StudentTermGrade struct {
	Grade     int       `json:"grade"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Student belongs to exactly one Course
type Student struct {
	ID        string                      `json:"id"`
	CourseID  string                      `json:"courseId"`
	FirstName string                      `json:"firstName" validate:"required"`
	LastName  string                      `json:"lastName" validate:"required"`
	DNI       string                      `json:"dni,omitempty"`
	CreatedAt time.Time                   `json:"createdAt"`
	Terms     map[string]StudentTermGrade `json:"terms,omitempty"`
}

// DisplayName renders "Last, First".
func (s Student) DisplayName() string {
	switch {
	case s.LastName == "":
		return s.FirstName
	case s.FirstName == "":
		return s.LastName
	}
	return s.LastName + ", " + s.FirstName
}

// SortKey orders a roster by last name, then first name, ignoring case.
func (s Student) SortKey() string {
	return strings.ToLower(s.LastName + " " + s.FirstName)
}

// AttendanceByDate maps dateISO -> studentID -> present.
// Every date key is one class held, whatever it contains.
type AttendanceByDate map[string]map[string]bool

// ObservationsByDate maps dateISO -> studentID -> free text.
type ObservationsByDate map[string]map[string]string

// ObservationEntry is one dated note about a student
type ObservationEntry struct {
	Date string `json:"date"`
	Text string `json:"text"`
}

// AttendanceMark is the state of one student on one class date
type AttendanceMark struct {
	Date    string `json:"date"`
	Present bool   `json:"present"`
}

// StudentSummary holds the attendance statistics of one student
type StudentSummary struct {
	Presents     int `json:"presents"`
	Absences     int `json:"absences"`
	TotalClasses int `json:"totalClasses"`
	Percent      int `json:"percent"`
}

// AttendanceSummary is the reduction of a course's attendance over a period
type AttendanceSummary struct {
	Dates        []string                  `json:"dates"`
	TotalClasses int                       `json:"totalClasses"`
	ByStudent    map[string]StudentSummary `json:"byStudent"`
}
