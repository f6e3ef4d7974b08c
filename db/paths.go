package db

import (
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"rollbook-server-go/models"
)

// Collections under a teacher namespace
const (
	CollSchools      = "schools"      // schools/{id}
	CollCourses      = "courses"      // courses/{id}, carries schoolId
	CollStudents     = "students"     // students/{courseId}/{id}
	CollAttendance   = "attendance"   // attendance/{courseId}/{date}/{studentId} -> bool
	CollObservations = "observations" // observations/{courseId}/{date}/{studentId} -> string
	CollTerms        = "terms"        // terms/{courseId}/{termId}
)

// JoinPath joins segments with "/", skipping empty ones.
func JoinPath(segs ...string) string {
	parts := make([]string, 0, len(segs))
	for _, s := range segs {
		s = strings.Trim(s, "/")
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "/")
}

func SchoolPath(schoolID string) string { return JoinPath(CollSchools, schoolID) }

func CoursePath(courseID string) string { return JoinPath(CollCourses, courseID) }

func StudentsPath(courseID string) string { return JoinPath(CollStudents, courseID) }

func StudentPath(courseID, studentID string) string {
	return JoinPath(CollStudents, courseID, studentID)
}

// StudentTermPath is where a closed term grade is copied on the student record.
func StudentTermPath(courseID, studentID, termID string) string {
	return JoinPath(CollStudents, courseID, studentID, "terms", termID)
}

func AttendancePath(courseID string) string { return JoinPath(CollAttendance, courseID) }

func AttendanceDatePath(courseID, date string) string {
	return JoinPath(CollAttendance, courseID, date)
}

func ObservationsPath(courseID string) string { return JoinPath(CollObservations, courseID) }

func ObservationPath(courseID, date, studentID string) string {
	return JoinPath(CollObservations, courseID, date, studentID)
}

func TermsPath(courseID string) string { return JoinPath(CollTerms, courseID) }

func TermPath(courseID, termID string) string { return JoinPath(CollTerms, courseID, termID) }

// ValidKey reports whether s can be used as a single path segment.
func ValidKey(s string) bool {
	return s != "" && strings.TrimSpace(s) == s && !strings.Contains(s, "/") && s != "." && s != ".."
}

// cleanPath normalises p and rejects empty segments ("a//b").
func cleanPath(p string) (string, error) {
	p = strings.Trim(p, "/")
	if p == "" {
		return "", nil
	}
	for _, seg := range strings.Split(p, "/") {
		if !ValidKey(seg) {
			return "", models.NewValidationError(errors.Errorf("invalid path %q", p))
		}
	}
	return p, nil
}

// ancestors lists the proper ancestors of p, nearest last ("a", "a/b" for "a/b/c").
func ancestors(p string) []string {
	var out []string
	for i := 0; i < len(p); i++ {
		if p[i] == '/' {
			out = append(out, p[:i])
		}
	}
	return out
}

// within reports whether p is base or lies beneath it.
func within(p, base string) bool {
	return base == "" || p == base || strings.HasPrefix(p, base+"/")
}

// overlaps reports whether one of the two paths contains the other.
func overlaps(a, b string) bool {
	return within(a, b) || within(b, a)
}

// newID returns a time-ordered id, so ids sort by creation like push keys.
func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}
