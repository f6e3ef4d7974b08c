package db

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"rollbook-server-go/models"
)

// Records come back from the store loosely typed. The decoders below coerce
// them into model types and drop what cannot be read, so business logic
// never has to second-guess a field.

func asMap(v interface{}) map[string]interface{} {
	if m, ok := v.(map[string]interface{}); ok {
		return m
	}
	return map[string]interface{}{}
}

func asString(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return ""
	}
}

func asBool(v interface{}) bool {
	b, ok := v.(bool)
	return ok && b
}

func asTime(v interface{}) time.Time {
	switch x := v.(type) {
	case float64:
		if x > 0 {
			return time.UnixMilli(int64(x)).UTC()
		}
	case string:
		if t, err := time.Parse(time.RFC3339, x); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// asGrade accepts numbers and digit strings; anything outside the grade
// range is treated as no grade.
func asGrade(v interface{}) (int, bool) {
	switch x := v.(type) {
	case float64:
		return models.ClampGrade(int(math.Round(x)))
	case string:
		return models.ParseGrade(x)
	default:
		return 0, false
	}
}

// asNotes unwraps notes written as {"notes": "..."} by older clients.
func asNotes(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case map[string]interface{}:
		return asString(x["notes"])
	default:
		return ""
	}
}

func decodeSchool(id string, raw interface{}) (models.School, bool) {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return models.School{}, false
	}
	return models.School{
		ID:        id,
		Name:      asString(m["name"]),
		CreatedAt: asTime(m["createdAt"]),
	}, true
}

func decodeCourse(id string, raw interface{}) (models.Course, bool) {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return models.Course{}, false
	}
	c := models.Course{
		ID:        id,
		SchoolID:  asString(m["schoolId"]),
		Year:      asString(m["year"]),
		Division:  asString(m["division"]),
		Name:      asString(m["name"]),
		CreatedAt: asTime(m["createdAt"]),
	}
	if c.Name == "" && (c.Year != "" || c.Division != "") {
		c.Name = models.CourseName(c.Year, c.Division)
	}
	return c, true
}

func decodeStudent(courseID, id string, raw interface{}) (models.Student, bool) {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return models.Student{}, false
	}
	s := models.Student{
		ID:        id,
		CourseID:  courseID,
		FirstName: asString(m["firstName"]),
		LastName:  asString(m["lastName"]),
		DNI:       asString(m["dni"]),
		CreatedAt: asTime(m["createdAt"]),
	}
	for termID, t := range asMap(m["terms"]) {
		tm := asMap(t)
		if g, ok := asGrade(tm["grade"]); ok {
			if s.Terms == nil {
				s.Terms = map[string]models.StudentTermGrade{}
			}
			s.Terms[termID] = models.StudentTermGrade{Grade: g, UpdatedAt: asTime(tm["updatedAt"])}
		}
	}
	return s, true
}

func decodeSchools(raw interface{}) []models.School {
	var out []models.School
	for id, v := range asMap(raw) {
		if s, ok := decodeSchool(id, v); ok {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return byCreation(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	return out
}

func decodeCourses(raw interface{}) []models.Course {
	var out []models.Course
	for id, v := range asMap(raw) {
		if c, ok := decodeCourse(id, v); ok {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return byCreation(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	return out
}

func decodeRoster(courseID string, raw interface{}) map[string]models.Student {
	out := map[string]models.Student{}
	for id, v := range asMap(raw) {
		if s, ok := decodeStudent(courseID, id, v); ok {
			out[id] = s
		}
	}
	return out
}

// SortedStudents orders a roster by last name, first name.
func SortedStudents(roster map[string]models.Student) []models.Student {
	out := make([]models.Student, 0, len(roster))
	for _, s := range roster {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].SortKey(), out[j].SortKey()
		if a != b {
			return a < b
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func byCreation(a, b time.Time, idA, idB string) bool {
	if !a.Equal(b) {
		return a.Before(b)
	}
	return idA < idB
}

// decodeAttendance keeps every date key, since each one is a class held.
// Non-bool marks count as not present.
func decodeAttendance(raw interface{}) models.AttendanceByDate {
	out := models.AttendanceByDate{}
	for date, v := range asMap(raw) {
		marks := map[string]bool{}
		for sid, mark := range asMap(v) {
			marks[sid] = asBool(mark)
		}
		out[date] = marks
	}
	return out
}

func decodeObservations(raw interface{}) models.ObservationsByDate {
	out := models.ObservationsByDate{}
	for date, v := range asMap(raw) {
		for sid, text := range asMap(v) {
			s, ok := text.(string)
			if !ok || strings.TrimSpace(s) == "" {
				continue
			}
			if out[date] == nil {
				out[date] = map[string]string{}
			}
			out[date][sid] = s
		}
	}
	return out
}

func decodeTerm(courseID, termID string, raw interface{}) models.Term {
	t := models.Term{
		CourseID: courseID,
		ID:       termID,
		Grades:   map[string]int{},
	}
	m, ok := raw.(map[string]interface{})
	if !ok {
		return t
	}
	t.Stored = true
	period := asMap(m["period"])
	t.Period = models.Period{From: asString(period["from"]), To: asString(period["to"])}
	for sid, g := range asMap(m["grades"]) {
		if grade, ok := asGrade(g); ok {
			t.Grades[sid] = grade
		}
	}
	t.Notes = asNotes(m["notes"])
	t.Closed = asBool(m["closed"])
	t.UpdatedAt = asTime(m["updatedAt"])
	t.ClosedAt = asTime(m["closedAt"])
	t.ReopenedAt = asTime(m["reopenedAt"])
	return t
}
