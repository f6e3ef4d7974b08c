package db

import (
	"context"
	"log"
	"math/rand/v2"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"rollbook-server-go/models"
)

// Service is the typed face of the store: entity CRUD, subscriptions and the
// attendance/observation upserts, all scoped to a teacher.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService creates a new Service over store
func NewService(store Store) *Service {
	return &Service{
		store: store,
		now:   time.Now,
	}
}

// Store exposes the underlying store to the lifecycle and cascade engines.
func (s *Service) Store() Store { return s.store }

// Now is the server clock used for timestamps.
func (s *Service) Now() time.Time { return s.now() }

// SetClock replaces the server clock (tests).
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// persistErr tags store failures; validation and identity errors pass through.
func persistErr(op string, err error) error {
	if err == nil || models.IsValidation(err) || errors.Is(err, models.ErrNoIdentity) {
		return err
	}
	return models.NewPersistenceError(op, err)
}

func requireKey(field, value string) error {
	if !ValidKey(value) {
		return models.NewValidationError(
			errors.Errorf("invalid %s", field),
			models.FieldError{Field: field, Error: "this field is required"},
		)
	}
	return nil
}

func requireDate(field, value string) error {
	if !models.ValidDate(value) {
		return models.NewValidationError(
			errors.Errorf("invalid %s", field),
			models.FieldError{Field: field, Error: "must be a YYYY-MM-DD date"},
		)
	}
	return nil
}

// --- School Operations ---

// AddSchool adds a new school for the teacher
func (s *Service) AddSchool(ctx context.Context, t models.Teacher, name string) (models.School, error) {
	if t.Anonymous() {
		return models.School{}, models.ErrNoIdentity
	}
	school := models.School{Name: strings.TrimSpace(name), CreatedAt: s.now().UTC()}
	if err := models.Validate(school); err != nil {
		return models.School{}, err
	}
	id, err := s.store.Push(ctx, t.ID, CollSchools, map[string]interface{}{
		"name":      school.Name,
		"createdAt": school.CreatedAt,
	})
	if err != nil {
		return models.School{}, persistErr("add school", err)
	}
	school.ID = id
	log.Printf("Added school: %s (%s) for teacher %s", school.Name, school.ID, t.ID)
	return school, nil
}

// UpdateSchool renames an existing school
func (s *Service) UpdateSchool(ctx context.Context, t models.Teacher, schoolID, name string) error {
	if err := requireKey("schoolId", schoolID); err != nil {
		return err
	}
	school := models.School{ID: schoolID, Name: strings.TrimSpace(name)}
	if err := models.Validate(school); err != nil {
		return err
	}
	if _, err := s.GetSchool(ctx, t, schoolID); err != nil {
		return err
	}
	err := s.store.Update(ctx, t.ID, SchoolPath(schoolID), map[string]interface{}{"name": school.Name})
	return persistErr("update school", err)
}

// GetSchool retrieves a school by its ID
func (s *Service) GetSchool(ctx context.Context, t models.Teacher, schoolID string) (models.School, error) {
	if !ValidKey(schoolID) {
		return models.School{}, models.ErrNotFound
	}
	raw, err := s.store.Get(ctx, t.ID, SchoolPath(schoolID))
	if err != nil {
		return models.School{}, persistErr("get school", err)
	}
	school, ok := decodeSchool(schoolID, raw)
	if !ok {
		return models.School{}, models.ErrNotFound
	}
	return school, nil
}

// ListSchools retrieves all schools of the teacher, oldest first
func (s *Service) ListSchools(ctx context.Context, t models.Teacher) ([]models.School, error) {
	raw, err := s.store.Get(ctx, t.ID, CollSchools)
	if err != nil {
		return nil, persistErr("list schools", err)
	}
	return decodeSchools(raw), nil
}

// SubscribeSchools streams the school list until the subscription is closed.
func (s *Service) SubscribeSchools(ctx context.Context, t models.Teacher, fn func([]models.School)) (Subscription, error) {
	return s.store.Subscribe(ctx, t.ID, CollSchools, func(v interface{}) {
		fn(decodeSchools(v))
	})
}

// --- Course Operations ---

// AddCourse adds a course to an existing school. The name is derived from
// year and division.
func (s *Service) AddCourse(ctx context.Context, t models.Teacher, course models.Course) (models.Course, error) {
	if t.Anonymous() {
		return models.Course{}, models.ErrNoIdentity
	}
	course.SchoolID = strings.TrimSpace(course.SchoolID)
	course.Year = strings.TrimSpace(course.Year)
	course.Division = strings.TrimSpace(course.Division)
	if err := models.Validate(course); err != nil {
		return models.Course{}, err
	}
	if !ValidKey(course.SchoolID) {
		return models.Course{}, missingParent("schoolId", "school")
	}
	course.Name = models.CourseName(course.Year, course.Division)
	course.CreatedAt = s.now().UTC()

	id := newID()
	err := s.writeUnder(ctx, t, SchoolPath(course.SchoolID), "schoolId", "school", map[string]interface{}{
		CoursePath(id): map[string]interface{}{
			"schoolId":  course.SchoolID,
			"year":      course.Year,
			"division":  course.Division,
			"name":      course.Name,
			"createdAt": course.CreatedAt,
		},
	})
	if err != nil {
		return models.Course{}, persistErr("add course", err)
	}
	course.ID = id
	log.Printf("Added course: %s (%s) to school %s", course.Name, course.ID, course.SchoolID)
	return course, nil
}

// UpdateCourse changes year and division and re-derives the name
func (s *Service) UpdateCourse(ctx context.Context, t models.Teacher, courseID, year, division string) (models.Course, error) {
	course, err := s.GetCourse(ctx, t, courseID)
	if err != nil {
		return models.Course{}, err
	}
	course.Year = strings.TrimSpace(year)
	course.Division = strings.TrimSpace(division)
	if err := models.Validate(course); err != nil {
		return models.Course{}, err
	}
	course.Name = models.CourseName(course.Year, course.Division)
	err = s.store.Update(ctx, t.ID, CoursePath(courseID), map[string]interface{}{
		"year":     course.Year,
		"division": course.Division,
		"name":     course.Name,
	})
	if err != nil {
		return models.Course{}, persistErr("update course", err)
	}
	return course, nil
}

// GetCourse retrieves a course by its ID
func (s *Service) GetCourse(ctx context.Context, t models.Teacher, courseID string) (models.Course, error) {
	if !ValidKey(courseID) {
		return models.Course{}, models.ErrNotFound
	}
	raw, err := s.store.Get(ctx, t.ID, CoursePath(courseID))
	if err != nil {
		return models.Course{}, persistErr("get course", err)
	}
	course, ok := decodeCourse(courseID, raw)
	if !ok {
		return models.Course{}, models.ErrNotFound
	}
	return course, nil
}

// ListCourses retrieves every course of the teacher
func (s *Service) ListCourses(ctx context.Context, t models.Teacher) ([]models.Course, error) {
	raw, err := s.store.Get(ctx, t.ID, CollCourses)
	if err != nil {
		return nil, persistErr("list courses", err)
	}
	return decodeCourses(raw), nil
}

// ListCoursesBySchool scans all courses and keeps those of schoolID.
// There is no secondary index.
func (s *Service) ListCoursesBySchool(ctx context.Context, t models.Teacher, schoolID string) ([]models.Course, error) {
	all, err := s.ListCourses(ctx, t)
	if err != nil {
		return nil, err
	}
	return filterCourses(all, schoolID), nil
}

// SubscribeCoursesBySchool streams the courses of one school.
func (s *Service) SubscribeCoursesBySchool(ctx context.Context, t models.Teacher, schoolID string, fn func([]models.Course)) (Subscription, error) {
	return s.store.Subscribe(ctx, t.ID, CollCourses, func(v interface{}) {
		fn(filterCourses(decodeCourses(v), schoolID))
	})
}

func filterCourses(all []models.Course, schoolID string) []models.Course {
	out := make([]models.Course, 0, len(all))
	for _, c := range all {
		if c.SchoolID == schoolID {
			out = append(out, c)
		}
	}
	return out
}

// --- Student Operations ---

func studentFields(st models.Student) map[string]interface{} {
	fields := map[string]interface{}{
		"firstName": st.FirstName,
		"lastName":  st.LastName,
		"dni":       nil,
	}
	if st.DNI != "" {
		fields["dni"] = st.DNI
	}
	return fields
}

func cleanStudent(st models.Student) models.Student {
	st.FirstName = strings.TrimSpace(st.FirstName)
	st.LastName = strings.TrimSpace(st.LastName)
	st.DNI = strings.TrimSpace(st.DNI)
	return st
}

func missingParent(field, kind string) error {
	return models.NewValidationError(
		errors.New("invalid data"),
		models.FieldError{Field: field, Error: kind + " does not exist"},
	)
}

func (s *Service) requireCourse(ctx context.Context, t models.Teacher, courseID string) error {
	if _, err := s.GetCourse(ctx, t, courseID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return missingParent("courseId", "course")
		}
		return err
	}
	return nil
}

// writeUnder commits values in a transaction that also checks the record at
// parentPath, so nothing lands beneath a school or course that a concurrent
// cascade is removing.
func (s *Service) writeUnder(ctx context.Context, t models.Teacher, parentPath, field, kind string, values map[string]interface{}) error {
	return s.store.Transact(ctx, t.ID, func(get GetFunc) (map[string]interface{}, error) {
		raw, err := get(parentPath)
		if err != nil {
			return nil, err
		}
		if len(asMap(raw)) == 0 {
			return nil, missingParent(field, kind)
		}
		return values, nil
	})
}

// AddStudent adds a student to a course
func (s *Service) AddStudent(ctx context.Context, t models.Teacher, courseID string, st models.Student) (models.Student, error) {
	if t.Anonymous() {
		return models.Student{}, models.ErrNoIdentity
	}
	st = cleanStudent(st)
	if err := models.Validate(st); err != nil {
		return models.Student{}, err
	}
	if !ValidKey(courseID) {
		return models.Student{}, missingParent("courseId", "course")
	}
	st.CourseID = courseID
	st.CreatedAt = s.now().UTC()

	id := newID()
	fields := studentFields(st)
	fields["createdAt"] = st.CreatedAt
	err := s.writeUnder(ctx, t, CoursePath(courseID), "courseId", "course", map[string]interface{}{
		StudentPath(courseID, id): fields,
	})
	if err != nil {
		return models.Student{}, persistErr("add student", err)
	}
	st.ID = id
	return st, nil
}

// UpdateStudent rewrites a student's names and DNI
func (s *Service) UpdateStudent(ctx context.Context, t models.Teacher, courseID, studentID string, st models.Student) (models.Student, error) {
	st = cleanStudent(st)
	if err := models.Validate(st); err != nil {
		return models.Student{}, err
	}
	current, err := s.GetStudent(ctx, t, courseID, studentID)
	if err != nil {
		return models.Student{}, err
	}
	if err := s.store.Update(ctx, t.ID, StudentPath(courseID, studentID), studentFields(st)); err != nil {
		return models.Student{}, persistErr("update student", err)
	}
	current.FirstName, current.LastName, current.DNI = st.FirstName, st.LastName, st.DNI
	return current, nil
}

// RemoveStudent deletes one student record. Attendance and observations
// recorded for the student stay in place and are no longer shown.
func (s *Service) RemoveStudent(ctx context.Context, t models.Teacher, courseID, studentID string) error {
	if err := requireKey("courseId", courseID); err != nil {
		return err
	}
	if err := requireKey("studentId", studentID); err != nil {
		return err
	}
	return persistErr("remove student", s.store.Remove(ctx, t.ID, StudentPath(courseID, studentID)))
}

// GetStudent retrieves a student by its ID
func (s *Service) GetStudent(ctx context.Context, t models.Teacher, courseID, studentID string) (models.Student, error) {
	if !ValidKey(courseID) || !ValidKey(studentID) {
		return models.Student{}, models.ErrNotFound
	}
	raw, err := s.store.Get(ctx, t.ID, StudentPath(courseID, studentID))
	if err != nil {
		return models.Student{}, persistErr("get student", err)
	}
	st, ok := decodeStudent(courseID, studentID, raw)
	if !ok {
		return models.Student{}, models.ErrNotFound
	}
	return st, nil
}

// Roster retrieves the students of a course keyed by id
func (s *Service) Roster(ctx context.Context, t models.Teacher, courseID string) (map[string]models.Student, error) {
	if !ValidKey(courseID) {
		return map[string]models.Student{}, nil
	}
	raw, err := s.store.Get(ctx, t.ID, StudentsPath(courseID))
	if err != nil {
		return nil, persistErr("list students", err)
	}
	return decodeRoster(courseID, raw), nil
}

// ListStudents retrieves the students of a course sorted by name
func (s *Service) ListStudents(ctx context.Context, t models.Teacher, courseID string) ([]models.Student, error) {
	roster, err := s.Roster(ctx, t, courseID)
	if err != nil {
		return nil, err
	}
	return SortedStudents(roster), nil
}

// SubscribeStudents streams the roster of a course.
func (s *Service) SubscribeStudents(ctx context.Context, t models.Teacher, courseID string, fn func(map[string]models.Student)) (Subscription, error) {
	if err := requireKey("courseId", courseID); err != nil {
		return nil, err
	}
	return s.store.Subscribe(ctx, t.ID, StudentsPath(courseID), func(v interface{}) {
		fn(decodeRoster(courseID, v))
	})
}

// RandomStudent picks a student of the course for a roll call; nil when the
// course has no students.
func (s *Service) RandomStudent(ctx context.Context, t models.Teacher, courseID string) (*models.Student, error) {
	students, err := s.ListStudents(ctx, t, courseID)
	if err != nil {
		return nil, err
	}
	if len(students) == 0 {
		return nil, nil
	}
	st := students[rand.IntN(len(students))]
	return &st, nil
}

// --- Attendance & Observations ---

// SaveAttendance upserts the marks of one class date. Students missing from
// marks keep whatever was stored for them.
func (s *Service) SaveAttendance(ctx context.Context, t models.Teacher, courseID, date string, marks map[string]bool) error {
	if err := requireKey("courseId", courseID); err != nil {
		return err
	}
	if err := requireDate("date", date); err != nil {
		return err
	}
	values := make(map[string]interface{}, len(marks))
	for sid, present := range marks {
		if err := requireKey("studentId", sid); err != nil {
			return err
		}
		values[sid] = present
	}
	return persistErr("save attendance", s.store.Update(ctx, t.ID, AttendanceDatePath(courseID, date), values))
}

// GetAttendance retrieves all attendance of a course, every date
func (s *Service) GetAttendance(ctx context.Context, t models.Teacher, courseID string) (models.AttendanceByDate, error) {
	if !ValidKey(courseID) {
		return models.AttendanceByDate{}, nil
	}
	raw, err := s.store.Get(ctx, t.ID, AttendancePath(courseID))
	if err != nil {
		return nil, persistErr("get attendance", err)
	}
	return decodeAttendance(raw), nil
}

// SaveObservation stores the note of one student on one date; blank text
// clears it.
func (s *Service) SaveObservation(ctx context.Context, t models.Teacher, courseID, date, studentID, text string) error {
	if err := requireKey("courseId", courseID); err != nil {
		return err
	}
	if err := requireDate("date", date); err != nil {
		return err
	}
	if err := requireKey("studentId", studentID); err != nil {
		return err
	}
	var value interface{}
	if text = strings.TrimSpace(text); text != "" {
		value = text
	}
	return persistErr("save observation", s.store.Set(ctx, t.ID, ObservationPath(courseID, date, studentID), value))
}

// GetObservations retrieves all observations of a course
func (s *Service) GetObservations(ctx context.Context, t models.Teacher, courseID string) (models.ObservationsByDate, error) {
	if !ValidKey(courseID) {
		return models.ObservationsByDate{}, nil
	}
	raw, err := s.store.Get(ctx, t.ID, ObservationsPath(courseID))
	if err != nil {
		return nil, persistErr("get observations", err)
	}
	return decodeObservations(raw), nil
}

// --- Terms (read side) ---

// GetTerm retrieves a term; a term never written comes back with Stored=false.
func (s *Service) GetTerm(ctx context.Context, t models.Teacher, courseID, termID string) (models.Term, error) {
	if !ValidKey(courseID) || !ValidKey(termID) {
		return models.Term{CourseID: courseID, ID: termID, Grades: map[string]int{}}, nil
	}
	raw, err := s.store.Get(ctx, t.ID, TermPath(courseID, termID))
	if err != nil {
		return models.Term{}, persistErr("get term", err)
	}
	return decodeTerm(courseID, termID, raw), nil
}

// ListTerms retrieves every term of a course ordered by id
func (s *Service) ListTerms(ctx context.Context, t models.Teacher, courseID string) ([]models.Term, error) {
	if !ValidKey(courseID) {
		return nil, nil
	}
	raw, err := s.store.Get(ctx, t.ID, TermsPath(courseID))
	if err != nil {
		return nil, persistErr("list terms", err)
	}
	all := asMap(raw)
	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]models.Term, 0, len(ids))
	for _, id := range ids {
		out = append(out, decodeTerm(courseID, id, all[id]))
	}
	return out, nil
}
