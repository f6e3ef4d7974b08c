package db

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollbook-server-go/models"
)

var (
	teacher   = models.Teacher{ID: testTeacher}
	anonymous = models.Teacher{}
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	store, _ := newTestStore(t)
	svc := NewService(store)
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time {
		now = now.Add(time.Second)
		return now
	})
	return svc
}

func seedCourse(t *testing.T, svc *Service) (models.School, models.Course) {
	t.Helper()
	ctx := context.Background()
	school, err := svc.AddSchool(ctx, teacher, "Escuela 1")
	require.NoError(t, err)
	course, err := svc.AddCourse(ctx, teacher, models.Course{SchoolID: school.ID, Year: "3", Division: "A"})
	require.NoError(t, err)
	return school, course
}

func TestService_Schools(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	_, err := svc.AddSchool(ctx, teacher, "   ")
	require.Error(t, err)
	var verr *models.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, []models.FieldError{{Field: "name", Error: "this field is required"}}, verr.Fields)

	first, err := svc.AddSchool(ctx, teacher, " Escuela 1 ")
	require.NoError(t, err)
	assert.Equal(t, "Escuela 1", first.Name)
	second, err := svc.AddSchool(ctx, teacher, "Escuela 2")
	require.NoError(t, err)

	list, err := svc.ListSchools(ctx, teacher)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, second.ID, list[1].ID)

	require.NoError(t, svc.UpdateSchool(ctx, teacher, first.ID, "Renamed"))
	got, err := svc.GetSchool(ctx, teacher, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)

	_, err = svc.GetSchool(ctx, teacher, "missing")
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestService_Anonymous(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	seedCourse(t, svc)

	schools, err := svc.ListSchools(ctx, anonymous)
	require.NoError(t, err)
	assert.Empty(t, schools)

	_, err = svc.AddSchool(ctx, anonymous, "Escuela")
	assert.True(t, errors.Is(err, models.ErrNoIdentity))

	err = svc.SaveAttendance(ctx, anonymous, "c1", "2025-03-10", map[string]bool{"s1": true})
	assert.True(t, errors.Is(err, models.ErrNoIdentity))
	assert.False(t, models.IsPersistence(err))
}

func TestService_Courses(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	school, course := seedCourse(t, svc)
	assert.Equal(t, "3° A", course.Name)

	_, err := svc.AddCourse(ctx, teacher, models.Course{SchoolID: "nope", Year: "1", Division: "B"})
	var verr *models.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "schoolId", verr.Fields[0].Field)

	other, err := svc.AddSchool(ctx, teacher, "Escuela 2")
	require.NoError(t, err)
	_, err = svc.AddCourse(ctx, teacher, models.Course{SchoolID: other.ID, Year: "5", Division: "C"})
	require.NoError(t, err)

	bySchool, err := svc.ListCoursesBySchool(ctx, teacher, school.ID)
	require.NoError(t, err)
	require.Len(t, bySchool, 1)
	assert.Equal(t, course.ID, bySchool[0].ID)

	updated, err := svc.UpdateCourse(ctx, teacher, course.ID, "4", "B")
	require.NoError(t, err)
	assert.Equal(t, "4° B", updated.Name)
	got, err := svc.GetCourse(ctx, teacher, course.ID)
	require.NoError(t, err)
	assert.Equal(t, "4° B", got.Name)
}

func TestService_Students(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	_, course := seedCourse(t, svc)

	_, err := svc.AddStudent(ctx, teacher, course.ID, models.Student{FirstName: "Ana"})
	assert.True(t, models.IsValidation(err))

	_, err = svc.AddStudent(ctx, teacher, "missing", models.Student{FirstName: "Ana", LastName: "Gil"})
	assert.True(t, models.IsValidation(err))

	gil, err := svc.AddStudent(ctx, teacher, course.ID, models.Student{FirstName: "Ana", LastName: "Gil", DNI: "123"})
	require.NoError(t, err)
	diaz, err := svc.AddStudent(ctx, teacher, course.ID, models.Student{FirstName: "Bo", LastName: "Diaz"})
	require.NoError(t, err)

	list, err := svc.ListStudents(ctx, teacher, course.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, diaz.ID, list[0].ID)
	assert.Equal(t, gil.ID, list[1].ID)
	assert.Equal(t, "123", list[1].DNI)

	updated, err := svc.UpdateStudent(ctx, teacher, course.ID, gil.ID, models.Student{FirstName: "Ana María", LastName: "Gil"})
	require.NoError(t, err)
	assert.Equal(t, "Ana María", updated.FirstName)
	assert.Empty(t, updated.DNI)

	picked, err := svc.RandomStudent(ctx, teacher, course.ID)
	require.NoError(t, err)
	require.NotNil(t, picked)
	assert.Contains(t, []string{gil.ID, diaz.ID}, picked.ID)

	require.NoError(t, svc.RemoveStudent(ctx, teacher, course.ID, gil.ID))
	_, err = svc.GetStudent(ctx, teacher, course.ID, gil.ID)
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestService_RandomStudentEmptyCourse(t *testing.T) {
	svc := newTestService(t)
	_, course := seedCourse(t, svc)

	picked, err := svc.RandomStudent(context.Background(), teacher, course.ID)
	require.NoError(t, err)
	assert.Nil(t, picked)
}

func TestService_AttendanceUpsert(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	require.NoError(t, svc.SaveAttendance(ctx, teacher, "c1", "2025-03-10", map[string]bool{"s1": true, "s2": true}))
	require.NoError(t, svc.SaveAttendance(ctx, teacher, "c1", "2025-03-10", map[string]bool{"s2": false}))
	require.NoError(t, svc.SaveAttendance(ctx, teacher, "c1", "2025-03-11", map[string]bool{}))

	att, err := svc.GetAttendance(ctx, teacher, "c1")
	require.NoError(t, err)
	assert.Equal(t, models.AttendanceByDate{
		"2025-03-10": {"s1": true, "s2": false},
	}, att)

	err = svc.SaveAttendance(ctx, teacher, "c1", "10/03/2025", map[string]bool{"s1": true})
	assert.True(t, models.IsValidation(err))
}

func TestService_Observations(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	require.NoError(t, svc.SaveObservation(ctx, teacher, "c1", "2025-03-10", "s1", "  forgot homework "))
	require.NoError(t, svc.SaveObservation(ctx, teacher, "c1", "2025-03-10", "s2", "late"))
	require.NoError(t, svc.SaveObservation(ctx, teacher, "c1", "2025-03-10", "s2", "   "))

	obs, err := svc.GetObservations(ctx, teacher, "c1")
	require.NoError(t, err)
	assert.Equal(t, models.ObservationsByDate{
		"2025-03-10": {"s1": "forgot homework"},
	}, obs)
}

func TestService_GetTermAbsent(t *testing.T) {
	svc := newTestService(t)

	term, err := svc.GetTerm(context.Background(), teacher, "c1", "T1")
	require.NoError(t, err)
	assert.Equal(t, models.TermNonExistent, term.State())

	list, err := svc.ListTerms(context.Background(), teacher, "c1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestService_SubscribeStudents(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	_, course := seedCourse(t, svc)

	rosters := make(chan map[string]models.Student, 10)
	sub, err := svc.SubscribeStudents(ctx, teacher, course.ID, func(r map[string]models.Student) { rosters <- r })
	require.NoError(t, err)
	defer sub.Close()

	next := func() map[string]models.Student {
		select {
		case r := <-rosters:
			return r
		case <-time.After(2 * time.Second):
			t.Fatal("no roster delivered")
			return nil
		}
	}

	assert.Empty(t, next())
	st, err := svc.AddStudent(ctx, teacher, course.ID, models.Student{FirstName: "Ana", LastName: "Gil"})
	require.NoError(t, err)
	r := next()
	require.Contains(t, r, st.ID)
	assert.Equal(t, "Ana", r[st.ID].FirstName)
}

// removingStore deletes a path right after the first transaction body has
// read its view, as a concurrent cascade would.
type removingStore struct {
	Store
	path string
}

func (r *removingStore) Transact(ctx context.Context, ns string, fn TxFunc) error {
	return r.Store.Transact(ctx, ns, func(get GetFunc) (map[string]interface{}, error) {
		values, err := fn(get)
		if r.path != "" {
			path := r.path
			r.path = ""
			if rmErr := r.Store.Remove(ctx, ns, path); rmErr != nil {
				return nil, rmErr
			}
		}
		return values, err
	})
}

func TestService_AddUnderRemovedParent(t *testing.T) {
	ctx := context.Background()
	base := newTestService(t)
	school, course := seedCourse(t, base)

	racing := &removingStore{Store: base.Store(), path: CoursePath(course.ID)}
	svc := NewService(racing)
	_, err := svc.AddStudent(ctx, teacher, course.ID, models.Student{FirstName: "Ana", LastName: "Gil"})
	require.True(t, models.IsValidation(err))
	roster, err := base.Roster(ctx, teacher, course.ID)
	require.NoError(t, err)
	assert.Empty(t, roster)

	racing.path = SchoolPath(school.ID)
	_, err = svc.AddCourse(ctx, teacher, models.Course{SchoolID: school.ID, Year: "4", Division: "B"})
	require.True(t, models.IsValidation(err))
	courses, err := base.ListCoursesBySchool(ctx, teacher, school.ID)
	require.NoError(t, err)
	require.Len(t, courses, 1)
	assert.Equal(t, course.ID, courses[0].ID)
}
