package terms

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollbook-server-go/db"
	"rollbook-server-go/models"
)

var teacher = models.Teacher{ID: "teacher-1"}

// failingStore rejects every write touching a path that contains failOn.
type failingStore struct {
	db.Store
	failOn string
}

var errDenied = errors.New("permission denied")

func (s *failingStore) Update(ctx context.Context, ns, path string, values map[string]interface{}) error {
	for k := range values {
		if s.failOn != "" && strings.Contains(db.JoinPath(path, k), s.failOn) {
			return errDenied
		}
	}
	return s.Store.Update(ctx, ns, path, values)
}

func (s *failingStore) MultiUpdate(ctx context.Context, ns string, values map[string]interface{}) error {
	for p := range values {
		if s.failOn != "" && strings.Contains(p, s.failOn) {
			return errDenied
		}
	}
	return s.Store.MultiUpdate(ctx, ns, values)
}

type fixture struct {
	svc      *db.Service
	mgr      *Manager
	store    *failingStore
	courseID string
	students map[string]models.Student // by first name
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := &failingStore{Store: db.NewRedisStore(client, "test")}
	svc := db.NewService(store)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time {
		now = now.Add(time.Minute)
		return now
	})

	school, err := svc.AddSchool(ctx, teacher, "Escuela 1")
	require.NoError(t, err)
	course, err := svc.AddCourse(ctx, teacher, models.Course{SchoolID: school.ID, Year: "3", Division: "A"})
	require.NoError(t, err)

	f := &fixture{
		svc:      svc,
		mgr:      NewManager(svc),
		store:    store,
		courseID: course.ID,
		students: map[string]models.Student{},
	}
	for _, name := range [][2]string{{"Ana", "Gil"}, {"Bo", "Diaz"}, {"Carla", "Ruiz"}} {
		st, err := svc.AddStudent(ctx, teacher, course.ID, models.Student{FirstName: name[0], LastName: name[1]})
		require.NoError(t, err)
		f.students[name[0]] = st
	}
	return f
}

func (f *fixture) id(name string) string { return f.students[name].ID }

var firstTerm = models.Period{From: "2025-03-01", To: "2025-05-31"}

func TestManager_DraftWrites(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	term, err := f.mgr.Get(ctx, teacher, f.courseID, "T1")
	require.NoError(t, err)
	assert.Equal(t, models.TermNonExistent, term.State())

	err = f.mgr.SavePeriod(ctx, teacher, f.courseID, "T1", models.Period{From: "2025-05-01", To: "2025-03-01"})
	require.True(t, models.IsValidation(err))
	term, err = f.mgr.Get(ctx, teacher, f.courseID, "T1")
	require.NoError(t, err)
	assert.Equal(t, models.TermNonExistent, term.State())

	err = f.mgr.SavePeriod(ctx, teacher, f.courseID, "T1", models.Period{From: "2025-03-01"})
	require.True(t, models.IsValidation(err))

	require.NoError(t, f.mgr.SavePeriod(ctx, teacher, f.courseID, "t1", firstTerm))
	grades, err := f.mgr.SaveGrades(ctx, teacher, f.courseID, "T1", map[string]string{
		f.id("Ana"):   "8",
		f.id("Bo"):    "",
		f.id("Carla"): "15",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{f.id("Ana"): 8, f.id("Carla"): 10}, grades)
	require.NoError(t, f.mgr.SaveNotes(ctx, teacher, f.courseID, "T1", " quiet group "))

	term, err = f.mgr.Get(ctx, teacher, f.courseID, "T1")
	require.NoError(t, err)
	assert.Equal(t, models.TermDraft, term.State())
	assert.Equal(t, "T1", term.ID)
	assert.Equal(t, firstTerm, term.Period)
	assert.Equal(t, grades, term.Grades)
	assert.Equal(t, "quiet group", term.Notes)

	// A later save replaces the stored grades.
	_, err = f.mgr.SaveGrades(ctx, teacher, f.courseID, "T1", map[string]string{f.id("Bo"): "6"})
	require.NoError(t, err)
	term, err = f.mgr.Get(ctx, teacher, f.courseID, "T1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{f.id("Bo"): 6}, term.Grades)

	list, err := f.mgr.List(ctx, teacher, f.courseID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "T1", list[0].ID)
}

func TestNormalizeID(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{" t1 ", "T1"},
		{"T3", "T3"},
		{"Final", "Final"},
		{"tercero", "tercero"},
		{"t", "t"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeID(tt.in))
		})
	}
}

func TestManager_FreeTextTermKeepsItsCase(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.mgr.SaveNotes(ctx, teacher, f.courseID, "Final", "recovery exams"))
	list, err := f.mgr.List(ctx, teacher, f.courseID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Final", list[0].ID)

	term, err := f.mgr.Get(ctx, teacher, f.courseID, list[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.TermDraft, term.State())
	assert.Equal(t, "recovery exams", term.Notes)
}

func TestManager_Close(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	term, err := f.mgr.Close(ctx, teacher, f.courseID, "T1", CloseRequest{
		Period:           firstTerm,
		Grades:           map[string]string{f.id("Ana"): "9", f.id("Bo"): "0", f.id("Carla"): "7"},
		Notes:            "closed on time",
		MirrorToStudents: true,
	})
	require.NoError(t, err)
	assert.Equal(t, models.TermClosed, term.State())

	stored, err := f.mgr.Get(ctx, teacher, f.courseID, "T1")
	require.NoError(t, err)
	assert.True(t, stored.Closed)
	assert.Equal(t, firstTerm, stored.Period)
	assert.Equal(t, map[string]int{f.id("Ana"): 9, f.id("Carla"): 7}, stored.Grades)
	assert.Equal(t, "closed on time", stored.Notes)
	assert.False(t, stored.ClosedAt.IsZero())
	assert.True(t, stored.ClosedAt.Equal(term.ClosedAt))

	ana, err := f.svc.GetStudent(ctx, teacher, f.courseID, f.id("Ana"))
	require.NoError(t, err)
	assert.Equal(t, 9, ana.Terms["T1"].Grade)
	bo, err := f.svc.GetStudent(ctx, teacher, f.courseID, f.id("Bo"))
	require.NoError(t, err)
	assert.Empty(t, bo.Terms)
}

func TestManager_CloseSkipsRemovedStudents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.svc.RemoveStudent(ctx, teacher, f.courseID, f.id("Bo")))

	_, err := f.mgr.Close(ctx, teacher, f.courseID, "T1", CloseRequest{
		Period:           firstTerm,
		Grades:           map[string]string{f.id("Bo"): "6"},
		MirrorToStudents: true,
	})
	require.NoError(t, err)

	_, err = f.svc.GetStudent(ctx, teacher, f.courseID, f.id("Bo"))
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestManager_CloseValidatesFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.mgr.Close(ctx, teacher, f.courseID, "T1", CloseRequest{
		Period: models.Period{From: "2025-06-01", To: "2025-03-01"},
		Grades: map[string]string{f.id("Ana"): "9"},
	})
	require.True(t, models.IsValidation(err))

	term, err := f.mgr.Get(ctx, teacher, f.courseID, "T1")
	require.NoError(t, err)
	assert.Equal(t, models.TermNonExistent, term.State())

	_, err = f.mgr.Close(ctx, models.Teacher{}, f.courseID, "T1", CloseRequest{Period: firstTerm})
	assert.True(t, errors.Is(err, models.ErrNoIdentity))

	_, err = f.mgr.Close(ctx, teacher, f.courseID, " ", CloseRequest{Period: firstTerm})
	assert.True(t, models.IsValidation(err))
}

func TestManager_Reclose(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	req := CloseRequest{Period: firstTerm, Grades: map[string]string{f.id("Ana"): "6"}}

	first, err := f.mgr.Close(ctx, teacher, f.courseID, "T1", req)
	require.NoError(t, err)

	req.Grades = map[string]string{f.id("Ana"): "8"}
	_, err = f.mgr.Close(ctx, teacher, f.courseID, "T1", req)
	require.True(t, errors.Is(err, models.ErrTermClosed))

	stored, err := f.mgr.Get(ctx, teacher, f.courseID, "T1")
	require.NoError(t, err)
	assert.Equal(t, 6, stored.Grades[f.id("Ana")])

	req.ConfirmReclose = true
	second, err := f.mgr.Close(ctx, teacher, f.courseID, "T1", req)
	require.NoError(t, err)
	assert.True(t, second.ClosedAt.After(first.ClosedAt))

	stored, err = f.mgr.Get(ctx, teacher, f.courseID, "T1")
	require.NoError(t, err)
	assert.Equal(t, 8, stored.Grades[f.id("Ana")])
}

func TestManager_Reopen(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.mgr.SavePeriod(ctx, teacher, f.courseID, "T1", firstTerm))
	_, err := f.mgr.Reopen(ctx, teacher, f.courseID, "T1")
	require.True(t, models.IsValidation(err))

	_, err = f.mgr.Close(ctx, teacher, f.courseID, "T1", CloseRequest{Period: firstTerm})
	require.NoError(t, err)

	term, err := f.mgr.Reopen(ctx, teacher, f.courseID, "T1")
	require.NoError(t, err)
	assert.Equal(t, models.TermDraft, term.State())

	stored, err := f.mgr.Get(ctx, teacher, f.courseID, "T1")
	require.NoError(t, err)
	assert.Equal(t, models.TermDraft, stored.State())
	assert.False(t, stored.ReopenedAt.IsZero())

	// A reopened term closes again without confirmation.
	_, err = f.mgr.Close(ctx, teacher, f.courseID, "T1", CloseRequest{Period: firstTerm})
	require.NoError(t, err)
}

func TestManager_ClosePartialFailure(t *testing.T) {
	tests := []struct {
		name       string
		failOn     string
		mirror     bool
		wantOp     string
		wantGrades map[string]int
	}{
		{
			name:       "grades step",
			failOn:     "/grades",
			wantOp:     "term save grades",
			wantGrades: map[string]int{},
		},
		{
			name:       "mirror step",
			failOn:     "/terms/T1",
			mirror:     true,
			wantOp:     "term copy grades to students",
			wantGrades: map[string]int{"ANA": 9},
		},
		{
			name:       "closed flag",
			failOn:     "/closed",
			wantOp:     "term mark closed",
			wantGrades: map[string]int{"ANA": 9},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			f.store.failOn = tt.failOn

			_, err := f.mgr.Close(ctx, teacher, f.courseID, "T1", CloseRequest{
				Period:           firstTerm,
				Grades:           map[string]string{f.id("Ana"): "9"},
				MirrorToStudents: tt.mirror,
			})
			require.Error(t, err)
			var perr *models.PersistenceError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tt.wantOp, perr.Op)
			assert.True(t, errors.Is(err, errDenied))

			// Steps before the failure stay written; the term is not closed.
			f.store.failOn = ""
			term, err := f.mgr.Get(ctx, teacher, f.courseID, "T1")
			require.NoError(t, err)
			assert.Equal(t, models.TermDraft, term.State())
			assert.Equal(t, firstTerm, term.Period)

			want := map[string]int{}
			for k, v := range tt.wantGrades {
				want[strings.Replace(k, "ANA", f.id("Ana"), 1)] = v
			}
			assert.Equal(t, want, term.Grades)
		})
	}
}
