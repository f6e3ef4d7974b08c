package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter registers every route of the API on a new gin engine.
func SetupRouter(h *APIHandler, jwtSecret string) *gin.Engine {
	router := gin.Default()
	router.Use(CORSMiddleware())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	api.GET("/ping", PingHandler)

	api.Use(IdentityMiddleware(jwtSecret))
	{
		// School routes
		api.GET("/schools", h.GetAllSchools)
		api.POST("/schools", h.AddSchool)
		api.GET("/schools/:schoolId", h.GetSchoolByID)
		api.PUT("/schools/:schoolId", h.UpdateSchool)
		api.DELETE("/schools/:schoolId", h.DeleteSchool)
		api.GET("/schools/:schoolId/courses", h.GetCoursesBySchool)

		// Course routes
		api.GET("/courses", h.GetAllCourses)
		api.POST("/courses", h.AddCourse)
		api.GET("/courses/:courseId", h.GetCourseByID)
		api.PUT("/courses/:courseId", h.UpdateCourse)
		api.DELETE("/courses/:courseId", h.DeleteCourse)

		// Student routes within a course
		api.GET("/courses/:courseId/students", h.GetStudentsByCourse)
		api.POST("/courses/:courseId/students", h.AddStudent)
		api.POST("/courses/:courseId/students/import", h.ImportStudents)
		api.PUT("/courses/:courseId/students/:studentId", h.UpdateStudent)
		api.DELETE("/courses/:courseId/students/:studentId", h.RemoveStudent)
		api.GET("/courses/:courseId/students/:studentId/observations", h.GetStudentHistory)
		api.GET("/courses/:courseId/random-student", h.GetRandomStudent)

		// Attendance and observations
		api.GET("/courses/:courseId/attendance", h.GetAttendance)
		api.GET("/courses/:courseId/attendance/summary", h.GetAttendanceSummary)
		api.PUT("/courses/:courseId/attendance/:date", h.SaveAttendance)
		api.GET("/courses/:courseId/observations", h.GetObservations)
		api.PUT("/courses/:courseId/observations/:date/:studentId", h.SaveObservation)

		// Terms
		api.GET("/courses/:courseId/terms", h.GetTerms)
		api.GET("/courses/:courseId/terms/:termId", h.GetTerm)
		api.PUT("/courses/:courseId/terms/:termId/period", h.SaveTermPeriod)
		api.PUT("/courses/:courseId/terms/:termId/grades", h.SaveTermGrades)
		api.PUT("/courses/:courseId/terms/:termId/notes", h.SaveTermNotes)
		api.POST("/courses/:courseId/terms/:termId/close", h.CloseTerm)
		api.POST("/courses/:courseId/terms/:termId/reopen", h.ReopenTerm)
		api.GET("/courses/:courseId/terms/:termId/report", h.TermReport)
		api.POST("/courses/:courseId/terms/:termId/report", h.TermReport)

		// Live updates (server-sent events)
		api.GET("/streams/schools", h.StreamSchools)
		api.GET("/streams/schools/:schoolId/courses", h.StreamCourses)
		api.GET("/streams/courses/:courseId/students", h.StreamStudents)
	}

	return router
}
