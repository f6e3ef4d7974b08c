package handlers

import (
	"context"
	"io"
	"log"

	"github.com/gin-gonic/gin"

	"rollbook-server-go/db"
	"rollbook-server-go/models"
)

// offer replaces any undelivered value in ch with v, so a slow client only
// ever sees the latest state and the subscription callback never blocks.
func offer[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// stream sends every value delivered by subscribe as a server-sent event
// until the client goes away.
func stream[T any](c *gin.Context, event string, subscribe func(ctx context.Context, fn func(T)) (db.Subscription, error)) {
	ctx := c.Request.Context()
	updates := make(chan T, 1)
	sub, err := subscribe(ctx, func(v T) { offer(updates, v) })
	if err != nil {
		respondError(c, "subscribe to "+event, err)
		return
	}
	defer func() {
		if err := sub.Close(); err != nil {
			log.Printf("Error closing %s subscription: %v", event, err)
		}
	}()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case v := <-updates:
			c.SSEvent(event, v)
			return true
		}
	})
}

// StreamSchools handles GET /api/streams/schools
func (h *APIHandler) StreamSchools(c *gin.Context) {
	t := teacher(c)
	stream(c, "schools", func(ctx context.Context, fn func([]models.School)) (db.Subscription, error) {
		return h.Service.SubscribeSchools(ctx, t, func(v []models.School) {
			if v == nil {
				v = []models.School{}
			}
			fn(v)
		})
	})
}

// StreamCourses handles GET /api/streams/schools/:schoolId/courses
func (h *APIHandler) StreamCourses(c *gin.Context) {
	t := teacher(c)
	schoolID := c.Param("schoolId")
	stream(c, "courses", func(ctx context.Context, fn func([]models.Course)) (db.Subscription, error) {
		return h.Service.SubscribeCoursesBySchool(ctx, t, schoolID, fn)
	})
}

// StreamStudents handles GET /api/streams/courses/:courseId/students
func (h *APIHandler) StreamStudents(c *gin.Context) {
	t := teacher(c)
	courseID := c.Param("courseId")
	stream(c, "students", func(ctx context.Context, fn func([]models.Student)) (db.Subscription, error) {
		return h.Service.SubscribeStudents(ctx, t, courseID, func(roster map[string]models.Student) {
			fn(db.SortedStudents(roster))
		})
	})
}
