package main

import (
	"context"
	"log"
	"time"
	_ "time/tzdata" // timezone database for minimal images

	"github.com/gin-gonic/gin"

	"rollbook-server-go/config"
	"rollbook-server-go/db"
	"rollbook-server-go/handlers"
	"rollbook-server-go/models"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	gin.SetMode(cfg.Server.GinMode)

	// Initialize Redis Client
	ctx := context.Background()
	redisClient, err := db.InitializeRedisClient(ctx, cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	store := db.NewRedisStore(redisClient, cfg.Redis.Prefix)
	service := db.NewService(store)

	if cfg.Seed.DemoTeacher != "" {
		checkAndSeedData(ctx, service, models.Teacher{ID: cfg.Seed.DemoTeacher}, cfg)
	}

	apiHandler := handlers.NewAPIHandler(service, cfg.Location)
	router := handlers.SetupRouter(apiHandler, cfg.JWT.Secret)

	port := ":" + cfg.Server.Port
	log.Printf("Starting server on port %s", port)
	if err := router.Run(port); err != nil {
		log.Fatalf("Failed to run server: %v", err)
	}
}

// checkAndSeedData adds demo data for t when the teacher has no schools yet.
func checkAndSeedData(ctx context.Context, service *db.Service, t models.Teacher, cfg *config.Config) {
	schools, err := service.ListSchools(ctx, t)
	if err != nil {
		log.Printf("Warning: could not check existing data for teacher %s: %v. Skipping demo data.", t.ID, err)
		return
	}
	if len(schools) > 0 {
		log.Printf("Found %d schools for teacher %s. Skipping demo data.", len(schools), t.ID)
	} else {
		log.Printf("No schools found for teacher %s. Adding demo data...", t.ID)
		seedInitialData(ctx, service, t, cfg.Location)
	}

	token, err := handlers.IssueToken(cfg.JWT.Secret, t.ID, 24*time.Hour)
	if err != nil {
		log.Printf("Error issuing demo token: %v", err)
		return
	}
	log.Printf("Demo token for teacher %s (24h): %s", t.ID, token)
}

// seedInitialData adds a school, a course, three students and today's
// attendance. Errors are logged and do not stop the server.
func seedInitialData(ctx context.Context, s *db.Service, t models.Teacher, loc *time.Location) {
	school, err := s.AddSchool(ctx, t, "Escuela Demo")
	if err != nil {
		log.Printf("Error adding demo school: %v", err)
		return
	}
	course, err := s.AddCourse(ctx, t, models.Course{SchoolID: school.ID, Year: "3", Division: "A"})
	if err != nil {
		log.Printf("Error adding demo course: %v", err)
		return
	}

	demo := []models.Student{
		{FirstName: "Ana", LastName: "García", DNI: "40111222"},
		{FirstName: "Bruno", LastName: "Pérez"},
		{FirstName: "Carla", LastName: "López"},
	}
	marks := map[string]bool{}
	for i, st := range demo {
		added, err := s.AddStudent(ctx, t, course.ID, st)
		if err != nil {
			log.Printf("Error adding demo student %s %s: %v", st.FirstName, st.LastName, err)
			continue
		}
		marks[added.ID] = i != 1
	}

	today := models.DateKey(s.Now(), loc)
	if err := s.SaveAttendance(ctx, t, course.ID, today, marks); err != nil {
		log.Printf("Error adding demo attendance: %v", err)
	}

	log.Printf("Demo data added: school %s, course %s (%s).", school.ID, course.ID, course.Name)
}
