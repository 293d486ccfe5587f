package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"quizroom-server/internal/attempt"
	"quizroom-server/internal/auth"
	"quizroom-server/internal/models"
	"quizroom-server/internal/platform"
	"quizroom-server/internal/room"
	"quizroom-server/internal/scheduler"
	"quizroom-server/pkg/cache"
	"quizroom-server/pkg/database"
	"quizroom-server/pkg/websocket"

	"github.com/gorilla/mux"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found")
	}

	// Initialize database
	dbConfig := &database.Config{
		Host:     os.Getenv("DB_HOST"),
		Port:     os.Getenv("DB_PORT"),
		User:     os.Getenv("DB_USER"),
		Password: os.Getenv("DB_PASSWORD"),
		DBName:   os.Getenv("DB_NAME"),
	}

	db, err := database.NewPostgresDB(dbConfig)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	err = db.AutoMigrate(
		&models.User{},
		&models.Room{},
		&models.RoomParticipant{},
		&models.RoomQuestion{},
		&models.RoomOption{},
		&models.PlatformTest{},
		&models.PlatformQuestion{},
		&models.PlatformOption{},
		&models.RoomAttempt{},
		&models.AttemptAnswer{},
	)
	if err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	// Initialize Redis cache
	redisCache := cache.NewRedisCache(os.Getenv("REDIS_ADDR"))

	// Initialize WebSocket hub
	wsHub := websocket.NewHub()
	go wsHub.Run()

	// Initialize repositories
	authRepo := auth.NewRepository(db)
	roomRepo := room.NewRepository(db)
	attemptRepo := attempt.NewRepository(db)
	testSource := platform.NewRepository(db)

	// Initialize services
	jwtSecret := os.Getenv("JWT_SECRET")
	authService := auth.NewService(authRepo, jwtSecret)
	roomService := room.NewService(roomRepo, redisCache, wsHub, testSource)
	attemptService := attempt.NewService(attemptRepo, testSource,
		platform.NewLogRewardEngine(), wsHub, roomService)
	wsHub.SetRoomService(roomService)
	wsHub.SetUserValidator(authService)

	// Scheduler drives the time-based auto-start / auto-end transitions.
	tick := scheduler.DefaultTick
	if raw := os.Getenv("SCHEDULER_TICK"); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil {
			tick = parsed
		}
	}
	sched := scheduler.New(roomService, attemptService, tick)
	schedCtx, stopScheduler := context.WithCancel(context.Background())
	go func() {
		if err := sched.Run(schedCtx); err != nil && err != context.Canceled {
			log.Printf("Scheduler stopped: %v", err)
		}
	}()

	// Initialize handlers
	authHandler := auth.NewHandler(authService)
	roomHandler := room.NewHandler(roomService)
	attemptHandler := attempt.NewHandler(attemptService)

	// Setup router
	router := mux.NewRouter()

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Requested-With"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	})
	handler := corsMiddleware.Handler(router)

	// Auth routes - no JWT required
	router.HandleFunc("/api/auth/register", authHandler.Register).Methods("POST", "OPTIONS")
	router.HandleFunc("/api/auth/login", authHandler.Login).Methods("POST", "OPTIONS")

	// Room routes - JWT required
	apiRouter := router.PathPrefix("/api").Subrouter()
	apiRouter.Use(auth.JWTMiddleware(jwtSecret))

	apiRouter.HandleFunc("/rooms", roomHandler.CreateRoom).Methods("POST", "OPTIONS")
	apiRouter.HandleFunc("/rooms/{roomCode}/join", roomHandler.JoinRoom).Methods("POST", "OPTIONS")
	apiRouter.HandleFunc("/rooms/{roomCode}/start", roomHandler.StartRoom).Methods("POST")
	apiRouter.HandleFunc("/rooms/{roomCode}/leaderboard", roomHandler.GetLeaderboard).Methods("GET")
	apiRouter.HandleFunc("/rooms/{roomCode}/attempt", attemptHandler.StartAttempt).Methods("POST", "OPTIONS")
	apiRouter.HandleFunc("/rooms/{roomCode}/attempt", attemptHandler.GetUserAttempt).Methods("GET")
	apiRouter.HandleFunc("/rooms/{roomCode}/answer", attemptHandler.SubmitAnswer).Methods("POST", "OPTIONS")
	apiRouter.HandleFunc("/rooms/{roomCode}/submit", attemptHandler.SubmitAttempt).Methods("POST", "OPTIONS")
	apiRouter.HandleFunc("/rooms/{roomCode}", roomHandler.GetRoom).Methods("GET", "OPTIONS")

	// WebSocket endpoint
	router.HandleFunc("/ws/{roomCode}", wsHub.HandleWebSocket)

	srv := &http.Server{
		Addr:         ":8080",
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("Server starting on port 8080")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Graceful shutdown setup
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	<-c

	stopScheduler()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server shutdown gracefully")
}
