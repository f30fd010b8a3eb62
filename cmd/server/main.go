package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/gofiber/contrib/otelfiber/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	_ "github.com/jackc/pgx/v5/stdlib"

	"storefront-api/internal/api"
	"storefront-api/internal/events"
	"storefront-api/internal/google"
	"storefront-api/internal/images"
	"storefront-api/internal/repository"
	"storefront-api/internal/s3"
	"storefront-api/internal/service"
	"storefront-api/internal/token"
	"storefront-api/internal/tracing"
	_ "storefront-api/migrations"
)

func main() {
	if err := godotenv.Load(".env.dev"); err != nil {
		fmt.Println("No .env.dev file found, reading from environment variables")
	}

	api.SetupGlobalHandler("storefront-api")

	shutdownTracer, err := tracing.InitTracerProvider("storefront-api")
	if err != nil {
		log.Fatalf("Failed to initialize OpenTelemetry: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Printf("Error shutting down tracer provider: %v", err)
		}
	}()

	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		handleMigrations()
		return
	}

	db := connectDB()
	defer db.Close()

	jwtSecret := os.Getenv("JWT_SECRET")
	tokens := token.NewService(jwtSecret)

	var verifier api.GoogleVerifier
	if v, err := google.NewVerifier(context.Background(), os.Getenv("GOOGLE_CLIENT_ID")); err != nil {
		slog.Warn("google sign-in disabled", "error", err)
	} else {
		verifier = v
	}

	var objectStore images.ObjectUploader
	if uploader, err := s3.NewUploader(); err != nil {
		slog.Warn("image hosting disabled, avatars keep their source URLs", "error", err)
	} else {
		objectStore = uploader
	}
	ingestor := images.NewIngestor(objectStore)

	var publisher events.Publisher = events.NoopPublisher{}
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		p, err := events.NewNatsPublisher(natsURL)
		if err != nil {
			slog.Warn("event publishing disabled", "error", err)
		} else {
			publisher = p
		}
	}

	userRepo := repository.NewPostgresUserRepository(db)
	elevator := service.NewRoleElevator(userRepo, os.Getenv("ADMIN_EMAILS"))
	authService := service.NewAuthService(userRepo, tokens, elevator, ingestor, publisher)
	authHandler := api.NewAuthHandler(authService, verifier)

	app := fiber.New(fiber.Config{
		BodyLimit: 8 << 20,
	})
	app.Use(otelfiber.Middleware())
	app.Use(api.PrometheusMiddleware())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "service": "storefront-api"})
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// catalog/article/comment handlers register themselves here once the
	// content packages provide an implementation
	var content api.ContentRoutes
	if jwtSecret == "" {
		// health and metrics stay up; nothing token-backed can work
		slog.Error("JWT_SECRET environment variable is not set; auth endpoints disabled")
	} else {
		api.MountRoutes(app, authHandler, tokens, userRepo, content)
	}

	port := os.Getenv("APP_PORT")
	if port == "" {
		port = "8001"
	}

	log.Printf("Listening storefront-api on port %s", port)
	log.Fatal(app.Listen(":" + port))
}

func connectDB() *sqlx.DB {
	db, err := sqlx.Connect("pgx", databaseURL())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	log.Println("Successfully connected to the database.")
	return db
}

func databaseURL() string {
	dbUser := os.Getenv("DB_USER")
	dbPassword := os.Getenv("DB_PASSWORD")
	dbHost := os.Getenv("DB_HOST")
	dbPort := os.Getenv("DB_PORT")
	dbName := os.Getenv("DB_NAME")

	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		dbUser, dbPassword, dbHost, dbPort, dbName,
	)
}

func handleMigrations() {
	fmt.Println("Running database migrations...")

	db, err := sql.Open("pgx", databaseURL())
	if err != nil {
		log.Fatalf("failed to connect to database for migration: %v", err)
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		log.Fatalf("failed to set goose dialect: %v", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		log.Fatalf("goose: failed to run migrations: %v", err)
	}

	fmt.Println("Migrations applied successfully!")
}
