package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"scanapi/internal/classifier"
	"scanapi/internal/config"
	"scanapi/internal/crypto"
	"scanapi/internal/database"
	"scanapi/internal/database/migration"
	handlers "scanapi/internal/http/handler"
	"scanapi/internal/http/middleware"
	"scanapi/internal/otel"
	"scanapi/internal/repository/postgres"
	"scanapi/internal/service"
	"scanapi/internal/storage"
	"scanapi/internal/ws"
)

func main() {
	// Load configuration from environment variables (.env auto-loaded if present)
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Init(ctx)
	if err != nil {
		log.Fatalf("failed to initialize tracing: %v", err)
	}

	// PostgreSQL connection (pooling via database/sql, spans via otelsql)
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := migration.EnsureMigrated(ctx, db, time.UTC, cfg.Database.Host); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	codec, err := crypto.NewFieldCodec(cfg.FieldKey)
	if err != nil {
		log.Fatalf("failed to initialize field encryption: %v", err)
	}

	// Scan blob store: in-memory for development, MinIO for deployments
	var scanStore storage.Storage
	switch cfg.StorageBackend {
	case "minio":
		scanStore, err = storage.NewMinIO(cfg.MinIO)
		if err != nil {
			log.Fatalf("failed to initialize object storage: %v", err)
		}
	default:
		scanStore = storage.NewMemory()
	}

	patientRepo := postgres.NewPatientPostgres(db, codec)
	modelAPI := classifier.NewHTTP(cfg.ModelAPI)
	hub := ws.NewHub()
	patientSvc := service.NewPatientService(patientRepo, scanStore, modelAPI, hub)

	app := fiber.New(fiber.Config{
		ErrorHandler: handlers.ErrorHandler(),
		// Headroom above the scan size cap so the limit check in the handler
		// answers with a proper error body instead of a connection reset.
		BodyLimit: 2 * handlers.MaxScanSize,
	})

	promMiddleware, err := middleware.NewPrometheusMiddleware(prometheus.DefaultRegisterer)
	if err != nil {
		log.Fatalf("failed to register metrics: %v", err)
	}

	app.Use(middleware.RequestID())
	app.Use(middleware.Logger())
	app.Use(promMiddleware.Handler())
	app.Use(otelfiber.Middleware())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CORSOrigin,
	}))

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	handlers.RegisterRoutes(app, db, patientSvc, cfg.RedirectURL)
	ws.NewHandler(hub).RegisterRoutes(app)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	stop()

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Printf("server shutdown: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Printf("tracing shutdown: %v", err)
	}
}
