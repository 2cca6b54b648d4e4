package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/montignypatrik/facnet-validator-sub009/internal/db"
	"github.com/montignypatrik/facnet-validator-sub009/internal/handlers"
	"github.com/montignypatrik/facnet-validator-sub009/internal/logger"
	"github.com/montignypatrik/facnet-validator-sub009/internal/observability"
	"github.com/montignypatrik/facnet-validator-sub009/internal/pipeline"
	"github.com/montignypatrik/facnet-validator-sub009/internal/repos"
	"github.com/montignypatrik/facnet-validator-sub009/internal/server"
	"github.com/montignypatrik/facnet-validator-sub009/internal/services"
	"github.com/montignypatrik/facnet-validator-sub009/internal/sse"
	"github.com/montignypatrik/facnet-validator-sub009/internal/utils"
)

func main() {
	_ = godotenv.Load()

	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Env
	uploadDir := utils.GetEnv("UPLOAD_DIR", "./uploads", log)
	port := utils.GetEnv("PORT", "8080", log)
	workers := utils.GetEnvAsInt("PIPELINE_WORKERS", 3, log)
	ocrTimeout := utils.GetEnvAsInt("OCR_TIMEOUT_SECONDS", 120, log)
	recTimeout := utils.GetEnvAsInt("RECOGNITION_TIMEOUT_SECONDS", 90, log)

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Error("Postgres auto migration failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up Repos from main...")
	jobRepo := repos.NewExtractionJobRepo(thePG, log)
	candidateRepo := repos.NewNAMCandidateRepo(thePG, log)

	// SSE
	log.Info("Setting up SSE hub now...")
	sseHub := sse.NewSSEHub(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing
	if shutdown := observability.InitTracing(ctx, log, observability.TracingConfig{
		Environment: logMode,
		Version:     utils.GetEnv("APP_VERSION", "dev", log),
	}); shutdown != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(shutdownCtx)
		}()
	}

	emitters := []services.SSEEmitter{&services.HubEmitter{Hub: sseHub}}
	sseBus, err := services.NewRedisSSEBus(log)
	if err != nil {
		log.Warn("Redis SSE bus unavailable; streaming is in-process only, polling remains authoritative", "error", err)
	} else {
		defer sseBus.Close()
		emitters = append(emitters, &services.BusEmitter{Bus: sseBus})
		if err := sseBus.StartForwarder(ctx, func(m sse.SSEMessage) {
			sseHub.Broadcast(m)
		}); err != nil {
			log.Warn("Redis SSE forwarder failed to start", "error", err)
		}
	}
	notifier := services.NewJobNotifier(emitters...)

	// Adapters
	visionService, err := services.NewVisionProviderService(log)
	if err != nil {
		log.Error("Could not init VisionProviderService", "error", err)
		os.Exit(1)
	}
	defer visionService.Close()
	recognitionService, err := services.NewRecognitionProviderService(log)
	if err != nil {
		log.Error("Could not init RecognitionProviderService", "error", err)
		os.Exit(1)
	}

	// Services
	log.Info("Setting up Services from main...")
	jobService := services.NewJobService(log, jobRepo, candidateRepo, notifier)
	exportService := services.NewExportService(log, jobRepo, candidateRepo)

	// Pipeline
	orchestrator := pipeline.NewOrchestrator(log, jobRepo, candidateRepo, visionService, recognitionService, notifier, pipeline.Config{
		Workers:            workers,
		OCRTimeout:         time.Duration(ocrTimeout) * time.Second,
		RecognitionTimeout: time.Duration(recTimeout) * time.Second,
	})
	orchestrator.Start(ctx)

	// Router
	extractionHandler := handlers.NewExtractionHandler(log, jobService, exportService, uploadDir)
	streamHandler := handlers.NewStreamHandler(log, sseHub, jobService)
	router := server.NewRouter(server.RouterConfig{
		ExtractionHandler: extractionHandler,
		StreamHandler:     streamHandler,
	})

	log.Info("Starting HTTP server", "port", port)
	if err := router.Run(":" + port); err != nil {
		log.Error("HTTP server exited", "error", err)
		os.Exit(1)
	}
}
