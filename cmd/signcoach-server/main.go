package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/signlab/signcoach/internal/classify"
	"github.com/signlab/signcoach/internal/extract"
	"github.com/signlab/signcoach/internal/landmark"
	"github.com/signlab/signcoach/internal/logging"
	"github.com/signlab/signcoach/internal/server"
)

// defaultOrigins are the frontend origins allowed to call the API unless
// extended via FRONTEND_URL.
var defaultOrigins = []string{
	"http://localhost:5173",
	"http://127.0.0.1:5173",
	"http://localhost:8080",
	"http://localhost:8000",
}

func main() {
	log := logging.Init()
	defer func() { _ = log.Sync() }()

	modelPath := envOr("SIGNCOACH_MODEL_PATH", "best_model.bin")
	detectorURL := envOr("SIGNCOACH_DETECTOR_URL", landmark.DefaultSidecarURL)
	port := envOr("PORT", "8000")

	origins := defaultOrigins
	if extra := os.Getenv("FRONTEND_URL"); extra != "" {
		origins = append(origins, extra)
	}

	log.Infow("loading model", "path", modelPath)
	model, err := classify.Load(modelPath)
	if err != nil {
		log.Fatalw("could not load model", "path", modelPath, "error", err)
	}
	log.Infow("model loaded", "classes", classify.NumClasses)

	detector := landmark.NewHTTPDetector(landmark.HTTPDetectorConfig{BaseURL: detectorURL})
	extractor := extract.New(detector, log)

	srv := server.New(extractor, model, server.Config{AllowedOrigins: origins}, log)
	httpServer := &http.Server{
		Addr:              ":" + port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Infow("inference server listening", "addr", httpServer.Addr, "detector", detectorURL)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	log.Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Errorw("shutdown error", "error", err)
	}
	_ = detector.Close()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
