package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"plate-search-service/internal/auth"
	"plate-search-service/internal/config"
	"plate-search-service/internal/db"
	"plate-search-service/internal/engine"
	"plate-search-service/internal/evidence"
	httphandler "plate-search-service/internal/http"
	"plate-search-service/internal/http/middleware"
	"plate-search-service/internal/logger"
	"plate-search-service/internal/ocr"
	"plate-search-service/internal/repository"
	"plate-search-service/internal/scanner"
	"plate-search-service/internal/service"
	"plate-search-service/internal/vision"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	appLogger := logger.New(cfg.Environment)

	var searchStore service.SearchStore
	if cfg.HistoryEnabled() {
		database, err := db.New(cfg, appLogger)
		if err != nil {
			appLogger.Fatal().Err(err).Msg("failed to connect database")
		}
		searchStore = repository.NewSearchRepository(database)
	} else {
		appLogger.Warn().Msg("DB_DSN not set, search history disabled")
	}

	evidenceStore, err := evidence.NewFileStore(cfg.Evidence.Dir)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("failed to prepare evidence directory")
	}

	pool, err := engine.NewPool(cfg.Engine.PoolSize, newEngineFactory(cfg), appLogger)
	if err != nil {
		appLogger.Fatal().Err(err).Str("model", cfg.Detector.ModelPath).Msg("failed to load detection engines")
	}
	defer func() {
		if err := pool.Close(); err != nil {
			appLogger.Error().Err(err).Msg("failed to release engines")
		}
	}()

	scanCfg := scanner.DefaultConfig("")
	scanCfg.Stride = cfg.Search.FrameStride
	scanCfg.VehicleClassID = cfg.Search.VehicleClassID
	scanCfg.VehicleMinConfidence = cfg.Search.VehicleMinConfidence
	scanCfg.TokenMinConfidence = cfg.Search.TokenMinConfidence
	scanCfg.MinTokenLength = cfg.Search.MinTokenLength

	searchService := service.NewSearchService(pool, evidenceStore, searchStore, openVideo, service.Options{
		VideoPath:        cfg.Video.Path,
		DefaultThreshold: cfg.Search.DefaultThreshold,
		Timeout:          cfg.Search.Timeout,
		Scan:             scanCfg,
	}, appLogger)

	var authMiddleware gin.HandlerFunc
	if cfg.Auth.AccessSecret != "" {
		authMiddleware = middleware.Auth(auth.NewParser(cfg.Auth.AccessSecret))
	} else {
		authMiddleware = middleware.Unavailable("search history requires JWT_ACCESS_SECRET")
	}

	handler := httphandler.NewHandler(searchService, evidenceStore, cfg.Evidence.PublicPath, appLogger)
	router := httphandler.NewRouter(handler, authMiddleware, cfg.Environment)

	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		appLogger.Info().
			Str("addr", addr).
			Str("video", cfg.Video.Path).
			Int("engines", cfg.Engine.PoolSize).
			Msg("starting plate search service")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error().Err(err).Msg("forced shutdown")
	}
}

func newEngineFactory(cfg *config.Config) engine.Factory {
	return func(id int) (*engine.Context, error) {
		detector, err := vision.NewYOLODetector(vision.DetectorConfig{
			ModelPath:      cfg.Detector.ModelPath,
			InputSize:      cfg.Detector.InputSize,
			ScoreThreshold: float32(cfg.Detector.ScoreThreshold),
			NMSThreshold:   float32(cfg.Detector.NMSThreshold),
		})
		if err != nil {
			return nil, err
		}

		reader, err := ocr.NewTesseractReader(ocr.ReaderConfig{
			Languages:   cfg.OCR.Languages,
			PageSegMode: cfg.OCR.PageSegMode,
			MinHeight:   cfg.OCR.MinHeight,
		})
		if err != nil {
			detector.Close()
			return nil, err
		}

		return engine.NewContext(id, detector, reader, func() error {
			return errors.Join(detector.Close(), reader.Close())
		}), nil
	}
}

func openVideo(path string) (scanner.FrameSource, error) {
	src, err := vision.OpenVideo(path)
	if err != nil {
		return nil, err
	}
	return src, nil
}
