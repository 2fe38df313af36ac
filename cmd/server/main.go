package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"estimateur/server/config"
	"estimateur/server/internal/api"
	"estimateur/server/internal/database"
	"estimateur/server/internal/dvf"
	"estimateur/server/internal/geocoding"
	"estimateur/server/internal/market"
	"estimateur/server/internal/processor"
	"estimateur/server/internal/queue"
	"estimateur/server/internal/scheduler"
	"estimateur/server/internal/valuation"
	"estimateur/server/internal/workflow"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	communes, err := config.LoadCommunes(cfg.Geo.CommunesFile)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load communes")
	}

	logger.Infof("Using database at: %s", cfg.Server.DatabasePath)

	db, err := database.NewDatabase(cfg.Server.DatabasePath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize database")
	}
	defer db.Close()

	logger.Info("Running database migrations...")
	if err := db.RunMigrations(); err != nil {
		logger.WithError(err).Fatal("Failed to run database migrations")
	}

	// Archive pipeline: fetched transactions are upserted in the background
	archive := queue.NewTransactionQueue(cfg.BatchProcessing.QueueSize, logger)
	batchProcessor := processor.NewBatchProcessor(db, archive, cfg, logger)
	batchProcessor.Start()
	defer batchProcessor.Stop()

	// Demo data stays out of the archive and is never served from it
	var (
		source   dvf.Source
		archiver workflow.Archiver
	)
	if cfg.DVF.Demo {
		logger.Warn("Using synthetic demonstration data, archive disabled")
		source = dvf.NewDemoSource()
	} else {
		remote := dvf.NewClient(dvf.ClientConfig{
			BaseURL:           cfg.DVF.BaseURL,
			Years:             cfg.DVF.Years,
			Timeout:           cfg.DVF.Timeout,
			CacheDir:          cfg.DVF.CacheDir,
			RequestsPerSecond: cfg.DVF.RequestsPerSecond,
		}, logger)
		source = &dvf.FallbackSource{Primary: remote, Secondary: db, Logger: logger}
		archiver = archive
	}

	basis, err := valuation.ParseBasis(cfg.Analysis.Basis)
	if err != nil {
		logger.WithError(err).Fatal("Invalid analysis basis")
	}
	estimator := workflow.NewEstimator(source, archiver, workflow.Options{
		Analysis: market.Options{
			TrimOutliers:  cfg.Analysis.TrimOutliers,
			LowerQuantile: cfg.Analysis.LowerQuantile,
			UpperQuantile: cfg.Analysis.UpperQuantile,
		},
		Basis: basis,
	}, logger)

	geoCache := cfg.Geo.CacheDir
	if geoCache == "" {
		geoCache = filepath.Join(os.TempDir(), "estimateur", "geocode_cache")
	}
	resolver := geocoding.NewResolver(logger, cfg.Geo.APIURL, geoCache, communes)

	if cfg.Scheduler.Enabled {
		tracked := cfg.Scheduler.Communes
		if len(tracked) == 0 {
			for _, c := range communes.All() {
				tracked = append(tracked, c.Code)
			}
		}
		refreshScheduler := scheduler.NewScheduler(estimator, logger, tracked)
		if err := refreshScheduler.Start(cfg.Scheduler.Spec); err != nil {
			logger.WithError(err).Fatal("Failed to start scheduler")
		}
		defer refreshScheduler.Stop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	corsConfig := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if slices.Contains(cfg.Server.AllowedOrigins, "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.Server.AllowedOrigins
	}
	router.Use(cors.New(corsConfig))

	handler := api.NewHandler(logger, estimator, db, resolver, communes)
	api.SetupRoutes(router, handler)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Infof("Starting server on port %d", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
}
