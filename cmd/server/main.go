package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dnogares/web-sub001/internal/config"
	"github.com/dnogares/web-sub001/internal/crossing"
	"github.com/dnogares/web-sub001/internal/database"
	"github.com/dnogares/web-sub001/internal/handlers"
	"github.com/dnogares/web-sub001/internal/legend"
	"github.com/dnogares/web-sub001/internal/logger"
	"github.com/dnogares/web-sub001/internal/metrics"
	"github.com/dnogares/web-sub001/internal/middleware"
	"github.com/dnogares/web-sub001/internal/registry"
	"github.com/dnogares/web-sub001/internal/repository"
	"github.com/dnogares/web-sub001/internal/services"
	"github.com/dnogares/web-sub001/internal/taxonomy"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	shutdownTimeout = 30 * time.Second
)

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Server.Env)
	log.Info("Starting affections API", map[string]interface{}{
		"version":       handlers.APIVersion,
		"environment":   cfg.Server.Env,
		"port":          cfg.Server.Port,
		"data_root":     cfg.Data.Root,
		"report_store":  cfg.Reports.Store,
		"workers":       cfg.Analysis.Workers,
		"partial_reads": cfg.Analysis.PartialReads,
	})

	// Build the layer registry once; it is read-only for the process lifetime.
	reg, err := registry.Build(cfg.Data.Root, taxonomy.Default(), log)
	if err != nil {
		log.Fatal("Failed to build layer registry", err, map[string]interface{}{
			"data_root": cfg.Data.Root,
		})
	}

	legends, err := legend.NewResolver(reg.Root(), cfg.Analysis.LegendCacheSize, log)
	if err != nil {
		log.Fatal("Failed to create legend resolver", err, nil)
	}

	engine := crossing.NewEngine(crossing.NewCache(), legends, crossing.Options{
		Workers:      cfg.Analysis.Workers,
		PartialReads: cfg.Analysis.PartialReads,
	}, log)

	ctx := context.Background()
	var (
		reports repository.ReportRepository
		store   handlers.Pinger
	)
	if cfg.UsesDatabase() {
		db, err := database.NewPostgresPool(ctx, cfg.Database)
		if err != nil {
			log.Fatal("Failed to connect to database", err, map[string]interface{}{
				"host": cfg.Database.Host,
				"port": cfg.Database.Port,
				"name": cfg.Database.Name,
			})
		}
		defer db.Close()

		if err := db.EnsureSchema(ctx); err != nil {
			log.Fatal("Failed to prepare report schema", err, nil)
		}
		if err := metrics.RegisterReportStorePool(prometheus.DefaultRegisterer, db.PoolCounts); err != nil {
			log.Fatal("Failed to register pool metrics", err, nil)
		}

		log.Info("Database connection established", map[string]interface{}{
			"host":     cfg.Database.Host,
			"port":     cfg.Database.Port,
			"database": cfg.Database.Name,
			"pool_min": cfg.Database.PoolMin,
			"pool_max": cfg.Database.PoolMax,
		})
		reports = repository.NewPostgresReportRepository(db)
		store = db
	} else {
		reports, err = repository.NewFileReportRepository(cfg.Reports.Dir)
		if err != nil {
			log.Fatal("Failed to open report directory", err, map[string]interface{}{
				"dir": cfg.Reports.Dir,
			})
		}
	}

	affectionService := services.NewAffectionService(reg, engine, reports, log)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// Add middleware in order: RequestID -> Logger -> Recovery -> CORS
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(log))
	router.Use(middleware.Recovery(log))
	router.Use(middleware.CORS(cfg.CORS.Origins))

	healthHandler := handlers.NewHealthHandler(reg, store, cfg.Server.Env)
	router.GET("/health", healthHandler.Health)
	router.GET("/health/ready", healthHandler.Ready)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	affectionHandler := handlers.NewAffectionHandler(affectionService)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/info", healthHandler.Info)
		v1.GET("/layers", affectionHandler.Layers)

		affections := v1.Group("/affections")
		{
			affections.POST("", affectionHandler.Analyze)
			affections.GET("/:parcel_id", affectionHandler.GetReport)
		}
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("Server listening", map[string]interface{}{
			"port": cfg.Server.Port,
			"addr": srv.Addr,
		})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed to start", err, nil)
		}
	}()

	// Wait for interrupt signal (SIGINT or SIGTERM)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", err, map[string]interface{}{
			"timeout": shutdownTimeout.String(),
		})
	}

	log.Info("Server exited", nil)
}
