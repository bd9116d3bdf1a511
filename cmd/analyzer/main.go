package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"github.com/deceptionops/deception-backend/internal/analyzer"
	"github.com/deceptionops/deception-backend/internal/api/middleware"
	"github.com/deceptionops/deception-backend/internal/bus"
	"github.com/deceptionops/deception-backend/internal/config"
	"github.com/deceptionops/deception-backend/internal/detector"
	"github.com/deceptionops/deception-backend/internal/pkg/logger"
)

const serviceName = "traffic-analyzer"

func main() {
	log := logger.New(serviceName)

	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	publisher := bus.NewPublisher(cfg.RedisURL, log)
	defer publisher.Close()

	det := detector.New(detector.DefaultOptions())
	svc := analyzer.NewService(log, det, publisher, cfg.ConfidenceThreshold)

	router := mux.NewRouter()
	router.Use(middleware.Recover)
	router.Use(middleware.ServiceNode(serviceName))
	router.Use(middleware.AccessLog(serviceName))
	svc.Routes(router)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	handler := cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(router)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.AnalyzerPort),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		svc.RunCleanup(gctx)
		return nil
	})

	g.Go(func() error {
		log.Info("analyzer listening",
			"port", cfg.AnalyzerPort,
			"confidence_threshold", cfg.ConfidenceThreshold)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(),
			time.Duration(cfg.ShutdownTimeoutSec)*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("analyzer exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("analyzer stopped")
}
