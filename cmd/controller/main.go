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
	"golang.org/x/time/rate"

	"github.com/deceptionops/deception-backend/internal/api/middleware"
	"github.com/deceptionops/deception-backend/internal/bus"
	"github.com/deceptionops/deception-backend/internal/config"
	"github.com/deceptionops/deception-backend/internal/controller"
	"github.com/deceptionops/deception-backend/internal/k8s"
	"github.com/deceptionops/deception-backend/internal/pkg/logger"
)

const serviceName = "deception-controller"

func main() {
	log := logger.New(serviceName)

	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := k8s.NewClient(cfg.KubeconfigPath)
	if err != nil {
		log.Error("failed to connect to kubernetes", "error", err)
		os.Exit(1)
	}
	if cfg.K8sRateLimitPerSec > 0 {
		burst := cfg.K8sRateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		client.SetLimiter(rate.NewLimiter(rate.Limit(cfg.K8sRateLimitPerSec), burst))
	}

	publisher := bus.NewPublisher(cfg.RedisURL, log)
	defer publisher.Close()

	ctrl := controller.New(log, client, publisher, controller.Options{
		Namespace:  cfg.DecoyNamespace,
		RedisURL:   cfg.RedisURL,
		TTLMinutes: cfg.DecoyTTLMinutes,
	})

	router := mux.NewRouter()
	router.Use(middleware.Recover)
	router.Use(middleware.ServiceNode(serviceName))
	router.Use(middleware.AccessLog(serviceName))
	ctrl.Routes(router)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	handler := cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(router)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ControllerPort),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ctrl.Run(gctx)
		return nil
	})

	g.Go(func() error {
		ctrl.RunTTLSweeper(gctx)
		return nil
	})

	g.Go(func() error {
		log.Info("controller listening",
			"port", cfg.ControllerPort,
			"namespace", cfg.DecoyNamespace,
			"ttl_minutes", cfg.DecoyTTLMinutes)
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
		log.Error("controller exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("controller stopped")
}
