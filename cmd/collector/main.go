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
	"github.com/deceptionops/deception-backend/internal/api/websocket"
	"github.com/deceptionops/deception-backend/internal/bus"
	"github.com/deceptionops/deception-backend/internal/collector"
	"github.com/deceptionops/deception-backend/internal/config"
	"github.com/deceptionops/deception-backend/internal/k8s"
	"github.com/deceptionops/deception-backend/internal/pkg/logger"
)

const serviceName = "event-collector"

func main() {
	log := logger.New(serviceName)

	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The collector degrades without a cluster: the stream and REST
	// surfaces stay up, snapshots carry an error marker.
	client, err := k8s.NewClient(cfg.KubeconfigPath)
	if err != nil {
		log.Warn("kubernetes unavailable, topology disabled", "error", err)
		client = nil
	}
	if client != nil && cfg.K8sRateLimitPerSec > 0 {
		burst := cfg.K8sRateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		client.SetLimiter(rate.NewLimiter(rate.Limit(cfg.K8sRateLimitPerSec), burst))
	}

	publisher := bus.NewPublisher(cfg.RedisURL, log)
	defer publisher.Close()

	hub := websocket.NewHub(ctx, log)
	go hub.Run()
	defer hub.Stop()

	col := collector.New(log, client, hub, publisher, collector.Options{
		RedisURL:            cfg.RedisURL,
		MonitoredNamespaces: cfg.Namespaces(),
		GraphInterval:       time.Duration(cfg.GraphIntervalSec) * time.Second,
		WebSocketPort:       cfg.WebSocketPort,
		RESTPort:            cfg.RESTPort,
	})

	corsOpts := cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}

	wsRouter := mux.NewRouter()
	wsHandler := websocket.NewHandler(ctx, hub)
	wsRouter.HandleFunc("/ws", wsHandler.ServeWS).Methods(http.MethodGet)

	wsSrv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.WebSocketPort),
		Handler:     wsRouter,
		IdleTimeout: 60 * time.Second,
	}

	restRouter := mux.NewRouter()
	restRouter.Use(middleware.Recover)
	restRouter.Use(middleware.ServiceNode(serviceName))
	restRouter.Use(middleware.AccessLog(serviceName))
	col.Routes(restRouter)
	restRouter.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	restSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.RESTPort),
		Handler:      cors.New(corsOpts).Handler(restRouter),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		col.RunSubscriber(gctx)
		return nil
	})

	if client != nil {
		g.Go(func() error {
			col.RunPodWatch(gctx)
			return nil
		})
	}

	g.Go(func() error {
		col.RunSnapshotLoop(gctx)
		return nil
	})

	g.Go(func() error {
		log.Info("websocket stream listening", "port", cfg.WebSocketPort)
		if err := wsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		log.Info("rest api listening", "port", cfg.RESTPort)
		if err := restSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(),
			time.Duration(cfg.ShutdownTimeoutSec)*time.Second)
		defer cancel()
		wsErr := wsSrv.Shutdown(shutdownCtx)
		restErr := restSrv.Shutdown(shutdownCtx)
		if wsErr != nil {
			return wsErr
		}
		return restErr
	})

	if err := g.Wait(); err != nil {
		log.Error("collector exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("collector stopped")
}
