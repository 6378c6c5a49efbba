package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/octoaxis/ebook-orders/internal/config"
	"github.com/octoaxis/ebook-orders/internal/entitlement"
	kafkax "github.com/octoaxis/ebook-orders/internal/kafka"
	"github.com/octoaxis/ebook-orders/internal/mercadopago"
	"github.com/octoaxis/ebook-orders/internal/metrics"
	"github.com/octoaxis/ebook-orders/internal/orders"
	"github.com/octoaxis/ebook-orders/internal/postgres"
	"github.com/octoaxis/ebook-orders/internal/redisx"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics.Register()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Producers: retried signals report back on the same channel the api
	// publishes to, minus the failure topic (the worker's own failures are
	// handled by kafka redelivery, not by re-queuing events).
	pApplied := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicSignalApplied, 1024)
	pApplied.Start(ctx)
	pGranted := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicEntitlementGranted, 1024)
	pGranted.Start(ctx)

	serviceName := cfg.ServiceName + "-reconciler"
	svc := &entitlement.Service{
		Store:       &orders.Repo{DB: db},
		Provider:    mercadopago.NewClient(cfg.MPAccessToken, cfg.MPBaseURL),
		PubApplied:  pApplied,
		PubGranted:  pGranted,
		ServiceName: serviceName,
	}
	worker := &entitlement.Worker{
		Service:     svc,
		Redis:       rdb,
		ServiceName: serviceName,
	}

	// Consumer
	group := getenv("RECONCILER_GROUP", "entitlement-reconciler")
	workers := mustAtoi(os.Getenv("RECONCILER_WORKERS"), "4")
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, orders.TopicSignalFailed, workers)

	go func() {
		log.Printf("reconciler consumer started: group=%s topic=%s workers=%d", group, orders.TopicSignalFailed, workers)
		if err := cons.Start(ctx, worker.HandleSignalFailed); err != nil {
			log.Printf("consumer exit: %v", err)
			cancel()
		}
	}()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		addr := getenv("METRICS_ADDR", ":9091")
		log.Printf("metrics listening at %s", addr)
		_ = http.ListenAndServe(addr, mux)
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down consumer...")
	cancel()
	time.Sleep(500 * time.Millisecond)
	pApplied.Close()
	pGranted.Close()
	pApplied.WaitClosed()
	pGranted.WaitClosed()
}

func mustAtoi(s, def string) int {
	if s == "" {
		s = def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 1
	}
	return i
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
