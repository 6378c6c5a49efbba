package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/octoaxis/ebook-orders/internal/assets"
	"github.com/octoaxis/ebook-orders/internal/config"
	"github.com/octoaxis/ebook-orders/internal/entitlement"
	"github.com/octoaxis/ebook-orders/internal/httpx"
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
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Operational channel producers
	pApplied := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicSignalApplied, 1024)
	pApplied.Start(ctx)
	pFailed := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicSignalFailed, 1024)
	pFailed.Start(ctx)
	pGranted := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicEntitlementGranted, 1024)
	pGranted.Start(ctx)

	// Payment provider & asset store
	mp := mercadopago.NewClient(cfg.MPAccessToken, cfg.MPBaseURL)
	store, err := assets.NewStore(ctx, assets.StoreConfig{
		Bucket:   cfg.AssetBucket,
		Key:      cfg.AssetKey,
		Region:   cfg.AssetRegion,
		Endpoint: cfg.AssetEndpoint,
		TTL:      cfg.GrantTTL,
	})
	if err != nil {
		log.Fatalf("asset store: %v", err)
	}

	svc := &entitlement.Service{
		Store:    &orders.Repo{DB: db},
		Provider: mp,
		Assets:   store,
		Checkout: entitlement.CheckoutConfig{
			NotificationURL: cfg.MPNotificationURL,
			DownloadPageURL: cfg.DownloadPageURL,
			ItemID:          cfg.ItemID,
			ItemTitle:       cfg.ItemTitle,
			ItemDescription: cfg.ItemDescription,
			UnitPrice:       cfg.UnitPrice,
			Currency:        cfg.Currency,
		},
		PubApplied:  pApplied,
		PubFailed:   pFailed,
		PubGranted:  pGranted,
		ServiceName: cfg.ServiceName,
	}

	router := httpx.NewRouter()
	eh := &httpx.EntitlementHandler{Service: svc, Redis: rdb}
	eh.Register(router)
	wh := &httpx.WebhookHandler{Service: svc, Provider: mp, Redis: rdb}
	wh.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	// graceful shutdown
	go func() {
		log.Printf("HTTP listening at %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	pApplied.Close() // close inbox -> flush & close writer
	pFailed.Close()
	pGranted.Close()
	cancel() // stop producer loops
	pApplied.WaitClosed()
	pFailed.WaitClosed()
	pGranted.WaitClosed()
}
