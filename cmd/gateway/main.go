package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"api_gateway/internal/accesslog"
	"api_gateway/internal/admin"
	"api_gateway/internal/breaker"
	"api_gateway/internal/config"
	"api_gateway/internal/obs"
	"api_gateway/internal/proxy"
	"api_gateway/internal/ratelimit"
	"api_gateway/internal/route"
	"api_gateway/internal/server"
	"api_gateway/internal/stream"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("gateway: %v", err)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}

	metrics := obs.NewMetrics()

	db, err := route.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	store := route.NewStore(db)
	cache := route.NewCache(store)
	cache.SetOnRefresh(func(count int) {
		metrics.RecordCacheRefresh("success", count)
	})
	cache.SetOnRefreshFailure(func() {
		metrics.RecordCacheRefresh("failure", 0)
	})
	// The gateway refuses to start without a usable route snapshot.
	if err := cache.Refresh(context.Background()); err != nil {
		return err
	}
	refreshStop := make(chan struct{})
	go route.RefreshLoop(cache, cfg.CacheRefreshInterval, refreshStop)

	redisClient := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		DialTimeout:  cfg.RedisTimeout,
		ReadTimeout:  cfg.RedisTimeout,
		WriteTimeout: cfg.RedisTimeout,
	})
	limiter := ratelimit.NewLimiter(redisClient, cfg.RedisTimeout)
	limiter.SetOnFailOpen(metrics.RecordLimiterFailOpen)

	publisher := accesslog.NewKafkaPublisher(cfg.KafkaBrokers, cfg.AccessLogTopic)
	publisher.SetOnFailure(metrics.RecordPublishFailure)

	subscribers := stream.NewRegistry()
	subscribers.SetOnChange(metrics.SetSubscribers)
	reader := accesslog.NewReader(cfg.KafkaBrokers, cfg.AccessLogTopic)
	consumer := accesslog.NewConsumer(reader, subscribers)
	consumerCtx, consumerCancel := context.WithCancel(context.Background())
	go consumer.Run(consumerCtx)

	breakers := breaker.NewRegistry(breaker.Config{}, 0, 0)
	breakers.SetOnTransition(func(routePath string, state breaker.State) {
		metrics.SetBreakerOpen(routePath, state == breaker.StateOpen)
	})

	transport := proxy.NewTransport(cfg.DialTimeout, cfg.ResponseHeaderTimeout)
	engine := proxy.NewEngine(proxy.EngineConfig{
		Matcher:   cache,
		Limiter:   limiter,
		Publisher: publisher,
		Breaker:   breakers,
		Metrics:   metrics,
		Transport: transport,
	})

	mux := http.NewServeMux()
	admin.NewHandler(store, cache).Register(mux)
	mux.Handle("/dashboard/stream", subscribers)
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", engine)

	srv, err := server.Start(mux, cfg.ListenAddr, server.Options{
		Stoppers: []server.Stopper{
			server.StopFunc(func(ctx context.Context) error {
				consumerCancel()
				return consumer.Stop(ctx)
			}),
			server.StopFunc(func(context.Context) error {
				close(refreshStop)
				breakers.Stop()
				return nil
			}),
			server.StopFunc(func(context.Context) error {
				return publisher.Close()
			}),
			server.StopFunc(func(context.Context) error {
				return redisClient.Close()
			}),
		},
		CloseIdle: []func(){transport.CloseIdleConnections},
	})
	if err != nil {
		return err
	}
	log.Printf("gateway listening on %s", srv.Addr)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	<-signals
	log.Printf("shutdown signal received")

	return srv.Shutdown()
}
