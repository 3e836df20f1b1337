// Command gateway runs the HTTP server frontends use to drive bridge
// workflow sessions.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	mongooptions "go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.opentelemetry.io/otel"
	temporalotel "go.temporal.io/sdk/contrib/opentelemetry"
	"goa.design/clue/log"

	"github.com/treatyline/subpack/internal/config"
	"github.com/treatyline/subpack/internal/gateway"
	"github.com/treatyline/subpack/internal/store"
)

func main() {
	var (
		configF = flag.String("config", os.Getenv("SUBPACK_CONFIG"), "Path to YAML configuration file")
		debugF  = flag.Bool("debug", false, "Enable debug logging")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *debugF {
		ctx = log.Context(ctx, log.WithDebug())
	}

	if err := run(ctx, *configF); err != nil {
		log.Fatal(ctx, err)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	tracer, err := temporalotel.NewTracingInterceptor(temporalotel.TracerOptions{
		Tracer: otel.Tracer("subpack-gateway"),
	})
	if err != nil {
		return fmt.Errorf("configure tracing interceptor: %w", err)
	}
	tc, err := config.DialTemporal(cfg.Temporal, tracer)
	if err != nil {
		return err
	}
	defer tc.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() { _ = rdb.Close() }()

	mc, err := mongodriver.Connect(mongooptions.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		return fmt.Errorf("connect mongo %s: %w", cfg.Mongo.URI, err)
	}
	defer func() { _ = mc.Disconnect(ctx) }()
	st, err := store.New(store.Options{Client: mc, Database: cfg.Mongo.Database})
	if err != nil {
		return err
	}

	sessions := gateway.NewSessionRegistry(rdb, 0)
	srv := gateway.NewServer(tc, sessions,
		gateway.NewTemporalPinger(tc),
		gateway.NewRedisPinger(rdb),
		st,
	)

	httpSrv := &http.Server{
		Addr:    cfg.Gateway.Addr,
		Handler: srv.Handler(ctx),
	}

	errc := make(chan error, 1)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("signal: %s", <-c)
	}()
	go func() {
		log.Info(ctx, log.KV{K: "msg", V: "gateway listening"},
			log.KV{K: "addr", V: cfg.Gateway.Addr})
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	reason := <-errc
	log.Info(ctx, log.KV{K: "msg", V: "gateway shutting down"},
		log.KV{K: "reason", V: reason.Error()})

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
