package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"redis-pubsub-matchmaker/allocator"
	"redis-pubsub-matchmaker/config"
	"redis-pubsub-matchmaker/health"
	"redis-pubsub-matchmaker/matchmaker"
	"redis-pubsub-matchmaker/matchrequest"
	"redis-pubsub-matchmaker/metrics"
	"redis-pubsub-matchmaker/queues"
	qpubsub "redis-pubsub-matchmaker/queues/pubsub"
	"redis-pubsub-matchmaker/servers"
	"redis-pubsub-matchmaker/store"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var version = "source"

func setLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if os.Getenv("DEBUG") != "" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

func main() {
	setLogger("info")
	log.Info().Msgf("Starting redis-pubsub-matchmaker version: %s", version)
	cfg := config.Load()
	setLogger(cfg.LogLevel)
	log.Info().Interface("config", cfg.Redacted()).Msg("config loaded")

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(sigCtx, cfg); err != nil {
		log.Fatal().Err(err).Msg("matchmaker stopped with error")
	}
	log.Info().Msg("shutdown complete")
}

func run(sigCtx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	rdb, err := store.Connect(cfg.RedisConnection)
	if err != nil {
		return err
	}
	defer rdb.Close()
	st := store.New(rdb)
	pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
	if err := st.Ping(pingCtx); err != nil {
		log.Warn().Err(err).Msg("redis not reachable yet; readiness will fail until it is")
	}
	cancelPing()

	if cfg.CredentialsFile != "" {
		log.Info().Str("credsFile", cfg.CredentialsFile).Msg("using explicit Google credentials file")
	} else {
		log.Info().Msg("using default Google credentials (in-cluster or ambient)")
	}

	readyPublisher := qpubsub.NewPublisher(cfg.GoogleProjectID, cfg.SessionReadyTopic, cfg.CredentialsFile)
	defer readyPublisher.Close()

	var opts []matchrequest.Option
	if cfg.MatchResultTopic != "" {
		resultPublisher := qpubsub.NewPublisher(cfg.GoogleProjectID, cfg.MatchResultTopic, cfg.CredentialsFile)
		defer resultPublisher.Close()
		opts = append(opts, matchrequest.WithResultPublisher(resultPublisher))
	}
	registry := matchrequest.NewRegistry(ctx, st, cfg.MatchTimeout, opts...)
	manager := matchmaker.NewManager(st, registry, cfg.SessionCapacity)
	ingestor := matchmaker.NewIngestor(manager)
	fanout := matchrequest.NewFanout(registry)
	controller := allocator.NewController(st, readyPublisher, 2*cfg.MatchTimeout)

	mux := http.NewServeMux()
	metrics.Register(mux)
	health.Register(mux, st)
	servers.Register(mux, st)
	matchrequest.Register(mux, registry)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	scheduler := allocator.NewScheduler(ctx)
	if err := scheduler.AddSweep(cfg.SweepSchedule, controller); err != nil {
		return err
	}
	if cfg.AgonesFleet != "" {
		fleet := servers.NewFleetSync(st, cfg.AgonesFleet, cfg.TargetNamespace)
		if err := scheduler.Add("fleet-sync", cfg.SweepSchedule, func(ctx context.Context) {
			if _, err := fleet.Sync(ctx); err != nil {
				log.Error().Err(err).Msg("fleet sync failed")
			}
		}); err != nil {
			return err
		}
	}
	scheduler.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr()).Msg("starting http server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http server graceful shutdown failed")
		}
		return nil
	})
	subscribe := func(name string, s queues.Subscriber, h queues.BatchHandler) {
		g.Go(func() error {
			log.Info().Str("subscription", name).Msg("starting subscriber loop")
			return s.Start(gctx, h)
		})
	}
	subscribe(cfg.ArrivalSubscription,
		qpubsub.NewSubscriber(cfg.GoogleProjectID, cfg.ArrivalSubscription, cfg.CredentialsFile, cfg.IngestBatchSize, cfg.IngestBatchWindow),
		ingestor.HandleBatch)
	subscribe(cfg.SessionReadySubscription,
		qpubsub.NewSubscriber(cfg.GoogleProjectID, cfg.SessionReadySubscription, cfg.CredentialsFile, cfg.IngestBatchSize, cfg.IngestBatchWindow),
		fanout.HandleBatch)

	// Block until shutdown or a subscriber or the http server fails
	runErr := g.Wait()
	if sigCtx.Err() != nil {
		log.Info().Msg("shutdown signal received")
		runErr = nil
	} else if runErr != nil {
		log.Error().Err(runErr).Msg("component exited with fatal error; shutting down")
	}
	cancel()

	stopCtx, cancelStop := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelStop()
	scheduler.Stop(stopCtx)
	registry.Wait()
	return runErr
}
