package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"polyflow/config"
	"polyflow/internal/channel"
	"polyflow/internal/dashboard"
	"polyflow/internal/ratelimit"
	"polyflow/internal/rest"
	"polyflow/logger"
	"polyflow/reader/stream"
	"polyflow/reconciler"
	"polyflow/resolver"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	slug := flag.String("slug", "", "Market slug to resolve")
	conditionID := flag.String("market", "", "Market condition identifier to resolve")

	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	if *slug == "" && *conditionID == "" {
		log.Error("either -slug or -market is required")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Polyflow.Name,
		"version": cfg.Polyflow.Version,
	}).Info("starting polyflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	limiter := ratelimit.New(cfg.Reader.Rules)
	client := rest.NewClient(cfg.Reader, limiter)

	market, err := resolver.New(client, cfg.Endpoints.GammaURL).Resolve(ctx, resolver.Query{
		Slug:        *slug,
		ConditionID: *conditionID,
	}, nil)
	if err != nil {
		log.WithError(err).WithFields(logger.Fields{
			"slug":   *slug,
			"market": *conditionID,
		}).Error("failed to resolve market")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"condition_id": market.ConditionID,
		"question":     market.Question,
		"tokens":       len(market.ClobTokenIDs),
	}).Info("market resolved")

	channels := channel.NewChannels(
		cfg.Channels.UpdateBuffer,
		cfg.Channels.BookBuffer,
	)

	go channels.StartMetricsReporting(ctx)

	state := reconciler.NewState(cfg.Reconciler, *market)

	streamClient := stream.NewClient(cfg.Stream, cfg.Endpoints.WsURL, market.ClobTokenIDs, cfg.Channels.StatusBuffer)
	if err := streamClient.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start stream client")
		os.Exit(1)
	}

	var wg sync.WaitGroup

	// Pump stream events into the reconciler channels. Status events stay
	// here; only data moves on.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range streamClient.Events() {
			switch ev.Kind {
			case stream.KindUpdate:
				channels.SendUpdate(ctx, ev.Update)
			case stream.KindBook:
				channels.SendBook(ctx, ev.Book)
			case stream.KindStatus:
				entry := log.WithComponent("stream").WithFields(logger.Fields{"status": string(ev.Status)})
				if ev.Err != nil {
					entry.WithError(ev.Err).Warn("stream status")
				} else {
					entry.Info("stream status")
				}
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		reconciler.Consume(ctx, channels, state)
	}()

	poller := reconciler.NewPoller(cfg.Reconciler, client, cfg.Endpoints.ClobURL, cfg.Endpoints.DataURL, state)
	poller.Start(ctx)

	dash := dashboard.NewServer(cfg.Dashboard, log)
	if dash != nil {
		dash.Register(state)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := dash.Run(ctx); err != nil {
				log.WithError(err).Warn("dashboard server failed")
			}
		}()
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	log.Info("stopping stream client")
	streamClient.Close()

	log.Info("stopping pollers")
	poller.Wait()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	channels.Close()

	log.Info("polyflow stopped")
}
