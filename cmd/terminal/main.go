package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"crypto-terminal/internal/backend"
	"crypto-terminal/internal/common"
	"crypto-terminal/internal/config"
	"crypto-terminal/internal/exchanges"
	"crypto-terminal/internal/feed"
	"crypto-terminal/internal/scheduler"
	"crypto-terminal/internal/session"
	"crypto-terminal/internal/ui"
	"crypto-terminal/internal/util"
	"crypto-terminal/pkg/models"
)

type sinks struct {
	grpc *feed.GRPCServer
	http *feed.HTTPServer
	nats *feed.NATSPublisher
}

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", common.DefaultConfigPath, "Path to config file")
	envPath := flag.String("env", common.DefaultEnvPath, "Path to .env file")
	flag.Parse()

	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	logger := util.NewLogger("main")

	cfg, err := config.LoadConfig(*configPath, *envPath)
	if err != nil {
		logger.Error(err, common.ErrCodeConfigLoadFailed, common.ErrMsgConfigLoadFailed, "Failed to load config", "path", *configPath)
		return 1
	}

	// Set global log level from config
	level, ok := util.ParseLevel(cfg.LogLevel)
	if !ok {
		log.Error().Str("log_level", cfg.LogLevel).Msg("Invalid log level in config, use: debug, info, warn, error")
		return 1
	}
	zerolog.SetGlobalLevel(level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := feed.NewHub(common.FeedChannelSize)
	loop := scheduler.NewLoop(common.FeedChannelSize)
	backendClient := backend.NewClient(cfg.BackendURL)

	controller, err := session.Bootstrap(ctx, backendClient, cfg.ClientVersion, func() *session.Controller {
		creds := exchanges.NewSession(models.Credentials{})
		gateway := exchanges.NewMEXC(cfg.GetExchangeURL(), creds, cfg.GetExchangeTimeout(), cfg.GetRecvWindowMs())
		return session.NewController(loop, backendClient, gateway, creds, session.Options{
			TickerInterval: cfg.GetTickerInterval(),
			MaxCoins:       cfg.GetMaxCoins(),
			Trade: scheduler.TradeOptions{
				Timeframe:       cfg.GetTimeframe(),
				Limit:           cfg.GetCandleLimit(),
				Lookback:        cfg.GetLookback(),
				OHLCVInterval:   cfg.GetOHLCVInterval(),
				BalanceInterval: cfg.GetBalanceInterval(),
			},
			OrderTimeout: cfg.GetExchangeTimeout(),
		}, hub.Publish)
	})
	if err != nil {
		logger.Error(err, common.ErrCodeVersionCheckFailed, common.ErrMsgVersionCheckFailed, "Startup blocked",
			"version", cfg.ClientVersion, "backend", cfg.BackendURL)
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return 1
	}

	go hub.Run(ctx)
	go loop.Run(ctx)

	s, err := startSinks(ctx, cfg, hub, logger)
	if err != nil {
		cancel()
		return 1
	}

	console := ui.NewConsole(loop, controller, os.Stdout)
	events, unsubscribe := hub.Subscribe(feed.KindOrder, feed.KindSession)
	defer unsubscribe()
	go console.Follow(ctx, events)

	done := make(chan error, 1)
	go func() {
		done <- console.Run(ctx, os.Stdin)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("Received shutdown signal")
	case <-done:
	}

	logger.Info("Shutting down terminal...")
	loop.Call(controller.Shutdown)
	cancel()
	s.stop()
	logger.Info("Terminal stopped")
	return 0
}

func startSinks(ctx context.Context, cfg *config.Config, hub *feed.Hub, logger *util.Logger) (*sinks, error) {
	s := &sinks{}

	if port := cfg.Feed.GRPCPort; port > 0 {
		address := fmt.Sprintf(":%d", port)
		lis, err := net.Listen("tcp", address)
		if err != nil {
			logger.Error(err, common.ErrCodeGRPCServeFailed, common.ErrMsgGRPCServeFailed, "Failed to listen", "address", address)
			return nil, err
		}
		s.grpc = feed.NewGRPCServer(hub)
		go func() {
			if err := s.grpc.Serve(lis); err != nil {
				logger.Error(err, common.ErrCodeGRPCServeFailed, common.ErrMsgGRPCServeFailed, "gRPC serve failed")
			}
		}()
	}

	if port := cfg.Feed.HTTPPort; port > 0 {
		address := fmt.Sprintf(":%d", port)
		lis, err := net.Listen("tcp", address)
		if err != nil {
			logger.Error(err, common.ErrCodeHTTPServeFailed, common.ErrMsgHTTPServeFailed, "Failed to listen", "address", address)
			s.stop()
			return nil, err
		}
		s.http = feed.NewHTTPServer(hub, cfg.ClientVersion)
		go func() {
			if err := s.http.Serve(lis); err != nil {
				logger.Error(err, common.ErrCodeHTTPServeFailed, common.ErrMsgHTTPServeFailed, "HTTP serve failed")
			}
		}()
	}

	if len(cfg.Feed.NATS.Servers) > 0 {
		np := feed.NewNATSPublisher(feed.NATSOptions{
			Servers:       cfg.Feed.NATS.Servers,
			SubjectPrefix: cfg.GetNATSSubjectPrefix(),
			ClientName:    cfg.Feed.NATS.ClientName,
		})
		if err := np.Connect(); err != nil {
			logger.Error(err, common.ErrCodeNATSConnectFailed, common.ErrMsgNATSConnectFailed, "NATS feed disabled")
		} else {
			s.nats = np
			go np.Run(ctx, hub)
		}
	}

	return s, nil
}

func (s *sinks) stop() {
	if s.grpc != nil {
		s.grpc.Stop()
	}
	if s.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.http.Shutdown(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			log.Debug().Err(err).Msg("HTTP feed shutdown")
		}
	}
	if s.nats != nil {
		s.nats.Close()
	}
}
