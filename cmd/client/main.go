package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"crypto-terminal/internal/common"
	"crypto-terminal/internal/config"
	"crypto-terminal/internal/feed"
)

const defaultFeedPort = 50051

var kacp = keepalive.ClientParameters{
	Time:                10 * time.Second, // send pings every 10 seconds
	Timeout:             time.Second,      // wait 1 second for ping ack
	PermitWithoutStream: true,             // send pings even without active streams
}

func main() {
	// Configure logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	configPath := flag.String("config", common.DefaultConfigPath, "Path to config file")
	addr := flag.String("addr", "", "Feed address host:port (overrides config)")
	kindsStr := flag.String("kinds", "", "Comma-separated event kinds to watch (default all)")
	retryInterval := flag.Int("retry", 5, "Retry interval in seconds for reconnection")
	maxRetries := flag.Int("max-retries", 10, "Maximum number of retry attempts (0 for unlimited)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath, "")
	if err != nil {
		log.Fatal().
			Err(err).
			Str("error_code", common.ErrCodeConfigLoadFailed.String()).
			Str("error_message", common.ErrMsgConfigLoadFailed.String()).
			Msg("Failed to load config")
	}

	var kinds []string
	for _, k := range strings.Split(*kindsStr, ",") {
		if k = strings.TrimSpace(k); k != "" {
			kinds = append(kinds, k)
		}
	}

	serverAddr := *addr
	if serverAddr == "" {
		port := cfg.Feed.GRPCPort
		if port <= 0 {
			port = defaultFeedPort
		}
		serverAddr = fmt.Sprintf("localhost:%d", port)
	}
	retryCount := 0

	for {
		if *maxRetries > 0 && retryCount >= *maxRetries {
			log.Error().Msg("Maximum retry attempts reached. Exiting...")
			break
		}

		if retryCount > 0 {
			log.Info().
				Int("retry_count", retryCount).
				Int("max_retries", *maxRetries).
				Int("retry_interval_sec", *retryInterval).
				Msg("Attempting to reconnect...")
			time.Sleep(time.Duration(*retryInterval) * time.Second)
		}

		ctx := context.Background()
		conn, err := grpc.NewClient(
			serverAddr,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithKeepaliveParams(kacp),
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(common.MaxGRPCMessageSize),
				grpc.MaxCallSendMsgSize(common.MaxGRPCMessageSize),
			),
		)
		if err != nil {
			log.Error().
				Err(err).
				Str("error_code", common.ErrCodeGRPCConnectionFailed.String()).
				Str("error_message", common.ErrMsgGRPCConnectionFailed.String()).
				Str("address", serverAddr).
				Msg("gRPC connect failed")
			retryCount++
			continue
		}

		log.Info().Str("address", serverAddr).Msg("Connecting to terminal feed")

		received, err := streamEvents(ctx, conn, kinds)
		if err != nil {
			log.Error().
				Err(err).
				Str("error_code", common.ErrCodeStreamClosed.String()).
				Str("error_message", common.ErrMsgStreamClosed.String()).
				Msg("Streaming error occurred")
		}

		if err := conn.Close(); err != nil {
			log.Error().
				Err(err).
				Str("error_code", common.ErrCodeGRPCConnectionCloseFailed.String()).
				Str("error_message", common.ErrMsgGRPCConnectionCloseFailed.String()).
				Msg("Failed to close gRPC connection")
		}
		if received > 0 {
			retryCount = 0
		}
		retryCount++
	}
}

func streamEvents(ctx context.Context, conn *grpc.ClientConn, kinds []string) (int, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := feed.Subscribe(streamCtx, conn, kinds)
	if err != nil {
		return 0, fmt.Errorf("subscribe failed: %w", err)
	}

	log.Info().Strs("kinds", kinds).Msg("Subscribed to terminal feed")

	received := 0
	for {
		ev, err := stream.Recv()
		if err == io.EOF {
			log.Info().Msg("Stream closed by server (EOF)")
			return received, nil
		}
		if err != nil {
			if isContextError(err) {
				log.Debug().Err(err).Msg("Context canceled, stopping stream")
				return received, nil
			}
			return received, fmt.Errorf("receive error: %w", err)
		}

		received++
		printEvent(ev)
	}
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func printEvent(ev feed.Event) {
	keys := make([]string, 0, len(ev.Data))
	for k := range ev.Data {
		if k == "rows" || k == "last_candle" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, ev.Data[k])
	}
	if rows, ok := ev.Data["rows"].([]interface{}); ok {
		fmt.Fprintf(&b, " rows=%d", len(rows))
	}

	symbol := ev.Symbol
	if symbol == "" {
		symbol = "-"
	}
	fmt.Printf("Event [%s %s @ %s]:%s\n", ev.Kind, symbol, ev.Time.Format(time.RFC3339), b.String())
}
