// Command example wires the sqsrun runtime end to end against a real or
// emulated (LocalStack) SQS endpoint: a consumer with Redis-backed
// idempotency and backoff stores whose handler feeds per-post view
// counts into a double-buffered aggregator.
//
// Configuration comes from the environment:
//
//	QUEUE_URL          (required) SQS queue URL
//	AWS_REGION         AWS region, default us-east-1
//	AWS_ENDPOINT       optional endpoint override for emulators
//	REDIS_ADDR         optional Redis address; in-memory stores when unset
//	PARALLEL           process batches in parallel, default false
//	FLUSH_INTERVAL_MS  aggregator flush interval, default 2000
//	MAX_BUFFER_SIZE    aggregator size threshold, default 100
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/caarlos0/env/v11"
	"github.com/redis/go-redis/v9"

	"github.com/quemgr/sqsrun/aggregator"
	"github.com/quemgr/sqsrun/backoff"
	"github.com/quemgr/sqsrun/consumer"
	"github.com/quemgr/sqsrun/idempotency"
	"github.com/quemgr/sqsrun/logging"
	"github.com/quemgr/sqsrun/sqsclient"
	"github.com/quemgr/sqsrun/types"
)

type Config struct {
	QueueURL        string `env:"QUEUE_URL,required"`
	AWSRegion       string `env:"AWS_REGION" envDefault:"us-east-1"`
	AWSEndpoint     string `env:"AWS_ENDPOINT"`
	RedisAddr       string `env:"REDIS_ADDR"`
	Parallel        bool   `env:"PARALLEL" envDefault:"false"`
	FlushIntervalMs int    `env:"FLUSH_INTERVAL_MS" envDefault:"2000"`
	MaxBufferSize   int    `env:"MAX_BUFFER_SIZE" envDefault:"100"`
}

type postEvent struct {
	PostID  string `json:"postId"`
	Content string `json:"content"`
}

func main() {
	logger := logging.New(os.Stderr, slog.LevelDebug)

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.AWSRegion),
	}
	if cfg.AWSEndpoint != "" {
		// Emulator endpoints accept placeholder credentials.
		loadOpts = append(loadOpts,
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "")),
		)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		logger.Fatalf("Failed to load AWS configuration: %v", err)
	}
	if cfg.AWSEndpoint != "" {
		awsCfg.BaseEndpoint = &cfg.AWSEndpoint
	}

	client, err := sqsclient.New(&awsCfg, cfg.QueueURL, logger).Init(ctx)
	if err != nil {
		logger.Fatalf("Failed to initialize SQS client: %v", err)
	}

	var (
		idem types.IdempotencyStore
		back types.BackoffStore
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err = rdb.Ping(ctx).Err(); err != nil {
			logger.Fatalf("Failed to connect to Redis at %s: %v", cfg.RedisAddr, err)
		}
		idem = idempotency.NewRedisStore(rdb)
		back = backoff.NewRedisStore(rdb)
	} else {
		idem = idempotency.NewMemoryStore()
		back = backoff.NewMemoryStore()
	}

	// Collapse per-message view updates into one bulk write per flush.
	views, err := aggregator.New(
		func(_ context.Context, batch map[string]int) error {
			logger.WithField("posts", len(batch)).Info("Flushing view counters")
			for postID, count := range batch {
				logger.WithFields(map[string]any{"post_id": postID, "views": count}).
					Debug("Bulk write")
			}
			return nil
		},
		logger,
		aggregator.WithFlushInterval(time.Duration(cfg.FlushIntervalMs)*time.Millisecond),
		aggregator.WithMaxBufferSize(cfg.MaxBufferSize),
	)
	if err != nil {
		logger.Fatalf("Failed to build aggregator: %v", err)
	}

	views.Start(ctx)

	handler := func(ctx context.Context, msg types.Message, meta types.MessageMetadata) error {
		var ev postEvent
		if err := json.Unmarshal([]byte(msg.Body), &ev); err != nil {
			return types.Permanent("malformed post event: " + err.Error())
		}
		if ev.PostID == "" {
			return types.Permanent("post event without postId")
		}

		if meta.IsLastAttempt {
			logger.WithField("message_id", msg.MessageID).Warn("Final delivery attempt")
		}

		return views.Update(ctx, ev.PostID, 1, func(prev, incoming int) int {
			return prev + incoming
		})
	}

	opts := []consumer.Option{
		consumer.WithIdempotencyStore(idem),
		consumer.WithBackoffStore(back),
		consumer.WithMaxReceiveCount(5),
	}
	if cfg.Parallel {
		opts = append(opts, consumer.WithParallelProcessing())
	}

	c := consumer.New(client, handler, logger, opts...)
	if err = c.Start(ctx); err != nil {
		logger.Fatalf("Failed to start consumer: %v", err)
	}

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err = c.Stop(shutdownCtx); err != nil {
		logger.Errorf("Consumer shutdown: %v", err)
	}
	if err = views.Stop(shutdownCtx); err != nil {
		logger.Errorf("Aggregator shutdown: %v", err)
	}
}
