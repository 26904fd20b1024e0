// Command worker runs the four phase handlers of the Worker Runtime,
// one goroutine per queue, until terminated. Grounded on the teacher's
// cmd/ingest main.go background-loop shape, generalized from a single
// directory-scan loop into one dequeue loop per queue via errgroup.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/anthropics/anthropic-sdk-go"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/mentorfy/ingestpipe/engine/chunk"
	"github.com/mentorfy/ingestpipe/engine/config"
	"github.com/mentorfy/ingestpipe/engine/extract"
	"github.com/mentorfy/ingestpipe/engine/graph"
	"github.com/mentorfy/ingestpipe/engine/queue"
	"github.com/mentorfy/ingestpipe/engine/ratelimit"
	"github.com/mentorfy/ingestpipe/engine/store"
	"github.com/mentorfy/ingestpipe/engine/worker"
	"github.com/mentorfy/ingestpipe/pkg/llmclient"
	"github.com/mentorfy/ingestpipe/pkg/metrics"
	"github.com/mentorfy/ingestpipe/pkg/resilience"
	"github.com/mentorfy/ingestpipe/pkg/storage"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("worker exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.NewPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer st.Close()

	pgPool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("connect postgres pool: %w", err)
	}
	defer pgPool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	broker := queue.NewRedisBroker(redisClient, "ingestpipe")
	governor := ratelimit.NewGovernor(redisClient, "ingestpipe")

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}
	gateway := storage.New(s3.NewFromConfig(awsCfg), cfg.S3Bucket)

	neo4jDriver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
	if err != nil {
		return fmt.Errorf("neo4j driver: %w", err)
	}
	defer neo4jDriver.Close(ctx)
	graphEngine := graph.NewNeo4jEngine(neo4jDriver)

	llm := llmclient.New(cfg.AnthropicAPIKey, anthropic.Model(cfg.AnthropicModel))
	chunker := chunk.NewGenerator(llm, governor, "ANTHROPIC", cfg.RPMLimits["ANTHROPIC"], cfg.TPMLimits["ANTHROPIC"])
	chunker.SetMaxConcurrent(cfg.ChunkingMaxConcurrent)

	breaker := resilience.NewBreaker(resilience.DefaultBreakerOpts)
	ingestor := graph.NewIngestor(graphEngine, st, governor, breaker, "GRAPH", cfg.RPMLimits["GRAPH"], cfg.TPMLimits["GRAPH"], cfg.KGMaxConcurrent)

	transcriber := extract.NewTranscriptionClient(cfg.TranscriptionBaseURL, cfg.TranscriptionAPIKey)
	media := extract.NewMediaPreprocessor()

	oauthCfg := &oauth2.Config{ClientID: cfg.GDriveOAuthClientID, ClientSecret: cfg.GDriveOAuthClientSecret}
	tokens := worker.NewGDriveTokenStore(pgPool, oauthCfg)

	nc, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	defer nc.Close()
	events := worker.NewNatsEventPublisher(nc)

	met := metrics.New()
	met.ServeAsync(cfg.MetricsPort)

	rt := &worker.Runtime{
		Store:       st,
		Broker:      broker,
		Gateway:     gateway,
		Chunker:     chunker,
		Ingestor:    ingestor,
		Transcriber: transcriber,
		Media:       media,
		Tokens:      tokens,
		Events:      events,
		Metrics:     met,
		Log:         logger,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rt.RunExtraction(gctx) })
	g.Go(func() error { return rt.RunIngestExtract(gctx) })
	g.Go(func() error { return rt.RunChunking(gctx) })
	g.Go(func() error { return rt.RunKGIngest(gctx) })

	logger.Info("worker runtime started")
	return g.Wait()
}
