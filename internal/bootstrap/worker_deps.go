package bootstrap

import (
	"context"

	"vitalred_worker/adapter/out/graph"
	"vitalred_worker/adapter/out/messaging"
	"vitalred_worker/adapter/out/mongodb"
	"vitalred_worker/adapter/out/persistence"
	"vitalred_worker/config"
	"vitalred_worker/core/agent/llm"
	"vitalred_worker/infra/database"
	"vitalred_worker/pkg/httputil"
	"vitalred_worker/pkg/logger"
	"vitalred_worker/pkg/metrics"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

// referral:detected is trimmed to roughly this many entries.
const referralStreamMaxLen = 10000

// Dependencies holds the connections and adapters shared by the commands.
// Only the SQL record store is mandatory; everything else is skipped with a
// warning when it is not configured or unreachable.
type Dependencies struct {
	Config *config.Config

	SQL     *database.SQL
	Redis   *redis.Client
	MongoDB *mongo.Client
	Neo4j   neo4j.DriverWithContext

	Records   *persistence.EmailAdapter
	Bodies    *mongodb.BodyAdapter
	Graph     *graph.ReferralAdapter
	Producer  *messaging.RedisProducer
	Annotator *llm.Annotator

	Latency *metrics.PipelineLatency
}

func NewDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{
		Config:  cfg,
		Latency: metrics.NewPipelineLatency(1000),
	}
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	// Record store (Postgres via pgx, or SQLite)
	sqlDB, err := database.OpenSQL(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	cleanups = append(cleanups, func() { sqlDB.Close() })
	if err := persistence.Migrate(ctx, sqlDB.DB); err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.SQL = sqlDB
	deps.Records = persistence.NewEmailAdapter(sqlDB.DB)
	logger.Info("[Bootstrap] record store ready (driver=%s)", cfg.DatabaseDriver)

	// Redis: progress snapshots + referral events
	if cfg.RedisURL != "" {
		redisClient, err := database.NewRedis(ctx, cfg.RedisURL, nil)
		if err != nil {
			logger.Warn("[Bootstrap] Redis connection failed: %v", err)
		} else {
			deps.Redis = redisClient
			deps.Producer = messaging.NewRedisProducer(redisClient, referralStreamMaxLen)
			cleanups = append(cleanups, func() { redisClient.Close() })
		}
	}

	// MongoDB: body archive
	if cfg.MongoDBURL != "" {
		mongoClient, err := mongodb.NewClient(ctx, cfg.MongoDBURL)
		if err != nil {
			logger.Warn("[Bootstrap] MongoDB connection failed: %v", err)
		} else {
			deps.MongoDB = mongoClient
			deps.Bodies = mongodb.NewBodyAdapter(mongoClient, cfg.MongoDBName)
			cleanups = append(cleanups, func() { mongoClient.Disconnect(context.Background()) })
			if err := deps.Bodies.EnsureIndexes(ctx); err != nil {
				logger.Warn("[Bootstrap] failed to ensure MongoDB indexes: %v", err)
			}
		}
	}

	// Neo4j: referral graph
	if cfg.Neo4jURL != "" {
		driver, err := graph.NewDriver(ctx, cfg.Neo4jURL, cfg.Neo4jUsername, cfg.Neo4jPassword)
		if err != nil {
			logger.Warn("[Bootstrap] Neo4j connection failed: %v", err)
		} else {
			deps.Neo4j = driver
			deps.Graph = graph.NewReferralAdapter(driver, "neo4j")
			cleanups = append(cleanups, func() { driver.Close(context.Background()) })
			if err := deps.Graph.EnsureIndexes(ctx); err != nil {
				logger.Warn("[Bootstrap] failed to ensure Neo4j constraints: %v", err)
			}
		}
	}

	// OpenAI: optional annotation
	if cfg.AIEnabled() {
		client := llm.NewClient(llm.ClientConfig{
			APIKey:     cfg.OpenAIAPIKey,
			Model:      cfg.LLMModel,
			MaxTokens:  cfg.LLMMaxTokens,
			HTTPClient: httputil.NewOptimizedClient(httputil.OpenAIClientConfig(cfg.LLMTimeout())),
		})
		deps.Annotator = llm.NewAnnotator(client)
		logger.Info("[Bootstrap] AI annotation enabled (model=%s)", client.Model())
	}

	return deps, cleanup, nil
}
