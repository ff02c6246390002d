package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ehr/eligibility/internal/config"
	"github.com/ehr/eligibility/internal/domain/eligibility"
	"github.com/ehr/eligibility/internal/domain/token"
	"github.com/ehr/eligibility/internal/platform/auth"
	"github.com/ehr/eligibility/internal/platform/blobstore"
	"github.com/ehr/eligibility/internal/platform/db"
	"github.com/ehr/eligibility/internal/platform/hipaa"
	"github.com/ehr/eligibility/migrations"
	"github.com/ehr/eligibility/pkg/client"
)

// newLogger builds the root logger. Development gets human-readable output.
func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// cleanup collects release funcs and runs them in reverse order.
type cleanup []func()

func (c *cleanup) add(fn func()) {
	*c = append(*c, fn)
}

func (c cleanup) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

// openRedis returns nil when REDIS_URL is unset.
func openRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	if cfg.RedisURL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return rdb, nil
}

func openTokenStorage(cfg *config.Config, rdb *redis.Client) (token.Storage, error) {
	switch cfg.TokenStore {
	case "memory":
		return token.NewMemoryStorage(), nil
	case "redis":
		if rdb == nil {
			return nil, errors.New("TOKEN_STORE=redis requires REDIS_URL")
		}
		return token.NewRedisStorage(rdb, ""), nil
	default:
		return token.NewFileStorage(cfg.TokenFile), nil
	}
}

// tokenStack is the cache, its manager and the gateway client they share.
type tokenStack struct {
	cache   *token.Cache
	manager *token.Manager
	gateway *client.Client
}

// newTokenStack restores any persisted token before returning, so callers
// see the same state a previous process left behind.
func newTokenStack(ctx context.Context, cfg *config.Config, storage token.Storage, logger zerolog.Logger) *tokenStack {
	cache := token.NewCache(storage, token.WithLogger(logger.With().Str("component", "token").Logger()))
	cache.Restore(ctx)

	gw := client.New(cfg.GatewayURL,
		client.WithTimeout(cfg.UpstreamTimeout),
		client.WithAuthorization(gatewayAuthorization(cfg.GatewayToken)),
	)
	mgr := token.NewManager(cache, token.NewGatewayAcquirer(gw, cache), logger)
	return &tokenStack{cache: cache, manager: mgr, gateway: gw}
}

// gatewayAuthorization re-presents the caller's verified Authorization header
// on gateway calls made for that request, falling back to the configured
// service token for work with no caller (the CLI and background refreshes).
func gatewayAuthorization(serviceToken string) func(ctx context.Context) string {
	return func(ctx context.Context) string {
		if v := auth.AuthorizationFromContext(ctx); v != "" {
			return v
		}
		if serviceToken != "" {
			return "Bearer " + serviceToken
		}
		return ""
	}
}

// searchStore is the persistence backend for search records and the
// access log, which always share a database.
type searchStore struct {
	repo   eligibility.SearchRepository
	access hipaa.AccessLog
	health db.Pinger
	driver string
}

// openSearchStore connects to Postgres when DATABASE_URL is set, applying
// pending migrations, and otherwise opens the embedded SQLite file.
func openSearchStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger, cl *cleanup) (*searchStore, error) {
	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		cl.add(pool.Close)

		applied, err := db.NewMigrator(pool, migrations.FS).Up(ctx)
		if err != nil {
			return nil, fmt.Errorf("migration failed: %w", err)
		}
		logger.Info().Int("applied", applied).Msg("connected to postgres")
		return &searchStore{
			repo:   eligibility.NewSearchRepoPG(pool),
			access: hipaa.NewPGAccessLog(pool),
			health: pool,
			driver: "postgres",
		}, nil
	}

	sqlDB, err := db.OpenSQLite(ctx, cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	cl.add(func() { sqlDB.Close() })

	repo, err := eligibility.NewSearchRepoSQLite(ctx, sqlDB)
	if err != nil {
		return nil, err
	}
	access, err := hipaa.NewSQLiteAccessLog(ctx, sqlDB)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("path", cfg.SQLitePath).Msg("using sqlite")
	return &searchStore{repo: repo, access: access, health: db.SQLPinger{DB: sqlDB}, driver: "sqlite"}, nil
}

// openBlobStore wraps the configured backend in an EncryptedStore when
// BLOB_ENCRYPTION_KEY is set.
func openBlobStore(ctx context.Context, cfg *config.Config) (blobstore.Store, error) {
	var store blobstore.Store
	var err error
	switch cfg.BlobStore {
	case "memory":
		store = blobstore.NewMemoryStore()
	case "s3":
		store, err = blobstore.NewS3StoreFromEnv(ctx, cfg.S3Bucket, cfg.AWSRegion)
	default:
		store, err = blobstore.NewFileStore(cfg.BlobDir)
	}
	if err != nil {
		return nil, err
	}

	enc, err := hipaa.NewPHIEncryptorFromHex(cfg.BlobKey)
	if err != nil {
		return nil, fmt.Errorf("BLOB_ENCRYPTION_KEY: %w", err)
	}
	if enc == nil {
		return store, nil
	}
	return blobstore.NewEncryptedStore(store, enc), nil
}
