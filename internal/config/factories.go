package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"blockserver/internal/auth"
	"blockserver/internal/cache"
	"blockserver/internal/database"
	"blockserver/internal/dbpool"
	"blockserver/internal/quota"
	"blockserver/internal/transfer"

	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverPgx    = "pgx"
	DriverSQLite = "sqlite3"
)

// ParseDSN returns the driver and the driver specific data source of dsn.
// postgres:// and postgresql:// URLs go to pgx unchanged, sqlite3://<path>
// opens the file at path.
func ParseDSN(dsn string) (driver string, source string, err error) {
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return "", "", fmt.Errorf("missing scheme in %q", dsn)
	}

	switch scheme {
	case "postgres", "postgresql":
		return DriverPgx, dsn, nil
	case "sqlite3":
		if rest == "" {
			return "", "", errors.New("sqlite3 DSN needs a path")
		}
		return DriverSQLite, rest, nil
	default:
		return "", "", fmt.Errorf("unsupported scheme %q", scheme)
	}
}

type migratable interface {
	dbpool.Pool
	DB() *sql.DB
}

// OpenPool opens the connection pool selected by PsqlDSN and applies the
// schema migrations.
func OpenPool(ctx context.Context, cfg *Config) (dbpool.Pool, error) {
	driver, source, err := ParseDSN(cfg.PsqlDSN)
	if err != nil {
		return nil, err
	}

	var pool migratable
	switch driver {
	case DriverPgx:
		pool, err = dbpool.OpenPgxPool(ctx, source, cfg.DBMaxConns)
		if err != nil {
			return nil, err
		}
	case DriverSQLite:
		db, err := sql.Open(DriverSQLite, source)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		pool = dbpool.NewSQLPool(db, cfg.DBMaxConns)
	}

	if err := database.Migrate(ctx, pool.DB()); err != nil {
		_ = pool.Close()
		return nil, err
	}

	return pool, nil
}

// NewCache returns the in-process cache when DummyCache is set, Redis
// otherwise.
func NewCache(ctx context.Context, cfg *Config) (cache.Cache, error) {
	if cfg.DummyCache {
		return cache.NewMemory(cfg.CacheSize, cfg.CacheTTL), nil
	}
	return cache.OpenRedis(ctx, cfg.RedisAddr(), cfg.RedisPassword, cfg.RedisDB, cfg.CacheTTL)
}

// NewAuthBackend returns the development backend when DummyAuth is set and
// the cached accounting server client otherwise.
func NewAuthBackend(cfg *Config, c cache.Cache) auth.Backend {
	if cfg.DummyAuth != "" {
		return auth.NewDummyBackend(cfg.DummyAuth)
	}
	return auth.NewCachedBackend(auth.NewAccountingBackend(cfg.AccountingHost, cfg.APISecret), c)
}

// NewTransferBackend returns the local filesystem backend when Dummy is set
// and S3 otherwise.
func NewTransferBackend(cfg *Config, c cache.Cache) (transfer.Backend, error) {
	if cfg.Dummy {
		return transfer.NewLocal(cfg.LocalStorage)
	}

	client, err := transfer.NewS3Client(transfer.S3Config{
		Endpoint:  cfg.S3Endpoint,
		Bucket:    cfg.S3Bucket,
		Region:    cfg.S3Region,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Secure:    cfg.S3Secure,
	})
	if err != nil {
		return nil, err
	}

	return transfer.NewS3(client, cfg.S3Bucket, c, cfg.TempDir), nil
}

// Policy is the quota policy configured by DownloadLimit.
func (c *Config) Policy() quota.DefaultPolicy {
	return quota.DefaultPolicy{DownloadLimit: c.DownloadLimit}
}
