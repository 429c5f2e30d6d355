// Package database holds the user accounting schema and the queries the
// request handlers run against it. Queries use numbered placeholders, each
// referenced once and in order, so the same SQL runs on PostgreSQL and SQLite.
package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"io/fs"
	"log/slog"

	"github.com/google/uuid"
	"github.com/zeebo/errs"
)

var (
	//go:embed migrations
	migrationsFS embed.FS

	// Error is the error class for database failures.
	Error = errs.Class("database")
)

// Querier is the subset of database/sql shared by *sql.DB, *sql.Conn and
// *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Migrate applies all SQL files in the embedded migrations in
// lexicographical order. Every migration is idempotent.
func Migrate(ctx context.Context, db Querier) error {
	return fs.WalkDir(migrationsFS, "migrations", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		content, readError := migrationsFS.ReadFile(path)
		if readError != nil {
			return Error.New("error reading SQL file: %v", readError)
		}

		slog.Debug("Running migration", "path", path)
		if _, execError := db.ExecContext(ctx, string(content)); execError != nil {
			return Error.New("migration %s: %v", path, execError)
		}
		return nil
	})
}

// UserDatabase answers ownership, quota and traffic questions for one
// request. It does not own the underlying connection.
type UserDatabase struct {
	db           Querier
	defaultQuota int64
}

// New wraps db. Users are created with defaultQuota bytes of storage.
func New(db Querier, defaultQuota int64) *UserDatabase {
	return &UserDatabase{
		db:           db,
		defaultQuota: defaultQuota,
	}
}

// HasPrefix reports whether userID owns prefix.
func (d *UserDatabase) HasPrefix(ctx context.Context, userID string, prefix string) (bool, error) {
	var count int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM prefixes WHERE user_id = $1 AND name = $2`,
		userID, prefix,
	).Scan(&count)
	if err != nil {
		return false, Error.Wrap(err)
	}
	return count > 0, nil
}

// TrafficByPrefix returns the cumulative download traffic of the user owning
// prefix. Unknown prefixes have no traffic.
func (d *UserDatabase) TrafficByPrefix(ctx context.Context, prefix string) (int64, error) {
	var traffic int64
	err := d.db.QueryRowContext(ctx,
		`SELECT u.download_traffic FROM users u JOIN prefixes p ON p.user_id = u.user_id WHERE p.name = $1`,
		prefix,
	).Scan(&traffic)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, Error.Wrap(err)
	}
	return traffic, nil
}

// QuotaReached reports whether storing additional bytes would push userID
// past its quota.
func (d *UserDatabase) QuotaReached(ctx context.Context, userID string, additional int64) (bool, error) {
	quota, size, err := d.Size(ctx, userID)
	if err != nil {
		return false, err
	}
	return size+additional > quota, nil
}

// UpdateTraffic adds n bytes to the download traffic of the user owning
// prefix.
func (d *UserDatabase) UpdateTraffic(ctx context.Context, prefix string, n int64) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE users SET download_traffic = download_traffic + $1
		 WHERE user_id = (SELECT user_id FROM prefixes WHERE name = $2)`,
		n, prefix,
	)
	return Error.Wrap(err)
}

// UpdateSize adds delta bytes, which may be negative, to the stored size of
// the user owning prefix.
func (d *UserDatabase) UpdateSize(ctx context.Context, prefix string, delta int64) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE users SET size = size + $1
		 WHERE user_id = (SELECT user_id FROM prefixes WHERE name = $2)`,
		delta, prefix,
	)
	return Error.Wrap(err)
}

// Prefixes lists the prefixes owned by userID in name order. The result is
// never nil.
func (d *UserDatabase) Prefixes(ctx context.Context, userID string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT name FROM prefixes WHERE user_id = $1 ORDER BY name`,
		userID,
	)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer rows.Close()

	prefixes := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, Error.Wrap(err)
		}
		prefixes = append(prefixes, name)
	}
	if err := rows.Err(); err != nil {
		return nil, Error.Wrap(err)
	}
	return prefixes, nil
}

// CreatePrefix creates a fresh prefix owned by userID, creating the user with
// the default quota if it does not exist yet.
func (d *UserDatabase) CreatePrefix(ctx context.Context, userID string) (string, error) {
	if err := d.ensureUser(ctx, userID); err != nil {
		return "", err
	}

	prefix := uuid.NewString()
	if _, err := d.db.ExecContext(ctx,
		`INSERT INTO prefixes(name, user_id) VALUES($1, $2)`,
		prefix, userID,
	); err != nil {
		return "", Error.New("insert prefix: %v", err)
	}
	return prefix, nil
}

// Size returns the quota and the stored size of userID. Users that have not
// been created yet report the default quota and nothing stored.
func (d *UserDatabase) Size(ctx context.Context, userID string) (quota int64, size int64, err error) {
	err = d.db.QueryRowContext(ctx,
		`SELECT max_quota, size FROM users WHERE user_id = $1`,
		userID,
	).Scan(&quota, &size)
	if errors.Is(err, sql.ErrNoRows) {
		return d.defaultQuota, 0, nil
	}
	if err != nil {
		return 0, 0, Error.Wrap(err)
	}
	return quota, size, nil
}

func (d *UserDatabase) ensureUser(ctx context.Context, userID string) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO users(user_id, max_quota, size, download_traffic) VALUES($1, $2, 0, 0)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, d.defaultQuota,
	)
	if err != nil {
		return Error.New("ensure user %s: %v", userID, err)
	}
	return nil
}
