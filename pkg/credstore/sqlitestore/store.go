// Package sqlitestore is a durable credstore.Store for long-lived clients
// such as the command-line tool, where there is no browser cookie jar.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/tourbook/pkg/credstore"
	"github.com/aussiebroadwan/tourbook/pkg/slogx"

	_ "modernc.org/sqlite"
)

type Store struct {
	db  *sql.DB
	dsn string
	now func() time.Time
}

var _ credstore.Store = (*Store)(nil)

// Open opens (creating if needed) the database at dsn and applies migrations.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// One writer at a time; sqlite serialises anyway and this avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, dsn: dsn, now: time.Now}
	if err := s.ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply credential store migrations: %w", err)
	}
	return s, nil
}

// FileDSN builds the DSN used for an on-disk database file.
func FileDSN(path string) string {
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
}

func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Get returns the credential unless it is missing or past its max-age.
// Expired rows are removed on read.
func (s *Store) Get(ctx context.Context, name string) (string, bool) {
	var (
		value     string
		expiresAt sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM credentials WHERE name = ?`, name,
	).Scan(&value, &expiresAt)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			slogx.FromContext(ctx).Warn("credential lookup failed", "name", name, "err", err)
		}
		return "", false
	}

	if expiresAt.Valid && s.now().UnixMilli() >= expiresAt.Int64 {
		if err := s.Delete(ctx, name); err != nil {
			slogx.FromContext(ctx).Warn("expired credential cleanup failed", "name", name, "err", err)
		}
		return "", false
	}

	return value, true
}

func (s *Store) Set(ctx context.Context, name, value string, attrs credstore.Attributes) error {
	now := s.now()

	var expiresAt sql.NullInt64
	if attrs.MaxAge > 0 {
		expiresAt = sql.NullInt64{Int64: now.Add(attrs.MaxAge).UnixMilli(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (name, value, secure, http_only, same_site, max_age_ms, path, expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			value      = excluded.value,
			secure     = excluded.secure,
			http_only  = excluded.http_only,
			same_site  = excluded.same_site,
			max_age_ms = excluded.max_age_ms,
			path       = excluded.path,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		name, value, attrs.Secure, attrs.HTTPOnly, string(attrs.SameSite),
		attrs.MaxAge.Milliseconds(), attrs.Path, expiresAt, now.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("store credential %q: %w", name, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE name = ?`, name); err != nil {
		return fmt.Errorf("delete credential %q: %w", name, err)
	}
	return nil
}

// Attributes returns the attributes a credential was last stored with.
func (s *Store) Attributes(ctx context.Context, name string) (credstore.Attributes, error) {
	var (
		attrs    credstore.Attributes
		sameSite string
		maxAgeMS int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT secure, http_only, same_site, max_age_ms, path FROM credentials WHERE name = ?`, name,
	).Scan(&attrs.Secure, &attrs.HTTPOnly, &sameSite, &maxAgeMS, &attrs.Path)
	if err != nil {
		return credstore.Attributes{}, err
	}
	attrs.SameSite = credstore.SameSite(sameSite)
	attrs.MaxAge = time.Duration(maxAgeMS) * time.Millisecond
	return attrs, nil
}

// PurgeExpired deletes every credential past its max-age and reports how many went.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM credentials WHERE expires_at IS NOT NULL AND expires_at <= ?`, s.now().UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("purge expired credentials: %w", err)
	}
	return res.RowsAffected()
}
