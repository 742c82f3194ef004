package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"updatehub/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS releases (
	id               TEXT PRIMARY KEY,
	version          TEXT NOT NULL UNIQUE,
	channel          TEXT NOT NULL,
	file_name        TEXT NOT NULL,
	file_size        BIGINT NOT NULL,
	checksum         TEXT NOT NULL,
	checksum_type    TEXT NOT NULL,
	artifact_ref     TEXT NOT NULL,
	release_notes    TEXT NOT NULL DEFAULT '',
	minimum_version  TEXT NOT NULL DEFAULT '',
	mandatory        BOOLEAN NOT NULL DEFAULT FALSE,
	active           BOOLEAN NOT NULL DEFAULT TRUE,
	release_date     TIMESTAMPTZ NOT NULL,
	created_by       TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_releases_channel_active
	ON releases (channel, active, release_date DESC, id DESC);

CREATE TABLE IF NOT EXISTS download_attempts (
	id                TEXT PRIMARY KEY,
	version           TEXT NOT NULL REFERENCES releases (version),
	client_key        TEXT NOT NULL,
	client_ip         TEXT NOT NULL,
	status            TEXT NOT NULL,
	bytes_transferred BIGINT NOT NULL DEFAULT 0,
	resumed_from      BIGINT,
	started_at        TIMESTAMPTZ NOT NULL,
	completed_at      TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_attempts_version ON download_attempts (version);
CREATE INDEX IF NOT EXISTS idx_attempts_status ON download_attempts (status, started_at);
`

// PostgresStorage implements the Storage interface backed by PostgreSQL.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage creates a new PostgreSQL storage instance.
func NewPostgresStorage(config Config) (*PostgresStorage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for PostgreSQL storage")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if config.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(config.MaxOpenConns)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &PostgresStorage{pool: pool}, nil
}

func (s *PostgresStorage) CreateRelease(ctx context.Context, release *models.Release) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO releases (
			id, version, channel, file_name, file_size, checksum, checksum_type,
			artifact_ref, release_notes, minimum_version, mandatory, active,
			release_date, created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		release.ID, release.Version, release.Channel, release.FileName,
		release.FileSize, release.Checksum, release.ChecksumType,
		release.ArtifactRef, release.ReleaseNotes, release.MinimumVersion,
		release.Mandatory, release.Active, release.ReleaseDate,
		release.CreatedBy, release.CreatedAt, release.UpdatedAt,
	)
	if err != nil {
		if isPgUniqueViolation(err) {
			return ErrDuplicateVersion
		}
		return fmt.Errorf("failed to insert release: %w", err)
	}
	return nil
}

func (s *PostgresStorage) GetRelease(ctx context.Context, version string) (*models.Release, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+releaseColumns+` FROM releases WHERE version = $1`, version)
	release, err := scanPgRelease(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get release: %w", err)
	}
	return release, nil
}

func (s *PostgresStorage) LatestActiveRelease(ctx context.Context, channel string) (*models.Release, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+releaseColumns+` FROM releases
		 WHERE channel = $1 AND active = TRUE
		 ORDER BY release_date DESC, id DESC
		 LIMIT 1`, channel)
	release, err := scanPgRelease(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoActiveRelease
		}
		return nil, fmt.Errorf("failed to get latest release: %w", err)
	}
	return release, nil
}

func (s *PostgresStorage) SetReleaseActive(ctx context.Context, version string, active bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE releases SET active = $1, updated_at = $2 WHERE version = $3`,
		active, time.Now().UTC(), version)
	if err != nil {
		return fmt.Errorf("failed to update release: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStorage) ListReleases(ctx context.Context, filter models.ReleaseFilter) ([]*models.Release, int, error) {
	where, args := buildPgReleaseFilter(filter)

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM releases`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count releases: %w", err)
	}

	query := `SELECT ` + releaseColumns + ` FROM releases` + where +
		` ORDER BY release_date DESC, id DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", filter.Limit, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list releases: %w", err)
	}
	defer rows.Close()

	var releases []*models.Release
	for rows.Next() {
		release, err := scanPgRelease(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan release: %w", err)
		}
		releases = append(releases, release)
	}
	return releases, total, rows.Err()
}

func (s *PostgresStorage) DeleteRelease(ctx context.Context, version string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var active bool
	err = tx.QueryRow(ctx,
		`SELECT active FROM releases WHERE version = $1`, version).Scan(&active)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check release: %w", err)
	}
	if active {
		return ErrReleaseActive
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM download_attempts WHERE version = $1`, version); err != nil {
		return fmt.Errorf("failed to delete download attempts: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM releases WHERE version = $1`, version); err != nil {
		return fmt.Errorf("failed to delete release: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStorage) CreateDownloadAttempt(ctx context.Context, attempt *models.DownloadAttempt) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO download_attempts (
			id, version, client_key, client_ip, status, bytes_transferred,
			resumed_from, started_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		attempt.ID, attempt.Version, attempt.ClientKey, attempt.ClientIP,
		attempt.Status, attempt.BytesTransferred, attempt.ResumedFrom,
		attempt.StartedAt, attempt.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert download attempt: %w", err)
	}
	return nil
}

func (s *PostgresStorage) UpdateDownloadAttempt(ctx context.Context, attempt *models.DownloadAttempt) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE download_attempts
		SET status = $1, bytes_transferred = $2, completed_at = $3
		WHERE id = $4 AND status IN ($5, $6)`,
		attempt.Status, attempt.BytesTransferred, attempt.CompletedAt,
		attempt.ID, models.DownloadStatusStarted, models.DownloadStatusInProgress,
	)
	if err != nil {
		return fmt.Errorf("failed to update download attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM download_attempts WHERE id = $1)`,
			attempt.ID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check download attempt: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrAttemptFinalized
	}
	return nil
}

func (s *PostgresStorage) StaleDownloadAttempts(ctx context.Context, cutoff time.Time) ([]*models.DownloadAttempt, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, version, client_key, client_ip, status, bytes_transferred,
			resumed_from, started_at, completed_at
		FROM download_attempts
		WHERE status IN ($1, $2) AND started_at < $3`,
		models.DownloadStatusStarted, models.DownloadStatusInProgress, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*models.DownloadAttempt
	for rows.Next() {
		a := &models.DownloadAttempt{}
		if err := rows.Scan(&a.ID, &a.Version, &a.ClientKey, &a.ClientIP,
			&a.Status, &a.BytesTransferred, &a.ResumedFrom, &a.StartedAt,
			&a.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan download attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

func (s *PostgresStorage) ReleaseStats(ctx context.Context) ([]*models.ReleaseStats, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT a.version,
			COALESCE(r.channel, ''),
			COUNT(*),
			SUM(CASE WHEN a.status = $1 THEN 1 ELSE 0 END),
			SUM(CASE WHEN a.status = $2 THEN 1 ELSE 0 END),
			COALESCE(SUM(a.bytes_transferred), 0)
		FROM download_attempts a
		LEFT JOIN releases r ON r.version = a.version
		GROUP BY a.version, r.channel
		ORDER BY a.version`,
		models.DownloadStatusCompleted, models.DownloadStatusFailed)
	if err != nil {
		return nil, fmt.Errorf("failed to query release stats: %w", err)
	}
	defer rows.Close()

	var stats []*models.ReleaseStats
	for rows.Next() {
		st := &models.ReleaseStats{}
		if err := rows.Scan(&st.Version, &st.Channel, &st.TotalAttempts,
			&st.CompletedCount, &st.FailedCount, &st.BytesTransferred); err != nil {
			return nil, fmt.Errorf("failed to scan release stats: %w", err)
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

func (s *PostgresStorage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStorage) Close() error {
	s.pool.Close()
	return nil
}

func scanPgRelease(row pgx.Row) (*models.Release, error) {
	r := &models.Release{}
	err := row.Scan(&r.ID, &r.Version, &r.Channel, &r.FileName, &r.FileSize,
		&r.Checksum, &r.ChecksumType, &r.ArtifactRef, &r.ReleaseNotes,
		&r.MinimumVersion, &r.Mandatory, &r.Active, &r.ReleaseDate,
		&r.CreatedBy, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func buildPgReleaseFilter(filter models.ReleaseFilter) (string, []any) {
	var conds []string
	var args []any
	if filter.Channel != "" {
		args = append(args, filter.Channel)
		conds = append(conds, fmt.Sprintf("channel = $%d", len(args)))
	}
	if filter.Active != nil {
		args = append(args, *filter.Active)
		conds = append(conds, fmt.Sprintf("active = $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
