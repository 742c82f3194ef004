package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"updatehub/internal/models"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS releases (
	id               TEXT PRIMARY KEY,
	version          TEXT NOT NULL UNIQUE,
	channel          TEXT NOT NULL,
	file_name        TEXT NOT NULL,
	file_size        INTEGER NOT NULL,
	checksum         TEXT NOT NULL,
	checksum_type    TEXT NOT NULL,
	artifact_ref     TEXT NOT NULL,
	release_notes    TEXT NOT NULL DEFAULT '',
	minimum_version  TEXT NOT NULL DEFAULT '',
	mandatory        INTEGER NOT NULL DEFAULT 0,
	active           INTEGER NOT NULL DEFAULT 1,
	release_date     TIMESTAMP NOT NULL,
	created_by       TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMP NOT NULL,
	updated_at       TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_releases_channel_active
	ON releases (channel, active, release_date DESC, id DESC);

CREATE TABLE IF NOT EXISTS download_attempts (
	id                TEXT PRIMARY KEY,
	version           TEXT NOT NULL REFERENCES releases (version),
	client_key        TEXT NOT NULL,
	client_ip         TEXT NOT NULL,
	status            TEXT NOT NULL,
	bytes_transferred INTEGER NOT NULL DEFAULT 0,
	resumed_from      INTEGER,
	started_at        TIMESTAMP NOT NULL,
	completed_at      TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_attempts_version ON download_attempts (version);
CREATE INDEX IF NOT EXISTS idx_attempts_status ON download_attempts (status, started_at);
`

// SQLiteStorage implements the Storage interface on an embedded SQLite
// database. The schema is applied on open; the UNIQUE constraint on
// releases.version makes publish-time uniqueness a database guarantee rather
// than a read-then-write check.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage creates a new SQLite storage instance.
func NewSQLiteStorage(config Config) (*SQLiteStorage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for SQLite storage")
	}

	db, err := sql.Open("sqlite", config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// modernc sqlite serializes writes internally; a single connection avoids
	// SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) CreateRelease(ctx context.Context, release *models.Release) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO releases (
			id, version, channel, file_name, file_size, checksum, checksum_type,
			artifact_ref, release_notes, minimum_version, mandatory, active,
			release_date, created_by, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		release.ID, release.Version, release.Channel, release.FileName,
		release.FileSize, release.Checksum, release.ChecksumType,
		release.ArtifactRef, release.ReleaseNotes, release.MinimumVersion,
		boolToInt(release.Mandatory), boolToInt(release.Active),
		release.ReleaseDate, release.CreatedBy, release.CreatedAt, release.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateVersion
		}
		return fmt.Errorf("failed to insert release: %w", err)
	}
	return nil
}

const releaseColumns = `id, version, channel, file_name, file_size, checksum,
	checksum_type, artifact_ref, release_notes, minimum_version, mandatory,
	active, release_date, created_by, created_at, updated_at`

func (s *SQLiteStorage) GetRelease(ctx context.Context, version string) (*models.Release, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+releaseColumns+` FROM releases WHERE version = ?`, version)
	release, err := scanRelease(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get release: %w", err)
	}
	return release, nil
}

func (s *SQLiteStorage) LatestActiveRelease(ctx context.Context, channel string) (*models.Release, error) {
	// Explicitly size-bounded: ordered and limited to one row, so the query
	// stays deterministic even if historical duplicates exist.
	row := s.db.QueryRowContext(ctx,
		`SELECT `+releaseColumns+` FROM releases
		 WHERE channel = ? AND active = 1
		 ORDER BY release_date DESC, id DESC
		 LIMIT 1`, channel)
	release, err := scanRelease(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoActiveRelease
		}
		return nil, fmt.Errorf("failed to get latest release: %w", err)
	}
	return release, nil
}

func (s *SQLiteStorage) SetReleaseActive(ctx context.Context, version string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE releases SET active = ?, updated_at = ? WHERE version = ?`,
		boolToInt(active), time.Now().UTC(), version)
	if err != nil {
		return fmt.Errorf("failed to update release: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStorage) ListReleases(ctx context.Context, filter models.ReleaseFilter) ([]*models.Release, int, error) {
	where, args := buildReleaseFilter(filter)

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM releases`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count releases: %w", err)
	}

	query := `SELECT ` + releaseColumns + ` FROM releases` + where +
		` ORDER BY release_date DESC, id DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", filter.Limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list releases: %w", err)
	}
	defer rows.Close()

	var releases []*models.Release
	for rows.Next() {
		release, err := scanRelease(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan release: %w", err)
		}
		releases = append(releases, release)
	}
	return releases, total, rows.Err()
}

func (s *SQLiteStorage) DeleteRelease(ctx context.Context, version string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var active int
	err = tx.QueryRowContext(ctx,
		`SELECT active FROM releases WHERE version = ?`, version).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check release: %w", err)
	}
	if active == 1 {
		return ErrReleaseActive
	}

	// Children first, then the parent.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM download_attempts WHERE version = ?`, version); err != nil {
		return fmt.Errorf("failed to delete download attempts: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM releases WHERE version = ?`, version); err != nil {
		return fmt.Errorf("failed to delete release: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStorage) CreateDownloadAttempt(ctx context.Context, attempt *models.DownloadAttempt) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO download_attempts (
			id, version, client_key, client_ip, status, bytes_transferred,
			resumed_from, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		attempt.ID, attempt.Version, attempt.ClientKey, attempt.ClientIP,
		attempt.Status, attempt.BytesTransferred, attempt.ResumedFrom,
		attempt.StartedAt, attempt.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert download attempt: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) UpdateDownloadAttempt(ctx context.Context, attempt *models.DownloadAttempt) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE download_attempts
		SET status = ?, bytes_transferred = ?, completed_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		attempt.Status, attempt.BytesTransferred, attempt.CompletedAt,
		attempt.ID, models.DownloadStatusStarted, models.DownloadStatusInProgress,
	)
	if err != nil {
		return fmt.Errorf("failed to update download attempt: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		var exists int
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM download_attempts WHERE id = ?`,
			attempt.ID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check download attempt: %w", err)
		}
		if exists == 0 {
			return ErrNotFound
		}
		return ErrAttemptFinalized
	}
	return nil
}

func (s *SQLiteStorage) StaleDownloadAttempts(ctx context.Context, cutoff time.Time) ([]*models.DownloadAttempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, version, client_key, client_ip, status, bytes_transferred,
			resumed_from, started_at, completed_at
		FROM download_attempts
		WHERE status IN (?, ?) AND started_at < ?`,
		models.DownloadStatusStarted, models.DownloadStatusInProgress, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*models.DownloadAttempt
	for rows.Next() {
		attempt, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan download attempt: %w", err)
		}
		attempts = append(attempts, attempt)
	}
	return attempts, rows.Err()
}

func (s *SQLiteStorage) ReleaseStats(ctx context.Context) ([]*models.ReleaseStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.version,
			COALESCE(r.channel, ''),
			COUNT(*),
			SUM(CASE WHEN a.status = ? THEN 1 ELSE 0 END),
			SUM(CASE WHEN a.status = ? THEN 1 ELSE 0 END),
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

func (s *SQLiteStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// scanner abstracts *sql.Row and *sql.Rows for shared scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

func scanRelease(row scanner) (*models.Release, error) {
	r := &models.Release{}
	var mandatory, active int
	err := row.Scan(&r.ID, &r.Version, &r.Channel, &r.FileName, &r.FileSize,
		&r.Checksum, &r.ChecksumType, &r.ArtifactRef, &r.ReleaseNotes,
		&r.MinimumVersion, &mandatory, &active, &r.ReleaseDate, &r.CreatedBy,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Mandatory = mandatory == 1
	r.Active = active == 1
	return r, nil
}

func scanAttempt(row scanner) (*models.DownloadAttempt, error) {
	a := &models.DownloadAttempt{}
	var resumedFrom sql.NullInt64
	var completedAt sql.NullTime
	err := row.Scan(&a.ID, &a.Version, &a.ClientKey, &a.ClientIP, &a.Status,
		&a.BytesTransferred, &resumedFrom, &a.StartedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	if resumedFrom.Valid {
		a.ResumedFrom = &resumedFrom.Int64
	}
	if completedAt.Valid {
		a.CompletedAt = &completedAt.Time
	}
	return a, nil
}

func buildReleaseFilter(filter models.ReleaseFilter) (string, []any) {
	var conds []string
	var args []any
	if filter.Channel != "" {
		conds = append(conds, "channel = ?")
		args = append(args, filter.Channel)
	}
	if filter.Active != nil {
		conds = append(conds, "active = ?")
		args = append(args, boolToInt(*filter.Active))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
