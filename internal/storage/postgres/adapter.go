package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/kurihiro0119/search-conflict-checker/internal/domain"
	apperrors "github.com/kurihiro0119/search-conflict-checker/internal/errors"
	"github.com/kurihiro0119/search-conflict-checker/internal/storage"
)

// postgresStorage implements the Storage interface for PostgreSQL
type postgresStorage struct {
	db *sql.DB
}

// NewPostgresStorage creates a new PostgreSQL storage instance
func NewPostgresStorage(connStr string) (storage.Storage, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	s := &postgresStorage{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// NewPostgresStorageWithDB wraps an existing connection pool without migrating it
func NewPostgresStorageWithDB(db *sql.DB) storage.Storage {
	return &postgresStorage{db: db}
}

// Migrate runs database migrations
func (s *postgresStorage) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS reports (
		id VARCHAR(36) PRIMARY KEY,
		keyword TEXT NOT NULL,
		critical INTEGER NOT NULL DEFAULT 0,
		warning INTEGER NOT NULL DEFAULT 0,
		info INTEGER NOT NULL DEFAULT 0,
		partial BOOLEAN NOT NULL DEFAULT FALSE,
		checked_at TIMESTAMPTZ NOT NULL,
		data JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_reports_keyword ON reports(LOWER(keyword));
	CREATE INDEX IF NOT EXISTS idx_reports_checked_at ON reports(checked_at DESC);

	CREATE TABLE IF NOT EXISTS alerts (
		report_id VARCHAR(36) NOT NULL REFERENCES reports(id) ON DELETE CASCADE,
		rank INTEGER NOT NULL,
		url TEXT NOT NULL,
		tier VARCHAR(16) NOT NULL,
		window_days INTEGER NOT NULL,
		impressions BIGINT NOT NULL,
		clicks BIGINT NOT NULL,
		position DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (report_id, rank)
	);

	CREATE INDEX IF NOT EXISTS idx_alerts_url ON alerts(url);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// SaveReport saves a report and its alerts in one transaction
func (s *postgresStorage) SaveReport(ctx context.Context, report *domain.ConflictReport) error {
	if report == nil || report.ID == "" {
		return apperrors.NewInvalidInputError("report id is required")
	}

	data, err := json.Marshal(report)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	summary := report.Summary()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO reports (id, keyword, critical, warning, info, partial, checked_at, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			keyword = EXCLUDED.keyword,
			critical = EXCLUDED.critical,
			warning = EXCLUDED.warning,
			info = EXCLUDED.info,
			partial = EXCLUDED.partial,
			checked_at = EXCLUDED.checked_at,
			data = EXCLUDED.data
	`,
		summary.ID,
		summary.Keyword,
		summary.Critical,
		summary.Warning,
		summary.Info,
		summary.Partial,
		summary.CheckedAt,
		string(data),
	)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM alerts WHERE report_id = $1`, report.ID); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO alerts (report_id, rank, url, tier, window_days, impressions, clicks, position)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, alert := range report.Alerts {
		_, err := stmt.ExecContext(ctx,
			report.ID,
			i,
			alert.URL,
			string(alert.Tier),
			alert.WindowDays,
			alert.Metrics.Impressions,
			alert.Metrics.Clicks,
			alert.Metrics.Position,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetReport retrieves a stored report by ID
func (s *postgresStorage) GetReport(ctx context.Context, id string) (*domain.ConflictReport, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM reports WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("report %s", id))
	}
	if err != nil {
		return nil, err
	}

	var report domain.ConflictReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to decode report %s: %w", id, err)
	}
	return &report, nil
}

// ListReports lists report summaries, newest first
func (s *postgresStorage) ListReports(ctx context.Context, keyword string, limit int) ([]domain.ReportSummary, error) {
	var rows *sql.Rows
	var err error

	if keyword = strings.TrimSpace(keyword); keyword != "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, keyword, critical, warning, info, partial, checked_at
			FROM reports
			WHERE LOWER(keyword) = LOWER($1)
			ORDER BY checked_at DESC, id
			LIMIT $2
		`, keyword, storage.NormalizeLimit(limit))
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, keyword, critical, warning, info, partial, checked_at
			FROM reports
			ORDER BY checked_at DESC, id
			LIMIT $1
		`, storage.NormalizeLimit(limit))
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []domain.ReportSummary
	for rows.Next() {
		var sum domain.ReportSummary
		var checkedAt time.Time
		if err := rows.Scan(&sum.ID, &sum.Keyword, &sum.Critical, &sum.Warning, &sum.Info, &sum.Partial, &checkedAt); err != nil {
			return nil, err
		}
		sum.CheckedAt = checkedAt.UTC()
		summaries = append(summaries, sum)
	}

	return summaries, rows.Err()
}

// URLHistory lists the alerts raised for a URL, newest first
func (s *postgresStorage) URLHistory(ctx context.Context, url string, limit int) ([]domain.URLHistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.keyword, a.tier, a.impressions, a.clicks, a.position, r.checked_at
		FROM alerts a
		JOIN reports r ON r.id = a.report_id
		WHERE a.url = $1
		ORDER BY r.checked_at DESC, r.id
		LIMIT $2
	`, url, storage.NormalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.URLHistoryEntry
	for rows.Next() {
		var e domain.URLHistoryEntry
		var tier string
		var checkedAt time.Time
		if err := rows.Scan(&e.ReportID, &e.Keyword, &tier, &e.Impressions, &e.Clicks, &e.Position, &checkedAt); err != nil {
			return nil, err
		}
		e.Tier = domain.Tier(tier)
		e.CheckedAt = checkedAt.UTC()
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// Close closes the database connection
func (s *postgresStorage) Close() error {
	return s.db.Close()
}
