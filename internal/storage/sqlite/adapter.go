package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kurihiro0119/search-conflict-checker/internal/domain"
	apperrors "github.com/kurihiro0119/search-conflict-checker/internal/errors"
	"github.com/kurihiro0119/search-conflict-checker/internal/storage"
)

// sqliteStorage implements the Storage interface for SQLite
type sqliteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (storage.Storage, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	s := &sqliteStorage{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Migrate runs database migrations
func (s *sqliteStorage) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS reports (
		id TEXT PRIMARY KEY,
		keyword TEXT NOT NULL,
		critical INTEGER NOT NULL DEFAULT 0,
		warning INTEGER NOT NULL DEFAULT 0,
		info INTEGER NOT NULL DEFAULT 0,
		partial INTEGER NOT NULL DEFAULT 0,
		checked_at TIMESTAMP NOT NULL,
		data TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_reports_keyword ON reports(keyword COLLATE NOCASE);
	CREATE INDEX IF NOT EXISTS idx_reports_checked_at ON reports(checked_at);

	CREATE TABLE IF NOT EXISTS alerts (
		report_id TEXT NOT NULL REFERENCES reports(id) ON DELETE CASCADE,
		rank INTEGER NOT NULL,
		url TEXT NOT NULL,
		tier TEXT NOT NULL,
		window_days INTEGER NOT NULL,
		impressions INTEGER NOT NULL,
		clicks INTEGER NOT NULL,
		position REAL NOT NULL,
		PRIMARY KEY (report_id, rank)
	);

	CREATE INDEX IF NOT EXISTS idx_alerts_url ON alerts(url);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// SaveReport saves a report and its alerts in one transaction
func (s *sqliteStorage) SaveReport(ctx context.Context, report *domain.ConflictReport) error {
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

	if _, err := tx.ExecContext(ctx, `DELETE FROM alerts WHERE report_id = ?`, report.ID); err != nil {
		return err
	}

	summary := report.Summary()
	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO reports (id, keyword, critical, warning, info, partial, checked_at, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		summary.ID,
		summary.Keyword,
		summary.Critical,
		summary.Warning,
		summary.Info,
		summary.Partial,
		summary.CheckedAt.UTC(),
		string(data),
	)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO alerts (report_id, rank, url, tier, window_days, impressions, clicks, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
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
func (s *sqliteStorage) GetReport(ctx context.Context, id string) (*domain.ConflictReport, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM reports WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("report %s", id))
	}
	if err != nil {
		return nil, err
	}

	var report domain.ConflictReport
	if err := json.Unmarshal([]byte(data), &report); err != nil {
		return nil, fmt.Errorf("failed to decode report %s: %w", id, err)
	}
	return &report, nil
}

// ListReports lists report summaries, newest first
func (s *sqliteStorage) ListReports(ctx context.Context, keyword string, limit int) ([]domain.ReportSummary, error) {
	query := `
		SELECT id, keyword, critical, warning, info, partial, checked_at
		FROM reports
	`
	var args []interface{}
	if keyword = strings.TrimSpace(keyword); keyword != "" {
		query += ` WHERE keyword = ? COLLATE NOCASE`
		args = append(args, keyword)
	}
	query += ` ORDER BY checked_at DESC, id LIMIT ?`
	args = append(args, storage.NormalizeLimit(limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
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
func (s *sqliteStorage) URLHistory(ctx context.Context, url string, limit int) ([]domain.URLHistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.keyword, a.tier, a.impressions, a.clicks, a.position, r.checked_at
		FROM alerts a
		JOIN reports r ON r.id = a.report_id
		WHERE a.url = ?
		ORDER BY r.checked_at DESC, r.id
		LIMIT ?
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
func (s *sqliteStorage) Close() error {
	return s.db.Close()
}
