package store

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver for database/sql

	"github.com/uiprobe/uiprobe/pkg/models"
)

// PostgresConfig holds database connection settings.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// PostgresStore is the production RunStore and AuditStore. Step logs and
// goals are stored as JSONB alongside the relational run row.
type PostgresStore struct {
	db *stdsql.DB
}

var (
	_ RunStore   = (*PostgresStore)(nil)
	_ AuditStore = (*PostgresStore)(nil)
)

// DB exposes the underlying pool for health checks.
func (s *PostgresStore) DB() *stdsql.DB { return s.db }

// NewPostgresStore opens the pool, verifies connectivity, and applies any
// pending embedded migrations.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := stdsql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(db, cfg.Database); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error { return s.db.Close() }

func runMigrations(db *stdsql.DB, database string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, database, driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	// Close only the migration source. m.Close() would also close the
	// database driver, which closes the shared *sql.DB.
	if err := sourceDriver.Close(); err != nil {
		return fmt.Errorf("failed to close migration source: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveRun(ctx context.Context, run *models.TestRun) error {
	goals, err := json.Marshal(run.Goals)
	if err != nil {
		return fmt.Errorf("marshal goals: %w", err)
	}
	steps, err := json.Marshal(run.ExecutedSteps)
	if err != nil {
		return fmt.Errorf("marshal executed steps: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO test_runs (id, tenant_id, target_url, goals, persona, status,
			failure_reason, executed_steps, created_at, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			failure_reason = EXCLUDED.failure_reason,
			executed_steps = EXCLUDED.executed_steps,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at`,
		run.ID, run.TenantID, run.TargetURL, goals, nullable(run.Persona),
		string(run.Status), nullable(run.FailureReason), steps,
		run.CreatedAt, run.StartedAt, run.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, id string) (*models.TestRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, target_url, goals, persona, status,
			failure_reason, executed_steps, created_at, started_at, completed_at
		FROM test_runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if err == stdsql.ErrNoRows {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return run, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, tenantID string, limit int) ([]*models.TestRun, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, target_url, goals, persona, status,
			failure_reason, executed_steps, created_at, started_at, completed_at
		FROM test_runs
		WHERE ($1 = '' OR tenant_id = $1)
		ORDER BY created_at DESC
		LIMIT $2`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []*models.TestRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (s *PostgresStore) WriteAudit(ctx context.Context, entry *models.AuditEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_entries (id, user_id, client_ip, target_host, decision, reason,
			risk_score, user_agent, request_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ID, entry.UserID, entry.ClientIP, entry.TargetHost,
		entry.Decision, nullable(entry.Reason), entry.RiskScore,
		nullable(entry.UserAgent), nullable(entry.RequestID), entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*models.TestRun, error) {
	var (
		run           models.TestRun
		goals, steps  []byte
		persona       stdsql.NullString
		failureReason stdsql.NullString
		status        string
	)
	err := row.Scan(&run.ID, &run.TenantID, &run.TargetURL, &goals, &persona,
		&status, &failureReason, &steps, &run.CreatedAt, &run.StartedAt, &run.CompletedAt)
	if err != nil {
		return nil, err
	}
	run.Status = models.RunStatus(status)
	run.Persona = persona.String
	run.FailureReason = failureReason.String
	if len(goals) > 0 {
		if err := json.Unmarshal(goals, &run.Goals); err != nil {
			return nil, fmt.Errorf("unmarshal goals: %w", err)
		}
	}
	if len(steps) > 0 {
		if err := json.Unmarshal(steps, &run.ExecutedSteps); err != nil {
			return nil, fmt.Errorf("unmarshal executed steps: %w", err)
		}
	}
	return &run, nil
}

func nullable(s string) stdsql.NullString {
	return stdsql.NullString{String: s, Valid: s != ""}
}
