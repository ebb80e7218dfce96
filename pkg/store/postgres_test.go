package store

import (
	"context"
	"net/url"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/uiprobe/uiprobe/pkg/models"
)

// newTestStore connects to PostgreSQL with CI/local environment detection.
// In CI (when CI_DATABASE_URL is set): connects to an external service container.
// In local dev: spins up a testcontainer.
func newTestStore(t *testing.T) *PostgresStore {
	if testing.Short() {
		t.Skip("skipping database integration test in short mode")
	}
	ctx := context.Background()

	connStr := os.Getenv("CI_DATABASE_URL")
	if connStr == "" {
		t.Log("Using testcontainers for PostgreSQL")
		pgContainer, err := postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("uiprobe_test"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		require.NoError(t, err)

		t.Cleanup(func() {
			if err := testcontainers.TerminateContainer(pgContainer); err != nil {
				t.Logf("failed to terminate container: %v", err)
			}
		})

		connStr, err = pgContainer.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err)
	} else {
		t.Log("Using external PostgreSQL from CI_DATABASE_URL")
	}

	s, err := NewPostgresStore(ctx, configFromURL(t, connStr))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func configFromURL(t *testing.T, raw string) PostgresConfig {
	u, err := url.Parse(raw)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	password, _ := u.User.Password()
	return PostgresConfig{
		Host:         u.Hostname(),
		Port:         port,
		User:         u.User.Username(),
		Password:     password,
		Database:     strings.TrimPrefix(u.Path, "/"),
		SSLMode:      "disable",
		MaxOpenConns: 10,
		MaxIdleConns: 5,
	}
}

func TestPostgresStore_RunRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	started := time.Now().UTC().Truncate(time.Microsecond)
	run := &models.TestRun{
		ID:        uuid.NewString(),
		TenantID:  "t1",
		TargetURL: "https://shop.example.com",
		Goals:     []string{"verify checkout", "measure page weight"},
		Persona:   "returning customer",
		Status:    models.RunStatusRunning,
		CreatedAt: started,
		StartedAt: &started,
		ExecutedSteps: []models.ExecutedStep{
			{
				Step:         models.ActionStep{ID: "s1", Action: models.ActionClick, Target: "add to cart"},
				SelectorUsed: "#add-to-cart",
				Disposition:  models.StepSuccess,
			},
		},
	}
	require.NoError(t, s.SaveRun(ctx, run))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.TenantID, got.TenantID)
	assert.Equal(t, run.Goals, got.Goals)
	assert.Equal(t, "returning customer", got.Persona)
	require.Len(t, got.ExecutedSteps, 1)
	assert.Equal(t, "#add-to-cart", got.ExecutedSteps[0].SelectorUsed)
	require.NotNil(t, got.StartedAt)
	assert.Nil(t, got.CompletedAt)

	// Terminal update goes through the upsert path.
	run.Fail(models.FailureTimeout, "budget exhausted")
	require.NoError(t, s.SaveRun(ctx, run))

	got, err = s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, got.Status)
	assert.Contains(t, got.FailureReason, "Timeout")
	require.NotNil(t, got.CompletedAt)
}

func TestPostgresStore_GetMissingRun(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetRun(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestPostgresStore_ListRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	save := func(tenant string, age time.Duration) string {
		id := uuid.NewString()
		require.NoError(t, s.SaveRun(ctx, &models.TestRun{
			ID:        id,
			TenantID:  tenant,
			TargetURL: "https://shop.example.com",
			Goals:     []string{"g"},
			Status:    models.RunStatusPending,
			CreatedAt: base.Add(-age),
		}))
		return id
	}
	newest := save("t1", 0)
	oldest := save("t1", 2*time.Hour)
	save("t2", time.Hour)

	runs, err := s.ListRuns(ctx, "t1", 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, newest, runs[0].ID)
	assert.Equal(t, oldest, runs[1].ID)

	runs, err = s.ListRuns(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, newest, runs[0].ID)
}

func TestPostgresStore_WriteAudit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	entry := &models.AuditEntry{
		ID:         uuid.NewString(),
		UserID:     "t1",
		ClientIP:   "10.0.0.9",
		TargetHost: "shop.example.com",
		Decision:   models.AuditRejected,
		Reason:     "rate limit",
		RiskScore:  40,
		UserAgent:  "curl/8.4",
		RequestID:  "req-42",
		Timestamp:  time.Now().UTC(),
	}
	require.NoError(t, s.WriteAudit(ctx, entry))

	var (
		count     int
		riskScore int
		requestID string
	)
	err := s.DB().QueryRowContext(ctx,
		"SELECT COUNT(*), MAX(risk_score), MAX(request_id) FROM audit_entries WHERE id = $1",
		entry.ID).Scan(&count, &riskScore, &requestID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, 40, riskScore)
	assert.Equal(t, "req-42", requestID)
}
