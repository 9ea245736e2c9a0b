package collector

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/search-conflict-checker/internal/domain"
	apperrors "github.com/kurihiro0119/search-conflict-checker/internal/errors"
)

func TestStubClientServesRows(t *testing.T) {
	stub := NewStubClient().
		SetRows("robot vacuum", 28, domain.NewWindowMetrics("https://example.com/a", 100, 2, 4.5))

	rows, err := stub.Query(context.Background(), "robot vacuum", 28)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 2.0, rows[0].CTR)

	rows, err = stub.Query(context.Background(), "robot vacuum", 7)
	require.NoError(t, err)
	assert.Empty(t, rows)

	assert.Equal(t, 1, stub.Calls("robot vacuum", 28))
	assert.Equal(t, 2, stub.TotalCalls())
}

func TestStubClientFailTimesThenSucceeds(t *testing.T) {
	stub := NewStubClient().
		SetRows("robot vacuum", 7, domain.NewWindowMetrics("https://example.com/a", 10, 0, 9)).
		FailTimes("robot vacuum", 7, apperrors.NewRateLimitedError("slow down", 0), 2)

	for i := 0; i < 2; i++ {
		_, err := stub.Query(context.Background(), "robot vacuum", 7)
		assert.True(t, apperrors.IsRateLimited(err))
	}

	rows, err := stub.Query(context.Background(), "robot vacuum", 7)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestStubClientDelayHonoursContext(t *testing.T) {
	stub := NewStubClient().SetDelay("robot vacuum", 28, time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := stub.Query(ctx, "robot vacuum", 28)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLoadFixture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixture.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"responses": [
			{"query": "robot vacuum", "window_days": 28, "rows": [
				{"url": "https://example.com/a", "impressions": 820, "clicks": 15, "position": 3.2}
			]},
			{"query": "robot vacuum", "window_days": 7, "error": "unauthorized"}
		]
	}`), 0o600))

	stub, err := LoadFixture(path)
	require.NoError(t, err)

	rows, err := stub.Query(context.Background(), "robot vacuum", 28)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1.83, rows[0].CTR)

	_, err = stub.Query(context.Background(), "robot vacuum", 7)
	assert.True(t, apperrors.IsUnauthorized(err))
}

func TestLoadFixtureMissingFile(t *testing.T) {
	_, err := LoadFixture(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
