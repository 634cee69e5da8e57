package postgres

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/escrowbot/internal/domain"
)

func TestDSN(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "postgres://u:p@db:5432/escrow?sslmode=disable",
		DSN(ClientConfig{Host: "db", Database: "escrow", User: "u", Password: "p"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
}

func TestMigrationFilesOrdered(t *testing.T) {
	t.Parallel()

	names, err := migrationFiles()
	require.NoError(t, err)
	assert.Equal(t, []string{"001_audit_log.sql", "002_archived_trades.sql"}, names)
}

func TestBuildAuditListQuery(t *testing.T) {
	t.Parallel()

	q, args := buildAuditListQuery(domain.ListOpts{})
	assert.NotContains(t, q, "$1")
	assert.Empty(t, args)
	assert.True(t, strings.HasSuffix(q, "ORDER BY created_at DESC, id DESC"))

	since := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	q, args = buildAuditListQuery(domain.ListOpts{Since: &since, Limit: 50, Offset: 100})
	assert.Contains(t, q, "created_at >= $1")
	assert.Contains(t, q, "LIMIT $2")
	assert.Contains(t, q, "OFFSET $3")
	assert.Equal(t, []any{since, 50, 100}, args)
}
