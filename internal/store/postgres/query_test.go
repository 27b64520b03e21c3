package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

func TestWithListOpts(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	until := since.Add(time.Hour)

	tests := []struct {
		name      string
		base      string
		args      []any
		opts      domain.ListOpts
		wantQuery string
		wantArgs  int
	}{
		{
			name:      "no options",
			base:      "SELECT 1 FROM t WHERE 1=1",
			wantQuery: "SELECT 1 FROM t WHERE 1=1 ORDER BY at DESC",
		},
		{
			name:      "all options after a bound arg",
			base:      "SELECT 1 FROM t WHERE asset = $1",
			args:      []any{"0xabc"},
			opts:      domain.ListOpts{Limit: 10, Offset: 20, Since: &since, Until: &until},
			wantQuery: "SELECT 1 FROM t WHERE asset = $1 AND at >= $2 AND at <= $3 ORDER BY at DESC LIMIT $4 OFFSET $5",
			wantArgs:  5,
		},
		{
			name:      "limit only",
			base:      "SELECT 1 FROM t WHERE 1=1",
			opts:      domain.ListOpts{Limit: 5},
			wantQuery: "SELECT 1 FROM t WHERE 1=1 ORDER BY at DESC LIMIT $1",
			wantArgs:  1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, args := withListOpts(tt.base, tt.args, tt.opts, "at", "at DESC")
			assert.Equal(t, tt.wantQuery, q)
			assert.Len(t, args, tt.wantArgs)
		})
	}
}

func TestParseAmount(t *testing.T) {
	v, err := parseAmount("115792089237316195423570985008687907853269984665640564039457584007913129639935")
	require.NoError(t, err)
	assert.Equal(t, "115792089237316195423570985008687907853269984665640564039457584007913129639935", dec(v))

	_, err = parseAmount("-1")
	require.Error(t, err)
	assert.Equal(t, "0", dec(nil))
}

func TestMigrationFilesEmbedded(t *testing.T) {
	names, err := MigrationFiles()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "001_init.sql", names[0])
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/market?sslmode=disable", DSN(ClientConfig{
		Host: "db", Database: "market", User: "u", Password: "p",
	}))
	assert.Equal(t, "postgres://explicit", DSN(ClientConfig{DSN: "postgres://explicit", Host: "ignored"}))
}
