package journal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisarmy/exbot/internal/exchange"
)

func TestAuditAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "position.csv")
	audit, err := NewAudit(path)
	require.NoError(t, err)
	defer audit.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	pos := exchange.Position{
		Symbol: "BTC/USDT:USDT",
		Long:   exchange.PositionSide{Quantity: 2, EntryPrice: 100.5, RealisedPnl: 1.2, UnrealisedPnl: -0.3},
	}
	require.NoError(t, audit.Append(now, "BTC/USDT:USDT", 101.1, pos))
	require.NoError(t, audit.Append(now.Add(10*time.Second), "BTC/USDT:USDT", 101.2, pos))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 2)

	fields := strings.Split(lines[0], ",")
	require.Len(t, fields, 12)
	assert.Equal(t, "2026-03-01 12:00:00", fields[0])
	assert.Equal(t, "BTC/USDT:USDT", fields[2])
	assert.Equal(t, "101.1", fields[3])
	// short leg is flat
	assert.Equal(t, "0", fields[4])
	// long leg
	assert.Equal(t, "2", fields[8])
	assert.Equal(t, "100.5", fields[9])
}

func TestAuditAppendOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "position.csv")
	audit, err := NewAudit(path)
	require.NoError(t, err)
	require.NoError(t, audit.Append(time.Now(), "X", 1, exchange.Position{}))
	require.NoError(t, audit.Close())

	// Reopening must keep existing rows.
	audit, err = NewAudit(path)
	require.NoError(t, err)
	require.NoError(t, audit.Append(time.Now(), "X", 2, exchange.Position{}))
	require.NoError(t, audit.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(raw)), "\n"), 2)
}
