package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/wisarmy/exbot/internal/exchange"
)

// Audit appends one position snapshot per tick to a headerless CSV for
// offline charting. Columns: date, epoch ms, symbol, price, then the
// short and long legs as qty, entry price, realised, upnl.
type Audit struct {
	mu   sync.Mutex
	file *os.File
}

func NewAudit(path string) (*Audit, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &Audit{file: f}, nil
}

func (a *Audit) Append(now time.Time, symbol string, price float64, pos exchange.Position) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	line := fmt.Sprintf("%s,%d,%s,%v,%v,%v,%v,%v,%v,%v,%v,%v\n",
		now.Format("2006-01-02 15:04:05"), now.UnixMilli(), symbol, price,
		pos.Short.Quantity, pos.Short.EntryPrice, pos.Short.RealisedPnl, pos.Short.UnrealisedPnl,
		pos.Long.Quantity, pos.Long.EntryPrice, pos.Long.RealisedPnl, pos.Long.UnrealisedPnl,
	)
	if _, err := a.file.WriteString(line); err != nil {
		return fmt.Errorf("append audit line: %w", err)
	}
	return nil
}

func (a *Audit) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.file.Close()
}
