package candle

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/wisarmy/exbot/internal/logger"
)

// Fetcher pulls recent candles from the exchange.
type Fetcher interface {
	FetchCandles(ctx context.Context, symbol, timeframe string, count int) ([]Candle, error)
}

// Store keeps one JSON file per (exchange, symbol, timeframe) on disk and
// tops it up with freshly fetched candles on every call. Fetched candles
// overwrite cached ones with the same or later timestamps, so the still
// forming candle and the one before it get corrected on refresh.
type Store struct {
	dir      string
	exchange string
	fetcher  Fetcher
	log      *zap.Logger
}

func NewStore(dir, exchange string, fetcher Fetcher) *Store {
	return &Store{
		dir:      dir,
		exchange: exchange,
		fetcher:  fetcher,
		log:      logger.Module("candle"),
	}
}

func (s *Store) path(symbol, timeframe string) string {
	name := fmt.Sprintf("%s_%s.json", strings.ReplaceAll(symbol, "/", "_"), timeframe)
	return filepath.Join(s.dir, s.exchange, name)
}

// Recent returns the latest count candles, merging the disk cache with a
// fresh fetch from the exchange.
func (s *Store) Recent(ctx context.Context, symbol, timeframe string, count int) ([]Candle, error) {
	cached := s.load(symbol, timeframe)

	fetched, err := s.fetcher.FetchCandles(ctx, symbol, timeframe, count)
	if err != nil {
		return nil, fmt.Errorf("fetch candles: %w", err)
	}
	if len(fetched) == 0 {
		return nil, fmt.Errorf("no candles returned for %s %s", symbol, timeframe)
	}

	merged := merge(cached, fetched)
	if err := s.save(symbol, timeframe, merged); err != nil {
		s.log.Warn("persist candle cache failed", zap.Error(err))
	}

	if len(merged) > count {
		merged = merged[len(merged)-count:]
	}
	return merged, nil
}

// merge keeps cached candles strictly older than the fetched window and
// appends the fetched window after them.
func merge(cached, fetched []Candle) []Candle {
	first := fetched[0].Timestamp
	var merged []Candle
	for _, c := range cached {
		if c.Timestamp.Before(first) {
			merged = append(merged, c)
		}
	}
	merged = append(merged, fetched...)
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})
	return merged
}

func (s *Store) load(symbol, timeframe string) []Candle {
	data, err := os.ReadFile(s.path(symbol, timeframe))
	if err != nil {
		return nil
	}
	var candles []Candle
	if err := json.Unmarshal(data, &candles); err != nil {
		s.log.Warn("corrupt candle cache, refetching", zap.String("path", s.path(symbol, timeframe)), zap.Error(err))
		return nil
	}
	return candles
}

// save persists only settled candles; the still forming one gets rewritten
// on every refresh anyway.
func (s *Store) save(symbol, timeframe string, candles []Candle) error {
	settled := make([]Candle, 0, len(candles))
	for _, c := range candles {
		if c.IsComplete() {
			settled = append(settled, c)
		}
	}
	path := s.path(symbol, timeframe)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.Marshal(settled)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
