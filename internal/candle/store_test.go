package candle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFetcher struct {
	candles []Candle
	err     error
	calls   int
}

func (f *stubFetcher) FetchCandles(ctx context.Context, symbol, timeframe string, count int) ([]Candle, error) {
	f.calls++
	return f.candles, f.err
}

func makeCandles(start time.Time, closes ...float64) []Candle {
	out := make([]Candle, len(closes))
	for i, c := range closes {
		out[i] = Candle{
			Timestamp: start.Add(time.Duration(i) * time.Minute),
			Open:      c, High: c, Low: c, Close: c, Volume: 1,
			Symbol: "BTC/USDT:USDT", Timeframe: "1m",
		}
	}
	return out
}

func TestStoreRecentMergesCache(t *testing.T) {
	// Settled candles only: the base sits well in the past so every
	// candle is cacheable.
	base := time.Now().UTC().Truncate(time.Minute).Add(-time.Hour)
	fetcher := &stubFetcher{candles: makeCandles(base, 1, 2, 3)}
	store := NewStore(t.TempDir(), "bitget", fetcher)

	got, err := store.Recent(context.Background(), "BTC/USDT:USDT", "1m", 10)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	// Next fetch window starts one candle later with a corrected close for
	// the overlap; the cache contributes only the candle older than the
	// window.
	fetcher.candles = makeCandles(base.Add(time.Minute), 2.5, 3, 4)
	got, err = store.Recent(context.Background(), "BTC/USDT:USDT", "1m", 10)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, 1.0, got[0].Close)
	assert.Equal(t, 2.5, got[1].Close, "overlapping candle comes from the fresh fetch")
	assert.Equal(t, 4.0, got[3].Close)
	for i := 1; i < len(got); i++ {
		assert.True(t, got[i-1].Timestamp.Before(got[i].Timestamp))
	}
}

func TestStoreRecentTrimsToCount(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fetcher := &stubFetcher{candles: makeCandles(base, 1, 2, 3, 4, 5)}
	store := NewStore(t.TempDir(), "bitget", fetcher)

	got, err := store.Recent(context.Background(), "BTC/USDT:USDT", "1m", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 3.0, got[0].Close)
	assert.Equal(t, 5.0, got[2].Close)
}

func TestStoreRecentFetchError(t *testing.T) {
	fetcher := &stubFetcher{err: errors.New("boom")}
	store := NewStore(t.TempDir(), "bitget", fetcher)
	_, err := store.Recent(context.Background(), "BTC/USDT:USDT", "1m", 10)
	assert.Error(t, err)
}

func TestStoreSurvivesMissingCacheDir(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fetcher := &stubFetcher{candles: makeCandles(base, 1, 2)}
	store := NewStore(t.TempDir()+"/nested", "bitget", fetcher)

	got, err := store.Recent(context.Background(), "BTC/USDT:USDT", "1m", 10)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestStoreCachesOnlySettledCandles(t *testing.T) {
	settled := makeCandles(time.Now().UTC().Truncate(time.Minute).Add(-time.Hour), 1)
	forming := makeCandles(time.Now().UTC().Truncate(time.Minute), 2)
	fetcher := &stubFetcher{candles: append(settled, forming...)}
	store := NewStore(t.TempDir(), "bitget", fetcher)

	got, err := store.Recent(context.Background(), "BTC/USDT:USDT", "1m", 10)
	require.NoError(t, err)
	assert.Len(t, got, 2, "the forming candle is still served")

	cached := store.load("BTC/USDT:USDT", "1m")
	require.Len(t, cached, 1, "only the settled candle is persisted")
	assert.Equal(t, settled[0].Timestamp, cached[0].Timestamp)
}
