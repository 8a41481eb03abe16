package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/wisarmy/exbot/internal/candle"
	"github.com/wisarmy/exbot/internal/config"
	"github.com/wisarmy/exbot/internal/engine"
	"github.com/wisarmy/exbot/internal/exchange"
	"github.com/wisarmy/exbot/internal/journal"
	"github.com/wisarmy/exbot/internal/logger"
	"github.com/wisarmy/exbot/internal/metrics"
	"github.com/wisarmy/exbot/internal/notifier"
	"github.com/wisarmy/exbot/internal/state"
	"github.com/wisarmy/exbot/internal/strategy"
)

func main() {
	// Secrets come from .env in development; missing file is fine.
	_ = godotenv.Load()

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.LogDir, cfg.Debug)
	log := logger.Module("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gateway, err := buildGateway(cfg.Exchange)
	if err != nil {
		log.Fatal("exchange init failed", zap.Error(err))
	}

	strat, err := strategy.New(cfg.Strategy, strategy.Options{
		TakeProfit: cfg.TakeProfit,
		StopLoss:   cfg.StopLoss,
	})
	if err != nil {
		log.Fatal("strategy init failed", zap.Error(err))
	}

	opts, cleanup, err := buildEngineOptions(cfg)
	if err != nil {
		log.Fatal("engine setup failed", zap.Error(err))
	}
	defer cleanup()

	eng := engine.New(&cfg, gateway, opts...)
	store := candle.NewStore(cfg.DataDir, gateway.Name(), gateway)

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		go func() {
			log.Info("metrics listening", zap.String("addr", cfg.MetricsAddr))
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				log.Error("metrics server stopped", zap.Error(err))
			}
		}()
	}

	if balance, err := gateway.FetchBalance(ctx, "USDT"); err != nil {
		log.Warn("balance query failed", zap.Error(err))
	} else {
		log.Info("account balance", zap.Float64("usdt", balance))
	}

	log.Info("exbot starting",
		zap.String("exchange", gateway.Name()),
		zap.String("symbol", cfg.Symbol),
		zap.String("timeframe", cfg.Timeframe),
		zap.String("strategy", strat.Name()),
		zap.Duration("poll_interval", cfg.PollInterval))

	run(ctx, log, cfg, eng, store, strat)
	log.Info("exbot stopped")
}

func run(ctx context.Context, log *zap.Logger, cfg config.Config, eng *engine.Engine, store *candle.Store, strat strategy.Strategy) {
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := safeTick(ctx, cfg, eng, store, strat); err != nil {
			log.Error("tick failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// safeTick contains a panicking iteration so one bad tick cannot kill the
// loop.
func safeTick(ctx context.Context, cfg config.Config, eng *engine.Engine, store *candle.Store, strat strategy.Strategy) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tick panic: %v", r)
		}
	}()
	return tick(ctx, cfg, eng, store, strat)
}

func tick(ctx context.Context, cfg config.Config, eng *engine.Engine, store *candle.Store, strat strategy.Strategy) error {
	candles, err := store.Recent(ctx, cfg.Symbol, cfg.Timeframe, cfg.CandleDepth)
	if err != nil {
		return fmt.Errorf("load candles: %w", err)
	}
	series, err := strat.Populate(candles)
	if err != nil {
		return fmt.Errorf("populate signals: %w", err)
	}
	if _, err := eng.Tick(ctx, series); err != nil {
		return err
	}
	return nil
}

func buildGateway(cfg config.ExchangeConfig) (exchange.Exchange, error) {
	switch cfg.Name {
	case "", "bitget":
		return exchange.NewBitgetExchange(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported exchange %q", cfg.Name)
	}
}

func buildEngineOptions(cfg config.Config) ([]engine.Option, func(), error) {
	var opts []engine.Option
	var closers []func()
	cleanup := func() {
		for _, c := range closers {
			c()
		}
	}

	audit, err := journal.NewAudit(filepath.Join(cfg.DataDir, "position.csv"))
	if err != nil {
		return nil, cleanup, err
	}
	closers = append(closers, func() { audit.Close() })
	opts = append(opts, engine.WithAudit(audit))

	if cfg.DBConnStr != "" {
		pg, err := journal.NewPostgresJournal(cfg.DBConnStr)
		if err != nil {
			return nil, cleanup, err
		}
		closers = append(closers, func() { pg.Close() })
		opts = append(opts, engine.WithJournal(pg))
	} else {
		opts = append(opts, engine.WithJournal(journal.NewMemoryJournal()))
	}

	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		tg, err := notifier.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			return nil, cleanup, err
		}
		opts = append(opts, engine.WithNotifier(tg))
	}

	if cfg.CachePersistPath != "" {
		opts = append(opts, engine.WithStateManager(state.NewFileManager(cfg.CachePersistPath)))
	}
	return opts, cleanup, nil
}
