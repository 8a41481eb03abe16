// Package config
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wisarmy/exbot/internal/tfutils"
)

// ErrInvalidConfig marks contradictory or out-of-range options. It is fatal
// at startup; nothing re-validates at runtime.
var ErrInvalidConfig = errors.New("invalid configuration")

/*
YAML config example:

exchange:
  name: "bitget"
  key: "..."
  secret: "..."
  passphrase: "..."
symbol: "BTC/USDT:USDT"
timeframe: "5m"
strategy: "macd"
amount: 1
amount_max: 5
reversals: true
close_amount: 0
take_profit: true
stop_loss: true
take_profit_fix_price_rate: 0.00786
stop_loss_fix_price_rate: 0.00382
entry_price_loss_rate: 0.005
position_stop_loss_rate: 0.00382
position_take_profit_rate: 0.00786
poll_interval: 10s
*/

type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Key        string `yaml:"key"`
	Secret     string `yaml:"secret"`
	Passphrase string `yaml:"passphrase"`
	Testnet    bool   `yaml:"testnet"`
}

type Config struct {
	Exchange ExchangeConfig `yaml:"exchange"`

	Symbol    string `yaml:"symbol"`
	Timeframe string `yaml:"timeframe"`
	Strategy  string `yaml:"strategy"`

	// Entry sizing
	Amount    float64 `yaml:"amount"`
	AmountMax float64 `yaml:"amount_max"`
	Reversals bool    `yaml:"reversals"`

	// Exit rules. CloseAmount caps the quantity closed by risk exits;
	// 0 means full position for the fixed rules.
	CloseAmount            float64 `yaml:"close_amount"`
	TakeProfit             bool    `yaml:"take_profit"`
	StopLoss               bool    `yaml:"stop_loss"`
	TakeProfitFixUpnl      float64 `yaml:"take_profit_fix_upnl"`
	StopLossFixUpnl        float64 `yaml:"stop_loss_fix_upnl"`
	TakeProfitFixPriceRate float64 `yaml:"take_profit_fix_price_rate"`
	StopLossFixPriceRate   float64 `yaml:"stop_loss_fix_price_rate"`

	// Entry guard: minimum adverse move (as a rate of the existing entry
	// price) before adding to a losing position. 0 disables the guard.
	EntryPriceLossRate float64 `yaml:"entry_price_loss_rate"`

	// Exchange-side protective trigger orders, as rates of the open price.
	PositionStopLossRate   float64 `yaml:"position_stop_loss_rate"`
	PositionTakeProfitRate float64 `yaml:"position_take_profit_rate"`

	CacheCapacity    int    `yaml:"cache_capacity"`
	CachePersistPath string `yaml:"cache_persist_path"`

	PollInterval time.Duration `yaml:"poll_interval"`
	CandleDepth  int           `yaml:"candle_depth"`
	DataDir      string        `yaml:"data_dir"`

	DBConnStr      string `yaml:"db_conn_str"`
	TelegramToken  string `yaml:"telegram_token"`
	TelegramChatID int64  `yaml:"telegram_chat_id"`
	MetricsAddr    string `yaml:"metrics_addr"`
	LogDir         string `yaml:"log_dir"`
	Debug          bool   `yaml:"debug"`
}

// Load builds the Config from flags, an optional YAML file and env fallbacks.
// It is called exactly once, from main.
func Load(args []string) (Config, error) {
	fs := flag.NewFlagSet("exbot", flag.ContinueOnError)

	configFile := fs.String("config", "", "config file path")
	symbol := fs.String("symbol", "", "the trading symbol to use")
	timeframe := fs.String("timeframe", "5m", "timeframe: "+strings.Join(tfutils.GetSupportedTimeframes(), " "))
	strategyName := fs.String("strategy", "macd", "the strategy to use")
	amount := fs.Float64("amount", 1, "the symbol amount to trade")
	amountMax := fs.Float64("amount-max", 1, "the symbol amount max limit to trade")
	reversals := fs.Bool("reversals", false, "open an opposite position after fully closing one")
	closeAmount := fs.Float64("close-amount", 0, "amount closed by risk exits (0 = full position)")
	takeProfit := fs.Bool("take-profit", false, "enable signal-driven take profit")
	stopLoss := fs.Bool("stop-loss", true, "enable signal-driven stop loss")
	tpFixUpnl := fs.Float64("take-profit-fix-upnl", 0, "take profit when unrealised pnl exceeds this (0 = disabled)")
	slFixUpnl := fs.Float64("stop-loss-fix-upnl", 0, "stop loss when unrealised pnl drops below this negative value (0 = disabled)")
	tpFixRate := fs.Float64("take-profit-fix-price-rate", 0, "take profit price deviation rate from entry (0 = disabled)")
	slFixRate := fs.Float64("stop-loss-fix-price-rate", 0, "stop loss price deviation rate from entry (0 = disabled)")
	entryGuard := fs.Float64("entry-price-loss-rate", 0, "minimum adverse move before adding to a position (0 = disabled)")
	posSLRate := fs.Float64("position-stop-loss-rate", 0, "exchange-side stop trigger rate from open price")
	posTPRate := fs.Float64("position-take-profit-rate", 0, "exchange-side profit trigger rate from open price")
	cacheCapacity := fs.Int("cache-capacity", 128, "handled-signal cache capacity")
	interval := fs.Duration("interval", 10*time.Second, "data update interval < timeframe interval")
	verbose := fs.Bool("v", false, "verbose mode")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := Config{
		Symbol:                 *symbol,
		Timeframe:              *timeframe,
		Strategy:               *strategyName,
		Amount:                 *amount,
		AmountMax:              *amountMax,
		Reversals:              *reversals,
		CloseAmount:            *closeAmount,
		TakeProfit:             *takeProfit,
		StopLoss:               *stopLoss,
		TakeProfitFixUpnl:      *tpFixUpnl,
		StopLossFixUpnl:        *slFixUpnl,
		TakeProfitFixPriceRate: *tpFixRate,
		StopLossFixPriceRate:   *slFixRate,
		EntryPriceLossRate:     *entryGuard,
		PositionStopLossRate:   *posSLRate,
		PositionTakeProfitRate: *posTPRate,
		CacheCapacity:          *cacheCapacity,
		PollInterval:           *interval,
		CandleDepth:            200,
		DataDir:                "data",
		LogDir:                 "logs",
		Debug:                  *verbose,
	}

	if *configFile != "" {
		data, err := os.ReadFile(*configFile)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv lets credentials and endpoints come from the environment so they
// stay out of config files.
func applyEnv(cfg *Config) {
	if v := os.Getenv("EXCHANGE_KEY"); v != "" {
		cfg.Exchange.Key = v
	}
	if v := os.Getenv("EXCHANGE_SECRET"); v != "" {
		cfg.Exchange.Secret = v
	}
	if v := os.Getenv("EXCHANGE_PASSPHRASE"); v != "" {
		cfg.Exchange.Passphrase = v
	}
	if v := os.Getenv("DB_CONN_STR"); v != "" {
		cfg.DBConnStr = v
	}
	if v := os.Getenv("TELEGRAM_TOKEN"); v != "" {
		cfg.TelegramToken = v
	}
}

func (c Config) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidConfig)
	}
	tfDuration, err := tfutils.ParseTimeframe(c.Timeframe)
	if err != nil {
		return fmt.Errorf("%w: unsupported timeframe %q", ErrInvalidConfig, c.Timeframe)
	}
	if c.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidConfig)
	}
	if c.AmountMax < c.Amount {
		return fmt.Errorf("%w: amount_max %v is below amount %v", ErrInvalidConfig, c.AmountMax, c.Amount)
	}
	if c.CloseAmount < 0 {
		return fmt.Errorf("%w: close_amount cannot be negative", ErrInvalidConfig)
	}
	if c.StopLossFixUpnl > 0 {
		return fmt.Errorf("%w: stop_loss_fix_upnl must be negative or zero", ErrInvalidConfig)
	}
	if c.TakeProfitFixUpnl < 0 {
		return fmt.Errorf("%w: take_profit_fix_upnl must be positive or zero", ErrInvalidConfig)
	}
	for name, rate := range map[string]float64{
		"take_profit_fix_price_rate": c.TakeProfitFixPriceRate,
		"stop_loss_fix_price_rate":   c.StopLossFixPriceRate,
		"entry_price_loss_rate":      c.EntryPriceLossRate,
		"position_stop_loss_rate":    c.PositionStopLossRate,
		"position_take_profit_rate":  c.PositionTakeProfitRate,
	} {
		if rate < 0 || rate >= 1 {
			return fmt.Errorf("%w: %s must be in [0, 1)", ErrInvalidConfig, name)
		}
	}
	if c.CacheCapacity <= 0 {
		return fmt.Errorf("%w: cache_capacity must be positive", ErrInvalidConfig)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("%w: poll interval must be positive", ErrInvalidConfig)
	}
	if c.PollInterval >= tfDuration {
		return fmt.Errorf("%w: poll interval %v must be below the %s timeframe", ErrInvalidConfig, c.PollInterval, c.Timeframe)
	}
	return nil
}
