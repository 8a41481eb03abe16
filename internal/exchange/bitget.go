package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wisarmy/exbot/internal/candle"
	"github.com/wisarmy/exbot/internal/config"
	"github.com/wisarmy/exbot/internal/logger"
)

const (
	bitgetLiveURL    = "https://api.bitget.com"
	bitgetTestnetURL = "https://testnet.bitget.com"

	productType = "USDT-FUTURES"
	marginCoin  = "USDT"

	transportAttempts = 3
	transportDelay    = 2 * time.Second
)

// BitgetExchange talks to the Bitget v2 mix (USDT futures) REST API in
// hedge position mode.
type BitgetExchange struct {
	apiKey     string
	secretKey  string
	passphrase string
	baseURL    string
	client     *http.Client
	log        *zap.Logger
}

func NewBitgetExchange(cfg config.ExchangeConfig) *BitgetExchange {
	baseURL := bitgetLiveURL
	if cfg.Testnet {
		baseURL = bitgetTestnetURL
	}
	return &BitgetExchange{
		apiKey:     cfg.Key,
		secretKey:  cfg.Secret,
		passphrase: cfg.Passphrase,
		baseURL:    baseURL,
		client:     &http.Client{Timeout: 30 * time.Second},
		log:        logger.Module("bitget"),
	}
}

func (b *BitgetExchange) Name() string { return "bitget" }

// instID converts a ccxt-style symbol ("BTC/USDT:USDT") to the Bitget
// instrument id ("BTCUSDT").
func instID(symbol string) string {
	if i := strings.Index(symbol, ":"); i >= 0 {
		symbol = symbol[:i]
	}
	return strings.ReplaceAll(symbol, "/", "")
}

// granularity converts a timeframe string to the Bitget candle granularity.
func granularity(timeframe string) string {
	switch timeframe {
	case "1h", "4h", "1d":
		return strings.ToUpper(timeframe)
	default:
		return timeframe
	}
}

// sign builds Base64(HMAC-SHA256(timestamp + METHOD + requestPath + body)).
func (b *BitgetExchange) sign(timestamp, method, requestPath, body string) string {
	message := timestamp + strings.ToUpper(method) + requestPath + body
	h := hmac.New(sha256.New, []byte(b.secretKey))
	h.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// request sends a signed HTTP request and returns the raw body after the
// Bitget business code has been checked.
func (b *BitgetExchange) request(ctx context.Context, method, endpoint string, params map[string]string, body any) ([]byte, error) {
	var queryString string
	if len(params) > 0 && method == http.MethodGet {
		// Sorted keys keep the signed path stable.
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%s", k, params[k]))
		}
		queryString = strings.Join(parts, "&")
	}

	url := b.baseURL + endpoint
	requestPath := endpoint
	if queryString != "" {
		url += "?" + queryString
		requestPath += "?" + queryString
	}

	var bodyStr string
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		bodyStr = string(bodyBytes)
	}

	var reader io.Reader
	if bodyStr != "" {
		reader = strings.NewReader(bodyStr)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("ACCESS-KEY", b.apiKey)
	req.Header.Set("ACCESS-SIGN", b.sign(timestamp, method, requestPath, bodyStr))
	req.Header.Set("ACCESS-TIMESTAMP", timestamp)
	req.Header.Set("ACCESS-PASSPHRASE", b.passphrase)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrTransport, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: http %d: %s", ErrTransport, resp.StatusCode, string(respBody))
	}

	var result struct {
		Code string `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if result.Code != "00000" {
		return nil, fmt.Errorf("bitget api error: code=%s, msg=%s", result.Code, result.Msg)
	}
	return respBody, nil
}

func (b *BitgetExchange) FetchPosition(ctx context.Context, symbol string) (Position, error) {
	var respBody []byte
	err := retry(transportAttempts, transportDelay, func() error {
		var err error
		respBody, err = b.request(ctx, http.MethodGet, "/api/v2/mix/position/all-position", map[string]string{
			"productType": productType,
			"marginCoin":  marginCoin,
		}, nil)
		return err
	})
	if err != nil {
		return Position{}, fmt.Errorf("fetch position: %w", err)
	}

	var response struct {
		Data []struct {
			Symbol       string `json:"symbol"`
			Total        string `json:"total"`
			OpenPriceAvg string `json:"openPriceAvg"`
			AchievedPL   string `json:"achievedProfits"`
			UnrealizedPL string `json:"unrealizedPL"`
			HoldSide     string `json:"holdSide"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &response); err != nil {
		return Position{}, fmt.Errorf("parse position response: %w", err)
	}

	pos := Position{Symbol: symbol}
	inst := instID(symbol)
	for _, p := range response.Data {
		if p.Symbol != inst {
			continue
		}
		leg := PositionSide{}
		leg.Quantity, _ = strconv.ParseFloat(p.Total, 64)
		leg.EntryPrice, _ = strconv.ParseFloat(p.OpenPriceAvg, 64)
		leg.RealisedPnl, _ = strconv.ParseFloat(p.AchievedPL, 64)
		leg.UnrealisedPnl, _ = strconv.ParseFloat(p.UnrealizedPL, 64)
		switch p.HoldSide {
		case "long":
			pos.Long = leg
		case "short":
			pos.Short = leg
		}
	}
	return pos, nil
}

func (b *BitgetExchange) ClosePosition(ctx context.Context, symbol string, side Side, amount float64) error {
	// Bitget hedge mode closes with the side that opened the leg: a sell
	// order closing the long leg is sent as side=buy, tradeSide=close.
	body := map[string]any{
		"symbol":      instID(symbol),
		"productType": productType,
		"marginMode":  "crossed",
		"marginCoin":  marginCoin,
		"side":        string(side.Opposite()),
		"tradeSide":   "close",
		"orderType":   "market",
		"size":        formatFloat(amount),
	}
	err := retry(transportAttempts, transportDelay, func() error {
		_, err := b.request(ctx, http.MethodPost, "/api/v2/mix/order/place-order", nil, body)
		return err
	})
	if err != nil {
		return fmt.Errorf("close position: %w", err)
	}
	b.log.Info("position closed", zap.String("symbol", symbol), zap.String("side", string(side)), zap.Float64("amount", amount))
	return nil
}

func (b *BitgetExchange) CreateMarketOrder(ctx context.Context, symbol string, side Side, amount, referencePrice float64) error {
	body := map[string]any{
		"symbol":      instID(symbol),
		"productType": productType,
		"marginMode":  "crossed",
		"marginCoin":  marginCoin,
		"side":        string(side),
		"tradeSide":   "open",
		"orderType":   "market",
		"size":        formatFloat(amount),
	}
	err := retry(transportAttempts, transportDelay, func() error {
		_, err := b.request(ctx, http.MethodPost, "/api/v2/mix/order/place-order", nil, body)
		return err
	})
	if err != nil {
		return fmt.Errorf("create market order: %w", err)
	}
	b.log.Info("market order created",
		zap.String("symbol", symbol), zap.String("side", string(side)),
		zap.Float64("amount", amount), zap.Float64("price", referencePrice))
	return nil
}

func (b *BitgetExchange) PlaceProtectiveTrigger(ctx context.Context, symbol string, kind TriggerKind, triggerPrice float64, holdSide HoldSide, amount float64) error {
	planType := "loss_plan"
	if kind == TriggerProfit {
		planType = "profit_plan"
	}
	body := map[string]any{
		"marginCoin":   marginCoin,
		"productType":  strings.ToLower(productType), // this endpoint wants lowercase
		"symbol":       instID(symbol),
		"planType":     planType,
		"triggerPrice": fmt.Sprintf("%.8f", triggerPrice),
		"triggerType":  "mark_price",
		"executePrice": "0", // market execution
		"holdSide":     string(holdSide),
		"size":         formatFloat(amount),
	}
	err := retry(transportAttempts, transportDelay, func() error {
		_, err := b.request(ctx, http.MethodPost, "/api/v2/mix/order/place-tpsl-order", nil, body)
		return err
	})
	if err != nil {
		return fmt.Errorf("place %s trigger: %w", planType, err)
	}
	return nil
}

func (b *BitgetExchange) CancelAllOrders(ctx context.Context, symbol string) error {
	body := map[string]any{
		"symbol":      instID(symbol),
		"productType": productType,
		"marginCoin":  marginCoin,
	}
	err := retry(transportAttempts, transportDelay, func() error {
		_, err := b.request(ctx, http.MethodPost, "/api/v2/mix/order/cancel-all-orders", nil, body)
		if err != nil && strings.Contains(err.Error(), "22001") {
			// nothing pending to cancel
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("cancel all orders: %w", err)
	}
	return nil
}

func (b *BitgetExchange) FetchCandles(ctx context.Context, symbol, timeframe string, count int) ([]candle.Candle, error) {
	var respBody []byte
	err := retry(transportAttempts, transportDelay, func() error {
		var err error
		respBody, err = b.request(ctx, http.MethodGet, "/api/v2/mix/market/candles", map[string]string{
			"symbol":      instID(symbol),
			"productType": productType,
			"granularity": granularity(timeframe),
			"limit":       strconv.Itoa(count),
		}, nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetch candles: %w", err)
	}

	// Rows are [ts, open, high, low, close, baseVolume, quoteVolume].
	var response struct {
		Data [][]string `json:"data"`
	}
	if err := json.Unmarshal(respBody, &response); err != nil {
		return nil, fmt.Errorf("parse candles response: %w", err)
	}

	candles := make([]candle.Candle, 0, len(response.Data))
	for _, row := range response.Data {
		if len(row) < 6 {
			continue
		}
		ms, _ := strconv.ParseInt(row[0], 10, 64)
		c := candle.Candle{
			Timestamp: time.UnixMilli(ms).UTC(),
			Symbol:    symbol,
			Timeframe: timeframe,
		}
		c.Open, _ = strconv.ParseFloat(row[1], 64)
		c.High, _ = strconv.ParseFloat(row[2], 64)
		c.Low, _ = strconv.ParseFloat(row[3], 64)
		c.Close, _ = strconv.ParseFloat(row[4], 64)
		c.Volume, _ = strconv.ParseFloat(row[5], 64)
		if err := c.Validate(); err != nil {
			continue
		}
		candles = append(candles, c)
	}
	sort.Slice(candles, func(i, j int) bool {
		return candles[i].Timestamp.Before(candles[j].Timestamp)
	})
	return candles, nil
}

func (b *BitgetExchange) FetchBalance(ctx context.Context, quote string) (float64, error) {
	var respBody []byte
	err := retry(transportAttempts, transportDelay, func() error {
		var err error
		respBody, err = b.request(ctx, http.MethodGet, "/api/v2/mix/account/accounts", map[string]string{
			"productType": productType,
		}, nil)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("fetch balance: %w", err)
	}

	var response struct {
		Data []struct {
			MarginCoin string `json:"marginCoin"`
			Equity     string `json:"equity"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &response); err != nil {
		return 0, fmt.Errorf("parse balance response: %w", err)
	}
	for _, account := range response.Data {
		if account.MarginCoin == quote {
			equity, _ := strconv.ParseFloat(account.Equity, 64)
			return equity, nil
		}
	}
	return 0, fmt.Errorf("%s account not found", quote)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
