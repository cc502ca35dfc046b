package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"triarb/pkg/ratelimit"
)

// jsoniter на горячем пути: тикеры всех пар декодируются каждые ~2s
var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	bybitRecvWindow = "5000"
	bybitCategory   = "spot"

	rateCategoryMarket = "market"
	rateCategoryTrade  = "trade"
)

// Bybit реализует интерфейс Exchange для спот-рынка Bybit (API v5)
type Bybit struct {
	apiKey    string
	secretKey string
	baseURL   string
	wsURL     string

	httpClient *HTTPClient
	limiter    *ratelimit.MultiLimiter
	logger     *zap.Logger

	// WebSocket manager с автоматическим переподключением
	wsManager *WSReconnectManager

	tickerCallback func(*Ticker)
	callbackMu     sync.RWMutex

	closeChan chan struct{}
	closeOnce sync.Once
}

// NewBybit создаёт клиент Bybit
// baseURL/wsURL берутся из конфигурации (testnet или production)
func NewBybit(apiKey, secretKey, baseURL, wsURL string, logger *zap.Logger) *Bybit {
	if logger == nil {
		logger = zap.NewNop()
	}

	// Лимиты Bybit: публичные endpoints щедрее приватных
	limiter := ratelimit.NewMultiLimiter()
	limiter.Add(rateCategoryMarket, 20, 40)
	limiter.Add(rateCategoryTrade, 10, 20)

	return &Bybit{
		apiKey:     apiKey,
		secretKey:  secretKey,
		baseURL:    baseURL,
		wsURL:      wsURL,
		httpClient: NewHTTPClient(DefaultHTTPClientConfig()),
		limiter:    limiter,
		logger:     logger.With(zap.String("exchange", "bybit")),
		closeChan:  make(chan struct{}),
	}
}

func (b *Bybit) GetName() string {
	return "bybit"
}

// sign создаёт подпись запроса к Bybit API v5
func (b *Bybit) sign(timestamp string, payload string) string {
	message := timestamp + b.apiKey + bybitRecvWindow + payload
	h := hmac.New(sha256.New, []byte(b.secretKey))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}

// transientRetCode определяет коды ответа, после которых запрос можно повторить
func transientRetCode(code int) bool {
	switch code {
	case 10002: // request timestamp outside recv window
		return true
	case 10006, 10018: // rate limit
		return true
	case 10016: // internal server error
		return true
	}
	return false
}

// doRequest выполняет HTTP запрос к Bybit API
// Сетевые сбои и transient коды ответа помечаются retryable
func (b *Bybit) doRequest(ctx context.Context, method, endpoint string, params map[string]string, signed bool) ([]byte, error) {
	category := rateCategoryMarket
	if signed {
		category = rateCategoryTrade
	}
	if err := b.limiter.Wait(ctx, category); err != nil {
		return nil, err
	}

	var payload string
	var reqURL string

	if method == http.MethodGet {
		query := url.Values{}
		for k, v := range params {
			query.Set(k, v)
		}
		payload = query.Encode()
		if payload != "" {
			reqURL = b.baseURL + endpoint + "?" + payload
		} else {
			reqURL = b.baseURL + endpoint
		}
	} else {
		reqURL = b.baseURL + endpoint
		if len(params) > 0 {
			jsonBytes, err := json.Marshal(params)
			if err != nil {
				return nil, err
			}
			payload = string(jsonBytes)
		}
	}

	var bodyReader io.Reader
	if method != http.MethodGet && payload != "" {
		bodyReader = strings.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")

	if signed {
		timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
		signature := b.sign(timestamp, payload)

		req.Header.Set("X-BAPI-API-KEY", b.apiKey)
		req.Header.Set("X-BAPI-SIGN", signature)
		req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
		req.Header.Set("X-BAPI-RECV-WINDOW", bybitRecvWindow)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, &ExchangeError{
			Exchange:  "bybit",
			Message:   "request failed: " + err.Error(),
			Transient: true,
			Original:  err,
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ExchangeError{
			Exchange:  "bybit",
			Message:   "read body failed: " + err.Error(),
			Transient: true,
			Original:  err,
		}
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, &ExchangeError{
			Exchange:  "bybit",
			Code:      strconv.Itoa(resp.StatusCode),
			Message:   "http " + resp.Status,
			Transient: true,
		}
	}

	var baseResp struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
	}
	if err := json.Unmarshal(body, &baseResp); err != nil {
		return nil, err
	}

	if baseResp.RetCode != 0 {
		return nil, &ExchangeError{
			Exchange:  "bybit",
			Code:      strconv.Itoa(baseResp.RetCode),
			Message:   baseResp.RetMsg,
			Transient: transientRetCode(baseResp.RetCode),
		}
	}

	return body, nil
}

// GetBalances получает доступные балансы UNIFIED аккаунта по всем валютам
func (b *Bybit) GetBalances(ctx context.Context) (map[string]float64, error) {
	params := map[string]string{
		"accountType": "UNIFIED",
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/v5/account/wallet-balance", params, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			List []struct {
				Coin []struct {
					Coin          string `json:"coin"`
					WalletBalance string `json:"walletBalance"`
					Locked        string `json:"locked"`
				} `json:"coin"`
			} `json:"list"`
		} `json:"result"`
	}

	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	balances := make(map[string]float64)
	for _, account := range resp.Result.List {
		for _, coin := range account.Coin {
			total, _ := strconv.ParseFloat(coin.WalletBalance, 64)
			locked, _ := strconv.ParseFloat(coin.Locked, 64)
			available := total - locked
			if available > 0 {
				balances[coin.Coin] = available
			}
		}
	}

	return balances, nil
}

// GetInstruments получает описания всех спот-пар
func (b *Bybit) GetInstruments(ctx context.Context) ([]*Instrument, error) {
	params := map[string]string{
		"category": bybitCategory,
		"limit":    "1000",
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/v5/market/instruments-info", params, false)
	if err != nil {
		return nil, err
	}

	return parseInstruments(body)
}

// GetInstrument получает описание одной пары
func (b *Bybit) GetInstrument(ctx context.Context, symbol string) (*Instrument, error) {
	params := map[string]string{
		"category": bybitCategory,
		"symbol":   symbol,
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/v5/market/instruments-info", params, false)
	if err != nil {
		return nil, err
	}

	instruments, err := parseInstruments(body)
	if err != nil {
		return nil, err
	}
	if len(instruments) == 0 {
		return nil, fmt.Errorf("instrument info not found for %s", symbol)
	}
	return instruments[0], nil
}

func parseInstruments(body []byte) ([]*Instrument, error) {
	var resp struct {
		Result struct {
			List []struct {
				Symbol        string `json:"symbol"`
				BaseCoin      string `json:"baseCoin"`
				QuoteCoin     string `json:"quoteCoin"`
				Status        string `json:"status"`
				LotSizeFilter struct {
					BasePrecision string `json:"basePrecision"`
					MinOrderQty   string `json:"minOrderQty"`
					MinOrderAmt   string `json:"minOrderAmt"`
				} `json:"lotSizeFilter"`
				PriceFilter struct {
					TickSize string `json:"tickSize"`
				} `json:"priceFilter"`
			} `json:"list"`
		} `json:"result"`
	}

	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	instruments := make([]*Instrument, 0, len(resp.Result.List))
	for _, info := range resp.Result.List {
		qtyStep, _ := strconv.ParseFloat(info.LotSizeFilter.BasePrecision, 64)
		minQty, _ := strconv.ParseFloat(info.LotSizeFilter.MinOrderQty, 64)
		minNotional, _ := strconv.ParseFloat(info.LotSizeFilter.MinOrderAmt, 64)
		tickSize, _ := strconv.ParseFloat(info.PriceFilter.TickSize, 64)

		instruments = append(instruments, &Instrument{
			Symbol:      info.Symbol,
			BaseCoin:    info.BaseCoin,
			QuoteCoin:   info.QuoteCoin,
			QtyStep:     qtyStep,
			PriceStep:   tickSize,
			MinOrderQty: minQty,
			MinNotional: minNotional,
			Active:      info.Status == "Trading",
		})
	}

	return instruments, nil
}

// GetTickers получает тикеры всех спот-пар одним запросом
func (b *Bybit) GetTickers(ctx context.Context) ([]*Ticker, error) {
	params := map[string]string{
		"category": bybitCategory,
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/v5/market/tickers", params, false)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			List []struct {
				Symbol      string `json:"symbol"`
				Bid1Price   string `json:"bid1Price"`
				Bid1Size    string `json:"bid1Size"`
				Ask1Price   string `json:"ask1Price"`
				Ask1Size    string `json:"ask1Size"`
				LastPrice   string `json:"lastPrice"`
				Volume24h   string `json:"volume24h"`
				Turnover24h string `json:"turnover24h"`
			} `json:"list"`
		} `json:"result"`
	}

	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	now := time.Now()
	tickers := make([]*Ticker, 0, len(resp.Result.List))
	for _, t := range resp.Result.List {
		bidPrice, _ := strconv.ParseFloat(t.Bid1Price, 64)
		askPrice, _ := strconv.ParseFloat(t.Ask1Price, 64)
		bidSize, _ := strconv.ParseFloat(t.Bid1Size, 64)
		askSize, _ := strconv.ParseFloat(t.Ask1Size, 64)
		lastPrice, _ := strconv.ParseFloat(t.LastPrice, 64)
		volume, _ := strconv.ParseFloat(t.Volume24h, 64)
		turnover, _ := strconv.ParseFloat(t.Turnover24h, 64)

		tickers = append(tickers, &Ticker{
			Symbol:      t.Symbol,
			BidPrice:    bidPrice,
			AskPrice:    askPrice,
			BidSize:     bidSize,
			AskSize:     askSize,
			LastPrice:   lastPrice,
			Volume24h:   volume,
			Turnover24h: turnover,
			Timestamp:   now,
		})
	}

	return tickers, nil
}

// PlaceMarketOrder размещает рыночный IOC ордер на споте
//
// Для buy qty задаётся в котируемой валюте (marketUnit=quoteCoin),
// для sell - в базовой (marketUnit=baseCoin). Так арбитражная нога
// всегда тратит ровно то, что получила от предыдущей.
func (b *Bybit) PlaceMarketOrder(ctx context.Context, req *OrderRequest) (*Order, error) {
	bybitSide := "Buy"
	marketUnit := "quoteCoin"
	if req.Side == SideSell {
		bybitSide = "Sell"
		marketUnit = "baseCoin"
	}

	params := map[string]string{
		"category":    bybitCategory,
		"symbol":      req.Symbol,
		"side":        bybitSide,
		"orderType":   "Market",
		"qty":         strconv.FormatFloat(req.Qty, 'f', -1, 64),
		"marketUnit":  marketUnit,
		"timeInForce": "IOC",
		"orderLinkId": req.LinkID,
	}

	body, err := b.doRequest(ctx, http.MethodPost, "/v5/order/create", params, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			OrderId     string `json:"orderId"`
			OrderLinkId string `json:"orderLinkId"`
		} `json:"result"`
	}

	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	b.logger.Debug("order placed",
		zap.String("symbol", req.Symbol),
		zap.String("side", req.Side),
		zap.Float64("qty", req.Qty),
		zap.String("link_id", req.LinkID))

	return &Order{
		ID:        resp.Result.OrderId,
		LinkID:    resp.Result.OrderLinkId,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Type:      "market",
		Quantity:  req.Qty,
		Status:    OrderStatusNew,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}, nil
}

// GetOrder получает текущее состояние ордера по client link ID
// Сначала ищет среди активных, затем в истории (исполненный IOC уходит туда сразу)
func (b *Bybit) GetOrder(ctx context.Context, symbol, linkID string) (*Order, error) {
	order, err := b.queryOrder(ctx, "/v5/order/realtime", symbol, linkID)
	if err == nil && order != nil {
		return order, nil
	}

	order, err = b.queryOrder(ctx, "/v5/order/history", symbol, linkID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("order not found: %s", linkID)
	}
	return order, nil
}

func (b *Bybit) queryOrder(ctx context.Context, endpoint, symbol, linkID string) (*Order, error) {
	params := map[string]string{
		"category":    bybitCategory,
		"symbol":      symbol,
		"orderLinkId": linkID,
	}

	body, err := b.doRequest(ctx, http.MethodGet, endpoint, params, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			List []struct {
				OrderId      string `json:"orderId"`
				OrderLinkId  string `json:"orderLinkId"`
				Symbol       string `json:"symbol"`
				Side         string `json:"side"`
				Qty          string `json:"qty"`
				CumExecQty   string `json:"cumExecQty"`
				CumExecValue string `json:"cumExecValue"`
				CumExecFee   string `json:"cumExecFee"`
				AvgPrice     string `json:"avgPrice"`
				OrderStatus  string `json:"orderStatus"`
				CreatedTime  string `json:"createdTime"`
				UpdatedTime  string `json:"updatedTime"`
			} `json:"list"`
		} `json:"result"`
	}

	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	if len(resp.Result.List) == 0 {
		return nil, nil
	}

	o := resp.Result.List[0]
	qty, _ := strconv.ParseFloat(o.Qty, 64)
	filledQty, _ := strconv.ParseFloat(o.CumExecQty, 64)
	filledValue, _ := strconv.ParseFloat(o.CumExecValue, 64)
	fee, _ := strconv.ParseFloat(o.CumExecFee, 64)
	avgPrice, _ := strconv.ParseFloat(o.AvgPrice, 64)
	createdMs, _ := strconv.ParseInt(o.CreatedTime, 10, 64)
	updatedMs, _ := strconv.ParseInt(o.UpdatedTime, 10, 64)

	side := SideBuy
	if o.Side == "Sell" {
		side = SideSell
	}

	return &Order{
		ID:           o.OrderId,
		LinkID:       o.OrderLinkId,
		Symbol:       o.Symbol,
		Side:         side,
		Type:         "market",
		Quantity:     qty,
		FilledQty:    filledQty,
		FilledValue:  filledValue,
		AvgFillPrice: avgPrice,
		Fee:          fee,
		Status:       mapOrderStatus(o.OrderStatus),
		CreatedAt:    time.UnixMilli(createdMs),
		UpdatedAt:    time.UnixMilli(updatedMs),
	}, nil
}

// mapOrderStatus переводит статус Bybit в наш
func mapOrderStatus(status string) string {
	switch status {
	case "New", "Untriggered":
		return OrderStatusNew
	case "PartiallyFilled":
		return OrderStatusPartial
	case "Filled":
		return OrderStatusFilled
	case "Cancelled", "PartiallyFilledCanceled", "Deactivated":
		return OrderStatusCancelled
	case "Rejected":
		return OrderStatusRejected
	default:
		return OrderStatusNew
	}
}

// CancelOrder отменяет ордер по client link ID
func (b *Bybit) CancelOrder(ctx context.Context, symbol, linkID string) error {
	params := map[string]string{
		"category":    bybitCategory,
		"symbol":      symbol,
		"orderLinkId": linkID,
	}

	_, err := b.doRequest(ctx, http.MethodPost, "/v5/order/cancel", params, true)
	return err
}

// SubscribeTickers подписывается на поток тикеров через публичный WebSocket
// Обновления приходят между REST-обновлениями и удешевляют свежесть цен
func (b *Bybit) SubscribeTickers(symbols []string, callback func(*Ticker)) error {
	b.callbackMu.Lock()
	b.tickerCallback = callback
	b.callbackMu.Unlock()

	if b.wsManager == nil {
		config := DefaultWSReconnectConfig()
		b.wsManager = NewWSReconnectManager("bybit-public", b.wsURL, config, b.logger)
		b.wsManager.SetOnMessage(b.handleTickerMessage)
		b.wsManager.SetOnDisconnect(func(err error) {
			if err != nil {
				b.logger.Warn("public websocket disconnected", zap.Error(err))
			}
		})

		if err := b.wsManager.Connect(); err != nil {
			return fmt.Errorf("failed to connect to websocket: %w", err)
		}
	}

	args := make([]string, 0, len(symbols))
	for _, s := range symbols {
		args = append(args, "tickers."+s)
	}

	// Bybit ограничивает args в одном сообщении подписки
	const batchSize = 10
	for i := 0; i < len(args); i += batchSize {
		end := i + batchSize
		if end > len(args) {
			end = len(args)
		}
		subMsg := map[string]interface{}{
			"op":   "subscribe",
			"args": args[i:end],
		}
		b.wsManager.AddSubscription(subMsg)
		if err := b.wsManager.Send(subMsg); err != nil {
			return err
		}
	}

	return nil
}

// handleTickerMessage обрабатывает одно сообщение из публичного WebSocket
// Spot ticker приходит snapshot'ом: все поля заполнены в каждом сообщении
func (b *Bybit) handleTickerMessage(message []byte) {
	var msg struct {
		Topic string `json:"topic"`
		Data  struct {
			Symbol      string `json:"symbol"`
			Bid1Price   string `json:"bid1Price"`
			Bid1Size    string `json:"bid1Size"`
			Ask1Price   string `json:"ask1Price"`
			Ask1Size    string `json:"ask1Size"`
			LastPrice   string `json:"lastPrice"`
			Volume24h   string `json:"volume24h"`
			Turnover24h string `json:"turnover24h"`
		} `json:"data"`
	}

	if err := json.Unmarshal(message, &msg); err != nil {
		return
	}

	if !strings.HasPrefix(msg.Topic, "tickers.") {
		return
	}

	b.callbackMu.RLock()
	callback := b.tickerCallback
	b.callbackMu.RUnlock()

	if callback == nil {
		return
	}

	bidPrice, _ := strconv.ParseFloat(msg.Data.Bid1Price, 64)
	askPrice, _ := strconv.ParseFloat(msg.Data.Ask1Price, 64)
	bidSize, _ := strconv.ParseFloat(msg.Data.Bid1Size, 64)
	askSize, _ := strconv.ParseFloat(msg.Data.Ask1Size, 64)
	lastPrice, _ := strconv.ParseFloat(msg.Data.LastPrice, 64)
	volume, _ := strconv.ParseFloat(msg.Data.Volume24h, 64)
	turnover, _ := strconv.ParseFloat(msg.Data.Turnover24h, 64)

	callback(&Ticker{
		Symbol:      msg.Data.Symbol,
		BidPrice:    bidPrice,
		AskPrice:    askPrice,
		BidSize:     bidSize,
		AskSize:     askSize,
		LastPrice:   lastPrice,
		Volume24h:   volume,
		Turnover24h: turnover,
		Timestamp:   time.Now(),
	})
}

// Close закрывает соединения с биржей
func (b *Bybit) Close() error {
	b.closeOnce.Do(func() {
		close(b.closeChan)
	})

	if b.wsManager != nil {
		b.wsManager.Close()
		b.wsManager = nil
	}

	b.httpClient.Close()
	return nil
}
