package clients

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cuong-tay/web-trade-crypto-sub000/internal/domain"
)

const (
	defaultAPITimeout = 30 * time.Second
	pendingPageSize   = 100
)

var (
	// quoted form first so "UUID('x')" does not end up double quoted
	quotedUUIDLiteral = regexp.MustCompile(`"UUID\('([^']*)'\)"`)
	bareUUIDLiteral   = regexp.MustCompile(`UUID\('([^']*)'\)`)
	// fill and cancel rejections for orders that already left PENDING,
	// including the futures router's Vietnamese cancel detail
	finalStatusDetail = regexp.MustCompile(`(?i)order status is \w+, cannot|cannot cancel order with status|không thể hủy lệnh có trạng thái`)
)

// APIError is a non-2xx answer from the trading backend.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("trading api returned %d: %s", e.StatusCode, e.Detail)
}

// Retryable reports whether repeating the request may succeed.
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout
}

// IsRetryable reports whether err is transient: network failures, timeouts,
// server errors and rate limiting.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, domain.ErrOrderNotPending) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF)
}

// TradingAPI talks to the trading backend REST API on behalf of the
// authenticated user.
type TradingAPI struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewTradingAPI creates a client for baseURL authenticating with a bearer token.
func NewTradingAPI(baseURL, token string, logger *zap.Logger) *TradingAPI {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TradingAPI{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: defaultAPITimeout},
		logger:     logger,
	}
}

type walletUpdate struct {
	Balance decimal.Decimal `json:"balance"`
}

type executionResponse struct {
	Status        string                  `json:"status"`
	Message       string                  `json:"message"`
	WalletUpdates map[string]walletUpdate `json:"wallet_updates"`
	WalletUpdate  *walletUpdate           `json:"wallet_update"`
}

// result normalises the wallet payload. The legacy single coin form carries
// no asset name and is attributed to heldAsset.
func (r executionResponse) result(heldAsset string) domain.ExecutionResult {
	res := domain.ExecutionResult{Status: r.Status}
	switch {
	case r.WalletUpdates != nil:
		res.Wallet = make(domain.BalanceUpdates, len(r.WalletUpdates))
		for asset, u := range r.WalletUpdates {
			res.Wallet[strings.ToUpper(asset)] = u.Balance
		}
	case r.WalletUpdate != nil && heldAsset != "":
		res.Wallet = domain.BalanceUpdates{heldAsset: r.WalletUpdate.Balance}
	}
	return res
}

type spotFillRequest struct {
	OrderID   string          `json:"order_id"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Timestamp int64           `json:"timestamp"`
}

type futuresFillRequest struct {
	OrderID   string          `json:"order_id"`
	FillPrice decimal.Decimal `json:"fill_price"`
	Timestamp int64           `json:"timestamp"`
}

// SubmitFill asks the backend to fill a crossed limit order.
func (c *TradingAPI) SubmitFill(ctx context.Context, order domain.PendingOrder, req domain.FillRequest) (domain.ExecutionResult, error) {
	var (
		path string
		body any
	)
	if req.Side.MarketType() == domain.MarketTypeFutures {
		path = "/futures/fill-order"
		body = futuresFillRequest{
			OrderID:   req.OrderID,
			FillPrice: req.TriggerPrice,
			Timestamp: req.ClientTimestamp.UnixMilli(),
		}
	} else {
		path = "/trading/fill-trade"
		body = spotFillRequest{
			OrderID:   req.OrderID,
			Price:     req.TriggerPrice,
			Quantity:  req.Quantity,
			Timestamp: req.ClientTimestamp.UnixMilli(),
		}
	}

	var resp executionResponse
	if err := c.do(ctx, http.MethodPost, path, nil, body, &resp); err != nil {
		return domain.ExecutionResult{}, errors.Wrapf(err, "fill order %s", req.OrderID)
	}

	return resp.result(order.HeldAsset()), nil
}

// CancelOrder cancels a pending order. The response balances reflect the
// released reservation.
func (c *TradingAPI) CancelOrder(ctx context.Context, order domain.PendingOrder) (domain.ExecutionResult, error) {
	path := "/trading/orders/" + url.PathEscape(order.ID)
	if order.Side.MarketType() == domain.MarketTypeFutures {
		path = "/futures/orders/" + url.PathEscape(order.ID)
	}

	var resp executionResponse
	if err := c.do(ctx, http.MethodDelete, path, nil, nil, &resp); err != nil {
		return domain.ExecutionResult{}, errors.Wrapf(err, "cancel order %s", order.ID)
	}

	return resp.result(order.HeldAsset()), nil
}

type closePositionRequest struct {
	PositionID string          `json:"position_id"`
	ExitPrice  decimal.Decimal `json:"exit_price"`
}

// ClosePosition closes an open futures position at exitPrice.
func (c *TradingAPI) ClosePosition(ctx context.Context, positionID string, exitPrice decimal.Decimal) (domain.ExecutionResult, error) {
	path := "/futures/positions/" + url.PathEscape(positionID) + "/close"

	var resp executionResponse
	err := c.do(ctx, http.MethodPost, path, nil, closePositionRequest{PositionID: positionID, ExitPrice: exitPrice}, &resp)
	if err != nil {
		return domain.ExecutionResult{}, errors.Wrapf(err, "close position %s", positionID)
	}

	return resp.result(""), nil
}

type listedOrder struct {
	ID        string          `json:"id"`
	Symbol    string          `json:"symbol"`
	Side      string          `json:"side"`
	OrderType string          `json:"order_type"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Leverage  int             `json:"leverage"`
	Status    string          `json:"status"`
	CreatedAt apiTime         `json:"created_at"`
}

var apiTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// apiTime accepts RFC 3339 and the naive UTC timestamps the backend emits.
type apiTime time.Time

func (t *apiTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil || s == "" {
		return nil
	}
	for _, layout := range apiTimeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			*t = apiTime(parsed)
			return nil
		}
	}
	return errors.Errorf("unrecognised timestamp %q", s)
}

type ordersPage struct {
	Orders []listedOrder `json:"orders"`
}

// ListPendingOrders returns the pending limit orders for an instrument.
func (c *TradingAPI) ListPendingOrders(ctx context.Context, instrument domain.Pair, marketType domain.MarketType) ([]domain.PendingOrder, error) {
	path := "/trading/orders"
	if marketType == domain.MarketTypeFutures {
		path = "/futures/orders"
	}
	query := url.Values{}
	query.Set("symbol", instrument.Symbol())
	query.Set("status", "pending")
	query.Set("limit", fmt.Sprint(pendingPageSize))

	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, query, nil, &raw); err != nil {
		return nil, errors.Wrapf(err, "list pending orders for %s", instrument.Symbol())
	}

	listed, err := decodeOrders(raw)
	if err != nil {
		return nil, err
	}

	out := make([]domain.PendingOrder, 0, len(listed))
	for _, o := range listed {
		if !strings.EqualFold(o.Status, "pending") || !strings.EqualFold(o.OrderType, "limit") {
			continue
		}
		side, err := domain.ParseSide(o.Side)
		if err != nil {
			c.logger.Warn("Skipping order with unknown side", zap.String("order_id", o.ID), zap.String("side", o.Side))
			continue
		}
		if o.Symbol != "" && !strings.EqualFold(o.Symbol, instrument.Symbol()) {
			continue
		}
		out = append(out, domain.PendingOrder{
			ID:         o.ID,
			Instrument: instrument,
			Side:       side,
			LimitPrice: o.Price,
			Quantity:   o.Quantity,
			Leverage:   o.Leverage,
			Status:     domain.OrderStatusPending,
			CreatedAt:  time.Time(o.CreatedAt),
		})
	}

	return out, nil
}

// decodeOrders accepts both the paginated object and a bare array.
func decodeOrders(raw []byte) ([]listedOrder, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var orders []listedOrder
		if err := json.Unmarshal(trimmed, &orders); err != nil {
			return nil, errors.Wrap(err, "decode orders")
		}
		return orders, nil
	}

	var page ordersPage
	if err := json.Unmarshal(trimmed, &page); err != nil {
		return nil, errors.Wrap(err, "decode orders page")
	}
	return page.Orders, nil
}

type balanceItem struct {
	Coin          string              `json:"coin"`
	Currency      string              `json:"currency"`
	Available     decimal.NullDecimal `json:"available"`
	Locked        decimal.NullDecimal `json:"locked"`
	LockedBalance decimal.NullDecimal `json:"locked_balance"`
	Total         decimal.NullDecimal `json:"total"`
	Balance       decimal.NullDecimal `json:"balance"`
}

type balancesResponse struct {
	Spot     []balanceItem `json:"spot"`
	Wallets  []balanceItem `json:"wallets"`
	Balances []balanceItem `json:"balances"`
}

// GetBalances fetches the authoritative wallet.
func (c *TradingAPI) GetBalances(ctx context.Context) (domain.WalletSnapshot, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/wallets/balances", nil, nil, &raw); err != nil {
		return nil, errors.Wrap(err, "get wallet balances")
	}

	var items []balanceItem
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, errors.Wrap(err, "decode balances")
		}
	} else {
		var resp balancesResponse
		if err := json.Unmarshal(trimmed, &resp); err != nil {
			return nil, errors.Wrap(err, "decode balances")
		}
		items = append(append(append(items, resp.Spot...), resp.Wallets...), resp.Balances...)
	}

	wallet := make(domain.WalletSnapshot, len(items))
	for _, it := range items {
		asset := strings.ToUpper(firstNonEmpty(it.Coin, it.Currency))
		if asset == "" {
			continue
		}
		wallet[asset] = it.balance()
	}

	return wallet, nil
}

// balance fills whichever of the three amounts is missing so that
// Total == Available + Locked holds.
func (it balanceItem) balance() domain.AssetBalance {
	locked := pick(it.Locked, it.LockedBalance)
	total := pick(it.Total, it.Balance)

	switch {
	case it.Available.Valid && total.Valid:
		return domain.AssetBalance{Available: it.Available.Decimal, Locked: total.Decimal.Sub(it.Available.Decimal), Total: total.Decimal}
	case it.Available.Valid:
		return domain.AssetBalance{Available: it.Available.Decimal, Locked: locked.Decimal, Total: it.Available.Decimal.Add(locked.Decimal)}
	default:
		return domain.AssetBalance{Available: total.Decimal.Sub(locked.Decimal), Locked: locked.Decimal, Total: total.Decimal}
	}
}

func pick(values ...decimal.NullDecimal) decimal.NullDecimal {
	for _, v := range values {
		if v.Valid {
			return v
		}
	}
	return decimal.NullDecimal{}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func (c *TradingAPI) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "failed to marshal request")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return errors.Wrap(err, "failed to create HTTP request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if method != http.MethodGet {
		req.Header.Set("X-Request-ID", uuid.NewString())
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "HTTP request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read response body")
	}
	raw = normalizeUUIDs(raw)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return classify(resp.StatusCode, errorDetail(raw))
	}

	c.logger.Debug("Trading API call", zap.String("method", method), zap.String("path", path), zap.Int("status", resp.StatusCode))

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Wrap(err, "failed to unmarshal response")
	}

	return nil
}

// classify maps "order is already final" answers to domain.ErrOrderNotPending.
func classify(status int, detail string) error {
	apiErr := &APIError{StatusCode: status, Detail: detail}
	if status == http.StatusNotFound || (status == http.StatusBadRequest && finalStatusDetail.MatchString(detail)) {
		return errors.Wrap(domain.ErrOrderNotPending, apiErr.Error())
	}
	return apiErr
}

// errorDetail extracts a readable message from FastAPI style error bodies:
// {"detail": "..."} or {"detail": [{"msg": "..."}]}.
func errorDetail(raw []byte) string {
	var body struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return strings.TrimSpace(string(raw))
	}

	if len(body.Detail) > 0 {
		var s string
		if err := json.Unmarshal(body.Detail, &s); err == nil {
			return s
		}
		var items []struct {
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal(body.Detail, &items); err == nil {
			msgs := make([]string, 0, len(items))
			for _, it := range items {
				msgs = append(msgs, it.Msg)
			}
			return strings.Join(msgs, "; ")
		}
		return string(body.Detail)
	}

	return firstNonEmpty(body.Message, body.Error, strings.TrimSpace(string(raw)))
}

// normalizeUUIDs rewrites Python UUID('...') reprs leaked by the backend
// into plain JSON strings.
func normalizeUUIDs(raw []byte) []byte {
	if !bytes.Contains(raw, []byte("UUID('")) {
		return raw
	}
	raw = quotedUUIDLiteral.ReplaceAll(raw, []byte(`"$1"`))
	return bareUUIDLiteral.ReplaceAll(raw, []byte(`"$1"`))
}
