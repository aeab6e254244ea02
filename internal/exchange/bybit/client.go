// Package bybit implements the exchange.Client boundary against the Bybit
// v5 REST API for linear perpetual contracts.
package bybit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"alphaledger/internal/exchange"
	"alphaledger/internal/model"
	"alphaledger/pkg/exception"
)

const (
	_bybitBaseURL        = "https://api.bybit.com"
	_bybitBaseURLTestnet = "https://api-testnet.bybit.com"

	_category    = "linear"
	_accountType = "UNIFIED"
	_recvWindow  = "5000"
	_pageLimit   = 100
	_pageDelay   = 100 * time.Millisecond
	_callTimeout = 15 * time.Second
)

type Option struct {
	// BaseURL overrides the endpoint entirely. Leave empty to target
	// mainnet, or testnet when Testnet is set.
	BaseURL   string
	Testnet   bool
	APIKey    string
	APISecret string
	Client    *http.Client
}

type Client struct {
	baseURL string
	key     string
	secret  string
	client  *http.Client
}

func New(option Option) (*Client, error) {
	if len(option.APIKey) == 0 || len(option.APISecret) == 0 {
		return nil, exception.ErrExchangeEmptyCredentials
	}

	baseURL := option.BaseURL
	if len(baseURL) == 0 {
		baseURL = _bybitBaseURL
		if option.Testnet {
			baseURL = _bybitBaseURLTestnet
		}
	}

	client := option.Client
	if client == nil {
		client = &http.Client{Timeout: _callTimeout}
	}

	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		key:     option.APIKey,
		secret:  option.APISecret,
		client:  client,
	}, nil
}

// get performs a signed GET against the v5 API and unwraps the envelope.
// The signature covers "{timestamp}{api_key}{recv_window}{query}" with the
// query pairs sorted and URL-decoded, which is the form the server
// verifies against even though the request line carries the encoded query.
func get[T any](ctx context.Context, c *Client, path string, query url.Values) (T, error) {
	var data Response[T]

	ctx, cancel := context.WithTimeout(ctx, _callTimeout)
	defer cancel()
	r, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return data.Result, err
	}
	r.URL.RawQuery = query.Encode()

	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)

	var signed string
	{
		pairs := make([]string, 0, len(query))
		for k, vs := range query {
			for _, v := range vs {
				pairs = append(pairs, fmt.Sprintf("%s=%s", k, v))
			}
		}
		sort.Strings(pairs)
		paramStr := strings.Join(pairs, "&")
		mac := hmac.New(sha256.New, []byte(c.secret))
		mac.Write([]byte(timestamp + c.key + _recvWindow + paramStr))
		signed = hex.EncodeToString(mac.Sum(nil))
	}

	r.Header.Set("X-BAPI-API-KEY", c.key)
	r.Header.Set("X-BAPI-SIGN", signed)
	r.Header.Set("X-BAPI-TIMESTAMP", timestamp)
	r.Header.Set("X-BAPI-RECV-WINDOW", _recvWindow)
	r.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(r)
	if err != nil {
		return data.Result, err
	}
	defer resp.Body.Close()

	if err := sonic.ConfigFastest.NewDecoder(resp.Body).Decode(&data); err != nil {
		return data.Result, errors.Wrapf(exception.ErrExchangeDecodeResponseBody, "%s: %+v", path, err)
	}

	if data.RetCode != 0 {
		return data.Result, errors.Wrapf(exception.ErrExchangeResponseCode, "%s: code %d, msg: %s", path, data.RetCode, data.RetMsg)
	}

	return data.Result, nil
}

// Position returns the venue's current snapshot for one symbol. A missing
// row, a side of "None" or a zero size all mean flat.
func (c *Client) Position(ctx context.Context, symbol string) (exchange.PositionSnapshot, error) {
	query := url.Values{}
	query.Set("category", _category)
	query.Set("symbol", symbol)

	result, err := get[ResponsePositionList](ctx, c, "/v5/position/list", query)
	if err != nil {
		return exchange.PositionSnapshot{}, err
	}

	flat := exchange.PositionSnapshot{
		Symbol:   symbol,
		Quantity: decimal.Zero,
		AvgPrice: decimal.Zero,
	}

	for i := range result.List {
		row := &result.List[i]
		if row.Symbol != symbol {
			continue
		}

		side := model.Side(row.Side)
		if !side.IsAvailable() {
			return flat, nil
		}

		size, err := parseDecimal("size", row.Size)
		if err != nil {
			return exchange.PositionSnapshot{}, err
		}

		if size.IsZero() {
			return flat, nil
		}

		avgPrice, err := parseDecimal("avgPrice", row.AvgPrice)
		if err != nil {
			return exchange.PositionSnapshot{}, err
		}

		return exchange.PositionSnapshot{
			Symbol:   symbol,
			Side:     side,
			Quantity: size,
			AvgPrice: avgPrice,
		}, nil
	}

	return flat, nil
}

// Executions pages through the fill history from since to now and returns
// it oldest first.
func (c *Client) Executions(ctx context.Context, symbol string, since time.Time) ([]exchange.Execution, error) {
	var (
		out    []exchange.Execution
		cursor string
		end    = time.Now()
	)

	for {
		query := url.Values{}
		query.Set("category", _category)
		query.Set("symbol", symbol)
		query.Set("limit", strconv.Itoa(_pageLimit))
		query.Set("startTime", strconv.FormatInt(since.UnixMilli(), 10))
		query.Set("endTime", strconv.FormatInt(end.UnixMilli(), 10))
		if len(cursor) != 0 {
			query.Set("cursor", cursor)
		}

		result, err := get[ResponseExecutionList](ctx, c, "/v5/execution/list", query)
		if err != nil {
			return nil, err
		}

		for i := range result.List {
			ex, err := toExecution(&result.List[i])
			if err != nil {
				return nil, err
			}
			out = append(out, ex)
		}

		if len(result.NextPageCursor) == 0 || len(result.List) == 0 {
			break
		}
		cursor = result.NextPageCursor

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(_pageDelay):
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Time.Before(out[j].Time)
	})

	return out, nil
}

// ClosedPnL fetches one page of settled close records inside [start, end].
// The caller drives the pagination with the returned cursor.
func (c *Client) ClosedPnL(ctx context.Context, symbol string, start, end time.Time, cursor string) ([]exchange.ClosedPnL, string, error) {
	query := url.Values{}
	query.Set("category", _category)
	query.Set("limit", strconv.Itoa(_pageLimit))
	if len(symbol) != 0 {
		query.Set("symbol", symbol)
	}
	if !start.IsZero() {
		query.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
	}
	if !end.IsZero() {
		query.Set("endTime", strconv.FormatInt(end.UnixMilli(), 10))
	}
	if len(cursor) != 0 {
		query.Set("cursor", cursor)
	}

	result, err := get[ResponseClosedPnlList](ctx, c, "/v5/position/closed-pnl", query)
	if err != nil {
		return nil, "", err
	}

	records := make([]exchange.ClosedPnL, 0, len(result.List))
	for i := range result.List {
		record, err := toClosedPnl(&result.List[i])
		if err != nil {
			return nil, "", err
		}
		records = append(records, record)
	}

	return records, result.NextPageCursor, nil
}

// TotalEquity returns the unified account's total equity. Used for the
// heartbeat equity curve; position math never depends on it.
func (c *Client) TotalEquity(ctx context.Context) (decimal.Decimal, error) {
	query := url.Values{}
	query.Set("accountType", _accountType)

	result, err := get[ResponseWalletBalanceList](ctx, c, "/v5/account/wallet-balance", query)
	if err != nil {
		return decimal.Zero, err
	}

	for i := range result.List {
		row := &result.List[i]
		if row.AccountType != _accountType {
			continue
		}

		return parseDecimal("totalEquity", row.TotalEquity)
	}

	return decimal.Zero, errors.Wrapf(exception.ErrExchangeDecodeResponseBody, "no %s account in wallet balance", _accountType)
}
