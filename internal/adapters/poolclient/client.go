// Package poolclient implements the typed RPC facade over the external
// pool service described in §4.A and §6.1. It is the only place this
// repository speaks to broker connectivity, and it never synthesizes an
// empty positions list on transport failure (§9).
package poolclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/jpillora/backoff"
	"github.com/shopspring/decimal"

	"copytrader/internal/breaker"
	"copytrader/internal/domain"
	"copytrader/internal/ports"
)

// Config holds construction parameters for Client.
type Config struct {
	BaseURL    string
	Logger     ports.Logger
	Notifier   ports.Notifier
	Breaker    *breaker.Breaker
	Timeout    time.Duration
	NicknameOf func(accountID string) string
}

// Client implements ports.PoolClient over HTTP/JSON.
type Client struct {
	http       *resty.Client
	logger     ports.Logger
	notifier   ports.Notifier
	breaker    *breaker.Breaker
	nicknameOf func(accountID string) string
}

// New creates a pool-service client. Construction never contacts the
// network; accountInfo calls during routing-config validation (§4.D) are
// what actually prove reachability.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for pool client")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("pool service base URL is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetRetryCount(0) // retries are owned by internal/retry + copyExit, not the transport

	breakerState := cfg.Breaker
	if breakerState == nil {
		breakerState = breaker.New()
	}
	nickname := cfg.NicknameOf
	if nickname == nil {
		nickname = func(accountID string) string { return accountID }
	}

	return &Client{
		http:       httpClient,
		logger:     cfg.Logger,
		notifier:   cfg.Notifier,
		breaker:    breakerState,
		nicknameOf: nickname,
	}, nil
}

// reconnectListenerBackoff paces retries of the reconnection long-poll
// connection after a transport failure. Jittered, unlike the exact
// 5s-then-10s replication schedule, since this is a network reconnect
// loop rather than a bounded-attempt protocol with a spec-mandated
// cadence.
func reconnectListenerBackoff() *backoff.Backoff {
	return &backoff.Backoff{
		Min:    5 * time.Second,
		Max:    20 * time.Second,
		Factor: 2,
		Jitter: true,
	}
}

type accountInfoResponse struct {
	Balance    float64 `json:"balance"`
	Equity     float64 `json:"equity"`
	Margin     float64 `json:"margin"`
	FreeMargin float64 `json:"freeMargin"`
	Currency   string  `json:"currency"`
	Platform   string  `json:"platform"`
}

func (c *Client) AccountInfo(ctx context.Context, accountID, region string) (*ports.AccountInfo, error) {
	var body accountInfoResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("region", region).
		SetResult(&body).
		Get("/account/" + accountID)
	if err := c.classify(ctx, accountID, "accountInfo", resp, err); err != nil {
		return nil, err
	}
	return &ports.AccountInfo{
		Balance:  decimal.NewFromFloat(body.Balance),
		Equity:   decimal.NewFromFloat(body.Equity),
		Currency: body.Currency,
		Platform: body.Platform,
	}, nil
}

type positionWire struct {
	ID            string  `json:"id"`
	Symbol        string  `json:"symbol"`
	Type          string  `json:"type"`
	Volume        float64 `json:"volume"`
	OpenPrice     float64 `json:"openPrice"`
	CurrentPrice  float64 `json:"currentPrice"`
	StopLoss      float64 `json:"stopLoss"`
	HasStopLoss   bool    `json:"-"`
	TakeProfit    float64 `json:"takeProfit"`
	HasTakeProfit bool    `json:"-"`
	Profit        float64 `json:"profit"`
	Time          string  `json:"time"`
}

type positionsResponse struct {
	Positions []positionWire `json:"positions"`
}

// Positions returns the authoritative current set of positions for
// accountID. It NEVER returns a nil slice paired with a nil error; on
// any transport failure it returns (nil, *ports.TransportError) so the
// caller cannot mistake "couldn't reach the pool" for "nothing is open".
func (c *Client) Positions(ctx context.Context, accountID, region string) ([]domain.DestPosition, error) {
	var body positionsResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("region", region).
		SetResult(&body).
		Get("/positions/" + accountID)
	if cerr := c.classify(ctx, accountID, "positions", resp, err); cerr != nil {
		return nil, cerr
	}

	out := make([]domain.DestPosition, 0, len(body.Positions))
	for _, p := range body.Positions {
		out = append(out, toDestPosition(accountID, p))
	}
	return out, nil
}

func toDestPosition(accountID string, p positionWire) domain.DestPosition {
	side := domain.Long
	if strings.Contains(p.Type, "SELL") {
		side = domain.Short
	}
	openTime, _ := time.Parse(time.RFC3339, p.Time)
	dp := domain.DestPosition{
		AccountID:  accountID,
		PositionID: p.ID,
		Symbol:     p.Symbol,
		Side:       side,
		Volume:     decimal.NewFromFloat(p.Volume),
		OpenPrice:  decimal.NewFromFloat(p.OpenPrice),
		OpenTime:   openTime,
		PNL:        decimal.NewFromFloat(p.Profit),
	}
	if p.StopLoss != 0 {
		sl := decimal.NewFromFloat(p.StopLoss)
		dp.StopLoss = &sl
	}
	if p.TakeProfit != 0 {
		tp := decimal.NewFromFloat(p.TakeProfit)
		dp.TakeProfit = &tp
	}
	return dp
}

type executeTradeRequest struct {
	AccountID  string   `json:"account_id"`
	Region     string   `json:"region"`
	Symbol     string   `json:"symbol"`
	Action     string   `json:"action"`
	Volume     float64  `json:"volume"`
	StopLoss   *float64 `json:"stop_loss,omitempty"`
	TakeProfit *float64 `json:"take_profit,omitempty"`
	Comment    string   `json:"comment,omitempty"`
}

type executeTradeResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Result  struct {
		PositionID string  `json:"positionId"`
		OpenPrice  float64 `json:"openPrice"`
	} `json:"result"`
}

func (c *Client) ExecuteTrade(ctx context.Context, accountID, region, symbol string, side domain.Side, volume decimal.Decimal, stopLoss, takeProfit *decimal.Decimal, clientTag string) (*ports.ExecuteResult, error) {
	action := "BUY"
	if side == domain.Short {
		action = "SELL"
	}
	req := executeTradeRequest{
		AccountID: accountID,
		Region:    region,
		Symbol:    symbol,
		Action:    action,
		Volume:    volume.InexactFloat64(),
		Comment:   clientTag,
	}
	if stopLoss != nil {
		v := stopLoss.InexactFloat64()
		req.StopLoss = &v
	}
	if takeProfit != nil {
		v := takeProfit.InexactFloat64()
		req.TakeProfit = &v
	}

	var body executeTradeResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&body).
		Post("/trade/execute")
	if cerr := c.classify(ctx, accountID, "executeTrade", resp, err); cerr != nil {
		return nil, cerr
	}
	if !body.Success {
		return nil, &ports.BrokerRejected{Op: "executeTrade", Message: body.Error}
	}
	return &ports.ExecuteResult{
		PositionID: body.Result.PositionID,
		OpenPrice:  decimal.NewFromFloat(body.Result.OpenPrice),
	}, nil
}

type modifyPositionRequest struct {
	AccountID  string  `json:"account_id"`
	Region     string  `json:"region"`
	PositionID string  `json:"position_id"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
}

func (c *Client) ModifyPosition(ctx context.Context, accountID, region, positionID string, stopLoss, takeProfit *decimal.Decimal) error {
	req := modifyPositionRequest{AccountID: accountID, Region: region, PositionID: positionID}
	if stopLoss != nil {
		req.StopLoss = stopLoss.InexactFloat64()
	}
	if takeProfit != nil {
		req.TakeProfit = takeProfit.InexactFloat64()
	}

	var body struct {
		Success bool `json:"success"`
	}
	resp, err := c.http.R().SetContext(ctx).SetBody(req).SetResult(&body).Post("/position/modify")
	return c.classify(ctx, accountID, "modifyPosition", resp, err)
}

type closePositionRequest struct {
	AccountID  string `json:"account_id"`
	Region     string `json:"region"`
	PositionID string `json:"position_id"`
}

type closePositionResponse struct {
	Success bool    `json:"success"`
	Profit  float64 `json:"profit"`
	OrderID string  `json:"order_id"`
}

func (c *Client) ClosePosition(ctx context.Context, accountID, region, positionID string) (*ports.CloseResult, error) {
	req := closePositionRequest{AccountID: accountID, Region: region, PositionID: positionID}
	var body closePositionResponse
	resp, err := c.http.R().SetContext(ctx).SetBody(req).SetResult(&body).Post("/position/close")
	if cerr := c.classify(ctx, accountID, "closePosition", resp, err); cerr != nil {
		return nil, cerr
	}
	return &ports.CloseResult{Profit: decimal.NewFromFloat(body.Profit), OrderID: body.OrderID}, nil
}

func (c *Client) History(ctx context.Context, accountID string, days, limit int) ([]domain.DestPosition, error) {
	var body positionsResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("days", fmt.Sprintf("%d", days)).
		SetQueryParam("limit", fmt.Sprintf("%d", limit)).
		SetResult(&body).
		Get("/history/" + accountID)
	if err != nil || (resp != nil && resp.IsError()) {
		// History is best-effort (§4.A): log and return empty, never fail the caller.
		c.logger.Warn(ctx, "history call failed, returning empty result", map[string]interface{}{"accountId": accountID})
		return nil, nil
	}
	out := make([]domain.DestPosition, 0, len(body.Positions))
	for _, p := range body.Positions {
		out = append(out, toDestPosition(accountID, p))
	}
	return out, nil
}

// RegisterReconnectionCallback registers fn with the pool service, then
// keeps a long-poll connection open for the lifetime of ctx: the pool
// service holds each request until it has a resync to announce, and fn
// is invoked once per response. ctx should live as long as the caller
// wants reconnection announcements delivered; the listener goroutine
// exits when ctx is canceled.
func (c *Client) RegisterReconnectionCallback(ctx context.Context, fn func()) error {
	resp, err := c.http.R().SetContext(ctx).Post("/streaming/register-reconnection-callback")
	if err := c.classify(ctx, "", "registerReconnectionCallback", resp, err); err != nil {
		return err
	}
	go c.listenForReconnects(ctx, fn)
	return nil
}

// listenForReconnects long-polls the same endpoint in a loop, calling fn
// on every response and backing off between attempts after a transport
// failure, rather than busy-looping against an unreachable pool service.
func (c *Client) listenForReconnects(ctx context.Context, fn func()) {
	b := reconnectListenerBackoff()
	for {
		if ctx.Err() != nil {
			return
		}

		resp, err := c.http.R().SetContext(ctx).Post("/streaming/register-reconnection-callback")
		if err != nil || (resp != nil && resp.IsError()) {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn(ctx, "reconnection listener call failed, backing off", map[string]interface{}{"error": fmt.Sprint(err)})
			select {
			case <-time.After(b.Duration()):
			case <-ctx.Done():
				return
			}
			continue
		}

		b.Reset()
		fn()
	}
}

// classify turns a resty response/error into the §7 error taxonomy and
// drives the per-account breaker + Telemetry alert (§4.A).
func (c *Client) classify(ctx context.Context, accountID, op string, resp *resty.Response, err error) error {
	if err == nil && resp != nil && !resp.IsError() {
		if accountID != "" {
			c.breaker.RecordSuccess(accountID)
		}
		return nil
	}

	refused := isConnectionRefused(err)
	if accountID != "" {
		if c.breaker.RecordFailure(accountID, refused, time.Now()) && c.notifier != nil {
			c.notifier.Notify(ctx, ports.SeverityWarning, "pool account failing",
				fmt.Sprintf("account %s (%s) has failed repeated %s calls", c.nicknameOf(accountID), accountID, op))
		}
	}

	if err != nil {
		return &ports.TransportError{Kind: classifyKind(refused), Op: op, Err: err}
	}
	if resp.StatusCode() == 429 {
		return &ports.TransportError{Kind: ports.TransportTimeout, Op: op, Err: ports.ErrRateLimited}
	}
	if resp.StatusCode() >= 500 {
		return &ports.TransportError{Kind: ports.TransportTimeout, Op: op, Err: fmt.Errorf("pool service returned %d", resp.StatusCode())}
	}
	if resp.StatusCode() == 404 {
		return ports.ErrUnknownPosition
	}
	return &ports.BrokerRejected{Op: op, Code: fmt.Sprintf("%d", resp.StatusCode()), Message: resp.String()}
}

func classifyKind(refused bool) ports.TransportKind {
	if refused {
		return ports.TransportRefused
	}
	return ports.TransportTimeout
}

func isConnectionRefused(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return strings.Contains(err.Error(), "connection refused") || strings.Contains(err.Error(), "connect: connection refused")
	}
	return strings.Contains(err.Error(), "connection refused")
}
