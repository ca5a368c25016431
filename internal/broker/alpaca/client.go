// Package alpaca is the paper-trading brokerage adapter.
package alpaca

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/crajarshi/SwingTrading/internal/broker"
	"github.com/crajarshi/SwingTrading/internal/contracts"
	"github.com/crajarshi/SwingTrading/pkg/apperr"
	"github.com/crajarshi/SwingTrading/pkg/config"
	"github.com/crajarshi/SwingTrading/pkg/httputil"
	"github.com/crajarshi/SwingTrading/pkg/logger"
)

const (
	headerKeyID     = "APCA-API-KEY-ID"
	headerSecretKey = "APCA-API-SECRET-KEY"

	orderPage    = 500
	maxOrderPage = 50
	activityPage = 100
)

// Client talks to the Alpaca paper-trading REST API
// ⭐ SSOT: every Alpaca trading call goes through this client
type Client struct {
	cfg    config.AlpacaConfig
	base   string
	loc    *time.Location
	reads  *httputil.Client
	writes *httputil.Client
	logger *logger.Logger
}

// NewClient creates an Alpaca client
// Only paper endpoints are accepted. Order writes go through writes, which
// carries the order-write rate limit; nil writes reuses reads.
func NewClient(cfg config.AlpacaConfig, loc *time.Location, reads, writes *httputil.Client, log *logger.Logger) (*Client, error) {
	if !strings.Contains(strings.ToLower(cfg.BaseURL), "paper") {
		return nil, apperr.Configf("alpaca client", "refusing non-paper endpoint %q", cfg.BaseURL)
	}
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, apperr.Configf("alpaca client", "missing API credentials")
	}
	if writes == nil {
		writes = reads
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, c := range []*httputil.Client{reads, writes} {
		Authorize(c, cfg)
	}

	log.WithFields(map[string]interface{}{
		"base_url": cfg.BaseURL,
		"account":  cfg.AccountAlias,
	}).Info("Alpaca paper client initialized")

	return &Client{
		cfg:    cfg,
		base:   strings.TrimRight(cfg.BaseURL, "/"),
		loc:    loc,
		reads:  reads,
		writes: writes,
		logger: log.WithField("module", "alpaca"),
	}, nil
}

// Authorize attaches the API key headers to an outbound client
func Authorize(c *httputil.Client, cfg config.AlpacaConfig) *httputil.Client {
	return c.WithHeader(headerKeyID, cfg.APIKey).WithHeader(headerSecretKey, cfg.APISecret)
}

func (c *Client) url(path string, q url.Values) string {
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

// PaperCapabilities are the order types the paper endpoint accepts
// Alpaca rejects bracket legs on opg orders.
var PaperCapabilities = broker.Capabilities{
	OpeningAuctionBracket: false,
	OpeningAuction:        true,
	OCO:                   true,
}

// Capabilities implements broker.Broker
func (c *Client) Capabilities() broker.Capabilities {
	return PaperCapabilities
}

// GetAccount implements broker.Broker
func (c *Client) GetAccount(ctx context.Context) (*contracts.Account, error) {
	var a apiAccount
	if err := c.reads.GetJSON(ctx, c.url("/v2/account", nil), &a); err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a.toContract(), nil
}

// GetPositions implements broker.Broker
func (c *Client) GetPositions(ctx context.Context) ([]contracts.Position, error) {
	var raw []apiPosition
	if err := c.reads.GetJSON(ctx, c.url("/v2/positions", nil), &raw); err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}
	out := make([]contracts.Position, 0, len(raw))
	for _, p := range raw {
		out = append(out, p.toContract())
	}
	return out, nil
}

// GetPosition implements broker.Broker
func (c *Client) GetPosition(ctx context.Context, symbol string) (*contracts.Position, error) {
	var p apiPosition
	err := c.reads.GetJSON(ctx, c.url("/v2/positions/"+url.PathEscape(symbol), nil), &p)
	if apperr.StatusCode(err) == http.StatusNotFound {
		return nil, broker.ErrPositionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s: %w", symbol, err)
	}
	pos := p.toContract()
	return &pos, nil
}

// ListOrders implements broker.Broker
// Pages newest first, moving the until bound to the oldest submission seen.
func (c *Client) ListOrders(ctx context.Context, status string) ([]contracts.Order, error) {
	out := []contracts.Order{}
	seen := make(map[string]bool)
	until := ""
	for page := 0; page < maxOrderPage; page++ {
		q := url.Values{}
		q.Set("status", status)
		q.Set("limit", strconv.Itoa(orderPage))
		q.Set("direction", "desc")
		q.Set("nested", "true")
		if until != "" {
			q.Set("until", until)
		}

		var raw []apiOrder
		if err := c.reads.GetJSON(ctx, c.url("/v2/orders", q), &raw); err != nil {
			return nil, fmt.Errorf("list %s orders: %w", status, err)
		}

		added := 0
		var oldest time.Time
		for _, o := range raw {
			if oldest.IsZero() || o.SubmittedAt.Before(oldest) {
				oldest = o.SubmittedAt
			}
			if seen[o.ID] {
				continue
			}
			seen[o.ID] = true
			out = append(out, o.toContract())
			added++
		}
		if len(raw) < orderPage || added == 0 || oldest.IsZero() {
			return out, nil
		}
		until = oldest.UTC().Format(time.RFC3339Nano)
	}
	c.logger.WithField("status", status).Warn("Order listing truncated")
	return out, nil
}

// GetOrder implements broker.Broker
func (c *Client) GetOrder(ctx context.Context, orderID string) (*contracts.Order, error) {
	var o apiOrder
	q := url.Values{"nested": {"true"}}
	if err := c.reads.GetJSON(ctx, c.url("/v2/orders/"+url.PathEscape(orderID), q), &o); err != nil {
		return nil, fmt.Errorf("get order %s: %w", orderID, err)
	}
	out := o.toContract()
	return &out, nil
}

// GetOrderByClientID implements broker.Broker
func (c *Client) GetOrderByClientID(ctx context.Context, clientOrderID string) (*contracts.Order, error) {
	var o apiOrder
	q := url.Values{"client_order_id": {clientOrderID}}
	err := c.reads.GetJSON(ctx, c.url("/v2/orders:by_client_order_id", q), &o)
	if apperr.StatusCode(err) == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup client order %s: %w", clientOrderID, err)
	}
	out := o.toContract()
	return &out, nil
}

// CancelOrder implements broker.Broker
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	if err := c.writes.Delete(ctx, c.url("/v2/orders/"+url.PathEscape(orderID), nil)); err != nil {
		return fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	c.logger.WithField("order_id", orderID).Info("Order cancelled")
	return nil
}

// SubmitBracketOrder implements broker.Broker
func (c *Client) SubmitBracketOrder(ctx context.Context, req contracts.BracketRequest) (*contracts.Order, error) {
	body := orderRequest{
		Symbol:        req.Symbol,
		Qty:           strconv.Itoa(req.Qty),
		Side:          string(req.Side),
		Type:          string(req.Entry.Type),
		TimeInForce:   string(req.Entry.TIF),
		ClientOrderID: req.ClientOrderID,
		OrderClass:    "bracket",
		TakeProfit:    &takeProfit{LimitPrice: price(req.TargetPrice)},
		StopLoss:      &stopLoss{StopPrice: price(req.StopPrice)},
	}
	if req.Entry.Type == contracts.OrderTypeLimit && req.Entry.LimitPrice != nil {
		body.LimitPrice = price(*req.Entry.LimitPrice)
	}
	return c.submit(ctx, body)
}

// SubmitOpeningAuctionEntry implements broker.Broker
func (c *Client) SubmitOpeningAuctionEntry(ctx context.Context, req contracts.EntryRequest) (*contracts.Order, error) {
	if req.LimitPrice == nil {
		return nil, apperr.Configf("submit opg entry", "%s: opening-auction entry needs a limit price", req.Symbol)
	}
	return c.submit(ctx, orderRequest{
		Symbol:        req.Symbol,
		Qty:           strconv.Itoa(req.Qty),
		Side:          string(req.Side),
		Type:          string(contracts.OrderTypeLimit),
		TimeInForce:   string(contracts.TIFOPG),
		LimitPrice:    price(*req.LimitPrice),
		ClientOrderID: req.ClientOrderID,
	})
}

// SubmitOCOStops implements broker.Broker
func (c *Client) SubmitOCOStops(ctx context.Context, req contracts.OCORequest) (*contracts.Order, error) {
	sl := &stopLoss{StopPrice: price(req.StopPrice)}
	if req.StopLimitPrice > 0 {
		sl.LimitPrice = price(req.StopLimitPrice)
	}
	return c.submit(ctx, orderRequest{
		Symbol:        req.Symbol,
		Qty:           strconv.Itoa(req.Qty),
		Side:          string(contracts.SideSell),
		Type:          string(contracts.OrderTypeLimit),
		TimeInForce:   string(contracts.TIFGTC),
		LimitPrice:    price(req.TargetPrice),
		ClientOrderID: req.ClientOrderID,
		OrderClass:    "oco",
		StopLoss:      sl,
	})
}

// SubmitOrder implements broker.Broker
func (c *Client) SubmitOrder(ctx context.Context, req contracts.EntryRequest) (*contracts.Order, error) {
	body := orderRequest{
		Symbol:        req.Symbol,
		Qty:           strconv.Itoa(req.Qty),
		Side:          string(req.Side),
		Type:          string(req.Type),
		TimeInForce:   string(req.TIF),
		ClientOrderID: req.ClientOrderID,
	}
	if req.LimitPrice != nil {
		body.LimitPrice = price(*req.LimitPrice)
	}
	return c.submit(ctx, body)
}

func (c *Client) submit(ctx context.Context, body orderRequest) (*contracts.Order, error) {
	if body.Qty == "" || body.Qty == "0" {
		return nil, apperr.Configf("submit order", "%s: quantity must be positive", body.Symbol)
	}
	var o apiOrder
	if err := c.writes.PostJSON(ctx, c.url("/v2/orders", nil), body, &o); err != nil {
		return nil, fmt.Errorf("submit %s order for %s: %w", body.OrderClass, body.Symbol, err)
	}
	c.logger.WithFields(map[string]interface{}{
		"symbol":          body.Symbol,
		"qty":             body.Qty,
		"side":            body.Side,
		"type":            body.Type,
		"time_in_force":   body.TimeInForce,
		"order_class":     body.OrderClass,
		"client_order_id": body.ClientOrderID,
		"order_id":        o.ID,
	}).Info("Order submitted")
	out := o.toContract()
	return &out, nil
}

// GetActivities implements broker.Broker
func (c *Client) GetActivities(ctx context.Context, date string) ([]contracts.Activity, error) {
	var out []contracts.Activity
	pageToken := ""
	for {
		q := url.Values{}
		q.Set("activity_types", "FILL")
		q.Set("date", date)
		q.Set("direction", "asc")
		q.Set("page_size", strconv.Itoa(activityPage))
		if pageToken != "" {
			q.Set("page_token", pageToken)
		}

		var raw []apiActivity
		if err := c.reads.GetJSON(ctx, c.url("/v2/account/activities", q), &raw); err != nil {
			return nil, fmt.Errorf("get activities %s: %w", date, err)
		}
		for _, a := range raw {
			act := a.toContract()
			act.TransactionTime = act.TransactionTime.In(c.loc)
			out = append(out, act)
		}
		if len(raw) < activityPage {
			return out, nil
		}
		pageToken = raw[len(raw)-1].ID
	}
}

var _ broker.Broker = (*Client)(nil)
