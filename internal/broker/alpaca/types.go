package alpaca

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/crajarshi/SwingTrading/internal/contracts"
)

// num decodes the API's quoted decimals, bare numbers and null
type num float64

func (n *num) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("parse number %q: %w", b, err)
	}
	*n = num(v)
	return nil
}

func (n *num) ptr() *float64 {
	if n == nil {
		return nil
	}
	v := float64(*n)
	return &v
}

// price formats a price for an order request
func price(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}

type apiAccount struct {
	ID               string `json:"id"`
	AccountNumber    string `json:"account_number"`
	Status           string `json:"status"`
	Currency         string `json:"currency"`
	Equity           num    `json:"equity"`
	LastEquity       num    `json:"last_equity"`
	Cash             num    `json:"cash"`
	BuyingPower      num    `json:"buying_power"`
	PortfolioValue   num    `json:"portfolio_value"`
	LongMarketValue  num    `json:"long_market_value"`
	PatternDayTrader bool   `json:"pattern_day_trader"`
	TradingBlocked   bool   `json:"trading_blocked"`
}

func (a apiAccount) toContract() *contracts.Account {
	return &contracts.Account{
		ID:               a.ID,
		Status:           a.Status,
		Currency:         a.Currency,
		Equity:           float64(a.Equity),
		LastEquity:       float64(a.LastEquity),
		Cash:             float64(a.Cash),
		BuyingPower:      float64(a.BuyingPower),
		PortfolioValue:   float64(a.PortfolioValue),
		LongMarketValue:  float64(a.LongMarketValue),
		PatternDayTrader: a.PatternDayTrader,
		TradingBlocked:   a.TradingBlocked,
	}
}

type apiPosition struct {
	Symbol               string `json:"symbol"`
	Qty                  num    `json:"qty"`
	Side                 string `json:"side"`
	AvgEntryPrice        num    `json:"avg_entry_price"`
	CurrentPrice         num    `json:"current_price"`
	LastdayPrice         num    `json:"lastday_price"`
	MarketValue          num    `json:"market_value"`
	CostBasis            num    `json:"cost_basis"`
	UnrealizedPL         num    `json:"unrealized_pl"`
	UnrealizedPLPC       num    `json:"unrealized_plpc"`
	UnrealizedIntradayPL num    `json:"unrealized_intraday_pl"`
}

func (p apiPosition) toContract() contracts.Position {
	return contracts.Position{
		Symbol:               p.Symbol,
		Qty:                  int(p.Qty),
		Side:                 p.Side,
		AvgEntryPrice:        float64(p.AvgEntryPrice),
		CurrentPrice:         float64(p.CurrentPrice),
		LastdayPrice:         float64(p.LastdayPrice),
		MarketValue:          float64(p.MarketValue),
		CostBasis:            float64(p.CostBasis),
		UnrealizedPL:         float64(p.UnrealizedPL),
		UnrealizedPLPC:       float64(p.UnrealizedPLPC),
		UnrealizedIntradayPL: float64(p.UnrealizedIntradayPL),
	}
}

type apiOrder struct {
	ID             string     `json:"id"`
	ClientOrderID  string     `json:"client_order_id"`
	Symbol         string     `json:"symbol"`
	Side           string     `json:"side"`
	Type           string     `json:"type"`
	TimeInForce    string     `json:"time_in_force"`
	OrderClass     string     `json:"order_class"`
	Qty            num        `json:"qty"`
	FilledQty      num        `json:"filled_qty"`
	FilledAvgPrice num        `json:"filled_avg_price"`
	LimitPrice     *num       `json:"limit_price"`
	StopPrice      *num       `json:"stop_price"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	SubmittedAt    time.Time  `json:"submitted_at"`
	FilledAt       *time.Time `json:"filled_at"`
	Legs           []apiOrder `json:"legs"`
}

func (o apiOrder) toContract() contracts.Order {
	out := contracts.Order{
		ID:             o.ID,
		ClientOrderID:  o.ClientOrderID,
		Symbol:         o.Symbol,
		Side:           contracts.Side(o.Side),
		Type:           contracts.OrderType(o.Type),
		TIF:            contracts.TimeInForce(o.TimeInForce),
		OrderClass:     o.OrderClass,
		Qty:            int(o.Qty),
		FilledQty:      int(o.FilledQty),
		FilledAvgPrice: float64(o.FilledAvgPrice),
		LimitPrice:     o.LimitPrice.ptr(),
		StopPrice:      o.StopPrice.ptr(),
		Status:         o.Status,
		State:          contracts.ParseOrderState(o.Status),
		CreatedAt:      o.CreatedAt,
		SubmittedAt:    o.SubmittedAt,
		FilledAt:       o.FilledAt,
	}
	for _, leg := range o.Legs {
		out.Legs = append(out.Legs, leg.toContract())
	}
	return out
}

type apiActivity struct {
	ID              string    `json:"id"`
	ActivityType    string    `json:"activity_type"`
	Symbol          string    `json:"symbol"`
	Side            string    `json:"side"`
	Qty             num       `json:"qty"`
	Price           num       `json:"price"`
	OrderID         string    `json:"order_id"`
	TransactionTime time.Time `json:"transaction_time"`
}

func (a apiActivity) toContract() contracts.Activity {
	side := contracts.SideBuy
	if a.Side != string(contracts.SideBuy) {
		side = contracts.SideSell
	}
	return contracts.Activity{
		ID:              a.ID,
		ActivityType:    a.ActivityType,
		Symbol:          a.Symbol,
		Side:            side,
		Qty:             int(a.Qty),
		Price:           float64(a.Price),
		OrderID:         a.OrderID,
		TransactionTime: a.TransactionTime,
	}
}

type takeProfit struct {
	LimitPrice string `json:"limit_price"`
}

type stopLoss struct {
	StopPrice  string `json:"stop_price"`
	LimitPrice string `json:"limit_price,omitempty"`
}

// orderRequest is the POST /v2/orders body
type orderRequest struct {
	Symbol        string      `json:"symbol"`
	Qty           string      `json:"qty"`
	Side          string      `json:"side"`
	Type          string      `json:"type"`
	TimeInForce   string      `json:"time_in_force"`
	LimitPrice    string      `json:"limit_price,omitempty"`
	ClientOrderID string      `json:"client_order_id,omitempty"`
	OrderClass    string      `json:"order_class,omitempty"`
	TakeProfit    *takeProfit `json:"take_profit,omitempty"`
	StopLoss      *stopLoss   `json:"stop_loss,omitempty"`
}

// streamMessage is one frame on the trade_updates stream
type streamMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type authData struct {
	Status string `json:"status"`
	Action string `json:"action"`
}

type tradeUpdateData struct {
	Event     string    `json:"event"`
	Price     *num      `json:"price"`
	Qty       *num      `json:"qty"`
	Timestamp time.Time `json:"timestamp"`
	Order     apiOrder  `json:"order"`
}

// TradeUpdate is a fill, cancel or other order event from the stream
type TradeUpdate struct {
	Event     string          `json:"event"`
	Price     float64         `json:"price,omitempty"`
	Qty       int             `json:"qty,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Order     contracts.Order `json:"order"`
}
