package alpaca

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/crajarshi/SwingTrading/pkg/apperr"
	"github.com/crajarshi/SwingTrading/pkg/config"
	"github.com/crajarshi/SwingTrading/pkg/logger"
)

// Stream timing
const (
	handshakeTimeout      = 10 * time.Second
	authTimeout           = 10 * time.Second
	pingInterval          = 30 * time.Second
	reconnectInitialDelay = 1 * time.Second
	reconnectMaxDelay     = 30 * time.Second
)

const streamTradeUpdates = "trade_updates"

// Stream consumes the trade_updates websocket
type Stream struct {
	url    string
	key    string
	secret string
	dialer websocket.Dialer
	logger *logger.Logger
}

// NewStream creates a trade-update stream client
func NewStream(cfg config.AlpacaConfig, log *logger.Logger) *Stream {
	return &Stream{
		url:    cfg.StreamURL,
		key:    cfg.APIKey,
		secret: cfg.APISecret,
		dialer: websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		logger: log.WithField("module", "alpaca_stream"),
	}
}

// Run delivers trade updates to handle until ctx is done, reconnecting on failure
// An authorization failure is returned immediately.
func (s *Stream) Run(ctx context.Context, handle func(TradeUpdate)) error {
	delay := reconnectInitialDelay
	for {
		err := s.session(ctx, handle)
		if ctx.Err() != nil {
			return nil
		}
		if apperr.Is(err, apperr.KindAuthorization) {
			return err
		}
		s.logger.WithError(err).WithField("retry_in", delay).Warn("Trade stream disconnected")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > reconnectMaxDelay {
			delay = reconnectMaxDelay
		}
	}
}

// session runs one connection: auth, listen, then read until error
func (s *Stream) session(ctx context.Context, handle func(TradeUpdate)) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return apperr.FromTransport("dial trade stream", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := s.authenticate(conn); err != nil {
		return err
	}
	if err := conn.WriteJSON(map[string]interface{}{
		"action": "listen",
		"data":   map[string][]string{"streams": {streamTradeUpdates}},
	}); err != nil {
		return apperr.Network("listen trade stream", err)
	}
	s.logger.Info("Listening for trade updates")

	pingDone := make(chan struct{})
	defer close(pingDone)
	go s.ping(conn, pingDone)

	for {
		var msg streamMessage
		if err := readFrame(conn, &msg); err != nil {
			return apperr.Network("read trade stream", err)
		}
		if msg.Stream != streamTradeUpdates {
			continue
		}
		update, err := decodeTradeUpdate(msg.Data)
		if err != nil {
			s.logger.WithError(err).Warn("Skipping malformed trade update")
			continue
		}
		handle(update)
	}
}

func (s *Stream) authenticate(conn *websocket.Conn) error {
	if err := conn.WriteJSON(map[string]string{
		"action": "auth",
		"key":    s.key,
		"secret": s.secret,
	}); err != nil {
		return apperr.Network("auth trade stream", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(authTimeout))
	defer conn.SetReadDeadline(time.Time{})
	for {
		var msg streamMessage
		if err := readFrame(conn, &msg); err != nil {
			return apperr.Network("auth trade stream", err)
		}
		if msg.Stream != "authorization" {
			continue
		}
		var auth authData
		if err := json.Unmarshal(msg.Data, &auth); err != nil {
			return apperr.Data("auth trade stream", err)
		}
		if auth.Status != "authorized" {
			return apperr.Authorization("auth trade stream", fmt.Errorf("status %q", auth.Status))
		}
		return nil
	}
}

func (s *Stream) ping(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(handshakeTimeout)); err != nil {
				return
			}
		}
	}
}

// readFrame decodes one text or binary frame
func readFrame(conn *websocket.Conn, v interface{}) error {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return errors.New("empty frame")
	}
	return json.Unmarshal(data, v)
}

func decodeTradeUpdate(raw json.RawMessage) (TradeUpdate, error) {
	var d tradeUpdateData
	if err := json.Unmarshal(raw, &d); err != nil {
		return TradeUpdate{}, err
	}
	u := TradeUpdate{
		Event:     d.Event,
		Timestamp: d.Timestamp,
		Order:     d.Order.toContract(),
	}
	if d.Price != nil {
		u.Price = float64(*d.Price)
	}
	if d.Qty != nil {
		u.Qty = int(*d.Qty)
	}
	return u, nil
}
