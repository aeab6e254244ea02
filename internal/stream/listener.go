// Package stream consumes the venue's private websocket feed and turns raw
// execution pushes into ledger fills.
package stream

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
	"github.com/yanun0323/pkg/ws"

	"alphaledger/internal/model"
	"alphaledger/pkg/exception"
)

const (
	_bybitPrivateWsURL        = "wss://stream.bybit.com/v5/private"
	_bybitPrivateWsURLTestnet = "wss://stream-testnet.bybit.com/v5/private"

	_topicExecution = "execution"
	_subscribeReqID = "subscribe-execution"

	// the auth signature embeds an expiry a little ahead of now
	_authGrace    = 10 * time.Second
	_pingInterval = 20 * time.Second
)

type Listener struct {
	wss       *ws.WebSocket
	apiKey    string
	apiSecret string
}

func NewListener(ctx context.Context, testnet bool, apiKey, apiSecret string) *Listener {
	wsURL := _bybitPrivateWsURL
	if testnet {
		wsURL = _bybitPrivateWsURLTestnet
	}

	return &Listener{
		wss:       ws.New(ctx, wsURL),
		apiKey:    apiKey,
		apiSecret: apiSecret,
	}
}

func (l *Listener) Len() int {
	return l.wss.Len()
}

func (l *Listener) Close() {
	l.wss.Close()
}

// StartAndAuth dials the private channel and completes the auth handshake.
// The keepalive ping loop starts once the handshake succeeds.
func (l *Listener) StartAndAuth(ctx context.Context) error {
	if len(l.apiKey) == 0 || len(l.apiSecret) == 0 {
		return exception.ErrExchangeEmptyCredentials
	}

	if err := l.wss.Start(ctx, ws.Sidecar{
		Sender: func(ctx context.Context, client *ws.WebSocket) error {
			expires := time.Now().Add(_authGrace).UnixMilli()
			mac := hmac.New(sha256.New, []byte(l.apiSecret))
			fmt.Fprintf(mac, "GET/realtime%d", expires)
			signature := hex.EncodeToString(mac.Sum(nil))

			if err := client.WriteJSON(map[string]any{
				"op":   "auth",
				"args": []any{l.apiKey, expires, signature},
			}); err != nil {
				return errors.Wrap(err, "write auth payload")
			}

			return nil
		},
		Waiter: func(ctx context.Context, m ws.Message) (bool, error) {
			resp, ok := ws.ReadMessage[AuthResponse](m)
			if !ok || resp.Op != "auth" {
				return false, nil
			}

			if !resp.Success {
				return false, errors.Wrap(exception.ErrStreamAuthRejected, resp.RetMsg)
			}

			return true, nil
		},
	}); err != nil {
		return errors.Wrap(err, "start wss")
	}

	go l.keepAlive(ctx)

	return nil
}

// SubscribeExecutions registers for the execution topic. The subscription
// is replayed after a reconnect.
func (l *Listener) SubscribeExecutions(ctx context.Context) error {
	appendIntoRegister := true
	if err := l.wss.SendAndWait(ctx, ws.Sidecar{
		Sender: func(ctx context.Context, client *ws.WebSocket) error {
			if err := client.WriteJSON(map[string]any{
				"req_id": _subscribeReqID,
				"op":     "subscribe",
				"args":   []any{_topicExecution},
			}); err != nil {
				return errors.Wrap(err, "write subscribe execution payload")
			}

			return nil
		},
		Waiter: func(ctx context.Context, m ws.Message) (bool, error) {
			resp, ok := ws.ReadMessage[SubscribeResponse](m)
			if !ok || resp.Op != "subscribe" {
				return false, nil
			}

			if len(resp.ReqID) != 0 && resp.ReqID != _subscribeReqID {
				return false, nil
			}

			if !resp.Success {
				return false, errors.Wrap(exception.ErrStreamSubscribeRejected, resp.RetMsg)
			}

			return true, nil
		},
	}, appendIntoRegister); err != nil {
		return errors.Wrap(err, "send and wait")
	}

	return nil
}

// ObserveExecutions feeds every fill of our own making to handler. Fills
// carrying a foreign or empty client order id are someone else's trading on
// the shared account and are skipped without noise.
func (l *Listener) ObserveExecutions(ctx context.Context, handler func(fill model.Fill)) (unsubscribe func()) {
	ch, cancel := l.wss.Subscribe()
	go func() {
		defer cancel()
		for {
			select {
			case <-sys.Shutdown():
				return
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}

				resp, ok := ws.ReadMessage[TopicMessage](m)
				if !ok {
					continue
				}

				events, err := resp.Executions()
				if err != nil {
					if !errors.Is(err, exception.ErrStreamUnknownTopic) {
						logs.Errorf("decode execution push, err: %+v", err)
					}
					continue
				}

				for _, event := range events {
					fill, err := event.ToFill()
					if err != nil {
						continue
					}

					handler(fill)
				}
			}
		}
	}()

	return cancel
}

func (l *Listener) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(_pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sys.Shutdown():
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.wss.WriteJSON(map[string]any{"req_id": "ping", "op": "ping"}); err != nil {
				logs.Errorf("write ping, err: %+v", err)
			}
		}
	}
}
