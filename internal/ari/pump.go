package ari

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// pump is the long-lived WebSocket consumer. It dials the events socket,
// negotiates the event filter, and feeds decoded events to the dispatch
// queue. On socket loss it reconnects until the client is closed; the
// registry and all callbacks survive reconnection.
func (c *Client) pump() {
	defer close(c.pumpDone)

	retries := 0
	for !c.closed.Load() {
		conn, err := c.dialEvents()
		if err != nil {
			if c.closed.Load() {
				return
			}
			c.logger.Error("websocket connect failed", "error", err)
			if !c.sleepRetry(retries) {
				return
			}
			retries++
			continue
		}
		retries = 0

		c.connMu.Lock()
		c.conn = conn
		c.connMu.Unlock()
		if c.closed.Load() {
			conn.Close()
			return
		}
		c.logger.Info("websocket connected", "app", c.cfg.Application)

		if err := c.pushEventFilter(); err != nil {
			c.logger.Warn("event filter negotiation failed", "error", err)
		}

		c.readLoop(conn)
		conn.Close()

		if !c.closed.Load() {
			c.logger.Error("websocket closed, reconnecting")
			if !c.sleepRetry(retries) {
				return
			}
			retries++
		}
	}
}

func (c *Client) dialEvents() (*websocket.Conn, error) {
	u := url.URL{
		Scheme:   "ws",
		Host:     c.cfg.URL,
		Path:     "/ari/events",
		RawQuery: url.Values{"app": {c.cfg.Application}}.Encode(),
	}
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.RequestTimeout}
	header := http.Header{"Authorization": {c.authHeader}}
	conn, resp, err := dialer.Dial(u.String(), header)
	if err != nil {
		if resp != nil {
			c.logger.Debug("websocket handshake rejected", "status", resp.StatusCode)
		}
		return nil, err
	}
	return conn, nil
}

func (c *Client) pushEventFilter() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RequestTimeout)
	defer cancel()
	return c.FilterEvents(ctx, c.AllowedEvents())
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !c.closed.Load() {
				c.logger.Error("websocket read failed", "error", err)
			}
			return
		}
		c.handleFrame(data)
	}
}

// handleFrame filters, decodes and enqueues one event frame. Frames whose
// type is unknown or outside the allowed set are dropped here; entity
// materialization only happens for frames that will be dispatched.
func (c *Client) handleFrame(data []byte) {
	raw, err := parseFrame(data)
	if err != nil {
		c.logger.Debug("dropping frame", "error", err)
		return
	}
	if !c.allowedHas(raw.Type) {
		c.logger.Debug("dropping filtered event", "type", raw.Type)
		return
	}
	ev, err := materialize(c.reg, raw, data)
	if err != nil {
		c.logger.Debug("dropping event", "type", raw.Type, "error", err)
		return
	}
	select {
	case c.queue <- ev:
	case <-c.done:
	}
}

// sleepRetry waits out the reconnect delay. The first maxQuickRetries
// attempts use the short timeout, later ones back off. Returns false when
// the client closed during the wait.
func (c *Client) sleepRetry(retries int) bool {
	delay := retryTimeout
	if retries >= maxQuickRetries {
		delay = slowRetryDelay
	}
	select {
	case <-time.After(delay):
		return true
	case <-c.done:
		return false
	}
}
