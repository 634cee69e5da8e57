package ws

import (
	"encoding/json"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// filterMsg is sent by a client to narrow its stream. Empty lists match
// everything; {"trade_ids":[],"types":[]} resets the filter.
//
//	{"trade_ids":["ABCD2345"],"types":["payment_asserted"]}
type filterMsg struct {
	TradeIDs []string `json:"trade_ids"`
	Types    []string `json:"types"`
}

type filter struct {
	tradeIDs []string
	types    []string
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	filter atomic.Pointer[filter]
}

func (c *client) wants(hdr eventHeader) bool {
	f := c.filter.Load()
	if hdr.Type == "" {
		return true
	}
	if len(f.types) > 0 && !slices.Contains(f.types, hdr.Type) {
		return false
	}
	if len(f.tradeIDs) > 0 && !slices.Contains(f.tradeIDs, hdr.TradeID) {
		return false
	}
	return true
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var msg filterMsg
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		c.filter.Store(&filter{tradeIDs: msg.TradeIDs, types: msg.Types})
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
