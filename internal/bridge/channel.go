package bridge

import (
	"time"

	"github.com/gorilla/websocket"
)

const legWriteTimeout = 2 * time.Second

// Channel is one leg of a bridged call: a duplex, JSON-framed connection.
// Implementations must be safe for one concurrent reader and one concurrent
// writer.
type Channel interface {
	ReadMessage() ([]byte, error)
	WriteJSON(v any) error
	Close() error
}

// WSChannel adapts a gorilla websocket connection to the Channel interface,
// applying a write deadline so a slow peer cannot stall the relay path.
type WSChannel struct {
	conn *websocket.Conn
}

func NewWSChannel(conn *websocket.Conn) *WSChannel {
	return &WSChannel{conn: conn}
}

func (c *WSChannel) ReadMessage() ([]byte, error) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if msgType != websocket.TextMessage {
			continue
		}
		return data, nil
	}
}

func (c *WSChannel) WriteJSON(v any) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(legWriteTimeout))
	return c.conn.WriteJSON(v)
}

func (c *WSChannel) Close() error {
	return c.conn.Close()
}
