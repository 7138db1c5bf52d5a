package transport

import (
	"sync"

	"github.com/gorilla/websocket"
)

// wsConn frames one record per websocket text message.
type wsConn struct {
	ws *websocket.Conn

	// gorilla allows at most one concurrent writer.
	writeMu sync.Mutex
}

// NewWebSocket wraps an upgraded websocket connection.
func NewWebSocket(ws *websocket.Conn) Conn {
	return &wsConn{ws: ws}
}

func (c *wsConn) ReadRecord() ([]byte, error) {
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if msgType != websocket.TextMessage {
			continue
		}
		return data, nil
	}
}

func (c *wsConn) WriteRecord(b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, b)
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}
