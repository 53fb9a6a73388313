package debugws

import (
	"crypto/rand"
	"encoding/hex"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Client is one attached debug websocket connection.
type Client struct {
	id          string
	conn        *websocket.Conn
	send        chan []byte
	hub         *Hub
	connectedAt time.Time
	logger      *log.Logger
}

func newClient(hub *Hub, conn *websocket.Conn, logger *log.Logger) *Client {
	return &Client{
		id:          generateClientID(),
		conn:        conn,
		send:        make(chan []byte, 64),
		hub:         hub,
		connectedAt: time.Now(),
		logger:      logger,
	}
}

// ServeWS upgrades r to a websocket and attaches a new Client to hub.
func ServeWS(hub *Hub, w http.ResponseWriter, r *http.Request, logger *log.Logger) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := newClient(hub, conn, logger)
	hub.RegisterClient(c)
	go c.writePump()
	go c.readPump()
	return nil
}

// writePump drains c.send to the socket and pings on an interval,
// exiting (and closing the connection) once the hub closes c.send.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound traffic (this feed is output-only) and
// exists purely to notice the connection going away.
func (c *Client) readPump() {
	defer c.hub.UnregisterClient(c)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func generateClientID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}
