package ingest

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client wraps a single websocket connection to the upstream feed,
// authenticated by an API key query parameter (spec §6: "the feed does
// not accept an in-band login frame"), adapted from websocket/client.go's
// connect/ping shape for JSON frames instead of a protobuf wire format.
type Client struct {
	baseURL string
	apiKey  string

	mu   sync.Mutex
	conn *websocket.Conn

	pingInterval time.Duration
	pingDone     chan struct{}
}

// NewClient builds a client against baseURL, authenticating with apiKey.
func NewClient(baseURL, apiKey string, pingInterval time.Duration) *Client {
	return &Client{baseURL: baseURL, apiKey: apiKey, pingInterval: pingInterval}
}

// Connect dials the feed with the API key attached as a query parameter.
func (c *Client) Connect() error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Errorf("parse feed url: %w", err)
	}
	q := u.Query()
	q.Set("apiKey", c.apiKey)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", u.Host, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	log.Printf("✅ connected to upstream feed %s", u.Host)
	return nil
}

// StartPing sends a heartbeat frame on interval until StopPing is called,
// keeping the connection alive the same way the teacher's StartPing does.
func (c *Client) StartPing() {
	c.pingDone = make(chan struct{})
	go func() {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := c.writeJSON(Frame{Type: FrameHeartbeat}); err != nil {
					log.Printf("⚠️  feed ping failed: %v", err)
					return
				}
			case <-c.pingDone:
				return
			}
		}
	}()
}

// StopPing stops the heartbeat goroutine.
func (c *Client) StopPing() {
	if c.pingDone != nil {
		close(c.pingDone)
	}
}

func (c *Client) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("connection is nil")
	}
	return c.conn.WriteJSON(v)
}

// ReadFrame reads and decodes one JSON frame, honoring the read deadline
// the caller sets via SetReadTimeout.
func (c *Client) ReadFrame() (Frame, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return Frame{}, fmt.Errorf("connection is nil")
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		return Frame{}, err
	}

	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	return f, nil
}

// SetReadTimeout bounds the next ReadFrame call, used by Subscriber's
// idle-cancel logic (spec §5: "idle-cancelled after 3 consecutive read
// timeouts of the heartbeat interval").
func (c *Client) SetReadTimeout(d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("connection is nil")
	}
	return c.conn.SetReadDeadline(time.Now().Add(d))
}

// Close tears down the connection and stops the ping loop.
func (c *Client) Close() error {
	c.StopPing()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
