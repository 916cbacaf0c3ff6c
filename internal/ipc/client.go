package ipc

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Client is a synchronous IPC client for the shieldd control socket.
type Client struct {
	socketPath string
	timeout    time.Duration

	mu        sync.Mutex
	conn      net.Conn
	requestID atomic.Uint32
}

// NewClient creates a client for the given socket path. The connection
// is established lazily on the first request.
func NewClient(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		timeout:    10 * time.Second,
	}
}

// SetTimeout overrides the per-request deadline.
func (c *Client) SetTimeout(d time.Duration) {
	c.timeout = d
}

func (c *Client) connect() (net.Conn, error) {
	if c.conn != nil {
		return c.conn, nil
	}
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon at %s: %w", c.socketPath, err)
	}
	c.conn = conn
	return conn, nil
}

// Call sends a request and waits for the matching response. A MsgError
// response is converted into an error.
func (c *Client) Call(msgType MessageType, payload any) (*Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.connect()
	if err != nil {
		return nil, err
	}

	requestID := c.requestID.Add(1)
	msg, err := Marshal(msgType, requestID, payload)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(c.timeout)
	conn.SetDeadline(deadline)

	if err := msg.Write(conn); err != nil {
		c.reset()
		return nil, fmt.Errorf("send request: %w", err)
	}

	resp, err := ReadMessage(conn)
	if err != nil {
		c.reset()
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.Header.RequestID != requestID {
		c.reset()
		return nil, fmt.Errorf("response id %d does not match request id %d", resp.Header.RequestID, requestID)
	}

	if resp.Header.Type == MsgError {
		var ep ErrorPayload
		if err := resp.Unmarshal(&ep); err != nil {
			return nil, fmt.Errorf("daemon error (unreadable payload: %v)", err)
		}
		return nil, &DaemonError{Code: ep.Code, Message: ep.Message}
	}
	return resp, nil
}

// reset drops the connection so the next call redials.
func (c *Client) reset() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Ping checks daemon liveness.
func (c *Client) Ping() error {
	resp, err := c.Call(MsgPing, nil)
	if err != nil {
		return err
	}
	if resp.Header.Type != MsgPong {
		return fmt.Errorf("unexpected response type %#x", resp.Header.Type)
	}
	return nil
}

// Close closes the client connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// DaemonError is a structured failure returned by the daemon.
type DaemonError struct {
	Code    string
	Message string
}

func (e *DaemonError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
