package realtime

import (
	"sync"

	v1 "netreaper/shared/contracts/stream/v1"
)

// Client is the outbound side of one websocket connection.
//
// Send is never closed by the server; done signals shutdown instead, so a
// late producer cannot panic on a closed channel.
type Client struct {
	ConnID  string
	Subject string
	Send    chan v1.ServerFrame

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(connID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		ConnID: connID,
		Send:   make(chan v1.ServerFrame, sendQueueSize),
		done:   make(chan struct{}),
	}
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop (idempotent).
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
