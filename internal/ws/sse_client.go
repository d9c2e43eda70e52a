package ws

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// SSEClient streams Server-Sent Events over an HTTP response writer.
type SSEClient struct {
	mu        sync.Mutex
	writer    io.Writer
	rc        *http.ResponseController
	log       *slog.Logger
	done      chan struct{}
	closeOnce sync.Once
}

// NewSSEClient builds an SSE client instance writing to w.
func NewSSEClient(w http.ResponseWriter, logger *slog.Logger) *SSEClient {
	return &SSEClient{
		writer: w,
		rc:     http.NewResponseController(w),
		log:    logger,
		done:   make(chan struct{}),
	}
}

// Send emits a form event to the SSE stream.
func (c *SSEClient) Send(payload []byte) error {
	return c.write("send", "event: form\ndata: %s\n\n", payload)
}

// Heartbeat emits a comment frame to keep the connection alive.
func (c *SSEClient) Heartbeat() error {
	return c.write("heartbeat", ": ping\n\n")
}

func (c *SSEClient) write(op, format string, args ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
		return io.EOF
	default:
	}
	if err := c.rc.SetWriteDeadline(time.Now().Add(writeWait)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		c.Close()
		return err
	}
	if _, err := fmt.Fprintf(c.writer, format, args...); err != nil {
		c.Close()
		c.log.Warn("sse write failed", "op", op, "error", err)
		return err
	}
	if err := c.rc.Flush(); err != nil {
		c.Close()
		c.log.Warn("sse flush failed", "op", op, "error", err)
		return err
	}
	return nil
}

// Close marks the stream as closed and wakes the handler waiting on Done. It does not wait for
// an in-flight write.
func (c *SSEClient) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Wait blocks until any in-flight write has returned and clears the write deadline. After Close
// and Wait no further writes reach the response.
func (c *SSEClient) Wait() {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.rc.SetWriteDeadline(time.Time{})
}

// Done is closed once the stream stops accepting writes.
func (c *SSEClient) Done() <-chan struct{} {
	return c.done
}
