package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/messenger/internal/metrics"
	"github.com/Tyrowin/messenger/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// wsConn adapts a gorilla websocket to session.Conn. Frames are text
// messages. The session goroutine is the only writer of data frames; pings go
// through WriteControl, which gorilla allows concurrently.
type wsConn struct {
	conn           *websocket.Conn
	addr           string
	maxMessageSize int64
	rateLimiter    *rateLimiter
	rateLimit      RateLimitConfig
	metrics        *metrics.Metrics
	log            *slog.Logger

	closed     context.Context
	markClosed context.CancelFunc
	closeOnce  sync.Once
}

func newWSConn(conn *websocket.Conn, cfg Config, m *metrics.Metrics, log *slog.Logger) *wsConn {
	conn.SetReadLimit(cfg.MaxMessageSize)

	c := &wsConn{
		conn:           conn,
		addr:           conn.RemoteAddr().String(),
		maxMessageSize: cfg.MaxMessageSize,
		rateLimiter:    newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		rateLimit:      cfg.RateLimit,
		metrics:        m,
		log:            log,
	}
	c.closed, c.markClosed = context.WithCancel(context.Background())
	c.setupReadConnection()
	go c.pingLoop()
	return c
}

// setupReadConnection configures read deadlines and the pong handler.
func (c *wsConn) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Debug("set initial read deadline", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// ReadFrame returns the next text frame. A frame over the rate limit is held
// until the bucket refills, so a fast client is slowed down and never loses
// frames. Gorilla reads cannot be canceled; Close is what unblocks a pending
// read, while ctx and Close both end a throttled wait.
func (c *wsConn) ReadFrame(ctx context.Context) ([]byte, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, c.handleReadError(err)
		}
		if messageType != websocket.TextMessage {
			c.log.Debug("ignoring non-text frame", "type", messageType)
			continue
		}
		if err := c.throttle(ctx); err != nil {
			return nil, err
		}
		return data, nil
	}
}

// handleReadError maps gorilla read errors to session.ErrConnClosed for
// ordinary disconnects and logs the rest.
func (c *wsConn) handleReadError(err error) error {
	if errors.Is(err, websocket.ErrReadLimit) {
		c.log.Warn("message exceeded maximum size", "limit", c.maxMessageSize)
		return fmt.Errorf("read: %w", err)
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived) {
		c.log.Debug("client disconnected", "error", err)
		return session.ErrConnClosed
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || isExpectedCloseError(err) {
		c.log.Debug("connection closed", "error", err)
		return session.ErrConnClosed
	}

	if websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) {
		c.log.Warn("unexpected websocket close", "error", err)
		return fmt.Errorf("read: %w", err)
	}

	c.log.Warn("websocket read error", "error", err)
	return fmt.Errorf("read: %w", err)
}

func (c *wsConn) throttle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.closed, cancel)
	defer stop()

	throttled, err := c.rateLimiter.wait(ctx)
	if throttled {
		c.metrics.RateLimited()
		c.log.Debug("rate limit exceeded, delaying message",
			"burst", c.rateLimit.Burst, "interval", c.rateLimit.RefillInterval)
	}
	if err != nil {
		if c.closed.Err() != nil {
			return session.ErrConnClosed
		}
		return err
	}
	return nil
}

// WriteFrame writes one text frame within writeWait.
func (c *wsConn) WriteFrame(_ context.Context, frame []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		if isExpectedCloseError(err) {
			return session.ErrConnClosed
		}
		return err
	}
	return nil
}

func (c *wsConn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed.Done():
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				if !isExpectedCloseError(err) {
					c.log.Debug("ping failed", "error", err)
				}
				return
			}
		}
	}
}

// Close sends a normal closure and closes the socket. It is safe to call
// more than once.
func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.markClosed()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if werr := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); werr != nil && !isExpectedCloseError(werr) {
			c.log.Debug("write close message", "error", werr)
		}
		if cerr := c.conn.Close(); cerr != nil && !isExpectedCloseError(cerr) {
			err = cerr
		}
	})
	return err
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset by peer")
}
