package websocket

import (
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/thankyoucode/livekit-webstream/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	closeGrace = time.Second

	DefaultMaxMessageSize = 64 * 1024
	DefaultSendBuffer     = 256
)

var errSendBufferFull = errors.New("send buffer full")

type Options struct {
	MaxMessageSize int64
	SendBuffer     int
	// MessagesPerSecond caps inbound messages per connection; zero disables
	// the limit.
	MessagesPerSecond float64
	Burst             int
}

type outbound struct {
	data   []byte
	close  bool
	code   int
	reason string
}

type Conn struct {
	id             string
	ws             *websocket.Conn
	send           chan outbound
	done           chan struct{}
	state          atomic.Int32
	maxMessageSize int64
	limiter        *rate.Limiter
	registry       domain.Registry
	handler        domain.MessageHandler
}

func NewConn(id string, ws *websocket.Conn, r domain.Registry, h domain.MessageHandler, opts Options) *Conn {
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = DefaultMaxMessageSize
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultSendBuffer
	}

	c := &Conn{
		id:             id,
		ws:             ws,
		send:           make(chan outbound, opts.SendBuffer),
		done:           make(chan struct{}),
		maxMessageSize: opts.MaxMessageSize,
		registry:       r,
		handler:        h,
	}
	if opts.MessagesPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = int(opts.MessagesPerSecond)
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.MessagesPerSecond), max(burst, 1))
	}
	return c
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) State() domain.State {
	return domain.State(c.state.Load())
}

func (c *Conn) Send(data []byte) error {
	if c.State() != domain.StateOpen {
		return domain.ErrConnectionClosed
	}
	select {
	case c.send <- outbound{data: data}:
		return nil
	default:
		return errSendBufferFull
	}
}

// Close moves the connection to closing and queues a close frame after any
// pending messages. If the queue is full the socket is dropped instead.
func (c *Conn) Close(code int, reason string) error {
	if !c.state.CompareAndSwap(int32(domain.StateOpen), int32(domain.StateClosing)) {
		return nil
	}
	select {
	case c.send <- outbound{close: true, code: code, reason: reason}:
		return nil
	default:
		return c.ws.Close()
	}
}

func (c *Conn) Start() {
	c.registry.Register(c)
	go c.writePump()
	go c.readPump()
}

func (c *Conn) readPump() {
	defer func() {
		c.state.Store(int32(domain.StateClosed))
		close(c.done)
		c.registry.Unregister(c)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(c.maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.State() == domain.StateOpen && !websocket.IsCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived,
				websocket.CloseAbnormalClosure) {
				c.handler.HandleError(c, err)
			}
			return
		}

		if c.State() != domain.StateOpen {
			continue
		}
		if c.limiter != nil && !c.limiter.Allow() {
			slog.Warn("rate limit exceeded", "clientId", c.id)
			c.Close(domain.ClosePolicyViolation, "rate limit exceeded")
			continue
		}

		c.handler.Handle(c, data)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if msg.close {
				c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(msg.code, msg.reason))
				select {
				case <-c.done:
				case <-time.After(closeGrace):
				}
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg.data); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
