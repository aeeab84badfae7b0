// Package mq keeps the AMQP broker connection used by the login service
// alive and reports its state to readiness checks.
package mq

import (
	"context"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/keithlinneman/linnemanlabs-login/internal/log"
	"github.com/keithlinneman/linnemanlabs-login/internal/xerrors"
)

const (
	DefaultMinBackoff  = time.Second
	DefaultMaxBackoff  = 30 * time.Second
	DefaultDialTimeout = 5 * time.Second
	DefaultHeartbeat   = 10 * time.Second
)

var ErrClosed = xerrors.New("amqp connection closed")

// connection is the part of *amqp.Connection the watcher relies on.
type connection interface {
	IsClosed() bool
	NotifyClose(chan *amqp.Error) chan *amqp.Error
	Close() error
}

type dialFunc func(url string) (connection, error)

type Options struct {
	URL        string
	Name       string
	Logger     log.Logger
	OnState    func(up bool)
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// Conn owns one broker connection and redials it with exponential backoff
// whenever the broker drops it.
type Conn struct {
	url        string
	L          log.Logger
	onState    func(bool)
	dial       dialFunc
	minBackoff time.Duration
	maxBackoff time.Duration

	mu     sync.RWMutex
	conn   connection
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

// Dial connects to the broker and starts watching the connection.
func Dial(ctx context.Context, opts Options) (*Conn, error) {
	props := amqp.NewConnectionProperties()
	if opts.Name != "" {
		props.SetClientConnectionName(opts.Name)
	}
	cfg := amqp.Config{
		Heartbeat:  DefaultHeartbeat,
		Properties: props,
		Dial:       amqp.DefaultDial(DefaultDialTimeout),
	}
	return dial(ctx, opts, func(url string) (connection, error) {
		c, err := amqp.DialConfig(url, cfg)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
}

func dial(ctx context.Context, opts Options, fn dialFunc) (*Conn, error) {
	if opts.URL == "" {
		return nil, xerrors.New("broker url is required")
	}
	c := &Conn{
		url:        opts.URL,
		L:          opts.Logger,
		onState:    opts.OnState,
		dial:       fn,
		minBackoff: opts.MinBackoff,
		maxBackoff: opts.MaxBackoff,
		done:       make(chan struct{}),
	}
	if c.L == nil {
		c.L = log.Nop()
	}
	if c.minBackoff <= 0 {
		c.minBackoff = DefaultMinBackoff
	}
	if c.maxBackoff < c.minBackoff {
		c.maxBackoff = max(DefaultMaxBackoff, c.minBackoff)
	}

	conn, err := c.dial(c.url)
	if err != nil {
		return nil, xerrors.Wrap(err, "dial amqp")
	}
	c.conn = conn
	c.setState(true)
	c.L.Info(ctx, "connected to amqp broker")

	c.wg.Add(1)
	go c.watch(context.WithoutCancel(ctx))
	return c, nil
}

func (c *Conn) setState(up bool) {
	if c.onState != nil {
		c.onState(up)
	}
}

func (c *Conn) watch(ctx context.Context) {
	defer c.wg.Done()
	for {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()

		notify := conn.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-c.done:
			return
		case aerr, ok := <-notify:
			if ok && aerr != nil {
				c.L.Warn(ctx, "amqp connection lost", "reason", aerr.Reason, "code", aerr.Code)
			} else {
				c.L.Warn(ctx, "amqp connection closed")
			}
		}
		c.setState(false)
		if !c.reconnect(ctx) {
			return
		}
	}
}

// reconnect blocks until a new connection is up or Close is called.
func (c *Conn) reconnect(ctx context.Context) bool {
	delay := c.minBackoff
	for {
		t := time.NewTimer(delay)
		select {
		case <-c.done:
			t.Stop()
			return false
		case <-t.C:
		}

		conn, err := c.dial(c.url)
		if err != nil {
			c.L.Warn(ctx, "amqp reconnect failed", "err", err, "retry_in", delay)
			delay = min(delay*2, c.maxBackoff)
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = conn.Close()
			return false
		}
		c.conn = conn
		c.mu.Unlock()

		c.setState(true)
		c.L.Info(ctx, "reconnected to amqp broker")
		return true
	}
}

// Ping reports whether the broker connection is currently open.
func (c *Conn) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed || c.conn == nil || c.conn.IsClosed() {
		return ErrClosed
	}
	return nil
}

// Close stops the watcher and closes the connection. Safe to call twice.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	c.wg.Wait()
	// the watcher may have swapped in a new connection before it saw done
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn != nil && !conn.IsClosed() {
		if err := conn.Close(); err != nil {
			return xerrors.Wrap(err, "close amqp connection")
		}
	}
	return nil
}
