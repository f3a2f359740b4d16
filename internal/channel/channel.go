// Package channel wraps one stream connection as a sequence of protocol
// envelopes.
//
// A Channel owns its net.Conn. Sends are serialized by a write lock and
// receives by a read lock, so one sender and one receiver may run at once.
// Any transport failure closes the channel; it is never retried here.
package channel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/minijira/internal/protocol"
	"github.com/danmuck/minijira/internal/protocol/frame"
)

var ErrClosed = errors.New("channel: closed")

// IOError reports a transport failure. The channel is closed when one is
// returned.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("channel: %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// Config bounds blocking operations and sizes frames.
type Config struct {
	// ReadTimeout bounds one Receive; zero leaves only the context bound.
	ReadTimeout time.Duration
	// WriteTimeout bounds one Send; zero leaves only the context bound.
	WriteTimeout time.Duration
	Codec        protocol.Codec
}

func DefaultConfig() Config {
	return Config{
		WriteTimeout: 15 * time.Second,
		Codec:        protocol.DefaultCodec(),
	}
}

type Channel struct {
	conn   net.Conn
	reader *bufio.Reader
	cfg    Config

	writeMu sync.Mutex
	readMu  sync.Mutex

	closeOnce sync.Once
	closed    atomic.Bool
	closeErr  error
}

func New(conn net.Conn, cfg Config) *Channel {
	if cfg.Codec.Limits.MaxPayloadBytes == 0 {
		cfg.Codec.Limits = frame.DefaultLimits()
	}
	return &Channel{
		conn:   conn,
		reader: bufio.NewReader(conn),
		cfg:    cfg,
	}
}

// Send writes env as one frame. Encoding errors leave the channel open;
// write errors close it and return *IOError.
func (c *Channel) Send(ctx context.Context, env protocol.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed.Load() {
		return &IOError{Op: "send", Err: ErrClosed}
	}

	f, err := c.cfg.Codec.EncodeFrame(env)
	if err != nil {
		return err
	}
	if err := c.setWriteDeadline(ctx); err != nil {
		c.Close()
		return &IOError{Op: "send", Err: err}
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetWriteDeadline(time.Now())
	})
	err = frame.WriteFrame(c.conn, f, c.cfg.Codec.Limits)
	stop()
	if err != nil {
		if errors.Is(err, frame.ErrPayloadTooLarge) || errors.Is(err, frame.ErrAuthTooLarge) {
			return err
		}
		c.Close()
		return &IOError{Op: "send", Err: withContext(ctx, err)}
	}
	return nil
}

// Receive blocks for the next envelope. Malformed payloads come back as a
// non-fatal *protocol.ProtocolError and the channel stays usable. Corrupt
// framing and transport failures close the channel.
func (c *Channel) Receive(ctx context.Context) (protocol.Envelope, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	if c.closed.Load() {
		return protocol.Envelope{}, &IOError{Op: "receive", Err: ErrClosed}
	}

	if err := c.setReadDeadline(ctx); err != nil {
		c.Close()
		return protocol.Envelope{}, &IOError{Op: "receive", Err: err}
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	env, err := c.cfg.Codec.Read(c.reader)
	stop()
	if err == nil {
		return env, nil
	}

	var perr *protocol.ProtocolError
	if errors.As(err, &perr) {
		if perr.Fatal {
			c.Close()
		}
		return protocol.Envelope{}, err
	}
	if c.closedLocally(err) {
		err = ErrClosed
	}
	c.Close()
	return protocol.Envelope{}, &IOError{Op: "receive", Err: withContext(ctx, err)}
}

// Close releases the connection. It is safe to call more than once and
// unblocks any Receive in progress.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *Channel) Closed() bool {
	return c.closed.Load()
}

func (c *Channel) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *Channel) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *Channel) closedLocally(err error) bool {
	return c.closed.Load() && errors.Is(err, net.ErrClosed)
}

func (c *Channel) setWriteDeadline(ctx context.Context) error {
	return c.conn.SetWriteDeadline(deadlineFor(ctx, c.cfg.WriteTimeout))
}

func (c *Channel) setReadDeadline(ctx context.Context) error {
	return c.conn.SetReadDeadline(deadlineFor(ctx, c.cfg.ReadTimeout))
}

func deadlineFor(ctx context.Context, timeout time.Duration) time.Time {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if ctxDeadline, ok := ctx.Deadline(); ok && (deadline.IsZero() || ctxDeadline.Before(deadline)) {
		deadline = ctxDeadline
	}
	return deadline
}

func withContext(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return fmt.Errorf("%w: %w", ctxErr, err)
	}
	return err
}
