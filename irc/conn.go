// Package irc implements the small subset of IRC the bot needs to talk to the
// Twitch chat service: a self-healing connection and a line parser.
package irc

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/onnwee/gamerdeathbot/telemetry"
)

const (
	DefaultAddr             = "irc.chat.twitch.tv:6667"
	DefaultReadTimeout      = 2 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
	DefaultReconnectBackoff = time.Second
	DefaultRxBufferSize     = 4096

	// maxPending bounds an unterminated line kept between reads.
	maxPending = 64 << 10
)

// Dialer opens the transport. *net.Dialer and *tls.Dialer satisfy it.
type Dialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// Config configures a Conn. Zero values fall back to the package defaults.
type Config struct {
	Addr string
	TLS  bool
	Nick string
	// Password returns the chat token, with or without the "oauth:" prefix.
	// It is called on every handshake so refreshed tokens are picked up.
	Password     func(ctx context.Context) (string, error)
	Capabilities []string
	ReadTimeout  time.Duration
	// WriteTimeout bounds each write; a stalled peer becomes a transport error.
	WriteTimeout     time.Duration
	ReconnectBackoff time.Duration
	RxBufferSize     int
	Dialer           Dialer
	Logger           *slog.Logger
}

// link is one dialed socket and the unterminated tail read from it.
type link struct {
	nc      net.Conn
	pending []byte
}

// Conn is the single chat connection shared by all sessions. Send is safe for
// concurrent use; Receive is meant to be driven by one goroutine.
type Conn struct {
	cfg Config
	log *slog.Logger

	// life bounds the reconnect loop. It ends only with Close, so a caller
	// giving up on its own context does not abandon the loop.
	life context.Context
	stop context.CancelFunc

	mu        sync.Mutex // guards fields below and serializes writes
	ln        *link
	connected bool
	closed    bool
	channels  []string

	rmu  sync.Mutex // serializes Receive
	rbuf []byte

	reconnects singleflight.Group
}

// New returns a disconnected Conn.
func New(cfg Config) *Conn {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = DefaultReconnectBackoff
	}
	if cfg.RxBufferSize <= 0 {
		cfg.RxBufferSize = DefaultRxBufferSize
	}
	if cfg.Dialer == nil {
		d := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
		if cfg.TLS {
			host, _, _ := net.SplitHostPort(cfg.Addr)
			cfg.Dialer = &tls.Dialer{NetDialer: d, Config: &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}}
		} else {
			cfg.Dialer = d
		}
	}
	cfg.Nick = strings.ToLower(cfg.Nick)
	lg := cfg.Logger
	if lg == nil {
		lg = slog.Default()
	}
	life, stop := context.WithCancel(context.Background())
	return &Conn{
		cfg:  cfg,
		log:  lg.With(slog.String("component", "irc")),
		life: life,
		stop: stop,
		rbuf: make([]byte, cfg.RxBufferSize),
	}
}

// Nick returns the bot's login.
func (c *Conn) Nick() string { return c.cfg.Nick }

// Connected reports whether the connection is currently up.
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Channels returns the channels joined on every handshake.
func (c *Conn) Channels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.channels)
}

// Connect dials and performs the handshake. It is a no-op when already
// connected. Dial and token errors are returned; a failed handshake write is
// retried through the reconnect loop.
func (c *Conn) Connect(ctx context.Context) error {
	if c.Connected() {
		return nil
	}
	err := c.open(ctx)
	if errors.Is(err, errHandshake) {
		c.log.Warn("handshake failed; reconnecting", slog.Any("err", err))
		return c.reconnect(ctx)
	}
	return err
}

// open dials a fresh socket and writes PASS, NICK, CAP and JOIN lines. The
// lock is held across the handshake so no other line can precede it.
func (c *Conn) open(ctx context.Context) error {
	token := ""
	if c.cfg.Password != nil {
		t, err := c.cfg.Password(ctx)
		if err != nil {
			return fmt.Errorf("irc: fetch token: %w", err)
		}
		token = t
	}
	if token != "" && !strings.HasPrefix(token, "oauth:") {
		token = "oauth:" + token
	}

	nc, err := c.cfg.Dialer.DialContext(ctx, "tcp", c.cfg.Addr)
	if err != nil {
		return fmt.Errorf("irc: dial %s: %w", c.cfg.Addr, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		_ = nc.Close()
		return ErrClosed
	}

	lines := make([]string, 0, 3+len(c.channels))
	if token != "" {
		lines = append(lines, "PASS "+token)
	}
	lines = append(lines, "NICK "+c.cfg.Nick)
	if len(c.cfg.Capabilities) > 0 {
		lines = append(lines, "CAP REQ :"+strings.Join(c.cfg.Capabilities, " "))
	}
	for _, ch := range c.channels {
		lines = append(lines, "JOIN #"+ch)
	}
	for _, l := range lines {
		if err := c.write(nc, l); err != nil {
			_ = nc.Close()
			return fmt.Errorf("%w: %w", errHandshake, err)
		}
	}

	c.ln = &link{nc: nc}
	c.connected = true
	telemetry.SetConnected(true)
	c.log.Info("connected", slog.String("addr", c.cfg.Addr), slog.String("nick", c.cfg.Nick), slog.Int("channels", len(c.channels)))
	return nil
}

// write sends one line on nc. Callers hold c.mu.
func (c *Conn) write(nc net.Conn, line string) error {
	c.log.Debug("irc tx", slog.String("line", mask(line)))
	_ = nc.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	_, err := nc.Write([]byte(line + "\r\n"))
	return err
}

func mask(line string) string {
	if strings.HasPrefix(line, "PASS ") {
		return "PASS ***"
	}
	return line
}

// markDown flips the connection down if ln is still the current link.
// Failures observed on an already replaced link are ignored.
func (c *Conn) markDown(ln *link) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ln != ln || !c.connected {
		return false
	}
	c.connected = false
	c.ln = nil
	_ = ln.nc.Close()
	telemetry.SetConnected(false)
	return true
}

// reconnect waits for the connection to be re-established or for ctx to be
// done. Concurrent callers share one cycle, which keeps running after its
// callers stop waiting and ends only on success or Close.
func (c *Conn) reconnect(ctx context.Context) error {
	res := c.reconnects.DoChan("reconnect", func() (any, error) {
		return nil, c.reconnectLoop()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case r := <-res:
		return r.Err
	}
}

// reconnectLoop waits the backoff before each attempt and retries until the
// link is up or the Conn is closed.
func (c *Conn) reconnectLoop() error {
	ctx := c.life
	for {
		c.mu.Lock()
		up, closed := c.connected, c.closed
		c.mu.Unlock()
		if closed {
			return ErrClosed
		}
		if up {
			return nil
		}
		telemetry.IncReconnect()
		t := time.NewTimer(c.cfg.ReconnectBackoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return ErrClosed
		case <-t.C:
		}
		if err := c.open(ctx); err != nil {
			if errors.Is(err, ErrClosed) || ctx.Err() != nil {
				return ErrClosed
			}
			c.log.Warn("reconnect attempt failed", slog.Any("err", err))
			continue
		}
		return nil
	}
}

// Reconnect drops the current socket and re-establishes the connection.
func (c *Conn) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	ln := c.ln
	c.mu.Unlock()
	if ln != nil {
		c.markDown(ln)
	}
	return c.reconnect(ctx)
}

// Send writes one line. A write failure triggers a reconnect and the line is
// dropped; nil is returned in that case too. ErrNotConnected is returned when
// the connection is down, and the context error if it is cancelled while
// reconnecting.
func (c *Conn) Send(ctx context.Context, line string) error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	ln := c.ln
	err := c.write(ln.nc, line)
	c.mu.Unlock()
	if err == nil {
		return nil
	}

	c.log.Warn("send failed; reconnecting", slog.String("line", mask(line)), slog.Any("err", err))
	c.markDown(ln)
	if rerr := c.reconnect(ctx); rerr != nil {
		return rerr
	}
	c.log.Info("line dropped after reconnect", slog.String("line", mask(line)))
	return nil
}

// Chat sends msg to channel as a PRIVMSG.
func (c *Conn) Chat(ctx context.Context, channel, msg string) error {
	channel = normalize(channel)
	c.log.Info("tx", slog.String("channel", channel), slog.String("message", msg))
	return c.Send(ctx, "PRIVMSG #"+channel+" :"+msg)
}

// Join adds channel to the handshake list and joins it now if connected.
func (c *Conn) Join(ctx context.Context, channel string) error {
	channel = normalize(channel)
	c.mu.Lock()
	if slices.Contains(c.channels, channel) {
		c.mu.Unlock()
		return nil
	}
	c.channels = append(c.channels, channel)
	up := c.connected
	c.mu.Unlock()
	if !up {
		return nil
	}
	return c.Send(ctx, "JOIN #"+channel)
}

// Part removes channel from the handshake list and leaves it now if connected.
func (c *Conn) Part(ctx context.Context, channel string) error {
	channel = normalize(channel)
	c.mu.Lock()
	i := slices.Index(c.channels, channel)
	if i < 0 {
		c.mu.Unlock()
		return nil
	}
	c.channels = slices.Delete(c.channels, i, i+1)
	up := c.connected
	c.mu.Unlock()
	if !up {
		return nil
	}
	return c.Send(ctx, "PART #"+channel)
}

// Receive reads once, waiting up to the read timeout, and returns the complete
// CRLF-terminated lines received so far. It returns "" with a nil error when
// no full line arrived. On a transport error the connection is re-established
// before the error, wrapping ErrTransport, is returned.
func (c *Conn) Receive(ctx context.Context) (string, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()

	c.mu.Lock()
	ln, up := c.ln, c.connected
	c.mu.Unlock()
	if !up {
		return "", ErrNotConnected
	}

	_ = ln.nc.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	n, err := ln.nc.Read(c.rbuf)
	if n > 0 {
		ln.pending = append(ln.pending, c.rbuf[:n]...)
	}
	if err != nil && !isTimeout(err) {
		c.log.Warn("receive failed; reconnecting", slog.Any("err", err))
		c.markDown(ln)
		if rerr := c.reconnect(ctx); rerr != nil {
			return "", fmt.Errorf("%w: %w", ErrTransport, rerr)
		}
		return "", fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return c.drain(ln), nil
}

// drain removes and returns the complete lines buffered on ln.
func (c *Conn) drain(ln *link) string {
	i := bytes.LastIndex(ln.pending, []byte("\r\n"))
	if i < 0 {
		if len(ln.pending) > maxPending {
			c.log.Warn("discarding oversized unterminated line", slog.Int("bytes", len(ln.pending)))
			ln.pending = ln.pending[:0]
		}
		return ""
	}
	out := string(ln.pending[:i+2])
	rest := copy(ln.pending, ln.pending[i+2:])
	ln.pending = ln.pending[:rest]
	c.log.Debug("irc rx", slog.String("batch", strings.TrimRight(out, "\r\n")))
	return out
}

// Close shuts the connection down for good.
func (c *Conn) Close() error {
	c.stop()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.connected = false
	telemetry.SetConnected(false)
	if c.ln == nil {
		return nil
	}
	err := c.ln.nc.Close()
	c.ln = nil
	return err
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func normalize(channel string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(channel), "#"))
}
