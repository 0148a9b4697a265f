// Package gdbremote reads memory and registers from a QEMU gdbstub over the
// GDB Remote Serial Protocol.
package gdbremote

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
)

const (
	defaultMaxRead    = 0x800
	defaultDialWindow = 5 * time.Second
	maxResend         = 3
)

var ErrUnsupported = errors.New("gdbremote: request not supported by stub")

// RemoteError is an "Exx" reply.
type RemoteError struct {
	Request string
	Code    string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("gdbremote: %s failed with E%s", e.Request, e.Code)
}

// Client speaks the remote protocol over a single connection. It is not
// safe for concurrent use.
type Client struct {
	conn    net.Conn
	r       *bufio.Reader
	log     *slog.Logger
	noAck   bool
	maxRead int
}

// DialOptions controls how Dial connects.
type DialOptions struct {
	// RetryWindow bounds how long refused connections are retried. Zero
	// means five seconds; negative disables retries.
	RetryWindow time.Duration
	Logger      *slog.Logger
}

// Dial connects to a stub at addr (host:port), retrying with exponential
// backoff while the stub is not yet listening.
func Dial(ctx context.Context, addr string, opts DialOptions) (*Client, error) {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	window := opts.RetryWindow
	if window == 0 {
		window = defaultDialWindow
	}

	var (
		conn   net.Conn
		dialer net.Dialer
	)
	op := func() error {
		c, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			var addrErr *net.AddrError
			if errors.As(err, &addrErr) || window < 0 {
				return backoff.Permanent(err)
			}
			log.Debug("gdbremote: dial failed, retrying", "addr", addr, "err", err)
			return err
		}
		conn = c
		return nil
	}

	retryCtx, cancel := context.WithTimeout(ctx, max(window, 0))
	defer cancel()
	b := backoff.WithContext(&backoff.ExponentialBackOff{
		InitialInterval:     50 * time.Millisecond,
		Multiplier:          1.5,
		MaxInterval:         time.Second,
		RandomizationFactor: 0.1,
		MaxElapsedTime:      max(window, 0),
		Clock:               backoff.SystemClock,
	}, retryCtx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, fmt.Errorf("gdbremote: dial %s: %w", addr, err)
	}
	log.Debug("gdbremote: connected", "addr", addr)
	return NewClient(conn, log), nil
}

// NewClient wraps an established connection.
func NewClient(conn net.Conn, log *slog.Logger) *Client {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Client{
		conn:    conn,
		r:       bufio.NewReader(conn),
		log:     log,
		maxRead: defaultMaxRead,
	}
}

// Handshake negotiates packet size and, when offered, no-ack mode.
func (c *Client) Handshake() error {
	resp, err := c.Exchange("qSupported:xmlRegisters=i386")
	if err != nil {
		return fmt.Errorf("gdbremote: qSupported: %w", err)
	}

	noAck := false
	for _, feature := range strings.Split(string(resp), ";") {
		switch {
		case strings.HasPrefix(feature, "PacketSize="):
			size, err := strconv.ParseUint(strings.TrimPrefix(feature, "PacketSize="), 16, 32)
			if err == nil && size > 8 {
				// Two hex digits per byte plus framing.
				c.maxRead = min(defaultMaxRead, int(size-4)/2)
			}
		case feature == "QStartNoAckMode+":
			noAck = true
		}
	}
	c.log.Debug("gdbremote: negotiated", "maxRead", c.maxRead, "noAck", noAck)

	if noAck {
		resp, err := c.Exchange("QStartNoAckMode")
		if err != nil {
			return err
		}
		if string(resp) == "OK" {
			c.noAck = true
		}
	}
	return nil
}

func (c *Client) send(payload string) error {
	pkt := encodePacket([]byte(payload))
	for attempt := 0; ; attempt++ {
		if _, err := c.conn.Write(pkt); err != nil {
			return fmt.Errorf("gdbremote: write: %w", err)
		}
		if c.noAck {
			return nil
		}
		ack, err := c.r.ReadByte()
		if err != nil {
			return fmt.Errorf("gdbremote: read ack: %w", err)
		}
		switch ack {
		case '+':
			return nil
		case '-':
			if attempt >= maxResend {
				return fmt.Errorf("gdbremote: %q rejected %d times", payload, attempt+1)
			}
			c.log.Debug("gdbremote: resending", "payload", payload)
		default:
			return fmt.Errorf("gdbremote: unexpected ack %q", ack)
		}
	}
}

func (c *Client) receive() ([]byte, error) {
	for attempt := 0; ; attempt++ {
		resp, err := readPacket(c.r)
		if errors.Is(err, errBadChecksum) && !c.noAck && attempt < maxResend {
			if _, err := c.conn.Write([]byte{'-'}); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		if !c.noAck {
			if _, err := c.conn.Write([]byte{'+'}); err != nil {
				return nil, err
			}
		}
		return resp, nil
	}
}

// Exchange sends one request and returns the reply payload.
func (c *Client) Exchange(payload string) ([]byte, error) {
	if err := c.send(payload); err != nil {
		return nil, err
	}
	return c.receive()
}

func remoteError(request string, resp []byte) error {
	if len(resp) == 3 && resp[0] == 'E' {
		return &RemoteError{Request: request, Code: string(resp[1:])}
	}
	return nil
}

// ReadMemory reads n bytes at addr, splitting the request to fit the
// stub's packet size.
func (c *Client) ReadMemory(addr uint64, n int) ([]byte, error) {
	out := make([]byte, 0, n)
	for len(out) < n {
		chunk := min(n-len(out), c.maxRead)
		req := fmt.Sprintf("m%x,%x", addr+uint64(len(out)), chunk)
		resp, err := c.Exchange(req)
		if err != nil {
			return nil, err
		}
		if err := remoteError(req, resp); err != nil {
			return nil, err
		}
		data, err := hex.DecodeString(string(resp))
		if err != nil {
			return nil, fmt.Errorf("gdbremote: %s: %w", req, err)
		}
		if len(data) == 0 {
			return nil, fmt.Errorf("gdbremote: %s: empty reply", req)
		}
		out = append(out, data[:min(len(data), chunk)]...)
	}
	return out, nil
}

// Monitor runs a QEMU monitor command through qRcmd and returns its
// console output.
func (c *Client) Monitor(cmd string) (string, error) {
	req := "qRcmd," + hex.EncodeToString([]byte(cmd))
	if err := c.send(req); err != nil {
		return "", err
	}

	var out strings.Builder
	for {
		resp, err := c.receive()
		if err != nil {
			return "", err
		}
		switch {
		case len(resp) == 0:
			return "", fmt.Errorf("monitor %q: %w", cmd, ErrUnsupported)
		case string(resp) == "OK":
			return out.String(), nil
		case remoteError(req, resp) != nil:
			return "", remoteError(req, resp)
		case resp[0] == 'O':
			text, err := hex.DecodeString(string(resp[1:]))
			if err != nil {
				return "", fmt.Errorf("gdbremote: monitor output: %w", err)
			}
			out.Write(text)
		default:
			// Some stubs reply with the hex output directly.
			text, err := hex.DecodeString(string(resp))
			if err != nil {
				return "", fmt.Errorf("gdbremote: unexpected monitor reply %q", resp)
			}
			return out.String() + string(text), nil
		}
	}
}

// Close detaches from the stub, which lets the guest continue, and closes
// the connection.
func (c *Client) Close() error {
	if err := c.send("D"); err == nil {
		if _, err := c.receive(); err != nil {
			c.log.Debug("gdbremote: detach reply", "err", err)
		}
	}
	return c.conn.Close()
}
