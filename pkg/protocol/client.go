package protocol

import (
	"errors"
	"fmt"
	"io"
	"time"
)

// DefaultTimeout bounds how long the client waits for a full response.
const DefaultTimeout = 10 * time.Second

// pollInterval is the per-read timeout handed to the port while waiting for
// response bytes.
const pollInterval = 100 * time.Millisecond

// ErrTimeout is returned when the response does not arrive in time.
var ErrTimeout = errors.New("protocol: response timeout")

// Port is the byte link to a programmer. go.bug.st/serial ports satisfy it
// directly; the USB and simulated bindings implement it too.
type Port interface {
	io.ReadWriter
	ResetInputBuffer() error
	SetReadTimeout(t time.Duration) error
}

// Client runs request/response exchanges over a Port with a fixed status
// encoding.
type Client struct {
	port    Port
	status  StatusEncoding
	timeout time.Duration
}

// NewClient wraps port. The status encoding stays fixed for the life of the
// client.
func NewClient(port Port, status StatusEncoding) *Client {
	c := &Client{port: port, status: status, timeout: DefaultTimeout}
	_ = port.SetReadTimeout(pollInterval)
	return c
}

// Status returns the encoding this client was bound to.
func (c *Client) Status() StatusEncoding {
	return c.status
}

// SetTimeout changes the response timeout.
func (c *Client) SetTimeout(timeout time.Duration) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c.timeout = timeout
}

// Timeout returns the response timeout.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// Send writes one request and returns the result bytes of its response.
func (c *Client) Send(op Opcode, params ...byte) ([]byte, error) {
	req, err := EncodeRequest(op, params...)
	if err != nil {
		return nil, err
	}
	if err := c.port.ResetInputBuffer(); err != nil {
		return nil, fmt.Errorf("protocol: purge before %s: %w", op, err)
	}
	if _, err := c.port.Write(req); err != nil {
		return nil, fmt.Errorf("protocol: write %s: %w", op, err)
	}

	deadline := time.Now().Add(c.timeout)
	status := make([]byte, 1)
	if err := c.readFull(status, deadline); err != nil {
		return nil, fmt.Errorf("protocol: %s status: %w", op, err)
	}
	info := Lookup(op)
	resp := make([]byte, 1+info.Result)
	resp[0] = status[0]
	if status[0] == c.status.OK && info.Result > 0 {
		if err := c.readFull(resp[1:], deadline); err != nil {
			return nil, fmt.Errorf("protocol: %s result: %w", op, err)
		}
	}
	return DecodeResponse(c.status, op, resp)
}

// Close closes the underlying port when it supports closing.
func (c *Client) Close() error {
	if closer, ok := c.port.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (c *Client) readFull(buf []byte, deadline time.Time) error {
	got := 0
	for got < len(buf) {
		n, err := c.port.Read(buf[got:])
		got += n
		if err != nil {
			if errors.Is(err, io.EOF) && got < len(buf) {
				return fmt.Errorf("%w: link closed", ErrShortResponse)
			}
			if !errors.Is(err, io.EOF) {
				return err
			}
		}
		if got < len(buf) && time.Now().After(deadline) {
			return ErrTimeout
		}
	}
	return nil
}
