package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/top-phrases/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/top-phrases/pkg/logger"
)

// RemoteError is a failure reported by the server. It unwraps to the matching
// errors sentinel so callers can use errors.Is across the wire.
type RemoteError struct {
	Method  string
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("rpc %s: %d: %s", e.Method, e.Code, e.Message)
}

func (e *RemoteError) Unwrap() error {
	switch e.Code {
	case 400:
		return apperrors.ErrInvalidInput
	case 404:
		return apperrors.ErrJobNotFound
	case 503:
		return apperrors.ErrCancelled
	default:
		return nil
	}
}

// Client holds one connection; calls are serialized over it. After a
// transport failure the connection is out of step and every later call
// returns the same error.
type Client struct {
	conn   net.Conn
	enc    *json.Encoder
	dec    *json.Decoder
	mu     sync.Mutex
	nextID uint64
	broken error
}

// Dial connects to an rpc Server at addr.
func Dial(addr string) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	return &Client{
		conn: conn,
		enc:  json.NewEncoder(conn),
		dec:  json.NewDecoder(conn),
	}, nil
}

// Call invokes method and decodes the response data into result, which may be
// nil. The context deadline bounds the round trip; the request ID in ctx is
// forwarded to the server.
func (c *Client) Call(ctx context.Context, method string, params, result any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshaling params: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broken != nil {
		return c.broken
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline, _ := ctx.Deadline()
	if err := c.conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("setting deadline: %w", err)
	}

	c.nextID++
	id := strconv.FormatUint(c.nextID, 10)
	req := Request{Method: method, ID: id, RequestID: logger.RequestID(ctx), Params: raw}
	if err := c.enc.Encode(req); err != nil {
		c.broken = fmt.Errorf("sending %s: %w", method, err)
		return c.broken
	}
	var resp Response
	if err := c.dec.Decode(&resp); err != nil {
		c.broken = fmt.Errorf("reading %s response: %w", method, err)
		return c.broken
	}
	if resp.ID != id {
		c.broken = fmt.Errorf("rpc %s: response id %q does not match request %q", method, resp.ID, id)
		return c.broken
	}
	if resp.Error != nil {
		return &RemoteError{Method: method, Code: resp.Error.Code, Message: resp.Error.Message}
	}
	if result != nil && len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, result); err != nil {
			return fmt.Errorf("decoding %s result: %w", method, err)
		}
	}
	return nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
