package deltachat

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// ErrClosed is returned for calls made after, or pending when, the
// connection to the RPC server went away.
var ErrClosed = errors.New("deltachat: rpc connection closed")

// maxLine bounds a single JSON-RPC message; chat list payloads can be large.
const maxLine = 64 << 20

// RPCError is an error object returned by the RPC server.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("deltachat rpc error %d: %s", e.Code, e.Message)
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type response struct {
	ID     *int64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// RPC is a line-delimited JSON-RPC 2.0 client. Calls may be issued from any
// goroutine; responses are matched to callers by id.
type RPC struct {
	logger *slog.Logger

	writeMu sync.Mutex
	w       io.Writer

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan response
	closed  bool
	done    chan struct{}
}

// NewRPC starts reading responses from r. Requests are written to w.
func NewRPC(r io.Reader, w io.Writer, logger *slog.Logger) *RPC {
	if logger == nil {
		logger = slog.Default()
	}
	c := &RPC{
		logger:  logger,
		w:       w,
		pending: make(map[int64]chan response),
		done:    make(chan struct{}),
	}
	go c.readLoop(r)
	return c
}

// Done is closed once the read side of the connection ends.
func (c *RPC) Done() <-chan struct{} { return c.done }

// Call invokes method with positional params and decodes the result into
// result, which may be nil.
func (c *RPC) Call(ctx context.Context, method string, result any, params ...any) error {
	if params == nil {
		params = []any{}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.nextID++
	id := c.nextID
	ch := make(chan response, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	data, err := json.Marshal(request{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		c.forget(id)
		return fmt.Errorf("encode %s: %w", method, err)
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	_, err = c.w.Write(data)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		return fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		c.forget(id)
		return ctx.Err()
	case resp, ok := <-ch:
		if !ok {
			return ErrClosed
		}
		if resp.Error != nil {
			return resp.Error
		}
		if result == nil || len(resp.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
		return nil
	}
}

func (c *RPC) forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *RPC) readLoop(r io.Reader) {
	defer c.shutdown()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp response
		if err := json.Unmarshal(line, &resp); err != nil {
			c.logger.Warn("deltachat: bad rpc message", "err", err)
			continue
		}
		if resp.ID == nil {
			// notifications are not used; events are polled
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[*resp.ID]
		delete(c.pending, *resp.ID)
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
	if err := scanner.Err(); err != nil {
		c.logger.Error("deltachat: rpc read failed", "err", err)
	}
}

func (c *RPC) shutdown() {
	c.mu.Lock()
	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()
	close(c.done)
}
