package deltachat

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type handlerFunc func(method string, params []json.RawMessage) (any, error)

// fakeServer answers JSON-RPC requests over in-memory pipes. Every request
// is handled in its own goroutine so handlers may block.
type fakeServer struct {
	handle handlerFunc

	writeMu sync.Mutex
	out     *io.PipeWriter // server -> client
	in      *io.PipeReader // client -> server
}

func newFakeServer(t *testing.T, handle handlerFunc) (*fakeServer, *RPC) {
	t.Helper()
	c2sR, c2sW := io.Pipe()
	s2cR, s2cW := io.Pipe()

	s := &fakeServer{handle: handle, out: s2cW, in: c2sR}
	go s.serve()

	rpc := NewRPC(s2cR, c2sW, testLogger())
	t.Cleanup(func() {
		c2sW.Close()
		s2cW.Close()
	})
	return s, rpc
}

func (s *fakeServer) serve() {
	scanner := bufio.NewScanner(s.in)
	for scanner.Scan() {
		var req struct {
			ID     int64             `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue
		}
		go func() {
			result, err := s.handle(req.Method, req.Params)
			resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
			if err != nil {
				rerr, ok := err.(*RPCError)
				if !ok {
					rerr = &RPCError{Code: -32000, Message: err.Error()}
				}
				resp["error"] = rerr
			} else {
				resp["result"] = result
			}
			data, _ := json.Marshal(resp)
			s.writeMu.Lock()
			s.out.Write(append(data, '\n'))
			s.writeMu.Unlock()
		}()
	}
}

// hangUp closes the server's write side, as a crashed process would.
func (s *fakeServer) hangUp() {
	s.out.Close()
}
