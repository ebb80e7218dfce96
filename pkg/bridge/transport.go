package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
)

// maxLineBytes bounds a single framed response. Accessibility snapshots of
// heavy pages run to hundreds of kilobytes; 32 MiB is far above anything
// observed in practice.
const maxLineBytes = 32 << 20

// ErrTransportClosed indicates the subprocess pipe is gone.
var ErrTransportClosed = errors.New("bridge transport closed")

// transport owns one bridge subprocess and its duplex stdio pipe. The wire
// is JSON-RPC 2.0 framed as newline-delimited objects. Writes are serialized
// by a mutex; the read loop routes responses to per-call channels by ID.
type transport struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	nextID atomic.Int64

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[int64]chan *response
	closed  bool

	done chan struct{}
}

// startTransport launches the subprocess and begins the read loop.
func startTransport(command string, args []string) (*transport, error) {
	cmd := exec.Command(command, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("bridge stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("bridge stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("bridge stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("bridge start: %w", err)
	}

	t := &transport{
		cmd:     cmd,
		stdin:   stdin,
		pending: make(map[int64]chan *response),
		done:    make(chan struct{}),
	}

	go t.readLoop(stdout)
	go t.drainStderr(stderr)

	return t, nil
}

// call sends a request and waits for the matching response or ctx expiry.
func (t *transport) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := t.nextID.Add(1)
	ch := make(chan *response, 1)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrTransportClosed
	}
	t.pending[id] = ch
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	}()

	if err := t.write(request{JSONRPC: "2.0", ID: &id, Method: method, Params: params}); err != nil {
		return nil, err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrTransportClosed
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.done:
		return nil, ErrTransportClosed
	}
}

// notify sends a request without an ID; the bridge sends no response.
func (t *transport) notify(method string, params any) error {
	return t.write(request{JSONRPC: "2.0", Method: method, Params: params})
}

func (t *transport) write(req request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("bridge marshal request: %w", err)
	}
	data = append(data, '\n')

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.stdin.Write(data); err != nil {
		return fmt.Errorf("bridge write: %w", err)
	}
	return nil
}

// readLoop parses newline-delimited responses and routes them by ID.
// Unroutable lines (unknown ID, notifications from the bridge) are logged
// and dropped.
func (t *transport) readLoop(stdout io.Reader) {
	defer t.shutdownPending()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var resp response
		if err := json.Unmarshal(line, &resp); err != nil {
			slog.Warn("Bridge sent unparseable line", "error", err, "bytes", len(line))
			continue
		}

		t.mu.Lock()
		ch, ok := t.pending[resp.ID]
		t.mu.Unlock()
		if !ok {
			slog.Debug("Bridge response with no pending call", "id", resp.ID)
			continue
		}
		respCopy := resp
		respCopy.Result = append(json.RawMessage(nil), resp.Result...)
		ch <- &respCopy
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		slog.Warn("Bridge read loop ended", "error", err)
	}
}

func (t *transport) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		slog.Debug("bridge stderr", "line", scanner.Text())
	}
}

// shutdownPending marks the transport closed and unblocks all waiters.
func (t *transport) shutdownPending() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	close(t.done)
	for id, ch := range t.pending {
		close(ch)
		delete(t.pending, id)
	}
}

// alive reports whether the subprocess is still running.
func (t *transport) alive() bool {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return false
	}
	return t.cmd.ProcessState == nil
}

// close terminates the subprocess. Safe to call multiple times.
func (t *transport) close() error {
	t.shutdownPending()
	_ = t.stdin.Close()
	if t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
	}
	// Wait reaps the child; error is expected after Kill.
	_ = t.cmd.Wait()
	return nil
}
