// Package bridge drives the external browser-automation subprocess over
// JSON-RPC 2.0, newline-delimited on stdio. A single subprocess serves the
// whole process; each run owns an isolated browser context keyed by run ID.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/uiprobe/uiprobe/pkg/config"
	"github.com/uiprobe/uiprobe/pkg/models"
)

// initTimeout bounds the initialize handshake after process start.
const initTimeout = 30 * time.Second

// toolSnapshot is the bridge tool that returns the accessibility-tree
// snapshot as nested {content, url, title, mode} JSON.
const toolSnapshot = "snapshot"

// Client is the process-wide bridge handle. Thread-safe; tool calls for one
// context must be issued sequentially by the owning run (the executor
// guarantees at most one in-flight call per run).
type Client struct {
	cfg *config.BridgeConfig

	mu        sync.Mutex
	transport *transport

	logger *slog.Logger
}

// NewClient creates a bridge client. The subprocess is not started until
// Start or EnsureContext.
func NewClient(cfg *config.BridgeConfig) *Client {
	return &Client{cfg: cfg, logger: slog.Default()}
}

// IsRunning probes subprocess liveness. A true result does not guarantee the
// next call succeeds (TOCTOU); callers that need a context must go through
// EnsureContext, which retries with ForceRestart.
func (c *Client) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transport != nil && c.transport.alive()
}

// Start launches the subprocess and performs the initialize handshake.
// No-op when already running.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transport != nil && c.transport.alive() {
		return nil
	}
	return c.startLocked(ctx)
}

func (c *Client) startLocked(ctx context.Context) error {
	t, err := startTransport(c.cfg.Command, c.cfg.Args)
	if err != nil {
		return fmt.Errorf("bridge spawn: %w", err)
	}

	initCtx, cancel := context.WithTimeout(ctx, initTimeout)
	defer cancel()

	if _, err := t.call(initCtx, methodInitialize, initializeParams{
		Engine:       c.cfg.Engine,
		SnapshotMode: c.cfg.SnapshotMode,
	}); err != nil {
		_ = t.close()
		return fmt.Errorf("bridge initialize: %w", err)
	}

	// The initialized notification triggers browser launch; no response.
	if err := t.notify(methodInitialized, nil); err != nil {
		_ = t.close()
		return fmt.Errorf("bridge initialized notification: %w", err)
	}

	c.transport = t
	c.logger.Info("Bridge subprocess started", "command", c.cfg.Command, "engine", c.cfg.Engine)
	return nil
}

// ForceRestart kills the subprocess (if any) and starts a fresh one.
func (c *Client) ForceRestart(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transport != nil {
		_ = c.transport.close()
		c.transport = nil
	}
	c.logger.Warn("Bridge force restart")
	return c.startLocked(ctx)
}

// Shutdown requests a graceful stop, then terminates the subprocess.
func (c *Client) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transport == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := c.transport.call(shutdownCtx, methodShutdown, nil); err != nil {
		c.logger.Warn("Bridge graceful shutdown failed, killing", "error", err)
	}
	err := c.transport.close()
	c.transport = nil
	return err
}

// CreateContext establishes a clean-room browser context for a run
// (per-run cookies, storage, cache).
func (c *Client) CreateContext(ctx context.Context, runID string) error {
	_, err := c.call(ctx, methodCreateCtx, createContextParams{
		RunID:    runID,
		Headless: c.cfg.Headless,
	})
	if err != nil {
		return fmt.Errorf("create context for run %s: %w", runID, err)
	}
	return nil
}

// CloseContext tears down a run's browser context.
func (c *Client) CloseContext(ctx context.Context, runID string) error {
	_, err := c.call(ctx, methodCloseCtx, closeContextParams{RunID: runID})
	if err != nil {
		return fmt.Errorf("close context for run %s: %w", runID, err)
	}
	return nil
}

// ListTools returns the bridge's advertised tool names.
func (c *Client) ListTools(ctx context.Context) ([]string, error) {
	raw, err := c.call(ctx, methodListTools, nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("tools/list parse: %w", err)
	}
	names := make([]string, len(result.Tools))
	for i, t := range result.Tools {
		names[i] = t.Name
	}
	return names, nil
}

// CallTool executes a named tool and unwraps the response envelope.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	raw, err := c.call(ctx, methodCallTool, callToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", name, err)
	}
	return unwrapResult(raw)
}

// Snapshot captures the current accessibility-tree snapshot for a run's
// context.
func (c *Client) Snapshot(ctx context.Context, runID string) (*models.DomSnapshot, error) {
	result, err := c.CallTool(ctx, toolSnapshot, map[string]any{"runId": runID})
	if err != nil {
		return nil, err
	}
	return parseSnapshot(result.Text)
}

// call applies the per-call timeout and dispatches on the live transport.
func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	t := c.transport
	c.mu.Unlock()
	if t == nil {
		return nil, ErrTransportClosed
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()
	return t.call(callCtx, method, params)
}
