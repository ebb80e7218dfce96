package bridge

import (
	"encoding/json"
	"fmt"
)

// JSON-RPC 2.0 error codes used by the bridge.
const (
	CodeParse          = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternal       = -32603
)

// Bridge request methods.
const (
	methodInitialize   = "initialize"
	methodInitialized  = "notifications/initialized"
	methodListTools    = "tools/list"
	methodCallTool     = "tools/call"
	methodCreateCtx    = "browser/createContext"
	methodCloseCtx     = "browser/closeContext"
	methodShutdown     = "shutdown"
)

// request is a JSON-RPC 2.0 request or notification (nil ID) framed as one
// newline-delimited object.
type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *int64 `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// response is a JSON-RPC 2.0 response object.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the JSON-RPC error member.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("bridge rpc error %d: %s", e.Code, e.Message)
}

// initializeParams configures the bridge at handshake.
type initializeParams struct {
	Engine       string `json:"engine"`
	SnapshotMode string `json:"snapshotMode"`
}

// createContextParams requests a clean-room context for a run.
type createContextParams struct {
	RunID    string `json:"runId"`
	Headless bool   `json:"headless"`
}

// closeContextParams closes a run's context.
type closeContextParams struct {
	RunID string `json:"runId"`
}

// callToolParams invokes a named tool with arguments.
type callToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}
