package mcp

import (
	"context"
	"encoding/json"
	"slices"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/lorekeep/internal/logger"
)

// ProtocolVersion is the newest protocol revision the server speaks.
const ProtocolVersion = "2025-06-18"

// supportedVersions are accepted from clients and echoed back unchanged.
var supportedVersions = []string{ProtocolVersion, "2025-03-26", "2024-11-05"}

// Protocol methods.
const (
	MethodInitialize  = "initialize"
	MethodInitialized = "notifications/initialized"
	MethodPing        = "ping"
	MethodToolsList   = "tools/list"
	MethodToolsCall   = "tools/call"
)

// State is the lifecycle position of a client session.
type State int

const (
	// StateUninitialized accepts only initialize.
	StateUninitialized State = iota
	// StateInitialized has answered initialize and waits for the client's notification.
	StateInitialized
	// StateReady accepts tool calls.
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Dispatcher runs the protocol state machine for one client session.
// Handle calls are serialised.
type Dispatcher struct {
	info    *mcp.Implementation
	catalog *catalog

	mu     sync.Mutex
	state  State
	client *mcp.Implementation
}

// NewDispatcher creates a dispatcher routing tool calls to ports.
func NewDispatcher(ports *Ports, cfg Config) (*Dispatcher, error) {
	cat, err := newCatalog(ports, cfg.withDefaults())
	if err != nil {
		return nil, err
	}
	return &Dispatcher{
		info:    &mcp.Implementation{Name: cfg.Name, Version: cfg.Version},
		catalog: cat,
	}, nil
}

// State returns the current lifecycle state.
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Client returns the client's self-description from initialize, if any.
func (d *Dispatcher) Client() *mcp.Implementation {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.client
}

// Handle processes one JSON-RPC message and returns the encoded response,
// or nil when the message is a notification.
func (d *Dispatcher) Handle(ctx context.Context, raw []byte) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	req, id, rpcErr := decodeRequest(raw)
	if rpcErr != nil {
		logger.Debug("Rejected message: %v", rpcErr)
		return encodeError(id, rpcErr)
	}
	if req.isNotification() {
		d.notify(req)
		return nil
	}

	result, rpcErr := d.dispatch(ctx, req)
	if rpcErr != nil {
		return encodeError(req.ID, rpcErr)
	}
	data, err := encodeResult(req.ID, result)
	if err != nil {
		logger.Error("Encoding %s result: %v", req.Method, err)
		return encodeError(req.ID, newRPCError(CodeInternalError, "encoding result: %v", err))
	}
	return data
}

func (d *Dispatcher) notify(req *request) {
	switch req.Method {
	case MethodInitialized:
		if d.state == StateInitialized {
			d.state = StateReady
			logger.Info("Client session ready")
		} else {
			logger.Warn("Ignoring %s in state %s", req.Method, d.state)
		}
	default:
		logger.Debug("Ignoring notification %s", req.Method)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, req *request) (any, *RPCError) {
	if req.Method == MethodInitialize {
		return d.initialize(req.Params)
	}
	if d.state == StateUninitialized {
		return nil, newRPCError(CodeNotInitialized, "server not initialized")
	}

	switch req.Method {
	case MethodPing:
		return struct{}{}, nil
	case MethodToolsList:
		return &mcp.ListToolsResult{Tools: d.catalog.list()}, nil
	case MethodToolsCall:
		if d.state != StateReady {
			return nil, newRPCError(CodeNotInitialized, "server not initialized: waiting for %s", MethodInitialized)
		}
		var params mcp.CallToolParamsRaw
		if err := decodeParams(req.Params, &params); err != nil {
			return nil, err
		}
		if params.Name == "" {
			return nil, newRPCError(CodeInvalidParams, "tool name is required")
		}
		return d.catalog.call(ctx, &params)
	default:
		return nil, newRPCError(CodeMethodNotFound, "method not found: %s", req.Method)
	}
}

func (d *Dispatcher) initialize(raw json.RawMessage) (any, *RPCError) {
	if d.state != StateUninitialized {
		return nil, newRPCError(CodeInvalidRequest, "server already initialized")
	}
	var params mcp.InitializeParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if params.ProtocolVersion == "" {
		return nil, newRPCError(CodeInvalidParams, "protocolVersion is required")
	}
	if params.Capabilities == nil {
		return nil, newRPCError(CodeInvalidParams, "capabilities are required")
	}

	version := ProtocolVersion
	if slices.Contains(supportedVersions, params.ProtocolVersion) {
		version = params.ProtocolVersion
	}
	d.client = params.ClientInfo
	d.state = StateInitialized
	if params.ClientInfo != nil {
		logger.Info("Initialized by %s %s (protocol %s)", params.ClientInfo.Name, params.ClientInfo.Version, version)
	}

	return &mcp.InitializeResult{
		ProtocolVersion: version,
		Capabilities:    &mcp.ServerCapabilities{Tools: &mcp.ToolCapabilities{}},
		ServerInfo:      d.info,
		Instructions: "Use semantic_search to find sections by meaning and get_content " +
			"to fetch a section by id, section id or title.",
	}, nil
}

func decodeParams(raw json.RawMessage, v any) *RPCError {
	if len(raw) == 0 || string(raw) == "null" {
		return newRPCError(CodeInvalidParams, "params are required")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return newRPCError(CodeInvalidParams, "invalid params: %v", err)
	}
	return nil
}
