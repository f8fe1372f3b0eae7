package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const jsonrpcVersion = "2.0"

// JSON-RPC error codes. CodeNotInitialized is the MCP server error for
// requests that arrive before the initialize handshake.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	CodeNotInitialized = -32002
)

// RPCError is the error member of a JSON-RPC response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

func newRPCError(code int, format string, args ...any) *RPCError {
	return &RPCError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// request is an incoming request or notification. ID is nil for
// notifications and the literal null for requests with a null id.
type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

func (r *request) isNotification() bool {
	return r.ID == nil
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

var nullID = json.RawMessage("null")

// decodeRequest parses one message. The returned id is whatever could be
// recovered, so error responses still echo it.
func decodeRequest(raw []byte) (*request, json.RawMessage, *RPCError) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || !json.Valid(raw) {
		return nil, nil, newRPCError(CodeParseError, "parse error")
	}
	if raw[0] == '[' {
		return nil, nil, newRPCError(CodeInvalidRequest, "batch requests are not supported")
	}

	var req request
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, recoverID(raw), newRPCError(CodeInvalidRequest, "invalid request: %v", err)
	}
	if req.ID != nil && !validID(req.ID) {
		return nil, nil, newRPCError(CodeInvalidRequest, "id must be a string, number or null")
	}
	if req.JSONRPC != jsonrpcVersion {
		return nil, req.ID, newRPCError(CodeInvalidRequest, "jsonrpc must be %q", jsonrpcVersion)
	}
	if req.Method == "" {
		return nil, req.ID, newRPCError(CodeInvalidRequest, "method is required")
	}
	return &req, req.ID, nil
}

// recoverID pulls a usable id out of a message whose other members are malformed.
func recoverID(raw []byte) json.RawMessage {
	var envelope struct {
		ID json.RawMessage `json:"id"`
	}
	if json.Unmarshal(raw, &envelope) != nil || !validID(envelope.ID) {
		return nil
	}
	return envelope.ID
}

func validID(id json.RawMessage) bool {
	if len(id) == 0 {
		return false
	}
	switch c := id[0]; {
	case c == '"', c == '-', c >= '0' && c <= '9':
		return true
	default:
		return bytes.Equal(id, nullID)
	}
}

func encodeResult(id json.RawMessage, result any) ([]byte, error) {
	return json.Marshal(response{JSONRPC: jsonrpcVersion, ID: orNull(id), Result: result})
}

func encodeError(id json.RawMessage, rpcErr *RPCError) []byte {
	data, err := json.Marshal(response{JSONRPC: jsonrpcVersion, ID: orNull(id), Error: rpcErr})
	if err != nil {
		// Data is the only member that can fail to marshal.
		data, _ = json.Marshal(response{
			JSONRPC: jsonrpcVersion,
			ID:      orNull(id),
			Error:   &RPCError{Code: rpcErr.Code, Message: rpcErr.Message},
		})
	}
	return data
}

func orNull(id json.RawMessage) json.RawMessage {
	if id == nil {
		return nullID
	}
	return id
}
