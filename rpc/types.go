package rpc

import (
	"encoding/json"
	"errors"

	proxyerrors "proxyvm/core/errors"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeUnauthorized   = -32001
	codeRateLimited    = -32020
)

type rpcRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      json.RawMessage   `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// errorCode maps a core failure onto its JSON-RPC error code. Every reason
// tag stays visible in the message; nothing is swallowed.
func errorCode(err error) int {
	switch {
	case errors.Is(err, proxyerrors.ErrUnauthorized):
		return codeUnauthorized
	case errors.Is(err, proxyerrors.ErrUnknownInstance),
		errors.Is(err, proxyerrors.ErrUnknownCode),
		errors.Is(err, proxyerrors.ErrUnknownMethod):
		return codeInvalidParams
	default:
		return codeServerError
	}
}

type callSpec struct {
	Method string   `json:"method"`
	Args   []string `json:"args"`
}

type deployParams struct {
	Caller         string    `json:"caller"`
	Code           string    `json:"code"`
	Init           *callSpec `json:"init"`
	SelfAuthorized bool      `json:"selfAuthorized"`
}

type deployResult struct {
	Proxy          string `json:"proxy"`
	Implementation string `json:"implementation"`
}

type callParams struct {
	Caller string   `json:"caller"`
	To     string   `json:"to"`
	Method string   `json:"method"`
	Args   []string `json:"args"`
}

type callResult struct {
	Output []string `json:"output"`
}

type upgradeParams struct {
	Caller string    `json:"caller"`
	Proxy  string    `json:"proxy"`
	// Either an existing implementation address or a registered code
	// reference to deploy fresh (locked) before the switch.
	Implementation string    `json:"implementation"`
	Code           string    `json:"code"`
	Post           *callSpec `json:"post"`
}

type introspectParams struct {
	Proxy string `json:"proxy"`
}

type introspectResult struct {
	Implementation string `json:"implementation"`
	Admin          string `json:"admin"`
	CodeRef        string `json:"codeRef,omitempty"`
	CodeHash       string `json:"codeHash,omitempty"`
	Epoch          uint64 `json:"epoch"`
	Locked         bool   `json:"locked"`
}

type historyParams struct {
	Proxy string `json:"proxy"`
}

type historyEntry struct {
	Implementation string `json:"implementation"`
	CodeRef        string `json:"codeRef,omitempty"`
	OK             bool   `json:"ok"`
	Reason         string `json:"reason,omitempty"`
	Time           string `json:"time"`
}
