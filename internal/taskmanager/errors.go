package taskmanager

import "fmt"

// JSON-RPC-style error codes surfaced to API callers.
const (
	CodeInvalidParams = -32602
	CodeInternal      = -32603
	CodeNotFound      = -32001
)

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func InvalidParams(msg string) *RPCError { return &RPCError{Code: CodeInvalidParams, Message: msg} }
func Internal(msg string) *RPCError      { return &RPCError{Code: CodeInternal, Message: msg} }
func NotFound(msg string) *RPCError      { return &RPCError{Code: CodeNotFound, Message: msg} }
