package adapter

import (
	"errors"
	"fmt"
)

// ErrUnsupported marks a canonical request the backend's protocol cannot answer.
var ErrUnsupported = errors.New("operation not supported by backend")

// TransportError 网络层失败：连接失败、超时或非 2xx 响应
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error from %s: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError 节点可达但响应不合法（JSON-RPC error 对象、缺失或畸形字段）
type ProtocolError struct {
	Endpoint string
	Err      error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error from %s: %v", e.Endpoint, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// IsAdapterError reports whether err came from a single failed adapter attempt.
func IsAdapterError(err error) bool {
	var te *TransportError
	var pe *ProtocolError
	return errors.As(err, &te) || errors.As(err, &pe)
}

func transportErr(endpoint string, format string, args ...interface{}) error {
	return &TransportError{Endpoint: endpoint, Err: fmt.Errorf(format, args...)}
}

func protocolErr(endpoint string, format string, args ...interface{}) error {
	return &ProtocolError{Endpoint: endpoint, Err: fmt.Errorf(format, args...)}
}
