package gateway

import (
	"fmt"
	"strings"

	"web3-gateway-go/internal/chain"
)

// AttemptError is one failed candidate in a fallback chain.
type AttemptError struct {
	Endpoint string `json:"endpoint"`
	Err      error  `json:"-"`
}

// ExhaustedFallbackError 所有候选端点均失败，按尝试顺序列出每个端点的错误
type ExhaustedFallbackError struct {
	Request  chain.Request
	Attempts []AttemptError
}

func (e *ExhaustedFallbackError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "all %d endpoints failed for %s", len(e.Attempts), e.Request)
	for i, a := range e.Attempts {
		fmt.Fprintf(&b, "; [%d] %s: %v", i+1, a.Endpoint, a.Err)
	}
	return b.String()
}

// Unwrap exposes the per-endpoint errors to errors.Is and errors.As.
func (e *ExhaustedFallbackError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		errs = append(errs, a.Err)
	}
	return errs
}
