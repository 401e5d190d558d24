package supervisor

import (
	"errors"
	"fmt"
)

// 生命周期拒绝信号：立即返回，不重试
var (
	ErrAlreadyRunning     = errors.New("mining process already running")
	ErrNotRunning         = errors.New("mining process not running")
	ErrConfigMissing      = errors.New("no mining config registered")
	ErrExecutableNotFound = errors.New("miner executable not found")
)

// LifecycleError carries the coin a lifecycle rejection applies to.
type LifecycleError struct {
	Coin string
	Err  error
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("mining %s: %v", e.Coin, e.Err)
}

func (e *LifecycleError) Unwrap() error { return e.Err }
