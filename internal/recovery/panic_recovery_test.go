package recovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRun(t *testing.T) {
	assert.True(t, Run(nil, "boom", func() { panic("boom") }))

	ran := false
	assert.False(t, Run(nil, "ok", func() { ran = true }))
	assert.True(t, ran)
}

func TestGo(t *testing.T) {
	done := make(chan struct{})
	Go(nil, "worker", func() {
		defer close(done)
		panic("worker failed")
	})
	<-done
}
