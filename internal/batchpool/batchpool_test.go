package batchpool

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/valuemesh/subscriber/internal/wire"
)

func TestGetReturnsClearedBatchAfterRelease(t *testing.T) {
	b := Get()
	b.Updates = append(b.Updates, Update{SubID: wire.NewSubID(), Value: wire.Int64(1)})
	b.Release()

	got := Get()
	assert.Empty(t, got.Updates)
}

func TestReleasedBatchIsReusedNotReallocated(t *testing.T) {
	first := Get()
	first.Updates = append(first.Updates, Update{}, Update{}, Update{})
	first.Release()

	second := Get()
	assert.Same(t, first, second)
	assert.Empty(t, second.Updates)
}
