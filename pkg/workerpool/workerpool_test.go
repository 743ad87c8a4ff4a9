package workerpool

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunAggregatesAcrossStripes(t *testing.T) {
	items := make([]int, 97)
	for i := range items {
		items[i] = i
	}

	var calls int64
	result := Run(items, 8, func(item int) error {
		atomic.AddInt64(&calls, 1)
		if item%10 == 0 {
			return fmt.Errorf("boom at %d", item)
		}
		return nil
	})

	assert.EqualValues(t, len(items), calls)
	assert.Equal(t, 10, result.Failed)
	assert.Equal(t, 87, result.Succeeded)
}

func TestRunHandlesEmptyAndOverSizedParallelism(t *testing.T) {
	assert.Equal(t, Result{}, Run[int](nil, 4, func(int) error { return nil }))

	result := Run([]int{1, 2}, 10, func(int) error { return nil })
	assert.Equal(t, Result{Succeeded: 2}, result)
}
