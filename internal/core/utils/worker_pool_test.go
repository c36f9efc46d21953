package utils_test

import (
	"editbench/internal/core/utils"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunInpool(t *testing.T) {
	worker := func(i int) (string, error) {
		if i%4 == 3 {
			time.Sleep(time.Duration(10-i) * time.Millisecond)
			return "", fmt.Errorf("error")
		}
		return fmt.Sprintf("%d-%d", i, i), nil
	}

	queue := make(chan int, 10)

	for i := 0; i < 10; i++ {
		queue <- i
	}

	close(queue)

	output := make(chan utils.CompletedTask[int, string], 10)

	utils.RunInPool(worker, queue, output, 5)

	success, errors := 0, 0
	for result := range output {
		if result.Error != nil {
			errors++
			assert.Equal(t, 3, result.Input%4)
		} else {
			success++
			assert.Equal(t, fmt.Sprintf("%d-%d", result.Input, result.Input), result.Result)
		}
	}

	if success != 8 || errors != 2 {
		t.Fatal("invalid results")
	}
}

func TestRunInPoolBoundsConcurrency(t *testing.T) {
	var running, peak atomic.Int32

	worker := func(i int) (int, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		return i, nil
	}

	queue := make(chan int, 12)
	for i := 0; i < 12; i++ {
		queue <- i
	}
	close(queue)

	output := make(chan utils.CompletedTask[int, int], 12)
	utils.RunInPool(worker, queue, output, 3)

	count := 0
	for range output {
		count++
	}

	require.Equal(t, 12, count)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestRunInPoolEmptyQueue(t *testing.T) {
	queue := make(chan int)
	close(queue)

	output := make(chan utils.CompletedTask[int, int])
	utils.RunInPool(func(i int) (int, error) { return i, nil }, queue, output, 4)

	_, ok := <-output
	assert.False(t, ok)
}
