package dispatch_test

import (
	"context"
	"editbench/internal/dispatch"
	"editbench/pkg/api"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubInvoker scores each task with the number in its user prompt, plus an
// offset per device so results can be traced back to where they ran.
type stubInvoker struct {
	mu       sync.Mutex
	calls    map[int][]int
	failing  map[int]bool
	short    map[int]bool
	running  map[int]int
	overlaps int
	active   int
	peak     int
}

func newStubInvoker() *stubInvoker {
	return &stubInvoker{
		calls:   map[int][]int{},
		failing: map[int]bool{},
		short:   map[int]bool{},
		running: map[int]int{},
	}
}

func (s *stubInvoker) Invoke(ctx context.Context, tasks []dispatch.ScoreTask, device int, timeout time.Duration) ([]float64, error) {
	s.mu.Lock()
	s.running[device]++
	if s.running[device] > 1 {
		s.overlaps++
	}
	s.active++
	s.peak = max(s.peak, s.active)
	for _, task := range tasks {
		s.calls[device] = append(s.calls[device], task.Index)
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running[device]--
		s.active--
		s.mu.Unlock()
	}()

	time.Sleep(time.Duration(rand.Intn(5)) * time.Millisecond)

	if s.failing[device] {
		return nil, &dispatch.WorkerError{Kind: dispatch.ProcessFailure, Device: device, Err: fmt.Errorf("boom")}
	}

	scores := make([]float64, len(tasks))
	for i, task := range tasks {
		v, err := strconv.ParseFloat(task.UserPrompt, 64)
		if err != nil {
			return nil, err
		}
		scores[i] = v
	}
	if s.short[device] {
		scores = scores[:len(scores)-1]
	}
	return scores, nil
}

func makeTasks(n int) []api.WorkerTask {
	tasks := make([]api.WorkerTask, n)
	for i := range tasks {
		tasks[i] = api.WorkerTask{ImageB64: "aW1n", UserPrompt: strconv.Itoa(i % 10)}
	}
	return tasks
}

func expectedScores(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i % 10)
	}
	return out
}

func TestPartitionRoundRobin(t *testing.T) {
	assignments := dispatch.Partition(makeTasks(7), []int{4, 5, 6})
	require.Len(t, assignments, 3)

	assert.Equal(t, 4, assignments[0].Device)
	assert.Equal(t, []int{0, 3, 6}, assignments[0].Indices)
	assert.Equal(t, []int{1, 4}, assignments[1].Indices)
	assert.Equal(t, []int{2, 5}, assignments[2].Indices)

	seen := map[int]int{}
	for _, a := range assignments {
		require.Len(t, a.Tasks, len(a.Indices))
		for j, idx := range a.Indices {
			assert.Equal(t, idx, a.Tasks[j].Index)
			seen[idx]++
		}
	}
	assert.Len(t, seen, 7)
	for _, count := range seen {
		assert.Equal(t, 1, count)
	}
}

func TestPartitionFewerTasksThanDevices(t *testing.T) {
	assignments := dispatch.Partition(makeTasks(2), []int{0, 1, 2, 3})
	require.Len(t, assignments, 4)
	assert.Len(t, assignments[0].Tasks, 1)
	assert.Len(t, assignments[1].Tasks, 1)
	assert.Empty(t, assignments[2].Tasks)
	assert.Empty(t, assignments[3].Tasks)
}

func TestDispatchPreservesOrder(t *testing.T) {
	for devices := 1; devices <= 5; devices++ {
		for n := 0; n <= 17; n++ {
			ids := make([]int, devices)
			for i := range ids {
				ids[i] = i
			}

			invoker := newStubInvoker()
			d := dispatch.NewDispatcher(invoker, time.Minute)

			scores, err := d.Dispatch(context.Background(), makeTasks(n), ids)
			require.NoError(t, err)
			assert.Equal(t, expectedScores(n), scores, "devices=%d tasks=%d", devices, n)

			for device, indices := range invoker.calls {
				for _, idx := range indices {
					assert.Equal(t, device, idx%devices)
				}
			}
			assert.Zero(t, invoker.overlaps)
			assert.LessOrEqual(t, invoker.peak, devices)
		}
	}
}

func TestDispatchSingleDeviceMatchesSequential(t *testing.T) {
	tasks := makeTasks(9)

	invoker := newStubInvoker()
	scores, err := dispatch.NewDispatcher(invoker, time.Minute).Dispatch(context.Background(), tasks, []int{0})
	require.NoError(t, err)

	direct := make([]dispatch.ScoreTask, len(tasks))
	for i, task := range tasks {
		direct[i] = dispatch.ScoreTask{WorkerTask: task, Index: i}
	}
	sequential, err := newStubInvoker().Invoke(context.Background(), direct, 0, time.Minute)
	require.NoError(t, err)

	assert.Equal(t, sequential, scores)
	assert.Len(t, invoker.calls, 1)
}

func TestDispatchIsolatesFailedDevice(t *testing.T) {
	invoker := newStubInvoker()
	invoker.failing[1] = true

	scores, err := dispatch.NewDispatcher(invoker, time.Minute).Dispatch(context.Background(), makeTasks(10), []int{0, 1, 2})
	require.NoError(t, err)
	require.Len(t, scores, 10)

	for i, score := range scores {
		if i%3 == 1 {
			assert.Equal(t, dispatch.SentinelScore, score, "index %d", i)
		} else {
			assert.Equal(t, float64(i%10), score, "index %d", i)
		}
	}
}

func TestDispatchWrongScoreCountIsSentinel(t *testing.T) {
	invoker := newStubInvoker()
	invoker.short[0] = true

	scores, err := dispatch.NewDispatcher(invoker, time.Minute).Dispatch(context.Background(), makeTasks(4), []int{0, 1})
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 1, 5, 3}, scores)
}

func TestDispatchEdgeCases(t *testing.T) {
	invoker := newStubInvoker()
	d := dispatch.NewDispatcher(invoker, time.Minute)

	scores, err := d.Dispatch(context.Background(), nil, []int{0, 1})
	require.NoError(t, err)
	assert.Empty(t, scores)
	assert.Empty(t, invoker.calls)

	_, err = d.Dispatch(context.Background(), makeTasks(3), nil)
	assert.ErrorIs(t, err, dispatch.ErrNoDevices)

	scores, err = d.Dispatch(context.Background(), makeTasks(2), []int{0, 1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1}, scores)
	assert.Len(t, invoker.calls, 2)
}

func TestDispatchSerializesDuplicateDevice(t *testing.T) {
	invoker := newStubInvoker()

	scores, err := dispatch.NewDispatcher(invoker, time.Minute).Dispatch(context.Background(), makeTasks(8), []int{3, 3})
	require.NoError(t, err)
	assert.Equal(t, expectedScores(8), scores)
	assert.Zero(t, invoker.overlaps)
}
