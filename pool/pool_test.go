package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() log.Logger {
	return log.NewLogger(log.DiscardHandler())
}

func sleeper(d time.Duration) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		select {
		case <-time.After(d):
			return nil
		case <-ctx.Done():
			// Keep going to completion, like a body that ignores
			// cancellation. The slot is released regardless.
			<-time.After(d)
			return nil
		}
	}
}

func TestPoolRunsTasksInScheduleOrder(t *testing.T) {
	p, err := New(testLogger(), Config{DefaultSlots: 2})
	require.NoError(t, err)

	for _, name := range []string{"a", "b", "c"} {
		_, err := p.Schedule(Task{Name: name, Run: func(context.Context) error { return nil }})
		require.NoError(t, err)
	}
	results := p.Wait()
	require.Len(t, results, 3)
	assert.Equal(t, "a", results[0].Name)
	assert.Equal(t, "b", results[1].Name)
	assert.Equal(t, "c", results[2].Name)
	for _, r := range results {
		assert.NoError(t, r.Err)
		assert.False(t, r.TimedOut)
		assert.NotEmpty(t, r.TaskID)
		assert.Equal(t, DefaultGroup, r.Group)
	}
}

func TestPoolRejectsUnknownGroup(t *testing.T) {
	p, err := New(testLogger(), Config{})
	require.NoError(t, err)
	defer p.Wait()

	_, err = p.Schedule(Task{Name: "x", Group: "nope", Run: func(context.Context) error { return nil }})
	var unknown *UnknownGroupError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "nope", unknown.Group)
}

func TestPoolImplicitGroups(t *testing.T) {
	p, err := New(testLogger(), Config{AllowImplicitGroups: true})
	require.NoError(t, err)

	_, err = p.Schedule(Task{Name: "x", Group: "fresh", Run: func(context.Context) error { return nil }})
	require.NoError(t, err)

	results := p.Wait()
	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, "fresh", results[0].Group)
}

func TestPoolGroupConfigValidation(t *testing.T) {
	_, err := New(testLogger(), Config{Groups: []GroupConfig{{Name: "", Slots: 1}}})
	require.Error(t, err)

	_, err = New(testLogger(), Config{Groups: []GroupConfig{{Name: "g", Slots: 0}}})
	require.Error(t, err)

	_, err = New(testLogger(), Config{Groups: []GroupConfig{{Name: "g", Slots: 1}, {Name: "g", Slots: 2}}})
	require.Error(t, err)
}

func TestPoolTaskTimeout(t *testing.T) {
	p, err := New(testLogger(), Config{DefaultSlots: 2})
	require.NoError(t, err)

	_, err = p.Schedule(Task{Name: "normal", Timeout: 2 * time.Second, Run: sleeper(50 * time.Millisecond)})
	require.NoError(t, err)
	_, err = p.Schedule(Task{Name: "abnormal", Timeout: 100 * time.Millisecond, Run: sleeper(time.Second)})
	require.NoError(t, err)

	results := p.Wait()
	require.Len(t, results, 2)

	assert.NoError(t, results[0].Err)
	assert.False(t, results[0].TimedOut)

	assert.True(t, results[1].TimedOut)
	var timeout *TimeoutError
	require.ErrorAs(t, results[1].Err, &timeout)
	assert.Equal(t, "abnormal", timeout.Task)
	// Wait returned without blocking on the abandoned sleeper body.
	assert.Less(t, results[1].Duration, 500*time.Millisecond)
}

func TestPoolTimeoutClockStartsAtExecution(t *testing.T) {
	// One slot: the second task queues behind the first for longer than its
	// own timeout, but must not time out while waiting.
	p, err := New(testLogger(), Config{DefaultSlots: 1})
	require.NoError(t, err)

	_, err = p.Schedule(Task{Name: "head", Run: sleeper(300 * time.Millisecond)})
	require.NoError(t, err)
	_, err = p.Schedule(Task{Name: "queued", Timeout: 200 * time.Millisecond, Run: sleeper(50 * time.Millisecond)})
	require.NoError(t, err)

	results := p.Wait()
	require.Len(t, results, 2)
	assert.NoError(t, results[1].Err)
	assert.False(t, results[1].TimedOut)
}

func TestPoolGroupsIsolateTimeouts(t *testing.T) {
	p, err := New(testLogger(), Config{Groups: []GroupConfig{
		{Name: "first", Slots: 2},
		{Name: "second", Slots: 2},
	}})
	require.NoError(t, err)

	type spec struct {
		group   string
		sleep   time.Duration
		timeout time.Duration
	}
	tasks := []spec{
		{"first", 100 * time.Millisecond, 500 * time.Millisecond},
		{"first", 200 * time.Millisecond, 500 * time.Millisecond},
		{"first", 300 * time.Millisecond, 500 * time.Millisecond},
		{"second", 100 * time.Millisecond, 300 * time.Millisecond},
		{"second", 200 * time.Millisecond, 300 * time.Millisecond},
		{"second", 500 * time.Millisecond, 300 * time.Millisecond},
	}
	for _, s := range tasks {
		_, err := p.Schedule(Task{Name: s.group, Group: s.group, Timeout: s.timeout, Run: sleeper(s.sleep)})
		require.NoError(t, err)
	}

	results := p.Wait()
	require.Len(t, results, 6)
	var timedOut int
	for i, r := range results {
		if r.TimedOut {
			timedOut++
			assert.Equal(t, "second", r.Group, "result %d", i)
		}
	}
	assert.Equal(t, 1, timedOut, "only the long task in the tight-deadline group should time out")
}

func TestPoolAbandonedCallback(t *testing.T) {
	p, err := New(testLogger(), Config{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	var abandonedErr atomic.Value
	bodyErr := errors.New("late failure")

	_, err = p.Schedule(Task{
		Name:    "late",
		Timeout: 50 * time.Millisecond,
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			time.Sleep(50 * time.Millisecond)
			return bodyErr
		},
		OnAbandoned: func(err error) {
			abandonedErr.Store(err)
			wg.Done()
		},
	})
	require.NoError(t, err)

	results := p.Wait()
	require.True(t, results[0].TimedOut)

	wg.Wait()
	assert.Equal(t, bodyErr, abandonedErr.Load())
}

func TestPoolRecoversPanickingTask(t *testing.T) {
	p, err := New(testLogger(), Config{})
	require.NoError(t, err)

	_, err = p.Schedule(Task{Name: "boom", Run: func(context.Context) error {
		panic("kaboom")
	}})
	require.NoError(t, err)

	results := p.Wait()
	require.Len(t, results, 1)
	require.Error(t, results[0].Err)
	assert.Contains(t, results[0].Err.Error(), "kaboom")
	assert.False(t, results[0].TimedOut)
}

func TestPoolScheduleAfterWait(t *testing.T) {
	p, err := New(testLogger(), Config{})
	require.NoError(t, err)
	p.Wait()

	_, err = p.Schedule(Task{Name: "x", Run: func(context.Context) error { return nil }})
	require.Error(t, err)
}

func TestPoolConcurrentScheduleAndWait(t *testing.T) {
	p, err := New(testLogger(), Config{DefaultSlots: 2})
	require.NoError(t, err)

	// Schedules racing the intake close must either be accepted (and show
	// up in the results) or be rejected cleanly, never panic on a closed
	// channel.
	var accepted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, err := p.Schedule(Task{Name: "t", Run: func(context.Context) error { return nil }})
				if err == nil {
					accepted.Add(1)
				}
			}
		}()
	}

	time.Sleep(2 * time.Millisecond)
	results := p.Wait()
	wg.Wait()

	assert.Equal(t, int(accepted.Load()), len(results))
	for _, r := range results {
		assert.NoError(t, r.Err)
	}
}
