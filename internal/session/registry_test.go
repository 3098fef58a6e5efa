// ABOUTME: Tests for the session registry
// ABOUTME: Covers thread reuse, reset, dialog state, the in-flight guard and concurrency

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingCreator struct {
	n   atomic.Int64
	err error
}

func (c *countingCreator) CreateThread(ctx context.Context) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	return fmt.Sprintf("thread_%d", c.n.Add(1)), nil
}

func TestGetOrCreate_ReusesHandle(t *testing.T) {
	r := NewRegistry(&countingCreator{}, nil)
	ctx := context.Background()

	first, err := r.GetOrCreate(ctx, "telegram:1")
	require.NoError(t, err)
	second, err := r.GetOrCreate(ctx, "telegram:1")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	other, err := r.GetOrCreate(ctx, "telegram:2")
	require.NoError(t, err)
	assert.NotEqual(t, first, other)
}

func TestReset_ReplacesHandle(t *testing.T) {
	r := NewRegistry(&countingCreator{}, nil)
	ctx := context.Background()

	before, err := r.GetOrCreate(ctx, "u")
	require.NoError(t, err)

	reset, err := r.Reset(ctx, "u")
	require.NoError(t, err)
	assert.NotEqual(t, before, reset)

	after, err := r.GetOrCreate(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, reset, after)
}

func TestReset_WithoutPriorThread(t *testing.T) {
	r := NewRegistry(&countingCreator{}, nil)
	id, err := r.Reset(context.Background(), "new-user")
	require.NoError(t, err)

	got, ok := r.Thread("new-user")
	assert.True(t, ok)
	assert.Equal(t, id, got)
}

func TestGetOrCreate_PropagatesCreationFailure(t *testing.T) {
	boom := errors.New("service down")
	r := NewRegistry(&countingCreator{err: boom}, nil)

	_, err := r.GetOrCreate(context.Background(), "u")
	assert.ErrorIs(t, err, boom)
	_, ok := r.Thread("u")
	assert.False(t, ok)

	_, err = r.Reset(context.Background(), "u")
	assert.ErrorIs(t, err, boom)
}

func TestState_DefaultsToIdle(t *testing.T) {
	r := NewRegistry(&countingCreator{}, nil)
	assert.Equal(t, StateIdle, r.State("u"))

	r.SetState("u", StateChatting)
	assert.Equal(t, StateChatting, r.State("u"))
	assert.Equal(t, StateIdle, r.State("other"))
}

func TestAcquire_OneRunPerUser(t *testing.T) {
	r := NewRegistry(&countingCreator{}, nil)

	release, err := r.Acquire("u")
	require.NoError(t, err)

	_, err = r.Acquire("u")
	assert.ErrorIs(t, err, ErrBusy)

	// Other users are unaffected.
	releaseOther, err := r.Acquire("v")
	require.NoError(t, err)
	releaseOther()

	assert.Equal(t, 1, r.Stats().InFlight)
	release()
	release() // idempotent
	assert.Equal(t, 0, r.Stats().InFlight)

	again, err := r.Acquire("u")
	require.NoError(t, err)
	again()
}

func TestAcquire_ConcurrentOnlyOneWins(t *testing.T) {
	r := NewRegistry(&countingCreator{}, nil)

	var wins atomic.Int64
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := r.Acquire("u"); err == nil {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()
	assert.Equal(t, int64(1), wins.Load())
}

func TestGetOrCreate_ConcurrentSameUserConverges(t *testing.T) {
	r := NewRegistry(&countingCreator{}, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]string, 20)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := r.GetOrCreate(ctx, "u")
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	stored, ok := r.Thread("u")
	require.True(t, ok)
	for _, id := range ids {
		assert.Equal(t, stored, id)
	}
}

func TestStats(t *testing.T) {
	r := NewRegistry(&countingCreator{}, nil)
	ctx := context.Background()

	_, _ = r.GetOrCreate(ctx, "a")
	_, _ = r.GetOrCreate(ctx, "b")
	r.SetState("c", StateChatting)

	st := r.Stats()
	assert.Equal(t, 3, st.Sessions)
	assert.Equal(t, 2, st.Threads)
	assert.Equal(t, 0, st.InFlight)
}
