package api_test

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-net/api"
)

func TestStreamInterfaceCompliance(t *testing.T) {
	var _ api.Stream = (*mockStream)(nil)
}

// mockStream satisfies api.Stream for the compliance check.
type mockStream struct{}

func (*mockStream) Write([]byte, func(api.WriteResult))                   {}
func (*mockStream) ReadSomeBytes(int, func(api.ReadResult))               {}
func (*mockStream) ReadBytesFully(int, api.Seconds, func(api.ReadResult)) {}
func (*mockStream) Close() error                                          { return nil }

func TestCompletionRunsOnce(t *testing.T) {
	var calls atomic.Int32
	var got atomic.Int32
	c := api.NewCompletion(func(v int) {
		calls.Add(1)
		got.Store(int32(v))
	})

	var wg sync.WaitGroup
	wins := atomic.Int32{}
	for i := 1; i <= 32; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			if fn, ok := c.Claim(); ok {
				wins.Add(1)
				fn(v)
			}
		}(i)
	}
	wg.Wait()
	assert.EqualValues(t, 1, calls.Load())
	assert.EqualValues(t, 1, wins.Load())
	assert.NotZero(t, got.Load())

	_, ok := c.Claim()
	assert.False(t, ok)
}

func TestCompletionClaim(t *testing.T) {
	c := api.NewCompletion[string](nil)
	fn, ok := c.Claim()
	require.True(t, ok)
	fn("ignored")
	_, ok = c.Claim()
	assert.False(t, ok)
}

func TestSecondsDeadline(t *testing.T) {
	now := time.Unix(1000, 0)
	assert.Equal(t, now.Add(1500*time.Millisecond), api.Seconds(1.5).Deadline(now))
	assert.True(t, api.NoTimeout.Deadline(now).IsZero())
	assert.True(t, api.Seconds(-3).Deadline(now).IsZero())
	assert.True(t, api.Seconds(math.NaN()).Deadline(now).IsZero())
	assert.Equal(t, now, api.Seconds(0).Deadline(now))
	assert.Equal(t, 2*time.Second, api.Seconds(2).Duration())
}

func TestStatusStrings(t *testing.T) {
	assert.Equal(t, "timeout", api.StatusTimeout.String())
	assert.Equal(t, "closed", api.StatusClosed.String())
	assert.True(t, api.ReadResult{Status: api.StatusOK}.OK())
	assert.False(t, api.WriteResult{Status: api.StatusError}.OK())
}

func TestNetworkError(t *testing.T) {
	assert.Nil(t, api.NewNetworkError("read", nil))

	err := api.NewNetworkError("connect", syscall.ECONNREFUSED)
	var ne *api.NetworkError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, "connect", ne.Op)
	assert.Equal(t, int(syscall.ECONNREFUSED), ne.Code)
	assert.ErrorIs(t, err, syscall.ECONNREFUSED)

	// already classified errors pass through untouched
	assert.Same(t, ne, api.NewNetworkError("other", err).(*api.NetworkError))

	other := api.NewNetworkError("resolve", errors.New("no such host"))
	require.ErrorAs(t, other, &ne)
	assert.Equal(t, -1, ne.Code)
}

func TestStructuredError(t *testing.T) {
	e := api.NewError(api.ErrCodeInvalidArgument, "bad").WithContext("k", 1)
	assert.Contains(t, e.Error(), "bad")
	assert.Equal(t, 1, e.Context["k"])
}
