package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func fail(context.Context) error    { return errBoom }
func succeed(context.Context) error { return nil }

func testConfig(clk clock.Clock) Config {
	return Config{
		Name:                "test",
		FailureThreshold:    3,
		SuccessThreshold:    2,
		ResetTimeout:        10 * time.Second,
		MaxRequestsHalfOpen: 1,
		Clock:               clk,
	}
}

func openBreaker(t *testing.T, cb *CircuitBreaker, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_ = cb.Execute(context.Background(), fail)
	}
	require.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_Execute_Success(t *testing.T) {
	cb := NewCircuitBreaker(DefaultConfig("oracle"))

	err := cb.Execute(context.Background(), succeed)

	assert.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_Execute_ReturnsCallError(t *testing.T) {
	cb := NewCircuitBreaker(DefaultConfig("oracle"))

	err := cb.Execute(context.Background(), fail)

	assert.Equal(t, errBoom, err)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 1, cb.Failures())
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(testConfig(clock.NewMock()))

	openBreaker(t, cb, 3)

	called := false
	err := cb.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	assert.Equal(t, ErrOpen, err)
	assert.False(t, called)
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(testConfig(clock.NewMock()))

	_ = cb.Execute(context.Background(), fail)
	_ = cb.Execute(context.Background(), fail)
	_ = cb.Execute(context.Background(), succeed)
	_ = cb.Execute(context.Background(), fail)

	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 1, cb.Failures())
}

func TestCircuitBreaker_IgnoresNonFailures(t *testing.T) {
	errClient := errors.New("rejected by oracle")
	cfg := testConfig(clock.NewMock())
	cfg.IsFailure = func(err error) bool { return !errors.Is(err, errClient) }
	cb := NewCircuitBreaker(cfg)

	for i := 0; i < 10; i++ {
		err := cb.Execute(context.Background(), func(context.Context) error { return errClient })
		assert.Equal(t, errClient, err)
	}

	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenAfterResetTimeout(t *testing.T) {
	mock := clock.NewMock()
	cb := NewCircuitBreaker(testConfig(mock))
	openBreaker(t, cb, 3)

	mock.Add(9 * time.Second)
	assert.Equal(t, ErrOpen, cb.Execute(context.Background(), succeed))

	mock.Add(time.Second)
	assert.NoError(t, cb.Execute(context.Background(), succeed))
	assert.Equal(t, StateHalfOpen, cb.State())

	assert.NoError(t, cb.Execute(context.Background(), succeed))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	mock := clock.NewMock()
	cb := NewCircuitBreaker(testConfig(mock))
	openBreaker(t, cb, 3)

	mock.Add(10 * time.Second)
	assert.Equal(t, errBoom, cb.Execute(context.Background(), fail))
	assert.Equal(t, StateOpen, cb.State())

	mock.Add(5 * time.Second)
	assert.Equal(t, ErrOpen, cb.Execute(context.Background(), succeed))
}

func TestCircuitBreaker_HalfOpenProbeLimit(t *testing.T) {
	mock := clock.NewMock()
	cb := NewCircuitBreaker(testConfig(mock))
	openBreaker(t, cb, 3)
	mock.Add(10 * time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = cb.Execute(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	assert.Equal(t, ErrHalfOpenLimit, cb.Execute(context.Background(), succeed))

	close(release)
	wg.Wait()
	assert.NoError(t, cb.Execute(context.Background(), succeed))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	mock := clock.NewMock()
	var transitions []string
	cfg := testConfig(mock)
	cfg.SuccessThreshold = 1
	cfg.OnStateChange = func(name string, from, to State) {
		transitions = append(transitions, name+":"+from.String()+"->"+to.String())
	}
	cb := NewCircuitBreaker(cfg)

	openBreaker(t, cb, 3)
	mock.Add(10 * time.Second)
	require.NoError(t, cb.Execute(context.Background(), succeed))

	assert.Equal(t, []string{
		"test:closed->open",
		"test:open->half-open",
		"test:half-open->closed",
	}, transitions)
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(testConfig(clock.NewMock()))
	openBreaker(t, cb, 3)

	cb.Reset()

	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Failures())
	assert.NoError(t, cb.Execute(context.Background(), succeed))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(42).String())
}
