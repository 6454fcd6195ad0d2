package retry

import (
	"errors"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func throttled() error {
	return &smithy.GenericAPIError{Code: "Throttling", Message: "rate exceeded"}
}

func accessDenied() error {
	return &smithy.GenericAPIError{Code: "AccessDenied", Message: "not authorized"}
}

func testPolicy(t *testing.T) (*Policy, *int) {
	t.Helper()

	sleeps := 0
	p := NewPolicy(3, 10*time.Millisecond)
	p.sleep = func(time.Duration) { sleeps++ }
	p.jitter = func() float64 { return 1.0 }

	return p, &sleeps
}

func TestPolicy_Do_Success(t *testing.T) {
	// given
	p, sleeps := testPolicy(t)
	calls := 0

	// when
	err := p.Do("delete volume vol-1", func() error {
		calls++
		return nil
	})

	// then
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, *sleeps)
}

func TestPolicy_Do_ThrottledTwiceThenSucceeds(t *testing.T) {
	// given
	p, sleeps := testPolicy(t)
	calls := 0

	// when
	err := p.Do("delete volume vol-1", func() error {
		calls++
		if calls < 3 {
			return throttled()
		}
		return nil
	})

	// then
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, *sleeps)
}

func TestPolicy_Do_FatalPropagatesWithoutSleep(t *testing.T) {
	// given
	p, sleeps := testPolicy(t)
	calls := 0

	// when
	err := p.Do("delete volume vol-1", func() error {
		calls++
		return accessDenied()
	})

	// then
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, *sleeps)

	var apiErr smithy.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "AccessDenied", apiErr.ErrorCode())
}

func TestPolicy_Do_Exhaustion(t *testing.T) {
	// given
	p, _ := testPolicy(t)
	calls := 0

	// when
	err := p.Do("delete volume vol-1", func() error {
		calls++
		return throttled()
	})

	// then
	assert.Equal(t, 3, calls)

	var exhausted *ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Contains(t, err.Error(), "max retries (3) exceeded")
	assert.Contains(t, err.Error(), "delete volume vol-1")
}

func TestPolicy_DoBool_SwallowsTerminalError(t *testing.T) {
	tests := []struct {
		name     string
		op       func() error
		expected bool
	}{
		{
			name:     "success",
			op:       func() error { return nil },
			expected: true,
		},
		{
			name:     "fatal",
			op:       accessDenied,
			expected: false,
		},
		{
			name:     "always throttled",
			op:       throttled,
			expected: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, _ := testPolicy(t)

			ok := p.DoBool("delete instance i-1", tc.op)

			assert.Equal(t, tc.expected, ok)
		})
	}
}

func TestPolicy_DelayIsCappedAndJittered(t *testing.T) {
	// given
	p := NewPolicy(10, time.Second)
	p.CapDelay = 5 * time.Second
	p.jitter = func() float64 { return 1.5 }

	// then
	assert.Equal(t, 1500*time.Millisecond, p.delay(0))
	assert.Equal(t, 3*time.Second, p.delay(1))
	assert.Equal(t, 5*time.Second, p.delay(5))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(throttled()))
	assert.True(t, Retryable(&smithy.GenericAPIError{Code: "RequestLimitExceeded"}))
	assert.False(t, Retryable(accessDenied()))
	assert.False(t, Retryable(errors.New("dial tcp: connection refused")))
	assert.False(t, Retryable(nil))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(&smithy.GenericAPIError{Code: "InvalidVolume.NotFound"}))
	assert.True(t, IsNotFound(&smithy.GenericAPIError{Code: "ResourceNotFoundException"}))
	assert.True(t, IsNotFound(&smithy.GenericAPIError{Code: "NoSuchEntity"}))
	assert.False(t, IsNotFound(throttled()))
	assert.False(t, IsNotFound(errors.New("boom")))
}
