package circuit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackend = errors.New("backend down")

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b := New(Config{FailureThreshold: 3, Cooldown: time.Hour})

	for i := 0; i < 3; i++ {
		err := b.Do(func() error { return errBackend })
		assert.ErrorIs(t, err, errBackend)
	}
	assert.Equal(t, StateOpen, b.State())

	// Calls are rejected without invoking the function.
	called := false
	err := b.Do(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := New(Config{FailureThreshold: 3, Cooldown: time.Hour})

	for i := 0; i < 2; i++ {
		_ = b.Do(func() error { return errBackend })
	}
	require.NoError(t, b.Do(func() error { return nil }))
	for i := 0; i < 2; i++ {
		_ = b.Do(func() error { return errBackend })
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenProbeRecovers(t *testing.T) {
	b := New(Config{FailureThreshold: 1, Cooldown: 10 * time.Millisecond})

	_ = b.Do(func() error { return errBackend })
	require.Equal(t, StateOpen, b.State())

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Do(func() error { return nil }))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	b := New(Config{FailureThreshold: 1, Cooldown: 10 * time.Millisecond})

	_ = b.Do(func() error { return errBackend })
	time.Sleep(20 * time.Millisecond)

	err := b.Do(func() error { return errBackend })
	assert.ErrorIs(t, err, errBackend)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_CustomFailureClassifier(t *testing.T) {
	notCounted := errors.New("caller mistake")
	b := New(Config{
		FailureThreshold: 1,
		Cooldown:         time.Hour,
		IsFailure: func(err error) bool {
			return err != nil && !errors.Is(err, notCounted)
		},
	})

	for i := 0; i < 5; i++ {
		_ = b.Do(func() error { return notCounted })
	}
	assert.Equal(t, StateClosed, b.State())

	_ = b.Do(func() error { return errBackend })
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_StateChangeNotification(t *testing.T) {
	var transitions []string
	b := New(Config{
		FailureThreshold: 1,
		Cooldown:         time.Hour,
		OnStateChange: func(from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	_ = b.Do(func() error { return errBackend })
	assert.Equal(t, []string{"closed->open"}, transitions)
}
