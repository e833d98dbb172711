package terminalagent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/choiros/choiros/internal/core"
)

func TestSessionExitZeroIsCompleted(t *testing.T) {
	s := New()
	res := s.Start(context.Background(), "sh", []string{"-c", "exit 0"}, 80, 24)
	require.Equal(t, Started, res)
	<-s.Done()

	kind, code := s.Outcome()
	assert.Equal(t, core.OutcomeCompleted, kind)
	assert.Equal(t, 0, code)
}

func TestSessionNonZeroExitIsFailedNotCompleted(t *testing.T) {
	s := New()
	res := s.Start(context.Background(), "sh", []string{"-c", "exit 7"}, 80, 24)
	require.Equal(t, Started, res)
	<-s.Done()

	kind, code := s.Outcome()
	assert.Equal(t, core.OutcomeFailed, kind)
	assert.Equal(t, 7, code)
}

func TestSessionAlreadyRunning(t *testing.T) {
	s := New()
	require.Equal(t, Started, s.Start(context.Background(), "sleep", []string{"1"}, 80, 24))
	assert.Equal(t, AlreadyRunning, s.Start(context.Background(), "sleep", []string{"1"}, 80, 24))
	s.Stop()
	<-s.Done()
}

func TestSessionResizeClampsMinimum(t *testing.T) {
	s := New()
	require.Equal(t, Started, s.Start(context.Background(), "sleep", []string{"1"}, 80, 24))
	defer func() { s.Stop(); <-s.Done() }()
	require.NoError(t, s.Resize(0, 0))
}

func TestSessionMultiSubscriberIndependence(t *testing.T) {
	s := New()
	require.Equal(t, Started, s.Start(context.Background(), "sh", []string{"-c", "echo hi; sleep 1"}, 80, 24))
	defer func() { s.Stop(); <-s.Done() }()

	ch1, cancel1 := s.Subscribe(16)
	ch2, _ := s.Subscribe(16)

	time.Sleep(100 * time.Millisecond)
	cancel1()

	select {
	case _, open := <-ch2:
		assert.True(t, open, "unsubscribing one observer must not affect another")
	default:
	}
	_, stillOpen := <-ch1
	assert.False(t, stillOpen, "cancelled subscriber channel should be closed")
}
