package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-review/pkg/gradingapi"
)

type countingTarget struct {
	mu        sync.Mutex
	refreshes int
	settleAt  int
	failed    bool
	err       error
}

func (c *countingTarget) Refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshes++
	return c.err
}

func (c *countingTarget) GradingSettled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settleAt > 0 && c.refreshes >= c.settleAt
}

func (c *countingTarget) GradingFailed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failed
}

func (c *countingTarget) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshes
}

func TestGradingTriggerSuccessSchedulesOneRefresh(t *testing.T) {
	backend := &fakeBackend{}
	target := &countingTarget{}
	notifier := &recordingNotifier{}
	strategy := &DelayedRefresh{Delay: 10 * time.Millisecond, Logger: testLogger()}
	coordinator := NewGradingTriggerCoordinator(context.Background(), backend, strategy, target, notifier, testLogger())

	require.NoError(t, coordinator.Trigger(context.Background(), "sub-1"))
	require.False(t, coordinator.Triggering())
	require.Equal(t, Notice{Level: NoticeSuccess, Title: "Grading started", Description: "This may take a few moments"}, notifier.all()[0])

	waitClosed(t, coordinator.Scheduled())
	require.Equal(t, 1, target.count())
	require.Equal(t, 1, backend.triggers())
}

func TestGradingTriggerFailureSchedulesNothing(t *testing.T) {
	backend := &fakeBackend{triggerErr: &gradingapi.APIError{StatusCode: 409, Message: "Submission already graded"}}
	target := &countingTarget{}
	notifier := &recordingNotifier{}
	coordinator := NewGradingTriggerCoordinator(context.Background(), backend, &DelayedRefresh{}, target, notifier, testLogger())

	err := coordinator.Trigger(context.Background(), "sub-1")
	require.EqualError(t, err, "Submission already graded")
	require.Nil(t, coordinator.Scheduled())
	require.False(t, coordinator.Triggering())
	require.Equal(t, Notice{Level: NoticeError, Title: "Error", Description: "Submission already graded"}, notifier.last())
	require.Zero(t, target.count())
}

func TestGradingTriggerObservesEventDuringTrigger(t *testing.T) {
	gate := make(chan struct{})
	backend := &fakeBackend{triggerGate: gate}
	events := NewGradingEventService(nil, nil, "", testLogger())
	target := &countingTarget{}
	strategy := &EventRefresh{Events: events, Delay: time.Hour, Timeout: time.Hour, Logger: testLogger()}
	coordinator := NewGradingTriggerCoordinator(context.Background(), backend, strategy, target, nil, testLogger())

	done := make(chan error, 1)
	go func() { done <- coordinator.Trigger(context.Background(), "sub-1") }()
	require.Eventually(t, func() bool { return backend.triggers() == 1 }, time.Second, 5*time.Millisecond)

	events.Dispatch(GradingEvent{SubmissionID: "sub-1", Status: "graded"})
	close(gate)
	require.NoError(t, <-done)

	waitClosed(t, coordinator.Scheduled())
	require.Equal(t, 1, target.count())
}

func TestGradingTriggerFailureReleasesEventSubscription(t *testing.T) {
	backend := &fakeBackend{triggerErr: &gradingapi.APIError{StatusCode: 500, Message: "Grader unavailable"}}
	events := NewGradingEventService(nil, nil, "", testLogger())
	strategy := &EventRefresh{Events: events, Delay: time.Hour, Timeout: time.Hour, Logger: testLogger()}
	coordinator := NewGradingTriggerCoordinator(context.Background(), backend, strategy, &countingTarget{}, nil, testLogger())

	require.Error(t, coordinator.Trigger(context.Background(), "sub-1"))
	require.Nil(t, coordinator.Scheduled())

	svc := events.(*gradingEventService)
	svc.mu.Lock()
	defer svc.mu.Unlock()
	require.Empty(t, svc.waiters)
}

func TestGradingTriggerRejectsConcurrentTrigger(t *testing.T) {
	gate := make(chan struct{})
	backend := &fakeBackend{triggerGate: gate}
	coordinator := NewGradingTriggerCoordinator(context.Background(), backend, &DelayedRefresh{Delay: time.Hour}, &countingTarget{}, nil, testLogger())

	done := make(chan error, 1)
	go func() { done <- coordinator.Trigger(context.Background(), "sub-1") }()
	require.Eventually(t, coordinator.Triggering, time.Second, 5*time.Millisecond)

	require.ErrorIs(t, coordinator.Trigger(context.Background(), "sub-1"), ErrTriggerInFlight)
	require.Equal(t, 1, backend.triggers())

	close(gate)
	require.NoError(t, <-done)
	require.False(t, coordinator.Triggering())
}

func TestGradingTriggerRefreshCancelledWithLifetime(t *testing.T) {
	lifetime, cancel := context.WithCancel(context.Background())
	target := &countingTarget{}
	coordinator := NewGradingTriggerCoordinator(lifetime, &fakeBackend{}, &DelayedRefresh{Delay: time.Hour}, target, nil, testLogger())

	require.NoError(t, coordinator.Trigger(context.Background(), "sub-1"))
	cancel()

	waitClosed(t, coordinator.Scheduled())
	require.Zero(t, target.count())
}

func TestGradingTriggerAfterLifetimeEndsSkipsSchedule(t *testing.T) {
	lifetime, cancel := context.WithCancel(context.Background())
	cancel()
	coordinator := NewGradingTriggerCoordinator(lifetime, &fakeBackend{}, &DelayedRefresh{}, &countingTarget{}, nil, testLogger())

	require.NoError(t, coordinator.Trigger(context.Background(), "sub-1"))
	require.Nil(t, coordinator.Scheduled())
}

func TestGradingTriggerRequiresSubmission(t *testing.T) {
	coordinator := NewGradingTriggerCoordinator(context.Background(), &fakeBackend{}, nil, &countingTarget{}, nil, testLogger())
	require.ErrorIs(t, coordinator.Trigger(context.Background(), ""), ErrSubmissionIDRequired)
}
