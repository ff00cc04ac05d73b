package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewRefreshStrategy(t *testing.T) {
	strategy, err := NewRefreshStrategy(RefreshOptions{})
	require.NoError(t, err)
	require.Equal(t, RefreshStrategyDelay, strategy.Name())

	strategy, err = NewRefreshStrategy(RefreshOptions{Strategy: "Backoff"})
	require.NoError(t, err)
	require.Equal(t, RefreshStrategyBackoff, strategy.Name())

	_, err = NewRefreshStrategy(RefreshOptions{Strategy: "event"})
	require.Error(t, err)

	events := NewGradingEventService(nil, nil, "", testLogger())
	strategy, err = NewRefreshStrategy(RefreshOptions{Strategy: "event", Events: events})
	require.NoError(t, err)
	require.Equal(t, RefreshStrategyEvent, strategy.Name())

	_, err = NewRefreshStrategy(RefreshOptions{Strategy: "websocket"})
	require.Error(t, err)
}

func TestBackoffPollStopsWhenSettled(t *testing.T) {
	target := &countingTarget{settleAt: 3}
	notifier := &recordingNotifier{}
	strategy := &BackoffPoll{Initial: time.Millisecond, Max: 4 * time.Millisecond, Attempts: 8, Logger: testLogger()}

	waitClosed(t, strategy.Schedule(context.Background(), "sub-1", target, notifier))
	require.Equal(t, 3, target.count())
	require.Equal(t, Notice{Level: NoticeSuccess, Title: "Grading complete", Description: "Grades are ready for review"}, notifier.last())
}

func TestBackoffPollReportsFailedGrading(t *testing.T) {
	target := &countingTarget{settleAt: 1, failed: true}
	notifier := &recordingNotifier{}
	strategy := &BackoffPoll{Initial: time.Millisecond, Max: 4 * time.Millisecond, Attempts: 4, Logger: testLogger()}

	waitClosed(t, strategy.Schedule(context.Background(), "sub-1", target, notifier))
	require.Equal(t, 1, target.count())
	require.Equal(t, Notice{Level: NoticeError, Title: "Grading failed", Description: "The grading run did not complete"}, notifier.last())
	for _, notice := range notifier.all() {
		require.NotEqual(t, NoticeSuccess, notice.Level)
	}
}

func TestBackoffPollGivesUpAfterAttempts(t *testing.T) {
	target := &countingTarget{}
	notifier := &recordingNotifier{}
	strategy := &BackoffPoll{Initial: time.Millisecond, Max: 2 * time.Millisecond, Attempts: 4, Logger: testLogger()}

	waitClosed(t, strategy.Schedule(context.Background(), "sub-1", target, notifier))
	require.Equal(t, 4, target.count())
	require.Equal(t, NoticeInfo, notifier.last().Level)
}

func TestNextBackoffCaps(t *testing.T) {
	require.Equal(t, 2*time.Second, nextBackoff(time.Second, 15*time.Second))
	require.Equal(t, 15*time.Second, nextBackoff(10*time.Second, 15*time.Second))
	require.Equal(t, time.Second, nextBackoff(0, 0))
}

func TestEventRefreshRefreshesOnCompletionEvent(t *testing.T) {
	events := NewGradingEventService(nil, nil, "", testLogger())
	target := &countingTarget{}
	strategy := &EventRefresh{Events: events, Delay: time.Hour, Timeout: time.Hour, Logger: testLogger()}

	done := strategy.Schedule(context.Background(), "sub-1", target, nil)
	events.Dispatch(GradingEvent{SubmissionID: "sub-other", Status: "graded"})
	events.Dispatch(GradingEvent{SubmissionID: "sub-1", Status: "graded"})

	waitClosed(t, done)
	require.Equal(t, 1, target.count())
}

func TestEventRefreshNotifiesFailedGrading(t *testing.T) {
	events := NewGradingEventService(nil, nil, "", testLogger())
	notifier := &recordingNotifier{}
	strategy := &EventRefresh{Events: events, Delay: time.Hour, Timeout: time.Hour, Logger: testLogger()}

	done := strategy.Schedule(context.Background(), "sub-1", &countingTarget{}, notifier)
	events.Dispatch(GradingEvent{SubmissionID: "sub-1", Status: "failed"})

	waitClosed(t, done)
	require.Equal(t, "Grading failed", notifier.last().Title)
}

func TestEventRefreshFallsBackOnTimeout(t *testing.T) {
	events := NewGradingEventService(nil, nil, "", testLogger())
	target := &countingTarget{}
	strategy := &EventRefresh{Events: events, Delay: time.Hour, Timeout: 10 * time.Millisecond, Logger: testLogger()}

	waitClosed(t, strategy.Schedule(context.Background(), "sub-1", target, nil))
	require.Equal(t, 1, target.count())
}

func TestEventRefreshStopsAfterSettledDelayedRefresh(t *testing.T) {
	events := NewGradingEventService(nil, nil, "", testLogger())
	target := &countingTarget{settleAt: 1}
	strategy := &EventRefresh{Events: events, Delay: time.Millisecond, Timeout: time.Hour, Logger: testLogger()}

	waitClosed(t, strategy.Schedule(context.Background(), "sub-1", target, nil))
	require.Equal(t, 1, target.count())
}

func TestEventRefreshReportsFailedDelayedRefresh(t *testing.T) {
	events := NewGradingEventService(nil, nil, "", testLogger())
	notifier := &recordingNotifier{}
	target := &countingTarget{settleAt: 1, failed: true}
	strategy := &EventRefresh{Events: events, Delay: time.Millisecond, Timeout: time.Hour, Logger: testLogger()}

	waitClosed(t, strategy.Schedule(context.Background(), "sub-1", target, notifier))
	require.Equal(t, "Grading failed", notifier.last().Title)
}

func TestDelayedRefreshCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	target := &countingTarget{}
	done := (&DelayedRefresh{Delay: time.Hour}).Schedule(ctx, "sub-1", target, nil)
	cancel()

	waitClosed(t, done)
	require.Zero(t, target.count())
}
