package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-review/pkg/gradingapi"
)

// RefreshTarget is the review state a strategy refreshes after grading was
// triggered.
type RefreshTarget interface {
	Refresh(ctx context.Context) error
	GradingSettled() bool
	GradingFailed() bool
}

// RefreshStrategy decides when review state is reloaded after a successful
// grading trigger. Schedule returns immediately; the returned channel closes
// once the strategy has finished or ctx was cancelled.
type RefreshStrategy interface {
	Name() string
	Schedule(ctx context.Context, submissionID string, target RefreshTarget, notifier Notifier) <-chan struct{}
}

// ScheduleFunc starts a prepared refresh. It has the contract of
// RefreshStrategy.Schedule.
type ScheduleFunc func(ctx context.Context, target RefreshTarget, notifier Notifier) <-chan struct{}

// RefreshPreparer is implemented by strategies that must start observing the
// backend before the trigger request is sent. release discards the
// preparation when no refresh gets scheduled.
type RefreshPreparer interface {
	Prepare(submissionID string) (schedule ScheduleFunc, release func())
}

var gradingFailedNotice = Notice{Level: NoticeError, Title: "Grading failed", Description: "The grading run did not complete"}

const (
	RefreshStrategyDelay   = "delay"
	RefreshStrategyBackoff = "backoff"
	RefreshStrategyEvent   = "event"
)

// RefreshOptions configures NewRefreshStrategy.
type RefreshOptions struct {
	Strategy        string
	Delay           time.Duration
	BackoffInitial  time.Duration
	BackoffMax      time.Duration
	BackoffAttempts int
	EventTimeout    time.Duration
	Events          GradingEventSource
	Logger          zerolog.Logger
}

// NewRefreshStrategy builds the configured strategy. The event strategy
// requires an event source.
func NewRefreshStrategy(opts RefreshOptions) (RefreshStrategy, error) {
	delayed := &DelayedRefresh{Delay: opts.Delay, Logger: opts.Logger}

	switch strings.ToLower(strings.TrimSpace(opts.Strategy)) {
	case "", RefreshStrategyDelay:
		return delayed, nil
	case RefreshStrategyBackoff:
		return &BackoffPoll{
			Initial:  opts.BackoffInitial,
			Max:      opts.BackoffMax,
			Attempts: opts.BackoffAttempts,
			Logger:   opts.Logger,
		}, nil
	case RefreshStrategyEvent:
		if opts.Events == nil {
			return nil, fmt.Errorf("refresh strategy %q requires a grading event source", RefreshStrategyEvent)
		}
		return &EventRefresh{
			Events:  opts.Events,
			Delay:   opts.Delay,
			Timeout: opts.EventTimeout,
			Logger:  opts.Logger,
		}, nil
	default:
		return nil, fmt.Errorf("unknown refresh strategy %q", opts.Strategy)
	}
}

// DelayedRefresh reloads once after a fixed delay.
type DelayedRefresh struct {
	Delay  time.Duration
	Logger zerolog.Logger
}

func (s *DelayedRefresh) Name() string { return RefreshStrategyDelay }

func (s *DelayedRefresh) Schedule(ctx context.Context, submissionID string, target RefreshTarget, _ Notifier) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if !sleepContext(ctx, s.Delay) {
			return
		}
		refreshOnce(ctx, s.Logger, submissionID, target)
	}()
	return done
}

// BackoffPoll reloads with exponential backoff until grading has settled or
// the attempts are exhausted.
type BackoffPoll struct {
	Initial  time.Duration
	Max      time.Duration
	Attempts int
	Logger   zerolog.Logger
}

func (s *BackoffPoll) Name() string { return RefreshStrategyBackoff }

func (s *BackoffPoll) Schedule(ctx context.Context, submissionID string, target RefreshTarget, notifier Notifier) <-chan struct{} {
	notifier = notifierOrNop(notifier)
	done := make(chan struct{})

	go func() {
		defer close(done)

		attempts := s.Attempts
		if attempts <= 0 {
			attempts = 1
		}
		delay := s.Initial

		for attempt := 0; attempt < attempts; attempt++ {
			if !sleepContext(ctx, delay) {
				return
			}
			refreshOnce(ctx, s.Logger, submissionID, target)
			if ctx.Err() != nil {
				return
			}
			if target.GradingSettled() {
				if target.GradingFailed() {
					notifier.Notify(ctx, gradingFailedNotice)
					return
				}
				notifier.Notify(ctx, Notice{Level: NoticeSuccess, Title: "Grading complete", Description: "Grades are ready for review"})
				return
			}
			delay = nextBackoff(delay, s.Max)
		}

		notifier.Notify(ctx, Notice{Level: NoticeInfo, Title: "Grading still in progress", Description: "Refresh again in a few moments"})
	}()

	return done
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next <= 0 {
		next = time.Second
	}
	if max > 0 && next > max {
		return max
	}
	return next
}

// EventRefresh reloads after the usual delay and, if grading has not settled,
// again when the backend announces completion or the timeout elapses.
type EventRefresh struct {
	Events  GradingEventSource
	Delay   time.Duration
	Timeout time.Duration
	Logger  zerolog.Logger
}

func (s *EventRefresh) Name() string { return RefreshStrategyEvent }

func (s *EventRefresh) Schedule(ctx context.Context, submissionID string, target RefreshTarget, notifier Notifier) <-chan struct{} {
	schedule, _ := s.Prepare(submissionID)
	return schedule(ctx, target, notifier)
}

// Prepare subscribes to completion events for submissionID so that an event
// published while the trigger request is in flight is not missed.
func (s *EventRefresh) Prepare(submissionID string) (ScheduleFunc, func()) {
	events, cancel := s.Events.Wait(submissionID)
	schedule := func(ctx context.Context, target RefreshTarget, notifier Notifier) <-chan struct{} {
		return s.run(ctx, submissionID, events, cancel, target, notifierOrNop(notifier))
	}
	return schedule, cancel
}

func (s *EventRefresh) run(ctx context.Context, submissionID string, events <-chan GradingEvent, cancel func(), target RefreshTarget, notifier Notifier) <-chan struct{} {
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer cancel()

		timeout := s.Timeout
		if timeout <= 0 {
			timeout = 2 * time.Minute
		}
		deadline := time.NewTimer(timeout)
		defer deadline.Stop()

		delay := time.NewTimer(s.Delay)
		defer delay.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-delay.C:
				refreshOnce(ctx, s.Logger, submissionID, target)
				if ctx.Err() == nil && target.GradingSettled() {
					if target.GradingFailed() {
						notifier.Notify(ctx, gradingFailedNotice)
					}
					return
				}
			case event, ok := <-events:
				if !ok {
					return
				}
				refreshOnce(ctx, s.Logger, submissionID, target)
				if ctx.Err() == nil && (event.Status == string(gradingapi.StatusFailed) || target.GradingFailed()) {
					notifier.Notify(ctx, gradingFailedNotice)
				}
				return
			case <-deadline.C:
				refreshOnce(ctx, s.Logger, submissionID, target)
				return
			}
		}
	}()

	return done
}

func refreshOnce(ctx context.Context, logger zerolog.Logger, submissionID string, target RefreshTarget) {
	if err := target.Refresh(ctx); err != nil && ctx.Err() == nil {
		logger.Warn().Err(err).Str("submission_id", submissionID).Msg("scheduled refresh failed")
	}
}

// sleepContext waits for d and reports false when ctx ended first.
func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
