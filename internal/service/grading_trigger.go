package service

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-review/internal/observability"
	"github.com/noah-isme/gema-review/pkg/gradingapi"
)

// GradingTrigger asks the backend to (re-)grade a submission.
type GradingTrigger interface {
	TriggerGrading(ctx context.Context, submissionID string) (gradingapi.Ack, error)
}

// GradingTriggerCoordinator sends grading triggers one at a time and
// schedules a refresh once the backend accepted one. Scheduled refreshes run
// on the lifetime context and stop when it ends.
type GradingTriggerCoordinator struct {
	client   GradingTrigger
	strategy RefreshStrategy
	target   RefreshTarget
	notifier Notifier
	lifetime context.Context
	logger   zerolog.Logger
	tracer   trace.Tracer

	mu         sync.Mutex
	triggering bool
	scheduled  <-chan struct{}
}

// NewGradingTriggerCoordinator constructs a coordinator bound to lifetime.
func NewGradingTriggerCoordinator(lifetime context.Context, client GradingTrigger, strategy RefreshStrategy, target RefreshTarget, notifier Notifier, logger zerolog.Logger) *GradingTriggerCoordinator {
	if strategy == nil {
		strategy = &DelayedRefresh{Logger: logger}
	}
	return &GradingTriggerCoordinator{
		client:   client,
		strategy: strategy,
		target:   target,
		notifier: notifierOrNop(notifier),
		lifetime: lifetime,
		logger:   logger.With().Str("component", "grading_trigger").Logger(),
		tracer:   otel.Tracer("github.com/noah-isme/gema-review/internal/service/grading"),
	}
}

// Triggering reports whether a trigger request is outstanding.
func (c *GradingTriggerCoordinator) Triggering() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.triggering
}

// Scheduled returns the completion channel of the most recently scheduled
// refresh, or nil when none was scheduled.
func (c *GradingTriggerCoordinator) Scheduled() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scheduled
}

// Trigger requests grading for submissionID. A call made while another is
// outstanding returns ErrTriggerInFlight without a request. No refresh is
// scheduled on failure.
func (c *GradingTriggerCoordinator) Trigger(ctx context.Context, submissionID string) error {
	submissionID = strings.TrimSpace(submissionID)
	if submissionID == "" {
		return ErrSubmissionIDRequired
	}

	c.mu.Lock()
	if c.triggering {
		c.mu.Unlock()
		return ErrTriggerInFlight
	}
	c.triggering = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.triggering = false
		c.mu.Unlock()
	}()

	spanCtx, span := c.tracer.Start(ctx, "review.trigger_grading", trace.WithAttributes(
		attribute.String("review.submission_id", submissionID),
		attribute.String("review.refresh_strategy", c.strategy.Name()),
	))
	defer span.End()

	var schedule ScheduleFunc = func(ctx context.Context, target RefreshTarget, notifier Notifier) <-chan struct{} {
		return c.strategy.Schedule(ctx, submissionID, target, notifier)
	}
	release := func() {}
	if preparer, ok := c.strategy.(RefreshPreparer); ok {
		schedule, release = preparer.Prepare(submissionID)
	}

	if _, err := c.client.TriggerGrading(spanCtx, submissionID); err != nil {
		release()
		span.RecordError(err)
		span.SetStatus(codes.Error, "trigger failed")
		observability.GradingTriggersTotal().WithLabelValues("error").Inc()
		if !isContextError(err) {
			c.notifier.Notify(ctx, errorNotice(err))
		}
		return err
	}

	observability.GradingTriggersTotal().WithLabelValues("success").Inc()
	c.notifier.Notify(ctx, Notice{Level: NoticeSuccess, Title: "Grading started", Description: "This may take a few moments"})

	if c.lifetime.Err() != nil {
		release()
		return nil
	}

	done := schedule(c.lifetime, c.target, c.notifier)
	c.mu.Lock()
	c.scheduled = done
	c.mu.Unlock()

	c.logger.Debug().Str("submission_id", submissionID).Str("strategy", c.strategy.Name()).Msg("refresh scheduled after grading trigger")
	return nil
}
