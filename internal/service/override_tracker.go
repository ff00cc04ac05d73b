package service

import (
	"context"
	"math"
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

// OverrideSubmitter sends a score override to the backend.
type OverrideSubmitter interface {
	OverrideGrade(ctx context.Context, submissionID, questionID string, newScore float64, reason string) (gradingapi.Grade, error)
}

// RefreshFunc reloads review state after a mutation.
type RefreshFunc func(ctx context.Context) error

// PendingOverride is an edit the reviewer has staged but not yet submitted.
type PendingOverride struct {
	NewScore *float64
	Reason   string
}

func (p PendingOverride) empty() bool {
	return p.NewScore == nil && p.Reason == ""
}

// OverridePendingTracker keeps per-grade staged overrides and guarantees at
// most one outstanding override request per grade.
type OverridePendingTracker struct {
	client   OverrideSubmitter
	notifier Notifier
	logger   zerolog.Logger
	tracer   trace.Tracer

	mu       sync.Mutex
	pending  map[string]PendingOverride
	inFlight map[string]struct{}
}

// NewOverridePendingTracker constructs a tracker.
func NewOverridePendingTracker(client OverrideSubmitter, notifier Notifier, logger zerolog.Logger) *OverridePendingTracker {
	return &OverridePendingTracker{
		client:   client,
		notifier: notifierOrNop(notifier),
		logger:   logger.With().Str("component", "override_tracker").Logger(),
		tracer:   otel.Tracer("github.com/noah-isme/gema-review/internal/service/override"),
		pending:  make(map[string]PendingOverride),
		inFlight: make(map[string]struct{}),
	}
}

// StageScore records a candidate score. NaN and infinities count as no score.
func (t *OverridePendingTracker) StageScore(gradeID string, score float64) {
	if math.IsNaN(score) || math.IsInf(score, 0) {
		t.ClearScore(gradeID)
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	entry := t.pending[gradeID]
	value := score
	entry.NewScore = &value
	t.pending[gradeID] = entry
}

// ClearScore removes the staged score, keeping any staged reason.
func (t *OverridePendingTracker) ClearScore(gradeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.pending[gradeID]
	if !ok {
		return
	}
	entry.NewScore = nil
	t.store(gradeID, entry)
}

// StageReason records the override reason as typed.
func (t *OverridePendingTracker) StageReason(gradeID, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry := t.pending[gradeID]
	entry.Reason = reason
	t.store(gradeID, entry)
}

func (t *OverridePendingTracker) store(gradeID string, entry PendingOverride) {
	if entry.empty() {
		delete(t.pending, gradeID)
		return
	}
	t.pending[gradeID] = entry
}

// Discard drops the staged edit for gradeID.
func (t *OverridePendingTracker) Discard(gradeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, gradeID)
}

// Pending returns a copy of the staged edit for gradeID.
func (t *OverridePendingTracker) Pending(gradeID string) (PendingOverride, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.pending[gradeID]
	if !ok {
		return PendingOverride{}, false
	}
	return copyPending(entry), true
}

// PendingAll returns a copy of every staged edit keyed by grade id.
func (t *OverridePendingTracker) PendingAll() map[string]PendingOverride {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]PendingOverride, len(t.pending))
	for id, entry := range t.pending {
		out[id] = copyPending(entry)
	}
	return out
}

// InFlight reports whether an override for gradeID is outstanding.
func (t *OverridePendingTracker) InFlight(gradeID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.inFlight[gradeID]
	return ok
}

// Reset drops all staged edits. Outstanding requests keep their in-flight flag
// until they complete.
func (t *OverridePendingTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = make(map[string]PendingOverride)
}

// Submit validates the staged edit for grade and sends it. Validation and
// final-status failures never reach the network. A second submit for the same
// grade while one is outstanding returns ErrOverrideInFlight without side
// effects. On success the staged edit is cleared and refresh is invoked.
func (t *OverridePendingTracker) Submit(ctx context.Context, submissionID string, grade gradingapi.Grade, refresh RefreshFunc) (gradingapi.Grade, error) {
	t.mu.Lock()
	entry := t.pending[grade.ID]

	if entry.NewScore == nil {
		t.mu.Unlock()
		err := newValidationError(ErrOverrideScoreRequired, "Please enter a new score")
		t.notifier.Notify(ctx, errorNotice(err))
		observability.OverridesTotal().WithLabelValues("invalid").Inc()
		return gradingapi.Grade{}, err
	}
	if strings.TrimSpace(entry.Reason) == "" {
		t.mu.Unlock()
		err := newValidationError(ErrOverrideReasonRequired, "Please provide a reason for the override")
		t.notifier.Notify(ctx, errorNotice(err))
		observability.OverridesTotal().WithLabelValues("invalid").Inc()
		return gradingapi.Grade{}, err
	}
	if grade.Status.IsFinal() {
		t.mu.Unlock()
		return gradingapi.Grade{}, ErrGradeFinal
	}
	if _, busy := t.inFlight[grade.ID]; busy {
		t.mu.Unlock()
		return gradingapi.Grade{}, ErrOverrideInFlight
	}

	t.inFlight[grade.ID] = struct{}{}
	score := *entry.NewScore
	reason := entry.Reason
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.inFlight, grade.ID)
		t.mu.Unlock()
	}()

	spanCtx, span := t.tracer.Start(ctx, "review.override", trace.WithAttributes(
		attribute.String("review.submission_id", submissionID),
		attribute.String("review.grade_id", grade.ID),
		attribute.String("review.question_id", grade.QuestionID),
	))
	defer span.End()

	updated, err := t.client.OverrideGrade(spanCtx, submissionID, grade.QuestionID, score, reason)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "override failed")
		observability.OverridesTotal().WithLabelValues("error").Inc()
		if !isContextError(err) {
			t.notifier.Notify(ctx, errorNotice(err))
		}
		return gradingapi.Grade{}, err
	}

	t.mu.Lock()
	delete(t.pending, grade.ID)
	t.mu.Unlock()

	observability.OverridesTotal().WithLabelValues("success").Inc()
	t.notifier.Notify(ctx, Notice{Level: NoticeSuccess, Title: "Success", Description: "Grade overridden successfully"})

	if refresh != nil {
		if err := refresh(ctx); err != nil {
			t.logger.Warn().Err(err).Str("submission_id", submissionID).Msg("refresh after override failed")
		}
	}

	return updated, nil
}

func copyPending(entry PendingOverride) PendingOverride {
	if entry.NewScore != nil {
		value := *entry.NewScore
		entry.NewScore = &value
	}
	return entry
}
