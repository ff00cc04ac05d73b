package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-review/internal/dto"
	"github.com/noah-isme/gema-review/pkg/gradingapi"
)

// ReviewBackend is the slice of the grading API a review session uses.
type ReviewBackend interface {
	SubmissionSource
	GradingTrigger
	OverrideSubmitter
	GetFeedback(ctx context.Context, submissionID, questionID string) (gradingapi.Feedback, error)
	GetAuditLogs(ctx context.Context, entityID, entityType string) ([]gradingapi.AuditEntry, error)
}

// ReviewSession is one reviewer's review of one submission. Every backend
// call made on its behalf carries the reviewer's latest token and stops when
// the session is closed.
type ReviewSession struct {
	id           string
	owner        Actor
	submissionID string

	backend     ReviewBackend
	controller  *SubmissionReviewController
	overrides   *OverridePendingTracker
	trigger     *GradingTriggerCoordinator
	credentials *gradingapi.TokenHolder
	activity    ActivityRecorder
	logger      zerolog.Logger
	now         func() time.Time

	lifetime context.Context
	cancel   context.CancelFunc

	mu       sync.Mutex
	lastSeen time.Time
	closed   bool
}

type reviewSessionDeps struct {
	backend  ReviewBackend
	exams    ExamSource
	strategy RefreshStrategy
	notifier Notifier
	activity ActivityRecorder
	logger   zerolog.Logger
	now      func() time.Time
}

func newReviewSession(id string, owner Actor, token, submissionID string, deps reviewSessionDeps) *ReviewSession {
	credentials := gradingapi.NewTokenHolder(token)
	lifetime, cancel := context.WithCancel(gradingapi.WithCredentials(context.Background(), credentials))
	logger := deps.logger.With().Str("session_id", id).Str("submission_id", submissionID).Logger()

	controller := NewSubmissionReviewController(deps.backend, deps.exams, logger)
	session := &ReviewSession{
		id:           id,
		owner:        owner,
		submissionID: submissionID,
		backend:      deps.backend,
		controller:   controller,
		overrides:    NewOverridePendingTracker(deps.backend, deps.notifier, logger),
		trigger:      NewGradingTriggerCoordinator(lifetime, deps.backend, deps.strategy, controller, deps.notifier, logger),
		credentials:  credentials,
		activity:     deps.activity,
		logger:       logger,
		now:          deps.now,
		lifetime:     lifetime,
		cancel:       cancel,
		lastSeen:     deps.now(),
	}
	return session
}

// ID returns the session id.
func (s *ReviewSession) ID() string { return s.id }

// Owner returns the id of the reviewer that opened the session.
func (s *ReviewSession) Owner() string { return s.owner.ID }

// SubmissionID returns the reviewed submission.
func (s *ReviewSession) SubmissionID() string { return s.submissionID }

// LastSeen returns the time of the last reviewer interaction.
func (s *ReviewSession) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Closed reports whether the session was closed.
func (s *ReviewSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// touch records reviewer activity and adopts a refreshed token.
func (s *ReviewSession) touch(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.lastSeen = s.now()
	s.credentials.Set(token)
	return nil
}

// scope derives a context that carries the session credentials and ends
// when either ctx or the session ends.
func (s *ReviewSession) scope(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if s.Closed() {
		return nil, nil, ErrSessionClosed
	}
	scoped, cancel := context.WithCancel(gradingapi.WithCredentials(ctx, s.credentials))
	stop := context.AfterFunc(s.lifetime, cancel)
	return scoped, func() {
		stop()
		cancel()
	}, nil
}

// Load fetches the submission.
func (s *ReviewSession) Load(ctx context.Context) error {
	scoped, cancel, err := s.scope(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	return s.closedOr(s.controller.Load(scoped, s.submissionID))
}

// Refresh reloads the submission and its grades.
func (s *ReviewSession) Refresh(ctx context.Context) error {
	scoped, cancel, err := s.scope(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	return s.closedOr(s.controller.Refresh(scoped))
}

// Next advances the cursor.
func (s *ReviewSession) Next() error {
	if s.Closed() {
		return ErrSessionClosed
	}
	s.controller.Next()
	return nil
}

// Previous moves the cursor back.
func (s *ReviewSession) Previous() error {
	if s.Closed() {
		return ErrSessionClosed
	}
	s.controller.Previous()
	return nil
}

// Seek moves the cursor to index, clamped.
func (s *ReviewSession) Seek(index int) error {
	if s.Closed() {
		return ErrSessionClosed
	}
	s.controller.Seek(index)
	return nil
}

// TriggerGrading requests (re-)grading when the current state offers it.
func (s *ReviewSession) TriggerGrading(ctx context.Context) error {
	if !s.controller.Snapshot().CanTrigger {
		if s.Closed() {
			return ErrSessionClosed
		}
		return ErrActionUnavailable
	}

	scoped, cancel, err := s.scope(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	if err := s.trigger.Trigger(scoped, s.submissionID); err != nil {
		return s.closedOr(err)
	}

	recordActivity(ctx, s.activity, s.logger, ActivityEntry{
		ActorID:    s.owner.ID,
		ActorRole:  s.owner.Role,
		Action:     "grading.triggered",
		EntityType: "submission",
		EntityID:   s.submissionID,
	})
	return nil
}

// StageOverride edits the staged override of gradeID without any network call.
func (s *ReviewSession) StageOverride(gradeID string, req dto.StageOverrideRequest) error {
	if s.Closed() {
		return ErrSessionClosed
	}
	grade, ok := s.controller.Grade(gradeID)
	if !ok {
		return ErrGradeNotFound
	}
	if grade.Status.IsFinal() {
		return ErrGradeFinal
	}

	switch {
	case req.ClearScore:
		s.overrides.ClearScore(gradeID)
	case req.NewScore != nil:
		s.overrides.StageScore(gradeID, *req.NewScore)
	}
	if req.Reason != nil {
		s.overrides.StageReason(gradeID, *req.Reason)
	}
	return nil
}

// DiscardOverride drops the staged override of gradeID.
func (s *ReviewSession) DiscardOverride(gradeID string) error {
	if s.Closed() {
		return ErrSessionClosed
	}
	s.overrides.Discard(gradeID)
	return nil
}

// SubmitOverride sends the staged override of gradeID and refreshes on success.
func (s *ReviewSession) SubmitOverride(ctx context.Context, gradeID string) (gradingapi.Grade, error) {
	grade, ok := s.controller.Grade(gradeID)
	if !ok {
		if s.Closed() {
			return gradingapi.Grade{}, ErrSessionClosed
		}
		return gradingapi.Grade{}, ErrGradeNotFound
	}

	pending, _ := s.overrides.Pending(gradeID)

	scoped, cancel, err := s.scope(ctx)
	if err != nil {
		return gradingapi.Grade{}, err
	}
	defer cancel()

	updated, err := s.overrides.Submit(scoped, s.submissionID, grade, s.controller.Refresh)
	if err != nil {
		return gradingapi.Grade{}, s.closedOr(err)
	}

	metadata := map[string]interface{}{
		"question_id": grade.QuestionID,
		"grade_id":    grade.ID,
		"old_score":   grade.FinalScore,
		"reason":      strings.TrimSpace(pending.Reason),
	}
	if pending.NewScore != nil {
		metadata["new_score"] = *pending.NewScore
	}
	recordActivity(ctx, s.activity, s.logger, ActivityEntry{
		ActorID:    s.owner.ID,
		ActorRole:  s.owner.Role,
		Action:     "grade.overridden",
		EntityType: "submission",
		EntityID:   s.submissionID,
		Metadata:   metadata,
	})

	return updated, nil
}

// Feedback fetches the generated feedback of the question under the cursor.
func (s *ReviewSession) Feedback(ctx context.Context) (gradingapi.Feedback, error) {
	item, ok := s.controller.Current()
	if !ok {
		if s.Closed() {
			return gradingapi.Feedback{}, ErrSessionClosed
		}
		return gradingapi.Feedback{}, ErrActionUnavailable
	}

	scoped, cancel, err := s.scope(ctx)
	if err != nil {
		return gradingapi.Feedback{}, err
	}
	defer cancel()

	feedback, err := s.backend.GetFeedback(scoped, s.submissionID, item.Grade.QuestionID)
	return feedback, s.closedOr(err)
}

// Audit fetches the backend audit trail of entityType for the submission.
func (s *ReviewSession) Audit(ctx context.Context, entityType string) ([]gradingapi.AuditEntry, error) {
	scoped, cancel, err := s.scope(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	entries, err := s.backend.GetAuditLogs(scoped, s.submissionID, entityType)
	if err != nil {
		return nil, s.closedOr(err)
	}
	return entries, nil
}

// Close cancels in-flight calls and scheduled refreshes; later results are
// discarded.
func (s *ReviewSession) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.controller.Close()
	s.overrides.Reset()
}

// closedOr reports ErrSessionClosed in place of errors caused by the close.
func (s *ReviewSession) closedOr(err error) error {
	if err != nil && s.Closed() {
		return ErrSessionClosed
	}
	return err
}

// View renders the session state.
func (s *ReviewSession) View() dto.ReviewSessionResponse {
	snapshot := s.controller.Snapshot()

	view := dto.ReviewSessionResponse{
		SessionID:        s.id,
		SubmissionID:     s.submissionID,
		Phase:            string(snapshot.Phase),
		Error:            snapshot.LastError,
		Submission:       snapshot.Submission,
		TotalQuestions:   len(snapshot.Grades),
		CurrentIndex:     snapshot.CurrentIndex,
		Triggering:       s.trigger.Triggering(),
		PendingOverrides: map[string]dto.PendingOverrideResponse{},
		Actions: dto.ReviewActions{
			TriggerGrading: snapshot.CanTrigger,
			Previous:       snapshot.CanGoPrevious,
			Next:           snapshot.CanGoNext,
		},
	}
	if snapshot.Exam != nil {
		view.Exam = &dto.ExamSummary{ID: snapshot.Exam.ID, Title: snapshot.Exam.Title, Subject: snapshot.Exam.Subject}
	}

	for gradeID, pending := range s.overrides.PendingAll() {
		view.PendingOverrides[gradeID] = dto.PendingOverrideResponse{
			NewScore: pending.NewScore,
			Reason:   pending.Reason,
			InFlight: s.overrides.InFlight(gradeID),
		}
	}

	if item, ok := s.controller.Current(); ok {
		current := &dto.ReviewItemResponse{
			Index:    item.Index,
			Grade:    item.Grade,
			Question: item.Question,
			Answer:   item.Answer,
			OCR:      item.OCR,
		}
		if pending, ok := view.PendingOverrides[item.Grade.ID]; ok {
			current.Pending = &pending
		} else if s.overrides.InFlight(item.Grade.ID) {
			current.Pending = &dto.PendingOverrideResponse{InFlight: true}
		}
		view.Current = current
		view.Actions.Override = item.CanOverride
	}

	return view
}
