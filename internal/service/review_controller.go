package service

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/gema-review/internal/observability"
	"github.com/noah-isme/gema-review/pkg/gradingapi"
)

// SubmissionSource loads a submission and its grades.
type SubmissionSource interface {
	GetSubmission(ctx context.Context, submissionID string) (gradingapi.Submission, error)
	GetGrades(ctx context.Context, submissionID string) ([]gradingapi.Grade, error)
}

// ExamSource loads the exam a submission belongs to.
type ExamSource interface {
	GetExam(ctx context.Context, examID string) (gradingapi.Exam, error)
}

// ReviewPhase is the externally visible state of a review.
type ReviewPhase string

const (
	PhaseNotLoaded       ReviewPhase = "not_loaded"
	PhaseAwaitingGrading ReviewPhase = "awaiting_grading"
	PhaseNoGrades        ReviewPhase = "no_grades"
	PhaseReviewing       ReviewPhase = "reviewing"
)

// ReviewItem is the question currently under review.
type ReviewItem struct {
	Index       int
	Total       int
	Grade       gradingapi.Grade
	Question    *gradingapi.Question
	Answer      *gradingapi.Answer
	OCR         *gradingapi.OCRResult
	CanOverride bool
}

// ReviewSnapshot is a consistent copy of the controller state.
type ReviewSnapshot struct {
	SubmissionID  string
	Submission    *gradingapi.Submission
	Grades        []gradingapi.Grade
	Exam          *gradingapi.Exam
	CurrentIndex  int
	Phase         ReviewPhase
	CanTrigger    bool
	CanGoPrevious bool
	CanGoNext     bool
	LastError     string
}

// SubmissionReviewController holds the loaded submission, its grades and the
// reviewer's cursor over them.
type SubmissionReviewController struct {
	source SubmissionSource
	exams  ExamSource
	logger zerolog.Logger
	tracer trace.Tracer

	mu           sync.RWMutex
	submissionID string
	submission   *gradingapi.Submission
	grades       []gradingapi.Grade
	exam         *gradingapi.Exam
	currentIndex int
	lastErr      error
	generation   uint64
	closed       bool
}

// NewSubmissionReviewController constructs a controller. exams may be nil.
func NewSubmissionReviewController(source SubmissionSource, exams ExamSource, logger zerolog.Logger) *SubmissionReviewController {
	return &SubmissionReviewController{
		source: source,
		exams:  exams,
		grades: []gradingapi.Grade{},
		logger: logger.With().Str("component", "review_controller").Logger(),
		tracer: otel.Tracer("github.com/noah-isme/gema-review/internal/service/review"),
	}
}

// Load fetches the submission and its grades concurrently. A grades failure
// degrades to an empty list; a submission failure keeps the previous state.
// When loads overlap only the most recently started one is applied.
func (c *SubmissionReviewController) Load(ctx context.Context, submissionID string) error {
	submissionID = strings.TrimSpace(submissionID)
	if submissionID == "" {
		return ErrSubmissionIDRequired
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrSessionClosed
	}
	c.generation++
	generation := c.generation
	c.submissionID = submissionID
	knownExam := c.exam
	c.mu.Unlock()

	spanCtx, span := c.tracer.Start(ctx, "review.load", trace.WithAttributes(
		attribute.String("review.submission_id", submissionID),
	))
	defer span.End()

	var (
		submission gradingapi.Submission
		grades     []gradingapi.Grade
	)

	group, groupCtx := errgroup.WithContext(spanCtx)
	group.Go(func() error {
		loaded, err := c.source.GetSubmission(groupCtx, submissionID)
		if err != nil {
			return err
		}
		submission = loaded
		return nil
	})
	group.Go(func() error {
		loaded, err := c.source.GetGrades(groupCtx, submissionID)
		if err != nil {
			if groupCtx.Err() == nil {
				c.logger.Warn().Err(err).Str("submission_id", submissionID).Msg("grades unavailable, treating as none")
			}
			grades = []gradingapi.Grade{}
			return nil
		}
		grades = loaded
		return nil
	})

	if err := group.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		observability.ReviewLoadsTotal().WithLabelValues("error").Inc()

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			return ErrSessionClosed
		}
		if generation == c.generation {
			c.lastErr = err
		}
		return err
	}

	exam := c.loadExam(spanCtx, submission.ExamID, knownExam)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrSessionClosed
	}
	if generation != c.generation {
		c.logger.Debug().Str("submission_id", submissionID).Msg("discarding superseded load")
		return nil
	}

	if grades == nil {
		grades = []gradingapi.Grade{}
	}
	c.submission = &submission
	c.grades = grades
	c.exam = exam
	c.currentIndex = clampIndex(c.currentIndex, len(grades))
	c.lastErr = nil

	observability.ReviewLoadsTotal().WithLabelValues("success").Inc()
	return nil
}

// Refresh reloads the current submission.
func (c *SubmissionReviewController) Refresh(ctx context.Context) error {
	c.mu.RLock()
	submissionID := c.submissionID
	c.mu.RUnlock()

	if submissionID == "" {
		return ErrSubmissionIDRequired
	}
	return c.Load(ctx, submissionID)
}

func (c *SubmissionReviewController) loadExam(ctx context.Context, examID string, known *gradingapi.Exam) *gradingapi.Exam {
	if c.exams == nil || strings.TrimSpace(examID) == "" {
		return nil
	}
	if known != nil && known.ID == examID {
		return known
	}

	exam, err := c.exams.GetExam(ctx, examID)
	if err != nil {
		c.logger.Warn().Err(err).Str("exam_id", examID).Msg("exam unavailable, reviewing without question text")
		return nil
	}
	return &exam
}

// Next advances the cursor, stopping at the last grade.
func (c *SubmissionReviewController) Next() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentIndex = clampIndex(c.currentIndex+1, len(c.grades))
	return c.currentIndex
}

// Previous moves the cursor back, stopping at the first grade.
func (c *SubmissionReviewController) Previous() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentIndex = clampIndex(c.currentIndex-1, len(c.grades))
	return c.currentIndex
}

// Seek moves the cursor to index, clamped to the loaded grades.
func (c *SubmissionReviewController) Seek(index int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentIndex = clampIndex(index, len(c.grades))
	return c.currentIndex
}

// CurrentIndex returns the cursor position.
func (c *SubmissionReviewController) CurrentIndex() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentIndex
}

// Current returns the grade under the cursor together with its question,
// answer and page when they can be resolved.
func (c *SubmissionReviewController) Current() (ReviewItem, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.grades) == 0 {
		return ReviewItem{}, false
	}

	grade := c.grades[c.currentIndex]
	item := ReviewItem{
		Index:       c.currentIndex,
		Total:       len(c.grades),
		Grade:       grade,
		CanOverride: !grade.Status.IsFinal(),
	}

	// Questions, answers and pages are index-aligned with grades.
	if c.exam != nil && c.currentIndex < len(c.exam.Questions) {
		question := c.exam.Questions[c.currentIndex]
		item.Question = &question
	}
	if c.submission != nil {
		if c.currentIndex < len(c.submission.Answers) {
			answer := c.submission.Answers[c.currentIndex]
			item.Answer = &answer
		}
		if c.currentIndex < len(c.submission.OCRResults) {
			page := c.submission.OCRResults[c.currentIndex]
			item.OCR = &page
		}
	}

	return item, true
}

// Grade looks up a loaded grade by id.
func (c *SubmissionReviewController) Grade(gradeID string) (gradingapi.Grade, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, grade := range c.grades {
		if grade.ID == gradeID {
			return grade, true
		}
	}
	return gradingapi.Grade{}, false
}

// GradingSettled reports whether a pending grading run has produced a result.
func (c *SubmissionReviewController) GradingSettled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.grades) > 0 {
		return true
	}
	return c.submission != nil && c.submission.ProcessingStatus == gradingapi.StatusFailed
}

// GradingFailed reports whether the backend marked the last grading run failed.
func (c *SubmissionReviewController) GradingFailed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.submission != nil && c.submission.ProcessingStatus == gradingapi.StatusFailed
}

// Snapshot returns a copy of the current state and the actions it permits.
func (c *SubmissionReviewController) Snapshot() ReviewSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snapshot := ReviewSnapshot{
		SubmissionID: c.submissionID,
		Grades:       append([]gradingapi.Grade(nil), c.grades...),
		CurrentIndex: c.currentIndex,
		Phase:        PhaseNotLoaded,
	}
	if c.lastErr != nil {
		snapshot.LastError = c.lastErr.Error()
	}
	if c.exam != nil {
		exam := *c.exam
		snapshot.Exam = &exam
	}
	if c.submission == nil {
		return snapshot
	}

	submission := *c.submission
	snapshot.Submission = &submission

	status := submission.ProcessingStatus
	switch {
	case len(c.grades) > 0:
		snapshot.Phase = PhaseReviewing
		snapshot.CanGoPrevious = c.currentIndex > 0
		snapshot.CanGoNext = c.currentIndex < len(c.grades)-1
	case status == gradingapi.StatusPending:
		snapshot.Phase = PhaseAwaitingGrading
	default:
		snapshot.Phase = PhaseNoGrades
	}
	snapshot.CanTrigger = canTrigger(status, len(c.grades))

	return snapshot
}

// Close discards the state; loads completing afterwards are dropped.
func (c *SubmissionReviewController) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.submission = nil
	c.grades = []gradingapi.Grade{}
	c.exam = nil
	c.currentIndex = 0
}

// canTrigger offers grading for a pending submission, or for any known
// status that has produced no grades yet.
func canTrigger(status gradingapi.ProcessingStatus, gradeCount int) bool {
	if status == gradingapi.StatusPending {
		return true
	}
	return gradeCount == 0 && status.Known()
}

func clampIndex(index, length int) int {
	if length == 0 || index < 0 {
		return 0
	}
	if index >= length {
		return length - 1
	}
	return index
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
