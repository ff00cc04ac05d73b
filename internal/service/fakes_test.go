package service

import (
	"context"
	"errors"
	"sync"

	"github.com/noah-isme/gema-review/pkg/gradingapi"
)

var errBackend = &gradingapi.APIError{Operation: "test", StatusCode: 500, Message: "Failed to get submission"}

type overrideCall struct {
	submissionID string
	questionID   string
	score        float64
	reason       string
}

type fakeBackend struct {
	mu sync.Mutex

	submission    gradingapi.Submission
	submissionErr error
	grades        []gradingapi.Grade
	gradesErr     error
	exam          gradingapi.Exam
	examErr       error

	// gate, when set, blocks GetSubmission until a value is received.
	gate chan struct{}

	triggerErr   error
	triggerCalls int
	triggerGate  chan struct{}

	overrideErr   error
	overrideCalls []overrideCall
	overrideGate  chan struct{}

	submissionCalls int
	gradesCalls     int
	examCalls       int

	feedback   gradingapi.Feedback
	audit      []gradingapi.AuditEntry
	auditTypes []string
}

func (f *fakeBackend) GetSubmission(ctx context.Context, submissionID string) (gradingapi.Submission, error) {
	f.mu.Lock()
	f.submissionCalls++
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return gradingapi.Submission{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submissionErr != nil {
		return gradingapi.Submission{}, f.submissionErr
	}
	submission := f.submission
	if submission.ID == "" {
		submission.ID = submissionID
	}
	return submission, nil
}

func (f *fakeBackend) GetGrades(ctx context.Context, submissionID string) ([]gradingapi.Grade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gradesCalls++
	if f.gradesErr != nil {
		return nil, f.gradesErr
	}
	return append([]gradingapi.Grade{}, f.grades...), nil
}

func (f *fakeBackend) GetExam(ctx context.Context, examID string) (gradingapi.Exam, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.examCalls++
	if f.examErr != nil {
		return gradingapi.Exam{}, f.examErr
	}
	return f.exam, nil
}

func (f *fakeBackend) TriggerGrading(ctx context.Context, submissionID string) (gradingapi.Ack, error) {
	f.mu.Lock()
	f.triggerCalls++
	gate := f.triggerGate
	err := f.triggerErr
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return gradingapi.Ack{}, err
	}
	return gradingapi.Ack{Message: "Grading started"}, nil
}

func (f *fakeBackend) OverrideGrade(ctx context.Context, submissionID, questionID string, newScore float64, reason string) (gradingapi.Grade, error) {
	f.mu.Lock()
	f.overrideCalls = append(f.overrideCalls, overrideCall{submissionID: submissionID, questionID: questionID, score: newScore, reason: reason})
	gate := f.overrideGate
	err := f.overrideErr
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return gradingapi.Grade{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	score := newScore
	for i := range f.grades {
		if f.grades[i].QuestionID == questionID {
			f.grades[i].OverrideScore = &score
			f.grades[i].FinalScore = newScore
			f.grades[i].Status = gradingapi.GradeOverridden
			return f.grades[i], nil
		}
	}
	return gradingapi.Grade{QuestionID: questionID, FinalScore: newScore, Status: gradingapi.GradeOverridden}, nil
}

func (f *fakeBackend) GetFeedback(ctx context.Context, submissionID, questionID string) (gradingapi.Feedback, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	feedback := f.feedback
	feedback.SubmissionID = submissionID
	feedback.QuestionID = questionID
	return feedback, nil
}

func (f *fakeBackend) GetAuditLogs(ctx context.Context, entityID, entityType string) ([]gradingapi.AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auditTypes = append(f.auditTypes, entityType)
	return append([]gradingapi.AuditEntry{}, f.audit...), nil
}

func (f *fakeBackend) setGrades(grades []gradingapi.Grade) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grades = grades
}

func (f *fakeBackend) overrides() []overrideCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]overrideCall(nil), f.overrideCalls...)
}

func (f *fakeBackend) triggers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.triggerCalls
}

func (f *fakeBackend) loads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submissionCalls
}

func threeGrades() []gradingapi.Grade {
	return []gradingapi.Grade{
		{ID: "g-1", QuestionID: "q-1", FinalScore: 2, MaxScore: 5, Status: gradingapi.GradeAutoGraded},
		{ID: "g-2", QuestionID: "q-2", FinalScore: 4, MaxScore: 5, Status: gradingapi.GradeNeedsReview},
		{ID: "g-3", QuestionID: "q-3", FinalScore: 5, MaxScore: 5, Status: gradingapi.GradeFinal},
	}
}

func isAPIError(err error) bool {
	var apiErr *gradingapi.APIError
	return errors.As(err, &apiErr)
}
