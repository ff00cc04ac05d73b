package gradingapi

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

// GetSubmission fetches one submission.
func (c *Client) GetSubmission(ctx context.Context, submissionID string) (Submission, error) {
	var submission Submission
	err := c.do(ctx, request{
		operation: "get_submission",
		method:    http.MethodGet,
		path:      "/api/v1/submissions/" + segment(submissionID),
		fallback:  "Failed to get submission",
	}, &submission)
	return submission, err
}

// GetGrades fetches the grades of a submission in question order.
func (c *Client) GetGrades(ctx context.Context, submissionID string) ([]Grade, error) {
	var grades []Grade
	err := c.do(ctx, request{
		operation: "get_grades",
		method:    http.MethodGet,
		path:      "/api/v1/submissions/" + segment(submissionID) + "/grades",
		fallback:  "Failed to get grades",
	}, &grades)
	if err != nil {
		return nil, err
	}
	if grades == nil {
		grades = []Grade{}
	}
	return grades, nil
}

// TriggerGrading asks the backend to (re-)grade a submission.
func (c *Client) TriggerGrading(ctx context.Context, submissionID string) (Ack, error) {
	var ack Ack
	err := c.do(ctx, request{
		operation: "trigger_grading",
		method:    http.MethodPost,
		path:      "/api/v1/submissions/" + segment(submissionID) + "/trigger-grading",
		fallback:  "Failed to trigger grading",
	}, &ack)
	return ack, err
}

// OverrideGrade replaces the automated score of one question.
func (c *Client) OverrideGrade(ctx context.Context, submissionID, questionID string, newScore float64, reason string) (Grade, error) {
	var grade Grade
	err := c.doJSON(ctx, request{
		operation: "override_grade",
		method:    http.MethodPost,
		path:      "/api/v1/submissions/" + segment(submissionID) + "/questions/" + segment(questionID) + "/override",
		fallback:  "Failed to override grade",
	}, OverrideRequest{NewScore: newScore, Reason: reason}, &grade)
	return grade, err
}

// GetFeedback fetches generated feedback for one question of a submission.
func (c *Client) GetFeedback(ctx context.Context, submissionID, questionID string) (Feedback, error) {
	var feedback Feedback
	err := c.do(ctx, request{
		operation: "get_feedback",
		method:    http.MethodGet,
		path:      "/api/v1/submissions/" + segment(submissionID) + "/questions/" + segment(questionID) + "/feedback",
		fallback:  "Failed to get feedback",
	}, &feedback)
	return feedback, err
}

// GetAuditLogs fetches the audit trail of an entity. entityType defaults to "submission".
func (c *Client) GetAuditLogs(ctx context.Context, entityID, entityType string) ([]AuditEntry, error) {
	entityType = strings.TrimSpace(entityType)
	if entityType == "" {
		entityType = "submission"
	}

	var entries []AuditEntry
	err := c.do(ctx, request{
		operation: "get_audit_logs",
		method:    http.MethodGet,
		path:      "/api/v1/audit/" + segment(entityID),
		query:     url.Values{"type": {entityType}},
		fallback:  "Failed to get audit logs",
	}, &entries)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []AuditEntry{}
	}
	return entries, nil
}

// GetExam fetches an exam with its questions.
func (c *Client) GetExam(ctx context.Context, examID string) (Exam, error) {
	var exam Exam
	err := c.do(ctx, request{
		operation: "get_exam",
		method:    http.MethodGet,
		path:      "/api/v1/exams/" + segment(examID),
		fallback:  "Failed to get exam",
	}, &exam)
	return exam, err
}
