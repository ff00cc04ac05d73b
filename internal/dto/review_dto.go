package dto

import "github.com/noah-isme/gema-review/pkg/gradingapi"

// OpenReviewSessionRequest opens a review of one submission.
type OpenReviewSessionRequest struct {
	SubmissionID string `json:"submission_id" validate:"required,max=64"`
}

// ReviewCursorRequest moves the cursor to an absolute position.
type ReviewCursorRequest struct {
	Index *int `json:"index" validate:"required"`
}

// StageOverrideRequest edits the staged override of one grade. Omitted
// fields are left untouched.
type StageOverrideRequest struct {
	NewScore   *float64 `json:"new_score"`
	ClearScore bool     `json:"clear_score"`
	Reason     *string  `json:"reason" validate:"omitempty,max=2000"`
}

// PendingOverrideResponse is a staged but unsubmitted override.
type PendingOverrideResponse struct {
	NewScore *float64 `json:"new_score"`
	Reason   string   `json:"reason"`
	InFlight bool     `json:"in_flight"`
}

// ReviewActions lists what the reviewer may do in the current state.
type ReviewActions struct {
	TriggerGrading bool `json:"trigger_grading"`
	Previous       bool `json:"previous"`
	Next           bool `json:"next"`
	Override       bool `json:"override"`
}

// ReviewItemResponse is the question under the cursor.
type ReviewItemResponse struct {
	Index    int                      `json:"index"`
	Grade    gradingapi.Grade         `json:"grade"`
	Question *gradingapi.Question     `json:"question,omitempty"`
	Answer   *gradingapi.Answer       `json:"answer,omitempty"`
	OCR      *gradingapi.OCRResult    `json:"ocr,omitempty"`
	Pending  *PendingOverrideResponse `json:"pending_override,omitempty"`
}

// ExamSummary is the exam header shown above a review.
type ExamSummary struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Subject string `json:"subject"`
}

// ReviewSessionResponse is the full view of a review session.
type ReviewSessionResponse struct {
	SessionID        string                             `json:"session_id"`
	SubmissionID     string                             `json:"submission_id"`
	Phase            string                             `json:"phase"`
	Error            string                             `json:"error,omitempty"`
	Submission       *gradingapi.Submission             `json:"submission"`
	Exam             *ExamSummary                       `json:"exam,omitempty"`
	TotalQuestions   int                                `json:"total_questions"`
	CurrentIndex     int                                `json:"current_index"`
	Current          *ReviewItemResponse                `json:"current,omitempty"`
	Actions          ReviewActions                      `json:"actions"`
	Triggering       bool                               `json:"triggering"`
	PendingOverrides map[string]PendingOverrideResponse `json:"pending_overrides"`
}

// OverrideResultResponse is returned after a successful override.
type OverrideResultResponse struct {
	Grade   gradingapi.Grade      `json:"grade"`
	Session ReviewSessionResponse `json:"session"`
}
