package gradingapi

import "time"

// ProcessingStatus is the backend-defined lifecycle state of a submission.
type ProcessingStatus string

const (
	StatusPending ProcessingStatus = "pending"
	StatusGrading ProcessingStatus = "grading"
	StatusGraded  ProcessingStatus = "graded"
	StatusFailed  ProcessingStatus = "failed"
)

// Known reports whether the status belongs to the set the gateway acts upon.
func (s ProcessingStatus) Known() bool {
	switch s {
	case StatusPending, StatusGrading, StatusGraded, StatusFailed:
		return true
	default:
		return false
	}
}

// GradeStatus is the review state of a single graded question.
type GradeStatus string

const (
	GradeAutoGraded  GradeStatus = "auto_graded"
	GradeNeedsReview GradeStatus = "needs_review"
	GradeOverridden  GradeStatus = "overridden"
	GradeFinal       GradeStatus = "final"
)

// IsFinal reports whether the grade is locked against further overrides.
func (s GradeStatus) IsFinal() bool {
	return s == GradeFinal
}

// OCRResult is the recognised text of one scanned page.
type OCRResult struct {
	PageNumber int     `json:"page_number"`
	RawText    string  `json:"raw_text"`
	Confidence float64 `json:"confidence"`
	ImageURL   string  `json:"image_url"`
}

// Answer is the extracted answer text for one question.
type Answer struct {
	QuestionID string `json:"question_id"`
	Text       string `json:"text"`
}

// Submission is one scanned answer set for one student on one exam.
type Submission struct {
	ID               string           `json:"id"`
	ExamID           string           `json:"exam_id"`
	StudentID        string           `json:"student_id"`
	ProcessingStatus ProcessingStatus `json:"processing_status"`
	OCRResults       []OCRResult      `json:"ocr_results,omitempty"`
	Answers          []Answer         `json:"answers,omitempty"`
	UploadedAt       time.Time        `json:"uploaded_at"`
}

// Grade is the scored outcome of one question within a submission.
type Grade struct {
	ID            string      `json:"id"`
	SubmissionID  string      `json:"submission_id"`
	QuestionID    string      `json:"question_id"`
	FinalScore    float64     `json:"final_score"`
	MaxScore      float64     `json:"max_score"`
	AIScore       *float64    `json:"ai_score,omitempty"`
	OverrideScore *float64    `json:"override_score,omitempty"`
	Confidence    float64     `json:"confidence"`
	Reasoning     string      `json:"reasoning"`
	CriteriaMet   []string    `json:"criteria_met,omitempty"`
	MistakesFound []string    `json:"mistakes_found,omitempty"`
	Status        GradeStatus `json:"status"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// Question is static exam content.
type Question struct {
	ID             string                 `json:"id"`
	QuestionText   string                 `json:"question_text"`
	Points         float64                `json:"points"`
	AnswerType     string                 `json:"answer_type"`
	QuestionNumber string                 `json:"question_number,omitempty"`
	QuestionGroup  string                 `json:"question_group,omitempty"`
	Rubric         map[string]interface{} `json:"rubric,omitempty"`
}

// Exam groups the questions a submission is graded against.
type Exam struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Subject     string     `json:"subject"`
	Description string     `json:"description,omitempty"`
	Questions   []Question `json:"questions,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// OverrideRequest is the body of the override endpoint.
type OverrideRequest struct {
	NewScore float64 `json:"new_score"`
	Reason   string  `json:"reason"`
}

// Feedback is the per-question feedback generated for a submission.
type Feedback struct {
	SubmissionID string   `json:"submission_id"`
	QuestionID   string   `json:"question_id"`
	Summary      string   `json:"summary"`
	Strengths    []string `json:"strengths,omitempty"`
	Improvements []string `json:"improvements,omitempty"`
}

// AuditEntry is one event of the backend audit trail.
type AuditEntry struct {
	ID         string                 `json:"id"`
	EntityType string                 `json:"entity_type"`
	EntityID   string                 `json:"entity_id"`
	EventType  string                 `json:"event_type"`
	ActorType  string                 `json:"actor_type"`
	ActorID    string                 `json:"actor_id,omitempty"`
	Changes    map[string]interface{} `json:"changes,omitempty"`
	Hash       string                 `json:"hash,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// UploadFile is an in-memory file forwarded in a multipart upload.
type UploadFile struct {
	Name        string
	ContentType string
	Content     []byte
}

// ManifestEntry pairs a client-side file id with the file it names in a batch.
type ManifestEntry struct {
	ClientFileID string `json:"client_file_id"`
	Filename     string `json:"filename"`
	StudentID    string `json:"student_id"`
	Position     int    `json:"position"`
}

// BatchFailure describes one file the backend refused in a batch.
type BatchFailure struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

// BatchResult is the backend acknowledgement of a batch upload.
type BatchResult struct {
	BatchID     string         `json:"batch_id"`
	Submissions []Submission   `json:"submissions,omitempty"`
	Failed      []BatchFailure `json:"failed,omitempty"`
}

// BatchStatus reports the processing progress of a batch.
type BatchStatus struct {
	BatchID   string `json:"batch_id"`
	Status    string `json:"status"`
	Total     int    `json:"total"`
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
}

// Ack is the generic acknowledgement of fire-and-forget endpoints.
type Ack struct {
	Message string `json:"message,omitempty"`
	Status  string `json:"status,omitempty"`
}
