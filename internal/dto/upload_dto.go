package dto

import "github.com/noah-isme/gema-review/pkg/gradingapi"

// CreateUploadDraftRequest starts collecting files for an exam.
type CreateUploadDraftRequest struct {
	ExamID string `json:"exam_id" validate:"required,max=64"`
	Mode   string `json:"mode" validate:"omitempty,oneof=single batch"`
}

// UploadModeRequest switches a draft between single and batch mode.
type UploadModeRequest struct {
	Mode string `json:"mode" validate:"required,oneof=single batch"`
}

// UploadStudentIDRequest sets a student id. Blank values are accepted here
// and rejected at submit time.
type UploadStudentIDRequest struct {
	StudentID string `json:"student_id" validate:"max=64"`
}

// UploadEntryResponse is one file of a draft.
type UploadEntryResponse struct {
	ID          string `json:"id"`
	Position    int    `json:"position"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
	StudentID   string `json:"student_id"`
}

// FileRejectionResponse explains why a file was not added.
type FileRejectionResponse struct {
	Filename string `json:"filename"`
	Reason   string `json:"reason"`
	Message  string `json:"message"`
}

// UploadDraftResponse is the full view of a draft.
type UploadDraftResponse struct {
	DraftID     string                `json:"draft_id"`
	ExamID      string                `json:"exam_id"`
	Mode        string                `json:"mode"`
	StudentID   string                `json:"student_id"`
	Files       []UploadEntryResponse `json:"files"`
	Uploading   bool                  `json:"uploading"`
	LastBatchID string                `json:"last_batch_id,omitempty"`
}

// AddFilesResponse reports accepted and rejected files.
type AddFilesResponse struct {
	Draft    UploadDraftResponse     `json:"draft"`
	Added    []UploadEntryResponse   `json:"added"`
	Rejected []FileRejectionResponse `json:"rejected"`
}

// UploadSubmitResponse reports a successful upload.
type UploadSubmitResponse struct {
	Mode       string                  `json:"mode"`
	Uploaded   int                     `json:"uploaded"`
	Submission *gradingapi.Submission  `json:"submission,omitempty"`
	Batch      *gradingapi.BatchResult `json:"batch,omitempty"`
	Draft      UploadDraftResponse     `json:"draft"`
}
