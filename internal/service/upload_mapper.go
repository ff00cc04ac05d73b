package service

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"regexp"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-review/internal/observability"
	"github.com/noah-isme/gema-review/pkg/gradingapi"
)

var (
	// ErrInvalidUploadMode indicates a mode other than single or batch.
	ErrInvalidUploadMode = errors.New("invalid upload mode")
	// ErrExamIDRequired indicates a draft was created without an exam.
	ErrExamIDRequired = errors.New("exam id is required")
	// ErrUploadEntryNotFound indicates the file entry does not exist in the draft.
	ErrUploadEntryNotFound = errors.New("upload entry not found")
	// ErrUploadInFlight indicates a submit of the same draft is still outstanding.
	ErrUploadInFlight = errors.New("upload already in progress")
	// ErrNoFilesSelected indicates submit was called on an empty draft.
	ErrNoFilesSelected = errors.New("no files selected")
	// ErrStudentIDRequired indicates an entry without a student id.
	ErrStudentIDRequired = errors.New("student id required")
	// ErrDuplicateFilename indicates two batch entries share a filename.
	ErrDuplicateFilename = errors.New("duplicate filename in batch")
	// ErrNoBatch indicates no batch was uploaded from the draft yet.
	ErrNoBatch = errors.New("no batch uploaded")
)

// UploadMode selects single-file or batch submission.
type UploadMode string

const (
	UploadModeSingle UploadMode = "single"
	UploadModeBatch  UploadMode = "batch"
)

// ParseUploadMode validates a mode string.
func ParseUploadMode(value string) (UploadMode, error) {
	switch UploadMode(strings.ToLower(strings.TrimSpace(value))) {
	case UploadModeSingle:
		return UploadModeSingle, nil
	case UploadModeBatch:
		return UploadModeBatch, nil
	default:
		return "", ErrInvalidUploadMode
	}
}

// Uploader forwards files to the grading backend.
type Uploader interface {
	UploadSubmission(ctx context.Context, examID string, file gradingapi.UploadFile, studentID string) (gradingapi.Submission, error)
	UploadBatch(ctx context.Context, examID string, files []gradingapi.UploadFile, studentMapping map[string]string, manifest []gradingapi.ManifestEntry) (gradingapi.BatchResult, error)
	GetBatchStatus(ctx context.Context, batchID string) (gradingapi.BatchStatus, error)
}

// IncomingFile is a candidate file as received from the reviewer.
type IncomingFile struct {
	Filename    string
	ContentType string
	Content     []byte
}

// UploadEntry is one accepted file and the student it belongs to.
type UploadEntry struct {
	ID          string
	Filename    string
	ContentType string
	Size        int64
	StudentID   string
	content     []byte
}

// FileRejection explains why a candidate file was not added.
type FileRejection struct {
	Filename string
	Reason   string
	Message  string
}

// AddFilesResult lists the outcome of AddFiles.
type AddFilesResult struct {
	Added    []UploadEntry
	Rejected []FileRejection
}

// UploadResult is the outcome of a successful submit.
type UploadResult struct {
	Mode       UploadMode
	Uploaded   int
	Submission *gradingapi.Submission
	Batch      *gradingapi.BatchResult
}

var extensionPattern = regexp.MustCompile(`\.[^/.]+$`)

// DefaultStudentID derives the seed student id of a batch file by stripping
// the final extension from its name.
func DefaultStudentID(filename string) string {
	return extensionPattern.ReplaceAllString(filename, "")
}

// BatchUploadMapper collects files for one exam, pairs each with a student id
// and submits them as one file or one batch. Entries are owned by generated
// ids; order holds the display order.
type BatchUploadMapper struct {
	examID   string
	uploader Uploader
	notifier Notifier
	maxSize  int64
	logger   zerolog.Logger
	tracer   trace.Tracer

	mu          sync.Mutex
	mode        UploadMode
	studentID   string
	entries     map[string]*UploadEntry
	order       []string
	uploading   bool
	lastBatchID string
}

// NewBatchUploadMapper constructs a mapper in batch mode. maxSize <= 0 disables the size limit.
func NewBatchUploadMapper(examID string, uploader Uploader, notifier Notifier, maxSize int64, logger zerolog.Logger) *BatchUploadMapper {
	return &BatchUploadMapper{
		examID:   examID,
		uploader: uploader,
		notifier: notifierOrNop(notifier),
		maxSize:  maxSize,
		logger:   logger.With().Str("component", "upload_mapper").Str("exam_id", examID).Logger(),
		tracer:   otel.Tracer("github.com/noah-isme/gema-review/internal/service/upload"),
		mode:     UploadModeBatch,
		entries:  make(map[string]*UploadEntry),
	}
}

// ExamID returns the exam the files are uploaded to.
func (m *BatchUploadMapper) ExamID() string { return m.examID }

// Mode returns the current mode.
func (m *BatchUploadMapper) Mode() UploadMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// StudentID returns the typed student id used in single mode.
func (m *BatchUploadMapper) StudentID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.studentID
}

// Uploading reports whether a submit is outstanding.
func (m *BatchUploadMapper) Uploading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.uploading
}

// LastBatchID returns the id of the last successfully uploaded batch.
func (m *BatchUploadMapper) LastBatchID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastBatchID
}

// SetMode switches mode and always empties the file list.
func (m *BatchUploadMapper) SetMode(mode UploadMode) error {
	if mode != UploadModeSingle && mode != UploadModeBatch {
		return ErrInvalidUploadMode
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mode = mode
	m.clear()
	return nil
}

// SetStudentID sets the typed student id. In single mode the selected entry
// follows it.
func (m *BatchUploadMapper) SetStudentID(studentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.studentID = studentID
	if m.mode == UploadModeSingle {
		for _, entry := range m.entries {
			entry.StudentID = studentID
		}
	}
}

// AddFiles accepts PDFs and images. Every rejected file gets its own notice
// and does not stop the others. Single mode keeps only the first valid file.
func (m *BatchUploadMapper) AddFiles(ctx context.Context, files []IncomingFile) AddFilesResult {
	var (
		result   AddFilesResult
		accepted []*UploadEntry
	)

	for _, file := range files {
		entry, rejection := m.accept(file)
		if rejection != nil {
			result.Rejected = append(result.Rejected, *rejection)
			observability.UploadRejectionsTotal().WithLabelValues(rejection.Reason).Inc()
			m.notifier.Notify(ctx, Notice{Level: NoticeError, Title: rejectionTitle(rejection.Reason), Description: rejection.Message})
			continue
		}
		accepted = append(accepted, entry)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mode == UploadModeSingle {
		if len(accepted) == 0 {
			return result
		}
		entry := accepted[0]
		entry.StudentID = m.studentID
		m.clear()
		m.entries[entry.ID] = entry
		m.order = append(m.order, entry.ID)
		result.Added = append(result.Added, *entry)
		return result
	}

	for _, entry := range accepted {
		entry.StudentID = DefaultStudentID(entry.Filename)
		m.entries[entry.ID] = entry
		m.order = append(m.order, entry.ID)
		result.Added = append(result.Added, *entry)
	}
	return result
}

func (m *BatchUploadMapper) accept(file IncomingFile) (*UploadEntry, *FileRejection) {
	name := strings.TrimSpace(file.Filename)
	if name == "" {
		name = "file"
	}

	if m.maxSize > 0 && int64(len(file.Content)) > m.maxSize {
		return nil, &FileRejection{
			Filename: name,
			Reason:   "size",
			Message:  fmt.Sprintf("%s exceeds the %d MB limit", name, m.maxSize/(1024*1024)),
		}
	}

	contentType := resolveContentType(file.ContentType, file.Content)
	if !isReviewableType(contentType) {
		return nil, &FileRejection{
			Filename: name,
			Reason:   "type",
			Message:  fmt.Sprintf("%s is not a PDF or image file", name),
		}
	}

	return &UploadEntry{
		ID:          uuid.NewString(),
		Filename:    name,
		ContentType: contentType,
		Size:        int64(len(file.Content)),
		content:     file.Content,
	}, nil
}

// UpdateStudentID overlays the student id of one entry.
func (m *BatchUploadMapper) UpdateStudentID(entryID, studentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[entryID]
	if !ok {
		return ErrUploadEntryNotFound
	}
	entry.StudentID = studentID
	if m.mode == UploadModeSingle {
		m.studentID = studentID
	}
	return nil
}

// UpdateStudentIDAt overlays the student id of the entry at display index.
func (m *BatchUploadMapper) UpdateStudentIDAt(index int, studentID string) error {
	id, err := m.idAt(index)
	if err != nil {
		return err
	}
	return m.UpdateStudentID(id, studentID)
}

// RemoveFile drops one entry; later entries move up one position.
func (m *BatchUploadMapper) RemoveFile(entryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[entryID]; !ok {
		return ErrUploadEntryNotFound
	}
	delete(m.entries, entryID)
	for i, id := range m.order {
		if id == entryID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// RemoveFileAt drops the entry at display index.
func (m *BatchUploadMapper) RemoveFileAt(index int) error {
	id, err := m.idAt(index)
	if err != nil {
		return err
	}
	return m.RemoveFile(id)
}

func (m *BatchUploadMapper) idAt(index int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < 0 || index >= len(m.order) {
		return "", ErrUploadEntryNotFound
	}
	return m.order[index], nil
}

// Entries returns the entries in display order.
func (m *BatchUploadMapper) Entries() []UploadEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot()
}

func (m *BatchUploadMapper) snapshot() []UploadEntry {
	out := make([]UploadEntry, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *m.entries[id])
	}
	return out
}

func (m *BatchUploadMapper) clear() {
	m.entries = make(map[string]*UploadEntry)
	m.order = nil
}

// Submit validates every entry and uploads them. Validation failures make no
// network call. On success the list is emptied; on failure it is kept so
// the reviewer can retry.
func (m *BatchUploadMapper) Submit(ctx context.Context) (UploadResult, error) {
	m.mu.Lock()
	if m.uploading {
		m.mu.Unlock()
		return UploadResult{}, ErrUploadInFlight
	}
	mode := m.mode
	entries := m.snapshot()

	if err := validateEntries(mode, entries); err != nil {
		m.mu.Unlock()
		m.notifier.Notify(ctx, errorNotice(err))
		observability.UploadsTotal().WithLabelValues(string(mode), "invalid").Inc()
		return UploadResult{}, err
	}
	m.uploading = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.uploading = false
		m.mu.Unlock()
	}()

	spanCtx, span := m.tracer.Start(ctx, "upload.submit", trace.WithAttributes(
		attribute.String("upload.exam_id", m.examID),
		attribute.String("upload.mode", string(mode)),
		attribute.Int("upload.files", len(entries)),
	))
	defer span.End()

	result, err := m.send(spanCtx, mode, entries)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upload failed")
		observability.UploadsTotal().WithLabelValues(string(mode), "error").Inc()
		if !isContextError(err) {
			m.notifier.Notify(ctx, Notice{Level: NoticeError, Title: "Upload failed", Description: err.Error()})
		}
		return UploadResult{}, err
	}

	m.mu.Lock()
	m.clear()
	if result.Batch != nil && result.Batch.BatchID != "" {
		m.lastBatchID = result.Batch.BatchID
	}
	m.mu.Unlock()

	observability.UploadsTotal().WithLabelValues(string(mode), "success").Inc()
	m.logger.Info().Str("mode", string(mode)).Int("files", len(entries)).Msg("submissions uploaded")
	description := "Submission uploaded successfully"
	if mode == UploadModeBatch {
		description = fmt.Sprintf("%d submissions uploaded successfully", len(entries))
	}
	m.notifier.Notify(ctx, Notice{Level: NoticeSuccess, Title: "Success", Description: description})

	return result, nil
}

func (m *BatchUploadMapper) send(ctx context.Context, mode UploadMode, entries []UploadEntry) (UploadResult, error) {
	if mode == UploadModeSingle {
		entry := entries[0]
		submission, err := m.uploader.UploadSubmission(ctx, m.examID, uploadFile(entry), strings.TrimSpace(entry.StudentID))
		if err != nil {
			return UploadResult{}, err
		}
		return UploadResult{Mode: mode, Uploaded: 1, Submission: &submission}, nil
	}

	files := make([]gradingapi.UploadFile, 0, len(entries))
	mapping := make(map[string]string, len(entries))
	manifest := make([]gradingapi.ManifestEntry, 0, len(entries))
	for i, entry := range entries {
		studentID := strings.TrimSpace(entry.StudentID)
		files = append(files, uploadFile(entry))
		mapping[entry.Filename] = studentID
		manifest = append(manifest, gradingapi.ManifestEntry{
			ClientFileID: entry.ID,
			Filename:     entry.Filename,
			StudentID:    studentID,
			Position:     i,
		})
	}

	batch, err := m.uploader.UploadBatch(ctx, m.examID, files, mapping, manifest)
	if err != nil {
		return UploadResult{}, err
	}
	return UploadResult{Mode: mode, Uploaded: len(entries), Batch: &batch}, nil
}

// BatchStatus reports the progress of the last uploaded batch.
func (m *BatchUploadMapper) BatchStatus(ctx context.Context) (gradingapi.BatchStatus, error) {
	batchID := m.LastBatchID()
	if batchID == "" {
		return gradingapi.BatchStatus{}, ErrNoBatch
	}
	return m.uploader.GetBatchStatus(ctx, batchID)
}

func validateEntries(mode UploadMode, entries []UploadEntry) error {
	if len(entries) == 0 {
		return newValidationError(ErrNoFilesSelected, "Please select at least one file")
	}
	for _, entry := range entries {
		if strings.TrimSpace(entry.StudentID) == "" {
			return newValidationError(ErrStudentIDRequired, "All files must have a student ID")
		}
	}
	if mode == UploadModeBatch {
		seen := make(map[string]struct{}, len(entries))
		for _, entry := range entries {
			if _, dup := seen[entry.Filename]; dup {
				return newValidationError(ErrDuplicateFilename, fmt.Sprintf("%s appears more than once in this batch", entry.Filename))
			}
			seen[entry.Filename] = struct{}{}
		}
	}
	return nil
}

func uploadFile(entry UploadEntry) gradingapi.UploadFile {
	return gradingapi.UploadFile{Name: entry.Filename, ContentType: entry.ContentType, Content: entry.content}
}

func rejectionTitle(reason string) string {
	if reason == "size" {
		return "File too large"
	}
	return "Invalid file type"
}

// resolveContentType trusts the declared type and sniffs the content only
// when the declared type is missing or generic.
func resolveContentType(declared string, content []byte) string {
	contentType := normalizeMediaType(declared)
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = normalizeMediaType(mimetype.Detect(content).String())
	}
	return contentType
}

func normalizeMediaType(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if parsed, _, err := mime.ParseMediaType(value); err == nil {
		return strings.ToLower(parsed)
	}
	return strings.ToLower(value)
}

func isReviewableType(contentType string) bool {
	return contentType == "application/pdf" || strings.HasPrefix(contentType, "image/")
}
