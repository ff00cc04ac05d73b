package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-review/internal/dto"
	"github.com/noah-isme/gema-review/pkg/gradingapi"
)

// UploadDraft is one reviewer's pending upload for one exam.
type UploadDraft struct {
	id          string
	owner       Actor
	mapper      *BatchUploadMapper
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

// ID returns the draft id.
func (d *UploadDraft) ID() string { return d.id }

// Owner returns the id of the reviewer that created the draft.
func (d *UploadDraft) Owner() string { return d.owner.ID }

// Mapper exposes the file mapping of the draft.
func (d *UploadDraft) Mapper() *BatchUploadMapper { return d.mapper }

// LastSeen returns the time of the last reviewer interaction.
func (d *UploadDraft) LastSeen() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastSeen
}

// Closed reports whether the draft was discarded.
func (d *UploadDraft) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *UploadDraft) touch(token string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrSessionClosed
	}
	d.lastSeen = d.now()
	d.credentials.Set(token)
	return nil
}

func (d *UploadDraft) scope(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if d.Closed() {
		return nil, nil, ErrSessionClosed
	}
	scoped, cancel := context.WithCancel(gradingapi.WithCredentials(ctx, d.credentials))
	stop := context.AfterFunc(d.lifetime, cancel)
	return scoped, func() {
		stop()
		cancel()
	}, nil
}

// Submit uploads the draft's files and records the upload.
func (d *UploadDraft) Submit(ctx context.Context) (UploadResult, error) {
	scoped, cancel, err := d.scope(ctx)
	if err != nil {
		return UploadResult{}, err
	}
	defer cancel()

	result, err := d.mapper.Submit(scoped)
	if err != nil {
		if d.Closed() {
			return UploadResult{}, ErrSessionClosed
		}
		return UploadResult{}, err
	}

	action := "submission.uploaded"
	metadata := map[string]interface{}{"files": result.Uploaded, "mode": string(result.Mode)}
	entityID := d.mapper.ExamID()
	if result.Batch != nil {
		action = "batch.uploaded"
		metadata["batch_id"] = result.Batch.BatchID
	}
	if result.Submission != nil {
		metadata["submission_id"] = result.Submission.ID
	}
	recordActivity(ctx, d.activity, d.logger, ActivityEntry{
		ActorID:    d.owner.ID,
		ActorRole:  d.owner.Role,
		Action:     action,
		EntityType: "exam",
		EntityID:   entityID,
		Metadata:   metadata,
	})

	return result, nil
}

// BatchStatus reports the progress of the last uploaded batch.
func (d *UploadDraft) BatchStatus(ctx context.Context) (gradingapi.BatchStatus, error) {
	scoped, cancel, err := d.scope(ctx)
	if err != nil {
		return gradingapi.BatchStatus{}, err
	}
	defer cancel()
	return d.mapper.BatchStatus(scoped)
}

// Close cancels an outstanding upload and discards the files.
func (d *UploadDraft) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.cancel()
	d.mapper.mu.Lock()
	d.mapper.clear()
	d.mapper.mu.Unlock()
}

// View renders the draft.
func (d *UploadDraft) View() dto.UploadDraftResponse {
	entries := d.mapper.Entries()
	files := make([]dto.UploadEntryResponse, 0, len(entries))
	for i, entry := range entries {
		files = append(files, NewUploadEntryResponse(i, entry))
	}
	return dto.UploadDraftResponse{
		DraftID:     d.id,
		ExamID:      d.mapper.ExamID(),
		Mode:        string(d.mapper.Mode()),
		StudentID:   d.mapper.StudentID(),
		Files:       files,
		Uploading:   d.mapper.Uploading(),
		LastBatchID: d.mapper.LastBatchID(),
	}
}

// NewUploadEntryResponse converts an entry at position into its DTO.
func NewUploadEntryResponse(position int, entry UploadEntry) dto.UploadEntryResponse {
	return dto.UploadEntryResponse{
		ID:          entry.ID,
		Position:    position,
		Filename:    entry.Filename,
		ContentType: entry.ContentType,
		SizeBytes:   entry.Size,
		StudentID:   entry.StudentID,
	}
}

// UploadService hosts upload drafts for authenticated reviewers.
type UploadService interface {
	Create(actor Actor, token string, req dto.CreateUploadDraftRequest) (*UploadDraft, error)
	Get(actor Actor, token, draftID string) (*UploadDraft, error)
	Delete(actor Actor, draftID string) error
	Sweep() int
	Start(ctx context.Context)
	Shutdown()
}

// UploadServiceConfig wires an UploadService.
type UploadServiceConfig struct {
	Uploader      Uploader
	Notifications NotificationService
	Activity      ActivityRecorder
	MaxSizeMB     int
	IdleTTL       time.Duration
	Logger        zerolog.Logger
}

type uploadService struct {
	cfg     UploadServiceConfig
	drafts  *sessionRegistry[*UploadDraft]
	maxSize int64
	logger  zerolog.Logger
	now     func() time.Time
}

// NewUploadService constructs the upload draft registry.
func NewUploadService(cfg UploadServiceConfig) UploadService {
	maxSizeMB := cfg.MaxSizeMB
	if maxSizeMB <= 0 {
		maxSizeMB = 20
	}
	logger := cfg.Logger.With().Str("component", "upload_service").Logger()
	return &uploadService{
		cfg:     cfg,
		drafts:  newSessionRegistry[*UploadDraft]("upload", cfg.IdleTTL, logger),
		maxSize: int64(maxSizeMB) * 1024 * 1024,
		logger:  logger,
		now:     time.Now,
	}
}

func (s *uploadService) Create(actor Actor, token string, req dto.CreateUploadDraftRequest) (*UploadDraft, error) {
	ownerID := actor.normalizedID()
	if ownerID == "" {
		return nil, ErrSessionNotFound
	}
	examID := strings.TrimSpace(req.ExamID)
	if examID == "" {
		return nil, newValidationError(ErrExamIDRequired, "exam id is required")
	}

	mode := UploadModeBatch
	if strings.TrimSpace(req.Mode) != "" {
		parsed, err := ParseUploadMode(req.Mode)
		if err != nil {
			return nil, err
		}
		mode = parsed
	}

	id := uuid.NewString()
	var notifier Notifier
	if s.cfg.Notifications != nil {
		notifier = NewSessionNotifier(s.cfg.Notifications, ownerID, id, s.logger)
	}

	credentials := gradingapi.NewTokenHolder(token)
	lifetime, cancel := context.WithCancel(gradingapi.WithCredentials(context.Background(), credentials))
	logger := s.logger.With().Str("draft_id", id).Logger()

	mapper := NewBatchUploadMapper(examID, s.cfg.Uploader, notifier, s.maxSize, logger)
	if err := mapper.SetMode(mode); err != nil {
		cancel()
		return nil, err
	}

	draft := &UploadDraft{
		id:          id,
		owner:       Actor{ID: ownerID, Role: actor.Role},
		mapper:      mapper,
		credentials: credentials,
		activity:    s.cfg.Activity,
		logger:      logger,
		now:         s.now,
		lifetime:    lifetime,
		cancel:      cancel,
		lastSeen:    s.now(),
	}
	s.drafts.put(id, draft)
	return draft, nil
}

func (s *uploadService) Get(actor Actor, token, draftID string) (*UploadDraft, error) {
	draft, err := s.drafts.get(actor.normalizedID(), draftID)
	if err != nil {
		return nil, err
	}
	if err := draft.touch(token); err != nil {
		return nil, err
	}
	return draft, nil
}

func (s *uploadService) Delete(actor Actor, draftID string) error {
	return s.drafts.remove(actor.normalizedID(), draftID)
}

func (s *uploadService) Sweep() int {
	return s.drafts.sweep()
}

func (s *uploadService) Start(ctx context.Context) {
	s.drafts.janitor(ctx)
}

func (s *uploadService) Shutdown() {
	s.drafts.closeAll()
}
