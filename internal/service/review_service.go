package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ReviewService hosts review sessions for authenticated reviewers.
type ReviewService interface {
	Open(ctx context.Context, actor Actor, token, submissionID string) (*ReviewSession, error)
	Get(actor Actor, token, sessionID string) (*ReviewSession, error)
	Close(actor Actor, sessionID string) error
	Sweep() int
	Start(ctx context.Context)
	Shutdown()
}

// ReviewServiceConfig wires a ReviewService.
type ReviewServiceConfig struct {
	Backend       ReviewBackend
	Exams         ExamSource
	Strategy      RefreshStrategy
	Notifications NotificationService
	Activity      ActivityRecorder
	IdleTTL       time.Duration
	Logger        zerolog.Logger
}

type reviewService struct {
	cfg      ReviewServiceConfig
	sessions *sessionRegistry[*ReviewSession]
	logger   zerolog.Logger
	now      func() time.Time
}

// NewReviewService constructs the review session registry.
func NewReviewService(cfg ReviewServiceConfig) ReviewService {
	logger := cfg.Logger.With().Str("component", "review_service").Logger()
	return &reviewService{
		cfg:      cfg,
		sessions: newSessionRegistry[*ReviewSession]("review", cfg.IdleTTL, logger),
		logger:   logger,
		now:      time.Now,
	}
}

func (s *reviewService) Open(ctx context.Context, actor Actor, token, submissionID string) (*ReviewSession, error) {
	ownerID := actor.normalizedID()
	if ownerID == "" {
		return nil, ErrSessionNotFound
	}
	submissionID = strings.TrimSpace(submissionID)
	if submissionID == "" {
		return nil, ErrSubmissionIDRequired
	}

	id := uuid.NewString()
	var notifier Notifier
	if s.cfg.Notifications != nil {
		notifier = NewSessionNotifier(s.cfg.Notifications, ownerID, id, s.logger)
	}

	session := newReviewSession(id, Actor{ID: ownerID, Role: actor.Role}, token, submissionID, reviewSessionDeps{
		backend:  s.cfg.Backend,
		exams:    s.cfg.Exams,
		strategy: s.cfg.Strategy,
		notifier: notifier,
		activity: s.cfg.Activity,
		logger:   s.logger,
		now:      s.now,
	})

	if err := session.Load(ctx); err != nil {
		session.Close()
		return nil, err
	}

	s.sessions.put(id, session)
	s.logger.Debug().Str("session_id", id).Str("submission_id", submissionID).Msg("review session opened")
	return session, nil
}

func (s *reviewService) Get(actor Actor, token, sessionID string) (*ReviewSession, error) {
	session, err := s.sessions.get(actor.normalizedID(), sessionID)
	if err != nil {
		return nil, err
	}
	if err := session.touch(token); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *reviewService) Close(actor Actor, sessionID string) error {
	return s.sessions.remove(actor.normalizedID(), sessionID)
}

func (s *reviewService) Sweep() int {
	return s.sessions.sweep()
}

func (s *reviewService) Start(ctx context.Context) {
	s.sessions.janitor(ctx)
}

func (s *reviewService) Shutdown() {
	s.sessions.closeAll()
}
