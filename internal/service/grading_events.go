package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// GradingEvent announces that the backend finished a grading run.
type GradingEvent struct {
	SubmissionID string    `json:"submission_id"`
	Status       string    `json:"status"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// GradingEventSource lets a caller wait for the completion of one submission.
type GradingEventSource interface {
	Wait(submissionID string) (<-chan GradingEvent, func())
}

// GradingEventService consumes grading completion events from Redis pub/sub
// and NATS and fans them out to waiters.
type GradingEventService interface {
	GradingEventSource
	Start(ctx context.Context)
	Dispatch(event GradingEvent)
}

type gradingEventService struct {
	redis        *redis.Client
	redisChannel string
	nats         *nats.Conn
	natsSubject  string
	logger       zerolog.Logger

	mu      sync.Mutex
	waiters map[string]map[chan GradingEvent]struct{}
}

// NewGradingEventService constructs the consumer. Either transport may be nil.
func NewGradingEventService(redisClient *redis.Client, natsConn *nats.Conn, channelBase string, logger zerolog.Logger) GradingEventService {
	channel := ""
	subject := ""
	if channelBase != "" {
		channel = channelBase + ":completed"
		subject = strings.ReplaceAll(channelBase, ":", ".") + ".completed"
	}

	return &gradingEventService{
		redis:        redisClient,
		redisChannel: channel,
		nats:         natsConn,
		natsSubject:  subject,
		logger:       logger.With().Str("component", "grading_events").Logger(),
		waiters:      make(map[string]map[chan GradingEvent]struct{}),
	}
}

func (s *gradingEventService) Start(ctx context.Context) {
	if s.redis != nil && s.redisChannel != "" {
		pubsub := s.redis.Subscribe(ctx, s.redisChannel)
		if _, err := pubsub.Receive(ctx); err != nil {
			s.logger.Error().Err(err).Msg("failed to subscribe to grading event channel")
			_ = pubsub.Close()
		} else {
			go s.consumeRedis(ctx, pubsub)
		}
	}
	if s.nats != nil && s.natsSubject != "" {
		s.consumeNATS(ctx)
	}
}

func (s *gradingEventService) Wait(submissionID string) (<-chan GradingEvent, func()) {
	ch := make(chan GradingEvent, 1)

	s.mu.Lock()
	if _, ok := s.waiters[submissionID]; !ok {
		s.waiters[submissionID] = make(map[chan GradingEvent]struct{})
	}
	s.waiters[submissionID][ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if waiters, ok := s.waiters[submissionID]; ok {
				delete(waiters, ch)
				if len(waiters) == 0 {
					delete(s.waiters, submissionID)
				}
			}
		})
	}
	return ch, cancel
}

func (s *gradingEventService) Dispatch(event GradingEvent) {
	if strings.TrimSpace(event.SubmissionID) == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.waiters[event.SubmissionID] {
		select {
		case ch <- event:
		default:
		}
	}
}

func (s *gradingEventService) consumeRedis(ctx context.Context, pubsub *redis.PubSub) {
	defer func() { _ = pubsub.Close() }()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) {
				return
			}
			s.logger.Error().Err(err).Msg("grading event redis subscription closed")
			return
		}
		s.handlePayload([]byte(msg.Payload))
	}
}

func (s *gradingEventService) consumeNATS(ctx context.Context) {
	sub, err := s.nats.Subscribe(s.natsSubject, func(msg *nats.Msg) {
		s.handlePayload(msg.Data)
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to subscribe to grading event subject")
		return
	}

	go func() {
		<-ctx.Done()
		if err := sub.Unsubscribe(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to unsubscribe grading event subject")
		}
	}()
}

func (s *gradingEventService) handlePayload(payload []byte) {
	var event GradingEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		s.logger.Warn().Err(err).Msg("invalid grading event payload")
		return
	}
	s.Dispatch(event)
}
