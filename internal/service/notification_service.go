package service

import (
	"context"
	"encoding/json"
	"errors"
	"html"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-review/internal/dto"
	"github.com/noah-isme/gema-review/internal/observability"
)

const (
	notificationBufferSize  = 16
	notificationHistorySize = 50
)

// NotificationService publishes notices and streams them to the reviewer
// they are addressed to, across gateway nodes when Redis or NATS is set.
type NotificationService interface {
	Publish(ctx context.Context, payload dto.NotificationCreateRequest) (dto.NotificationResponse, error)
	Recent(userID string, limit int) []dto.NotificationResponse
	Subscribe(userID string) (<-chan dto.NotificationResponse, func())
	Start(ctx context.Context)
}

type notificationService struct {
	redis        *redis.Client
	redisChannel string
	nats         *nats.Conn
	natsSubject  string
	validator    *validator.Validate
	logger       zerolog.Logger
	tracer       trace.Tracer
	sanitizer    *bluemonday.Policy
	broker       *notificationBroker
	nodeID       string
	now          func() time.Time
}

type notificationEvent struct {
	Source       string                   `json:"source"`
	Notification dto.NotificationResponse `json:"notification"`
	SentAt       time.Time                `json:"sent_at"`
}

type notificationBroker struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan dto.NotificationResponse]struct{}
	history     map[string][]dto.NotificationResponse
}

// NewNotificationService constructs a notification service.
func NewNotificationService(redisClient *redis.Client, channelBase string, natsConn *nats.Conn, validate *validator.Validate, logger zerolog.Logger) NotificationService {
	channel := ""
	subject := ""
	if channelBase != "" {
		channel = channelBase + ":notifications"
		subject = strings.ReplaceAll(channelBase, ":", ".") + ".notifications"
	}

	return &notificationService{
		redis:        redisClient,
		redisChannel: channel,
		nats:         natsConn,
		natsSubject:  subject,
		validator:    validate,
		logger:       logger.With().Str("component", "notification_service").Logger(),
		tracer:       otel.Tracer("github.com/noah-isme/gema-review/internal/service/notification"),
		sanitizer:    bluemonday.StrictPolicy(),
		broker: &notificationBroker{
			subscribers: make(map[string]map[chan dto.NotificationResponse]struct{}),
			history:     make(map[string][]dto.NotificationResponse),
		},
		nodeID: uuid.NewString(),
		now:    time.Now,
	}
}

func (s *notificationService) Start(ctx context.Context) {
	if s.redis != nil && s.redisChannel != "" {
		go s.consumeRedis(ctx)
	}
	if s.nats != nil && s.natsSubject != "" {
		go s.consumeNATS(ctx)
	}
}

func (s *notificationService) Publish(ctx context.Context, payload dto.NotificationCreateRequest) (dto.NotificationResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.NotificationResponse{}, err
	}

	title := s.plainText(payload.Title)
	if title == "" {
		return dto.NotificationResponse{}, errors.New("notification title empty after sanitization")
	}

	_, span := s.tracer.Start(ctx, "notifications.publish", trace.WithAttributes(
		attribute.String("notification.user_id", payload.UserID),
		attribute.String("notification.level", payload.Level),
	))
	defer span.End()

	response := dto.NotificationResponse{
		ID:          uuid.NewString(),
		UserID:      payload.UserID,
		SessionID:   payload.SessionID,
		Level:       payload.Level,
		Title:       title,
		Description: s.plainText(payload.Description),
		CreatedAt:   s.now().UTC(),
	}

	s.broker.broadcast(response)
	if err := s.publish(ctx, response); err != nil {
		span.RecordError(err)
		s.logger.Warn().Err(err).Msg("failed to publish notification to broker")
	}

	observability.NotificationsPublishedTotal().WithLabelValues(response.Level).Inc()

	return response, nil
}

// plainText strips markup and reverses the entity escaping the sanitizer
// applies, so notices carry the backend's wording unchanged.
func (s *notificationService) plainText(value string) string {
	return strings.TrimSpace(html.UnescapeString(s.sanitizer.Sanitize(value)))
}

func (s *notificationService) Recent(userID string, limit int) []dto.NotificationResponse {
	return s.broker.recent(userID, limit)
}

func (s *notificationService) Subscribe(userID string) (<-chan dto.NotificationResponse, func()) {
	channel := make(chan dto.NotificationResponse, notificationBufferSize)

	s.broker.subscribe(userID, channel)
	observability.NotificationClientsActive().Inc()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			s.broker.unsubscribe(userID, channel)
			observability.NotificationClientsActive().Dec()
		})
	}

	return channel, cleanup
}

func (s *notificationService) publish(ctx context.Context, notification dto.NotificationResponse) error {
	if (s.redis == nil || s.redisChannel == "") && (s.nats == nil || s.natsSubject == "") {
		return nil
	}

	event := notificationEvent{
		Source:       s.nodeID,
		Notification: notification,
		SentAt:       s.now().UTC(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if s.redis != nil && s.redisChannel != "" {
		if err := s.redis.Publish(ctx, s.redisChannel, payload).Err(); err != nil {
			return err
		}
	}

	if s.nats != nil && s.natsSubject != "" {
		if err := s.nats.Publish(s.natsSubject, payload); err != nil {
			return err
		}
	}

	return nil
}

func (s *notificationService) consumeRedis(ctx context.Context) {
	pubsub := s.redis.Subscribe(ctx, s.redisChannel)
	defer func() { _ = pubsub.Close() }()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) {
				return
			}
			s.logger.Error().Err(err).Msg("notification redis subscription closed")
			return
		}
		s.handleEvent([]byte(msg.Payload))
	}
}

func (s *notificationService) consumeNATS(ctx context.Context) {
	sub, err := s.nats.Subscribe(s.natsSubject, func(msg *nats.Msg) {
		s.handleEvent(msg.Data)
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to subscribe to nats notifications subject")
		return
	}

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to drain notification nats subscription")
		}
	}()
}

func (s *notificationService) handleEvent(payload []byte) {
	var event notificationEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		s.logger.Warn().Err(err).Msg("invalid notification event payload")
		return
	}

	if event.Source == s.nodeID {
		return
	}

	notification := event.Notification
	if notification.UserID == "" {
		return
	}
	if notification.Level == "" {
		notification.Level = string(NoticeInfo)
	}

	s.broker.broadcast(notification)
}

func (b *notificationBroker) subscribe(userID string, ch chan dto.NotificationResponse) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[userID]; !exists {
		b.subscribers[userID] = make(map[chan dto.NotificationResponse]struct{})
	}
	b.subscribers[userID][ch] = struct{}{}
}

func (b *notificationBroker) unsubscribe(userID string, ch chan dto.NotificationResponse) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subscribers, ok := b.subscribers[userID]; ok {
		delete(subscribers, ch)
		close(ch)
		if len(subscribers) == 0 {
			delete(b.subscribers, userID)
		}
	}
}

func (b *notificationBroker) broadcast(notification dto.NotificationResponse) {
	b.mu.Lock()
	defer b.mu.Unlock()

	history := append(b.history[notification.UserID], notification)
	if len(history) > notificationHistorySize {
		history = history[len(history)-notificationHistorySize:]
	}
	b.history[notification.UserID] = history

	for ch := range b.subscribers[notification.UserID] {
		select {
		case ch <- notification:
		default:
		}
	}
}

func (b *notificationBroker) recent(userID string, limit int) []dto.NotificationResponse {
	b.mu.RLock()
	defer b.mu.RUnlock()

	history := b.history[userID]
	if limit <= 0 || limit > len(history) {
		limit = len(history)
	}
	out := make([]dto.NotificationResponse, 0, limit)
	for i := len(history) - 1; i >= len(history)-limit; i-- {
		out = append(out, history[i])
	}
	return out
}

// sessionNotifier routes core component notices to the session owner.
type sessionNotifier struct {
	service   NotificationService
	userID    string
	sessionID string
	logger    zerolog.Logger
}

// NewSessionNotifier returns a Notifier that publishes to userID's stream.
func NewSessionNotifier(service NotificationService, userID, sessionID string, logger zerolog.Logger) Notifier {
	return &sessionNotifier{service: service, userID: userID, sessionID: sessionID, logger: logger}
}

func (n *sessionNotifier) Notify(ctx context.Context, notice Notice) {
	if n.service == nil {
		return
	}
	_, err := n.service.Publish(context.WithoutCancel(ctx), dto.NotificationCreateRequest{
		UserID:      n.userID,
		SessionID:   n.sessionID,
		Level:       string(notice.Level),
		Title:       notice.Title,
		Description: notice.Description,
	})
	if err != nil {
		n.logger.Warn().Err(err).Str("session_id", n.sessionID).Msg("failed to publish notice")
	}
}
