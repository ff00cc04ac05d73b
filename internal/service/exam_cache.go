package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-review/pkg/gradingapi"
)

type cachedExamSource struct {
	source   ExamSource
	cache    *redis.Client
	cacheTTL time.Duration
	logger   zerolog.Logger
}

// NewCachedExamSource caches exams in Redis. Without a client it returns source as is.
func NewCachedExamSource(source ExamSource, cache *redis.Client, ttl time.Duration, logger zerolog.Logger) ExamSource {
	if cache == nil {
		return source
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &cachedExamSource{
		source:   source,
		cache:    cache,
		cacheTTL: ttl,
		logger:   logger.With().Str("component", "exam_cache").Logger(),
	}
}

func (s *cachedExamSource) GetExam(ctx context.Context, examID string) (gradingapi.Exam, error) {
	cacheKey := fmt.Sprintf("review:exam:%s", examID)

	if cached, err := s.cache.Get(ctx, cacheKey).Result(); err == nil {
		var exam gradingapi.Exam
		if unmarshalErr := json.Unmarshal([]byte(cached), &exam); unmarshalErr == nil {
			s.logger.Debug().Str("exam_id", examID).Msg("exam cache hit")
			return exam, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		s.logger.Warn().Err(err).Msg("failed to read exam cache")
	}

	exam, err := s.source.GetExam(ctx, examID)
	if err != nil {
		return gradingapi.Exam{}, err
	}

	if payload, err := json.Marshal(exam); err == nil {
		if err := s.cache.Set(ctx, cacheKey, payload, s.cacheTTL).Err(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to store exam cache")
		}
	}

	return exam, nil
}
