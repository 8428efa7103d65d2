package job

import (
	"context"
	"time"

	"creditledger/internal/config"
	"creditledger/internal/model"
	"creditledger/internal/repository"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Publisher delivers one outbox message to the broker.
type Publisher interface {
	Publish(topic, key, value string, headers map[string]string) error
}

// OutboxSender drains outbox_messages to the publisher. A message that keeps
// failing is retried until its retry_count reaches business.max_retry_count.
type OutboxSender struct {
	outboxRepo *repository.OutboxRepository
	publisher  Publisher
	maxRetry   int
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
	logger     zerolog.Logger
}

func NewOutboxSender(db *gorm.DB, cfg *config.Config, publisher Publisher) *OutboxSender {
	interval := cfg.Business.OutboxInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &OutboxSender{
		outboxRepo: repository.NewOutboxRepository(db),
		publisher:  publisher,
		maxRetry:   cfg.Business.MaxRetryCount,
		stopCh:     make(chan struct{}),
		interval:   interval,
		batchSize:  100,
		logger:     log.With().Str("component", "outbox_sender").Logger(),
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.logger.Info().Dur("interval", s.interval).Msg("started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("context done, exiting")
			return
		case <-s.stopCh:
			s.logger.Info().Msg("stopped")
			return
		case <-ticker.C:
			s.processPendingMessages(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

// processPendingMessages returns the number of messages delivered.
func (s *OutboxSender) processPendingMessages(ctx context.Context) int {
	messages, err := s.outboxRepo.ListDeliverable(ctx, s.maxRetry, s.batchSize)
	if err != nil {
		s.logger.Error().Err(err).Msg("list outbox messages failed")
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if s.sendMessage(ctx, msg) {
			sent++
		}
	}
	return sent
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) bool {
	err := s.publisher.Publish(msg.Topic, msg.MessageKey, msg.Payload, map[string]string{
		"event_type": msg.EventType,
	})
	if err == nil {
		if err := s.outboxRepo.MarkSent(ctx, msg.ID); err != nil {
			s.logger.Error().Err(err).Int64("id", msg.ID).Msg("mark sent failed")
			return false
		}
		s.logger.Debug().Int64("id", msg.ID).Str("topic", msg.Topic).Str("key", msg.MessageKey).Msg("message sent")
		return true
	}

	s.logger.Warn().Err(err).Int64("id", msg.ID).Int("retry_count", msg.RetryCount).Msg("publish failed")
	if err := s.outboxRepo.MarkFailed(ctx, msg.ID); err != nil {
		s.logger.Error().Err(err).Int64("id", msg.ID).Msg("mark failed failed")
	}
	if msg.RetryCount+1 >= s.maxRetry {
		s.logger.Error().Int64("id", msg.ID).Str("event_type", msg.EventType).Msg("message gave up after max retries")
	}
	return false
}
