package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Queue names used by RedisMQ.
const (
	MainQueueName       = "cascade_queue"
	ProcessingQueueName = "cascade_processing"
	DeadLetterQueueName = "cascade_dead_letter"
	RetriesHashName     = "cascade_retries"
	// StartedHashName maps message ids to the unix time they entered the
	// processing list.
	StartedHashName = "cascade_processing_started"
)

// RedisMQ is a reliable list queue: BRPOPLPUSH moves each message into a
// processing list until it is handled, retried or dead-lettered.
type RedisMQ struct {
	client            *redis.Client
	ctx               context.Context
	handler           Handler
	mu                sync.Mutex
	isRunning         bool
	stopChan          chan struct{}
	wg                sync.WaitGroup
	processingTimeout time.Duration
	retryDelay        time.Duration
	maxRetries        int
	pollInterval      time.Duration
	now               func() time.Time
}

func NewRedisMQ(client *redis.Client, maxRetries int, retryDelay time.Duration) *RedisMQ {
	return &RedisMQ{
		client:            client,
		ctx:               context.Background(),
		stopChan:          make(chan struct{}),
		processingTimeout: 5 * time.Minute,
		retryDelay:        retryDelay,
		maxRetries:        maxRetries,
		pollInterval:      time.Second,
		now:               time.Now,
	}
}

func (r *RedisMQ) Publish(ctx context.Context, event CascadeEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode cascade event: %w", err)
	}
	if err := r.client.LPush(ctx, MainQueueName, data).Err(); err != nil {
		return fmt.Errorf("push cascade event: %w", err)
	}
	log.Debug().Str("queue", MainQueueName).Str("message_id", event.MessageID).Msg("cascade event queued")
	return nil
}

// Start launches the consumer and the processing timeout checker.
func (r *RedisMQ) Start(handler Handler) error {
	if handler == nil {
		return fmt.Errorf("redis mq: handler is nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isRunning {
		return nil
	}
	r.handler = handler
	r.isRunning = true

	r.wg.Add(2)
	go r.consumeLoop()
	go r.timeoutCheckLoop()

	log.Info().Msg("Redis MQ consumer started")
	return nil
}

func (r *RedisMQ) Stop() {
	r.mu.Lock()
	if !r.isRunning {
		r.mu.Unlock()
		return
	}
	r.isRunning = false
	r.mu.Unlock()

	close(r.stopChan)
	r.wg.Wait()
	log.Info().Msg("Redis MQ consumer stopped")
}

func (r *RedisMQ) consumeLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.stopChan:
			return
		default:
		}

		data, err := r.client.BRPopLPush(r.ctx, MainQueueName, ProcessingQueueName, r.pollInterval).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				log.Error().Err(err).Msg("could not read from cascade queue")
				time.Sleep(r.pollInterval)
			}
			continue
		}
		r.processMessage(data)
	}
}

func (r *RedisMQ) timeoutCheckLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopChan:
			return
		case <-ticker.C:
			r.checkTimeouts()
		}
	}
}

// checkTimeouts requeues messages stuck in the processing list, which
// happens when a consumer dies mid-message. The timeout runs from when the
// message entered processing, not from when it was published.
func (r *RedisMQ) checkTimeouts() {
	messages, err := r.client.LRange(r.ctx, ProcessingQueueName, 0, -1).Result()
	if err != nil {
		log.Error().Err(err).Msg("could not read processing queue")
		return
	}

	now := r.now().Unix()
	for _, data := range messages {
		var event CascadeEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			r.moveToDeadLetter(data)
			continue
		}

		started, err := r.client.HGet(r.ctx, StartedHashName, event.MessageID).Int64()
		if errors.Is(err, redis.Nil) {
			// Popped but not yet marked; start the clock now.
			r.client.HSetNX(r.ctx, StartedHashName, event.MessageID, now)
			continue
		}
		if err != nil {
			log.Error().Err(err).Str("message_id", event.MessageID).Msg("could not read processing start")
			continue
		}
		if now-started > int64(r.processingTimeout.Seconds()) {
			log.Warn().Str("message_id", event.MessageID).Msg("cascade event timed out in processing")
			r.retryOrDeadLetter(event, data)
		}
	}
}

func (r *RedisMQ) processMessage(data string) {
	var event CascadeEvent
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		log.Error().Err(err).Msg("malformed cascade event")
		r.moveToDeadLetter(data)
		return
	}
	r.client.HSet(r.ctx, StartedHashName, event.MessageID, r.now().Unix())

	if err := r.handler(r.ctx, event); err != nil {
		log.Warn().Err(err).Str("message_id", event.MessageID).Msg("cascade event failed")
		r.retryOrDeadLetter(event, data)
		return
	}

	r.client.LRem(r.ctx, ProcessingQueueName, 1, data)
	r.client.HDel(r.ctx, RetriesHashName, event.MessageID)
	r.client.HDel(r.ctx, StartedHashName, event.MessageID)
	log.Debug().Str("message_id", event.MessageID).Str("event", string(event.Type)).Msg("cascade event handled")
}

func (r *RedisMQ) retryOrDeadLetter(event CascadeEvent, data string) {
	r.client.HDel(r.ctx, StartedHashName, event.MessageID)
	retries, _ := r.client.HGet(r.ctx, RetriesHashName, event.MessageID).Int()
	if retries >= r.maxRetries {
		log.Error().Str("message_id", event.MessageID).Int("retries", retries).Msg("cascade event moved to dead letter queue")
		r.moveToDeadLetter(data)
		return
	}

	r.client.HIncrBy(r.ctx, RetriesHashName, event.MessageID, 1)
	r.client.LRem(r.ctx, ProcessingQueueName, 1, data)

	event.Timestamp = r.now().Unix()
	updated, _ := json.Marshal(event)
	time.AfterFunc(r.retryDelay, func() {
		if err := r.client.LPush(r.ctx, MainQueueName, updated).Err(); err != nil {
			log.Error().Err(err).Str("message_id", event.MessageID).Msg("could not requeue cascade event")
		}
	})
}

func (r *RedisMQ) moveToDeadLetter(data string) {
	r.client.LPush(r.ctx, DeadLetterQueueName, data)
	r.client.LRem(r.ctx, ProcessingQueueName, 1, data)
}

// RetryDeadLetters moves every dead letter back to the main queue with a
// fresh retry budget.
func (r *RedisMQ) RetryDeadLetters(ctx context.Context) (int, error) {
	messages, err := r.client.LRange(ctx, DeadLetterQueueName, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("read dead letter queue: %w", err)
	}

	count := 0
	for _, data := range messages {
		if err := r.client.LPush(ctx, MainQueueName, data).Err(); err != nil {
			log.Error().Err(err).Msg("could not requeue dead letter")
			continue
		}
		r.client.LRem(ctx, DeadLetterQueueName, 1, data)

		var event CascadeEvent
		if json.Unmarshal([]byte(data), &event) == nil {
			r.client.HDel(ctx, RetriesHashName, event.MessageID)
		}
		count++
	}
	log.Info().Int("count", count).Msg("dead letters requeued")
	return count, nil
}

func (r *RedisMQ) Stats(ctx context.Context) map[string]interface{} {
	mainLen, _ := r.client.LLen(ctx, MainQueueName).Result()
	procLen, _ := r.client.LLen(ctx, ProcessingQueueName).Result()
	deadLen, _ := r.client.LLen(ctx, DeadLetterQueueName).Result()
	return map[string]interface{}{
		"main_queue":        mainLen,
		"processing_queue":  procLen,
		"dead_letter_queue": deadLen,
	}
}
