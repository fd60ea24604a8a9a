package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/consumer"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/apache/rocketmq-client-go/v2/producer"
	"github.com/rs/zerolog/log"
)

const (
	rocketProducerGroup = "poll_cascade_producer"
	rocketConsumerGroup = "poll_cascade_consumer"
)

// RocketMQ publishes cascade events to a RocketMQ topic. Failed deliveries
// are retried by the broker and land in its %DLQ% topic after maxRetries.
type RocketMQ struct {
	nameServers []string
	maxRetries  int
	producer    rocketmq.Producer
	consumer    rocketmq.PushConsumer
}

// NewRocketMQ creates and starts the producer.
func NewRocketMQ(nameServers []string, maxRetries int) (*RocketMQ, error) {
	p, err := rocketmq.NewProducer(
		producer.WithNameServer(nameServers),
		producer.WithGroupName(rocketProducerGroup),
		producer.WithRetry(2),
		producer.WithSendMsgTimeout(10*time.Second),
		producer.WithVIPChannel(false),
	)
	if err != nil {
		return nil, fmt.Errorf("create rocketmq producer: %w", err)
	}
	if err := p.Start(); err != nil {
		return nil, fmt.Errorf("start rocketmq producer: %w", err)
	}

	log.Info().Strs("nameservers", nameServers).Msg("RocketMQ producer started")
	return &RocketMQ{nameServers: nameServers, maxRetries: maxRetries, producer: p}, nil
}

func (r *RocketMQ) Publish(ctx context.Context, event CascadeEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode cascade event: %w", err)
	}

	msg := primitive.NewMessage(TopicCascadeEvents, body)
	msg.WithTag(string(event.Type))
	msg.WithKeys([]string{event.MessageID})
	// Events for one poll share a queue and keep their order.
	msg.WithShardingKey(event.PollID)

	res, err := r.producer.SendSync(ctx, msg)
	if err != nil {
		return fmt.Errorf("send cascade event: %w", err)
	}
	log.Debug().Str("msg_id", res.MsgID).Str("message_id", event.MessageID).Msg("cascade event sent")
	return nil
}

// Start subscribes handler to every cascade event tag.
func (r *RocketMQ) Start(handler Handler) error {
	c, err := rocketmq.NewPushConsumer(
		consumer.WithNameServer(r.nameServers),
		consumer.WithGroupName(rocketConsumerGroup),
		consumer.WithConsumerModel(consumer.Clustering),
		consumer.WithConsumeFromWhere(consumer.ConsumeFromLastOffset),
		consumer.WithMaxReconsumeTimes(int32(r.maxRetries)),
	)
	if err != nil {
		return fmt.Errorf("create rocketmq consumer: %w", err)
	}

	selector := consumer.MessageSelector{
		Type:       consumer.TAG,
		Expression: string(EventPollDeleted) + " || " + string(EventPollCleared),
	}
	err = c.Subscribe(TopicCascadeEvents, selector, func(ctx context.Context, msgs ...*primitive.MessageExt) (consumer.ConsumeResult, error) {
		for _, m := range msgs {
			var event CascadeEvent
			if err := json.Unmarshal(m.Body, &event); err != nil {
				log.Error().Err(err).Str("msg_id", m.MsgId).Msg("malformed cascade event")
				continue
			}
			if err := handler(ctx, event); err != nil {
				log.Warn().Err(err).Str("message_id", event.MessageID).Int32("reconsume", m.ReconsumeTimes).Msg("cascade event failed")
				return consumer.ConsumeRetryLater, nil
			}
		}
		return consumer.ConsumeSuccess, nil
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", TopicCascadeEvents, err)
	}

	if err := c.Start(); err != nil {
		return fmt.Errorf("start rocketmq consumer: %w", err)
	}
	r.consumer = c
	log.Info().Msg("RocketMQ consumer started")
	return nil
}

func (r *RocketMQ) Stop() {
	if r.consumer != nil {
		if err := r.consumer.Shutdown(); err != nil {
			log.Error().Err(err).Msg("could not shut down RocketMQ consumer")
		}
	}
	if err := r.producer.Shutdown(); err != nil {
		log.Error().Err(err).Msg("could not shut down RocketMQ producer")
		return
	}
	log.Info().Msg("RocketMQ stopped")
}

func (r *RocketMQ) Stats(context.Context) map[string]interface{} {
	return map[string]interface{}{
		"topic":       TopicCascadeEvents,
		"nameservers": r.nameServers,
	}
}
