// Package kafka 提供 Kafka 生产者功能
//
// ## 生产者 (Producer) - 本服务发送的 Topic
//
// 1. Topic: score-sync-confirmed
//    - 消息内容: SyncConfirmation (上链成功的同步条目)
//    - 处理逻辑: 同步条目上链成功后发送，包含 txHash
//
// 2. Topic: score-sync-failed
//    - 消息内容: SyncConfirmation (最终失败的同步条目)
//    - 处理逻辑: 条目被永久拒绝或达到重试上限后发送
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/monbeats/monbeats-sync/internal/metrics"
	"github.com/monbeats/monbeats-sync/internal/model"
	"github.com/monbeats/monbeats-sync/pkg/logger"
)

// Kafka 生产者发送的 Topic
const (
	// TopicSyncConfirmed 同步成功 Topic
	// Partition Key: user_id
	// 消息格式: model.SyncConfirmation
	TopicSyncConfirmed = "score-sync-confirmed"

	// TopicSyncFailed 同步失败 Topic
	// Partition Key: user_id
	// 消息格式: model.SyncConfirmation
	TopicSyncFailed = "score-sync-failed"
)

// Producer Kafka 生产者
type Producer struct {
	producer sarama.SyncProducer
	mu       sync.RWMutex
	closed   bool
}

// ProducerConfig 生产者配置
type ProducerConfig struct {
	Brokers      []string
	ClientID     string
	RequiredAcks sarama.RequiredAcks
	MaxRetries   int
	RetryBackoff time.Duration
}

// NewProducer 创建生产者
func NewProducer(cfg *ProducerConfig) (*Producer, error) {
	config := sarama.NewConfig()
	config.Version = sarama.V2_8_0_0
	config.ClientID = cfg.ClientID
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	requiredAcks := cfg.RequiredAcks
	if requiredAcks == 0 {
		requiredAcks = sarama.WaitForAll
	}
	config.Producer.RequiredAcks = requiredAcks

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	config.Producer.Retry.Max = maxRetries

	retryBackoff := cfg.RetryBackoff
	if retryBackoff == 0 {
		retryBackoff = 100 * time.Millisecond
	}
	config.Producer.Retry.Backoff = retryBackoff

	producer, err := sarama.NewSyncProducer(cfg.Brokers, config)
	if err != nil {
		return nil, err
	}

	return &Producer{
		producer: producer,
	}, nil
}

// Close 关闭生产者
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	p.closed = true
	return p.producer.Close()
}

// send 发送消息
func (p *Producer) send(topic string, key string, value []byte) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return errors.New("producer is closed")
	}
	p.mu.RUnlock()

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		logger.Error("failed to send kafka message",
			zap.String("topic", topic),
			zap.String("key", key),
			zap.Error(err))
		return err
	}

	metrics.RecordKafkaMessage(topic, true)
	logger.Debug("kafka message sent",
		zap.String("topic", topic),
		zap.String("key", key),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))

	return nil
}

// SendSyncConfirmed 发送同步成功事件
func (p *Producer) SendSyncConfirmed(ctx context.Context, confirmation *model.SyncConfirmation) error {
	data, err := json.Marshal(confirmation)
	if err != nil {
		return err
	}

	return p.send(TopicSyncConfirmed, confirmation.UserID, data)
}

// SendSyncFailed 发送同步失败事件
func (p *Producer) SendSyncFailed(ctx context.Context, confirmation *model.SyncConfirmation) error {
	data, err := json.Marshal(confirmation)
	if err != nil {
		return err
	}

	return p.send(TopicSyncFailed, confirmation.UserID, data)
}

// EventPublisher Kafka 事件发布器，实现 service.EventPublisher
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher 创建 Kafka 事件发布器
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{
		producer: producer,
	}
}

func (p *EventPublisher) PublishSyncConfirmed(ctx context.Context, confirmation *model.SyncConfirmation) error {
	return p.producer.SendSyncConfirmed(ctx, confirmation)
}

func (p *EventPublisher) PublishSyncFailed(ctx context.Context, confirmation *model.SyncConfirmation) error {
	return p.producer.SendSyncFailed(ctx, confirmation)
}
