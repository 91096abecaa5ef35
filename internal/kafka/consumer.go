// Package kafka 提供 Kafka 消费者和生产者功能
//
// ## 消费者 (Consumer) - 本服务订阅的 Topic
//
// 1. Topic: score-events
//    - 生产者: 游戏服务端
//    - 消息内容: ScoreSubmission (单局游戏分数)
//    - 处理逻辑: 更新排行榜并按增量写入同步队列
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
	"github.com/monbeats/monbeats-sync/internal/service"
	"github.com/monbeats/monbeats-sync/pkg/logger"
)

// Kafka 消费者订阅的 Topic
const (
	// TopicScoreEvents 分数事件 Topic
	// 生产者: 游戏服务端
	// Partition Key: wallet_address
	// 消息格式: model.ScoreSubmission
	TopicScoreEvents = "score-events"
)

// Consumer Kafka 消费者
type Consumer struct {
	client   sarama.ConsumerGroup
	scoreSvc *service.ScoreService
	topics   []string
	groupID  string

	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
}

// ConsumerConfig 消费者配置
type ConsumerConfig struct {
	Brokers      []string
	GroupID      string
	ScoreService *service.ScoreService
}

// NewConsumer 创建消费者
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Version = sarama.V2_8_0_0
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Offsets.AutoCommit.Enable = true
	config.Consumer.Offsets.AutoCommit.Interval = time.Second

	client, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, config)
	if err != nil {
		return nil, err
	}

	return &Consumer{
		client:   client,
		scoreSvc: cfg.ScoreService,
		topics:   []string{TopicScoreEvents},
		groupID:  cfg.GroupID,
	}, nil
}

// Start 启动消费者
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errors.New("consumer already running")
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.mu.Unlock()

	handler := &consumerGroupHandler{
		scoreSvc: c.scoreSvc,
	}

	go func() {
		for {
			select {
			case <-c.stopCh:
				return
			case <-ctx.Done():
				return
			default:
			}

			if err := c.client.Consume(ctx, c.topics, handler); err != nil {
				logger.Error("kafka consume error", zap.Error(err))
				time.Sleep(time.Second)
			}
		}
	}()

	logger.Info("kafka consumer started",
		zap.Strings("topics", c.topics),
		zap.String("groupId", c.groupID))

	return nil
}

// Stop 停止消费者
func (c *Consumer) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}

	close(c.stopCh)
	c.running = false

	return c.client.Close()
}

// consumerGroupHandler 消费组处理器
type consumerGroupHandler struct {
	scoreSvc *service.ScoreService
}

func (h *consumerGroupHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *consumerGroupHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		ctx := context.Background()

		switch msg.Topic {
		case TopicScoreEvents:
			metrics.RecordKafkaMessage(msg.Topic, false)
			if err := h.handleScoreEvent(ctx, msg.Value); err != nil {
				logger.Error("failed to handle score event",
					zap.String("topic", msg.Topic),
					zap.Int64("offset", msg.Offset),
					zap.Error(err))
				continue // 继续处理下一条消息
			}

		default:
			logger.Warn("unknown topic", zap.String("topic", msg.Topic))
		}

		session.MarkMessage(msg, "")
	}
	return nil
}

func (h *consumerGroupHandler) handleScoreEvent(ctx context.Context, data []byte) error {
	var submission model.ScoreSubmission
	if err := json.Unmarshal(data, &submission); err != nil {
		return err
	}

	logger.Debug("received score event",
		zap.String("wallet", submission.WalletAddress),
		zap.Int64("score", submission.Score))

	_, err := h.scoreSvc.RecordScore(ctx, &submission, "kafka")
	return err
}
