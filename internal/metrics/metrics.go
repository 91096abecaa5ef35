// Package metrics 提供 monbeats-sync 服务的 Prometheus 监控指标
package metrics

import (
	"math/big"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "monbeats_sync"

// 分数录入指标
var (
	// ScoresRecordedTotal 已录入分数总数
	ScoresRecordedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scores_recorded_total",
			Help:      "已录入分数总数",
		},
		[]string{"source"}, // http, kafka
	)

	// ScoreAmountTotal 已录入分数累计值
	ScoreAmountTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "score_amount_total",
			Help:      "已录入分数累计值",
		},
	)
)

// 同步队列指标
var (
	// QueueEntriesTotal 入队结果总数
	QueueEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_entries_total",
			Help:      "同步队列入队结果总数",
		},
		[]string{"result"}, // enqueued, duplicate, skipped, error
	)

	// QueueDepthGauge 队列深度
	QueueDepthGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "同步队列各状态条目数量",
		},
		[]string{"status"}, // pending, processing, completed, failed
	)
)

// 上链提交指标
var (
	// SubmissionsTotal 上链提交总数
	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "上链提交总数",
		},
		[]string{"status"}, // completed, retried, failed, rejected
	)

	// SubmissionDuration 单条提交耗时
	SubmissionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "submission_duration_seconds",
			Help:      "单条上链提交耗时(秒)",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	// DrainDuration 单轮批次处理耗时
	DrainDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "drain_duration_seconds",
			Help:      "同步批次处理耗时(秒)",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	// DrainBatchSize 单轮批次条目数量
	DrainBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "drain_batch_size",
			Help:      "同步批次包含的条目数量",
			Buckets:   []float64{1, 2, 3, 5, 10, 20},
		},
	)
)

// 链交互指标
var (
	// LedgerCallDuration 链调用耗时
	LedgerCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ledger_call_duration_seconds",
			Help:      "链调用耗时(秒)",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"method"},
	)

	// GasPriceGauge 当前 Gas 价格 (Wei)
	GasPriceGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gas_price_wei",
			Help:      "当前 Gas 价格 (Wei)",
		},
	)
)

// Kafka 指标
var (
	// KafkaMessagesProduced 已生产消息数
	KafkaMessagesProduced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_messages_produced_total",
			Help:      "已生产 Kafka 消息数",
		},
		[]string{"topic"},
	)

	// KafkaMessagesConsumed 已消费消息数
	KafkaMessagesConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_messages_consumed_total",
			Help:      "已消费 Kafka 消息数",
		},
		[]string{"topic"},
	)
)

// Helper functions

// RecordScore 记录分数录入
func RecordScore(source string, score int64) {
	ScoresRecordedTotal.WithLabelValues(source).Inc()
	if score > 0 {
		ScoreAmountTotal.Add(float64(score))
	}
}

// RecordQueueEntry 记录入队结果
func RecordQueueEntry(result string) {
	QueueEntriesTotal.WithLabelValues(result).Inc()
}

// UpdateQueueDepth 更新队列深度
func UpdateQueueDepth(status string, count int64) {
	QueueDepthGauge.WithLabelValues(status).Set(float64(count))
}

// RecordSubmission 记录上链提交结果
func RecordSubmission(status string, duration time.Duration) {
	SubmissionsTotal.WithLabelValues(status).Inc()
	if duration > 0 {
		SubmissionDuration.Observe(duration.Seconds())
	}
}

// RecordDrain 记录单轮批次处理
func RecordDrain(batchSize int, duration time.Duration) {
	DrainBatchSize.Observe(float64(batchSize))
	DrainDuration.Observe(duration.Seconds())
}

// ObserveLedgerCall 记录链调用耗时
func ObserveLedgerCall(method string, duration time.Duration) {
	LedgerCallDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// SetGasPrice 更新 Gas 价格
func SetGasPrice(gasPrice *big.Int) {
	if gasPrice == nil {
		return
	}
	f, _ := new(big.Float).SetInt(gasPrice).Float64()
	GasPriceGauge.Set(f)
}

// RecordKafkaMessage 记录 Kafka 消息
func RecordKafkaMessage(topic string, produced bool) {
	if produced {
		KafkaMessagesProduced.WithLabelValues(topic).Inc()
	} else {
		KafkaMessagesConsumed.WithLabelValues(topic).Inc()
	}
}
