package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 入站消息处理延迟（毫秒）
	IntakeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "intake_process_latency_ms",
			Help:    "Inbound event processing latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"source", "topic"},
	)

	// 入站消息结果计数
	IntakeMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_messages_total",
			Help: "Inbound messages by outcome",
		},
		[]string{"topic", "outcome"}, // outcome: processed, skipped, dead_lettered, withheld
	)

	// fan-out 生成的投递单元
	FanoutUnits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanout_units_total",
			Help: "Delivery units produced by fan-out, by channel and final status",
		},
		[]string{"channel", "status"},
	)

	// Push 发送延迟（毫秒）
	PushSendLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "push_send_latency_ms",
			Help:    "Push transport send latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1ms to ~4s
		},
		[]string{"transport", "status"},
	)

	// 死信写入计数
	DeadLetterEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_entries_total",
			Help: "Dead letter entries written, by error type",
		},
		[]string{"error_type"},
	)

	// 死信重试结果
	DeadLetterRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_retry_total",
			Help: "Dead letter retry attempts by result",
		},
		[]string{"result"}, // result: success, failed
	)

	// 数据库查询延迟（秒）
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation", "table"},
	)

	// 慢查询计数
	SlowQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_slow_query_total",
			Help: "Queries slower than the configured threshold",
		},
		[]string{"operation"},
	)

	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)
)

// RecordIntakeLatency 记录入站消息处理延迟
func RecordIntakeLatency(source, topic string, duration time.Duration) {
	IntakeLatency.WithLabelValues(source, topic).Observe(float64(duration.Milliseconds()))
}

// IncrementIntakeMessage 增加入站消息结果计数
func IncrementIntakeMessage(topic, outcome string) {
	IntakeMessages.WithLabelValues(topic, outcome).Inc()
}

// IncrementFanoutUnit 增加投递单元计数
func IncrementFanoutUnit(channel, status string) {
	FanoutUnits.WithLabelValues(channel, status).Inc()
}

// RecordPushSendLatency 记录 push 发送延迟
func RecordPushSendLatency(transport, status string, duration time.Duration) {
	PushSendLatency.WithLabelValues(transport, status).Observe(float64(duration.Milliseconds()))
}

// IncrementDeadLetter 增加死信写入计数
func IncrementDeadLetter(errorType string) {
	DeadLetterEntries.WithLabelValues(errorType).Inc()
}

// IncrementDeadLetterRetry 增加死信重试计数
func IncrementDeadLetterRetry(result string) {
	DeadLetterRetries.WithLabelValues(result).Inc()
}

// RecordDBQueryDuration 记录数据库查询延迟
func RecordDBQueryDuration(operation, table string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// IncrementSlowQuery 增加慢查询计数
func IncrementSlowQuery(operation string) {
	SlowQueries.WithLabelValues(operation).Inc()
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}
