package kafka

import (
	"fmt"

	"github.com/IBM/sarama"

	"notifyhub/pkg/config"
)

func baseConfig(cfg config.KafkaConfig) (*sarama.Config, error) {
	sc := sarama.NewConfig()
	if cfg.ClientID != "" {
		sc.ClientID = cfg.ClientID
	}
	if cfg.Version != "" {
		v, err := sarama.ParseKafkaVersion(cfg.Version)
		if err != nil {
			return nil, fmt.Errorf("invalid kafka version %q: %w", cfg.Version, err)
		}
		sc.Version = v
	}
	return sc, nil
}

// NewConsumerConfig 手动 MarkMessage + 自动提交已标记的 offset
func NewConsumerConfig(cfg config.KafkaConfig) (*sarama.Config, error) {
	sc, err := baseConfig(cfg)
	if err != nil {
		return nil, err
	}
	sc.Consumer.Return.Errors = true
	sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	sc.Consumer.Offsets.AutoCommit.Enable = true
	sc.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategySticky()}
	return sc, nil
}

// NewProducerConfig 幂等 + WaitForAll 的同步生产者配置
func NewProducerConfig(cfg config.KafkaConfig) (*sarama.Config, error) {
	sc, err := baseConfig(cfg)
	if err != nil {
		return nil, err
	}
	sc.Producer.Return.Successes = true
	sc.Producer.Idempotent = true
	sc.Net.MaxOpenRequests = 1
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = 5
	// 幂等生产者要求 broker 协议版本 >= 0.11
	if !sc.Version.IsAtLeast(sarama.V0_11_0_0) {
		sc.Version = sarama.V2_1_0_0
	}
	return sc, nil
}
