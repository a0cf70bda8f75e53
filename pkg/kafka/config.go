package kafka

import "time"

// DefaultTopic 交易提交事件的 topic
const DefaultTopic = "ledger.transactions"

// Config Kafka 發佈設定
type Config struct {
	Enabled      bool          `yaml:"enabled"`
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	Async        bool          `yaml:"async"`         // true: 不等待 broker 確認，錯誤只記錄
	BatchTimeout time.Duration `yaml:"batch_timeout"` // 批次送出的最長等待時間
}

// SetDefaults 補全未設定的欄位
func (c *Config) SetDefaults() {
	if c.Topic == "" {
		c.Topic = DefaultTopic
	}
	if c.BatchTimeout == 0 {
		c.BatchTimeout = 10 * time.Millisecond
	}
}
