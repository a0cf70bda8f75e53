package kafka

import (
	"fmt"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// NewWriter 建立 kafka.Writer，訊息依 key 做 hash 分區
//
// 參數:
//
//	cfg: Kafka 設定 (Brokers 不可為空)
//	log: Async 模式下記錄送出失敗
//
// 回傳值:
//
//	*kafkago.Writer: 尚未連線的 Writer (第一次寫入時才連線)
//	error: 設定錯誤
func NewWriter(cfg Config, log *zap.Logger) (*kafkago.Writer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka writer: no brokers configured")
	}
	cfg.SetDefaults()

	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireOne,
		BatchTimeout: cfg.BatchTimeout,
		Async:        cfg.Async,
	}
	if cfg.Async {
		w.Completion = func(msgs []kafkago.Message, err error) {
			if err != nil {
				log.Error("deliver messages", zap.Int("messages", len(msgs)), zap.Error(err))
			}
		}
	}
	return w, nil
}
