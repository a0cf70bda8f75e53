package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-rinha-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-rinha-ledger/internal/app/core/usecase"
	kafkapkg "github.com/JoeShih716/go-rinha-ledger/pkg/kafka"
)

// messageWriter kafka.Writer 中實際用到的部分 (方便測試替換)
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher 將 TransactionApplied 事件寫入 Kafka，以 cliente_id 當 key 保證同一客戶的事件順序
type Publisher struct {
	writer messageWriter
	topic  string
	log    *zap.Logger
}

// NewPublisher 建立 Publisher
//
// 參數:
//
//	cfg: Kafka 設定 (Brokers 不可為空)
//	log: logger (Async 模式下用來記錄送出失敗)
//
// 回傳:
//
//	*Publisher: Publisher 實例
//	error: 設定錯誤
func NewPublisher(cfg kafkapkg.Config, log *zap.Logger) (*Publisher, error) {
	cfg.SetDefaults()
	log = log.With(zap.String("component", "kafka-publisher"), zap.String("topic", cfg.Topic))
	w, err := kafkapkg.NewWriter(cfg, log)
	if err != nil {
		return nil, err
	}
	return newPublisher(w, cfg.Topic, log), nil
}

func newPublisher(w messageWriter, topic string, log *zap.Logger) *Publisher {
	return &Publisher{writer: w, topic: topic, log: log}
}

// PublishTransactionApplied 發佈交易提交事件
func (p *Publisher) PublishTransactionApplied(ctx context.Context, ev domain.TransactionApplied) error {
	msg, err := newMessage(ev)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", p.topic, err)
	}
	return nil
}

// Close 送出緩衝中的訊息並關閉連線
func (p *Publisher) Close() error {
	return p.writer.Close()
}

func newMessage(ev domain.TransactionApplied) (kafka.Message, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(strconv.FormatInt(ev.ClientID, 10)),
		Value: data,
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte("transaction_applied")},
			{Key: "ref_id", Value: []byte(ev.RefID.String())},
		},
	}, nil
}

var _ usecase.EventPublisher = (*Publisher)(nil)
