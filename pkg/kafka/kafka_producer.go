package kafka

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// 交易事件类型
const (
	EventOrderPlaced        = "order_placed"
	EventOrderFilled        = "order_filled"
	EventOrderCancelled     = "order_cancelled"
	EventSquareOff          = "square_off"
	EventEmergencySquareOff = "emergency_square_off"
)

// TradeEvent 下游消费的交易事件，JSON 编码。
// 以 symbol 做 Key，保证同一标的的事件进同一分区（有序性）
type TradeEvent struct {
	Type      string    `json:"type"`
	Symbol    string    `json:"symbol"`
	OrderID   string    `json:"order_id,omitempty"`
	Side      string    `json:"side,omitempty"`
	Quantity  int       `json:"quantity,omitempty"`
	Price     float64   `json:"price,omitempty"`
	Pnl       float64   `json:"pnl,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// 生产者接口，方便测试和替换
type ProducerService interface {
	Publish(ctx context.Context, event TradeEvent) error
	Close()
}

type kafkaProducer struct {
	writer *kafka.Writer
}

func NewKafkaProducer(brokerURL, topic string) ProducerService {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokerURL),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}
	return &kafkaProducer{writer: writer}
}

// Publish 序列化事件并写入 Kafka
func (p *kafkaProducer) Publish(ctx context.Context, event TradeEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.Symbol),
		Value: data,
	})
}

func (p *kafkaProducer) Close() {
	if err := p.writer.Close(); err != nil {
		log.Printf("Error closing trade event writer: %v", err)
	}
}
