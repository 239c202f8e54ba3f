// Package kafka publishes order-created events to a Kafka topic.
//
// Messages are keyed by voucher id so all orders of one sale land on the same
// partition, and carry a JSON body (see Event).
//
// The writer is asynchronous by default: OrderCreated returns once the
// message is buffered and delivery failures are reported to the logger from
// the writer's completion callback. Set Config.Sync to wait for the broker.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	kg "github.com/segmentio/kafka-go"

	"github.com/unkn0wn-root/flashsale"
)

const orderHeader = "order-id"

// Event is the message body.
type Event struct {
	OrderID   int64     `json:"orderId"`
	UserID    int64     `json:"userId"`
	VoucherID int64     `json:"voucherId"`
	CreatedAt time.Time `json:"createdAt"`
}

type Config struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration // default 10ms
	WriteTimeout time.Duration // default 5s
	Sync         bool
	Logger       flashsale.Logger
	Now          func() time.Time
}

type writer interface {
	WriteMessages(ctx context.Context, msgs ...kg.Message) error
	Close() error
}

// Publisher implements flashsale.OrderPublisher.
type Publisher struct {
	w      writer
	now    func() time.Time
	log    flashsale.Logger
	failed atomic.Uint64
}

var _ flashsale.OrderPublisher = (*Publisher)(nil)

func New(cfg Config) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka: topic is required")
	}
	bt := cfg.BatchTimeout
	if bt <= 0 {
		bt = 10 * time.Millisecond
	}
	wt := cfg.WriteTimeout
	if wt <= 0 {
		wt = 5 * time.Second
	}
	w := &kg.Writer{
		Addr:         kg.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kg.Hash{},
		RequiredAcks: kg.RequireAll,
		BatchTimeout: bt,
		WriteTimeout: wt,
		Async:        !cfg.Sync,
	}
	p := newPublisher(w, cfg.Now, cfg.Logger)
	if w.Async {
		w.Completion = p.completed
	}
	return p, nil
}

func newPublisher(w writer, now func() time.Time, log flashsale.Logger) *Publisher {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = flashsale.NopLogger{}
	}
	return &Publisher{w: w, now: now, log: log}
}

// completed runs on the writer's goroutine after each async batch.
func (p *Publisher) completed(msgs []kg.Message, err error) {
	if err == nil {
		return
	}
	p.failed.Add(uint64(len(msgs)))
	for _, m := range msgs {
		p.log.Error("order event not delivered", flashsale.Fields{
			"order": orderID(m), "voucher": string(m.Key), "err": err,
		})
	}
}

// Failed returns how many async messages the broker never accepted.
func (p *Publisher) Failed() uint64 { return p.failed.Load() }

func orderID(m kg.Message) string {
	for _, h := range m.Headers {
		if h.Key == orderHeader {
			return string(h.Value)
		}
	}
	return ""
}

func (p *Publisher) OrderCreated(ctx context.Context, o flashsale.Order) error {
	body, err := json.Marshal(Event{
		OrderID:   o.ID,
		UserID:    o.UserID,
		VoucherID: o.VoucherID,
		CreatedAt: p.now().UTC(),
	})
	if err != nil {
		return err
	}
	msg := kg.Message{
		Key:   []byte(strconv.FormatInt(o.VoucherID, 10)),
		Value: body,
		Headers: []kg.Header{
			{Key: orderHeader, Value: []byte(strconv.FormatInt(o.ID, 10))},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: publish order %d: %w", o.ID, err)
	}
	return nil
}

// Close flushes buffered messages; in async mode it waits for their
// completion callbacks.
func (p *Publisher) Close() error { return p.w.Close() }

// DecodeEvent parses a message produced by Publisher.
func DecodeEvent(m kg.Message) (Event, error) {
	var e Event
	if err := json.Unmarshal(m.Value, &e); err != nil {
		return Event{}, fmt.Errorf("kafka: decode event: %w", err)
	}
	if e.OrderID == 0 {
		return Event{}, errors.New("kafka: event missing orderId")
	}
	return e, nil
}
