package events

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/order"
)

var (
	// ErrClosed is returned by Publish after Close.
	ErrClosed = errors.New("publisher closed")
	// ErrBacklog is returned when the producer buffer is full.
	ErrBacklog = errors.New("event backlog full")
)

// MessageWriter is implemented by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter returns a writer keyed by order id so every event of one
// order lands on the same partition.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
}

var _ order.Publisher = (*Producer)(nil)

// Producer publishes order events to kafka from a background loop so that
// request handlers never wait on the broker.
type Producer struct {
	w        MessageWriter
	producer string
	lg       *zap.Logger
	batch    int

	mu     sync.RWMutex
	closed bool
	inbox  chan kafka.Message
	stop   chan struct{}
	done   chan struct{}
}

// NewProducer creates a Producer buffering up to buf messages. Call Start
// before publishing.
func NewProducer(w MessageWriter, producer string, buf int, lg *zap.Logger) *Producer {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Producer{
		w:        w,
		producer: producer,
		lg:       lg,
		batch:    100,
		inbox:    make(chan kafka.Message, buf),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the delivery loop until Close or ctx cancellation, flushing
// buffered messages before it returns.
func (p *Producer) Start(ctx context.Context) {
	stopAfter := context.AfterFunc(ctx, p.Close)
	go func() {
		defer close(p.done)
		defer stopAfter()
		p.loop()
	}()
}

func (p *Producer) loop() {
	for {
		select {
		case m := <-p.inbox:
			p.write(p.collect(m))
		case <-p.stop:
			for {
				select {
				case m := <-p.inbox:
					p.write(p.collect(m))
				default:
					if err := p.w.Close(); err != nil {
						p.lg.Warn("Close kafka writer", zap.Error(err))
					}
					return
				}
			}
		}
	}
}

// collect drains up to p.batch already buffered messages after first.
func (p *Producer) collect(first kafka.Message) []kafka.Message {
	msgs := []kafka.Message{first}
	for len(msgs) < p.batch {
		select {
		case m := <-p.inbox:
			msgs = append(msgs, m)
		default:
			return msgs
		}
	}
	return msgs
}

func (p *Producer) write(msgs []kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.w.WriteMessages(ctx, msgs...); err != nil {
		p.lg.Error("Write order events", zap.Int("count", len(msgs)), zap.Error(err))
	}
}

// Publish enqueues e. It never blocks: a full buffer yields ErrBacklog.
func (p *Producer) Publish(_ context.Context, e order.Event) error {
	env := NewEnvelope(p.producer, e)
	msg := kafka.Message{
		Key:   []byte(env.CorrelationID),
		Value: env.Marshal(),
		Time:  env.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(env.EventType)},
			{Key: "event_id", Value: []byte(env.EventID)},
		},
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.inbox <- msg:
		return nil
	default:
		return ErrBacklog
	}
}

// Close stops accepting events and lets the loop flush. It is safe to call
// more than once.
func (p *Producer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.stop)
}

// WaitClosed blocks until the loop has flushed and closed the writer.
func (p *Producer) WaitClosed() {
	<-p.done
}
