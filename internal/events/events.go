// Package events publishes fetch events to Kafka.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/geofetch/internal/core/observability"
)

type FetchEvent struct {
	Source     string     `json:"source"`
	Layer      string     `json:"layer"`
	Kind       string     `json:"kind,omitempty"`
	Count      int        `json:"count"`
	Bounds     [4]float64 `json:"bounds"` // minx,miny,maxx,maxy; zero for empty layers
	DurationMS int64      `json:"duration_ms"`
	Cached     bool       `json:"cached"`
	TS         time.Time  `json:"ts"`
}

type Emitter interface {
	Publish(ev FetchEvent)
	Close() error
}

type Noop struct{}

func (Noop) Publish(FetchEvent) {}
func (Noop) Close() error       { return nil }

type Publisher struct {
	topic    string
	events   chan FetchEvent
	prod     sarama.AsyncProducer
	log      *slog.Logger
	stopped  chan struct{}
	errsDone chan struct{}
}

// NewProducer builds the async producer Dial uses.
func NewProducer(brokers []string) (sarama.AsyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false
	cfg.Producer.RequiredAcks = sarama.WaitForLocal

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("events: create async producer: %w", err)
	}
	return prod, nil
}

// Dial connects to the brokers and starts a publisher.
func Dial(brokers []string, topic string, queueSize int, log *slog.Logger) (*Publisher, error) {
	prod, err := NewProducer(brokers)
	if err != nil {
		return nil, err
	}
	return NewPublisher(prod, topic, queueSize, log), nil
}

// NewPublisher owns prod and closes it on Close.
func NewPublisher(prod sarama.AsyncProducer, topic string, queueSize int, log *slog.Logger) *Publisher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	p := &Publisher{
		topic:    topic,
		events:   make(chan FetchEvent, queueSize),
		prod:     prod,
		log:      log,
		stopped:  make(chan struct{}),
		errsDone: make(chan struct{}),
	}

	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			b, err := json.Marshal(ev)
			if err != nil {
				p.log.Warn("events: marshal", "err", err)
				continue
			}
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic: p.topic,
				Key:   sarama.StringEncoder(ev.Layer),
				Value: sarama.ByteEncoder(b),
			}
			observability.IncEvent("published")
		}
	}()

	go func() {
		defer close(p.errsDone)
		for err := range p.prod.Errors() {
			if err != nil {
				observability.IncEvent("error")
				p.log.Warn("events: producer error", "err", err.Err)
			}
		}
	}()

	return p
}

// Publish never blocks; events are dropped when the queue is full.
func (p *Publisher) Publish(ev FetchEvent) {
	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}
	select {
	case p.events <- ev:
	default:
		observability.IncEvent("dropped")
	}
}

func (p *Publisher) Close() error {
	close(p.events)
	<-p.stopped

	err := p.prod.Close()
	<-p.errsDone
	if err != nil {
		return fmt.Errorf("events: close producer: %w", err)
	}
	return nil
}
