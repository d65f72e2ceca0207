// Package events forwards in-process reminder and connection events to a
// RabbitMQ topic exchange so other services can react to deliveries.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/streadway/amqp"

	"fieldreport/internal/eventbus"
	logx "fieldreport/pkg/logx"
)

// DefaultPrefixes selects which bus events are forwarded.
var DefaultPrefixes = []string{"reminder.", "connection."}

// Channel is the subset of *amqp.Channel the publisher uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type Config struct {
	URL      string
	Exchange string
}

type envelope struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data,omitempty"`
}

type Publisher struct {
	ch       Channel
	conn     io.Closer
	exchange string
	log      logx.Logger
}

// Dial connects to the broker and declares a durable topic exchange.
func Dial(cfg Config, log logx.Logger) (*Publisher, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("events: amqp url is empty")
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	p, err := NewPublisher(ch, cfg.Exchange, log)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

func NewPublisher(ch Channel, exchange string, log logx.Logger) (*Publisher, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	exchange = strings.TrimSpace(exchange)
	if exchange == "" {
		exchange = "fieldreport.events"
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, err
	}
	return &Publisher{ch: ch, exchange: exchange, log: log.With(logx.String("comp", "events.amqp"))}, nil
}

// Publish sends one event with its type as routing key.
func (p *Publisher) Publish(e eventbus.Event) error {
	body, err := json.Marshal(envelope{Type: e.Type, Time: e.Time, Data: e.Data})
	if err != nil {
		return err
	}
	return p.ch.Publish(p.exchange, e.Type, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    e.Time,
		Body:         body,
	})
}

// Run forwards bus events until ctx is canceled. Publish failures are
// logged and the event is dropped.
func (p *Publisher) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(64, DefaultPrefixes...)
	defer unsub()
	p.log.Info("event forwarding started", logx.String("exchange", p.exchange))
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			if err := p.Publish(e); err != nil {
				p.log.Warn("event publish failed", logx.String("type", e.Type), logx.Err(err))
			}
		}
	}
}

func (p *Publisher) Close() error {
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
