package events

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/streadway/amqp"

	"fieldreport/internal/eventbus"
	logx "fieldreport/pkg/logx"
)

type published struct {
	exchange, key string
	msg           amqp.Publishing
}

type fakeChannel struct {
	mu       sync.Mutex
	declared []string
	out      []published
}

func (c *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.declared = append(c.declared, name+":"+kind)
	return nil
}

func (c *fakeChannel) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out = append(c.out, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (c *fakeChannel) Close() error { return nil }

func (c *fakeChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.out)
}

func TestNewPublisherDeclaresExchange(t *testing.T) {
	ch := &fakeChannel{}
	if _, err := NewPublisher(ch, "", logx.Nop()); err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	if len(ch.declared) != 1 || ch.declared[0] != "fieldreport.events:topic" {
		t.Fatalf("declared = %v", ch.declared)
	}
}

func TestRunForwardsMatchingEvents(t *testing.T) {
	ch := &fakeChannel{}
	p, err := NewPublisher(ch, "ops", logx.Nop())
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	bus := eventbus.New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx, bus)
	}()

	// Wait for the subscription before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for ch.count() == 0 && time.Now().Before(deadline) {
		bus.Publish(eventbus.Event{Type: "reminder.sent", Data: map[string]int{"reminderId": 7}})
		time.Sleep(10 * time.Millisecond)
	}
	bus.Publish(eventbus.Event{Type: "pool.stats"})
	cancel()
	<-done

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if len(ch.out) == 0 {
		t.Fatal("no event forwarded")
	}
	for _, m := range ch.out {
		if m.exchange != "ops" || m.key != "reminder.sent" || m.msg.ContentType != "application/json" {
			t.Fatalf("unexpected publish %+v", m)
		}
		var env envelope
		if err := json.Unmarshal(m.msg.Body, &env); err != nil || env.Type != "reminder.sent" {
			t.Fatalf("body = %s, err = %v", m.msg.Body, err)
		}
	}
}
