package eventbus

import "testing"

func TestSubscribePrefixFilter(t *testing.T) {
	bus := New()
	all, unsubAll := bus.Subscribe(4)
	defer unsubAll()
	rem, unsubRem := bus.Subscribe(4, "reminder.")
	defer unsubRem()

	bus.Publish(Event{Type: "connection.bound"})
	bus.Publish(Event{Type: "reminder.sent"})

	if got := len(all); got != 2 {
		t.Fatalf("unfiltered subscriber got %d events, want 2", got)
	}
	if got := len(rem); got != 1 {
		t.Fatalf("filtered subscriber got %d events, want 1", got)
	}
	if e := <-rem; e.Type != "reminder.sent" || e.Time.IsZero() {
		t.Fatalf("unexpected event %+v", e)
	}
}

func TestPublishAfterUnsubscribe(t *testing.T) {
	bus := New()
	ch, unsub := bus.Subscribe(1)
	unsub()
	unsub()
	bus.Publish(Event{Type: "reminder.failed"})
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel")
	}
}
