package events

import (
	"testing"
	"time"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	bus := New()
	a := bus.Subscribe(4)
	b := bus.Subscribe(4)
	defer bus.Unsubscribe(a)
	defer bus.Unsubscribe(b)

	bus.Publish(Event{Source: SourceAgent, Kind: KindRequestStart})

	for _, ch := range []<-chan Event{a, b} {
		select {
		case e := <-ch:
			if e.Kind != KindRequestStart {
				t.Errorf("unexpected kind: %s", e.Kind)
			}
			if e.Timestamp.IsZero() {
				t.Error("expected timestamp stamped on publish")
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	bus := New()
	ch := bus.Subscribe(1)
	defer bus.Unsubscribe(ch)

	bus.Publish(Event{Kind: "first"})
	bus.Publish(Event{Kind: "second"}) // buffer full, dropped

	e := <-ch
	if e.Kind != "first" {
		t.Errorf("expected first event, got %s", e.Kind)
	}
	select {
	case e := <-ch:
		t.Errorf("expected second event dropped, got %s", e.Kind)
	default:
	}
}

func TestNilBusIsNoop(t *testing.T) {
	var bus *Bus
	bus.Publish(Event{Kind: "ignored"}) // must not panic
	if bus.SubscriberCount() != 0 {
		t.Error("nil bus has no subscribers")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := New()
	ch := bus.Subscribe(1)
	bus.Unsubscribe(ch)

	if _, open := <-ch; open {
		t.Error("expected channel closed after unsubscribe")
	}
	bus.Unsubscribe(ch) // second call is a no-op

	if bus.SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers, got %d", bus.SubscriberCount())
	}
}
