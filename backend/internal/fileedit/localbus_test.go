package fileedit

import "testing"

func TestLocalBusPublishSubscribe(t *testing.T) {
	bus := NewLocalBus()
	var got []Event
	unsub := bus.Subscribe("file:a", func(evt Event) { got = append(got, evt) })

	_ = bus.Publish("file:a", Event{Type: EvtFileEdit, Content: "x"})
	_ = bus.Publish("file:b", Event{Type: EvtFileEdit, Content: "wrong topic"})

	if len(got) != 1 || got[0].Content != "x" {
		t.Fatalf("delivered = %v, want one event on file:a", got)
	}

	unsub()
	_ = bus.Publish("file:a", Event{Type: EvtFileEdit, Content: "after unsub"})
	if len(got) != 1 {
		t.Fatalf("event delivered after unsubscribe")
	}
}

func TestLocalBusMultipleSubscribers(t *testing.T) {
	bus := NewLocalBus()
	n := 0
	defer bus.Subscribe("file:a", func(Event) { n++ })()
	defer bus.Subscribe("file:a", func(Event) { n++ })()

	_ = bus.Publish("file:a", Event{Type: EvtCursorMove})
	if n != 2 {
		t.Fatalf("deliveries = %d, want 2", n)
	}
}
