package events

import (
	"testing"
	"time"
)

func TestBusDeliversToSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	a := bus.Subscribe()
	b := bus.Subscribe()

	bus.Emit(FeatureStatusChanged, StatusChangedPayload{FeatureID: "f1", Status: "ready"})

	for _, ch := range []<-chan Envelope{a, b} {
		select {
		case e := <-ch:
			if e.Event != FeatureStatusChanged {
				t.Errorf("event = %q, want %q", e.Event, FeatureStatusChanged)
			}
			p, ok := e.Payload.(StatusChangedPayload)
			if !ok {
				t.Fatalf("payload type = %T, want StatusChangedPayload", e.Payload)
			}
			if p.FeatureID != "f1" {
				t.Errorf("featureID = %q, want f1", p.FeatureID)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestBusEmitDoesNotBlockOnFullSubscriber(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	bus.Subscribe() // never drained

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			bus.Emit(FeatureStatusChanged, StatusChangedPayload{FeatureID: "f1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a full subscriber channel")
	}
}

func TestBusCloseClosesSubscriberChannels(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe()
	bus.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("received an event from a closed bus")
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber channel not closed")
	}
}
