package event

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const testType = EventType("pack.ordered")

func TestSubscribeAndPublish(t *testing.T) {
	bus := NewBus(prometheus.NewRegistry(), nil)
	defer bus.Stop()

	subID, ch := bus.Subscribe(testType)
	bus.Publish(testType, NewEvent(testType, "payload-1"))

	select {
	case evt := <-ch:
		if evt.Type != testType || evt.Data != "payload-1" {
			t.Fatalf("unexpected event %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	bus.Unsubscribe(testType, subID)
	if _, ok := <-ch; ok {
		t.Fatal("channel not closed after unsubscribe")
	}
}

func TestPublishOnlyMatchingType(t *testing.T) {
	bus := NewBus(nil, nil)
	defer bus.Stop()

	_, ordered := bus.Subscribe("pack.ordered")
	_, opened := bus.Subscribe("pack.opened")

	bus.Publish("pack.ordered", NewEvent("pack.ordered", 1))

	select {
	case <-ordered:
	case <-time.After(time.Second):
		t.Fatal("subscriber missed its event")
	}
	select {
	case evt := <-opened:
		t.Fatalf("wrong subscriber received %+v", evt)
	default:
	}
}

func TestSubscribeFunc(t *testing.T) {
	bus := NewBus(nil, nil)
	defer bus.Stop()

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		got []Event
	)
	wg.Add(2)
	bus.SubscribeFunc(testType, func(evt Event) {
		mu.Lock()
		got = append(got, evt)
		mu.Unlock()
		wg.Done()
	})

	bus.Publish(testType, NewEvent(testType, "a"))
	bus.Publish(testType, NewEvent(testType, "b"))

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for callbacks")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("received %d events", len(got))
	}
}

func TestStopClosesSubscribers(t *testing.T) {
	bus := NewBus(nil, nil)
	_, ch := bus.Subscribe(testType)
	bus.Stop()
	if _, ok := <-ch; ok {
		t.Fatal("channel open after Stop")
	}
	// The bus remains usable.
	_, ch2 := bus.Subscribe(testType)
	bus.Publish(testType, NewEvent(testType, "after-stop"))
	select {
	case evt := <-ch2:
		if evt.Data != "after-stop" {
			t.Fatalf("unexpected event %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("bus dead after Stop")
	}
	bus.Stop()
}

func TestSinkAdapts(t *testing.T) {
	bus := NewBus(nil, nil)
	defer bus.Stop()
	_, ch := bus.Subscribe("token.minted")

	sink := NewSink(bus)
	sink.Publish("token.minted", map[string]any{"token_id": 3})

	select {
	case evt := <-ch:
		if evt.Type != "token.minted" {
			t.Fatalf("unexpected type %s", evt.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("sink did not publish")
	}
}
