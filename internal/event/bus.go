// Package event implements the in-process event bus carrying marketplace
// lifecycle notifications to channel and callback subscribers.
package event

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const EventQueueSize = 20

type EventType string

type EventSubscriberId int

type EventHandlerFunc func(Event)

type Event struct {
	Timestamp time.Time
	Data      any
	Type      EventType
}

func NewEvent(eventType EventType, eventData any) Event {
	return Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      eventData,
	}
}

type eventMetrics struct {
	eventsTotal    *prometheus.CounterVec
	deliveryErrors *prometheus.CounterVec
	subscribers    *prometheus.GaugeVec
}

type Bus struct {
	subscribers map[EventType]map[EventSubscriberId]*channelSubscriber
	metrics     *eventMetrics
	lastSubId   EventSubscriberId
	mu          sync.RWMutex
	Logger      *slog.Logger
}

// NewBus creates an event bus. Metrics registration is skipped when the
// registry is nil.
func NewBus(promRegistry prometheus.Registerer, logger *slog.Logger) *Bus {
	b := &Bus{
		subscribers: make(map[EventType]map[EventSubscriberId]*channelSubscriber),
		Logger:      logger,
	}
	if promRegistry != nil {
		b.initMetrics(promRegistry)
	}
	return b
}

func (b *Bus) initMetrics(registry prometheus.Registerer) {
	factory := promauto.With(registry)
	b.metrics = &eventMetrics{
		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "packcore_events_published_total",
			Help: "Events published to the bus by type",
		}, []string{"type"}),
		deliveryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "packcore_event_delivery_errors_total",
			Help: "Subscriber delivery failures by event type",
		}, []string{"type"}),
		subscribers: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "packcore_event_subscribers",
			Help: "Active subscribers by event type",
		}, []string{"type"}),
	}
}

// channelSubscriber delivers events by sending on a buffered channel. Close
// closes the channel so SubscribeFunc goroutines exit.
type channelSubscriber struct {
	ch     chan Event
	mu     sync.RWMutex
	closed bool
}

func newChannelSubscriber(buffer int) *channelSubscriber {
	return &channelSubscriber{ch: make(chan Event, buffer)}
}

func (c *channelSubscriber) Deliver(evt Event) (err error) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return nil
	}
	defer c.mu.RUnlock()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("channel deliver panic: %v", r)
		}
	}()
	c.ch <- evt
	return nil
}

func (c *channelSubscriber) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.ch)
	c.mu.Unlock()
}

// Subscribe registers a channel receiving events of the given type.
func (b *Bus) Subscribe(eventType EventType) (EventSubscriberId, <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := newChannelSubscriber(EventQueueSize)
	subId := b.lastSubId + 1
	b.lastSubId = subId
	if _, ok := b.subscribers[eventType]; !ok {
		b.subscribers[eventType] = make(map[EventSubscriberId]*channelSubscriber)
	}
	b.subscribers[eventType][subId] = sub
	if b.metrics != nil {
		b.metrics.subscribers.WithLabelValues(string(eventType)).Inc()
	}
	return subId, sub.ch
}

// SubscribeFunc registers a callback receiving events of the given type.
func (b *Bus) SubscribeFunc(eventType EventType, handlerFunc EventHandlerFunc) EventSubscriberId {
	subId, evtCh := b.Subscribe(eventType)
	go func(evtCh <-chan Event) {
		for {
			evt, ok := <-evtCh
			if !ok {
				return
			}
			handlerFunc(evt)
		}
	}(evtCh)
	return subId
}

// Unsubscribe stops delivery for an existing subscriber.
func (b *Bus) Unsubscribe(eventType EventType, subId EventSubscriberId) {
	b.mu.Lock()
	var subToClose *channelSubscriber
	if evtTypeSubs, ok := b.subscribers[eventType]; ok {
		if sub, ok2 := evtTypeSubs[subId]; ok2 {
			subToClose = sub
			delete(evtTypeSubs, subId)
			if len(evtTypeSubs) == 0 {
				delete(b.subscribers, eventType)
			}
			if b.metrics != nil {
				b.metrics.subscribers.WithLabelValues(string(eventType)).Dec()
			}
		}
	}
	b.mu.Unlock()
	if subToClose != nil {
		subToClose.Close()
	}
}

// Publish sends an event to every subscriber of its type. A subscriber whose
// delivery fails is unregistered.
func (b *Bus) Publish(eventType EventType, evt Event) {
	b.mu.RLock()
	subs := b.subscribers[eventType]
	type subItem struct {
		id  EventSubscriberId
		sub *channelSubscriber
	}
	subList := make([]subItem, 0, len(subs))
	for id, sub := range subs {
		subList = append(subList, subItem{id: id, sub: sub})
	}
	b.mu.RUnlock()
	for _, item := range subList {
		if err := item.sub.Deliver(evt); err != nil {
			b.Unsubscribe(eventType, item.id)
			if b.metrics != nil {
				b.metrics.deliveryErrors.WithLabelValues(string(eventType)).Inc()
			}
			if b.Logger != nil {
				b.Logger.Debug("event delivery error", "type", eventType, "err", err)
			}
		}
	}
	if b.metrics != nil {
		b.metrics.eventsTotal.WithLabelValues(string(eventType)).Inc()
	}
}

// Stop closes all subscriber channels and clears the subscriber map. The bus
// remains usable after Stop.
func (b *Bus) Stop() {
	b.mu.Lock()
	subsCopy := b.subscribers
	b.subscribers = make(map[EventType]map[EventSubscriberId]*channelSubscriber)
	b.mu.Unlock()
	for _, evtTypeSubs := range subsCopy {
		for _, sub := range evtTypeSubs {
			sub.Close()
		}
	}
	if b.metrics != nil {
		b.metrics.subscribers.Reset()
	}
}

// Sink adapts the bus to the service's post-commit publish hook.
type Sink struct {
	bus *Bus
}

// NewSink wraps the bus for use as a service event sink.
func NewSink(bus *Bus) *Sink { return &Sink{bus: bus} }

func (s *Sink) Publish(eventType string, payload any) {
	s.bus.Publish(EventType(eventType), NewEvent(EventType(eventType), payload))
}
