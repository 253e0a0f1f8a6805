// Package stream fans live signal records out to SSE subscribers.
//
// Subscribers register per device id; the reserved UNKNOWN id acts as a
// firehose that receives every device's records. Delivery is
// best-effort: a subscriber whose channel is full is evicted rather
// than allowed to stall the ingest path.
package stream

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/serenalabs/breath-engine/internal/model"
)

// subscriberBuffer is the per-subscriber channel capacity.
const subscriberBuffer = 100

// Subscriber is one attached SSE client.
type Subscriber struct {
	deviceID string
	ch       chan model.SignalRecord
}

// C is the receive side of the subscription. It is closed when the
// subscriber is evicted or unsubscribed.
func (s *Subscriber) C() <-chan model.SignalRecord { return s.ch }

// DeviceID returns the device filter this subscriber registered with.
func (s *Subscriber) DeviceID() string { return s.deviceID }

// Hub routes records from ingest to subscribers. Safe for concurrent
// use.
type Hub struct {
	log zerolog.Logger

	mu   sync.RWMutex
	subs map[string]map[*Subscriber]struct{}
}

// NewHub returns an empty hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		log:  log.With().Str("component", "stream").Logger(),
		subs: make(map[string]map[*Subscriber]struct{}),
	}
}

// Subscribe attaches a new subscriber for deviceID. Use
// model.UnknownDevice to receive records from every device.
func (h *Hub) Subscribe(deviceID string) *Subscriber {
	sub := &Subscriber{
		deviceID: deviceID,
		ch:       make(chan model.SignalRecord, subscriberBuffer),
	}
	h.mu.Lock()
	set := h.subs[deviceID]
	if set == nil {
		set = make(map[*Subscriber]struct{})
		h.subs[deviceID] = set
	}
	set[sub] = struct{}{}
	count := len(set)
	h.mu.Unlock()

	h.log.Debug().Str("device_id", deviceID).Int("subscribers", count).Msg("subscriber attached")
	return sub
}

// Unsubscribe detaches sub and closes its channel. Safe to call more
// than once.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	set := h.subs[sub.deviceID]
	if set != nil {
		if _, ok := set[sub]; ok {
			delete(set, sub)
			close(sub.ch)
		}
		if len(set) == 0 {
			delete(h.subs, sub.deviceID)
		}
	}
	h.mu.Unlock()
}

// Broadcast delivers rec to the subscribers of its device plus the
// firehose bucket. Subscribers that cannot keep up are evicted.
func (h *Hub) Broadcast(rec model.SignalRecord) {
	h.mu.RLock()
	targets := make([]*Subscriber, 0, 4)
	for sub := range h.subs[rec.DeviceID] {
		targets = append(targets, sub)
	}
	if rec.DeviceID != model.UnknownDevice {
		for sub := range h.subs[model.UnknownDevice] {
			targets = append(targets, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.ch <- rec:
		default:
			h.log.Warn().
				Str("device_id", sub.deviceID).
				Str("signal", rec.Signal).
				Msg("subscriber too slow, evicting")
			h.Unsubscribe(sub)
		}
	}
}

// SubscriberCount returns the number of attached subscribers for a
// device id.
func (h *Hub) SubscriberCount(deviceID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[deviceID])
}

// TotalSubscribers returns the number of attached subscribers across
// all devices.
func (h *Hub) TotalSubscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.subs {
		n += len(set)
	}
	return n
}
