package bus

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
)

var ErrBusClosed = errors.New("bus closed")

// Well-known channel names.
const (
	ChannelAgentEvents     = "agent.events"
	ChannelGroupUpdates    = "group.updates"
	ChannelAnalysisSignals = "analysis.signals"
)

// Message is the unit passed through the in-memory bus.
type Message struct {
	Channel string `json:"channel"`
	Payload []byte `json:"payload"`
	Ts      int64  `json:"ts"`
}

// Subscription is one independent cursor on a channel.
type Subscription struct {
	bus     *Bus
	channel string
	ch      chan Message
	once    sync.Once
}

// C returns the receive channel. It is closed when the subscription is
// cancelled or the bus shuts down.
func (s *Subscription) C() <-chan Message {
	return s.ch
}

// Channel returns the channel name this subscription is attached to.
func (s *Subscription) Channel() string {
	return s.channel
}

// Cancel stops delivery and frees the subscriber slot.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.bus.remove(s)
	})
}

// Bus is a bounded, non-blocking publish/subscribe fan-out. A slow subscriber
// never blocks a publisher: on overflow the oldest buffered message for that
// subscriber is dropped and counted. Delivery is at-most-once, per-channel
// FIFO per subscriber, with no replay for late subscribers.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string][]*Subscription
	cap     int
	closed  bool
	dropped uint64
}

// New allocates a bus with the given per-subscriber buffer capacity.
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = 1
	}
	return &Bus{
		subs: make(map[string][]*Subscription),
		cap:  capacity,
	}
}

// Publish delivers payload to every active subscriber on channel without
// blocking. The logical timestamp is assigned here, on the producer side.
func (b *Bus) Publish(channel string, payload []byte) error {
	msg := Message{
		Channel: channel,
		Payload: payload,
		Ts:      time.Now().UTC().UnixNano(),
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	for _, sub := range b.subs[channel] {
		select {
		case sub.ch <- msg:
			continue
		default:
		}
		// Buffer full: evict the oldest message, then retry once.
		select {
		case <-sub.ch:
			atomic.AddUint64(&b.dropped, 1)
		default:
		}
		select {
		case sub.ch <- msg:
		default:
			atomic.AddUint64(&b.dropped, 1)
		}
	}
	return nil
}

// PublishJSON marshals v and publishes it on channel.
func (b *Bus) PublishJSON(channel string, v any) error {
	payload, err := sonic.Marshal(v)
	if err != nil {
		return err
	}
	return b.Publish(channel, payload)
}

// Subscribe creates an independent cursor on channel. Messages published
// before the subscription begins are never delivered.
func (b *Bus) Subscribe(channel string) *Subscription {
	sub := &Subscription{
		bus:     b,
		channel: channel,
		ch:      make(chan Message, b.cap),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs[channel] = append(b.subs[channel], sub)
	return sub
}

// Dropped returns the total number of messages discarded due to slow
// subscribers.
func (b *Bus) Dropped() uint64 {
	return atomic.LoadUint64(&b.dropped)
}

// Close terminates all subscriptions and rejects further publishes.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, subs := range b.subs {
		for _, sub := range subs {
			close(sub.ch)
		}
	}
	b.subs = make(map[string][]*Subscription)
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	subs := b.subs[sub.channel]
	for i, s := range subs {
		if s == sub {
			b.subs[sub.channel] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[sub.channel]) == 0 {
		delete(b.subs, sub.channel)
	}
	close(sub.ch)
}
