package relay

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/yanun0323/logs"

	"main/internal/bus"
)

// Sink receives bus messages leaving the process. Delivery is best-effort,
// matching the bus's at-most-once semantics.
type Sink interface {
	Send(ctx context.Context, channel string, payload []byte, ts int64) error
}

// MustRedis connects to url or dies. Only called during startup wiring.
func MustRedis(url string) *redis.Client {
	opt, err := redis.ParseURL(url)
	if err != nil {
		logs.Errorf("redis: %v", err)
		panic(err)
	}
	return redis.NewClient(opt)
}

// StreamSink appends bus messages to one redis stream.
type StreamSink struct {
	rdb    *redis.Client
	stream string
}

func NewStreamSink(rdb *redis.Client, stream string) *StreamSink {
	return &StreamSink{rdb: rdb, stream: stream}
}

func (s *StreamSink) Send(ctx context.Context, channel string, payload []byte, ts int64) error {
	return s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"channel": channel,
			"payload": string(payload),
			"ts":      time.Unix(0, ts).UTC().Format(time.RFC3339Nano),
		},
	}).Err()
}

// Relay bridges the in-process bus and the outside world: selected bus
// channels flow out to the sink, and an optional redis pub/sub channel flows
// in as analysis signals.
type Relay struct {
	bus      *bus.Bus
	sink     Sink
	channels []string

	rdb       *redis.Client
	inChannel string
}

func New(b *bus.Bus, sink Sink, channels ...string) *Relay {
	return &Relay{bus: b, sink: sink, channels: channels}
}

// WithInbound wires an external analysis feed into the bus.
func (r *Relay) WithInbound(rdb *redis.Client, channel string) *Relay {
	r.rdb = rdb
	r.inChannel = channel
	return r
}

// Run pumps messages until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, channel := range r.channels {
		sub := r.bus.Subscribe(channel)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sub.Cancel()
			r.forward(ctx, sub)
		}()
	}
	if r.rdb != nil && r.inChannel != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.pumpInbound(ctx)
		}()
	}
	wg.Wait()
}

func (r *Relay) forward(ctx context.Context, sub *bus.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.C():
			if !ok {
				return
			}
			if err := r.sink.Send(ctx, msg.Channel, msg.Payload, msg.Ts); err != nil {
				logs.Warnf("relay %s: %v", msg.Channel, err)
			}
		}
	}
}

func (r *Relay) pumpInbound(ctx context.Context) {
	ps := r.rdb.Subscribe(ctx, r.inChannel)
	defer ps.Close()

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := r.bus.Publish(bus.ChannelAnalysisSignals, []byte(msg.Payload)); err != nil {
				logs.Warnf("relay inbound: %v", err)
			}
		}
	}
}
