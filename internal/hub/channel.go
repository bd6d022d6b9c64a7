package hub

import (
	"sync"

	"github.com/dylanjitt/auctions/internal/obs"
)

// Sink is the server-side handle to one client's open streaming connection.
// The owning connection handler reads encoded frames from Frames until the
// sink is removed from its channel, at which point the channel is closed.
type Sink struct {
	frames chan []byte
	once   sync.Once
}

// NewSink creates a sink with the given frame buffer size.
func NewSink(buffer int) *Sink {
	if buffer <= 0 {
		buffer = 16
	}
	return &Sink{frames: make(chan []byte, buffer)}
}

// Frames returns the channel the connection handler drains. It is closed
// exactly once, when the sink is removed from its broadcast channel.
func (s *Sink) Frames() <-chan []byte { return s.frames }

func (s *Sink) close() {
	s.once.Do(func() { close(s.frames) })
}

// Channel fans encoded frames out to every subscriber of one resource.
type Channel struct {
	resourceID string
	metrics    *Metrics

	mu      sync.Mutex
	subs    []*Sink
	present map[*Sink]struct{}
}

func newChannel(resourceID string, metrics *Metrics) *Channel {
	return &Channel{
		resourceID: resourceID,
		metrics:    metrics,
		present:    make(map[*Sink]struct{}),
	}
}

// AddSubscriber registers sink with the channel. Adding a sink that is
// already present is a no-op.
func (c *Channel) AddSubscriber(sink *Sink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.present[sink]; ok {
		return
	}
	c.present[sink] = struct{}{}
	c.subs = append(c.subs, sink)
	c.metrics.subscribers.Add(1)
}

// RemoveSubscriber removes sink from the channel and closes its frame
// channel. Removing an absent sink is a no-op.
func (c *Channel) RemoveSubscriber(sink *Sink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(sink)
}

func (c *Channel) removeLocked(sink *Sink) {
	if _, ok := c.present[sink]; !ok {
		return
	}
	delete(c.present, sink)
	for i, s := range c.subs {
		if s == sink {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			break
		}
	}
	c.metrics.subscribers.Add(-1)
	sink.close()
}

// Send delivers frame to every subscriber in registration order. A sink
// whose buffer is full is pruned rather than waited on; delivery to the
// remaining sinks is unaffected.
func (c *Channel) Send(frame []byte) {
	c.mu.Lock()
	var dead []*Sink
	for _, s := range c.subs {
		select {
		case s.frames <- frame:
			c.metrics.deliveries.Add(1)
		default:
			dead = append(dead, s)
		}
	}
	for _, s := range dead {
		c.removeLocked(s)
	}
	c.mu.Unlock()
	if len(dead) > 0 {
		c.metrics.pruned.Add(int64(len(dead)))
		obs.Logger.Warn("slow_sinks_pruned", "resource_id", c.resourceID, "count", len(dead))
	}
}

// SubscriberCount reports the number of currently attached sinks.
func (c *Channel) SubscriberCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}
