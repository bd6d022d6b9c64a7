// Package stream maintains durable client subscriptions to a product's
// server-sent event stream. A subscription survives connection failures by
// reconnecting after a configurable delay, mirroring the EventSource
// contract the web client relies on: the server keeps no per-client state
// across reconnects, so a subscriber only ever sees events published while
// its connection is up.
package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Event kinds delivered by the server.
const (
	KindConnected      = "CONNECTED"
	KindNewBid         = "NEW_BID"
	KindNewChatMessage = "NEW_CHAT_MESSAGE"
)

// Event is one typed notification received from the stream. Payload holds
// the raw JSON of the event's payload envelope field.
type Event struct {
	Kind    string
	Payload json.RawMessage
}

// State reports subscription lifecycle transitions to the status callback.
type State string

const (
	// StateConnecting means a connection attempt is in flight.
	StateConnecting State = "connecting"
	// StateOpen means the server acknowledged the subscription.
	StateOpen State = "open"
	// StateWaiting means the last connection failed and a reconnect is
	// pending.
	StateWaiting State = "waiting"
	// StateClosed means the subscription ended, either by Unsubscribe or
	// because the retry policy gave up.
	StateClosed State = "closed"
)

// Policy controls reconnect behavior.
type Policy struct {
	// Delay before the first reconnect attempt.
	Delay time.Duration
	// Multiplier grows the delay per consecutive failure; values <= 1 keep
	// the delay fixed.
	Multiplier float64
	// MaxDelay caps the grown delay; 0 means no cap.
	MaxDelay time.Duration
	// MaxAttempts is the number of consecutive failed connections before
	// the subscription gives up; 0 retries forever.
	MaxAttempts int
}

// DefaultPolicy retries forever with a fixed two second delay.
func DefaultPolicy() Policy {
	return Policy{Delay: 2 * time.Second}
}

func (p Policy) delayFor(failures int) time.Duration {
	d := p.Delay
	if d <= 0 {
		d = 2 * time.Second
	}
	if p.Multiplier > 1 {
		for i := 1; i < failures; i++ {
			d = time.Duration(float64(d) * p.Multiplier)
			if p.MaxDelay > 0 && d >= p.MaxDelay {
				return p.MaxDelay
			}
		}
	}
	return d
}

// Option customizes a subscription.
type Option func(*Subscription)

// WithPolicy replaces the default reconnect policy.
func WithPolicy(p Policy) Option {
	return func(s *Subscription) { s.policy = p }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Subscription) { s.client = c }
}

// WithStatusFunc registers a best-effort callback for lifecycle
// transitions. It is invoked from the subscription's goroutine.
func WithStatusFunc(fn func(State)) Option {
	return func(s *Subscription) { s.onStatus = fn }
}

// Subscription is one durable logical subscription. At most one physical
// connection is live at a time; a reconnect replaces it wholesale.
type Subscription struct {
	url      string
	client   *http.Client
	policy   Policy
	onEvent  func(Event)
	onStatus func(State)

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

// Subscribe opens a durable subscription to productID's stream on the
// server at baseURL. onEvent is invoked once per received application
// event, in receipt order; the CONNECTED acknowledgement is surfaced
// through the status callback instead. Unsubscribe must not be called from
// inside onEvent.
func Subscribe(baseURL, productID string, onEvent func(Event), opts ...Option) *Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Subscription{
		url:     strings.TrimRight(baseURL, "/") + "/products/" + productID + "/stream",
		client:  http.DefaultClient,
		policy:  DefaultPolicy(),
		onEvent: onEvent,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	go s.run()
	return s
}

// Unsubscribe ends the subscription. It is idempotent; once it returns no
// further onEvent call will be made and any pending reconnect timer is
// cancelled. The active connection, if any, is torn down.
func (s *Subscription) Unsubscribe() {
	s.cancel()
	s.mu.Lock()
	already := s.closed
	s.closed = true
	s.mu.Unlock()
	if !already {
		s.status(StateClosed)
	}
}

// Done is closed when the subscription's goroutine exits, either after
// Unsubscribe or after the retry policy gives up.
func (s *Subscription) Done() <-chan struct{} { return s.done }

func (s *Subscription) status(st State) {
	if s.onStatus != nil {
		s.onStatus(st)
	}
}

func (s *Subscription) run() {
	defer close(s.done)
	failures := 0
	for {
		if s.ctx.Err() != nil {
			return
		}
		opened := s.connect()
		if s.ctx.Err() != nil {
			return
		}
		if opened {
			failures = 0
		} else {
			failures++
		}
		if s.policy.MaxAttempts > 0 && failures >= s.policy.MaxAttempts {
			s.status(StateClosed)
			return
		}
		s.status(StateWaiting)
		timer := time.NewTimer(s.policy.delayFor(failures))
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// connect performs one physical connection and reads it until it ends.
// It reports whether the server acknowledged the subscription.
func (s *Subscription) connect() bool {
	s.status(StateConnecting)
	req, err := http.NewRequestWithContext(s.ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	resp, err := s.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}
	return s.readEvents(bufio.NewReader(resp.Body))
}

// readEvents parses SSE frames until the connection ends. A frame whose
// data line is not valid JSON is skipped; the connection stays up.
func (s *Subscription) readEvents(r *bufio.Reader) bool {
	opened := false
	var kind string
	var data []byte
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return opened
		}
		line = strings.TrimSuffix(line, "\n")
		line = strings.TrimSuffix(line, "\r")
		switch {
		case line == "":
			if kind != "" || len(data) > 0 {
				if s.emit(kind, data) {
					opened = true
				}
			}
			kind, data = "", nil
		case strings.HasPrefix(line, ":"):
			// comment, e.g. keepalive
		case strings.HasPrefix(line, "event:"):
			kind = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			chunk := strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " ")
			if len(data) > 0 {
				data = append(data, '\n')
			}
			data = append(data, chunk...)
		default:
			// unknown field (id:, retry:, ...), ignored
		}
	}
}

// emit decodes one frame and dispatches it. It reports whether the frame
// was the CONNECTED acknowledgement.
func (s *Subscription) emit(kind string, data []byte) bool {
	var env struct {
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return false
	}
	if kind == KindConnected {
		s.status(StateOpen)
		return true
	}
	s.dispatch(Event{Kind: kind, Payload: env.Payload})
	return false
}

// dispatch serializes delivery with Unsubscribe: once the subscription is
// closed no callback runs, and Unsubscribe blocks until an in-flight
// callback returns.
func (s *Subscription) dispatch(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.onEvent(ev)
}
