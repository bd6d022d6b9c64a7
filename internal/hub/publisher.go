package hub

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sony/sonyflake"

	"github.com/dylanjitt/auctions/internal/model"
)

// Publisher is the write path of the fan-out. It assigns event identity
// (ids and timestamps) before the record store write, encodes each event
// exactly once, and pushes the resulting frame into the channel for the
// affected resource.
type Publisher struct {
	reg   *Registry
	flake *sonyflake.Sonyflake
}

// NewPublisher wires a publisher to the registry and the bid id source.
func NewPublisher(reg *Registry, flake *sonyflake.Sonyflake) *Publisher {
	return &Publisher{reg: reg, flake: flake}
}

// NewIDGenerator builds the sonyflake source used for bid ids. Ids are
// monotonic per process, which keeps bid ordering recoverable from ids
// alone.
func NewIDGenerator() (*sonyflake.Sonyflake, error) {
	start, err := time.Parse("2006-01-02", "2024-01-01")
	if err != nil {
		return nil, err
	}
	settings := sonyflake.Settings{
		StartTime: start,
		MachineID: func() (uint16, error) {
			return 1, nil
		},
	}
	return sonyflake.New(settings)
}

// NextBidID returns a fresh monotonic bid id.
func (p *Publisher) NextBidID() (string, error) {
	id, err := p.flake.NextID()
	if err != nil {
		return "", fmt.Errorf("next bid id: %w", err)
	}
	return strconv.FormatUint(id, 10), nil
}

// NextMessageID returns a fresh chat message id.
func (p *Publisher) NextMessageID() string {
	return uuid.NewString()
}

// Now returns the timestamp stamped onto events before persistence.
func (p *Publisher) Now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// Publish encodes the event once and fans it out to every sink currently
// subscribed to resourceID. Callers invoke it after the store write
// commits; a failure here is logged by the caller and dropped, since the
// stream is a freshness hint and the store remains the source of truth.
func (p *Publisher) Publish(resourceID string, kind model.EventKind, payload any) error {
	frame, err := EncodeFrame(kind, payload)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", kind, err)
	}
	p.reg.Channel(resourceID).Send(frame)
	p.reg.metrics.published.Add(1)
	return nil
}

// EncodeFrame renders one SSE frame: an event line naming the kind and a
// data line carrying the {"payload": ...} envelope.
func EncodeFrame(kind model.EventKind, payload any) ([]byte, error) {
	data, err := json.Marshal(model.Envelope{Payload: payload})
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, len(kind)+len(data)+16)
	buf = append(buf, "event: "...)
	buf = append(buf, string(kind)...)
	buf = append(buf, "\ndata: "...)
	buf = append(buf, data...)
	buf = append(buf, "\n\n"...)
	return buf, nil
}
