// Package model defines domain types used by the service.
package model

// EventKind identifies the type of a streamed event.
type EventKind string

const (
	// KindConnected is the acknowledgement frame sent once per stream
	// subscription, before any application event.
	KindConnected EventKind = "CONNECTED"
	// KindNewBid announces a bid accepted for a product.
	KindNewBid EventKind = "NEW_BID"
	// KindNewChatMessage announces a chat message posted in a product room.
	KindNewChatMessage EventKind = "NEW_CHAT_MESSAGE"
)

// Envelope is the wire shape of an SSE data line: {"payload": ...}.
type Envelope struct {
	Payload any `json:"payload"`
}

// ConnectedPayload is the payload of a CONNECTED acknowledgement.
type ConnectedPayload struct {
	ProductID string `json:"productId"`
}

// Product represents one auction item. BasePrice tracks the current highest
// accepted bid once the auction is running.
type Product struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	ImageURL    string  `json:"imageUrl,omitempty"`
	BasePrice   float64 `json:"basePrice"`
	StartTime   string  `json:"startTime,omitempty"`
	DurationSec int64   `json:"durationSec,omitempty"`
}

// ProductPatch carries a partial product update; nil fields are untouched.
type ProductPatch struct {
	Title       *string  `json:"title,omitempty"`
	Description *string  `json:"description,omitempty"`
	ImageURL    *string  `json:"imageUrl,omitempty"`
	BasePrice   *float64 `json:"basePrice,omitempty"`
	StartTime   *string  `json:"startTime,omitempty"`
	DurationSec *int64   `json:"durationSec,omitempty"`
}

// Bid represents an accepted bid. ID and Timestamp are assigned by the
// server before the bid is persisted or fanned out.
type Bid struct {
	ID        string  `json:"id"`
	ProductID string  `json:"productId"`
	UserID    string  `json:"userId"`
	Amount    float64 `json:"amount"`
	Timestamp string  `json:"timestamp"`
}

// ChatMessage represents one message in a product's auction room.
type ChatMessage struct {
	ID        string `json:"id"`
	ProductID string `json:"productId"`
	Username  string `json:"username"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// User represents an account known to the record store.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"role,omitempty"`
}
