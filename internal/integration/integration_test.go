package integration

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/dylanjitt/auctions/internal/config"
	"github.com/dylanjitt/auctions/internal/httpapi"
	"github.com/dylanjitt/auctions/internal/hub"
	"github.com/dylanjitt/auctions/internal/model"
	"github.com/dylanjitt/auctions/internal/obs"
	"github.com/dylanjitt/auctions/internal/store"
	"github.com/dylanjitt/auctions/pkg/stream"
)

type harness struct {
	srv *httptest.Server
	reg *hub.Registry
	st  *store.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	obs.InitLogger()
	cfg := config.Load()
	cfg.DBPath = filepath.Join(t.TempDir(), "db.json")
	cfg.KeepAliveInterval = time.Minute
	st, err := store.Open(cfg.DBPath, cfg.FlushInterval)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	flake, err := hub.NewIDGenerator()
	if err != nil {
		t.Fatalf("id generator: %v", err)
	}
	reg := hub.NewRegistry()
	pub := hub.NewPublisher(reg, flake)
	app := httpapi.NewApp(cfg, st, reg, pub)
	srv := httptest.NewServer(httpapi.NewRouter(app))
	t.Cleanup(srv.Close)
	return &harness{srv: srv, reg: reg, st: st}
}

func (h *harness) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(h.srv.URL+path, "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func (h *harness) createProduct(t *testing.T, id string, price float64) {
	t.Helper()
	p := model.Product{ID: id, Title: "Item " + id, BasePrice: price}
	raw, _ := json.Marshal(p)
	resp := h.post(t, "/products", string(raw))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create product: expected 201, got %d", resp.StatusCode)
	}
}

func (h *harness) placeBid(t *testing.T, productID string, amount float64) {
	t.Helper()
	raw, _ := json.Marshal(map[string]any{"productId": productID, "userId": "u1", "amount": amount})
	resp := h.post(t, "/bids", string(raw))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("place bid %v: expected 201, got %d", amount, resp.StatusCode)
	}
}

func (h *harness) waitSubscribed(t *testing.T, productID string, n int) {
	t.Helper()
	ch := h.reg.Channel(productID)
	deadline := time.Now().Add(2 * time.Second)
	for ch.SubscriberCount() < n && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if ch.SubscriberCount() < n {
		t.Fatalf("expected %d subscribers on %s", n, productID)
	}
}

func (h *harness) waitUnsubscribed(t *testing.T, productID string) {
	t.Helper()
	ch := h.reg.Channel(productID)
	deadline := time.Now().Add(2 * time.Second)
	for ch.SubscriberCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if ch.SubscriberCount() != 0 {
		t.Fatalf("subscriber still attached to %s", productID)
	}
}

func bidAmount(t *testing.T, ev stream.Event) float64 {
	t.Helper()
	var p struct {
		Amount float64 `json:"amount"`
	}
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	return p.Amount
}

// TestBidFanOutEndToEnd walks the full path: subscribe, bid, observe the
// event; disconnect, bid again, observe nothing; resubscribe, bid a third
// time and observe only that event (no backlog replay).
func TestBidFanOutEndToEnd(t *testing.T) {
	h := newHarness(t)
	h.createProduct(t, "p1", 50)

	events := make(chan stream.Event, 16)
	sub := stream.Subscribe(h.srv.URL, "p1", func(ev stream.Event) { events <- ev },
		stream.WithPolicy(stream.Policy{Delay: 20 * time.Millisecond}))
	h.waitSubscribed(t, "p1", 1)

	h.placeBid(t, "p1", 100)
	select {
	case ev := <-events:
		if ev.Kind != stream.KindNewBid || bidAmount(t, ev) != 100 {
			t.Fatalf("unexpected event: %s %s", ev.Kind, ev.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the first bid event")
	}

	sub.Unsubscribe()
	h.waitUnsubscribed(t, "p1")

	h.placeBid(t, "p1", 150)
	select {
	case ev := <-events:
		t.Fatalf("event delivered after unsubscribe: %s %s", ev.Kind, ev.Payload)
	case <-time.After(150 * time.Millisecond):
	}

	sub2 := stream.Subscribe(h.srv.URL, "p1", func(ev stream.Event) { events <- ev },
		stream.WithPolicy(stream.Policy{Delay: 20 * time.Millisecond}))
	defer sub2.Unsubscribe()
	h.waitSubscribed(t, "p1", 1)

	h.placeBid(t, "p1", 200)
	select {
	case ev := <-events:
		// the missed 150 bid is never replayed
		if got := bidAmount(t, ev); got != 200 {
			t.Fatalf("expected amount 200, got %v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the third bid event")
	}
	select {
	case ev := <-events:
		t.Fatalf("unexpected extra event: %s %s", ev.Kind, ev.Payload)
	case <-time.After(100 * time.Millisecond):
	}
}

// TestChatFanOutToMultipleSubscribers checks that every attached client of
// the same product receives each message exactly once.
func TestChatFanOutToMultipleSubscribers(t *testing.T) {
	h := newHarness(t)
	h.createProduct(t, "p1", 10)

	chans := make([]chan stream.Event, 3)
	for i := range chans {
		c := make(chan stream.Event, 16)
		chans[i] = c
		sub := stream.Subscribe(h.srv.URL, "p1", func(ev stream.Event) { c <- ev },
			stream.WithPolicy(stream.Policy{Delay: 20 * time.Millisecond}))
		defer sub.Unsubscribe()
	}
	h.waitSubscribed(t, "p1", 3)

	resp := h.post(t, "/chatMessages", `{"productId":"p1","username":"ana","content":"going once"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("chat: expected 201, got %d", resp.StatusCode)
	}

	for i, c := range chans {
		select {
		case ev := <-c:
			if ev.Kind != stream.KindNewChatMessage {
				t.Fatalf("subscriber %d: unexpected kind %q", i, ev.Kind)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("subscriber %d: no delivery", i)
		}
		select {
		case <-c:
			t.Fatalf("subscriber %d: duplicate delivery", i)
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// TestClientReconnects drops the subscriber's connection server-side and
// checks the client comes back on its own.
func TestClientReconnects(t *testing.T) {
	h := newHarness(t)
	h.createProduct(t, "p1", 10)

	events := make(chan stream.Event, 16)
	sub := stream.Subscribe(h.srv.URL, "p1", func(ev stream.Event) { events <- ev },
		stream.WithPolicy(stream.Policy{Delay: 20 * time.Millisecond}))
	defer sub.Unsubscribe()
	h.waitSubscribed(t, "p1", 1)

	h.srv.CloseClientConnections()
	h.waitUnsubscribed(t, "p1")  // the dropped sink detaches first
	h.waitSubscribed(t, "p1", 1) // then the client comes back on its own

	h.placeBid(t, "p1", 25)
	select {
	case ev := <-events:
		if bidAmount(t, ev) != 25 {
			t.Fatalf("unexpected amount: %s", ev.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event after reconnect")
	}
}
