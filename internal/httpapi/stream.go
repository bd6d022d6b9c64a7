package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dylanjitt/auctions/internal/hub"
	"github.com/dylanjitt/auctions/internal/model"
	"github.com/dylanjitt/auctions/internal/obs"
)

// streamHandler is the long-lived subscription endpoint. It acknowledges
// the subscription with a CONNECTED frame, registers a sink with the
// product's channel, and from then on only relays frames pushed by the hub
// until the client disconnects. Removing the sink on return is the only
// removal path besides pruning; skipping it would leak the sink for the
// channel's lifetime.
func (a *App) streamHandler(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteJSONError(w, http.StatusInternalServerError, "streaming_unsupported", "")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ack, err := hub.EncodeFrame(model.KindConnected, model.ConnectedPayload{ProductID: productID})
	if err != nil {
		obs.Logger.Error("stream_ack_error", "product_id", productID, "error", err)
		return
	}
	if _, err := w.Write(ack); err != nil {
		return
	}
	flusher.Flush()

	ch := a.Hub.Channel(productID)
	sink := hub.NewSink(a.Cfg.SinkBuffer)
	ch.AddSubscriber(sink)
	defer ch.RemoveSubscriber(sink)

	reqID := RequestIDFromContext(r.Context())
	obs.Logger.Info("stream_subscribed", "product_id", productID, "request_id", reqID)
	defer obs.Logger.Info("stream_closed", "product_id", productID, "request_id", reqID)

	keepAlive := time.NewTicker(a.Cfg.KeepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, open := <-sink.Frames():
			if !open {
				// pruned by the channel
				return
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
