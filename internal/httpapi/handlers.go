package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dylanjitt/auctions/internal/config"
	"github.com/dylanjitt/auctions/internal/hub"
	"github.com/dylanjitt/auctions/internal/httpapi/openapi"
	"github.com/dylanjitt/auctions/internal/model"
	"github.com/dylanjitt/auctions/internal/obs"
	"github.com/dylanjitt/auctions/internal/store"
)

// App carries the collaborators every handler needs.
type App struct {
	Cfg     config.Config
	Store   *store.Store
	Hub     *hub.Registry
	Pub     *hub.Publisher
	started time.Time
}

// NewApp constructs the HTTP application.
func NewApp(cfg config.Config, st *store.Store, reg *hub.Registry, pub *hub.Publisher) *App {
	return &App{Cfg: cfg, Store: st, Hub: reg, Pub: pub, started: time.Now()}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	ct := r.Header.Get("Content-Type")
	if !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		WriteJSONError(w, http.StatusUnsupportedMediaType, "unsupported_media_type", "expected application/json")
		return false
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		WriteJSONError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return false
	}
	return true
}

type bidRequest struct {
	ProductID string  `json:"productId"`
	UserID    string  `json:"userId"`
	Amount    float64 `json:"amount"`
	Date      string  `json:"date,omitempty"`
}

func (a *App) postBidHandler(w http.ResponseWriter, r *http.Request) {
	var req bidRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ProductID == "" {
		WriteJSONError(w, http.StatusBadRequest, "validation_error", "productId is required")
		return
	}
	if req.UserID == "" {
		WriteJSONError(w, http.StatusBadRequest, "validation_error", "userId is required")
		return
	}
	if req.Amount <= 0 {
		WriteJSONError(w, http.StatusBadRequest, "validation_error", "amount must be > 0")
		return
	}
	product, ok := a.Store.GetProduct(req.ProductID)
	if !ok {
		WriteJSONError(w, http.StatusNotFound, "not_found", "unknown product")
		return
	}
	if req.Amount <= product.BasePrice {
		WriteJSONError(w, http.StatusBadRequest, "bid_too_low", "amount must exceed the current price")
		return
	}

	id, err := a.Pub.NextBidID()
	if err != nil {
		WriteJSONError(w, http.StatusInternalServerError, "internal_error", "")
		obs.Logger.Error("bid_id_error", "error", err)
		return
	}
	bid := model.Bid{
		ID:        id,
		ProductID: req.ProductID,
		UserID:    req.UserID,
		Amount:    req.Amount,
		Timestamp: a.Pub.Now(),
	}
	if err := a.Store.CreateBid(bid); err != nil {
		WriteJSONError(w, http.StatusInternalServerError, "internal_error", "")
		obs.Logger.Error("bid_persist_error", "bid_id", bid.ID, "error", err)
		return
	}
	// Single authoritative write path: the new price is persisted here, the
	// stream only tells connected clients to refresh.
	if _, err := a.Store.UpdateProduct(bid.ProductID, model.ProductPatch{BasePrice: &bid.Amount}); err != nil {
		obs.Logger.Warn("price_update_error", "product_id", bid.ProductID, "error", err)
	}
	if err := a.Pub.Publish(bid.ProductID, model.KindNewBid, bid); err != nil {
		// The bid is durable; connected clients recover on their next full
		// fetch.
		obs.Logger.Error("publish_error", "kind", model.KindNewBid, "product_id", bid.ProductID, "error", err)
	}
	writeJSON(w, http.StatusCreated, bid)
	obs.Logger.Info("bid_accepted",
		"request_id", RequestIDFromContext(r.Context()),
		"bid_id", bid.ID,
		"product_id", bid.ProductID,
		"user_id", bid.UserID,
		"amount", bid.Amount,
	)
}

func (a *App) listBidsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var bids []model.Bid
	switch {
	case q.Get("productId") != "":
		bids = a.Store.BidsByProduct(q.Get("productId"))
	case q.Get("userId") != "":
		bids = a.Store.BidsByUser(q.Get("userId"))
	default:
		bids = a.Store.ListBids()
	}
	writeJSON(w, http.StatusOK, bids)
}

type chatMessageRequest struct {
	ProductID string `json:"productId"`
	Username  string `json:"username"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
}

func (a *App) postChatMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req chatMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ProductID == "" {
		WriteJSONError(w, http.StatusBadRequest, "validation_error", "productId is required")
		return
	}
	if req.Username == "" {
		WriteJSONError(w, http.StatusBadRequest, "validation_error", "username is required")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		WriteJSONError(w, http.StatusBadRequest, "validation_error", "content is required")
		return
	}
	ts := req.Timestamp
	if ts == "" {
		ts = a.Pub.Now()
	}
	msg := model.ChatMessage{
		ID:        a.Pub.NextMessageID(),
		ProductID: req.ProductID,
		Username:  req.Username,
		Content:   req.Content,
		Timestamp: ts,
	}
	if err := a.Store.CreateChatMessage(msg); err != nil {
		WriteJSONError(w, http.StatusInternalServerError, "internal_error", "")
		obs.Logger.Error("chat_persist_error", "message_id", msg.ID, "error", err)
		return
	}
	if err := a.Pub.Publish(msg.ProductID, model.KindNewChatMessage, msg); err != nil {
		obs.Logger.Error("publish_error", "kind", model.KindNewChatMessage, "product_id", msg.ProductID, "error", err)
	}
	writeJSON(w, http.StatusCreated, msg)
	obs.Logger.Info("chat_message_accepted",
		"request_id", RequestIDFromContext(r.Context()),
		"message_id", msg.ID,
		"product_id", msg.ProductID,
		"username", msg.Username,
	)
}

func (a *App) listChatMessagesHandler(w http.ResponseWriter, r *http.Request) {
	productID := r.URL.Query().Get("productId")
	if productID == "" {
		WriteJSONError(w, http.StatusBadRequest, "validation_error", "productId query parameter is required")
		return
	}
	writeJSON(w, http.StatusOK, a.Store.MessagesByProduct(productID))
}

func (a *App) listProductsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Store.ListProducts())
}

func (a *App) createProductHandler(w http.ResponseWriter, r *http.Request) {
	var p model.Product
	if !decodeJSON(w, r, &p) {
		return
	}
	if p.ID == "" {
		p.ID = a.Pub.NextMessageID()
	}
	if p.Title == "" {
		WriteJSONError(w, http.StatusBadRequest, "validation_error", "title is required")
		return
	}
	if p.BasePrice < 0 {
		WriteJSONError(w, http.StatusBadRequest, "validation_error", "basePrice must be >= 0")
		return
	}
	if err := a.Store.CreateProduct(p); err != nil {
		if errors.Is(err, store.ErrExists) {
			WriteJSONError(w, http.StatusConflict, "conflict", "product id already exists")
			return
		}
		WriteJSONError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (a *App) getProductHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "productID")
	p, ok := a.Store.GetProduct(id)
	if !ok {
		WriteJSONError(w, http.StatusNotFound, "not_found", "")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *App) patchProductHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "productID")
	var patch model.ProductPatch
	if !decodeJSON(w, r, &patch) {
		return
	}
	p, err := a.Store.UpdateProduct(id, patch)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteJSONError(w, http.StatusNotFound, "not_found", "")
			return
		}
		WriteJSONError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *App) deleteProductHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "productID")
	if err := a.Store.DeleteProduct(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteJSONError(w, http.StatusNotFound, "not_found", "")
			return
		}
		WriteJSONError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) listUsersHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Store.ListUsers())
}

func (a *App) createUserHandler(w http.ResponseWriter, r *http.Request) {
	var u model.User
	if !decodeJSON(w, r, &u) {
		return
	}
	if u.Username == "" {
		WriteJSONError(w, http.StatusBadRequest, "validation_error", "username is required")
		return
	}
	if u.ID == "" {
		u.ID = a.Pub.NextMessageID()
	}
	if err := a.Store.CreateUser(u); err != nil {
		if errors.Is(err, store.ErrExists) {
			WriteJSONError(w, http.StatusConflict, "conflict", "user id already exists")
			return
		}
		WriteJSONError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (a *App) getUserHandler(w http.ResponseWriter, r *http.Request) {
	u, ok := a.Store.GetUser(chi.URLParam(r, "userID"))
	if !ok {
		WriteJSONError(w, http.StatusNotFound, "not_found", "")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (a *App) patchUserHandler(w http.ResponseWriter, r *http.Request) {
	var u model.User
	if !decodeJSON(w, r, &u) {
		return
	}
	updated, err := a.Store.UpdateUser(chi.URLParam(r, "userID"), u)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteJSONError(w, http.StatusNotFound, "not_found", "")
			return
		}
		WriteJSONError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (a *App) deleteUserHandler(w http.ResponseWriter, r *http.Request) {
	if err := a.Store.DeleteUser(chi.URLParam(r, "userID")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteJSONError(w, http.StatusNotFound, "not_found", "")
			return
		}
		WriteJSONError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *App) metricsHandler(w http.ResponseWriter, r *http.Request) {
	m := map[string]any{
		"hub":        a.Hub.Metrics(),
		"store":      a.Store.Counts(),
		"uptime_sec": time.Since(a.started).Seconds(),
	}
	writeJSON(w, http.StatusOK, m)
}

func (a *App) openapiHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(openapi.YAML)
}

func (a *App) docsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	html := `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
    <script>
      window.ui = SwaggerUIBundle({
        url: '/openapi.yaml',
        dom_id: '#swagger-ui'
      });
    </script>
  </body>
</html>`
	_, _ = w.Write([]byte(html))
}
