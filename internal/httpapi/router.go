package httpapi

import (
	"expvar"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter registers HTTP routes and returns the handler with middleware.
func NewRouter(app *App) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(WithRequestID)
	r.Use(WithLogging)
	r.Use(middleware.Recoverer)

	r.Route("/products", func(r chi.Router) {
		r.Get("/", app.listProductsHandler)
		r.Post("/", app.createProductHandler)
		r.Route("/{productID}", func(r chi.Router) {
			r.Get("/", app.getProductHandler)
			r.Patch("/", app.patchProductHandler)
			r.Delete("/", app.deleteProductHandler)
			r.Get("/stream", app.streamHandler)
		})
	})

	r.Get("/bids", app.listBidsHandler)
	r.Post("/bids", app.postBidHandler)
	r.Get("/chatMessages", app.listChatMessagesHandler)
	r.Post("/chatMessages", app.postChatMessageHandler)

	r.Route("/users", func(r chi.Router) {
		r.Get("/", app.listUsersHandler)
		r.Post("/", app.createUserHandler)
		r.Get("/{userID}", app.getUserHandler)
		r.Patch("/{userID}", app.patchUserHandler)
		r.Delete("/{userID}", app.deleteUserHandler)
	})

	r.Get("/healthz", app.healthHandler)
	r.Get("/debug/metrics", app.metricsHandler)
	r.Handle("/debug/vars", expvar.Handler())
	r.Get("/openapi.yaml", app.openapiHandler)
	r.Get("/docs", app.docsHandler)
	return r
}
