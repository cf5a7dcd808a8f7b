package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/xtrntr/auction/internal/auth"
)

// NewRouter wires the handlers onto a chi router
func NewRouter(h *Handler, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestLogger(h.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Health)
	r.Get("/ws/auctions/{id}", h.Subscribe)

	// Public endpoints
	r.Post("/auth/login", h.Login)
	r.Route("/auctions", func(r chi.Router) {
		r.Get("/", h.ListAuctions)
		r.Get("/{id}", h.GetAuction)
		r.Get("/{id}/bids", h.ListBids)
		r.Get("/{id}/bidders", h.ListBidders)
		r.Post("/{id}/bidders", h.RegisterBidder)

		r.With(h.RequireRole(auth.RoleBidder)).Post("/{id}/bids", h.PlaceBid)
	})

	// Operator endpoints
	r.Route("/admin/auctions", func(r chi.Router) {
		r.Use(h.RequireRole(auth.RoleOperator))
		r.Post("/", h.CreateAuction)
		r.Put("/{id}", h.UpdateAuction)
		r.Delete("/{id}", h.DeleteAuction)
		r.Post("/{id}/publish", h.PublishAuction)
		r.Post("/{id}/close", h.CloseAuction)
	})

	return r
}
